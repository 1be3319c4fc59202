package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Outcome is a finished envelope response, stored so a retried request with
// the same idempotency key replays the original answer instead of running
// the operation again.
type Outcome struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// ErrInFlight means another request holding the same idempotency key has not
// finished yet.
var ErrInFlight = errors.New("request with this idempotency key is in flight")

// ReservationStore claims idempotency keys and stores their outcomes.
//
// Reserve returns (nil, nil) when the key was claimed and the caller should
// run the operation, (outcome, nil) when a previous request already
// finished, and ErrInFlight when the key is claimed but unfinished.
type ReservationStore interface {
	Reserve(ctx context.Context, key string) (*Outcome, error)
	Complete(ctx context.Context, key string, outcome Outcome) error
	// Abandon releases an unfinished claim so the client may retry. Used
	// when the operation failed transiently and produced no cacheable
	// outcome.
	Abandon(ctx context.Context, key string) error
}

// reservationTTL bounds how long outcomes are replayed. The services behind
// the envelope are idempotent on their own ledger keys, so expiry here only
// widens the window where a replay re-executes a no-op.
const reservationTTL = 24 * time.Hour

const pendingMarker = "pending"

// RedisReservations implements ReservationStore on Redis so replays work
// across instances.
type RedisReservations struct {
	client *redis.Client
}

func NewRedisReservations(client *redis.Client) *RedisReservations {
	return &RedisReservations{client: client}
}

func (r *RedisReservations) Reserve(ctx context.Context, key string) (*Outcome, error) {
	claimed, err := r.client.SetNX(ctx, reservationKey(key), pendingMarker, reservationTTL).Result()
	if err != nil {
		return nil, err
	}
	if claimed {
		return nil, nil
	}

	raw, err := r.client.Get(ctx, reservationKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Claim expired between SetNX and Get; treat as in flight and
			// let the client retry.
			return nil, ErrInFlight
		}
		return nil, err
	}
	if raw == pendingMarker {
		return nil, ErrInFlight
	}
	var outcome Outcome
	if err := json.Unmarshal([]byte(raw), &outcome); err != nil {
		return nil, err
	}
	return &outcome, nil
}

func (r *RedisReservations) Complete(ctx context.Context, key string, outcome Outcome) error {
	raw, err := json.Marshal(outcome)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, reservationKey(key), raw, reservationTTL).Err()
}

func (r *RedisReservations) Abandon(ctx context.Context, key string) error {
	return r.client.Del(ctx, reservationKey(key)).Err()
}

func reservationKey(key string) string {
	return "brickledger:idem:" + key
}

// MemoryReservations implements ReservationStore in process memory for
// single-instance deployments and tests.
type MemoryReservations struct {
	mu       sync.Mutex
	outcomes map[string]*Outcome // nil value marks an in-flight claim
}

func NewMemoryReservations() *MemoryReservations {
	return &MemoryReservations{outcomes: make(map[string]*Outcome)}
}

func (m *MemoryReservations) Reserve(_ context.Context, key string) (*Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	outcome, claimed := m.outcomes[key]
	if !claimed {
		m.outcomes[key] = nil
		return nil, nil
	}
	if outcome == nil {
		return nil, ErrInFlight
	}
	return outcome, nil
}

func (m *MemoryReservations) Complete(_ context.Context, key string, outcome Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[key] = &outcome
	return nil
}

func (m *MemoryReservations) Abandon(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.outcomes, key)
	return nil
}
