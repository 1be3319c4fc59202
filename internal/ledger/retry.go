package ledger

import (
	"context"
	"log/slog"
	"time"
)

// RetryPolicy bounds how the gateway retries transient failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the network client's documented limits.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 4,
	BaseDelay:   250 * time.Millisecond,
	MaxDelay:    4 * time.Second,
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay << attempt
	if d > p.MaxDelay || d <= 0 {
		return p.MaxDelay
	}
	return d
}

// RetryingGateway decorates a Gateway with the single retry policy every
// component shares. Transient failures are retried with exponential backoff
// using the same idempotency key; an ambiguous failure (timeout in flight)
// is reconciled by receipt lookup before any resubmission, so an operation
// that actually committed is never executed twice.
//
// Rejections pass through untouched: the network's word is final.
type RetryingGateway struct {
	inner  Gateway
	policy RetryPolicy
	logger *slog.Logger

	// sleep is swappable for tests.
	sleep func(context.Context, time.Duration) error
}

var _ Gateway = (*RetryingGateway)(nil)

func NewRetrying(inner Gateway, policy RetryPolicy, logger *slog.Logger) *RetryingGateway {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &RetryingGateway{
		inner:  inner,
		policy: policy,
		logger: logger,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// execute runs one logical operation under the retry policy.
func (g *RetryingGateway) execute(ctx context.Context, op string, key IdempotencyKey, call func(context.Context) (*Receipt, error)) (*Receipt, error) {
	var lastErr error
	for attempt := 0; attempt < g.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := g.sleep(ctx, g.policy.delay(attempt-1)); err != nil {
				return nil, Unavailable(err)
			}
		}

		receipt, err := call(ctx)
		if err == nil {
			return receipt, nil
		}
		if !IsTransient(err) {
			// LedgerRejected or another terminal failure.
			return nil, err
		}
		lastErr = err

		if IsAmbiguous(err) {
			// The operation may have committed. Reconcile before any
			// resubmission with the same key.
			if r, lookupErr := g.inner.LookupReceipt(ctx, key); lookupErr == nil && r != nil {
				return r, nil
			}
		}

		if g.logger != nil {
			g.logger.WarnContext(ctx, "ledger call failed, retrying",
				"operation", op,
				"attempt", attempt+1,
				"max_attempts", g.policy.MaxAttempts,
				"idempotency_key", key.String(),
				"error", err,
			)
		}
	}
	return nil, Unavailable(lastErr)
}

func (g *RetryingGateway) CreateToken(ctx context.Context, req CreateTokenRequest) (*Receipt, error) {
	return g.execute(ctx, "create_token", req.IdempotencyKey, func(ctx context.Context) (*Receipt, error) {
		return g.inner.CreateToken(ctx, req)
	})
}

func (g *RetryingGateway) MintTokens(ctx context.Context, req MintRequest) (*Receipt, error) {
	return g.execute(ctx, "mint_tokens", req.IdempotencyKey, func(ctx context.Context) (*Receipt, error) {
		return g.inner.MintTokens(ctx, req)
	})
}

func (g *RetryingGateway) BurnTokens(ctx context.Context, req BurnRequest) (*Receipt, error) {
	return g.execute(ctx, "burn_tokens", req.IdempotencyKey, func(ctx context.Context) (*Receipt, error) {
		return g.inner.BurnTokens(ctx, req)
	})
}

func (g *RetryingGateway) TransferTokens(ctx context.Context, req TransferTokensRequest) (*Receipt, error) {
	return g.execute(ctx, "transfer_tokens", req.IdempotencyKey, func(ctx context.Context) (*Receipt, error) {
		return g.inner.TransferTokens(ctx, req)
	})
}

func (g *RetryingGateway) UpdateTokenKeys(ctx context.Context, req UpdateTokenKeysRequest) (*Receipt, error) {
	return g.execute(ctx, "update_token_keys", req.IdempotencyKey, func(ctx context.Context) (*Receipt, error) {
		return g.inner.UpdateTokenKeys(ctx, req)
	})
}

func (g *RetryingGateway) FreezeToken(ctx context.Context, req FreezeTokenRequest) (*Receipt, error) {
	return g.execute(ctx, "freeze_token", req.IdempotencyKey, func(ctx context.Context) (*Receipt, error) {
		return g.inner.FreezeToken(ctx, req)
	})
}

func (g *RetryingGateway) FreezeAccount(ctx context.Context, req FreezeAccountRequest) (*Receipt, error) {
	return g.execute(ctx, "freeze_account", req.IdempotencyKey, func(ctx context.Context) (*Receipt, error) {
		return g.inner.FreezeAccount(ctx, req)
	})
}

func (g *RetryingGateway) CreateTopic(ctx context.Context, req CreateTopicRequest) (*Receipt, error) {
	return g.execute(ctx, "create_topic", req.IdempotencyKey, func(ctx context.Context) (*Receipt, error) {
		return g.inner.CreateTopic(ctx, req)
	})
}

func (g *RetryingGateway) SubmitTopicMessage(ctx context.Context, req TopicMessageRequest) (*Receipt, error) {
	return g.execute(ctx, "submit_topic_message", req.IdempotencyKey, func(ctx context.Context) (*Receipt, error) {
		return g.inner.SubmitTopicMessage(ctx, req)
	})
}

func (g *RetryingGateway) TransferValue(ctx context.Context, req TransferValueRequest) (*Receipt, error) {
	return g.execute(ctx, "transfer_value", req.IdempotencyKey, func(ctx context.Context) (*Receipt, error) {
		return g.inner.TransferValue(ctx, req)
	})
}

func (g *RetryingGateway) LookupReceipt(ctx context.Context, key IdempotencyKey) (*Receipt, error) {
	return g.inner.LookupReceipt(ctx, key)
}
