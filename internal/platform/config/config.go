package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process-level configuration for the ledger core.
type Server struct {
	Addr          string
	JWTSigningKey string

	PostgresURL string
	Redis       RedisConfig
	Kafka       KafkaConfig
	Ledger      LedgerConfig

	// EscrowSweepInterval controls how often the expiry sweeper scans OPEN
	// escrows. The sweep also fires lazily on access, so a long interval
	// only delays refunds, never correctness.
	EscrowSweepInterval time.Duration
}

// RedisConfig holds connection settings for the idempotency reservation store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig holds settings for the audit mirror stream.
type KafkaConfig struct {
	Brokers     []string
	MirrorTopic string
}

// LedgerConfig selects the ledger network endpoint. The core never decides
// testnet vs mainnet; the deployment does.
type LedgerConfig struct {
	Endpoint        string
	OperatorAccount string
	RequestTimeout  time.Duration
	MaxRetries      int
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("BRICKLEDGER_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Development default; deployments must override.
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	return Server{
		Addr:          addr,
		JWTSigningKey: jwtSigningKey,
		PostgresURL:   os.Getenv("BRICKLEDGER_POSTGRES_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("BRICKLEDGER_REDIS_URL"),
			PoolSize:     envInt("BRICKLEDGER_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("BRICKLEDGER_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("BRICKLEDGER_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("BRICKLEDGER_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("BRICKLEDGER_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:     splitNonEmpty(os.Getenv("BRICKLEDGER_KAFKA_BROKERS")),
			MirrorTopic: envString("BRICKLEDGER_AUDIT_MIRROR_TOPIC", "brickledger.audit.events"),
		},
		Ledger: LedgerConfig{
			Endpoint:        os.Getenv("BRICKLEDGER_LEDGER_ENDPOINT"),
			OperatorAccount: os.Getenv("BRICKLEDGER_LEDGER_OPERATOR"),
			RequestTimeout:  envDuration("BRICKLEDGER_LEDGER_TIMEOUT", 15*time.Second),
			MaxRetries:      envInt("BRICKLEDGER_LEDGER_MAX_RETRIES", 4),
		},
		EscrowSweepInterval: envDuration("BRICKLEDGER_ESCROW_SWEEP_INTERVAL", time.Minute),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
