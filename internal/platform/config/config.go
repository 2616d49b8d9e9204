// Package config builds runtime configuration from environment variables so
// main stays lean.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	pstrings "redpocket/pkg/platform/strings"
)

// Server captures process-level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string

	// DatabaseURL selects the postgres stores when set; empty means the
	// in-memory stores (development, tests).
	DatabaseURL string

	// RedisURL enables the redis verification-code store when set.
	RedisURL string

	// NATSURL enables the JetStream settlement emitter when set.
	NATSURL string

	// KafkaBrokers enables the audit outbox worker when non-empty.
	// Requires DatabaseURL (the outbox lives in postgres).
	KafkaBrokers []string

	Withdrawal WithdrawalConfig
	Merge      MergeConfig
	Wallet     WalletConfig
}

// WalletConfig parameterizes counterfactual wallet address derivation.
type WalletConfig struct {
	// FactoryAddress is the CREATE2 factory contract.
	FactoryAddress string
	// InitCodeHash is the keccak256 of the wallet proxy init code, hex.
	InitCodeHash string
}

// WithdrawalConfig tunes the asynchronous withdrawal processor.
type WithdrawalConfig struct {
	// Workers is the number of concurrent processing goroutines.
	Workers int
	// QueueSize bounds the processing queue.
	QueueSize int
	// ProcessingTimeout is how long a request may sit in Processing before
	// the reconciliation sweep fails and refunds it.
	ProcessingTimeout time.Duration
	// SweepInterval is how often the reconciliation sweep runs.
	SweepInterval time.Duration
}

// MergeConfig tunes account merge verification.
type MergeConfig struct {
	// CodeTTL is how long a verification code stays valid.
	CodeTTL time.Duration
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	return Server{
		Addr:          envOr("REDPOCKET_ADDR", ":8080"),
		JWTSigningKey: envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		NATSURL:       os.Getenv("NATS_URL"),
		KafkaBrokers:  splitList(os.Getenv("KAFKA_BROKERS")),
		Withdrawal: WithdrawalConfig{
			Workers:           envIntOr("WITHDRAWAL_WORKERS", 4),
			QueueSize:         envIntOr("WITHDRAWAL_QUEUE_SIZE", 256),
			ProcessingTimeout: envDurationOr("WITHDRAWAL_PROCESSING_TIMEOUT", 2*time.Minute),
			SweepInterval:     envDurationOr("WITHDRAWAL_SWEEP_INTERVAL", 30*time.Second),
		},
		Merge: MergeConfig{
			CodeTTL: envDurationOr("MERGE_CODE_TTL", 15*time.Minute),
		},
		Wallet: WalletConfig{
			FactoryAddress: envOr("WALLET_FACTORY_ADDRESS", "0x4e59b44847b379578588920cA78FbF26c0B4956C"),
			InitCodeHash:   envOr("WALLET_INIT_CODE_HASH", "21c35dbe1b344a2488cf3321d6ce542f8e9f305544ff09e4993a62319a497c1f"),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return pstrings.DedupeAndTrim(strings.Split(s, ","))
}

// RedisConfig tunes the redis client connection pool.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisFromEnv builds the redis client config.
func RedisFromEnv() RedisConfig {
	return RedisConfig{
		URL:          os.Getenv("REDIS_URL"),
		PoolSize:     envIntOr("REDIS_POOL_SIZE", 10),
		MinIdleConns: envIntOr("REDIS_MIN_IDLE_CONNS", 2),
		DialTimeout:  envDurationOr("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  envDurationOr("REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: envDurationOr("REDIS_WRITE_TIMEOUT", 3*time.Second),
	}
}
