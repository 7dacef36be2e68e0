// Package config builds runtime configuration from the environment so main
// stays lean.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	strutil "debtgate/pkg/platform/strings"
)

// Server captures process-level configuration.
type Server struct {
	Addr          string
	DatabaseURL   string
	Redis         RedisConfig
	KafkaBrokers  []string
	PortalBaseURL string

	// JWTSigningKey signs verification grants and session bearer tokens.
	// There is no development fallback: a guessable key would let anyone
	// mint grants and sessions.
	JWTSigningKey string

	// InviteEncryptionKey is the 32-byte key (base64, raw URL encoding) for
	// the invitation payload encryptor. Stands in for the KMS data key.
	InviteEncryptionKey string
}

// RedisConfig captures connection settings for the Redis client.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Server config from environment variables. Missing signing
// or encryption material is a startup-fatal condition, never a silent default.
func FromEnv() (Server, error) {
	addr := os.Getenv("DEBTGATE_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	baseURL := os.Getenv("PORTAL_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	signingKey := os.Getenv("JWT_SIGNING_KEY")
	if signingKey == "" {
		return Server{}, fmt.Errorf("JWT_SIGNING_KEY is required")
	}

	encryptionKey := os.Getenv("INVITE_ENCRYPTION_KEY")
	if encryptionKey == "" {
		return Server{}, fmt.Errorf("INVITE_ENCRYPTION_KEY is required")
	}

	var brokers []string
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		brokers = strutil.DedupeAndTrimLower(strings.Split(raw, ","))
	}

	return Server{
		Addr:          addr,
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		PortalBaseURL: strings.TrimRight(baseURL, "/"),
		KafkaBrokers:  brokers,
		JWTSigningKey: signingKey,
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		InviteEncryptionKey: encryptionKey,
	}, nil
}
