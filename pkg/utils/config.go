package utils

import (
	"os"
	"strconv"
	"time"
)

type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTDuration time.Duration
}

func LoadAuthConfig() AuthConfig {
	secret := os.Getenv("READHUB_JWT_SECRET")
	if secret == "" {
		// dev default (change for production)
		secret = "dev-secret-change-me"
	}

	issuer := os.Getenv("READHUB_JWT_ISSUER")
	if issuer == "" {
		issuer = "readhub"
	}

	duration := 24 * time.Hour
	if ttl := os.Getenv("READHUB_JWT_TTL_HOURS"); ttl != "" {
		if hours, err := strconv.Atoi(ttl); err == nil && hours > 0 {
			duration = time.Duration(hours) * time.Hour
		}
	}

	return AuthConfig{
		JWTSecret:   secret,
		JWTIssuer:   issuer,
		JWTDuration: duration,
	}
}

type ServerConfig struct {
	HTTPAddr   string
	SyncAddr   string
	NotifyAddr string
}

func LoadServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:   envOr("READHUB_HTTP_ADDR", ":8080"),
		SyncAddr:   envOr("READHUB_SYNC_ADDR", ":7070"),
		NotifyAddr: envOr("READHUB_NOTIFY_ADDR", ":7071"),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
