package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port           int
	APIBase        string
	RevealInterval time.Duration
	UnitPolicy     string
	ChunkSize      int
	UploadTimeout  time.Duration
	NatsURL        string
	NatsToken      string
	LogLevel       string
}

func Load() Config {
	return Config{
		Port:           envInt("DOCCHAT_PORT", 8760),
		APIBase:        envStr("DOCCHAT_API_BASE", "http://localhost:5000"),
		RevealInterval: time.Duration(envInt("DOCCHAT_REVEAL_INTERVAL_MS", 30)) * time.Millisecond,
		UnitPolicy:     envStr("DOCCHAT_UNIT_POLICY", "runes"),
		ChunkSize:      envInt("DOCCHAT_CHUNK_SIZE", 4096),
		UploadTimeout:  time.Duration(envInt("DOCCHAT_UPLOAD_TIMEOUT_S", 60)) * time.Second,
		NatsURL:        envStr("NATS_URL", ""),
		NatsToken:      envStr("NATS_TOKEN", ""),
		LogLevel:       envStr("LOG_LEVEL", "info"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
