// Package config provides environment-driven configuration for the core.
package config

import (
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	LLM      LLMConfig
	TTS      TTSConfig
	ASR      ASRConfig
	Frames   FrameConfig
	Media    MediaConfig
	Vision   VisionConfig
	Otel     OtelConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	DSN string
}

type AuthConfig struct {
	JWTSecret         string
	AccessTokenExpire time.Duration
	// Password for the seeded admin account; empty means generate one.
	AdminPassword string
}

type LLMConfig struct {
	DefaultURL string
	APIKey     string
	// Total wall-clock budget for a single chat stream.
	StreamTimeout time.Duration
}

type TTSConfig struct {
	Provider string // gpt-sovits, index-tts
	URL      string
	// Per-chunk synthesis deadline.
	ChunkTimeout time.Duration
}

type ASRConfig struct {
	URL       string
	ModelPath string
	Device    string // cpu, cuda, auto
}

type FrameConfig struct {
	IdleThreshold time.Duration
}

type MediaConfig struct {
	IndexURL string
}

type VisionConfig struct {
	URL string
}

type OtelConfig struct {
	Enabled     bool
	Environment string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: GetEnv("HOST", "0.0.0.0"),
			Port: GetEnvInt("PORT", 8080),
		},
		Database: DatabaseConfig{
			DSN: GetEnv("DATABASE_DSN", "postgres://localhost:5432/aria?sslmode=disable"),
		},
		Auth: AuthConfig{
			JWTSecret:         GetEnv("JWT_SECRET", ""),
			AccessTokenExpire: time.Duration(GetEnvInt("ACCESS_TOKEN_EXPIRE_DAYS", 30)) * 24 * time.Hour,
			AdminPassword:     GetEnv("ADMIN_PASSWORD", ""),
		},
		LLM: LLMConfig{
			DefaultURL:    GetEnv("DEFAULT_LLM_URL", "http://localhost:11434/v1"),
			APIKey:        GetEnv("LLM_API_KEY", ""),
			StreamTimeout: GetEnvDuration("LLM_STREAM_TIMEOUT", 120*time.Second),
		},
		TTS: TTSConfig{
			Provider:     GetEnv("DEFAULT_TTS_PROVIDER", "gpt-sovits"),
			URL:          GetEnv("TTS_URL", "http://localhost:9880"),
			ChunkTimeout: GetEnvDuration("TTS_CHUNK_TIMEOUT", 30*time.Second),
		},
		ASR: ASRConfig{
			URL:       GetEnv("ASR_URL", "http://localhost:9882"),
			ModelPath: GetEnv("ASR_MODEL_PATH", ""),
			Device:    GetEnv("ASR_DEVICE", "auto"),
		},
		Frames: FrameConfig{
			IdleThreshold: time.Duration(GetEnvInt("FRAME_IDLE_THRESHOLD_MINUTES", 30)) * time.Minute,
		},
		Media: MediaConfig{
			IndexURL: GetEnv("MEDIA_INDEX_URL", "http://localhost:9881"),
		},
		Vision: VisionConfig{
			URL: GetEnv("VISION_URL", "http://localhost:9883"),
		},
		Otel: OtelConfig{
			Enabled:     GetEnvBool("OTEL_ENABLED", false),
			Environment: GetEnv("ENVIRONMENT", "development"),
		},
	}
}
