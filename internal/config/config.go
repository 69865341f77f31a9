package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	AppEnv             string // "dev" | "production" — controls log format
	APIPort            string
	WorkerEnabled      bool
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Object storage
	StorageURL        string
	StorageServiceKey string
	StorageBucket     string

	// OpenAI (script planning)
	OpenAIKey    string
	PlannerModel string

	// ElevenLabs (narration synthesis)
	ElevenLabsKey string

	// xAI (scene video via Grok Imagine — preferred)
	XAIEnabled bool
	XAIAPIKey  string

	// Veo (scene video via Google genai — alternate)
	VeoEnabled bool
	GeminiKey  string
	VeoModel   string

	// Pipeline
	TempDir            string
	MaxConcurrentJobs  int
	AllowPartialScenes bool // proceed with surviving scenes when some fail

	// Per-call timeouts — every external provider call carries one
	PlannerTimeout    time.Duration
	TTSTimeout        time.Duration
	SceneVideoTimeout time.Duration
	StorageTimeout    time.Duration
	WebhookTimeout    time.Duration
	StitchTimeout     time.Duration

	// Render queue
	RenderWorkers      int
	RenderMaxAttempts  int
	RenderPollInterval time.Duration

	// Webhook delivery
	WebhookMaxAttempts int
	WebhookSweepPeriod time.Duration

	// Cleanup scheduler
	CleanupSweepPeriod time.Duration
	CleanupMaxAttempts int
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "dev"),
		APIPort:            getEnv("API_PORT", "8080"),
		WorkerEnabled:      getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:      getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
		StorageURL:         getEnv("STORAGE_URL", ""),
		StorageServiceKey:  getEnv("STORAGE_SERVICE_KEY", ""),
		StorageBucket:      getEnv("STORAGE_BUCKET", "reelpipe-artifacts"),
		OpenAIKey:          getEnv("OPENAI_API_KEY", ""),
		PlannerModel:       getEnv("PLANNER_MODEL", "gpt-5-mini"),
		ElevenLabsKey:      getEnv("ELEVENLABS_API_KEY", ""),
		XAIEnabled:         getEnvBool("XAI_VIDEO_ENABLED", true),
		XAIAPIKey:          getEnv("XAI_API_KEY", ""),
		VeoEnabled:         getEnvBool("VEO_ENABLED", false),
		GeminiKey:          getEnv("GEMINI_API_KEY", ""),
		VeoModel:           getEnv("VEO_MODEL", "veo-3.1-generate-preview"),
		TempDir:            getEnv("TEMP_DIR", "/tmp/reelpipe"),
		MaxConcurrentJobs:  getEnvInt("MAX_CONCURRENT_JOBS", 4),
		AllowPartialScenes: getEnvBool("ALLOW_PARTIAL_SCENES", false),

		PlannerTimeout:    getEnvDuration("PLANNER_TIMEOUT", 90*time.Second),
		TTSTimeout:        getEnvDuration("TTS_TIMEOUT", 90*time.Second),
		SceneVideoTimeout: getEnvDuration("SCENE_VIDEO_TIMEOUT", 5*time.Minute),
		StorageTimeout:    getEnvDuration("STORAGE_TIMEOUT", 3*time.Minute),
		WebhookTimeout:    getEnvDuration("WEBHOOK_TIMEOUT", 15*time.Second),
		StitchTimeout:     getEnvDuration("STITCH_TIMEOUT", 10*time.Minute),

		RenderWorkers:      getEnvInt("RENDER_WORKERS", 2),
		RenderMaxAttempts:  getEnvInt("RENDER_MAX_ATTEMPTS", 3),
		RenderPollInterval: getEnvDuration("RENDER_POLL_INTERVAL", 5*time.Second),

		WebhookMaxAttempts: getEnvInt("WEBHOOK_MAX_ATTEMPTS", 5),
		WebhookSweepPeriod: getEnvDuration("WEBHOOK_SWEEP_PERIOD", 15*time.Second),

		CleanupSweepPeriod: getEnvDuration("CLEANUP_SWEEP_PERIOD", time.Minute),
		CleanupMaxAttempts: getEnvInt("CLEANUP_MAX_ATTEMPTS", 3),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.WorkerEnabled {
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required")
		}
		if cfg.ElevenLabsKey == "" {
			return nil, fmt.Errorf("ELEVENLABS_API_KEY is required")
		}
		if cfg.XAIEnabled && cfg.XAIAPIKey == "" {
			return nil, fmt.Errorf("XAI_API_KEY is required when XAI_VIDEO_ENABLED=true")
		}
		if cfg.VeoEnabled && cfg.GeminiKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required when VEO_ENABLED=true")
		}
		if !cfg.XAIEnabled && !cfg.VeoEnabled {
			return nil, fmt.Errorf("at least one scene video provider must be enabled (XAI_VIDEO_ENABLED or VEO_ENABLED)")
		}
	}

	if cfg.StorageURL == "" || cfg.StorageServiceKey == "" {
		return nil, fmt.Errorf("STORAGE_URL and STORAGE_SERVICE_KEY are required")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
