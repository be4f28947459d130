package config

import (
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"development"`
	Port   string `env:"PORT" envDefault:"5000"`

	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	RedisURL    string `env:"REDIS_URL"`

	SupabaseURL            string `env:"SUPABASE_URL"`
	SupabaseServiceRoleKey string `env:"SUPABASE_SERVICE_ROLE_KEY"`
	// when set, bearer tokens are verified locally instead of via /auth/v1/user
	SupabaseJWTSecret string `env:"SUPABASE_JWT_SECRET"`

	GeminiAPIKey   string `env:"GEMINI_API_KEY"`
	GeminiBaseURL  string `env:"GEMINI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com"`
	GeminiModel    string `env:"GEMINI_MODEL" envDefault:"gemini-1.5-flash"`
	GeminiProModel string `env:"GEMINI_PRO_MODEL" envDefault:"gemini-1.5-pro"`

	MiniMaxAPIKey    string `env:"MINIMAX_API_KEY"`
	MiniMaxBaseURL   string `env:"MINIMAX_BASE_URL" envDefault:"https://api.minimax.ai"`
	MiniMaxTextModel string `env:"MINIMAX_TEXT_MODEL" envDefault:"abab6.5s-chat"`
	MiniMaxSTTModel  string `env:"MINIMAX_STT_MODEL" envDefault:"speech-01"`

	OpenAIAPIKey   string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL  string `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com"`
	EmbeddingModel string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-ada-002"`

	RateLimitBackend       string `env:"RATE_LIMIT_BACKEND" envDefault:"table"`
	RateLimitMaxRequests   int    `env:"RATE_LIMIT_MAX_REQUESTS" envDefault:"100"`
	RateLimitWindowMinutes int    `env:"RATE_LIMIT_WINDOW_MINUTES" envDefault:"15"`
	BurstWindowSeconds     int    `env:"BURST_WINDOW_SECONDS" envDefault:"10"`
	BurstCapacity          int    `env:"BURST_CAPACITY" envDefault:"5"`
	UserConcurrencyLimit   int    `env:"USER_CONCURRENCY_LIMIT" envDefault:"2"`
	DuplicateWindowSeconds int    `env:"DUPLICATE_WINDOW_SECONDS" envDefault:"45"`

	MaxFileSizeMB   int `env:"MAX_FILE_SIZE_MB" envDefault:"15"`
	MaxUploadSizeMB int `env:"MAX_UPLOAD_SIZE_MB" envDefault:"50"`

	StorageBackend  string `env:"STORAGE_BACKEND" envDefault:"supabase"`
	StorageBucket   string `env:"STORAGE_BUCKET" envDefault:"uploads"`
	LocalStorageDir string `env:"LOCAL_STORAGE_DIR" envDefault:"./uploads"`
	PublicBaseURL   string `env:"PUBLIC_BASE_URL" envDefault:"http://127.0.0.1:5000"`

	CacheTTLSeconds int `env:"CACHE_TTL_SECONDS" envDefault:"600"`
	CacheMaxItems   int `env:"CACHE_MAX_ITEMS" envDefault:"500"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://localhost:5173"`

	HistoryLimit       int     `env:"HISTORY_LIMIT" envDefault:"20"`
	PromptHistoryLimit int     `env:"PROMPT_HISTORY_LIMIT" envDefault:"10"`
	RAGMatchThreshold  float64 `env:"RAG_MATCH_THRESHOLD" envDefault:"0.7"`
	RAGMatchCount      int     `env:"RAG_MATCH_COUNT" envDefault:"3"`
}

// loadDotEnv only reads .env outside production. A missing file is not fatal.
func loadDotEnv() {
	if os.Getenv("APP_ENV") == "production" {
		return
	}
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] .env not loaded: %v", err)
	}
}

func Load() (*Config, error) {
	loadDotEnv()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.logSummary()
	return &cfg, nil
}

func (c *Config) Validate() error {
	if !slices.Contains([]string{"development", "staging", "production"}, c.AppEnv) {
		return fmt.Errorf("APP_ENV must be 'development', 'staging' or 'production', got %q", c.AppEnv)
	}
	if !slices.Contains([]string{"table", "redis"}, c.RateLimitBackend) {
		return fmt.Errorf("RATE_LIMIT_BACKEND must be 'table' or 'redis', got %q", c.RateLimitBackend)
	}
	if c.RateLimitBackend == "redis" && c.RedisURL == "" {
		return fmt.Errorf("RATE_LIMIT_BACKEND=redis requires REDIS_URL")
	}
	if !slices.Contains([]string{"supabase", "local"}, c.StorageBackend) {
		return fmt.Errorf("STORAGE_BACKEND must be 'supabase' or 'local', got %q", c.StorageBackend)
	}
	if c.SupabaseJWTSecret == "" && c.SupabaseURL == "" {
		return fmt.Errorf("either SUPABASE_JWT_SECRET or SUPABASE_URL must be set")
	}
	if c.StorageBackend == "supabase" && (c.SupabaseURL == "" || c.SupabaseServiceRoleKey == "") {
		return fmt.Errorf("STORAGE_BACKEND=supabase requires SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY")
	}
	if c.IsProduction() && c.SupabaseJWTSecret == "" && c.SupabaseServiceRoleKey == "" {
		return fmt.Errorf("SUPABASE_SERVICE_ROLE_KEY must be set in production")
	}
	return nil
}

func (c *Config) IsProduction() bool { return c.AppEnv == "production" }

func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowMinutes) * time.Minute
}

func (c *Config) BurstWindow() time.Duration {
	return time.Duration(c.BurstWindowSeconds) * time.Second
}

func (c *Config) DuplicateWindow() time.Duration {
	return time.Duration(c.DuplicateWindowSeconds) * time.Second
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func (c *Config) MaxFileBytes() int64 { return int64(c.MaxFileSizeMB) * 1024 * 1024 }

func (c *Config) MaxUploadBytes() int64 { return int64(c.MaxUploadSizeMB) * 1024 * 1024 }

func (c *Config) logSummary() {
	log.Printf("[config] AppEnv=%s Port=%s", c.AppEnv, c.Port)
	log.Printf("[config] GeminiKeyPresent=%v MiniMaxKeyPresent=%v OpenAIKeyPresent=%v", c.GeminiAPIKey != "", c.MiniMaxAPIKey != "", c.OpenAIAPIKey != "")
	log.Printf("[config] GeminiModel=%s GeminiProModel=%s MiniMaxModel=%s EmbeddingModel=%s", c.GeminiModel, c.GeminiProModel, c.MiniMaxTextModel, c.EmbeddingModel)
	log.Printf("[config] Auth local=%v Storage=%s bucket=%s Redis=%v", c.SupabaseJWTSecret != "", c.StorageBackend, c.StorageBucket, c.RedisURL != "")
	log.Printf("[config] RateLimit backend=%s max=%d window=%dm burst=%d/%ds userConc=%d dupWindow=%ds",
		c.RateLimitBackend, c.RateLimitMaxRequests, c.RateLimitWindowMinutes, c.BurstCapacity, c.BurstWindowSeconds, c.UserConcurrencyLimit, c.DuplicateWindowSeconds)
	log.Printf("[config] Cache ttl=%ds max=%d CORS=%s", c.CacheTTLSeconds, c.CacheMaxItems, strings.Join(c.CORSOrigins, ","))
}
