package main

import (
	"ChatBridge/controllers"
	"ChatBridge/middleware"
	"ChatBridge/migrations"
	"ChatBridge/pkg/cache"
	"ChatBridge/pkg/config"
	"ChatBridge/pkg/database"
	"ChatBridge/pkg/notify"
	"ChatBridge/pkg/ratelimit"
	"ChatBridge/pkg/services"
	"ChatBridge/routes"
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	if err := database.Prepare(db, cfg.DatabaseURL, migrations.FS); err != nil {
		log.Fatalf("failed migrate: %v", err)
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid REDIS_URL: %v", err)
		}
		rdb = redis.NewClient(opts)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("[main] redis ping failed, continuing without it: %v", err)
			rdb = nil
		}
		cancel()
	}

	vectors := cache.New[[]float32](cfg.CacheMaxItems)
	users := cache.New[*services.AuthUser](cfg.CacheMaxItems)
	defer vectors.StartJanitor(time.Minute)()
	defer users.StartJanitor(time.Minute)()

	httpClient := &http.Client{Timeout: 90 * time.Second}
	gemini := services.NewGeminiService(services.GeminiOptions{
		APIKey:   cfg.GeminiAPIKey,
		BaseURL:  cfg.GeminiBaseURL,
		Model:    cfg.GeminiModel,
		ProModel: cfg.GeminiProModel,
		Client:   httpClient,
	})
	minimax := services.NewMiniMaxService(services.MiniMaxOptions{
		APIKey:    cfg.MiniMaxAPIKey,
		BaseURL:   cfg.MiniMaxBaseURL,
		TextModel: cfg.MiniMaxTextModel,
		STTModel:  cfg.MiniMaxSTTModel,
		Client:    httpClient,
	})
	embedder := services.NewOpenAIEmbedder(services.OpenAIOptions{
		APIKey:   cfg.OpenAIAPIKey,
		BaseURL:  cfg.OpenAIBaseURL,
		Model:    cfg.EmbeddingModel,
		Client:   httpClient,
		Cache:    vectors,
		CacheTTL: cfg.CacheTTL(),
	})

	env := &controllers.Env{
		DB:       db,
		Cfg:      cfg,
		Router:   services.NewRouter(minimax, gemini),
		Embedder: embedder,
		Storage:  mustStorage(cfg),
		Auth:     authenticator(cfg, users),
		Limiter:  limiter(cfg, db, rdb),
		Notifier: notify.Nop{},
	}
	if rdb != nil {
		env.Notifier = notify.NewRedisNotifier(rdb)
	}
	log.Printf("[main] providers available: %v", env.Router.Available())

	middleware.SetRateLimitConfig(cfg.BurstWindow(), cfg.BurstCapacity, cfg.UserConcurrencyLimit)
	middleware.SetDuplicateTTL(cfg.DuplicateWindow())

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	// CORS configuration
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Client-Info", "Apikey", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           24 * time.Hour,
	}))

	routes.RegisterRoutes(r, env)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}

func mustStorage(cfg *config.Config) services.Storage {
	if cfg.StorageBackend == "local" {
		ls, err := services.NewLocalStorage(cfg.LocalStorageDir, cfg.PublicBaseURL)
		if err != nil {
			log.Fatalf("failed to prepare local storage: %v", err)
		}
		return ls
	}
	return services.NewSupabaseStorage(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey, cfg.StorageBucket, nil)
}

func authenticator(cfg *config.Config, users *cache.Store[*services.AuthUser]) services.Authenticator {
	if cfg.SupabaseJWTSecret != "" {
		return services.NewJWTAuthenticator(cfg.SupabaseJWTSecret)
	}
	return services.NewRemoteAuthenticator(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey, nil, users, cfg.CacheTTL())
}

func limiter(cfg *config.Config, db *gorm.DB, rdb *redis.Client) ratelimit.Limiter {
	if cfg.RateLimitBackend == "redis" {
		if rdb != nil {
			return ratelimit.NewRedisLimiter(rdb, cfg.RateLimitMaxRequests, cfg.RateLimitWindow())
		}
		log.Printf("[main] RATE_LIMIT_BACKEND=redis without redis, using table limiter")
	}
	tl := ratelimit.NewTableLimiter(db, cfg.RateLimitMaxRequests, cfg.RateLimitWindow())
	go func() {
		t := time.NewTicker(cfg.RateLimitWindow())
		defer t.Stop()
		for range t.C {
			if n, err := tl.Purge(context.Background()); err != nil {
				log.Printf("[ratelimit] purge failed: %v", err)
			} else if n > 0 {
				log.Printf("[ratelimit] purged %d expired windows", n)
			}
		}
	}()
	return tl
}
