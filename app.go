package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"taskforum/backend/internal/cache"
	"taskforum/backend/internal/config"
	"taskforum/backend/internal/database"
	"taskforum/backend/internal/handlers"
	"taskforum/backend/internal/logging"
	"taskforum/backend/internal/middleware"
	"taskforum/backend/internal/monitoring"
	"taskforum/backend/internal/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	gormlogger "gorm.io/gorm/logger"
)

const banner = "Task forum API is running. Task routes live under /api/tasks."

// Application holds all application dependencies and state
type Application struct {
	Config *config.Config
	Log    *logrus.Logger
	DB     *database.DatabasePool
	Cache  *cache.MultiLevelCache
	Warmer *cache.CacheWarmer
	Redis  *redis.Client
	Router *gin.Engine
	Server *http.Server

	Verifier    services.TokenVerifier
	TaskService services.TaskService
	Metrics     *monitoring.Metrics
	Health      *monitoring.HealthChecker
}

func initializeApplication(cfg *config.Config, log *logrus.Logger) (*Application, error) {
	app := &Application{
		Config:  cfg,
		Log:     log,
		Metrics: monitoring.NewMetrics(),
	}
	app.Health = monitoring.NewHealthChecker(5*time.Second, app.Metrics)

	log.WithField("environment", cfg.Server.Environment).Info("initializing task forum backend")

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	app.initCache()

	if err := app.initVerifier(); err != nil {
		app.cleanup()
		return nil, err
	}

	taskService := services.TaskService(services.NewTaskService())
	if cfg.Cache.FeedTTL > 0 {
		cached := services.NewCachedTaskService(taskService, app.Cache, cfg.Cache.FeedTTL, log)
		app.startFeedWarmer(cached)
		taskService = cached
	}
	app.TaskService = taskService

	log.Info("all services initialized")
	return app, nil
}

// startFeedWarmer keeps the anonymous feed warm by refreshing it once per
// feed TTL while the database is reachable.
func (app *Application) startFeedWarmer(feed *services.CachedTaskService) {
	app.Warmer = cache.NewCacheWarmer(&cache.WarmupStrategy{
		WarmupInterval:  app.Config.Cache.FeedTTL,
		JobTimeout:      app.Config.Database.QueryTimeout,
		HealthCheckFunc: app.DB.Health,
	}, app.Log)

	app.Warmer.AddWarmupJob(cache.WarmupJob{
		Name: "public_feed",
		Run: func(ctx context.Context) error {
			return feed.WarmPublicFeed(app.DB.WithContext(ctx))
		},
	})
	app.Warmer.Start(context.Background())
}

func (app *Application) initDatabase() error {
	cfg := app.Config

	poolConfig := database.DefaultPoolConfig()
	poolConfig.Driver = cfg.Database.Driver
	poolConfig.DSN = cfg.GetDatabaseDSN()
	poolConfig.MaxOpenConns = cfg.Database.MaxOpenConns
	poolConfig.MaxIdleConns = cfg.Database.MaxIdleConns
	poolConfig.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
	poolConfig.ConnMaxIdleTime = cfg.Database.ConnMaxIdleTime
	poolConfig.Logger = app.Log
	if app.Log.IsLevelEnabled(logrus.DebugLevel) {
		poolConfig.LogLevel = gormlogger.Info
	}

	pool, err := database.NewDatabasePool(poolConfig)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	app.DB = pool

	if cfg.Database.AutoMigrate {
		if err := pool.Migrate(); err != nil {
			pool.Close()
			return err
		}
		app.Log.Info("database schema migrated")
	}

	app.Health.Register("database", true, pool.Health)
	return nil
}

// initCache always yields a usable cache: Redis joins as L2 only when it is
// enabled and answers a ping.
func (app *Application) initCache() {
	cfg := app.Config
	if !cfg.Redis.Enabled {
		app.Cache = cache.NewMultiLevelCache(nil, cacheOptions()...)
		app.Log.Info("memory cache initialized (redis disabled)")
		return
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.GetRedisAddr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		app.Log.WithError(err).Warn("redis unavailable, continuing with memory cache only")
		redisClient.Close()
		app.Cache = cache.NewMultiLevelCache(nil, cacheOptions()...)
		return
	}

	app.Redis = redisClient
	app.Cache = cache.NewMultiLevelCache(cache.NewRedisCacheFromClient(redisClient, "taskforum:"), cacheOptions()...)
	app.Health.Register("redis", false, app.Cache.Health)
	app.Log.Info("multi-level cache initialized (memory L1 + redis L2)")
}

// cacheOptions keeps the public feed in Redis only, so a privacy change on
// one replica is never served stale from another replica's memory.
func cacheOptions() []cache.Option {
	return []cache.Option{
		cache.WithKeyFamilies(services.PrincipalKeyPrefix, services.PublicFeedKeyPrefix),
		cache.WithSharedPrefix(services.PublicFeedKeyPrefix),
	}
}

func (app *Application) initVerifier() error {
	cfg := app.Config

	var verifier services.TokenVerifier
	switch cfg.Auth.Verifier {
	case config.VerifierRemote:
		remote := services.NewRemoteTokenVerifier(services.RemoteVerifierConfig{
			BaseURL:     cfg.Supabase.URL,
			ServiceKey:  cfg.Supabase.ServiceKey,
			AnonKey:     cfg.Supabase.AnonKey,
			Timeout:     cfg.Auth.VerifyTimeout,
			MaxFailures: cfg.Auth.BreakerMaxFail,
			OpenTimeout: cfg.Auth.BreakerTimeout,
			Logger:      app.Log,
		})
		app.Health.Register("identity_provider", false, remote.Health)
		verifier = remote
	case config.VerifierJWT:
		verifier = services.NewJWTTokenVerifier(cfg.Supabase.JWTSecret, cfg.Auth.Audience)
	default:
		return fmt.Errorf("unknown token verifier %q", cfg.Auth.Verifier)
	}

	if cfg.Auth.CacheTTL > 0 {
		verifier = services.NewCachedTokenVerifier(verifier, app.Cache, cfg.Auth.CacheTTL, app.Log)
	}

	app.Verifier = verifier
	app.Log.WithFields(logrus.Fields{
		"verifier":  cfg.Auth.Verifier,
		"cache_ttl": cfg.Auth.CacheTTL.String(),
	}).Info("token verifier initialized")
	return nil
}

func (app *Application) setupRoutes() {
	r := gin.New()

	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(app.Log))
	r.Use(app.Metrics.Middleware())
	r.Use(middleware.RecoveryWithLog(app.Log))

	if app.Config.RateLimit.Enabled {
		if app.Redis != nil {
			limiter := middleware.NewDistributedRateLimiter(app.Redis, app.Config.RateLimit.RequestsPerMin, time.Minute)
			r.Use(limiter.Middleware())
		} else {
			rateLimit := rate.Limit(float64(app.Config.RateLimit.RequestsPerMin) / 60.0)
			r.Use(middleware.RateLimiter(rateLimit, app.Config.RateLimit.BurstSize))
		}
	}

	r.Use(cors.New(cors.Config{
		AllowOrigins:     app.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "HEAD", "PUT", "PATCH", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, banner)
	})
	r.GET("/health", app.Health.HealthHandler())
	r.GET("/ready", app.Health.ReadinessHandler())
	r.GET("/live", app.Health.LivenessHandler())
	r.GET("/metrics", app.Metrics.Handler(map[string]monitoring.StatsFunc{
		"cache":    app.Cache.Stats,
		"database": app.DB.Stats,
		"warmer":   app.warmerStats,
	}))

	taskHandler := handlers.NewTaskHandler(app.DB.DB, app.TaskService, app.Config.Database.QueryTimeout, app.Log)
	taskRoutes := r.Group("/api/tasks")
	taskRoutes.Use(middleware.Authenticate(app.Verifier, app.Config.Auth.VerifyTimeout, app.Log))
	taskHandler.RegisterRoutes(taskRoutes)

	app.Router = r
}

func (app *Application) warmerStats() map[string]interface{} {
	if app.Warmer == nil {
		return map[string]interface{}{"running": false}
	}
	return app.Warmer.GetStats()
}

func (app *Application) cleanup() {
	app.Log.Info("cleaning up resources")

	if app.Warmer != nil {
		app.Warmer.Stop()
	}

	// closing the cache also closes the redis client behind L2
	if app.Cache != nil {
		if err := app.Cache.Close(); err != nil {
			app.Log.WithError(err).Warn("error closing cache")
		}
	} else if app.Redis != nil {
		if err := app.Redis.Close(); err != nil {
			app.Log.WithError(err).Warn("error closing redis")
		}
	}

	if app.DB != nil {
		if err := app.DB.Close(); err != nil {
			app.Log.WithError(err).Warn("error closing database")
		}
	}

	logging.Service(app.Log).Info("cleanup complete")
}
