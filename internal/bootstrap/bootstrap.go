// Package bootstrap wires config into a running API server: every
// concrete adapter this module ships, the multi-tier coordinator and
// detection engine sitting on top of them, the Fiber app and its
// middleware stack, and the background sweep goroutines that keep the
// cache's TTL and durable-store state current between requests.
package bootstrap

import (
	"context"
	"hash/fnv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	httpapi "github.com/bridgify-labs/tclcore/adapter/in/http"
	"github.com/bridgify-labs/tclcore/adapter/out/durablestore"
	"github.com/bridgify-labs/tclcore/adapter/out/remotecache"
	"github.com/bridgify-labs/tclcore/adapter/out/translationbackend"
	"github.com/bridgify-labs/tclcore/config"
	"github.com/bridgify-labs/tclcore/core/coordinator"
	"github.com/bridgify-labs/tclcore/core/entrystore"
	"github.com/bridgify-labs/tclcore/core/entrystore/eviction"
	"github.com/bridgify-labs/tclcore/core/fingerprint"
	"github.com/bridgify-labs/tclcore/core/lde"
	"github.com/bridgify-labs/tclcore/core/lde/detectcache"
	out "github.com/bridgify-labs/tclcore/core/port/out"
	"github.com/bridgify-labs/tclcore/infra/database"
	"github.com/bridgify-labs/tclcore/infra/jobstore"
	"github.com/bridgify-labs/tclcore/infra/middleware"
	"github.com/bridgify-labs/tclcore/pkg/cache"
	"github.com/bridgify-labs/tclcore/pkg/logger"
	"github.com/bridgify-labs/tclcore/pkg/metrics"
	"github.com/bridgify-labs/tclcore/pkg/snowflake"
)

// Dependencies holds every concrete collaborator NewAPI wires together, so
// the background sweep started alongside the server can reach the same
// coordinator and durable store the HTTP handlers use.
type Dependencies struct {
	Config      *config.Config
	Log         *logger.Logger
	DB          *pgxpool.Pool
	Redis       *redis.Client
	Coordinator *coordinator.Coordinator
	Durable     out.DurableStore
	Jobs        out.JobStore
	JobStatus   *cache.RedisCache // optional; nil when Redis is not configured
}

// workerIDFromNodeID hashes a NodeID string into the [0, 1023] range
// snowflake.NewGenerator/Init require, so any NODE_ID string (hostname-pid,
// a fixed deployment tag, whatever the operator sets) becomes a valid
// worker ID without requiring it to already be numeric.
func workerIDFromNodeID(nodeID string) int64 {
	h := fnv.New32a()
	h.Write([]byte(nodeID))
	return int64(h.Sum32() % 1024)
}

// NewDependencies constructs every adapter and core component this module
// ships. Redis and the Postgres-backed job registry are optional: a
// deployment can run L1(+L3)-only and without async preload jobs.
func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	logLevel := logger.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = logger.LevelDebug
	}
	log := logger.New(logger.Config{Level: logLevel, Service: "tclcore"})

	deps := &Dependencies{Config: cfg, Log: log}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	workerID := workerIDFromNodeID(cfg.NodeID)
	if err := snowflake.Init(workerID); err != nil {
		return nil, nil, err
	}

	l1 := entrystore.New(entrystore.Config{
		MaxEntries:          cfg.MaxEntries,
		EvictionPolicy:      eviction.ByName(cfg.EvictionPolicy),
		AutoExtendTTL:       cfg.TTLExtension > 0,
		AutoExtendThreshold: int64(cfg.AutoExtendThreshold),
		TTLExtensionMS:      cfg.TTLExtension.Milliseconds(),
		DefaultTTLMS:        cfg.DefaultTTL.Milliseconds(),
	}, entrystore.SystemClock{})

	var l2 out.RemoteCache
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedis(cfg.RedisURL)
		if err != nil {
			log.WithError(err).Warn("redis connection failed, running without L2")
		} else {
			deps.Redis = redisClient
			cleanups = append(cleanups, func() { redisClient.Close() })
			l2 = remotecache.New(redisClient, remotecache.Config{
				KeyPrefix:            cfg.RedisKeyPrefix,
				PoolSize:             cfg.RedisPoolSize,
				CommandTimeout:       cfg.RedisCommandTimeout,
				MaxConsecutiveErrors: uint32(cfg.RemoteMaxErrors),
			}, log)
			deps.JobStatus = cache.NewRedisCache(redisClient)
		}
	}

	durableStore, err := durablestore.Open(durablestore.Config{
		Root:           cfg.StoragePath,
		EnableAutoSave: cfg.EnableAutoSave,
		MaxBatchSize:   cfg.MaxBatchSize,
		WorkerID:       workerID,
	}, log)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Durable = durableStore
	cleanups = append(cleanups, func() {
		if err := durableStore.Flush(context.Background()); err != nil {
			log.WithError(err).Warn("final durable store flush failed")
		}
	})

	deps.Coordinator = coordinator.New(l1, l2, durableStore, entrystore.SystemClock{}, log)

	if cfg.JobStoreURL != "" {
		db, err := database.NewPostgres(cfg.JobStoreURL)
		if err != nil {
			log.WithError(err).Warn("postgres connection failed, running without job registry")
		} else {
			deps.DB = db
			cleanups = append(cleanups, func() { db.Close() })

			sqlxURL := cfg.JobStoreURL
			if strings.Contains(sqlxURL, "?") {
				sqlxURL += "&default_query_exec_mode=simple_protocol"
			} else {
				sqlxURL += "?default_query_exec_mode=simple_protocol"
			}
			sqlDB, err := sqlx.Connect("pgx", sqlxURL)
			if err != nil {
				log.WithError(err).Warn("sqlx connection failed, running without job registry")
			} else {
				cleanups = append(cleanups, func() { sqlDB.Close() })
				metrics.RegisterPool("job_store", sqlDB.DB)
				cleanups = append(cleanups, func() { metrics.GlobalPoolMonitor().Unregister("job_store") })
				deps.Jobs = jobstore.New(sqlDB)
			}
		}
	}

	return deps, cleanup, nil
}

// NewAPI builds the Fiber app: middleware stack, route registration, and
// the background sweep goroutines, ready for app.Listen.
func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(deps.Log),
		DisableStartupMessage: cfg.IsProduction(),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             10 * 1024 * 1024,
	})

	app.Use(middleware.Recover(deps.Log))
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLogger(deps.Log))
	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))

	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowMethods: "GET,POST,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,X-Request-ID",
	}))

	healthHandler := httpapi.NewHealthHandler(deps.DB, deps.Redis)
	healthHandler.Register(app)

	backend := newTranslationBackend(cfg)
	engine := buildDetectionEngine(cfg)

	api := app.Group("/api/v1")

	translationHandler := httpapi.NewTranslationHandler(
		deps.Coordinator,
		engine,
		backend,
		cfg.TranslationMode,
		entrystore.SystemClock{},
		fingerprint.Options{
			NormalizeText: cfg.NormalizeText,
			UseStrongHash: cfg.UseStrongHash,
			MaxKeyLength:  cfg.MaxKeyLength,
		},
		cfg.DefaultTTL.Milliseconds(),
		cfg.MinConfidenceForCache,
		deps.Log,
	)
	translationHandler.Register(api)

	languageHandler := httpapi.NewLanguageHandler(engine)
	languageHandler.Register(api)

	cacheHandler := httpapi.NewCacheHandler(deps.Coordinator, deps.Jobs, deps.Durable, deps.JobStatus, entrystore.SystemClock{}, deps.Log)
	cacheHandler.Register(api)

	startBackgroundSweep(deps)

	deps.Log.Info("tclcore API server initialized")
	return app, cleanup, nil
}

func newTranslationBackend(cfg *config.Config) out.TranslationBackend {
	switch cfg.TranslationMode {
	case "openai":
		return translationbackend.NewOpenAIBackend(translationbackend.OpenAIConfig{
			APIKey: cfg.OpenAIAPIKey,
		})
	default:
		return translationbackend.NewRESTBackend(translationbackend.RESTConfig{
			BaseURL: cfg.BackendBaseURL,
			APIKey:  cfg.BackendAPIKey,
			Timeout: cfg.BackendTimeout,
		})
	}
}

func buildDetectionEngine(cfg *config.Config) *lde.Engine {
	exact := detectcache.NewExact(detectcache.ExactConfig{
		Capacity:        cfg.DetectCacheL1Capacity,
		FrequencyWeight: cfg.FrequencyWeight,
		DefaultTTLMS:    cfg.DefaultTTL.Milliseconds(),
	}, entrystore.SystemClock{})

	pattern := detectcache.NewPattern(detectcache.PatternConfig{
		MatchThreshold:        cfg.PatternMatchThreshold,
		MinTextLengthForMatch: cfg.MinTextLengthForPatternMatch,
		MinConfidenceToInsert: cfg.MinConfidenceForCache,
	})

	return lde.NewEngine(exact, pattern, lde.NewPrimary(), lde.NewFallback(), entrystore.SystemClock{}, cfg.MinConfidenceForCache)
}

// startBackgroundSweep runs the TTL eviction sweep and durable-store
// auto-save on their own tickers for the life of the process, the
// asynchronous counterpart to the request-path lazy expiry entrystore.Find
// already performs.
func startBackgroundSweep(deps *Dependencies) {
	if deps.Config.CleanupInterval > 0 {
		go func() {
			ticker := time.NewTicker(deps.Config.CleanupInterval)
			defer ticker.Stop()
			for range ticker.C {
				n := deps.Coordinator.EvictExpiredAll()
				if n > 0 {
					deps.Log.WithField("count", n).Debug("cleanup sweep evicted expired entries")
				}
			}
		}()
	}

	if deps.Config.EnableAutoSave && deps.Config.AutoSaveInterval > 0 {
		go func() {
			ticker := time.NewTicker(deps.Config.AutoSaveInterval)
			defer ticker.Stop()
			for range ticker.C {
				if err := deps.Durable.Flush(context.Background()); err != nil {
					deps.Log.WithError(err).Warn("durable store auto-save failed")
				}
			}
		}()
	}
}
