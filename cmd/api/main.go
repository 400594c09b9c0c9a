package main

import (
	"fmt"
	"log"

	"github.com/go-resty/resty/v2"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/didware/did-engine/internal/batch"
	"github.com/didware/did-engine/internal/config"
	"github.com/didware/did-engine/internal/handler"
	"github.com/didware/did-engine/internal/infra/postgresql"
	"github.com/didware/did-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/didware/did-engine/internal/infra/redis"
	"github.com/didware/did-engine/internal/notify"
	"github.com/didware/did-engine/internal/observability"
	"github.com/didware/did-engine/internal/ratelimit"
	"github.com/didware/did-engine/internal/repository"
	"github.com/didware/did-engine/internal/settings"
	"github.com/didware/did-engine/internal/transport"
	"github.com/didware/did-engine/internal/vault"
	"github.com/didware/did-engine/internal/vendor"

	"github.com/gofiber/fiber/v2/middleware/adaptor"
	goredis "github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	// Redis is optional: without it each instance admits vendor calls
	// without coordinating with its peers.
	var rdb *goredis.Client
	var limiter ratelimit.RateLimiter = ratelimit.Nop{}
	if cfg.RedisURL != "" {
		rdb, err = infraredis.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis initialization failed", zap.Error(err))
		}
		defer rdb.Close()

		limiter, err = infraredis.NewVendorRateLimiter(rdb, cfg.RateLimitPerSec)
		if err != nil {
			logger.Fatal("rate limiter initialization failed", zap.Error(err))
		}
	} else {
		logger.Warn("REDIS_URL not set, vendor rate limiting is per-instance only")
	}

	metrics := observability.NewMetrics()

	cipher, err := vault.NewCipher(cfg.EncryptionSalt)
	if err != nil {
		logger.Fatal("cipher initialization failed", zap.Error(err))
	}
	credentialVault, err := vault.New(repository.NewGormCredentialRepo(db), cipher, cfg.MasterKey, logger)
	if err != nil {
		logger.Fatal("vault initialization failed", zap.Error(err))
	}

	settingsStore := settings.NewStore(repository.NewGormSettingRepo(db), logger)

	gatewayOpts := []vendor.VonageOption{
		vendor.WithRateLimiter(limiter),
		vendor.WithLogger(logger),
		vendor.WithMetrics(metrics),
	}
	if cfg.VendorRestURL != "" || cfg.VendorAPIURL != "" {
		gatewayOpts = append(gatewayOpts, vendor.WithBaseURLs(cfg.VendorRestURL, cfg.VendorAPIURL))
	}
	gateway, err := vendor.NewVonageGateway(resty.New(), gatewayOpts...)
	if err != nil {
		logger.Fatal("vendor gateway initialization failed", zap.Error(err))
	}

	emitter := notify.NewWebhookEmitter(logger)

	engine, err := batch.NewEngine(gateway, credentialVault, settingsStore, emitter, metrics, logger, cfg.PrimaryAccountName)
	if err != nil {
		logger.Fatal("batch engine initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(transport.CorrelationMiddleware())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	if err := handler.RegisterDIDRoutes(app, engine); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}
	if err := handler.RegisterAdminRoutes(app, settingsStore, credentialVault); err != nil {
		logger.Fatal("admin route registration failed", zap.Error(err))
	}

	logger.Info("did-engine api started", zap.Int("port", cfg.APIPort))
	if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
