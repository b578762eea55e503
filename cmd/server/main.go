package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"smartmeter/internal/archive"
	"smartmeter/internal/billing"
	"smartmeter/internal/cache"
	"smartmeter/internal/config"
	"smartmeter/internal/device"
	internalhttp "smartmeter/internal/http"
	"smartmeter/internal/jobs"
	"smartmeter/internal/logging"
	"smartmeter/internal/metrics"
	"smartmeter/internal/repository"
	"smartmeter/internal/repository/mongostore"
	"smartmeter/internal/repository/pgstore"
	"smartmeter/internal/repository/sqlstore"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using process environment")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("error building zap logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	store, err := openStore(connectCtx, cfg)
	cancel()
	if err != nil {
		logger.Fatal("store connection failed", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	logger.Info("store ready", zap.String("driver", cfg.StoreDriver))

	var (
		sinks  []jobs.Sink
		latest internalhttp.LatestCache
	)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			logger.Fatal("redis ping failed", zap.Error(err))
		}
		cancel()
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
		latestCache := cache.NewLatestCache(redisClient, cfg.LatestCacheTTL)
		sinks = append(sinks, latestCache)
		latest = latestCache
	}
	if len(cfg.ClickHouseAddresses) > 0 {
		archiveSink, err := archive.Open(ctx, logger, archive.Options{
			Addresses: cfg.ClickHouseAddresses,
			Database:  cfg.ClickHouseDatabase,
			Username:  cfg.ClickHouseUsername,
			Password:  cfg.ClickHousePassword,
		})
		if err != nil {
			logger.Fatal("clickhouse archive init failed", zap.Error(err))
		}
		defer func() {
			if err := archiveSink.Close(); err != nil {
				logger.Warn("clickhouse close error", zap.Error(err))
			}
		}()
		sinks = append(sinks, archiveSink)
	}

	calculator, err := newCalculator(cfg)
	if err != nil {
		logger.Fatal("billing init failed", zap.Error(err))
	}

	var fetcher jobs.Fetcher
	if cfg.DeviceIP != "" {
		client := device.NewClient(cfg.DeviceIP, &http.Client{Timeout: cfg.FetchTimeout})
		logger.Info("polling meter device", zap.String("endpoint", client.Endpoint()))
		fetcher = client
	} else {
		logger.Warn("ESP32_IP not configured, ingestion ticks will be skipped")
	}
	job := jobs.NewIngestJob(fetcher, store, logger, m, cfg.FetchTimeout, sinks...)

	server, err := internalhttp.NewServer(cfg, store, calculator, latest, logger, m)
	if err != nil {
		logger.Fatal("server init failed", zap.Error(err))
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	job.Start(ctx, cfg.PollInterval)

	go func() {
		logger.Info("backend server listening", zap.String("addr", cfg.HTTPAddr()))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", zap.Error(err))
	}
	job.Wait()
	if err := store.Close(shutdownCtx); err != nil {
		logger.Warn("store close error", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg config.Config) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMongo:
		return mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case config.DriverPostgres:
		return pgstore.Open(ctx, cfg.DatabaseURL)
	case config.DriverSQLite:
		return sqlstore.Open(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

func newCalculator(cfg config.Config) (*billing.Calculator, error) {
	tariff, err := billing.LoadTariff(cfg.TariffFile)
	if err != nil {
		return nil, err
	}
	mode, err := billing.ParseMode(cfg.BillingMode)
	if err != nil {
		return nil, err
	}
	return billing.NewCalculator(tariff, mode)
}
