package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cropfresh/cropfresh-service-auth/internal/config"
	"github.com/cropfresh/cropfresh-service-auth/internal/db"
	"github.com/cropfresh/cropfresh-service-auth/internal/httpapi"
	"github.com/cropfresh/cropfresh-service-auth/internal/jobs"
	"github.com/cropfresh/cropfresh-service-auth/internal/logging"
	"github.com/cropfresh/cropfresh-service-auth/internal/metrics"
	"github.com/cropfresh/cropfresh-service-auth/internal/operations"
	"github.com/cropfresh/cropfresh-service-auth/internal/otp"
	"github.com/cropfresh/cropfresh-service-auth/internal/repository"
	"github.com/cropfresh/cropfresh-service-auth/internal/sms"
	"github.com/cropfresh/cropfresh-service-auth/internal/upi"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connection failed", zap.Error(err))
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("redis connection failed", zap.Error(err))
	}
	defer func() { _ = rdb.Close() }()

	node, err := snowflake.NewNode(cfg.SnowflakeNode)
	if err != nil {
		logger.Fatal("snowflake node init failed", zap.Error(err))
	}

	store := repository.NewStore(pool)
	smsClient := sms.NewClient(cfg.SMSGatewayURL, cfg.SMSGatewayKey, cfg.SMSSenderID, cfg.SMSEnabled, cfg.ProviderTimeout, logger)
	upiClient := upi.NewClient(cfg.UPIProviderURL, cfg.UPIProviderKey, cfg.UPIValidationEnabled, cfg.ProviderTimeout, logger)
	m := metrics.New(prometheus.DefaultRegisterer)
	engine := otp.NewEngine(rdb, smsClient, logger, m, cfg.OTPTTL, cfg.OTPRateLimit, cfg.OTPRateWindow)
	lockout := otp.NewLockout(rdb, cfg.LoginMaxAttempts, cfg.LoginLockout)
	core := operations.NewCore(store, rdb, engine, lockout, smsClient, upiClient, logger, m, node, cfg)
	server := httpapi.NewServer(cfg, core, logger)

	purge, err := jobs.StartPurge(ctx, store, cfg.PurgeSchedule, logger)
	if err != nil {
		logger.Fatal("purge schedule invalid", zap.Error(err))
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("auth service listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	<-purge.Stop().Done()
}
