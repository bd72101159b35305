package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"

	"photoshare.io/sessiond/internal/audit"
	"photoshare.io/sessiond/internal/auth"
	"photoshare.io/sessiond/internal/config"
	"photoshare.io/sessiond/internal/event"
	"photoshare.io/sessiond/internal/httpapi"
	"photoshare.io/sessiond/internal/migrate"
	"photoshare.io/sessiond/internal/obs"
	"photoshare.io/sessiond/internal/store/memory"
	"photoshare.io/sessiond/internal/store/pg"
	"photoshare.io/sessiond/internal/throttle"
	"photoshare.io/sessiond/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := obs.NewLogger("sessiond", cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("sessiond stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// Метрики и build info
	obs.Init()
	obs.InitBuildInfo(cfg.Version, cfg.Commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, ready, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	hasher, err := auth.NewPasswordHasher(cfg.BcryptCost)
	if err != nil {
		return err
	}
	issuer, err := auth.NewTokenIssuer([]byte(cfg.SigningKey), cfg.Issuer, cfg.AccessTTL)
	if err != nil {
		return err
	}
	policy, err := auth.ParseRefreshPolicy(cfg.RefreshPolicy)
	if err != nil {
		return err
	}
	opts := []auth.ServiceOption{
		auth.WithRefreshPolicy(policy),
		auth.WithLogger(logger),
	}

	// Redis throttle is optional; it fails open when Redis goes away.
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		limiter := throttle.New(rdb, throttle.Config{MaxAttempts: cfg.LoginMaxAttempts, Cooldown: cfg.LoginCooldown})
		if err := limiter.Ping(ctx); err != nil {
			logger.Warn("login throttle redis unreachable at start", slog.String("error", err.Error()))
		}
		opts = append(opts, auth.WithThrottle(limiter))
	}

	if len(cfg.KafkaBrokers) > 0 {
		pub, err := event.NewPublisher(event.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic}, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := pub.Close(); err != nil {
				logger.Warn("close event publisher", slog.String("error", err.Error()))
			}
		}()
		opts = append(opts, auth.WithEvents(pub))
	}

	svc, err := auth.NewService(store, hasher, issuer, cfg.RefreshTTL(), opts...)
	if err != nil {
		return err
	}

	if cfg.BootstrapAdmin() {
		acc, created, err := svc.BootstrapAdmin(ctx, auth.RegisterInput{
			Username: cfg.BootstrapAdminUsername,
			Email:    cfg.BootstrapAdminEmail,
			Password: cfg.BootstrapAdminPassword,
		})
		if err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		if created {
			logger.Info("bootstrap admin created", slog.String("account_id", acc.ID), slog.String("username", acc.Username))
		}
	}

	proxies, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		return err
	}
	api := httpapi.New(httpapi.Config{
		Service:        svc,
		Audit:          audit.New(logger),
		Logger:         logger,
		Ready:          ready,
		Version:        cfg.Version,
		RequestTimeout: cfg.RequestTimeout,
		RateBurst:      cfg.RateBurst,
		RatePerSecond:  cfg.RatePerSecond,
		CORSOrigins:    cfg.CORSOrigins,
		TrustedProxies: proxies,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcSrv, httpapi.NewGRPCServer(ready))
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", slog.String("addr", srv.Addr), slog.String("version", cfg.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		logger.Info("grpc listening", slog.String("addr", lis.Addr().String()))
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", slog.String("error", err.Error()))
	}
	grpcSrv.GracefulStop()
	logger.Info("stopped")
	return runErr
}

// openStore returns the configured store, a readiness probe over it and a
// close func.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (auth.Store, httpapi.ReadyProbe, func(), error) {
	if cfg.Storage == config.StorageMemory {
		logger.Warn("using in-memory storage; sessions are lost on restart")
		mem := memory.NewInMemory()
		return mem, httpapi.NewReadyProbe(mem), func() {}, nil
	}

	pgStore, err := pg.Open(cfg.PostgresDSN)
	if err != nil {
		return nil, httpapi.ReadyProbe{}, nil, fmt.Errorf("open postgres: %w", err)
	}
	closeFn := func() {
		if err := pgStore.Close(); err != nil {
			logger.Warn("close postgres", slog.String("error", err.Error()))
		}
	}
	if cfg.AutoMigrate {
		migrateCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		applied, err := migrate.NewManager(pgStore.DB(), migrations.FS()).Up(migrateCtx)
		if err != nil {
			closeFn()
			return nil, httpapi.ReadyProbe{}, nil, fmt.Errorf("auto migrate: %w", err)
		}
		for _, name := range applied {
			logger.Info("migration applied", slog.String("name", name))
		}
	}
	return pgStore, httpapi.NewReadyProbe(pgStore), closeFn, nil
}
