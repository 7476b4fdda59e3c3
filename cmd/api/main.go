package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"

	"userboard.io/internal/auth"
	"userboard.io/internal/config"
	"userboard.io/internal/events"
	"userboard.io/internal/housekeeping"
	"userboard.io/internal/httpapi"
	"userboard.io/internal/keys"
	"userboard.io/internal/obs"
	"userboard.io/internal/onboarding"
	"userboard.io/internal/token"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := config.LoadEnvFiles(".env"); err != nil {
		fatal("load env files", err)
	}
	cfg, err := config.Load()
	if err != nil {
		fatal("load config", err)
	}

	logger := obs.NewLogger(os.Stdout, cfg.LogLevel)
	obs.SetLogger(logger)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	provider := keys.NewProvider(cfg.PrivateKeyPath, cfg.PublicKeyPath)
	if err := provider.Init(); err != nil {
		fatal("load signing keys", err)
	}
	material, err := provider.Material()
	if err != nil {
		fatal("load signing keys", err)
	}
	tokens, err := token.New(material,
		token.WithIssuer(cfg.Issuer),
		token.WithAccessTTL(cfg.AccessTTL),
		token.WithRefreshTTL(cfg.RefreshTTL),
	)
	if err != nil {
		fatal("token service", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		db    *sql.DB
		store auth.Store
	)
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			fatal("open db", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = auth.NewPGStore(db)
	} else {
		logger.Warn("USERBOARD_DATABASE_URL not set, using in-memory store")
		store = auth.NewMemoryStore()
	}

	svc, err := auth.NewService(store, tokens,
		auth.WithRotation(cfg.RotateRefreshTokens),
		auth.WithRevokedRetention(cfg.RevokedRetention),
		auth.WithLogger(logger),
	)
	if err != nil {
		fatal("auth service", err)
	}

	bus := events.NewBus(events.WithLogger(logger))
	bus.Handle(ctx, "notifier", events.AllTopics, events.NewLogNotifier(logger).Handle)

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = events.Dial(ctx, cfg.RedisURL)
		if err != nil {
			fatal("connect redis", err)
		}
		fwd := events.NewRedisForwarder(rdb, cfg.EventChannelPrefix, logger)
		bus.Handle(ctx, "redis", events.AllTopics, fwd.Handle)
	}

	machine := onboarding.New(store, bus,
		onboarding.WithLogger(logger),
		onboarding.WithPhoneRegion(cfg.PhoneRegion),
	)
	if cfg.BootstrapAdminEmail != "" {
		admin, err := machine.Bootstrap(ctx, cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword)
		if err != nil {
			fatal("bootstrap admin", err)
		}
		logger.Info("bootstrap admin ready", slog.String("user_id", admin.ID))
	}

	go housekeeping.NewWorker(svc, logger, cfg.PurgeInterval).Start(ctx)

	ready := httpapi.ReadyProbe{DB: db, Redis: rdb}
	api := httpapi.New(httpapi.Deps{
		Auth:           svc,
		Onboarding:     machine,
		Bus:            bus,
		Ready:          ready,
		Version:        version,
		Logger:         logger,
		CORSOrigins:    cfg.CORSOrigins,
		SecureCookies:  cfg.SecureCookies,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	// No WriteTimeout: /v1/admin/events holds the response open.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	logger.Info("starting userboard-api",
		slog.String("version", version),
		slog.String("addr", srv.Addr))
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("listen", err)
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPCEnabled() {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			fatal("grpc listen", err)
		}
		grpcSrv = grpc.NewServer()
		grpc_health_v1.RegisterHealthServer(grpcSrv, httpapi.NewGRPCHealth(ready))
		logger.Info("starting grpc health", slog.String("addr", cfg.GRPCAddr))
		go func() {
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				logger.Error("grpc serve", slog.String("error", err.Error()))
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", slog.String("error", err.Error()))
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	bus.Close()
	if rdb != nil {
		_ = rdb.Close()
	}
	if db != nil {
		_ = db.Close()
	}
	logger.Info("stopped")
}

func fatal(msg string, err error) {
	obs.Logger().Error(msg, slog.String("error", err.Error()))
	os.Exit(1)
}
