package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/uptrace/bun"

	"studiobook/internal/config"
	"studiobook/internal/remote"
	"studiobook/internal/remote/hosted"
	"studiobook/internal/remote/local"
	"studiobook/internal/service/schedules"
	"studiobook/internal/session"
	"studiobook/internal/store"
	"studiobook/internal/store/postgres"
	httpTransport "studiobook/internal/transport/http"
	"studiobook/migrations"
)

func main() {
	_ = godotenv.Load()

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With(
		slog.String("service", "studiobook-server"),
	)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})).With(
		slog.String("service", "studiobook-server"),
	)
	slog.SetDefault(log)

	addr := net.JoinHostPort(cfg.HTTPHost, fmt.Sprintf("%d", cfg.HTTPPort))
	log.Info("starting", slog.String("addr", addr), slog.String("mode", cfg.Mode), slog.String("log_level", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		authSvc   remote.AuthService
		notifier  remote.Notifier
		verifier  httpTransport.TokenVerifier
		profiles  store.ProfileStore
		schedRepo store.ScheduleStore
		db        *bun.DB
	)

	switch cfg.Mode {
	case config.ModeLocal:
		log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
		db, err = postgres.Connect(ctx, cfg.DatabaseURL, postgres.PoolConfig{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: cfg.DBConnMaxLifetime,
			ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
		})
		if err != nil {
			args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseURL)...)
			log.Error("database connection failed", args...)
			os.Exit(1)
		}
		defer func() {
			if err := postgres.Close(db); err != nil {
				log.Warn("database close failed", slog.Any("err", err))
			}
		}()

		if err := migrations.Up(db.DB); err != nil {
			log.Error("migrations failed", slog.Any("err", err))
			os.Exit(1)
		}

		authRepo := postgres.NewAuthRepo(db)
		localAuth := local.New(authRepo, authRepo, local.Config{
			Secret:              cfg.JWTSecret,
			AccessTTL:           cfg.AccessTokenTTL,
			RefreshTTL:          cfg.RefreshTokenTTL,
			RequireConfirmation: cfg.RequireConfirm,
		}, log)

		authSvc = localAuth
		notifier = localAuth
		verifier = localAuth
		profiles = postgres.NewProfileRepo(db)
		schedRepo = postgres.NewScheduleRepo(db)

		startTokenPurge(ctx, log, authRepo)

	case config.ModeHosted:
		hostedAuth := hosted.NewAuth(cfg.RemoteBaseURL, cfg.RemoteAPIKey, nil, log)
		rows := hosted.NewRows(hostedAuth.Client())

		authSvc = hostedAuth
		notifier = hostedAuth
		verifier = hostedAuth
		profiles = rows
		schedRepo = rows
	}

	resolver := session.NewResolver(authSvc, profiles, log)
	sessions := session.NewManager(authSvc, notifier, resolver, log)
	sessions.Start(ctx)

	scheduleSvc := schedules.NewService(schedRepo, log)
	limiter := httpTransport.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	server := httpTransport.NewServer(sessions, verifier, resolver, scheduleSvc, limiter, log)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	log.Info("http server started", slog.String("addr", addr))

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
		shutdown(log, httpServer, cfg.ShutdownTimeout)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped with error", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

// startTokenPurge drops expired refresh tokens once an hour for the
// lifetime of ctx.
func startTokenPurge(ctx context.Context, log *slog.Logger, tokens store.RefreshTokenStore) {
	c := cron.New()
	_, err := c.AddFunc("@hourly", func() {
		n, err := tokens.PurgeExpiredRefreshTokens(ctx)
		if err != nil {
			log.Warn("refresh token purge failed", slog.Any("err", err))
			return
		}
		if n > 0 {
			log.Info("purged expired refresh tokens", slog.Int64("count", n))
		}
	})
	if err != nil {
		log.Warn("token purge schedule failed", slog.Any("err", err))
		return
	}
	c.Start()
	go func() {
		<-ctx.Done()
		c.Stop()
	}()
}

func shutdown(log *slog.Logger, s *http.Server, timeout time.Duration) {
	log.Info("shutting down http server", slog.Duration("timeout", timeout))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.Shutdown(ctx); err != nil {
		log.Warn("http graceful shutdown timed out; forcing close", slog.Any("err", err))
		_ = s.Close()
		return
	}
	log.Info("http server stopped")
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func databaseLogArgs(databaseURL string) []any {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []any{slog.String("db_url", "invalid")}
	}
	name := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "default"
	}
	if host == "" {
		host = "unknown"
	}
	if name == "" {
		name = "unknown"
	}
	return []any{
		slog.String("db_host", host),
		slog.String("db_port", port),
		slog.String("db_name", name),
	}
}
