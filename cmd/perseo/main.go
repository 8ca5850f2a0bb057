// Perseo: identity, tenancy and directory service for school administration.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/d9705996/perseo/internal/account"
	"github.com/d9705996/perseo/internal/api"
	"github.com/d9705996/perseo/internal/api/handler"
	"github.com/d9705996/perseo/internal/api/middleware"
	"github.com/d9705996/perseo/internal/audit"
	"github.com/d9705996/perseo/internal/auth"
	"github.com/d9705996/perseo/internal/config"
	"github.com/d9705996/perseo/internal/db"
	"github.com/d9705996/perseo/internal/directory"
	"github.com/d9705996/perseo/internal/health"
	"github.com/d9705996/perseo/internal/notify"
	"github.com/d9705996/perseo/internal/observability"
	"github.com/d9705996/perseo/internal/seed"
	"github.com/d9705996/perseo/internal/tenant"
	"github.com/d9705996/perseo/internal/version"
	"github.com/d9705996/perseo/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability -------------------------------------------------------
	obs, log, err := observability.New(ctx, &observability.Config{
		ServiceName:    "perseo",
		ServiceVersion: version.Version,
		LogLevel:       cfg.Log.Level,
		LogFormat:      cfg.Log.Format,
		OTLPEndpoint:   cfg.OTel.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer obs.Shutdown(context.Background())
	slog.SetDefault(log)
	log.Info("starting perseo", "version", version.String(), "db_driver", cfg.DB.Driver)

	// --- Database ------------------------------------------------------------
	// db.New opens the connection, runs migrations (AutoMigrate for SQLite,
	// golang-migrate for Postgres), and returns the GORM handle plus an
	// optional pgxpool (non-nil only for postgres, used by River).
	gormDB, pool, err := db.New(ctx, &cfg.DB)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	if pool != nil {
		defer pool.Close()
	}
	log.Info("database ready", "driver", cfg.DB.Driver)

	signer := auth.NewSigner(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessTTL, time.Now)
	refresh := auth.NewRefreshStore(gormDB, cfg.JWT.RefreshTTL, time.Now)

	// --- Worker queue --------------------------------------------------------
	// River migrations only run when Postgres is available.
	if pool != nil {
		if err := worker.MigrateRiver(ctx, pool); err != nil {
			return fmt.Errorf("river migrations: %w", err)
		}
		log.Info("river migrations applied")
	}

	wq, err := worker.New(worker.Deps{
		Pool:            pool,
		Driver:          cfg.DB.Driver,
		Concurrency:     cfg.Worker.Concurrency,
		CleanupInterval: cfg.Worker.TokenCleanupInterval,
		Mailer:          notify.LogMailer{Log: log},
		Cleaner:         refresh,
		Log:             log,
	})
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}
	if err := wq.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := wq.Stop(stopCtx); err != nil {
			log.Error("worker stop error", "err", err)
		}
	}()

	// --- Services ------------------------------------------------------------
	accounts, err := account.New(account.Options{
		DB:       gormDB,
		Signer:   signer,
		Refresh:  refresh,
		Notifier: worker.Notifier{Queue: wq},
		Log:      log,
		Meter:    obs.Meter("github.com/d9705996/perseo/internal/account"),
	})
	if err != nil {
		return fmt.Errorf("create account service: %w", err)
	}

	// --- Seed admin ----------------------------------------------------------
	if _, err := seed.EnsureAdmin(ctx, gormDB, seed.AdminOptions{
		Email:        cfg.App.SeedAdminEmail,
		SeedPassword: cfg.App.SeedAdminPassword,
		Out:          os.Stdout,
	}, log); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	// --- HTTP routes ---------------------------------------------------------
	healthHandler := health.New(db.NewPinger(gormDB))
	if pool != nil {
		healthHandler.With("queue", pool)
	}
	handlers := api.Handlers{
		Health:    healthHandler,
		Auth:      handler.NewAuthHandler(accounts, signer, refresh, auth.Cookies{Secure: cfg.Auth.CookieSecure}, log),
		Tenants:   handler.NewTenantHandler(tenant.New(gormDB, time.Now), log),
		Users:     handler.NewUserHandler(accounts, log),
		Directory: handler.NewDirectoryHandler(directory.New(gormDB, time.Now), log),
		Audit:     handler.NewAuditHandler(audit.NewReader(gormDB), log),
	}

	metrics, err := middleware.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("register http metrics: %w", err)
	}
	limiter := middleware.NewRateLimiter(cfg.Auth.LoginRate, cfg.Auth.LoginBurst)

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, handlers, signer, limiter)
	// Prometheus metrics endpoint
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      api.Wrap(mux, log, obs.Tracer("github.com/d9705996/perseo/internal/api"), metrics, cfg.HTTP.TrustedProxies),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Start server --------------------------------------------------------
	log.Info("http server listening", "addr", srv.Addr)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	log.Info("server stopped cleanly")
	return nil
}
