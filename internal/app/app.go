package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/dkarpov/certmail/internal/api"
	"github.com/dkarpov/certmail/internal/config"
	"github.com/dkarpov/certmail/internal/mailer"
	"github.com/dkarpov/certmail/internal/metrics"
	"github.com/dkarpov/certmail/internal/project"
	"github.com/dkarpov/certmail/internal/quota"
	"github.com/dkarpov/certmail/internal/render"
	"github.com/dkarpov/certmail/internal/sender"
	"github.com/dkarpov/certmail/internal/sheets"
	certtls "github.com/dkarpov/certmail/internal/tls"
)

// App is the main application
type App struct {
	config      *config.Config
	db          *bolt.DB
	apiServer   *api.Server
	tlsProvider *certtls.Provider
	logger      *slog.Logger
	version     string
}

// New creates a new application
func New(cfg *config.Config, version string) (*App, error) {
	logger := SetupLogger(cfg.Logging)

	db, err := OpenQuotaDB(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}

	limiter, err := quota.NewLimiter(db, cfg.Quota)
	if err != nil {
		return nil, fmt.Errorf("failed to create quota limiter: %w", err)
	}
	if db != nil {
		logger.Info("quota counters persisted", "path", cfg.Storage.Path)
	}

	compositor, err := BuildCompositor(cfg, logger)
	if err != nil {
		return nil, err
	}

	var mx *metrics.Metrics
	if cfg.Metrics.Enabled {
		mx = metrics.New()
		logger.Info("metrics enabled", "path", cfg.Metrics.Path)
	}

	m := BuildMailer(cfg)
	snd := sender.New(compositor, m, limiter, mx, logger, cfg.Mail.SendTimeout)

	tlsProvider, err := certtls.NewProvider(cfg.API.TLS)
	if err != nil {
		return nil, err
	}
	if tlsProvider != nil {
		logger.Info("TLS enabled for API listener")
	}

	apiServer := api.NewServer(
		project.NewStore(),
		sheets.NewClient(0),
		compositor,
		snd,
		cfg,
		mx,
		logger.With("component", "api"),
		version,
	)

	return &App{
		config:      cfg,
		db:          db,
		apiServer:   apiServer,
		tlsProvider: tlsProvider,
		logger:      logger,
		version:     version,
	}, nil
}

// Run starts the API server and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting certmail",
		"version", a.version,
		"api_addr", a.config.API.ListenAddr,
		"backend", a.config.Mail.Backend,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if a.tlsProvider != nil {
			err = a.apiServer.ListenAndServeTLS(a.tlsProvider)
		} else {
			err = a.apiServer.ListenAndServe()
		}
		if err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("storage close error", "error", err)
		}
	}

	a.logger.Info("shutdown complete")
	return nil
}

// SetupLogger creates a logger based on configuration
func SetupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// OpenQuotaDB opens the quota counter database. An empty path keeps
// counters in memory only.
func OpenQuotaDB(path string) (*bolt.DB, error) {
	if path == "" {
		return nil, nil
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open quota database: %w", err)
	}
	return db, nil
}

// BuildMailer creates the outbound mail backend from configuration
func BuildMailer(cfg *config.Config) mailer.Mailer {
	if cfg.Mail.Backend == config.BackendSMTP {
		return mailer.NewSMTPMailer(cfg.Mail.SMTP)
	}
	return mailer.NewGmailMailer(cfg.Mail.SendTimeout)
}

// BuildCompositor creates the certificate compositor, loading any
// extra fonts from the configured directory
func BuildCompositor(cfg *config.Config, logger *slog.Logger) (*render.Compositor, error) {
	fonts, err := render.NewFontRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded fonts: %w", err)
	}
	if cfg.Render.FontsDir != "" {
		if err := fonts.LoadDir(cfg.Render.FontsDir); err != nil {
			return nil, fmt.Errorf("failed to load fonts from %s: %w", cfg.Render.FontsDir, err)
		}
		logger.Info("extra fonts loaded", "dir", cfg.Render.FontsDir, "families", fonts.Families())
	}
	return render.NewCompositor(fonts), nil
}
