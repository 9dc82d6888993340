package app

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"fasttrack/internal/artifacts"
	"fasttrack/internal/authority"
	"fasttrack/internal/config"
	"fasttrack/internal/controller"
	"fasttrack/internal/repository"
	"fasttrack/internal/router"
	"fasttrack/internal/service"
)

const refreshSweepInterval = time.Minute

type App struct {
	repo       *repository.Repository
	authority  authority.TokenAuthority
	store      artifacts.Store
	service    *service.Service
	controller *controller.Controller
	stopSig    chan os.Signal
	cfg        *config.Config

	Done chan struct{}
}

type option func(*App)

func WithConfig(cfg *config.Config) option {
	return func(app *App) {
		app.cfg = cfg
	}
}

// WithAuthority overrides the token authority client, for tests.
func WithAuthority(auth authority.TokenAuthority) option {
	return func(app *App) {
		app.authority = auth
	}
}

// WithStore overrides the artifact blob store, for tests.
func WithStore(store artifacts.Store) option {
	return func(app *App) {
		app.store = store
	}
}

func NewApp(opts ...option) (*App, error) {
	var err error

	app := &App{
		stopSig: make(chan os.Signal, 2),
		Done:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(app)
	}

	if app.cfg == nil {
		cfg, err := config.NewConfig()
		if err != nil {
			return nil, err
		}
		app.cfg = cfg
	}

	setupLogger(app.cfg.LogLevel)

	app.repo, err = repository.NewRepository(nil, &app.cfg.PostgresConfig)
	if err != nil {
		return nil, err
	}

	if app.authority == nil {
		app.authority = authority.NewClient(app.cfg.AuthorityConfig)
	}
	if app.store == nil {
		app.store, err = artifacts.NewMinioStore(
			app.cfg.StorageConfig.Endpoint,
			app.cfg.StorageConfig.AccessKey,
			app.cfg.StorageConfig.SecretKey,
			app.cfg.StorageConfig.Bucket,
			app.cfg.StorageConfig.UseSSL,
		)
		if err != nil {
			return nil, err
		}
	}

	app.service = service.NewService(app.repo, app.authority, app.store,
		service.WithRefreshThreshold(app.cfg.TokenConfig.RefreshThreshold))
	app.controller = controller.NewController(app.service)

	return app, nil
}

func (app *App) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		signal.Notify(app.stopSig, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
		sig := <-app.stopSig
		slog.Info("received signal", "signal", sig.String())
		cancel()
	}()

	go app.refreshSweep(ctx)

	server := http.Server{
		Addr:         app.cfg.ServerAddress,
		Handler:      router.NewRouter(app.controller),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	slog.Info("server started, listening for connections", "address", app.cfg.ServerAddress)
	<-ctx.Done()

	timeout, tcancel := context.WithTimeout(context.Background(), time.Second*10)
	defer tcancel()
	slog.Info("shutting down http server")
	server.Shutdown(timeout)

	slog.Info("closing repository")
	err := app.repo.Close()
	if err != nil {
		slog.Error("repository closing error", "error", err)
	}

	close(app.Done)
	slog.Info("exiting app")
}

// refreshSweep proactively re-issues machine tokens that approach expiry.
func (app *App) refreshSweep(ctx context.Context) {
	ticker := time.NewTicker(refreshSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := app.service.RefreshExpiringTokens(ctx); err != nil {
				slog.Error("token refresh sweep failed", "error", err)
			}
		}
	}
}

func setupLogger(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      lvl,
		TimeFormat: time.RFC3339,
	})))
}
