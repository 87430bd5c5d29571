package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"PatternEngine/internal/domain/repository"
	"PatternEngine/internal/services/optimization"
	"PatternEngine/pkg/config"
	xhttp "PatternEngine/pkg/http"
	pkgkafka "PatternEngine/pkg/kafka"
	applogger "PatternEngine/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	httpServer *xhttp.Server
	optimizer  *optimization.Engine
	consumer   *pkgkafka.Consumer
	kh         pkgkafka.MessageHandler
	store      repository.PatternStore
}

// New creates a new App instance with all dependencies. consumer and kh may
// be nil when ingest is disabled.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	httpServer *xhttp.Server,
	optimizer *optimization.Engine,
	consumer *pkgkafka.Consumer,
	kh pkgkafka.MessageHandler,
	store repository.PatternStore,
) *App {
	if l == nil {
		l = applogger.Nop()
	}
	return &App{
		cfg:        cfg,
		log:        l,
		httpServer: httpServer,
		optimizer:  optimizer,
		consumer:   consumer,
		kh:         kh,
		store:      store,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts every component and blocks until ctx is done.
func (a *App) RunContext(ctx context.Context) error {
	if err := a.optimizer.Start(); err != nil {
		return fmt.Errorf("cache maintenance: %w", err)
	}

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		if err := a.consumer.Start(); err != nil {
			a.optimizer.Stop()
			return fmt.Errorf("kafka consumer: %w", err)
		}
		a.log.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		a.shutdown(context.Background())
		return err
	}
	a.log.Info("pattern engine started",
		applogger.String("store", a.cfg.Store.Type),
		applogger.Int("port", a.cfg.Server.Port),
		applogger.Bool("ingest", a.consumer != nil),
	)

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	a.shutdown(context.Background())
	return nil
}

// shutdown stops intake first, then background work, then the store.
func (a *App) shutdown(ctx context.Context) {
	a.log.Info("shutting down...")

	if err := a.httpServer.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	if a.consumer != nil {
		stopCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
		if err := a.consumer.Stop(stopCtx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
		cancel()
	}

	a.optimizer.Stop()

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("store close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
}
