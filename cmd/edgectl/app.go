package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/yourorg/edge-orchestrator/internal/version"
	"github.com/yourorg/edge-orchestrator/pkg/action"
	"github.com/yourorg/edge-orchestrator/pkg/api"
	"github.com/yourorg/edge-orchestrator/pkg/auth"
	"github.com/yourorg/edge-orchestrator/pkg/config"
	"github.com/yourorg/edge-orchestrator/pkg/controller"
	"github.com/yourorg/edge-orchestrator/pkg/history"
	"github.com/yourorg/edge-orchestrator/pkg/lifecycle"
	"github.com/yourorg/edge-orchestrator/pkg/mapping"
	"github.com/yourorg/edge-orchestrator/pkg/metrics"
	"github.com/yourorg/edge-orchestrator/pkg/orchestrator"
	"github.com/yourorg/edge-orchestrator/pkg/rollout"
)

const drainTimeout = 10 * time.Second

// app holds the wired components of one edgectl invocation.
type app struct {
	logger     *zap.Logger
	dispatcher *orchestrator.Dispatcher
	server     *api.Server
	conn       *history.Connection
	journal    *history.Journal
}

// newApp builds every component from the loaded configuration and opens the
// controller session.
func newApp(ctx context.Context) (*app, error) {
	c, err := loadedConfig()
	if err != nil {
		return nil, err
	}
	if err := config.NewValidator().Validate(c); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	settings, err := c.Settings()
	if err != nil {
		return nil, err
	}

	logger, err := createLogger(c.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	a := &app{logger: logger}

	logger.Info("starting edgectl",
		zap.String("version", version.Version),
		zap.String("controller", c.Session().BaseURL))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	client, err := controller.NewVManageClient(c.Session(), logger,
		controller.WithMetrics(m),
		controller.WithUserAgent(version.UserAgent()))
	if err != nil {
		a.close()
		return nil, err
	}
	if err := client.Login(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to log in to controller: %w", err)
	}

	var recorder lifecycle.Recorder = lifecycle.NopRecorder{}
	if c.History.Enabled {
		a.conn, err = history.NewConnection(c.Database(), logger)
		if err != nil {
			a.close()
			return nil, err
		}
		a.journal = history.NewJournal(history.NewGormStore(a.conn.DB()), logger, history.DefaultQueueSize)
		recorder = a.journal
	}

	actions := action.NewTracker(client, c.ActionConfig(), logger, m)
	runs := rollout.NewTracker(logger)

	ops := lifecycle.NewOperations(lifecycle.Dependencies{
		Client:   client,
		Waiter:   actions,
		Tracker:  runs,
		Recorder: recorder,
		Metrics:  m,
		Logger:   logger,
		Out:      os.Stdout,
	}, settings)

	openExchange := func(path string) (lifecycle.Exchange, error) {
		wb, err := mapping.Open(path, logger)
		if err != nil {
			return nil, err
		}
		return wb, nil
	}
	a.dispatcher = orchestrator.NewDispatcher(ops, client, openExchange, c.Workflow.DeviceCategory, logger)

	if c.Status.Enabled {
		a.server = a.statusServer(c, runs, actions, registry)
		go func() {
			if err := a.server.Start(); err != nil {
				logger.Error("status server stopped", zap.Error(err))
			}
		}()
	}

	return a, nil
}

func (a *app) statusServer(c *config.Config, runs *rollout.Tracker, actions *action.Tracker, registry *prometheus.Registry) *api.Server {
	serverConfig := api.DefaultServerConfig()
	serverConfig.Host = c.Status.Host
	serverConfig.Port = c.Status.Port
	serverConfig.Debug = c.Logging.Development

	var mw *auth.Middleware
	if c.Status.JWTSecret != "" {
		mw = auth.NewMiddleware(auth.NewJWTManager(c.Status.JWTSecret, tokenIssuer, 24*time.Hour), a.logger)
	} else {
		a.logger.Warn("status API is not protected, set status.jwt_secret to require tokens")
	}

	var ready func(ctx context.Context) error
	if a.conn != nil {
		ready = func(context.Context) error { return a.conn.Ping() }
	}

	return api.NewServer(serverConfig, &api.Dependencies{
		Logger:   a.logger,
		Runs:     runs,
		Actions:  actions,
		Gatherer: registry,
		Auth:     mw,
		Ready:    ready,
	})
}

// close stops the status server and drains the history journal.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Error("failed to shutdown status server", zap.Error(err))
		}
	}
	if a.journal != nil {
		if err := a.journal.Close(ctx); err != nil {
			a.logger.Error("failed to drain history journal", zap.Error(err))
		}
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.logger.Error("failed to close history database", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// signalContext returns a context cancelled on SIGINT or SIGTERM. The
// shutdown is logged once logger holds a logger.
func signalContext(logger *atomic.Pointer[zap.Logger]) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigChan:
			if l := logger.Load(); l != nil {
				l.Info("received shutdown signal")
			}
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

// withApp runs fn with a fully wired app and releases it afterwards.
func withApp(fn func(ctx context.Context, a *app) (*lifecycle.Report, error)) (*lifecycle.Report, error) {
	var logger atomic.Pointer[zap.Logger]
	ctx, cancel := signalContext(&logger)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return nil, err
	}
	defer a.close()
	logger.Store(a.logger)

	return fn(ctx, a)
}
