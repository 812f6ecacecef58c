package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/uamuzi/internal/config"
	"github.com/jkaninda/uamuzi/internal/engine"
	"github.com/jkaninda/uamuzi/internal/gateway/httpapi"
	"github.com/jkaninda/uamuzi/internal/gateway/ws"
	"github.com/jkaninda/uamuzi/internal/ratelimit"
	"github.com/jkaninda/uamuzi/internal/scheduler"
)

var (
	serveConfigPath string
	servePort       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP gateway and the cron scheduler",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `uamuzi --config path` and `uamuzi serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&servePort, "port", "", "override HTTP listen address (e.g. :8080)")
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("UAMUZI_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}
	if cfg.Gateway == nil {
		cfg.Gateway = &config.GatewayConfig{Enabled: true}
	}
	if servePort != "" {
		cfg.Gateway.ListenAddr = servePort
	}

	logger.Info("starting in server mode", slog.String("config", serveConfigPath))

	eng, err := engine.New(cfg, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs := eng.Observability()

	// Cron scheduler (optional).
	var sched *scheduler.Scheduler
	if cfg.Scheduler != nil && len(cfg.Scheduler.Jobs) > 0 {
		var schedMetrics *scheduler.Metrics
		if m := obs.MetricsOrNil(); m != nil {
			schedMetrics = scheduler.NewMetrics(m.Registry)
		}
		sched, err = scheduler.New(cfg.Scheduler, eng, schedMetrics, logger)
		if err != nil {
			return err
		}
		stopSched := sched.Start(ctx)
		defer stopSched()
	}

	gwCfg := httpapi.Config{
		ListenAddr:     cfg.Gateway.Addr(),
		AuthToken:      cfg.Gateway.AuthToken,
		EnableDocs:     cfg.Gateway.EnableDocs,
		MaxRequestSize: cfg.Gateway.MaxRequestSize(),
	}
	if obs != nil {
		if m := obs.MetricsOrNil(); m != nil {
			gwCfg.MetricsRegistry = m.Registry
			gwCfg.Metrics = m
		}
		if cfg.Observability != nil && cfg.Observability.Metrics != nil {
			gwCfg.MetricsPath = cfg.Observability.Metrics.MetricsPath()
		}
		gwCfg.HealthChecker = obs.Health
		if t := obs.TracerOrNil(); t != nil {
			gwCfg.Tracer = t.Tracer()
		}
	}

	var limiter *ratelimit.Limiter
	if cfg.Gateway.RequestsPerMinute > 0 {
		limiter = ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.Gateway.RequestsPerMinute,
		})
	}

	gw := httpapi.NewGateway(gwCfg, eng, eng.Store().Runs(), limiter, logger)
	if cfg.Gateway.SSE {
		gw.WithSSE(true)
	}
	if sched != nil {
		gw.WithScheduler(sched)
	}
	if cfg.Gateway.WebSocket {
		wsServer := ws.NewServer(eng, eng.Store().Runs(), cfg.Gateway.AuthToken, logger)
		gw.WithHandler(cfg.Gateway.WSPath(), wsServer.Handler())
		logger.Debug("websocket endpoint mounted", slog.String("path", cfg.Gateway.WSPath()))
	}

	errCh := make(chan error, 1)
	go func() { errCh <- gw.Start(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return gw.Stop(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
