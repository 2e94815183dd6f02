// Command conveyord runs the Conveyor job engine as a standalone
// daemon: worker pool, reaper, retention janitor, admin HTTP API,
// and the optional AMQP ingress, over the configured store backend.
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

	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"

	"github.com/pressline/conveyor"
	"github.com/pressline/conveyor/api"
	"github.com/pressline/conveyor/engine"
	ingress "github.com/pressline/conveyor/ingress/amqp"
	"github.com/pressline/conveyor/maintenance"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "conveyord:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	conveyorCfg := conveyor.DefaultConfig()
	conveyorCfg.Queues = cfg.Queues
	conveyorCfg.Concurrency = cfg.Concurrency
	conveyorCfg.LeaseDuration = cfg.LeaseDuration
	conveyorCfg.ShutdownTimeout = cfg.ShutdownTimeout

	c, err := conveyor.New(
		conveyor.WithStore(st),
		conveyor.WithLogger(logger),
		conveyor.WithConfig(conveyorCfg),
	)
	if err != nil {
		return err
	}
	eng, err := engine.Build(c)
	if err != nil {
		return err
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	janitor := maintenance.New(eng.Queue(), eng.DLQ(), maintenance.Retention{
		CompletedAfter: cfg.RetainCompleted,
		FailedAfter:    cfg.RetainFailed,
		DLQAfter:       cfg.RetainDLQ,
		Schedule:       cfg.RetentionSchedule,
	}, maintenance.WithLogger(logger))
	if err := janitor.Start(); err != nil {
		return err
	}

	var bridge *ingress.Bridge
	if cfg.AMQPURL != "" {
		bridge = ingress.New(ingress.Config{
			URL:        cfg.AMQPURL,
			Exchange:   cfg.AMQPExchange,
			Queue:      cfg.AMQPQueue,
			RoutingKey: cfg.AMQPRoutingKey,
		}, eng, ingress.WithLogger(logger))
		if err := bridge.Start(ctx); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.New(eng, api.WithLogger(logger)).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("admin api listening", slog.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", slog.String("error", err.Error()))
		}
		if bridge != nil {
			if err := bridge.Stop(); err != nil {
				logger.Error("amqp shutdown", slog.String("error", err.Error()))
			}
		}
		janitor.Stop()
		return eng.Stop(shutdownCtx)
	})

	return g.Wait()
}

func newLogger(cfg config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(os.Stdout, &tint.Options{Level: level, TimeFormat: time.TimeOnly})
	}
	return slog.New(handler)
}
