package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/vitos/alpha_monitor/internal/web"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduled collector, the broker and the stream server",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		hub := web.NewHub(web.HubConfig{
			SnapshotInterval:  cfg.Fanout.SnapshotInterval,
			HeartbeatInterval: cfg.Fanout.HeartbeatInterval,
			WriteTimeout:      cfg.Fanout.WriteTimeout,
			SendBuffer:        cfg.Fanout.SendBuffer,
		}, a.bus, a.reader, a.recorder, log.Named("fanout"))
		if err := hub.Start(ctx); err != nil {
			return err
		}

		server := web.NewServer(cfg.Server.Port, hub, a.reader, a.collector, a.recorder, log.Named("web"))

		// Jobs run on the background context so a signal never cuts a cycle short.
		jobCtx := context.Background()
		scheduler := cron.New(cron.WithLogger(cronLogger{log.Named("cron")}))
		if _, err := scheduler.AddFunc(cfg.Collector.Schedule, func() { runCycle(jobCtx, a) }); err != nil {
			return err
		}
		if _, err := scheduler.AddFunc(cfg.Collector.CleanupSchedule, func() { _, _ = a.retention.Prune(jobCtx) }); err != nil {
			return err
		}
		scheduler.Start()

		var startup sync.WaitGroup
		if *cfg.Collector.RunOnStart {
			startup.Add(1)
			go func() {
				defer startup.Done()
				runCycle(jobCtx, a)
			}()
		}

		serverErr := make(chan error, 1)
		go func() {
			serverErr <- server.Start()
		}()

		log.Info("Monitor started",
			zap.Int("port", cfg.Server.Port),
			zap.String("schedule", cfg.Collector.Schedule),
			zap.String("driver", cfg.Database.Driver))

		select {
		case <-ctx.Done():
		case err := <-serverErr:
			if err != nil {
				log.Error("Server failed", zap.Error(err))
			}
		}

		log.Info("Shutting down...")
		// Stop scheduling first, then wait for an in-flight cycle.
		<-scheduler.Stop().Done()
		startup.Wait()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("Server shutdown", zap.Error(err))
		}
		return nil
	},
}

func runCycle(ctx context.Context, a *app) {
	run, err := a.collector.RunCycle(ctx)
	if err != nil {
		a.log.Error("Collection cycle failed", zap.Error(err))
		return
	}
	if run == nil {
		return
	}
	a.log.Info("Collection cycle finished",
		zap.String("run_id", run.ID),
		zap.Int("records", run.RecordsProcessed),
		zap.Duration("duration", run.Duration))
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
