package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"rescuefusion/internal/alerts"
	"rescuefusion/internal/api"
	"rescuefusion/internal/broadcast"
	"rescuefusion/internal/coalesce"
	"rescuefusion/internal/config"
	"rescuefusion/internal/fusion"
	"rescuefusion/internal/ingest"
	"rescuefusion/internal/logging"
	"rescuefusion/internal/metrics"
	"rescuefusion/internal/model"
	"rescuefusion/internal/retention"
	"rescuefusion/internal/storage"
)

var watchInterval time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingest adapters, fusion workers, broadcast sinks and operator API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		mgr, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(ctx, mgr)
	},
}

func init() {
	serveCmd.Flags().DurationVar(&watchInterval, "watch-interval", 3*time.Second, "how often the config file is checked for changes")
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, mgr *config.Manager) error {
	cfg := mgr.Get()
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting rescuefusion", "version", version, "config", mgr.Path(), "storage", cfg.Storage.Driver)

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		return eris.Wrapf(err, "init %s store", cfg.Storage.Driver)
	}

	emitter, hub := broadcast.Setup(cfg.Broadcast, logger)
	defer emitter.Close()

	counters := &metrics.Counters{}
	rates := metrics.NewStore(cfg.Metrics.StoreLimit)
	triage := alerts.NewTriage(alerts.NewStore(cfg.Alerts.StoreLimit), alerts.PolicyFromConfig(cfg.Alerts), logger)
	orch := fusion.New(cfg, store, emitter, triage, counters, logger)
	coalescer := coalesce.New(func(ctx context.Context, msg model.WifiMessage) error {
		_, err := orch.ProcessWifi(ctx, msg)
		return err
	}, coalesce.OptionsFromConfig(cfg.Coalescer), logger, rates)
	sweeper := retention.NewSweeper(store, cfg.Retention.InactivityTimeout, triage, counters, logger)

	frames := make(chan model.VisionFrame, cfg.Ingest.ChannelBuffer)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return coalescer.Run(gctx) })
	g.Go(func() error {
		orch.Start(gctx, frames, cfg.Ingest.Workers).Wait()
		return nil
	})
	g.Go(func() error {
		_, err := ingest.StartMQTT(gctx, mgr, coalescer, logger)
		return err
	})
	g.Go(func() error { return retention.Start(gctx, cfg.Retention, sweeper, logger) })
	g.Go(func() error {
		mgr.Watch(gctx, watchInterval, func(next *config.Config) {
			orch.UpdateConfig(next)
			sweeper.SetTimeout(next.Retention.InactivityTimeout)
			logger.Info("config reloaded", "path", mgr.Path())
		}, func(err error) {
			logger.Warn("config reload failed", "path", mgr.Path(), "error", err)
		})
		return nil
	})

	ingest.StartKafka(gctx, mgr, frames, &counters.FramesDropped, logger)
	ingest.StartHTTP(gctx, mgr, orch, coalescer, logger)
	ingest.StartTCPStream(gctx, mgr, coalescer, logger)
	ingest.StartReplay(gctx, mgr, coalescer, logger)

	deps := api.Deps{
		Config:    mgr,
		Store:     store,
		Fusion:    orch,
		Rates:     rates,
		Counters:  counters,
		Coalescer: coalescer,
		Triage:    triage,
		Logger:    logger,
		Version:   version,
	}
	// a nil *Hub must not become a non-nil http.Handler
	if hub != nil {
		deps.Hub = hub
	}
	api.Start(gctx, deps)

	err = g.Wait()
	logger.Info("rescuefusion stopped", "coalescer", coalescer.Stats(), "counters", counters.Snapshot())
	return err
}
