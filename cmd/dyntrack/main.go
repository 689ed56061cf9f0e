// Dyntrack - dynamic price-tracking trade-trigger engine
//
// Given a directional signal, the engine opens a bounded observation
// window, tracks the most favorable price inside it, and executes on
// a confirmed reversal or on the window deadline. Buy and sell
// executions strictly alternate.
//
// The upstream indicator evaluator is external: it feeds candidates
// in through core.Engine.HandleSignal.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dyntrade/tracker/bot"
	"github.com/dyntrade/tracker/config"
	"github.com/dyntrade/tracker/core"
	"github.com/dyntrade/tracker/detector"
	"github.com/dyntrade/tracker/feeds"
	"github.com/dyntrade/tracker/position"
	"github.com/dyntrade/tracker/scheduler"
	"github.com/dyntrade/tracker/stats"
	"github.com/dyntrade/tracker/storage"
	"github.com/dyntrade/tracker/tracker"
)

const version = "1.2.0"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Str("version", version).
		Str("symbol", cfg.Symbol).
		Bool("dry_run", cfg.DryRun).
		Msg("🚀 Dyntrack starting")

	db, err := storage.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	trk, err := tracker.New(tracker.Config{
		BuyWindowDuration:    cfg.BuyWindowDuration,
		SellWindowDuration:   cfg.SellWindowDuration,
		MaxConcurrentWindows: cfg.MaxConcurrentWindows,
		Detector: detector.Config{
			ReversalThreshold:   cfg.ReversalThreshold,
			ConfirmationPeriods: cfg.ConfirmationPeriods,
			NoiseThreshold:      cfg.NoiseThreshold,
			MaxMovePercent:      cfg.MaxMovePercent,
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid tracker configuration")
	}

	sched := scheduler.NewWindowManager(scheduler.Config{
		PollInterval:       cfg.MonitorPollInterval,
		WarningThreshold:   cfg.WarningThreshold,
		CompletedRetention: cfg.CompletedRetention,
	})

	pos := position.New(cfg.ObservationDuration)
	feed := feeds.NewBinanceFeed(cfg.Symbol)

	engine := core.NewEngine(pos, trk, sched, stats.New(), feed, db, cfg.DryRun)

	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		notifier, err := bot.NewNotifier(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Warn().Err(err).Msg("Telegram disabled")
		} else {
			engine.SetNotifier(notifier)
		}
	}

	if err := engine.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start engine")
	}

	// Maintenance: hourly retention sweep, daily stats snapshot
	c := cron.New()
	c.AddFunc("@hourly", func() { engine.Cleanup(cfg.CompletedRetention) })
	c.AddFunc("@daily", func() { engine.PersistStats() })
	c.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutting down...")
	c.Stop()
	engine.Stop()
	engine.PersistStats()
}
