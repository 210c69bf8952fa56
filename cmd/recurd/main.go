package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/civil"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"

	"RecurLedger/internal/api"
	"RecurLedger/internal/config"
	"RecurLedger/internal/engine"
	"RecurLedger/internal/ledger"
	"RecurLedger/internal/logger"
	"RecurLedger/internal/model"
	"RecurLedger/internal/notifier"
	"RecurLedger/internal/scheduler"
	"RecurLedger/internal/store"
)

func main() {
	backfillFrom := flag.String("backfill-from", "", "execute every date from YYYY-MM-DD through today, then exit")
	flag.Parse()

	cfgPath := config.Path()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		bootLog := logger.New("info", true)
		bootLog.Fatal().Err(err).Msg("load config")
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Console)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config validation")
	}
	log.Info().Str("config", cfgPath).Msg("RecurLedger starting")

	loc, _ := cfg.Location()
	clock := model.SystemClock{Location: loc}

	st, err := store.Open(store.Config{
		Driver:      cfg.Storage.Driver,
		DataDir:     cfg.Storage.DataDir,
		SQLitePath:  cfg.Storage.SQLitePath,
		PostgresDSN: cfg.Storage.PostgresDSN,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("open store")
	}
	defer st.Close()

	var writer model.LedgerWriter
	switch cfg.Ledger.Writer {
	case "remote":
		writer = ledger.NewRemoteWriter(cfg.Ledger.BaseURL, cfg.Ledger.APIKey, cfg.Proxy, cfg.Ledger.Timeout)
	default:
		writer = ledger.NewBeancountWriter(cfg.Ledger.BeancountFile, log)
	}
	log.Info().Str("writer", cfg.Ledger.Writer).Str("storage", cfg.Storage.Driver).Msg("backends ready")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := engine.NewRunner(st, writer, clock, log)
	sched := scheduler.NewScheduler(ctx, runner, st, clock, loc, log)
	sched.RunTimeout = cfg.Schedule.RunTimeout

	if *backfillFrom != "" {
		code := backfill(ctx, sched, clock, *backfillFrom, log)
		st.Close()
		os.Exit(code)
	}

	var tn *notifier.TelegramNotifier
	if cfg.TelegramEnabled() {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy, cfg.Telegram.RatePerSec, log)
		sched.Notifier = tn
		go tn.StartPolling(ctx, sched.HandleCommand)
		log.Info().Msg("Telegram polling started")
	}

	if err := sched.Register(cfg.Schedule.Cron); err != nil {
		log.Fatal().Err(err).Msg("register timer job")
	}
	if cfg.ScheduleEnabled() {
		sched.Start()
	} else {
		log.Warn().Msg("daily timer disabled by config")
	}
	defer sched.Stop()

	var srv *api.Server
	if cfg.API.Listen != "" {
		srv = api.New(sched, log)
		go func() {
			if err := srv.Listen(cfg.API.Listen); err != nil {
				log.Error().Err(err).Msg("HTTP API stopped")
			}
		}()
	}

	go func() {
		err := config.Watch(ctx, cfgPath, log, func(next *config.Config) {
			logger.SetLevel(next.Log.Level)
			if err := sched.Reschedule(next.Schedule.Cron); err != nil {
				log.Error().Err(err).Msg("apply new schedule")
			}
		})
		if err != nil {
			log.Warn().Err(err).Msg("config watch unavailable")
		}
	}()

	if os.Getenv("RUN_ON_START") == "true" {
		log.Info().Msg("RUN_ON_START enabled, executing due rules now")
		go sched.RunNow()
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn().Err(err).Msg("sd_notify ready")
	} else if ok {
		log.Debug().Msg("notified systemd")
	}
	log.Info().Msg("RecurLedger is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutdown signal received, stopping...")
	daemon.SdNotify(false, daemon.SdNotifyStopping)
	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP shutdown")
		}
		done()
	}
	cancel()
	log.Info().Msg("RecurLedger stopped")
}

// backfill runs every date from the given start through today and returns
// the process exit code.
func backfill(ctx context.Context, sched *scheduler.Scheduler, clock model.Clock, from string, log zerolog.Logger) int {
	start, err := civil.ParseDate(from)
	if err != nil {
		log.Error().Err(err).Msg("invalid -backfill-from date")
		return 2
	}
	results, err := sched.Backfill(ctx, start, clock.Today())
	failed := 0
	for _, res := range results {
		failed += res.FailedCount
		log.Info().Msg(res.Summary())
	}
	if err != nil {
		log.Error().Err(err).Msg("backfill aborted")
		return 1
	}
	if failed > 0 {
		return 1
	}
	return 0
}
