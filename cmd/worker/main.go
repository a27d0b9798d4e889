package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/watchdog/internal/config"
	"github.com/hamed0406/watchdog/internal/httpapi"
	"github.com/hamed0406/watchdog/internal/logging"
	"github.com/hamed0406/watchdog/internal/notify"
	"github.com/hamed0406/watchdog/internal/probe"
	"github.com/hamed0406/watchdog/internal/queue"
	"github.com/hamed0406/watchdog/internal/repo/backend"
	"github.com/hamed0406/watchdog/internal/scheduler"
	"github.com/hamed0406/watchdog/internal/worker"
)

func main() {
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
	logger, err := logging.NewLogger(logging.Options{Dir: cfg.LogDir, Level: cfg.LogLevel, Stdout: cfg.LogStdout})
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker_exit", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) (err error) {
	store, err := backend.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, store.Close()) }()

	n, err := buildNotifier(cfg, logger)
	if err != nil {
		return err
	}

	popts := probe.DefaultOptions()
	popts.ConnectTimeout = cfg.ConnectTimeout
	popts.ReadTimeout = cfg.ReadTimeout
	chk := probe.NewHTTPChecker(popts)
	defer chk.Close()

	q := queue.New(queue.Config{
		Workers:      cfg.MaxJobs,
		QueueSize:    cfg.QueueSize,
		JobTimeout:   cfg.JobTimeout,
		MaxTries:     cfg.MaxTries,
		RetryBackoff: cfg.RetryBackoff,
	}, logger)
	worker.Register(q, &worker.Deps{
		Log:      logger.Named("jobs"),
		Targets:  store,
		Checker:  chk,
		Recorder: scheduler.NewRecorder(store, logger),
		Alerter:  scheduler.NewAlerter(store, store, n, logger),
		Jobs:     q,
	})
	// the pool outlives the signal so Stop can drain in-flight jobs
	q.Start(context.Background())

	sched := scheduler.New(logger, store, q, cfg.SchedulerBatch, cfg.SchedulerCron)
	if err := sched.Start(ctx); err != nil {
		_ = q.Stop(context.Background())
		return err
	}

	api := httpapi.NewServer(logger, store, store, q, httpapi.Options{
		APIKeys: cfg.APIKeys,
		RPM:     cfg.APIRPM,
		Burst:   cfg.APIBurst,
	})
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srvErr := make(chan error, 1)
	go func() {
		logger.Info("api_listen", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown_signal")
	case err = <-srvErr:
		logger.Error("api_failed", zap.Error(err))
	}

	// stop intake first, then drain running jobs
	sctx, cancel := context.WithTimeout(context.Background(), cfg.JobTimeout+5*time.Second)
	defer cancel()
	err = multierr.Combine(
		err,
		srv.Shutdown(sctx),
		sched.Stop(sctx),
		q.Stop(sctx),
	)
	logger.Info("worker_stopped")
	return err
}

// buildNotifier returns nil when no alert channel is configured.
func buildNotifier(cfg config.Config, logger *zap.Logger) (notify.Notifier, error) {
	var m notify.Multi
	if cfg.TelegramToken != "" {
		tg, err := notify.NewTelegram(notify.TelegramConfig{Token: cfg.TelegramToken, APIURL: cfg.TelegramAPIURL})
		if err != nil {
			return nil, err
		}
		m = append(m, tg)
	}
	if wh := notify.NewWebhook(cfg.WebhookURL); wh != nil {
		m = append(m, wh)
	}
	switch len(m) {
	case 0:
		logger.Warn("no_alert_channel", zap.String("hint", "set TELEGRAM_BOT_TOKEN or NOTIFY_WEBHOOK_URL"))
		return nil, nil
	case 1:
		return m[0], nil
	}
	return m, nil
}
