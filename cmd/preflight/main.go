// cmd/preflight/main.go
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/watchdog/internal/config"
	"github.com/hamed0406/watchdog/internal/repo/backend"
)

func main() {
	if !preflight(config.FromEnv(), os.Stdout, os.Stderr) {
		os.Exit(1)
	}
}

// preflight checks the worker configuration and reports whether it can
// start.
func preflight(cfg config.Config, stdout, stderr io.Writer) bool {
	passed := true
	fail := func(msg string) {
		fmt.Fprintln(stderr, "✖", msg)
		passed = false
	}
	warn := func(msg string) { fmt.Fprintln(stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Fprintln(stdout, "✔", msg) }

	if err := cfg.Validate(); err != nil {
		for _, e := range multierr.Errors(err) {
			fail(e.Error())
		}
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(cfg.SchedulerCron); err != nil {
		fail(fmt.Sprintf("SCHEDULER_CRON %q does not parse: %v", cfg.SchedulerCron, err))
	} else {
		ok("SCHEDULER_CRON=" + cfg.SchedulerCron)
	}

	if cfg.DatabaseURL == "" {
		warn("DATABASE_URL empty; worker will use the in-memory store and lose state on restart.")
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s, err := backend.Open(ctx, cfg.DatabaseURL, zap.NewNop())
		if err != nil {
			fail("DATABASE_URL unusable: " + err.Error())
		} else {
			_ = s.Close()
			ok("DATABASE_URL reachable")
		}
	}

	if cfg.TelegramToken == "" && cfg.WebhookURL == "" {
		warn("no alert channel: set TELEGRAM_BOT_TOKEN or NOTIFY_WEBHOOK_URL, alerts will be skipped.")
	} else {
		ok("alert channel configured")
	}

	if len(cfg.APIKeys) == 0 {
		warn("API_KEYS empty; /api routes are open to anyone who can reach " + cfg.Addr + ".")
	} else {
		ok(fmt.Sprintf("API_KEYS: %d key(s)", len(cfg.APIKeys)))
	}

	if cfg.JobTimeout < cfg.ConnectTimeout+cfg.ReadTimeout {
		warn(fmt.Sprintf("JOB_TIMEOUT %s is shorter than connect+read probe timeouts (%s); slow probes will be cut and retried.",
			cfg.JobTimeout, cfg.ConnectTimeout+cfg.ReadTimeout))
	}

	if passed {
		ok("preflight passed")
	}
	return passed
}
