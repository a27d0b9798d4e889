package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

type Config struct {
	Addr        string // ops API bind address, e.g., "127.0.0.1:8080" or ":8080" (Docker)
	LogDir      string // logs directory
	LogLevel    string // debug | info | warn | error
	LogStdout   bool   // tee logs to stderr as well as the rotated file
	DatabaseURL string // postgres://..., sqlite://path or empty for in-memory

	// job queue
	MaxJobs      int           // worker concurrency ceiling
	QueueSize    int           // buffered jobs before Enqueue reports full
	JobTimeout   time.Duration // uniform per-attempt timeout
	MaxTries     int           // total attempts on executor fault
	RetryBackoff time.Duration // first retry delay, doubled per attempt

	// scheduler
	SchedulerCron  string // seconds-enabled cron spec for the tick
	SchedulerBatch int    // max due targets per tick

	// probe
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	// notifications
	TelegramToken  string
	TelegramAPIURL string
	WebhookURL     string

	// ops API
	APIKeys  []string // bearer / X-API-Key values for /api; empty disables auth
	APIRPM   int
	APIBurst int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("API_ADDR", "127.0.0.1:8080")
	v.SetDefault("LOG_DIR", "logs")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_STDOUT", false)
	v.SetDefault("DATABASE_URL", "")

	v.SetDefault("WORKER_MAX_JOBS", 10)
	v.SetDefault("QUEUE_SIZE", 256)
	v.SetDefault("JOB_TIMEOUT", 60*time.Second)
	v.SetDefault("JOB_MAX_TRIES", 3)
	v.SetDefault("JOB_RETRY_BACKOFF", 500*time.Millisecond)

	v.SetDefault("SCHEDULER_CRON", "0 * * * * *")
	v.SetDefault("SCHEDULER_BATCH", 100)

	v.SetDefault("PROBE_CONNECT_TIMEOUT", 5*time.Second)
	v.SetDefault("PROBE_READ_TIMEOUT", 10*time.Second)

	v.SetDefault("TELEGRAM_BOT_TOKEN", "")
	v.SetDefault("TELEGRAM_API_URL", "")
	v.SetDefault("NOTIFY_WEBHOOK_URL", "")

	v.SetDefault("API_KEYS", "")
	v.SetDefault("API_RPM", 120)
	v.SetDefault("API_BURST", 60)
}

// FromEnv reads the configuration from the environment. If WATCHDOG_CONFIG
// points at a dotenv file its values are used underneath the environment.
func FromEnv() Config {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := strings.TrimSpace(v.GetString("WATCHDOG_CONFIG")); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		// a missing or broken file leaves env + defaults in place
		_ = v.ReadInConfig()
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) Config {
	return Config{
		Addr:        v.GetString("API_ADDR"),
		LogDir:      v.GetString("LOG_DIR"),
		LogLevel:    strings.ToLower(v.GetString("LOG_LEVEL")),
		LogStdout:   v.GetBool("LOG_STDOUT"),
		DatabaseURL: v.GetString("DATABASE_URL"),

		MaxJobs:      v.GetInt("WORKER_MAX_JOBS"),
		QueueSize:    v.GetInt("QUEUE_SIZE"),
		JobTimeout:   v.GetDuration("JOB_TIMEOUT"),
		MaxTries:     v.GetInt("JOB_MAX_TRIES"),
		RetryBackoff: v.GetDuration("JOB_RETRY_BACKOFF"),

		SchedulerCron:  v.GetString("SCHEDULER_CRON"),
		SchedulerBatch: v.GetInt("SCHEDULER_BATCH"),

		ConnectTimeout: v.GetDuration("PROBE_CONNECT_TIMEOUT"),
		ReadTimeout:    v.GetDuration("PROBE_READ_TIMEOUT"),

		TelegramToken:  v.GetString("TELEGRAM_BOT_TOKEN"),
		TelegramAPIURL: v.GetString("TELEGRAM_API_URL"),
		WebhookURL:     v.GetString("NOTIFY_WEBHOOK_URL"),

		APIKeys:  splitCSV(v.GetString("API_KEYS")),
		APIRPM:   v.GetInt("API_RPM"),
		APIBurst: v.GetInt("API_BURST"),
	}
}

// Validate rejects settings the worker cannot run with.
func (c Config) Validate() error {
	var err error
	if c.MaxJobs < 1 {
		err = multierr.Append(err, fmt.Errorf("WORKER_MAX_JOBS must be >= 1, got %d", c.MaxJobs))
	}
	if c.MaxTries < 1 {
		err = multierr.Append(err, fmt.Errorf("JOB_MAX_TRIES must be >= 1, got %d", c.MaxTries))
	}
	if c.JobTimeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("JOB_TIMEOUT must be positive, got %s", c.JobTimeout))
	}
	if c.SchedulerBatch < 1 {
		err = multierr.Append(err, fmt.Errorf("SCHEDULER_BATCH must be >= 1, got %d", c.SchedulerBatch))
	}
	if c.ConnectTimeout <= 0 || c.ReadTimeout <= 0 {
		err = multierr.Append(err, errors.New("PROBE_CONNECT_TIMEOUT and PROBE_READ_TIMEOUT must be positive"))
	}
	if strings.TrimSpace(c.SchedulerCron) == "" {
		err = multierr.Append(err, errors.New("SCHEDULER_CRON is empty"))
	}
	return err
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
