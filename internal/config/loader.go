package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/apietl/internal/apiclient"
	"github.com/rpattn/apietl/internal/db"
	"github.com/rpattn/apietl/internal/enrich"
	"github.com/rpattn/apietl/internal/extract"
	"github.com/rpattn/apietl/internal/logging"
	"github.com/rpattn/apietl/internal/ratelimit"

	"github.com/spf13/viper"
)

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr            string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
	JobTimeout      time.Duration
}

// Config is the full process configuration.
type Config struct {
	Database  db.Config
	HTTP      HTTPConfig
	Logging   logging.Config
	API       apiclient.Config
	Extract   extract.Config
	Enrich    enrich.Config
	RateLimit ratelimit.Config

	// UsedFile is the config file that was read, empty when running on
	// defaults and environment only.
	UsedFile string
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Database: db.DefaultConfig(),
		HTTP: HTTPConfig{
			Addr:            ":8080",
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: 30 * time.Second,
			JobTimeout:      6 * time.Hour,
		},
		Logging:   logging.DefaultConfig(),
		API:       apiclient.DefaultConfig(),
		Extract:   extract.DefaultConfig(),
		Enrich:    enrich.DefaultConfig(),
		RateLimit: ratelimit.DefaultConfig(),
	}
}

// Load reads config.yaml from configPath (optional) and APIETL_* environment
// variables, e.g. APIETL_DATABASE_HOST for database.host.
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix("APIETL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		cfg.UsedFile = v.ConfigFileUsed()
	}

	r := reader{v: v}

	r.str("database.host", &cfg.Database.Host)
	r.int("database.port", &cfg.Database.Port)
	r.str("database.user", &cfg.Database.User)
	r.str("database.password", &cfg.Database.Password)
	r.str("database.dbname", &cfg.Database.DBName)
	r.str("database.sslmode", &cfg.Database.SSLMode)
	if v.IsSet("database.max_conns") {
		cfg.Database.MaxConns = v.GetInt32("database.max_conns")
	}

	r.str("http.addr", &cfg.HTTP.Addr)
	r.strings("http.allowed_origins", &cfg.HTTP.AllowedOrigins)
	r.duration("http.shutdown_timeout", &cfg.HTTP.ShutdownTimeout)
	r.duration("http.job_timeout", &cfg.HTTP.JobTimeout)

	r.str("logging.level", &cfg.Logging.Level)
	r.bool("logging.development", &cfg.Logging.Development)

	r.duration("api.timeout", &cfg.API.Timeout)
	r.str("api.user_agent", &cfg.API.UserAgent)

	r.int("extract.page_size", &cfg.Extract.PageSize)
	r.int("extract.max_retries", &cfg.Extract.MaxRetries)
	r.duration("extract.backoff_base", &cfg.Extract.Backoff.Base)
	r.duration("extract.backoff_max", &cfg.Extract.Backoff.Max)
	r.duration("extract.page_delay", &cfg.Extract.PageDelay)
	r.int("extract.pages_per_day", &cfg.Extract.PagesPerDay)
	r.str("extract.start_param", &cfg.Extract.StartParam)
	r.str("extract.end_param", &cfg.Extract.EndParam)
	r.str("extract.page_param", &cfg.Extract.PageParam)
	r.str("extract.page_size_param", &cfg.Extract.PageSizeParam)
	r.str("extract.date_layout", &cfg.Extract.DateLayout)
	r.int("extract.queue_capacity", &cfg.Extract.QueueCapacity)
	r.duration("extract.push_timeout", &cfg.Extract.PushTimeout)
	r.int("extract.writer_batch_size", &cfg.Extract.WriterBatchSize)
	r.duration("extract.flush_interval", &cfg.Extract.FlushInterval)
	r.duration("extract.drain_timeout", &cfg.Extract.DrainTimeout)

	r.int("enrich.workers", &cfg.Enrich.Workers)
	r.int("enrich.batch_size", &cfg.Enrich.BatchSize)
	r.int("enrich.db_batch_size", &cfg.Enrich.DBBatchSize)
	r.int("enrich.max_attempts", &cfg.Enrich.MaxAttempts)
	r.duration("enrich.backoff_base", &cfg.Enrich.Backoff.Base)
	r.duration("enrich.backoff_max", &cfg.Enrich.Backoff.Max)
	r.duration("enrich.too_many_requests_delay", &cfg.Enrich.TooManyRequestsDelay)
	r.int("enrich.queue_capacity", &cfg.Enrich.QueueCapacity)
	r.duration("enrich.push_timeout", &cfg.Enrich.PushTimeout)
	r.duration("enrich.flush_interval", &cfg.Enrich.FlushInterval)
	r.duration("enrich.drain_timeout", &cfg.Enrich.DrainTimeout)
	r.bool("enrich.wait_for_quota", &cfg.Enrich.WaitForQuota)

	if v.IsSet("ratelimit.max_per_second") {
		cfg.RateLimit.MaxPerSecond = v.GetFloat64("ratelimit.max_per_second")
	}
	r.int("ratelimit.daily_limit", &cfg.RateLimit.DailyLimit)
	r.duration("ratelimit.quota_poll_interval", &cfg.RateLimit.QuotaPollInterval)
	if v.IsSet("ratelimit.timezone") {
		loc, err := time.LoadLocation(v.GetString("ratelimit.timezone"))
		if err != nil {
			return cfg, fmt.Errorf("invalid ratelimit.timezone: %w", err)
		}
		cfg.RateLimit.Location = loc
	}

	return cfg, nil
}

// reader overrides a default only when the key is set in the file or env.
type reader struct {
	v *viper.Viper
}

func (r reader) str(key string, dst *string) {
	if r.v.IsSet(key) {
		*dst = r.v.GetString(key)
	}
}

func (r reader) int(key string, dst *int) {
	if r.v.IsSet(key) {
		*dst = r.v.GetInt(key)
	}
}

func (r reader) bool(key string, dst *bool) {
	if r.v.IsSet(key) {
		*dst = r.v.GetBool(key)
	}
}

func (r reader) duration(key string, dst *time.Duration) {
	if r.v.IsSet(key) {
		*dst = r.v.GetDuration(key)
	}
}

func (r reader) strings(key string, dst *[]string) {
	if r.v.IsSet(key) {
		*dst = r.v.GetStringSlice(key)
	}
}
