package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Channels  ChannelsConfig  `mapstructure:"channels"`
	Email     EmailConfig     `mapstructure:"email"`
	SMS       SMSConfig       `mapstructure:"sms"`
	Push      PushConfig      `mapstructure:"push"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Audit     AuditConfig     `mapstructure:"audit"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// TickRatePerMinute limits manual POST /api/tick calls per client IP.
	TickRatePerMinute int `mapstructure:"tick_rate_per_minute"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

type EngineConfig struct {
	Location            string        `mapstructure:"location"`
	ArchiveCascade      bool          `mapstructure:"archive_cascade"`
	DispatchConcurrency int           `mapstructure:"dispatch_concurrency"`
	DispatchBatch       int           `mapstructure:"dispatch_batch"`
	MaxAttempts         int           `mapstructure:"max_attempts"`
	BaseBackoff         time.Duration `mapstructure:"base_backoff"`
	MaxBackoff          time.Duration `mapstructure:"max_backoff"`
	ClaimTimeout        time.Duration `mapstructure:"claim_timeout"`
}

// ChannelsConfig tunes the per-send retry and throttle applied to every channel.
type ChannelsConfig struct {
	Retries       uint64        `mapstructure:"retries"`
	RetryBase     time.Duration `mapstructure:"retry_base"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
}

type EmailConfig struct {
	Provider       string `mapstructure:"provider"`
	From           string `mapstructure:"from"`
	FromName       string `mapstructure:"from_name"`
	PostmarkToken  string `mapstructure:"postmark_token"`
	SendGridAPIKey string `mapstructure:"sendgrid_api_key"`
	SendGridHost   string `mapstructure:"sendgrid_host"`
}

type SMSConfig struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	From       string `mapstructure:"from"`
}

type PushConfig struct {
	VAPIDPublicKey  string `mapstructure:"vapid_public_key"`
	VAPIDPrivateKey string `mapstructure:"vapid_private_key"`
	Subscriber      string `mapstructure:"subscriber"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type AuditConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	Bucket     string `mapstructure:"bucket"`
	Region     string `mapstructure:"region"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	Prefix     string `mapstructure:"prefix"`
	Passphrase string `mapstructure:"passphrase"`
}

func (a AuditConfig) Enabled() bool {
	return a.Bucket != "" && a.Passphrase != ""
}

func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0 && k.Topic != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.tick_rate_per_minute", 6)

	v.SetDefault("database.path", "compliance.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "5m")

	v.SetDefault("engine.location", "UTC")
	v.SetDefault("engine.archive_cascade", false)
	v.SetDefault("engine.dispatch_concurrency", 4)
	v.SetDefault("engine.dispatch_batch", 200)
	v.SetDefault("engine.max_attempts", 5)
	v.SetDefault("engine.base_backoff", "1m")
	v.SetDefault("engine.max_backoff", "6h")
	v.SetDefault("engine.claim_timeout", "5m")

	v.SetDefault("channels.retries", 2)
	v.SetDefault("channels.retry_base", "500ms")
	v.SetDefault("channels.rate_per_second", 10)
	v.SetDefault("channels.burst", 5)

	v.SetDefault("email.provider", "postmark")
	v.SetDefault("email.from_name", "Compliance")
	v.SetDefault("email.sendgrid_host", "https://api.sendgrid.com")

	v.SetDefault("push.subscriber", "mailto:compliance@localhost")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "compliance.reminder-events")

	v.SetDefault("audit.region", "auto")
	v.SetDefault("audit.prefix", "audit")
}

// Load reads defaults, then the YAML file at path (or ./config.yaml when path
// is empty and the file exists), then COMPLIANCE_ environment variables.
// A .env file in the working directory is loaded into the environment first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("COMPLIANCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	// Broker lists from the environment are comma separated.
	cfg.Kafka.Brokers = splitList(strings.Join(cfg.Kafka.Brokers, ","))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Location resolves engine.location.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Engine.Location)
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.TickRatePerMinute <= 0 {
		errs = append(errs, errors.New("server.tick_rate_per_minute must be positive"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Scheduler.Interval < time.Second {
		errs = append(errs, fmt.Errorf("scheduler.interval must be at least 1s, got %s", c.Scheduler.Interval))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("engine.location: %w", err))
	}
	if c.Engine.DispatchConcurrency < 1 {
		errs = append(errs, errors.New("engine.dispatch_concurrency must be at least 1"))
	}
	if c.Engine.DispatchBatch < 1 {
		errs = append(errs, errors.New("engine.dispatch_batch must be at least 1"))
	}
	if c.Engine.MaxAttempts < 1 {
		errs = append(errs, errors.New("engine.max_attempts must be at least 1"))
	}
	if c.Engine.BaseBackoff <= 0 || c.Engine.MaxBackoff < c.Engine.BaseBackoff {
		errs = append(errs, errors.New("engine.base_backoff must be positive and not above engine.max_backoff"))
	}
	if c.Engine.ClaimTimeout <= 0 {
		errs = append(errs, errors.New("engine.claim_timeout must be positive"))
	}
	if c.Channels.RatePerSecond <= 0 || c.Channels.Burst < 1 {
		errs = append(errs, errors.New("channels.rate_per_second and channels.burst must be positive"))
	}
	switch c.Email.Provider {
	case "postmark", "sendgrid":
	default:
		errs = append(errs, fmt.Errorf("email.provider must be postmark or sendgrid, got %q", c.Email.Provider))
	}
	if (c.Audit.Bucket == "") != (c.Audit.Passphrase == "") {
		errs = append(errs, errors.New("audit.bucket and audit.passphrase must be set together"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
