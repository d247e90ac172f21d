// Package config loads application settings from flags, environment,
// an optional .env file and an optional YAML config file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rezonia/fiscal-ingest/internal/credential"
)

// EnvPrefix prefixes every environment variable the application reads
const EnvPrefix = "FISCAL"

// Config is the full application configuration
type Config struct {
	Log          LogConfig                        `mapstructure:"log"`
	DB           DBConfig                         `mapstructure:"db"`
	HTTP         HTTPConfig                       `mapstructure:"http"`
	Distribution DistributionConfig               `mapstructure:"distribution"`
	Ingestion    IngestionConfig                  `mapstructure:"ingestion"`
	Processing   ProcessingConfig                 `mapstructure:"processing"`
	Credentials  map[string]credential.Credential `mapstructure:"credentials" validate:"dive"`

	// NodeID seeds the snowflake generator; distinct per running instance
	NodeID int64 `mapstructure:"node_id" validate:"gte=0,lte=1023"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console text"`
}

type DBConfig struct {
	Type         string `mapstructure:"type" validate:"oneof=sqlite postgres"`
	DSN          string `mapstructure:"dsn"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" validate:"gte=0"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=0"`
}

type HTTPConfig struct {
	Address      string        `mapstructure:"address" validate:"required"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
}

type DistributionConfig struct {
	Timeout  time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RetryMax int           `mapstructure:"retry_max" validate:"gte=0,lte=10"`
	// Endpoint overrides the environment's default service URL
	Endpoint string `mapstructure:"endpoint" validate:"omitempty,url"`
}

type IngestionConfig struct {
	MaxPages     int           `mapstructure:"max_pages" validate:"gte=1"`
	RunTimeout   time.Duration `mapstructure:"run_timeout" validate:"gt=0"`
	LockTTL      time.Duration `mapstructure:"lock_ttl" validate:"gt=0,gtfield=RunTimeout"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gte=0"`
	CertTimeout  time.Duration `mapstructure:"cert_timeout" validate:"gt=0"`
}

type ProcessingConfig struct {
	GraceDays int `mapstructure:"grace_days" validate:"gte=0"`
}

// SetDefaults registers the default value of every key
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("db.type", "sqlite")
	v.SetDefault("db.dsn", "fiscal-ingest.db")
	v.SetDefault("db.max_idle_conns", 2)
	v.SetDefault("db.max_open_conns", 0)

	v.SetDefault("http.address", ":8080")
	v.SetDefault("http.read_timeout", 30*time.Second)
	v.SetDefault("http.write_timeout", 6*time.Minute)

	v.SetDefault("distribution.timeout", 60*time.Second)
	v.SetDefault("distribution.retry_max", 2)
	v.SetDefault("distribution.endpoint", "")

	v.SetDefault("ingestion.max_pages", 50)
	v.SetDefault("ingestion.run_timeout", 5*time.Minute)
	v.SetDefault("ingestion.lock_ttl", 10*time.Minute)
	v.SetDefault("ingestion.poll_interval", time.Hour)
	v.SetDefault("ingestion.cert_timeout", 10*time.Second)

	v.SetDefault("processing.grace_days", 30)

	v.SetDefault("node_id", 1)
}

// New returns a viper instance with defaults and environment lookup set up
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// a single credential can be supplied without a config file
	_ = v.BindEnv("credentials.default.path")
	_ = v.BindEnv("credentials.default.passphrase")
	return v
}

// Load reads .env, the optional config file and the environment into a Config.
// An explicit configFile must exist; otherwise config.yaml is searched in the
// working directory and /etc/fiscal-ingest.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	_ = godotenv.Load()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/fiscal-ingest")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	c.DB.Type = strings.ToLower(strings.TrimSpace(c.DB.Type))
	if c.DB.Type == "postgresql" {
		c.DB.Type = "postgres"
	}

	for ref, cred := range c.Credentials {
		if strings.TrimSpace(cred.Path) == "" {
			delete(c.Credentials, ref)
		}
	}
}

// Validate checks value ranges and enums
func (c Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// CredentialStore exposes the configured credentials to the credential manager
func (c *Config) CredentialStore() *credential.StaticStore {
	return credential.NewStaticStore(c.Credentials)
}
