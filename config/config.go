/*
Package config loads the server and CLI configuration.

SOURCES (later wins):
 1. Defaults below
 2. YAML file (--config, or ./xp.yaml when present)
 3. Environment: XP_<SECTION>_<KEY>, plus the secrets
    XP_JWT_SECRET, XP_DATABASE_DSN, XP_REDIS_ADDR

EXAMPLE (xp.yaml):

	server:
	  port: 8080
	  request_timeout_seconds: 30
	  cors:
	    allowed_origins: ["http://localhost:5173"]
	database:
	  driver: sqlite
	  dsn: ./data/xp.db
	backfill:
	  concurrency: 4
	  retry_attempts: 3
	lock:
	  driver: redis
	  redis_addr: localhost:6379
*/
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      LogConfig      `mapstructure:"log"`
	Backfill BackfillConfig `mapstructure:"backfill"`
	Lock     LockConfig     `mapstructure:"lock"`
}

type ServerConfig struct {
	Port                  int        `mapstructure:"port" validate:"min=1,max=65535"`
	RequestTimeoutSeconds int        `mapstructure:"request_timeout_seconds" validate:"min=1"`
	CORS                  CORSConfig `mapstructure:"cors"`
	// Scenarios enables the demo data endpoints.
	Scenarios bool `mapstructure:"scenarios"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins" validate:"min=1"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `mapstructure:"dsn" validate:"required"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=16"`
}

type LogConfig struct {
	Mode string `mapstructure:"mode" validate:"oneof=dev prod"`
}

type BackfillConfig struct {
	Concurrency        int    `mapstructure:"concurrency" validate:"min=1"`
	RetryAttempts      int    `mapstructure:"retry_attempts" validate:"min=1"`
	RetryDelayMS       int    `mapstructure:"retry_delay_ms" validate:"min=0"`
	ReportRecentEvents int    `mapstructure:"report_recent_events" validate:"min=1"`
	BadgeCatalog       string `mapstructure:"badge_catalog" validate:"omitempty,file"`
}

type LockConfig struct {
	Driver     string `mapstructure:"driver" validate:"oneof=local redis"`
	RedisAddr  string `mapstructure:"redis_addr" validate:"required_if=Driver redis"`
	TTLSeconds int    `mapstructure:"ttl_seconds" validate:"min=1"`
}

func (s ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSeconds) * time.Second
}

func (b BackfillConfig) RetryDelay() time.Duration {
	return time.Duration(b.RetryDelayMS) * time.Millisecond
}

func (l LockConfig) TTL() time.Duration {
	return time.Duration(l.TTLSeconds) * time.Second
}

// Load reads configFile (optional), applies the environment and validates.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("xp")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.SetEnvPrefix("XP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Secrets are usually injected by the environment, not the file.
	for key, env := range map[string]string{
		"auth.jwt_secret": "XP_JWT_SECRET",
		"database.dsn":    "XP_DATABASE_DSN",
		"lock.redis_addr": "XP_REDIS_ADDR",
	} {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s environment variable: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("configuration file found but could not be read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration format: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.scenarios", false)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/xp.db")
	v.SetDefault("log.mode", "prod")
	v.SetDefault("backfill.concurrency", 1)
	v.SetDefault("backfill.retry_attempts", 3)
	v.SetDefault("backfill.retry_delay_ms", 200)
	v.SetDefault("backfill.report_recent_events", 10)
	v.SetDefault("backfill.badge_catalog", "")
	v.SetDefault("lock.driver", "local")
	v.SetDefault("lock.ttl_seconds", 300)
}

// Validate checks every section and reports all problems at once, in
// English.
func (c *Config) Validate() error {
	validate, trans, err := newValidator()
	if err != nil {
		return err
	}
	err = validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldPath(fe.Namespace())+": "+fe.Translate(trans))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

// fieldPath turns "Config.lock.redis_addr" into "lock.redis_addr".
func fieldPath(namespace string) string {
	return strings.TrimPrefix(namespace, "Config.")
}
