package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App        AppSettings        `mapstructure:"app"`
	Postgres   PostgresSettings   `mapstructure:"postgres"`
	Redis      RedisSettings      `mapstructure:"redis"`
	Kafka      KafkaSettings      `mapstructure:"kafka"`
	JWT        JWTSettings        `mapstructure:"jwt"`
	RateLimit  RateLimitSettings  `mapstructure:"rate_limit"`
	Moderation ModerationSettings `mapstructure:"moderation"`
	Storage    StorageSettings    `mapstructure:"storage"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures the Redis connection used for hot-path IP counters.
type RedisSettings struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	DB         int    `mapstructure:"db"`
	Password   string `mapstructure:"password"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
	KeyPrefix  string `mapstructure:"key_prefix"`
}

// KafkaSettings configures the moderation-queue event producer.
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
}

type JWTSettings struct {
	// Secret is the symmetric signing key for access tokens.
	Secret               string        `mapstructure:"secret"`
	AccessTokenTTL       time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL      time.Duration `mapstructure:"refresh_token_ttl"`
	PasswordResetTTL     time.Duration `mapstructure:"password_reset_ttl"`
	EmailVerificationTTL time.Duration `mapstructure:"email_verification_ttl"`
}

// RateLimitSettings governs counter-store behaviour; the limit tables
// themselves are compile-time mappings in the domain package.
type RateLimitSettings struct {
	// StoreTimeout bounds each counter-store call. On expiry the request
	// fails closed, not open.
	StoreTimeout     time.Duration `mapstructure:"store_timeout"`
	RetentionHorizon time.Duration `mapstructure:"retention_horizon"`
}

type ModerationSettings struct {
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
	// SniffLength is how many leading bytes the classifier reads.
	SniffLength int `mapstructure:"sniff_length"`
}

type StorageSettings struct {
	// BucketURL is a gocloud.dev blob URL, e.g. s3://images or file:///var/images.
	BucketURL string `mapstructure:"bucket_url"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("AUTHCORE")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.key_prefix",
		"kafka.brokers",
		"kafka.topic_prefix",
		"jwt.secret",
		"jwt.access_token_ttl",
		"jwt.refresh_token_ttl",
		"jwt.password_reset_ttl",
		"jwt.email_verification_ttl",
		"rate_limit.store_timeout",
		"rate_limit.retention_horizon",
		"moderation.max_upload_bytes",
		"moderation.sniff_length",
		"storage.bucket_url",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "authcore")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "authcore")
	v.SetDefault("postgres.database", "authcore")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "authcore")

	v.SetDefault("kafka.topic_prefix", "authcore")

	// Expiry policy is a fixed product contract; defaults match it.
	v.SetDefault("jwt.access_token_ttl", time.Hour)
	v.SetDefault("jwt.refresh_token_ttl", 30*24*time.Hour)
	v.SetDefault("jwt.password_reset_ttl", time.Hour)
	v.SetDefault("jwt.email_verification_ttl", 24*time.Hour)

	v.SetDefault("rate_limit.store_timeout", 300*time.Millisecond)
	v.SetDefault("rate_limit.retention_horizon", 24*time.Hour)

	v.SetDefault("moderation.max_upload_bytes", int64(25<<20))
	v.SetDefault("moderation.sniff_length", 512)

	v.SetDefault("storage.bucket_url", "file:///tmp/authcore-images")
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// Validate rejects configurations that cannot possibly run.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.JWT.Secret) == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("jwt.secret must be at least 32 bytes")
	}
	if c.Moderation.MaxUploadBytes <= 0 {
		return fmt.Errorf("moderation.max_upload_bytes must be positive")
	}
	return nil
}
