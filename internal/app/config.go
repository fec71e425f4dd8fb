package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/inkwell-hq/inkwell/internal/cache"
	"github.com/inkwell-hq/inkwell/internal/database"
	"github.com/inkwell-hq/inkwell/pkg/validator"
)

// Config represents the runtime configuration for the Inkwell collaboration backend.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Collab   CollabConfig   `mapstructure:"collab"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"min=1,max=65535"`
	LogLevel string `mapstructure:"log_level"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CacheConfig describes cache backends.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options for the presence cache.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AuthConfig captures token validation settings. Identity itself is owned by
// the external user directory; this service only validates its tokens.
type AuthConfig struct {
	JWT JWTSettings `mapstructure:"jwt"`
}

// JWTSettings configures JWT access token validation.
type JWTSettings struct {
	Secret string        `mapstructure:"secret" validate:"required"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// CollabConfig tunes the collaboration subsystem.
type CollabConfig struct {
	// SessionIdleTTL is how long a session may sit with every participant
	// offline before the maintenance sweeper ends it.
	SessionIdleTTL time.Duration `mapstructure:"session_idle_ttl"`
	// SweepInterval is the cron cadence for the stale-session sweeper.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// CursorTTL bounds how long cached cursor positions stay readable.
	CursorTTL time.Duration `mapstructure:"cursor_ttl"`
	// MaxCommentLength bounds inbound comment and reply bodies.
	MaxCommentLength int `mapstructure:"max_comment_length"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("INKWELL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

// Validate rejects configurations the server cannot safely start with.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Auth.JWT.Secret) == "" {
		return errors.New("auth.jwt.secret must be configured")
	}
	if err := validator.ValidateStruct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// DatabaseConfigValue converts the viper-shaped settings into database.Config.
func (c *Config) DatabaseConfigValue() database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(c.Database.Driver)),
		Path:   strings.TrimSpace(c.Database.Path),
		DSN:    strings.TrimSpace(c.Database.DSN),
	}

	switch dbCfg.Driver {
	case "postgres", "postgresql":
		dbCfg.Host = strings.TrimSpace(c.Database.Postgres.Host)
		dbCfg.Port = c.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(c.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(c.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(c.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(c.Database.MySQL.Host)
		dbCfg.Port = c.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(c.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(c.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(c.Database.MySQL.Password)
	}

	return dbCfg
}

// RedisConfigValue converts cache settings into the presence cache config.
func (c *Config) RedisConfigValue() cache.RedisConfig {
	return cache.RedisConfig{
		Address:   strings.TrimSpace(c.Cache.Redis.Address),
		Username:  c.Cache.Redis.Username,
		Password:  c.Cache.Redis.Password,
		DB:        c.Cache.Redis.DB,
		Timeout:   c.Cache.Redis.Timeout,
		CursorTTL: c.Collab.CursorTTL,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/inkwell.sqlite")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.timeout", "5s")

	v.SetDefault("auth.jwt.issuer", "inkwell")
	v.SetDefault("auth.jwt.access_token_ttl", "15m")

	v.SetDefault("collab.session_idle_ttl", "2h")
	v.SetDefault("collab.sweep_interval", "5m")
	v.SetDefault("collab.cursor_ttl", "10m")
	v.SetDefault("collab.max_comment_length", 4000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
