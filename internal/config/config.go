package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Media    MediaConfig
	Presence PresenceConfig
	Log      LogConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	Mode         string // debug, release, test
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// AllowedOrigins feeds CORS and the WebSocket origin check. "*" allows any.
	AllowedOrigins []string
	// RateLimit is the REST request budget per participant per minute, 0 disables it
	RateLimit int
}

type StorageConfig struct {
	Driver string // postgres, memory
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

type JWTConfig struct {
	Secret         string
	AccessTokenTTL time.Duration
	Issuer         string
}

// MediaConfig holds the signing material for media-session credentials
type MediaConfig struct {
	AppID          string
	AppCertificate string
	TokenTTL       time.Duration
}

// PresenceConfig tunes the realtime layer
type PresenceConfig struct {
	BusBuffer         int
	OperationTimeout  time.Duration
	LeaveRetryMax     int
	LeaveRetryBase    time.Duration
	LeaveRetryCeiling time.Duration
	InboundRate       float64 // frames per second per connection
	InboundBurst      int
	// PresenceTTL is how long a connection counts as live on other instances
	// without a refresh. Only used when Redis is enabled.
	PresenceTTL time.Duration
}

type LogConfig struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("LIVEROOM")
	viper.AutomaticEnv()

	setDefaults()

	// The config file is optional
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnvVariables()

	cfg := &Config{
		Server: ServerConfig{
			Host:           viper.GetString("server.host"),
			Port:           viper.GetInt("server.port"),
			Mode:           viper.GetString("server.mode"),
			ReadTimeout:    viper.GetDuration("server.read_timeout"),
			WriteTimeout:   viper.GetDuration("server.write_timeout"),
			AllowedOrigins: viper.GetStringSlice("server.allowed_origins"),
			RateLimit:      viper.GetInt("server.rate_limit"),
		},
		Storage: StorageConfig{
			Driver: viper.GetString("storage.driver"),
		},
		Database: DatabaseConfig{
			Host:            viper.GetString("database.host"),
			Port:            viper.GetInt("database.port"),
			User:            viper.GetString("database.user"),
			Password:        viper.GetString("database.password"),
			DBName:          viper.GetString("database.dbname"),
			SSLMode:         viper.GetString("database.sslmode"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: viper.GetDuration("database.conn_max_lifetime"),
			AutoMigrate:     viper.GetBool("database.auto_migrate"),
		},
		Redis: RedisConfig{
			Enabled:  viper.GetBool("redis.enabled"),
			Host:     viper.GetString("redis.host"),
			Port:     viper.GetInt("redis.port"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
			PoolSize: viper.GetInt("redis.pool_size"),
		},
		JWT: JWTConfig{
			Secret:         viper.GetString("jwt.secret"),
			AccessTokenTTL: viper.GetDuration("jwt.access_token_ttl"),
			Issuer:         viper.GetString("jwt.issuer"),
		},
		Media: MediaConfig{
			AppID:          viper.GetString("media.app_id"),
			AppCertificate: viper.GetString("media.app_certificate"),
			TokenTTL:       viper.GetDuration("media.token_ttl"),
		},
		Presence: PresenceConfig{
			BusBuffer:         viper.GetInt("presence.bus_buffer"),
			OperationTimeout:  viper.GetDuration("presence.operation_timeout"),
			LeaveRetryMax:     viper.GetInt("presence.leave_retry_max"),
			LeaveRetryBase:    viper.GetDuration("presence.leave_retry_base"),
			LeaveRetryCeiling: viper.GetDuration("presence.leave_retry_ceiling"),
			InboundRate:       viper.GetFloat64("presence.inbound_rate"),
			InboundBurst:      viper.GetInt("presence.inbound_burst"),
			PresenceTTL:       viper.GetDuration("presence.presence_ttl"),
		},
		Log: LogConfig{
			Level:      viper.GetString("log.level"),
			Format:     viper.GetString("log.format"),
			OutputPath: viper.GetString("log.output_path"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the server cannot start with
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	if c.Media.TokenTTL <= 0 {
		return fmt.Errorf("media.token_ttl must be positive")
	}
	return nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.allowed_origins", []string{"*"})
	viper.SetDefault("server.rate_limit", 120)

	viper.SetDefault("storage.driver", "postgres")

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "liveroom")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("database.auto_migrate", true)

	// Redis defaults
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	// JWT defaults
	viper.SetDefault("jwt.secret", "your-secret-key-change-in-production")
	viper.SetDefault("jwt.access_token_ttl", "15m")
	viper.SetDefault("jwt.issuer", "liveroom")

	// Media credential defaults. App id and certificate have no default on purpose.
	viper.SetDefault("media.token_ttl", "3600s")

	// Presence defaults
	viper.SetDefault("presence.bus_buffer", 1024)
	viper.SetDefault("presence.operation_timeout", "5s")
	viper.SetDefault("presence.leave_retry_max", 5)
	viper.SetDefault("presence.leave_retry_base", "200ms")
	viper.SetDefault("presence.leave_retry_ceiling", "10s")
	viper.SetDefault("presence.inbound_rate", 20)
	viper.SetDefault("presence.inbound_burst", 40)
	viper.SetDefault("presence.presence_ttl", "60s")

	// Log defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output_path", "stdout")
}

func bindEnvVariables() {
	// Server
	_ = viper.BindEnv("server.host", "SERVER_HOST")
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.mode", "SERVER_MODE")

	_ = viper.BindEnv("storage.driver", "STORAGE_DRIVER")

	// Database
	_ = viper.BindEnv("database.host", "DB_HOST")
	_ = viper.BindEnv("database.port", "DB_PORT")
	_ = viper.BindEnv("database.user", "DB_USER")
	_ = viper.BindEnv("database.password", "DB_PASSWORD")
	_ = viper.BindEnv("database.dbname", "DB_NAME")
	_ = viper.BindEnv("database.sslmode", "DB_SSLMODE")

	// Redis
	_ = viper.BindEnv("redis.enabled", "REDIS_ENABLED")
	_ = viper.BindEnv("redis.host", "REDIS_HOST")
	_ = viper.BindEnv("redis.port", "REDIS_PORT")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")

	// JWT
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")

	// Media
	_ = viper.BindEnv("media.app_id", "AGORA_APP_ID")
	_ = viper.BindEnv("media.app_certificate", "AGORA_APP_CERT")

	// Log
	_ = viper.BindEnv("log.level", "LOG_LEVEL")
}

// GetDSN returns PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// GetAddr returns Redis address
func (c *RedisConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAddr returns server address
func (c *ServerConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
