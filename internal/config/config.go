package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/swapmeet/swapmeet-backend/pkg/logger"
	"gopkg.in/yaml.v3"
)

// Config 애플리케이션 설정
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	JWT          JWTConfig          `yaml:"jwt"`
	CORS         CORSConfig         `yaml:"cors"`
	Realtime     RealtimeConfig     `yaml:"realtime"`
	Presence     PresenceConfig     `yaml:"presence"`
	Notification NotificationConfig `yaml:"notification"`
	Listing      ListingConfig      `yaml:"listing"`
}

type ServerConfig struct {
	Port int    `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release, test
	Env  string `yaml:"env"`
}

type DatabaseConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	DBName          string `yaml:"dbname"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // seconds
}

// GetDSN returns the MySQL DSN
func (d DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		d.User, d.Password, d.Host, d.Port, d.DBName)
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type JWTConfig struct {
	Secret    string `yaml:"secret"`
	ExpiresIn int    `yaml:"expires_in"` // seconds
}

type CORSConfig struct {
	AllowOrigins string `yaml:"allow_origins"` // comma separated
}

// Origins returns the CORS allow-list, falling back to the local frontend
func (c CORSConfig) Origins() []string {
	if origins := SplitList(c.AllowOrigins); len(origins) > 0 {
		return origins
	}
	return []string{"http://localhost:3000"}
}

// RealtimeConfig websocket channel settings
type RealtimeConfig struct {
	AllowedOrigins string        `yaml:"allowed_origins"`
	SendBuffer     int           `yaml:"send_buffer"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	PongWait       time.Duration `yaml:"pong_wait"`
	AuthTimeout    time.Duration `yaml:"auth_timeout"`
}

// Origins returns the websocket origin allow-list. Empty means any origin.
func (c RealtimeConfig) Origins() []string {
	return SplitList(c.AllowedOrigins)
}

// SplitList splits a comma separated value and drops empty entries
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// PresenceConfig heartbeat/online settings
type PresenceConfig struct {
	Backend             string        `yaml:"backend"` // redis, memory
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
	FreshnessWindow     time.Duration `yaml:"freshness_window"`
	HeartbeatsPerMinute int           `yaml:"heartbeats_per_minute"`
}

type NotificationConfig struct {
	PreviewLength int           `yaml:"preview_length"`
	AutoDismiss   time.Duration `yaml:"auto_dismiss"`
}

type ListingConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// Default returns a config with every field populated
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8082, Mode: "debug", Env: "local"},
		Database: DatabaseConfig{Host: "localhost", Port: 3306, User: "swapmeet", DBName: "swapmeet", MaxIdleConns: 10, MaxOpenConns: 50, ConnMaxLifetime: 3600},
		Redis:    RedisConfig{Host: "localhost", Port: 6379, PoolSize: 20},
		JWT:      JWTConfig{ExpiresIn: 3600},
		CORS:     CORSConfig{AllowOrigins: "http://localhost:3000"},
		Realtime: RealtimeConfig{
			SendBuffer:     256,
			MaxMessageSize: 4096,
			PongWait:       60 * time.Second,
			AuthTimeout:    10 * time.Second,
		},
		Presence: PresenceConfig{
			Backend:             "redis",
			HeartbeatInterval:   30 * time.Second,
			FreshnessWindow:     60 * time.Second,
			HeartbeatsPerMinute: 12,
		},
		Notification: NotificationConfig{PreviewLength: 100, AutoDismiss: 5 * time.Second},
		Listing:      ListingConfig{CacheTTL: 10 * time.Minute},
	}
}

// Load reads the YAML file at path over the defaults, then applies environment overrides.
// A missing file is not an error; the defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		logger.Warn("config file %s not found, using defaults", path)
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnv(cfg)

	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt.secret is required (set JWT_SECRET)")
	}
	return cfg, nil
}

// IsDevelopment reports whether the server runs in a local/dev environment
func (c *Config) IsDevelopment() bool {
	switch c.Server.Env {
	case "", "local", "dev", "development":
		return true
	}
	return false
}

// LogResolved prints the effective, non-secret configuration
func LogResolved(c *Config) {
	logger.GetLogger().Info().
		Str("env", c.Server.Env).
		Int("port", c.Server.Port).
		Str("db_host", c.Database.Host).
		Str("redis_host", c.Redis.Host).
		Str("presence_backend", c.Presence.Backend).
		Dur("freshness_window", c.Presence.FreshnessWindow).
		Msg("config resolved")
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Env, "APP_ENV")
	setInt(&cfg.Server.Port, "PORT")
	setString(&cfg.Server.Mode, "GIN_MODE")

	setString(&cfg.Database.Host, "DB_HOST")
	setInt(&cfg.Database.Port, "DB_PORT")
	setString(&cfg.Database.User, "DB_USER")
	setString(&cfg.Database.Password, "DB_PASSWORD")
	setString(&cfg.Database.DBName, "DB_NAME")

	setString(&cfg.Redis.Host, "REDIS_HOST")
	setInt(&cfg.Redis.Port, "REDIS_PORT")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")

	setString(&cfg.JWT.Secret, "JWT_SECRET")
	setString(&cfg.CORS.AllowOrigins, "CORS_ALLOW_ORIGINS")
	setString(&cfg.Realtime.AllowedOrigins, "WS_ALLOWED_ORIGINS")
	setString(&cfg.Presence.Backend, "PRESENCE_BACKEND")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setInt(dst *int, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		logger.Warn("ignoring %s=%q: %v", key, v, err)
		return
	}
	*dst = n
}
