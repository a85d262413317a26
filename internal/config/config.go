package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig
	DB        DBConfig
	Redis     RedisConfig
	NATS      NATSConfig
	JWT       JWTConfig
	Quota     QuotaConfig
	Agents    AgentsConfig
	Imports   ImportsConfig
	Notify    NotificationsConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
	Admin     AdminConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	SSLMode        string
	MaxConns       int32
	MigrationsPath string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NATSConfig is optional; an empty URL disables JetStream and events are
// written to the log instead.
type NATSConfig struct {
	URL string
}

type JWTConfig struct {
	AccessSecret string
	AccessExpiry time.Duration
}

// QuotaConfig drives the quota service: default monthly allowances, the
// warning threshold and how long a deduct may wait for the row lock.
type QuotaConfig struct {
	DefaultBWLimit    int
	DefaultColorLimit int
	WarningThreshold  float64
	MinTopup          int
	LockTimeout       time.Duration
}

// AgentsConfig bounds the number of active orders an agent may hold.
type AgentsConfig struct {
	CapDefault int
	CapMax     int
}

type ImportsConfig struct {
	MaxFileBytes int64
	MaxRows      int
}

// NotificationsConfig controls the sweep that deletes read notifications
// older than RetentionDays. SweepSchedule is a standard cron expression.
type NotificationsConfig struct {
	RetentionDays int
	SweepSchedule string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type RateLimitConfig struct {
	LoginMax     int
	UploadMax    int
	WindowSecond int
}

// AdminConfig seeds the first administrator when both fields are set.
type AdminConfig struct {
	Email    string
	Password string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: k.Int("server.port"),
		},
		DB: DBConfig{
			Host:           k.String("db.host"),
			Port:           k.Int("db.port"),
			User:           k.String("db.user"),
			Password:       k.String("db.password"),
			Name:           k.String("db.name"),
			SSLMode:        k.String("db.sslmode"),
			MaxConns:       int32(k.Int("db.max.conns")),
			MigrationsPath: k.String("db.migrations.path"),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL: k.String("nats.url"),
		},
		JWT: JWTConfig{
			AccessSecret: k.String("jwt.access.secret"),
		},
		Quota: QuotaConfig{
			DefaultBWLimit:    k.Int("quota.default.bw.limit"),
			DefaultColorLimit: k.Int("quota.default.color.limit"),
			WarningThreshold:  k.Float64("quota.warning.threshold"),
			MinTopup:          k.Int("quota.min.topup"),
		},
		Agents: AgentsConfig{
			CapDefault: k.Int("agents.cap.default"),
			CapMax:     k.Int("agents.cap.max"),
		},
		Imports: ImportsConfig{
			MaxFileBytes: k.Int64("imports.max.file.bytes"),
			MaxRows:      k.Int("imports.max.rows"),
		},
		Notify: NotificationsConfig{
			RetentionDays: k.Int("notifications.retention.days"),
			SweepSchedule: k.String("notifications.sweep.schedule"),
		},
		RateLimit: RateLimitConfig{
			LoginMax:     k.Int("ratelimit.login.max"),
			UploadMax:    k.Int("ratelimit.upload.max"),
			WindowSecond: k.Int("ratelimit.window.seconds"),
		},
		Admin: AdminConfig{
			Email:    k.String("admin.email"),
			Password: k.String("admin.password"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	if origins := k.String("cors.allowed.origins"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORS.AllowedOrigins = append(cfg.CORS.AllowedOrigins, o)
			}
		}
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "printops"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "printops"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.DB.MigrationsPath == "" {
		cfg.DB.MigrationsPath = "migrations"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if !k.Exists("quota.default.bw.limit") {
		cfg.Quota.DefaultBWLimit = 3000
	}
	if !k.Exists("quota.default.color.limit") {
		cfg.Quota.DefaultColorLimit = 2000
	}
	if cfg.Quota.WarningThreshold == 0 {
		cfg.Quota.WarningThreshold = 0.8
	}
	if !k.Exists("quota.min.topup") {
		cfg.Quota.MinTopup = 1000
	}
	if cfg.Agents.CapDefault == 0 {
		cfg.Agents.CapDefault = 10
	}
	if cfg.Agents.CapMax == 0 {
		cfg.Agents.CapMax = 30
	}
	if cfg.Imports.MaxFileBytes == 0 {
		cfg.Imports.MaxFileBytes = 16 << 20
	}
	if cfg.Imports.MaxRows == 0 {
		cfg.Imports.MaxRows = 5000
	}
	if cfg.Notify.RetentionDays == 0 {
		cfg.Notify.RetentionDays = 90
	}
	if cfg.Notify.SweepSchedule == "" {
		cfg.Notify.SweepSchedule = "@daily"
	}
	if cfg.RateLimit.LoginMax == 0 {
		cfg.RateLimit.LoginMax = 10
	}
	if cfg.RateLimit.UploadMax == 0 {
		cfg.RateLimit.UploadMax = 20
	}
	if cfg.RateLimit.WindowSecond == 0 {
		cfg.RateLimit.WindowSecond = 60
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	// Parse durations
	accessExpStr := k.String("jwt.access.expiry")
	if accessExpStr == "" {
		accessExpStr = "1h"
	}
	cfg.JWT.AccessExpiry, err = time.ParseDuration(accessExpStr)
	if err != nil {
		return nil, fmt.Errorf("parsing jwt access expiry: %w", err)
	}

	lockTimeoutStr := k.String("quota.lock.timeout")
	if lockTimeoutStr == "" {
		lockTimeoutStr = "5s"
	}
	cfg.Quota.LockTimeout, err = time.ParseDuration(lockTimeoutStr)
	if err != nil {
		return nil, fmt.Errorf("parsing quota lock timeout: %w", err)
	}

	return cfg, nil
}
