// Package config は環境変数からのアプリケーション設定読み込みを提供する。
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// SessionStore は投票セッションの保存先。
type SessionStore string

const (
	SessionStorePostgres SessionStore = "postgres"
	SessionStoreRedis    SessionStore = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL    string        `env:"DATABASE_URL"`
	DBMaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"20"`
	DBMaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBConnLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`

	// 管理画面ログイン（JWT）
	JWTSecret string        `env:"JWT_SECRET"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"12h"`

	// 投票セッション
	VotingSessionTTL time.Duration `env:"VOTING_SESSION_TTL" envDefault:"30m"`
	SessionStore     SessionStore  `env:"SESSION_STORE" envDefault:"postgres"`
	RedisURL         string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	// ユーザーディレクトリ
	DirectoryTimeout time.Duration `env:"DIRECTORY_TIMEOUT" envDefault:"3s"`

	// Rate Limit（req/min）
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitAccess  int `env:"RATE_LIMIT_ACCESS" envDefault:"20"`

	// Worker
	LifecycleSweepInterval time.Duration `env:"LIFECYCLE_SWEEP_INTERVAL" envDefault:"1m"`
	SessionCleanupInterval time.Duration `env:"SESSION_CLEANUP_INTERVAL" envDefault:"1h"`
	WorkerMetricsPort      string        `env:"WORKER_METRICS_PORT" envDefault:"9090"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`

	// CORS（カンマ区切りで複数指定可）
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`

	// 初期管理者（create-adminサブコマンド用）
	BootstrapAdminEmail    string `env:"BOOTSTRAP_ADMIN_EMAIL"`
	BootstrapAdminPassword string `env:"BOOTSTRAP_ADMIN_PASSWORD"`
	BootstrapAdminName     string `env:"BOOTSTRAP_ADMIN_NAME" envDefault:"Administrator"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は未設定の変数名をまとめてエラーで返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	var missing []string
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	switch cfg.SessionStore {
	case SessionStorePostgres, SessionStoreRedis:
	default:
		return nil, fmt.Errorf("invalid SESSION_STORE: %q (postgres or redis)", cfg.SessionStore)
	}

	// 0以下の間隔はtime.NewTickerがpanicし、0以下のレート制限は全リクエストを拒否する
	durations := []struct {
		name  string
		value time.Duration
	}{
		{"VOTING_SESSION_TTL", cfg.VotingSessionTTL},
		{"JWT_TTL", cfg.JWTTTL},
		{"DIRECTORY_TIMEOUT", cfg.DirectoryTimeout},
		{"LIFECYCLE_SWEEP_INTERVAL", cfg.LifecycleSweepInterval},
		{"SESSION_CLEANUP_INTERVAL", cfg.SessionCleanupInterval},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return nil, fmt.Errorf("%s must be positive: %v", d.name, d.value)
		}
	}
	limits := []struct {
		name  string
		value int
	}{
		{"RATE_LIMIT_GENERAL", cfg.RateLimitGeneral},
		{"RATE_LIMIT_ACCESS", cfg.RateLimitAccess},
	}
	for _, l := range limits {
		if l.value <= 0 {
			return nil, fmt.Errorf("%s must be positive: %d", l.name, l.value)
		}
	}

	return cfg, nil
}

// SlogLevel はLOG_LEVELをslog.Levelに変換する。未知の値はInfoとして扱う。
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
