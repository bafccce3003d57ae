// Package config はゲートウェイの設定を読み込む。
//
// 読み込み元（優先度の高い順）:
//  1. 明示的なパス（--config）
//  2. 環境変数 CONFIG_PATH
//  3. ./local.yaml
//  4. 環境変数のみ
//
// いずれの場合も環境変数で上書きされる。
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/nao1215/tankwiki/pkg/token"
)

// Config はゲートウェイ全体の設定。
type Config struct {
	Env      string         `yaml:"env" env:"ENV" env-default:"local"`
	HTTP     HTTPConfig     `yaml:"http"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Services ServicesConfig `yaml:"services"`
	GameAPI  GameAPIConfig  `yaml:"game_api"`
	Upstream UpstreamConfig `yaml:"upstream"`
	CORS     CORSConfig     `yaml:"cors"`
	Comments CommentsConfig `yaml:"comments"`
	Catalog  CatalogConfig  `yaml:"catalog"`
}

// HTTPConfig は公開HTTPサーバーの設定。
type HTTPConfig struct {
	Host            string        `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port            string        `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// Addr は待ち受けアドレスを返す。
func (h HTTPConfig) Addr() string { return net.JoinHostPort(h.Host, h.Port) }

// AuthConfig はセッショントークンとサービストークンの設定。
// 2つの署名鍵は異なる値でなければならない。
type AuthConfig struct {
	SessionSecret string        `yaml:"session_secret" env:"SESSION_SECRET"`
	ServiceSecret string        `yaml:"service_secret" env:"SERVICE_SECRET"`
	SessionTTL    time.Duration `yaml:"session_ttl" env:"SESSION_TTL" env-default:"1h"`
	ServiceTTL    time.Duration `yaml:"service_ttl" env:"SERVICE_TTL" env-default:"5m"`
	BcryptCost    int           `yaml:"bcrypt_cost" env:"BCRYPT_COST" env-default:"10"`
}

// SessionKey はセッション署名鍵を返す。
func (a AuthConfig) SessionKey() token.SessionSecret { return token.SessionSecret(a.SessionSecret) }

// ServiceKey はサービス署名鍵を返す。
func (a AuthConfig) ServiceKey() token.ServiceSecret { return token.ServiceSecret(a.ServiceSecret) }

// DatabaseConfig はゲートウェイ自身のSQLiteデータベースの設定。
type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"DATABASE_DSN" env-default:"file:tankwiki.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"`
}

// ServicesConfig は下流サービスの接続先。
type ServicesConfig struct {
	TankStatsURL    string        `yaml:"tank_stats_url" env:"TANK_STATS_URL" env-default:"http://localhost:3001"`
	TankStatsPrefix string        `yaml:"tank_stats_prefix" env:"TANK_STATS_PREFIX" env-default:"/collection"`
	CommentsURL     string        `yaml:"comments_url" env:"COMMENTS_URL" env-default:"http://localhost:3002"`
	CommentsPrefix  string        `yaml:"comments_prefix" env:"COMMENTS_PREFIX" env-default:"/subject"`
	Timeout         time.Duration `yaml:"timeout" env:"SERVICES_TIMEOUT" env-default:"10s"`
}

// GameAPIConfig は外部ゲームAPIの設定。
type GameAPIConfig struct {
	BaseURL       string        `yaml:"base_url" env:"GAME_API_BASE_URL" env-default:"https://api.worldoftanks.eu/wot"`
	ApplicationID string        `yaml:"application_id" env:"GAME_API_APPLICATION_ID"`
	Timeout       time.Duration `yaml:"timeout" env:"GAME_API_TIMEOUT" env-default:"10s"`
}

// UpstreamConfig は上流アクセストークンのライフサイクル設定。
type UpstreamConfig struct {
	RefreshPeriod   time.Duration `yaml:"refresh_period" env:"UPSTREAM_REFRESH_PERIOD" env-default:"15m"`
	Threshold       time.Duration `yaml:"threshold" env:"UPSTREAM_THRESHOLD" env-default:"30m"`
	ExchangeTimeout time.Duration `yaml:"exchange_timeout" env:"UPSTREAM_EXCHANGE_TIMEOUT" env-default:"30s"`
	// InitialAccessToken はストアが空の場合に投入するアクセストークン。
	InitialAccessToken string `yaml:"initial_access_token" env:"UPSTREAM_INITIAL_ACCESS_TOKEN"`
	// InitialExpiresAt は InitialAccessToken の有効期限（UNIX秒）。
	InitialExpiresAt int64 `yaml:"initial_expires_at" env:"UPSTREAM_INITIAL_EXPIRES_AT"`
}

// CORSConfig はCORSの許可オリジン。
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" env-default:"http://localhost:3000"`
}

// CommentsConfig はコメントツリー構築の設定。
type CommentsConfig struct {
	RootMarker int64 `yaml:"root_marker" env:"COMMENTS_ROOT_MARKER" env-default:"-1"`
	MaxDepth   int   `yaml:"max_depth" env:"COMMENTS_MAX_DEPTH" env-default:"512"`
}

// CatalogConfig は起動時にデータベースへ登録する車両の別名表。
type CatalogConfig struct {
	// Tanks は別名から外部APIの車両IDへの対応（環境変数では "is-7:7169,t-34:1"）。
	Tanks map[string]int64 `yaml:"tanks" env:"CATALOG_TANKS"`
}

// MustLoad は Load に失敗した場合にパニックする。
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load は設定を読み込み、検証する。
func Load(path string) (*Config, error) {
	var cfg Config

	read := func(p string) error {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("設定ファイル %q が見つかりません: %w", p, err)
		}
		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return fmt.Errorf("設定ファイル %q の読み込みに失敗: %w", p, err)
		}
		return nil
	}

	switch {
	case path != "":
		if err := read(path); err != nil {
			return nil, err
		}
	case os.Getenv("CONFIG_PATH") != "":
		if err := read(os.Getenv("CONFIG_PATH")); err != nil {
			return nil, err
		}
	default:
		if _, err := os.Stat("local.yaml"); err == nil {
			if err := read("local.yaml"); err != nil {
				return nil, err
			}
		} else if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("環境変数の読み込みに失敗: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate は設定値の整合性を検証する。
func (c *Config) Validate() error {
	var errs []error

	if c.Auth.SessionSecret == "" {
		errs = append(errs, errors.New("auth.session_secret が未設定です"))
	}
	if c.Auth.ServiceSecret == "" {
		errs = append(errs, errors.New("auth.service_secret が未設定です"))
	}
	if c.Auth.SessionSecret != "" && c.Auth.SessionSecret == c.Auth.ServiceSecret {
		errs = append(errs, errors.New("auth.session_secret と auth.service_secret は異なる値にしてください"))
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"auth.session_ttl", c.Auth.SessionTTL},
		{"auth.service_ttl", c.Auth.ServiceTTL},
		{"services.timeout", c.Services.Timeout},
		{"game_api.timeout", c.GameAPI.Timeout},
		{"upstream.refresh_period", c.Upstream.RefreshPeriod},
		{"upstream.threshold", c.Upstream.Threshold},
		{"upstream.exchange_timeout", c.Upstream.ExchangeTimeout},
	}
	for _, d := range durations {
		if d.d <= 0 {
			errs = append(errs, fmt.Errorf("%s は正の値が必要です: %s", d.name, d.d))
		}
	}

	if c.Upstream.InitialAccessToken != "" && c.Upstream.InitialExpiresAt <= 0 {
		errs = append(errs, errors.New("upstream.initial_expires_at が未設定です"))
	}
	if c.Comments.MaxDepth < 0 {
		errs = append(errs, errors.New("comments.max_depth は0以上が必要です"))
	}
	for alias, id := range c.Catalog.Tanks {
		if alias == "" || id <= 0 {
			errs = append(errs, fmt.Errorf("catalog.tanks の %q: %d は不正です", alias, id))
		}
	}
	return errors.Join(errs...)
}
