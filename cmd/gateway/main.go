// tankwikiゲートウェイのエントリポイント。
// セッション認証、下流サービスへの転送、上流アクセストークンの更新を担当する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線となる。
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	_ "modernc.org/sqlite"

	"github.com/nao1215/tankwiki/internal/config"
	"github.com/nao1215/tankwiki/internal/credential"
	"github.com/nao1215/tankwiki/internal/gateway"
	gatewaydb "github.com/nao1215/tankwiki/internal/gateway/db"
	"github.com/nao1215/tankwiki/internal/metrics"
	"github.com/nao1215/tankwiki/internal/provision"
	"github.com/nao1215/tankwiki/internal/proxy"
	"github.com/nao1215/tankwiki/pkg/httpclient"
	"github.com/nao1215/tankwiki/pkg/logctx"
	"github.com/nao1215/tankwiki/pkg/token"
	"github.com/nao1215/tankwiki/pkg/wgapi"
)

// 実行環境。
const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "設定ファイルのパス（環境変数 CONFIG_PATH より優先）")
	pflag.Parse()

	// .env は任意
	_ = godotenv.Load()

	cfg := config.MustLoad(*configPath)

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("gatewayが異常終了しました", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	rootCtx = logctx.Into(rootCtx, log)

	if cfg.Env != envLocal {
		gin.SetMode(gin.ReleaseMode)
	}

	sqlDB, err := sql.Open("sqlite", cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("データベース接続に失敗: %w", err)
	}
	defer sqlDB.Close()

	if err := gatewaydb.Migrate(rootCtx, sqlDB); err != nil {
		return err
	}

	mt := metrics.New()
	store := credential.NewSQLStore(sqlDB)

	if cfg.Upstream.InitialAccessToken != "" {
		seeded, err := credential.Bootstrap(rootCtx, store, credential.Credential{
			AccessToken: cfg.Upstream.InitialAccessToken,
			ExpiresAt:   time.Unix(cfg.Upstream.InitialExpiresAt, 0).UTC(),
		})
		if err != nil {
			return fmt.Errorf("上流アクセストークンの初期登録に失敗: %w", err)
		}
		if seeded {
			log.Info("上流アクセストークンを設定から登録しました")
		}
	}

	n, err := provision.Tanks(rootCtx, sqlDB, cfg.Catalog.Tanks)
	if err != nil {
		return fmt.Errorf("車両の別名表の登録に失敗: %w", err)
	}
	if n > 0 {
		log.Info("車両の別名表を設定から登録しました", slog.Int("tanks", n))
	}

	gameAPI := wgapi.New(cfg.GameAPI.BaseURL, cfg.GameAPI.ApplicationID, httpclient.WithTimeout(cfg.GameAPI.Timeout))

	manager := credential.NewManager(store, credential.NewGameAPIExchanger(gameAPI), credential.ManagerConfig{
		Period:          cfg.Upstream.RefreshPeriod,
		Threshold:       cfg.Upstream.Threshold,
		ExchangeTimeout: cfg.Upstream.ExchangeTimeout,
	}, credential.WithLogger(log), credential.WithMetrics(mt))

	sessions, err := token.NewSessionAuthenticator(cfg.Auth.SessionKey(), cfg.Auth.SessionTTL)
	if err != nil {
		return err
	}
	signer, err := token.NewServiceSigner(cfg.Auth.ServiceKey(), cfg.Auth.ServiceTTL)
	if err != nil {
		return err
	}

	orchestrator := proxy.New(signer, proxy.Config{
		TankStats:      httpclient.New(cfg.Services.TankStatsURL, httpclient.WithTimeout(cfg.Services.Timeout)),
		Comments:       httpclient.New(cfg.Services.CommentsURL, httpclient.WithTimeout(cfg.Services.Timeout)),
		CommentsPrefix: cfg.Services.CommentsPrefix,
		RootMarker:     cfg.Comments.RootMarker,
		MaxDepth:       cfg.Comments.MaxDepth,
	}, mt)
	players := proxy.NewPlayerStats(store, gameAPI, proxy.NewSQLDirectory(gatewaydb.New(sqlDB)))

	server, err := gateway.NewServer(gateway.Deps{
		DB:              sqlDB,
		Sessions:        sessions,
		Orchestrator:    orchestrator,
		Players:         players,
		Credential:      manager,
		Metrics:         mt,
		Logger:          log,
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
		TankStatsPrefix: cfg.Services.TankStatsPrefix,
		RootMarker:      cfg.Comments.RootMarker,
		BcryptCost:      cfg.Auth.BcryptCost,
	})
	if err != nil {
		return err
	}

	manager.Start(rootCtx)
	defer manager.Stop()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErrCh := make(chan error, 1)
	go func() {
		log.Info("gatewayを起動します", slog.String("env", cfg.Env), slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
		}
		close(serveErrCh)
	}()

	select {
	case <-rootCtx.Done():
		log.Info("停止要求を受け取りました")
	case err := <-serveErrCh:
		if err != nil {
			return fmt.Errorf("HTTPサーバーが停止しました: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	log.Info("gatewayを停止しました")
	return nil
}

// setupLogger は実行環境に応じたロガーを返す。
func setupLogger(env string) *slog.Logger {
	switch env {
	case envDev:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}
