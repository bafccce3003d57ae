package gateway

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/tankwiki/internal/credential"
	gatewaydb "github.com/nao1215/tankwiki/internal/gateway/db"
	"github.com/nao1215/tankwiki/internal/metrics"
	"github.com/nao1215/tankwiki/internal/proxy"
	"github.com/nao1215/tankwiki/pkg/middleware"
	"github.com/nao1215/tankwiki/pkg/token"
)

// statSections は車両統計サービスが提供する統計の区分。
var statSections = []string{"firepower", "survivability", "mobility", "spotting"}

// StateReporter は上流アクセストークンの状態を返す。*credential.Manager が実装する。
type StateReporter interface {
	State() credential.State
}

// Deps はServerが依存するコンポーネント。
type Deps struct {
	// DB はゲートウェイのSQLiteデータベース接続。
	DB *sql.DB
	// Sessions はセッショントークンの発行と検証を行う。
	Sessions *token.SessionAuthenticator
	// Orchestrator は下流サービスへの転送を行う。
	Orchestrator *proxy.Orchestrator
	// Players は外部ゲームAPIからプレイヤー統計を取得する。
	Players *proxy.PlayerStats
	// Credential は上流アクセストークンの状態。nil の場合はヘルスチェックに含めない。
	Credential StateReporter
	// Metrics は /metrics で公開するメトリクス。nil の場合は公開しない。
	Metrics *metrics.Metrics
	// Logger はアクセスログの出力先。
	Logger *slog.Logger
	// AllowedOrigins はCORSで許可するオリジン。
	AllowedOrigins []string
	// TankStatsPrefix は車両統計サービスのパスの接頭辞（例: "/collection"）。
	TankStatsPrefix string
	// RootMarker はルートコメントの親ID。
	RootMarker int64
	// BcryptCost はパスワードハッシュのコスト。
	BcryptCost int
}

// Server はゲートウェイのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// db はSQLiteデータベース接続。
	db *sql.DB
	// queries はsqlc形式のクエリ実行オブジェクト。
	queries *gatewaydb.Queries

	sessions     *token.SessionAuthenticator
	orchestrator *proxy.Orchestrator
	players      *proxy.PlayerStats
	credential   StateReporter
	metrics      *metrics.Metrics
	validate     *requestValidator

	tankStatsPrefix string
	rootMarker      int64
	bcryptCost      int
}

// NewServer は新しいServerを生成してルーティングを設定する。
func NewServer(d Deps) (*Server, error) {
	switch {
	case d.DB == nil:
		return nil, errors.New("gateway: データベース接続が必要です")
	case d.Sessions == nil:
		return nil, errors.New("gateway: セッション認証が必要です")
	case d.Orchestrator == nil:
		return nil, errors.New("gateway: Orchestratorが必要です")
	case d.Players == nil:
		return nil, errors.New("gateway: PlayerStatsが必要です")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(d.Logger))
	router.Use(middleware.Recovery())
	router.Use(middleware.CORS(d.AllowedOrigins))

	s := &Server{
		router:          router,
		db:              d.DB,
		queries:         gatewaydb.New(d.DB),
		sessions:        d.Sessions,
		orchestrator:    d.Orchestrator,
		players:         d.Players,
		credential:      d.Credential,
		metrics:         d.Metrics,
		validate:        newRequestValidator(),
		tankStatsPrefix: d.TankStatsPrefix,
		rootMarker:      d.RootMarker,
		bcryptCost:      d.BcryptCost,
	}
	s.setupRoutes()

	return s, nil
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	// 認証不要
	s.router.POST("/register", s.handleRegister())
	s.router.POST("/login", s.handleLogin())
	s.router.GET("/health", s.handleHealth())
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := s.router.Group("/")
	api.Use(middleware.SessionAuth(s.sessions))
	{
		api.GET("/users/:id", s.handleUserOverview())

		// 車両統計サービス（プロキシ）
		api.GET("/tanks", s.handleProxy(proxy.TargetTankStats, func(*gin.Context) string {
			return s.tankPath()
		}))
		api.GET("/tanks/:alias", s.handleProxy(proxy.TargetTankStats, func(c *gin.Context) string {
			return s.tankPath(c.Param("alias"))
		}))
		for _, section := range statSections {
			api.GET("/tanks/:alias/"+section, s.handleProxy(proxy.TargetTankStats, func(c *gin.Context) string {
				return s.tankPath(c.Param("alias"), section)
			}))
		}

		// プレイヤー統計
		api.GET("/tanks/:alias/stats", s.handleTankStats())

		// コメント
		api.GET("/tanks/:alias/comments", s.handleListComments())
		api.POST("/tanks/:alias/comments", s.handleCreateComment())
		api.PUT("/tanks/:alias/comments", s.handleUpdateComment())
		api.DELETE("/tanks/:alias/comments/:id", s.handleDeleteComment())
	}
}

// handleHealth はヘルスチェックのハンドラを返す。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		body := gin.H{"status": "ok", "service": "gateway"}
		if s.credential != nil {
			body["upstream_credential"] = s.credential.State().String()
		}
		if err := s.db.PingContext(ctx); err != nil {
			body["status"] = "unavailable"
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		c.JSON(http.StatusOK, body)
	}
}

// requestContext は下流へリクエストIDを伝播するコンテキストを返す。
func requestContext(c *gin.Context) context.Context {
	return proxy.WithRequestID(c.Request.Context(), c.Writer.Header().Get(middleware.HeaderRequestID))
}
