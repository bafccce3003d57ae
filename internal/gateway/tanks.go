package gateway

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/tankwiki/internal/proxy"
	"github.com/nao1215/tankwiki/pkg/apperr"
	"github.com/nao1215/tankwiki/pkg/middleware"
)

// handleProxy は path で組み立てた下流のパスへ参照リクエストを転送するハンドラを返す。
// 転送するのはメソッド・パス・クエリのみで、リクエストボディは読まない。
func (s *Server) handleProxy(target proxy.Target, path func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := middleware.GetIdentity(c)
		if !ok {
			apperr.Write(c, apperr.ErrUnauthenticated)
			return
		}

		resp, err := s.orchestrator.Forward(requestContext(c), id, proxy.Request{
			Target: target,
			Method: c.Request.Method,
			Path:   path(c),
			Query:  c.Request.URL.Query(),
		})
		if err != nil {
			apperr.Write(c, err)
			return
		}
		relay(c, resp)
	}
}

// relay は下流サービスの成功レスポンスをそのままクライアントへ返す。
func relay(c *gin.Context, resp *proxy.Response) {
	if resp.Location != "" {
		c.Header("Location", resp.Location)
	}
	if len(resp.Body) == 0 {
		c.Status(resp.StatusCode)
		return
	}
	contentType := resp.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(resp.StatusCode, contentType, resp.Body)
}

// tankPath は車両統計サービスでのパスを組み立てる。
func (s *Server) tankPath(segments ...string) string {
	p := strings.TrimRight(s.tankStatsPrefix, "/")
	for _, seg := range segments {
		p += "/" + url.PathEscape(seg)
	}
	if p == "" {
		return "/"
	}
	return p
}

// handleTankStats は認証済みユーザーの特定車両に関する戦績を返すハンドラを返す。
func (s *Server) handleTankStats() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := middleware.GetIdentity(c)
		if !ok {
			apperr.Write(c, apperr.ErrUnauthenticated)
			return
		}

		stats, err := s.players.TankStats(c.Request.Context(), id.UserID, c.Param("alias"))
		if err != nil {
			apperr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

// handleUserOverview はユーザーのゲームアカウント情報を返すハンドラを返す。
func (s *Server) handleUserOverview() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || userID <= 0 {
			apperr.Write(c, apperr.BadRequest("id_invalid"))
			return
		}

		info, err := s.players.AccountOverview(c.Request.Context(), userID)
		if err != nil {
			apperr.Write(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", info)
	}
}
