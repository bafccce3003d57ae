package middleware

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/tankwiki/pkg/apperr"
	"github.com/nao1215/tankwiki/pkg/logctx"
	"github.com/nao1215/tankwiki/pkg/token"
)

// contextKeyIdentity はGinコンテキストに認証済みIdentityを格納するキー。
const contextKeyIdentity = "identity"

// SessionAuth はセッショントークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに Identity を設定し、
// リクエスト単位のロガーに user_id を追加する。
// データベースにはアクセスしない。
func SessionAuth(a *token.SessionAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := a.Authenticate(c.GetHeader("Authorization"))
		if err != nil {
			ctx := c.Request.Context()
			logctx.From(ctx).DebugContext(ctx, "セッショントークンの検証に失敗", slog.Any("error", err))
			apperr.Write(c, err)
			return
		}

		c.Set(contextKeyIdentity, id)
		ctx := c.Request.Context()
		c.Request = c.Request.WithContext(logctx.Into(ctx, logctx.From(ctx).With(slog.Int64("user_id", id.UserID))))
		c.Next()
	}
}

// GetIdentity はGinコンテキストから認証済みIdentityを取得する。
// SessionAuth ミドルウェアが事前に適用されている必要がある。
func GetIdentity(c *gin.Context) (token.Identity, bool) {
	v, ok := c.Get(contextKeyIdentity)
	if !ok {
		return token.Identity{}, false
	}
	id, ok := v.(token.Identity)
	return id, ok
}
