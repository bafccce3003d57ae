package middleware

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/tankwiki/pkg/apperr"
	"github.com/nao1215/tankwiki/pkg/logctx"
)

// Recovery はパニックからの回復を行うGinミドルウェアを返す。
// パニックの内容はログにのみ出力し、クライアントには internal エラーを返す。
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				ctx := c.Request.Context()
				logctx.From(ctx).LogAttrs(ctx, slog.LevelError, "panic",
					slog.String("method", c.Request.Method),
					slog.String("path", c.Request.URL.Path),
					slog.Any("reason", r),
				)
				apperr.Write(c, apperr.ErrInternal)
			}
		}()
		c.Next()
	}
}
