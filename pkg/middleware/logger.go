package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/tankwiki/pkg/logctx"
)

// Logger はリクエスト単位のロガーをコンテキストに格納し、
// 処理完了後にアクセスログを出力するGinミドルウェアを返す。
// RequestID より後に適用すること。
func Logger(l *slog.Logger) gin.HandlerFunc {
	if l == nil {
		l = slog.Default()
	}
	return func(c *gin.Context) {
		reqLogger := l
		if rid := c.GetHeader(HeaderRequestID); rid != "" {
			reqLogger = reqLogger.With(slog.String("request_id", rid))
		}
		c.Request = c.Request.WithContext(logctx.Into(c.Request.Context(), reqLogger))

		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= 500 {
			level = slog.LevelError
		}
		ctx := c.Request.Context()
		logctx.From(ctx).LogAttrs(ctx, level, "http",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("dur", time.Since(start)),
			slog.Int("bytes", c.Writer.Size()),
		)
	}
}
