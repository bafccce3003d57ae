// Package logctx はリクエストスコープの slog ロガーをコンテキストで受け渡す。
package logctx

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// Into はロガーをコンテキストに格納する。
func Into(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From はコンテキストからロガーを取り出す。無ければ slog.Default() を返す。
func From(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}
