package logctx

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func newSilent() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// slog.Default() を差し替えるため t.Parallel() は使わない。
func TestFrom(t *testing.T) {
	old := slog.Default()
	t.Cleanup(func() { slog.SetDefault(old) })

	def := newSilent()
	slog.SetDefault(def)

	t.Run("ロガーが無ければデフォルトを返すこと", func(t *testing.T) {
		require.Equal(t, def, From(context.Background()))
	})

	t.Run("Intoで格納したロガーを返すこと", func(t *testing.T) {
		l := newSilent()
		ctx := Into(context.Background(), l)
		require.Equal(t, l, From(ctx))
	})

	t.Run("nilロガーはデフォルト扱いになること", func(t *testing.T) {
		ctx := Into(context.Background(), nil)
		require.Equal(t, def, From(ctx))
	})
}
