package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/nao1215/tankwiki/pkg/migration"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrate はマイグレーションを実行してゲートウェイのスキーマを適用する。
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := migration.Run(ctx, db, migrationsFS, "migrations"); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}
