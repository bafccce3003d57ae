package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	gatewaydb "github.com/nao1215/tankwiki/internal/gateway/db"
)

// ErrNotProvisioned は上流アクセストークンがまだ登録されていない場合のエラー。
var ErrNotProvisioned = errors.New("credential: 上流アクセストークンが未登録です")

// Credential は上流アクセストークンとその有効期限。
type Credential struct {
	// AccessToken は外部APIのアクセストークン。
	AccessToken string
	// ExpiresAt はトークンの有効期限。
	ExpiresAt time.Time
}

// Remaining は now 時点での残り有効期間を返す。期限切れの場合は負の値になる。
func (c Credential) Remaining(now time.Time) time.Duration {
	return c.ExpiresAt.Sub(now)
}

// Store は共有の上流アクセストークンを永続化する。
// 保持するのは常に高々1件で、置き換えは原子的に行われる。
type Store interface {
	// Current は現在のトークンを返す。未登録の場合は ErrNotProvisioned を返す。
	Current(ctx context.Context) (Credential, error)
	// Replace は現在のトークンを cred で置き換える。
	Replace(ctx context.Context, cred Credential) error
}

// SQLStore はゲートウェイのSQLiteデータベースを使う Store の実装。
type SQLStore struct {
	db      *sql.DB
	queries *gatewaydb.Queries
}

// NewSQLStore は新しい SQLStore を生成する。
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, queries: gatewaydb.New(db)}
}

// Current は現在のトークンを返す。
func (s *SQLStore) Current(ctx context.Context) (Credential, error) {
	const op = "credential.SQLStore.Current"

	row, err := s.queries.GetUpstreamCredential(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return Credential{}, ErrNotProvisioned
	}
	if err != nil {
		return Credential{}, fmt.Errorf("%s: %w", op, err)
	}
	return Credential{
		AccessToken: row.AccessToken,
		ExpiresAt:   time.Unix(row.ExpiresAt, 0).UTC(),
	}, nil
}

// Replace は既存の行を削除して新しい行を挿入する。
// 2つの操作は1つのトランザクションで行うため、読み手が空の状態を観測することはない。
func (s *SQLStore) Replace(ctx context.Context, cred Credential) error {
	const op = "credential.SQLStore.Replace"

	if cred.AccessToken == "" {
		return fmt.Errorf("%s: アクセストークンが空です", op)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: トランザクション開始に失敗: %w", op, err)
	}
	defer tx.Rollback() //nolint:errcheck

	q := s.queries.WithTx(tx)
	if err := q.DeleteUpstreamCredentials(ctx); err != nil {
		return fmt.Errorf("%s: 削除に失敗: %w", op, err)
	}
	if err := q.InsertUpstreamCredential(ctx, gatewaydb.UpstreamCredential{
		AccessToken: cred.AccessToken,
		ExpiresAt:   cred.ExpiresAt.Unix(),
	}); err != nil {
		return fmt.Errorf("%s: 挿入に失敗: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: コミットに失敗: %w", op, err)
	}
	return nil
}

// Bootstrap はストアが空の場合に限り cred を登録する。
// 登録した場合は true を返す。cred のトークンが空なら何もしない。
func Bootstrap(ctx context.Context, store Store, cred Credential) (bool, error) {
	if cred.AccessToken == "" {
		return false, nil
	}

	_, err := store.Current(ctx)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, ErrNotProvisioned):
		return false, err
	}

	if err := store.Replace(ctx, cred); err != nil {
		return false, err
	}
	return true, nil
}
