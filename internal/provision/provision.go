// Package provision はゲートウェイのデータベースに運用データを投入する。
//
// 車両の別名表は起動時に設定から、利用停止は管理コマンドから登録する。
package provision

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	gatewaydb "github.com/nao1215/tankwiki/internal/gateway/db"
)

// ErrUserNotFound は指定したユーザーが存在しない場合のエラー。
var ErrUserNotFound = errors.New("provision: ユーザーが見つかりません")

// Tanks は車両の別名と外部APIの車両IDの対応を1つのトランザクションで登録する。
// 既存の別名は車両IDを上書きする。登録した件数を返す。
func Tanks(ctx context.Context, sqlDB *sql.DB, tanks map[string]int64) (int, error) {
	const op = "provision.Tanks"

	if len(tanks) == 0 {
		return 0, nil
	}

	aliases := make([]string, 0, len(tanks))
	for alias, id := range tanks {
		if strings.TrimSpace(alias) == "" {
			return 0, fmt.Errorf("%s: 空の別名は登録できません", op)
		}
		if id <= 0 {
			return 0, fmt.Errorf("%s: 別名 %q の車両IDが不正です: %d", op, alias, id)
		}
		aliases = append(aliases, alias)
	}
	slices.Sort(aliases)

	tx, err := sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: トランザクション開始に失敗: %w", op, err)
	}
	defer tx.Rollback() //nolint:errcheck

	q := gatewaydb.New(tx)
	for _, alias := range aliases {
		if err := q.UpsertTank(ctx, gatewaydb.Tank{Alias: alias, WgTankID: tanks[alias]}); err != nil {
			return 0, fmt.Errorf("%s: 別名 %q の登録に失敗: %w", op, alias, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: コミットに失敗: %w", op, err)
	}
	return len(aliases), nil
}

// Ban はユーザーの利用停止の内容。
type Ban struct {
	// Email は対象ユーザーのメールアドレス。
	Email string
	// Type は停止種別（例: "r" でログイン不可、"c" でコメント不可）。空なら停止を解除する。
	Type string
	// Reason は停止理由。
	Reason string
	// At は停止日時。
	At time.Time
}

// BanUser はメールアドレスで指定したユーザーの停止情報を更新する。
// Type が空の場合は停止日時と理由も消去する。
func BanUser(ctx context.Context, q *gatewaydb.Queries, b Ban) error {
	const op = "provision.BanUser"

	u, err := q.GetUserByEmail(ctx, b.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %s: %w", op, b.Email, ErrUserNotFound)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	params := gatewaydb.BanUserParams{ID: u.ID, BanType: b.Type}
	if b.Type != "" {
		params.BanDate = sql.NullTime{Time: b.At.UTC(), Valid: true}
		params.BanReason = sql.NullString{String: b.Reason, Valid: b.Reason != ""}
	}
	if err := q.BanUser(ctx, params); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
