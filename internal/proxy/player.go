package proxy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nao1215/tankwiki/internal/credential"
	gatewaydb "github.com/nao1215/tankwiki/internal/gateway/db"
	"github.com/nao1215/tankwiki/pkg/apperr"
	"github.com/nao1215/tankwiki/pkg/logctx"
	"github.com/nao1215/tankwiki/pkg/wgapi"
)

// GameAPI はプレイヤー統計で使う外部ゲームAPIの操作。
// *wgapi.Client が実装する。
type GameAPI interface {
	FindAccountID(ctx context.Context, nickname string) (int64, error)
	AccountInfo(ctx context.Context, accountID int64, accessToken string) (json.RawMessage, error)
	AccountTankStats(ctx context.Context, accountID, tankID int64, accessToken string) (wgapi.TankStats, error)
}

// Directory はゲートウェイが保持するユーザー名と車両IDの対応を引く。
type Directory interface {
	// UserName はユーザーIDに対応するユーザー名を返す。
	UserName(ctx context.Context, userID int64) (string, error)
	// TankID は車両の別名に対応する外部APIの車両IDを返す。
	TankID(ctx context.Context, alias string) (int64, error)
}

// SQLDirectory はゲートウェイのデータベースを使う Directory の実装。
type SQLDirectory struct {
	queries *gatewaydb.Queries
}

// NewSQLDirectory は新しい SQLDirectory を生成する。
func NewSQLDirectory(q *gatewaydb.Queries) *SQLDirectory {
	return &SQLDirectory{queries: q}
}

// UserName はユーザー名を返す。存在しない場合は NotFound になる。
func (d *SQLDirectory) UserName(ctx context.Context, userID int64) (string, error) {
	const op = "proxy.SQLDirectory.UserName"

	u, err := d.queries.GetUserByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.New(apperr.KindNotFound, "user_not_found")
	}
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, fmt.Errorf("%s: %w", op, err))
	}
	return u.Name, nil
}

// TankID は外部APIの車両IDを返す。未登録の別名は NotFound になる。
func (d *SQLDirectory) TankID(ctx context.Context, alias string) (int64, error) {
	const op = "proxy.SQLDirectory.TankID"

	t, err := d.queries.GetTankByAlias(ctx, alias)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperr.New(apperr.KindNotFound, "tank_not_found")
	}
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInternal, fmt.Errorf("%s: %w", op, err))
	}
	return t.WgTankID, nil
}

// PlayerStats は外部ゲームAPIからプレイヤーの統計を取得する。
// 上流アクセストークンは呼び出しのたびに Store から読み取り、保持しない。
type PlayerStats struct {
	store credential.Store
	api   GameAPI
	dir   Directory
}

// NewPlayerStats は新しい PlayerStats を生成する。
func NewPlayerStats(store credential.Store, api GameAPI, dir Directory) *PlayerStats {
	return &PlayerStats{store: store, api: api, dir: dir}
}

// AccountOverview は userID のユーザーのアカウント情報を返す。
func (p *PlayerStats) AccountOverview(ctx context.Context, userID int64) (json.RawMessage, error) {
	name, err := p.dir.UserName(ctx, userID)
	if err != nil {
		return nil, err
	}
	accountID, err := p.findAccount(ctx, name)
	if err != nil {
		return nil, err
	}
	cred, err := p.credential(ctx)
	if err != nil {
		return nil, err
	}

	info, err := p.api.AccountInfo(ctx, accountID, cred.AccessToken)
	if err != nil {
		return nil, p.gameAPIError(ctx, "account_info", err)
	}
	return info, nil
}

// TankStats は userID のユーザーの、別名 alias の車両に関する統計を返す。
// 一度も出撃していない車両はゼロ値になる。
func (p *PlayerStats) TankStats(ctx context.Context, userID int64, alias string) (wgapi.TankStats, error) {
	name, err := p.dir.UserName(ctx, userID)
	if err != nil {
		return wgapi.TankStats{}, err
	}
	tankID, err := p.dir.TankID(ctx, alias)
	if err != nil {
		return wgapi.TankStats{}, err
	}
	accountID, err := p.findAccount(ctx, name)
	if err != nil {
		return wgapi.TankStats{}, err
	}
	cred, err := p.credential(ctx)
	if err != nil {
		return wgapi.TankStats{}, err
	}

	stats, err := p.api.AccountTankStats(ctx, accountID, tankID, cred.AccessToken)
	if err != nil {
		return wgapi.TankStats{}, p.gameAPIError(ctx, "account_tanks", err)
	}
	return stats, nil
}

func (p *PlayerStats) findAccount(ctx context.Context, name string) (int64, error) {
	id, err := p.api.FindAccountID(ctx, name)
	if err != nil {
		return 0, p.gameAPIError(ctx, "account_list", err)
	}
	return id, nil
}

// credential は現在の上流アクセストークンを読み取る。
func (p *PlayerStats) credential(ctx context.Context) (credential.Credential, error) {
	cred, err := p.store.Current(ctx)
	if err != nil {
		logctx.From(ctx).ErrorContext(ctx, "上流アクセストークンを読み取れません", slog.Any("error", err))
		return credential.Credential{}, apperr.Wrap(apperr.KindUpstreamFailure, err)
	}
	return cred, nil
}

// gameAPIError は外部ゲームAPIのエラーを分類する。
func (p *PlayerStats) gameAPIError(ctx context.Context, call string, err error) error {
	if errors.Is(err, wgapi.ErrAccountNotFound) {
		return &apperr.Error{Kind: apperr.KindNotFound, Reason: "account_not_found", Err: err}
	}
	logctx.From(ctx).ErrorContext(ctx, "外部ゲームAPIの呼び出しに失敗",
		slog.String("call", call),
		slog.Any("error", err),
	)
	return apperr.Wrap(apperr.KindUpstreamFailure, err)
}
