package db

import (
	"context"
)

const upsertTank = `-- name: UpsertTank :exec
INSERT INTO tanks (alias, wg_tank_id) VALUES (?, ?)
ON CONFLICT (alias) DO UPDATE SET wg_tank_id = excluded.wg_tank_id
`

// UpsertTank は車両の別名と外部APIの車両IDの対応を登録する。
func (q *Queries) UpsertTank(ctx context.Context, arg Tank) error {
	_, err := q.db.ExecContext(ctx, upsertTank, arg.Alias, arg.WgTankID)
	return err
}

const getTankByAlias = `-- name: GetTankByAlias :one
SELECT alias, wg_tank_id FROM tanks WHERE alias = ?
`

// GetTankByAlias は別名で車両を取得する。
func (q *Queries) GetTankByAlias(ctx context.Context, alias string) (Tank, error) {
	row := q.db.QueryRowContext(ctx, getTankByAlias, alias)
	var i Tank
	err := row.Scan(&i.Alias, &i.WgTankID)
	return i, err
}
