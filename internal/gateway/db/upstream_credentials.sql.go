package db

import (
	"context"
)

const getUpstreamCredential = `-- name: GetUpstreamCredential :one
SELECT access_token, expires_at FROM upstream_credentials LIMIT 1
`

// GetUpstreamCredential は現在の上流アクセストークンを取得する。
func (q *Queries) GetUpstreamCredential(ctx context.Context) (UpstreamCredential, error) {
	row := q.db.QueryRowContext(ctx, getUpstreamCredential)
	var i UpstreamCredential
	err := row.Scan(&i.AccessToken, &i.ExpiresAt)
	return i, err
}

const deleteUpstreamCredentials = `-- name: DeleteUpstreamCredentials :exec
DELETE FROM upstream_credentials
`

// DeleteUpstreamCredentials は全ての上流アクセストークンを削除する。
func (q *Queries) DeleteUpstreamCredentials(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, deleteUpstreamCredentials)
	return err
}

const insertUpstreamCredential = `-- name: InsertUpstreamCredential :exec
INSERT INTO upstream_credentials (id, access_token, expires_at, updated_at)
VALUES (1, ?, ?, datetime('now'))
`

// InsertUpstreamCredential は上流アクセストークンを挿入する。
func (q *Queries) InsertUpstreamCredential(ctx context.Context, arg UpstreamCredential) error {
	_, err := q.db.ExecContext(ctx, insertUpstreamCredential, arg.AccessToken, arg.ExpiresAt)
	return err
}
