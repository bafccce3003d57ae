package db

import (
	"context"
	"database/sql"
)

const createUser = `-- name: CreateUser :execlastid
INSERT INTO users (name, email, password_hash, rights)
VALUES (?, ?, ?, ?)
`

// CreateUserParams は CreateUser の引数。
type CreateUserParams struct {
	Name         string
	Email        string
	PasswordHash string
	Rights       string
}

// CreateUser はユーザーを作成し、採番されたIDを返す。
func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, createUser,
		arg.Name,
		arg.Email,
		arg.PasswordHash,
		arg.Rights,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

const userNameExists = `-- name: UserNameExists :one
SELECT EXISTS (SELECT 1 FROM users WHERE name = ?)
`

// UserNameExists は同じ名前のユーザーが存在するかを返す。
func (q *Queries) UserNameExists(ctx context.Context, name string) (bool, error) {
	row := q.db.QueryRowContext(ctx, userNameExists, name)
	var exists bool
	err := row.Scan(&exists)
	return exists, err
}

const userEmailExists = `-- name: UserEmailExists :one
SELECT EXISTS (SELECT 1 FROM users WHERE email = ?)
`

// UserEmailExists は同じメールアドレスのユーザーが存在するかを返す。
func (q *Queries) UserEmailExists(ctx context.Context, email string) (bool, error) {
	row := q.db.QueryRowContext(ctx, userEmailExists, email)
	var exists bool
	err := row.Scan(&exists)
	return exists, err
}

const getUserByID = `-- name: GetUserByID :one
SELECT id, name, email, password_hash, rights, ban_type, ban_date, ban_reason, created_at
FROM users
WHERE id = ?
`

// GetUserByID はIDでユーザーを取得する。
func (q *Queries) GetUserByID(ctx context.Context, id int64) (User, error) {
	row := q.db.QueryRowContext(ctx, getUserByID, id)
	var i User
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.Email,
		&i.PasswordHash,
		&i.Rights,
		&i.BanType,
		&i.BanDate,
		&i.BanReason,
		&i.CreatedAt,
	)
	return i, err
}

const getUserByEmail = `-- name: GetUserByEmail :one
SELECT id, name, email, password_hash, rights, ban_type, ban_date, ban_reason, created_at
FROM users
WHERE email = ?
`

// GetUserByEmail はメールアドレスでユーザーを取得する。
func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := q.db.QueryRowContext(ctx, getUserByEmail, email)
	var i User
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.Email,
		&i.PasswordHash,
		&i.Rights,
		&i.BanType,
		&i.BanDate,
		&i.BanReason,
		&i.CreatedAt,
	)
	return i, err
}

const banUser = `-- name: BanUser :exec
UPDATE users SET ban_type = ?, ban_date = ?, ban_reason = ? WHERE id = ?
`

// BanUserParams は BanUser の引数。
type BanUserParams struct {
	BanType   string
	BanDate   sql.NullTime
	BanReason sql.NullString
	ID        int64
}

// BanUser はユーザーの停止情報を更新する。
func (q *Queries) BanUser(ctx context.Context, arg BanUserParams) error {
	_, err := q.db.ExecContext(ctx, banUser,
		arg.BanType,
		arg.BanDate,
		arg.BanReason,
		arg.ID,
	)
	return err
}
