package db

import (
	"database/sql"
	"time"
)

// User は users テーブルの行。
type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	Rights       string
	BanType      string
	BanDate      sql.NullTime
	BanReason    sql.NullString
	CreatedAt    time.Time
}

// Tank は tanks テーブルの行。
type Tank struct {
	Alias    string
	WgTankID int64
}

// UpstreamCredential は upstream_credentials テーブルの行。
type UpstreamCredential struct {
	AccessToken string
	// ExpiresAt はUNIX秒。
	ExpiresAt int64
}
