package commenttree

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Row はコメントサービスが返すコメント1件。
type Row struct {
	ID int64 `json:"id"`
	// ParentID は親コメントのID。nil またはルートマーカーの場合はルート。
	ParentID *int64 `json:"parent_comment_id"`
	// UserID は投稿者のID。退会済みの場合は nil。
	UserID    *int64 `json:"user_id"`
	TankID    int64  `json:"tank_id"`
	Content   string `json:"content"`
	IsDeleted Flag   `json:"is_deleted"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Flag はJSONの真偽値と0/1の両方を受け付けるbool。
// コメントサービスのデータベースは真偽値を整数で返すことがある。
type Flag bool

// UnmarshalJSON は true/false/0/1/null を受け付ける。
func (f *Flag) UnmarshalJSON(b []byte) error {
	switch string(bytes.TrimSpace(b)) {
	case "true", "1":
		*f = true
	case "false", "0", "null":
		*f = false
	default:
		return fmt.Errorf("commenttree: is_deleted の値が不正です: %s", b)
	}
	return nil
}

// MarshalJSON は真偽値として出力する。
func (f Flag) MarshalJSON() ([]byte, error) {
	return json.Marshal(bool(f))
}
