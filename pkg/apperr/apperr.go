package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind はエラーの分類。HTTPステータスとクライアント向けコードに対応する。
type Kind string

const (
	// KindUnauthenticated は認証情報が無い、または形式が不正な場合。
	KindUnauthenticated Kind = "unauthenticated"
	// KindForbidden は認証情報が無効・期限切れ、またはアカウントが停止されている場合。
	KindForbidden Kind = "forbidden"
	// KindNotFound は参照先のリソースが存在しない場合。
	KindNotFound Kind = "not_found"
	// KindConflict は一意制約に違反する場合。
	KindConflict Kind = "conflict"
	// KindBadRequest はペイロードの形式や構造が不正な場合。
	KindBadRequest Kind = "bad_request"
	// KindUpstreamFailure は下流サービスや外部APIの呼び出しが失敗した場合。
	KindUpstreamFailure Kind = "upstream_failure"
	// KindMalformedTree はコメントの親子関係が循環している場合。
	KindMalformedTree Kind = "malformed_tree"
	// KindInternal はその他の内部エラー。
	KindInternal Kind = "internal"
)

// Error はゲートウェイ全体で使う分類済みエラー。
type Error struct {
	// Kind はエラーの分類。
	Kind Kind
	// Reason は機械可読な理由文字列（例: "email_required"）。
	Reason string
	// Fields はレスポンスに追加するフィールド（例: BAN情報）。
	Fields map[string]any
	// Err は原因となったエラー。クライアントには返さない。
	Err error
}

// Error は error インターフェースを実装する。
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap は原因エラーを返す。
func (e *Error) Unwrap() error {
	return e.Err
}

// Is は Kind が一致すれば同じエラーとみなす。
// errors.Is(err, apperr.ErrForbidden) のように判定できる。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// 分類ごとの番兵エラー。errors.Is の比較対象として使う。
var (
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated}
	ErrForbidden       = &Error{Kind: KindForbidden}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrConflict        = &Error{Kind: KindConflict}
	ErrBadRequest      = &Error{Kind: KindBadRequest}
	ErrUpstreamFailure = &Error{Kind: KindUpstreamFailure}
	ErrMalformedTree   = &Error{Kind: KindMalformedTree}
	ErrInternal        = &Error{Kind: KindInternal}
)

// New は理由付きの分類済みエラーを生成する。
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap は原因エラーを分類済みエラーで包む。
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Wrapf は書式付きメッセージの原因エラーを分類済みエラーで包む。
func Wrapf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// BadRequest は理由付きの KindBadRequest エラーを生成する。
func BadRequest(reason string) *Error {
	return New(KindBadRequest, reason)
}

// WithFields はレスポンスに追加するフィールドを設定したコピーを返す。
func (e *Error) WithFields(fields map[string]any) *Error {
	cp := *e
	cp.Fields = fields
	return &cp
}

// KindOf はエラーの分類を返す。分類されていないエラーは KindInternal とみなす。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus は分類に対応するHTTPステータスコードを返す。
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// exposesReason は Reason をクライアントに返してよい分類かどうかを返す。
// 5xx系の分類は原因を隠す。
func exposesReason(kind Kind) bool {
	return HTTPStatus(kind) < http.StatusInternalServerError
}
