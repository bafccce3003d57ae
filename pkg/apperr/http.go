package apperr

import (
	"errors"

	"github.com/gin-gonic/gin"
)

// headerRequestID はリクエストIDを運ぶHTTPヘッダー。
const headerRequestID = "X-Request-Id"

// messages は分類ごとのクライアント向けメッセージ。
var messages = map[Kind]string{
	KindUnauthenticated: "認証が必要です",
	KindForbidden:       "アクセスが拒否されました",
	KindNotFound:        "リソースが見つかりません",
	KindConflict:        "リソースが既に存在します",
	KindBadRequest:      "リクエストが不正です",
	KindUpstreamFailure: "上流サービスとの通信に失敗しました",
	KindMalformedTree:   "コメントデータが不正です",
	KindInternal:        "内部サーバーエラーが発生しました",
}

// Body はエラーレスポンスのJSONボディを組み立てる。
// 5xx系の分類では Reason と Fields を含めない。
func Body(err error, requestID string) (int, gin.H) {
	kind := KindOf(err)
	status := HTTPStatus(kind)

	body := gin.H{
		"code":    string(kind),
		"message": messages[kind],
	}
	if requestID != "" {
		body["request_id"] = requestID
	}

	var e *Error
	if errors.As(err, &e) && exposesReason(kind) {
		if e.Reason != "" {
			body["reason"] = e.Reason
		}
		for k, v := range e.Fields {
			body[k] = v
		}
	}
	return status, gin.H{"error": body}
}

// Write はエラーをHTTPレスポンスとして書き込み、後続のハンドラを中断する。
func Write(c *gin.Context, err error) {
	requestID := c.GetHeader(headerRequestID)
	if requestID == "" {
		requestID = c.Writer.Header().Get(headerRequestID)
	}
	status, body := Body(err, requestID)
	c.AbortWithStatusJSON(status, body)
}
