// Package middleware はゲートウェイのGinルーターで使用する共通ミドルウェアを提供する。
//
// セッショントークンの検証、リクエストIDの付与、リクエストログ、パニックリカバリ、
// CORS設定を含む。エラーレスポンスは全て apperr.Write の形式で返す。
package middleware
