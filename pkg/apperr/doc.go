// Package apperr はゲートウェイのエラー分類とHTTPレスポンスへの変換を提供する。
//
// 下流サービスやDBドライバのエラーはこの分類に変換してからクライアントへ返す。
// 5xx系の分類では原因をレスポンスに含めず、サーバー側のログにのみ残す。
package apperr
