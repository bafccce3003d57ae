// Package proxy は認証済みリクエストを下流サービスへ転送する。
//
// 転送ごとに呼び出し元ユーザーに限定したサービストークンを新しく発行し、
// 1回だけ下流サービスを呼び出す。成功レスポンスはそのまま返し、
// 失敗は apperr の分類に変換する。下流のエラーボディはクライアントに返さない。
//
// プレイヤー統計は外部ゲームAPIを使い、上流アクセストークンを呼び出しのたびに
// credential.Store から読み取る。
package proxy
