// Package gateway はtankwikiゲートウェイのHTTPサーフェスを提供する。
//
// 登録とログインはゲートウェイ自身が処理し、セッショントークンを発行する。
// 車両とコメントのエンドポイントはセッショントークンを検証したうえで
// proxy.Orchestrator を通じて下流サービスへ転送する。
// プレイヤー統計は共有の上流アクセストークンを使って外部ゲームAPIに問い合わせる。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線として機能する。
package gateway
