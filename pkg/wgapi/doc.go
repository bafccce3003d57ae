// Package wgapi は外部ゲームAPI（World of Tanks API）のクライアントを提供する。
//
// アクセストークンの延長、プレイヤー検索、アカウント情報と車両別統計の取得を扱う。
// 全てのリクエストにアプリケーションIDを付与する。
package wgapi
