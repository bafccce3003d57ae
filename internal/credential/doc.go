// Package credential は外部ゲームAPIの上流アクセストークンを管理する。
//
// Store は共有トークン1件の読み取りと置き換えだけを行う。
// Manager は一定周期でトークンの残り有効期間を確認し、しきい値を下回った場合に
// 新しいトークンと交換して Store を置き換える。Store に書き込むのは Manager だけである。
package credential
