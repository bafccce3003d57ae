// Package token はゲートウェイが扱う2種類のJWTを提供する。
//
// セッショントークンはログイン済みのクライアントが持つ資格情報で、
// サービストークンはゲートウェイが下流サービスを呼び出すたびに発行する内部用の資格情報である。
// 両者は署名鍵の型・受信者（aud）が異なり、一方を他方として検証することはできない。
package token
