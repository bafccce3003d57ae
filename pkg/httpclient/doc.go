// Package httpclient は下流サービスおよび外部APIとのHTTP通信を行うクライアントを提供する。
//
// ゲートウェイのプロキシ転送、外部ゲームAPIの呼び出し、上流トークンの延長など、
// 外向きの通信パターンを統一する。全ての呼び出しはタイムアウト付きで、リトライは行わない。
package httpclient
