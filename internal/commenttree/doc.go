// Package commenttree はコメントサービスが返す親ポインタ形式のフラットな行から
// 返信のツリー構造を組み立てる。
//
// 削除済みコメントは本文を、退会済みユーザーのコメントは投稿者IDを
// それぞれ "[deleted]" に置き換える。削除済みコメントへの返信はそのまま表示する。
// 行データは外部から来るため、循環・自己参照・重複IDは MalformedTree として扱う。
package commenttree
