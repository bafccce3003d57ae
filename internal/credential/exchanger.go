package credential

import (
	"context"

	"github.com/nao1215/tankwiki/pkg/wgapi"
)

// Exchanger は現在のアクセストークンを新しいトークンと交換する。
type Exchanger interface {
	Exchange(ctx context.Context, accessToken string) (Credential, error)
}

// ExchangerFunc は関数を Exchanger として使うためのアダプタ。
type ExchangerFunc func(ctx context.Context, accessToken string) (Credential, error)

// Exchange は f(ctx, accessToken) を呼び出す。
func (f ExchangerFunc) Exchange(ctx context.Context, accessToken string) (Credential, error) {
	return f(ctx, accessToken)
}

// GameAPIExchanger は外部ゲームAPIのトークン延長エンドポイントを使う Exchanger。
type GameAPIExchanger struct {
	client *wgapi.Client
}

// NewGameAPIExchanger は新しい GameAPIExchanger を生成する。
func NewGameAPIExchanger(client *wgapi.Client) *GameAPIExchanger {
	return &GameAPIExchanger{client: client}
}

// Exchange はトークン延長を1回だけ呼び出す。
func (e *GameAPIExchanger) Exchange(ctx context.Context, accessToken string) (Credential, error) {
	tok, err := e.client.Prolongate(ctx, accessToken)
	if err != nil {
		return Credential{}, err
	}
	return Credential{AccessToken: tok.Token, ExpiresAt: tok.ExpiresAt}, nil
}
