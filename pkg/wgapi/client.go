package wgapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/nao1215/tankwiki/pkg/httpclient"
)

// DefaultBaseURL は欧州サーバーのWoT APIのベースURL。
const DefaultBaseURL = "https://api.worldoftanks.eu/wot"

// accountInfoExtra はアカウント情報取得時に追加で要求するフィールド。
const accountInfoExtra = "private.garage, statistics.random"

var (
	// ErrAccountNotFound は検索したプレイヤー名に一致するアカウントが1件でない場合のエラー。
	ErrAccountNotFound = errors.New("wgapi: アカウントが見つかりません")
)

// APIError はAPIが status=error を返した場合のエラー。
type APIError struct {
	// Code はAPIのエラーコード（例: 407）。
	Code int `json:"code"`
	// Message はエラーメッセージ（例: INVALID_ACCESS_TOKEN）。
	Message string `json:"message"`
	// Field はエラーの原因となったパラメータ名。
	Field string `json:"field"`
}

// Error は error インターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("wgapi: code=%d message=%s field=%s", e.Code, e.Message, e.Field)
}

// envelope はAPIレスポンス共通の外枠。
type envelope struct {
	Status string          `json:"status"`
	Error  *APIError       `json:"error"`
	Meta   meta            `json:"meta"`
	Data   json.RawMessage `json:"data"`
}

// meta はAPIレスポンスのメタ情報。
type meta struct {
	Count int `json:"count"`
}

// Client は外部ゲームAPIのクライアント。
// 全ての呼び出しにアプリケーションIDを付与する。
type Client struct {
	http          *httpclient.Client
	applicationID string
}

// New は新しいClientを生成する。
func New(baseURL, applicationID string, opts ...httpclient.Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http:          httpclient.New(baseURL, opts...),
		applicationID: applicationID,
	}
}

// AccessToken は延長後のアクセストークン。
type AccessToken struct {
	// Token はアクセストークン。
	Token string
	// ExpiresAt は有効期限。
	ExpiresAt time.Time
}

// Prolongate は現在のアクセストークンを新しいトークンと交換する。
func (c *Client) Prolongate(ctx context.Context, accessToken string) (AccessToken, error) {
	const op = "wgapi.Prolongate"

	form := url.Values{
		"application_id": []string{c.applicationID},
		"access_token":   []string{accessToken},
	}

	var data struct {
		AccessToken string `json:"access_token"`
		ExpiresAt   int64  `json:"expires_at"`
	}
	if err := c.post(ctx, "/auth/prolongate/", form, &data); err != nil {
		return AccessToken{}, fmt.Errorf("%s: %w", op, err)
	}
	if data.AccessToken == "" || data.ExpiresAt <= 0 {
		return AccessToken{}, fmt.Errorf("%s: レスポンスにトークンが含まれていません", op)
	}

	return AccessToken{
		Token:     data.AccessToken,
		ExpiresAt: time.Unix(data.ExpiresAt, 0).UTC(),
	}, nil
}

// FindAccountID はプレイヤー名に完全一致するアカウントIDを返す。
// 一致が1件でない場合は ErrAccountNotFound を返す。
func (c *Client) FindAccountID(ctx context.Context, nickname string) (int64, error) {
	const op = "wgapi.FindAccountID"

	q := url.Values{
		"search": []string{nickname},
		"type":   []string{"exact"},
	}

	var accounts []struct {
		AccountID int64  `json:"account_id"`
		Nickname  string `json:"nickname"`
	}
	env, err := c.get(ctx, "/account/list/", q, &accounts)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if env.Meta.Count != 1 || len(accounts) != 1 {
		return 0, fmt.Errorf("%s: %w", op, ErrAccountNotFound)
	}
	return accounts[0].AccountID, nil
}

// AccountInfo はアカウントの詳細情報（ガレージ・ランダム戦統計を含む）を返す。
// 非公開情報を含むため、アクセストークンが必要。
func (c *Client) AccountInfo(ctx context.Context, accountID int64, accessToken string) (json.RawMessage, error) {
	const op = "wgapi.AccountInfo"

	id := strconv.FormatInt(accountID, 10)
	q := url.Values{
		"account_id":   []string{id},
		"access_token": []string{accessToken},
		"extra":        []string{accountInfoExtra},
	}

	var byAccount map[string]json.RawMessage
	if _, err := c.get(ctx, "/account/info/", q, &byAccount); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	info, ok := byAccount[id]
	if !ok || string(info) == "null" {
		return nil, fmt.Errorf("%s: %w", op, ErrAccountNotFound)
	}
	return info, nil
}

// TankStats はプレイヤーの特定車両に関する統計。
type TankStats struct {
	Battles       int `json:"battles"`
	Wins          int `json:"wins"`
	MarkOfMastery int `json:"mark_of_mastery"`
}

// AccountTankStats はプレイヤーの特定車両の統計を返す。
// 一度も出撃していない車両の場合はゼロ値を返す。
func (c *Client) AccountTankStats(ctx context.Context, accountID, tankID int64, accessToken string) (TankStats, error) {
	const op = "wgapi.AccountTankStats"

	id := strconv.FormatInt(accountID, 10)
	q := url.Values{
		"account_id": []string{id},
		"tank_id":    []string{strconv.FormatInt(tankID, 10)},
	}
	if accessToken != "" {
		q.Set("access_token", accessToken)
	}

	var byAccount map[string][]struct {
		MarkOfMastery int `json:"mark_of_mastery"`
		Statistics    struct {
			Battles int `json:"battles"`
			Wins    int `json:"wins"`
		} `json:"statistics"`
	}
	if _, err := c.get(ctx, "/account/tanks/", q, &byAccount); err != nil {
		return TankStats{}, fmt.Errorf("%s: %w", op, err)
	}

	tanks := byAccount[id]
	if len(tanks) == 0 {
		return TankStats{}, nil
	}
	return TankStats{
		Battles:       tanks[0].Statistics.Battles,
		Wins:          tanks[0].Statistics.Wins,
		MarkOfMastery: tanks[0].MarkOfMastery,
	}, nil
}

// get はアプリケーションIDを付与してGETし、data部分をresultにデシリアライズする。
func (c *Client) get(ctx context.Context, path string, q url.Values, result any) (*envelope, error) {
	q.Set("application_id", c.applicationID)

	var env envelope
	if err := c.http.GetJSON(ctx, path, q, &env); err != nil {
		return nil, err
	}
	return &env, decodeData(&env, result)
}

// post はフォーム形式でPOSTし、data部分をresultにデシリアライズする。
func (c *Client) post(ctx context.Context, path string, form url.Values, result any) error {
	var env envelope
	if err := c.http.PostForm(ctx, path, form, &env); err != nil {
		return err
	}
	return decodeData(&env, result)
}

// decodeData はエンベロープの status を確認して data をデシリアライズする。
func decodeData(env *envelope, result any) error {
	if env.Status != "ok" {
		if env.Error != nil {
			return env.Error
		}
		return fmt.Errorf("wgapi: 想定外のstatus %q", env.Status)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, result); err != nil {
		return fmt.Errorf("wgapi: dataのデシリアライズに失敗: %w", err)
	}
	return nil
}
