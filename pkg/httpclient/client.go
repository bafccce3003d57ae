package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout はタイムアウト未指定時のリクエストタイムアウト。
const DefaultTimeout = 30 * time.Second

// maxBodySize は読み込むレスポンスボディの上限（8MiB）。
const maxBodySize = 8 << 20

// ErrBodyTooLarge はレスポンスボディが上限を超えた場合のエラー。
// ボディを切り詰めて返すことはしない。
var ErrBodyTooLarge = errors.New("レスポンスボディが上限を超えています")

// Client は下流サービスおよび外部API呼び出し用のHTTPクライアント。
// リトライは行わない。1回の呼び出しで1回だけリクエストを送信する。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// baseURL は接続先サービスのベースURL。
	baseURL string
}

// Option はClientの設定を変更する関数。
type Option func(*Client)

// WithTimeout はリクエストタイムアウトを設定する。
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// New は新しいHTTPクライアントを生成する。
// baseURLには接続先のベースURL（例: "http://comments:3002"）を指定する。
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request は Do に渡すリクエスト。
type Request struct {
	// Method はHTTPメソッド。
	Method string
	// Path はベースURLからの相対パス。
	Path string
	// Query はクエリパラメータ。
	Query url.Values
	// Header は追加するリクエストヘッダー。
	Header http.Header
	// Body はリクエストボディ。nilなら送信しない。
	Body []byte
}

// Response は Do が返すレスポンス。ボディは読み込み済み。
type Response struct {
	// StatusCode はHTTPステータスコード。
	StatusCode int
	// Header はレスポンスヘッダー。
	Header http.Header
	// Body はレスポンスボディ。
	Body []byte
}

// StatusError は2xx以外のステータスを受け取った場合のエラー。
type StatusError struct {
	// StatusCode は受け取ったHTTPステータスコード。
	StatusCode int
	// Body はレスポンスボディ。ログ用であり、クライアントへは返さない。
	Body []byte
}

// Error は error インターフェースを実装する。
func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTPエラー: status=%d", e.StatusCode)
}

// Do はリクエストを1回だけ送信し、ステータスに関わらずレスポンスを返す。
// 通信エラー、タイムアウト、ボディが上限を超えた場合のみエラーを返す。
func (c *Client) Do(ctx context.Context, r Request) (*Response, error) {
	var bodyReader io.Reader
	if r.Body != nil {
		bodyReader = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, c.url(r.Path, r.Query), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗: %w", err)
	}
	if len(body) > maxBodySize {
		return nil, fmt.Errorf("status=%d: %w", resp.StatusCode, ErrBodyTooLarge)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// GetJSON は指定パスにGETリクエストを送信し、レスポンスボディをresultにデシリアライズする。
// 2xx以外のステータスは *StatusError として返す。
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, result any) error {
	return c.doJSON(ctx, Request{Method: http.MethodGet, Path: path, Query: query}, result)
}

// PostForm は指定パスにフォーム形式でPOSTリクエストを送信し、
// レスポンスボディをresultにデシリアライズする。
func (c *Client) PostForm(ctx context.Context, path string, form url.Values, result any) error {
	return c.doJSON(ctx, Request{
		Method: http.MethodPost,
		Path:   path,
		Header: http.Header{"Content-Type": []string{"application/x-www-form-urlencoded"}},
		Body:   []byte(form.Encode()),
	}, result)
}

// doJSON はJSONレスポンスを期待するリクエストの共通処理。
func (c *Client) doJSON(ctx context.Context, r Request, result any) error {
	if r.Header == nil {
		r.Header = http.Header{}
	}
	r.Header.Set("Accept", "application/json")

	resp, err := c.Do(ctx, r)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: resp.Body}
	}

	if result != nil {
		if err := json.Unmarshal(resp.Body, result); err != nil {
			return fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
		}
	}
	return nil
}

// url はベースURL・パス・クエリを結合する。
func (c *Client) url(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}
