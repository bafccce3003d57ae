package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/tankwiki/internal/commenttree"
	"github.com/nao1215/tankwiki/internal/metrics"
	"github.com/nao1215/tankwiki/pkg/apperr"
	"github.com/nao1215/tankwiki/pkg/httpclient"
	"github.com/nao1215/tankwiki/pkg/logctx"
	"github.com/nao1215/tankwiki/pkg/token"
)

// Target は転送先の下流サービス。
type Target string

const (
	// TargetTankStats は車両統計サービス。
	TargetTankStats Target = "tank-stats"
	// TargetComments はコメントサービス。
	TargetComments Target = "comments"
)

// headerRequestID はリクエストIDを運ぶHTTPヘッダー。
const headerRequestID = "X-Request-Id"

// Request は下流サービスへ転送するリクエスト。
type Request struct {
	Target Target
	Method string
	// Path は下流サービスでのパス（例: "/collection/is-7"）。
	Path        string
	Query       url.Values
	Body        []byte
	ContentType string
}

// Response は下流サービスの成功レスポンス。
type Response struct {
	StatusCode  int
	ContentType string
	Location    string
	Body        []byte
}

// Config は Orchestrator の設定。
type Config struct {
	// TankStats は車両統計サービスのクライアント。
	TankStats *httpclient.Client
	// Comments はコメントサービスのクライアント。
	Comments *httpclient.Client
	// CommentsPrefix はコメントサービスのパスの接頭辞（例: "/subject"）。
	CommentsPrefix string
	// RootMarker はルートコメントの親ID。
	RootMarker int64
	// MaxDepth はコメントツリーの最大の深さ。0 は無制限。
	MaxDepth int
}

// Orchestrator は下流サービスへの転送を行う。
type Orchestrator struct {
	signer  *token.ServiceSigner
	clients map[Target]*httpclient.Client
	cfg     Config
	metrics *metrics.Metrics
}

// New は新しい Orchestrator を生成する。mt は nil でもよい。
func New(signer *token.ServiceSigner, cfg Config, mt *metrics.Metrics) *Orchestrator {
	clients := make(map[Target]*httpclient.Client, 2)
	if cfg.TankStats != nil {
		clients[TargetTankStats] = cfg.TankStats
	}
	if cfg.Comments != nil {
		clients[TargetComments] = cfg.Comments
	}
	return &Orchestrator{
		signer:  signer,
		clients: clients,
		cfg:     cfg,
		metrics: mt,
	}
}

// Forward は identity に限定したサービストークンを付けて r を1回だけ転送する。
//
// 2xx はステータス・Content-Type・Location・ボディをそのまま返す。
// 下流の 404 は NotFound、400 は BadRequest、409 は Conflict、
// それ以外のステータス・通信エラー・タイムアウトは UpstreamFailure になる。
func (o *Orchestrator) Forward(ctx context.Context, identity token.Identity, r Request) (*Response, error) {
	client, ok := o.clients[r.Target]
	if !ok {
		return nil, apperr.Wrapf(apperr.KindInternal, "未知の転送先: %s", r.Target)
	}

	svcToken, err := o.signer.Mint(identity.UserID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+svcToken)
	header.Set("Accept", "application/json")
	if r.ContentType != "" {
		header.Set("Content-Type", r.ContentType)
	}
	if id := requestIDFrom(ctx); id != "" {
		header.Set(headerRequestID, id)
	}

	log := logctx.From(ctx).With(
		slog.String("target", string(r.Target)),
		slog.String("method", r.Method),
		slog.String("downstream_path", r.Path),
	)

	start := time.Now()
	resp, err := client.Do(ctx, httpclient.Request{
		Method: r.Method,
		Path:   r.Path,
		Query:  r.Query,
		Header: header,
		Body:   r.Body,
	})
	if err != nil {
		o.metrics.ObserveProxy(string(r.Target), r.Method, "error", time.Since(start))
		log.ErrorContext(ctx, "下流サービスの呼び出しに失敗", slog.Any("error", err))
		return nil, apperr.Wrap(apperr.KindUpstreamFailure, err)
	}
	o.metrics.ObserveProxy(string(r.Target), r.Method, strconv.Itoa(resp.StatusCode), time.Since(start))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &Response{
			StatusCode:  resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type"),
			Location:    resp.Header.Get("Location"),
			Body:        resp.Body,
		}, nil
	}

	cause := &httpclient.StatusError{StatusCode: resp.StatusCode, Body: resp.Body}
	var mapped *apperr.Error
	switch resp.StatusCode {
	case http.StatusNotFound:
		mapped = &apperr.Error{Kind: apperr.KindNotFound, Err: cause}
	case http.StatusBadRequest:
		mapped = &apperr.Error{Kind: apperr.KindBadRequest, Reason: "rejected_by_downstream", Err: cause}
	case http.StatusConflict:
		mapped = &apperr.Error{Kind: apperr.KindConflict, Err: cause}
	}
	if mapped != nil {
		log.WarnContext(ctx, "下流サービスがリクエストを拒否しました",
			slog.Int("status", resp.StatusCode),
			slog.String("body", truncate(resp.Body, 512)),
		)
		return nil, mapped
	}

	log.ErrorContext(ctx, "下流サービスがエラーを返しました",
		slog.Int("status", resp.StatusCode),
		slog.String("body", truncate(resp.Body, 512)),
	)
	return nil, apperr.Wrap(apperr.KindUpstreamFailure, cause)
}

// CommentsPath は subject のコメントを扱う下流のパスを返す。
// id を指定した場合は個別コメントのパスになる。
func (o *Orchestrator) CommentsPath(alias string, id ...string) string {
	p := strings.TrimRight(o.cfg.CommentsPrefix, "/") + "/" + url.PathEscape(alias)
	for _, s := range id {
		p += "/" + url.PathEscape(s)
	}
	return p
}

// Comments は subject のコメント一覧を取得してツリーに組み立てる。
func (o *Orchestrator) Comments(ctx context.Context, identity token.Identity, alias string) ([]*commenttree.Node, error) {
	resp, err := o.Forward(ctx, identity, Request{
		Target: TargetComments,
		Method: http.MethodGet,
		Path:   o.CommentsPath(alias),
	})
	if err != nil {
		return nil, err
	}

	var rows []commenttree.Row
	if err := json.Unmarshal(resp.Body, &rows); err != nil {
		logctx.From(ctx).ErrorContext(ctx, "コメント一覧のデコードに失敗",
			slog.String("alias", alias),
			slog.Any("error", err),
		)
		return nil, apperr.Wrap(apperr.KindUpstreamFailure, fmt.Errorf("コメント一覧のデコードに失敗: %w", err))
	}

	tree, err := commenttree.Build(rows, o.cfg.RootMarker, commenttree.WithMaxDepth(o.cfg.MaxDepth))
	if err != nil {
		logctx.From(ctx).ErrorContext(ctx, "コメントツリーの構築に失敗",
			slog.String("alias", alias),
			slog.Int("rows", len(rows)),
			slog.Any("error", err),
		)
		return nil, err
	}
	return tree, nil
}

type requestIDKey struct{}

// WithRequestID は下流へ伝播するリクエストIDをコンテキストに設定する。
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// truncate はログ出力用にボディを切り詰める。
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
