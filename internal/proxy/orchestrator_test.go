package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nao1215/tankwiki/internal/metrics"
	"github.com/nao1215/tankwiki/pkg/apperr"
	"github.com/nao1215/tankwiki/pkg/httpclient"
	"github.com/nao1215/tankwiki/pkg/logctx"
	"github.com/nao1215/tankwiki/pkg/token"
)

const (
	testSessionSecret = "session-secret-for-proxy-tests"
	testServiceSecret = "service-secret-for-proxy-tests"
)

var testIdentity = token.Identity{UserID: 7, Username: "tanker"}

// downstream はテスト用の下流サービス。受け取ったリクエストを記録する。
type downstream struct {
	server *httptest.Server
	calls  atomic.Int32

	lastAuth      atomic.Value
	lastPath      atomic.Value
	lastBody      atomic.Value
	lastRequestID atomic.Value
}

func newDownstream(t *testing.T, h http.HandlerFunc) *downstream {
	t.Helper()

	d := &downstream{}
	d.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		d.lastAuth.Store(r.Header.Get("Authorization"))
		d.lastPath.Store(r.URL.RequestURI())
		d.lastBody.Store(string(body))
		d.lastRequestID.Store(r.Header.Get("X-Request-Id"))
		h(w, r)
	}))
	t.Cleanup(d.server.Close)
	return d
}

func (d *downstream) auth() string      { s, _ := d.lastAuth.Load().(string); return s }
func (d *downstream) path() string      { s, _ := d.lastPath.Load().(string); return s }
func (d *downstream) body() string      { s, _ := d.lastBody.Load().(string); return s }
func (d *downstream) requestID() string { s, _ := d.lastRequestID.Load().(string); return s }

func newOrchestrator(t *testing.T, tankStats, comments string, mt *metrics.Metrics) *Orchestrator {
	t.Helper()

	signer, err := token.NewServiceSigner(token.ServiceSecret(testServiceSecret), time.Minute)
	require.NoError(t, err)

	cfg := Config{
		CommentsPrefix: "/subject",
		RootMarker:     -1,
		MaxDepth:       512,
	}
	if tankStats != "" {
		cfg.TankStats = httpclient.New(tankStats, httpclient.WithTimeout(2*time.Second))
	}
	if comments != "" {
		cfg.Comments = httpclient.New(comments, httpclient.WithTimeout(2*time.Second))
	}
	return New(signer, cfg, mt)
}

func TestOrchestrator_Forward(t *testing.T) {
	t.Parallel()

	t.Run("サービストークンに呼び出し元のユーザーIDが含まれること", func(t *testing.T) {
		t.Parallel()

		d := newDownstream(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		o := newOrchestrator(t, d.server.URL, "", nil)

		_, err := o.Forward(context.Background(), testIdentity, Request{
			Target: TargetTankStats,
			Method: http.MethodGet,
			Path:   "/collection",
		})
		require.NoError(t, err)

		raw, ok := strings.CutPrefix(d.auth(), "Bearer ")
		require.True(t, ok)

		claims, err := token.NewServiceVerifier(token.ServiceSecret(testServiceSecret)).Verify(raw)
		require.NoError(t, err)
		assert.Equal(t, testIdentity.UserID, claims.UserID)
		assert.NotEmpty(t, claims.ID)
	})

	t.Run("サービストークンはセッション鍵では検証できないこと", func(t *testing.T) {
		t.Parallel()

		d := newDownstream(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		o := newOrchestrator(t, d.server.URL, "", nil)

		_, err := o.Forward(context.Background(), testIdentity, Request{
			Target: TargetTankStats,
			Method: http.MethodGet,
			Path:   "/collection",
		})
		require.NoError(t, err)
		raw := strings.TrimPrefix(d.auth(), "Bearer ")

		_, err = token.NewServiceVerifier(token.ServiceSecret(testSessionSecret)).Verify(raw)
		assert.Error(t, err)

		auth, err := token.NewSessionAuthenticator(token.SessionSecret(testServiceSecret), time.Hour)
		require.NoError(t, err)
		_, err = auth.Verify(raw)
		assert.ErrorIs(t, err, apperr.ErrForbidden)
	})

	t.Run("呼び出しごとに異なるサービストークンを発行すること", func(t *testing.T) {
		t.Parallel()

		d := newDownstream(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		o := newOrchestrator(t, d.server.URL, "", nil)

		req := Request{Target: TargetTankStats, Method: http.MethodGet, Path: "/collection"}
		_, err := o.Forward(context.Background(), testIdentity, req)
		require.NoError(t, err)
		first := d.auth()

		_, err = o.Forward(context.Background(), testIdentity, req)
		require.NoError(t, err)
		assert.NotEqual(t, first, d.auth())
	})

	t.Run("成功レスポンスのステータス・ヘッダー・ボディをそのまま返すこと", func(t *testing.T) {
		t.Parallel()

		d := newDownstream(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Location", "/subject/is-7/10")
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"id":10}`)
		})
		o := newOrchestrator(t, "", d.server.URL, nil)

		ctx := WithRequestID(context.Background(), "req-123")
		resp, err := o.Forward(ctx, testIdentity, Request{
			Target:      TargetComments,
			Method:      http.MethodPost,
			Path:        o.CommentsPath("is-7"),
			Body:        []byte(`{"content":"hi"}`),
			ContentType: "application/json",
		})
		require.NoError(t, err)

		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Equal(t, "application/json; charset=utf-8", resp.ContentType)
		assert.Equal(t, "/subject/is-7/10", resp.Location)
		assert.JSONEq(t, `{"id":10}`, string(resp.Body))

		assert.Equal(t, "/subject/is-7", d.path())
		assert.Equal(t, `{"content":"hi"}`, d.body())
		assert.Equal(t, "req-123", d.requestID())
	})

	t.Run("クエリを保持して転送すること", func(t *testing.T) {
		t.Parallel()

		d := newDownstream(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		o := newOrchestrator(t, d.server.URL, "", nil)

		_, err := o.Forward(context.Background(), testIdentity, Request{
			Target: TargetTankStats,
			Method: http.MethodGet,
			Path:   "/collection/is-7/firepower",
			Query:  map[string][]string{"tier": {"10"}},
		})
		require.NoError(t, err)
		assert.Equal(t, "/collection/is-7/firepower?tier=10", d.path())
	})

	t.Run("下流のエラーステータスが分類されたエラーになること", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name   string
			status int
			want   *apperr.Error
			reason string
			level  string
		}{
			{name: "404はNotFound", status: http.StatusNotFound, want: apperr.ErrNotFound, level: "WARN"},
			{name: "400はBadRequest", status: http.StatusBadRequest, want: apperr.ErrBadRequest, reason: "rejected_by_downstream", level: "WARN"},
			{name: "409はConflict", status: http.StatusConflict, want: apperr.ErrConflict, level: "WARN"},
			{name: "500はUpstreamFailure", status: http.StatusInternalServerError, want: apperr.ErrUpstreamFailure, level: "ERROR"},
			{name: "503はUpstreamFailure", status: http.StatusServiceUnavailable, want: apperr.ErrUpstreamFailure, level: "ERROR"},
			{name: "401はUpstreamFailure", status: http.StatusUnauthorized, want: apperr.ErrUpstreamFailure, level: "ERROR"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()

				d := newDownstream(t, func(w http.ResponseWriter, _ *http.Request) {
					w.WriteHeader(tt.status)
					_, _ = io.WriteString(w, `{"secret":"downstream detail"}`)
				})
				o := newOrchestrator(t, d.server.URL, "", nil)

				var logs bytes.Buffer
				ctx := logctx.Into(context.Background(), slog.New(slog.NewJSONHandler(&logs, nil)))

				resp, err := o.Forward(ctx, testIdentity, Request{
					Target: TargetTankStats,
					Method: http.MethodGet,
					Path:   "/collection/x",
				})
				assert.Nil(t, resp)
				require.ErrorIs(t, err, tt.want)
				assert.NotContains(t, err.Error(), "downstream detail")
				assert.Equal(t, int32(1), d.calls.Load())

				var entry map[string]any
				require.NoError(t, json.Unmarshal(logs.Bytes(), &entry))
				assert.Equal(t, tt.level, entry["level"])
				assert.EqualValues(t, tt.status, entry["status"])
				assert.Equal(t, "tank-stats", entry["target"])
				assert.Equal(t, "/collection/x", entry["downstream_path"])

				if tt.reason != "" {
					var e *apperr.Error
					require.ErrorAs(t, err, &e)
					assert.Equal(t, tt.reason, e.Reason)
				}
			})
		}
	})

	t.Run("上限を超える成功レスポンスは切り詰めずUpstreamFailureになること", func(t *testing.T) {
		t.Parallel()

		big := strings.Repeat("a", 9<<20)
		d := newDownstream(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, big)
		})
		o := newOrchestrator(t, d.server.URL, "", nil)

		resp, err := o.Forward(context.Background(), testIdentity, Request{
			Target: TargetTankStats,
			Method: http.MethodGet,
			Path:   "/collection",
		})
		assert.Nil(t, resp)
		require.ErrorIs(t, err, apperr.ErrUpstreamFailure)
		assert.ErrorIs(t, err, httpclient.ErrBodyTooLarge)
		assert.Equal(t, int32(1), d.calls.Load())
	})

	t.Run("通信エラーはUpstreamFailureになること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.NotFoundHandler())
		url := ts.URL
		ts.Close()

		o := newOrchestrator(t, url, "", nil)
		_, err := o.Forward(context.Background(), testIdentity, Request{
			Target: TargetTankStats,
			Method: http.MethodGet,
			Path:   "/collection",
		})
		assert.ErrorIs(t, err, apperr.ErrUpstreamFailure)
	})

	t.Run("タイムアウトはUpstreamFailureになること", func(t *testing.T) {
		t.Parallel()

		done := make(chan struct{})
		d := newDownstream(t, func(_ http.ResponseWriter, r *http.Request) {
			select {
			case <-done:
			case <-r.Context().Done():
			}
		})
		defer close(done)
		o := newOrchestrator(t, d.server.URL, "", nil)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := o.Forward(ctx, testIdentity, Request{
			Target: TargetTankStats,
			Method: http.MethodGet,
			Path:   "/collection",
		})
		assert.ErrorIs(t, err, apperr.ErrUpstreamFailure)
		assert.Equal(t, int32(1), d.calls.Load())
	})

	t.Run("設定されていない転送先はInternalになること", func(t *testing.T) {
		t.Parallel()

		o := newOrchestrator(t, "", "", nil)
		_, err := o.Forward(context.Background(), testIdentity, Request{
			Target: TargetComments,
			Method: http.MethodGet,
			Path:   "/subject/x",
		})
		assert.ErrorIs(t, err, apperr.ErrInternal)
	})

	t.Run("転送結果がメトリクスに記録されること", func(t *testing.T) {
		t.Parallel()

		d := newDownstream(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		mt := metrics.New()
		o := newOrchestrator(t, d.server.URL, "", mt)

		_, _ = o.Forward(context.Background(), testIdentity, Request{
			Target: TargetTankStats,
			Method: http.MethodGet,
			Path:   "/collection/x",
		})

		n, err := testutil.GatherAndCount(mt.Registry(), "tankwiki_proxy_requests_total")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestOrchestrator_Comments(t *testing.T) {
	t.Parallel()

	t.Run("コメント一覧をツリーに組み立てること", func(t *testing.T) {
		t.Parallel()

		d := newDownstream(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `[
				{"id":1,"parent_comment_id":-1,"user_id":7,"tank_id":3,"content":"a","is_deleted":false},
				{"id":2,"parent_comment_id":1,"user_id":8,"tank_id":3,"content":"b","is_deleted":true},
				{"id":3,"parent_comment_id":2,"user_id":null,"tank_id":3,"content":"c","is_deleted":0}
			]`)
		})
		o := newOrchestrator(t, "", d.server.URL, nil)

		tree, err := o.Comments(context.Background(), testIdentity, "is-7")
		require.NoError(t, err)

		assert.Equal(t, "/subject/is-7", d.path())
		require.Len(t, tree, 1)
		require.Len(t, tree[0].Children, 1)
		assert.Equal(t, "[deleted]", tree[0].Children[0].Content)
		require.Len(t, tree[0].Children[0].Children, 1)
		assert.Nil(t, tree[0].Children[0].Children[0].UserID)
	})

	t.Run("循環を含む一覧はMalformedTreeになること", func(t *testing.T) {
		t.Parallel()

		d := newDownstream(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `[
				{"id":1,"parent_comment_id":2,"content":"a"},
				{"id":2,"parent_comment_id":1,"content":"b"}
			]`)
		})
		o := newOrchestrator(t, "", d.server.URL, nil)

		_, err := o.Comments(context.Background(), testIdentity, "is-7")
		assert.ErrorIs(t, err, apperr.ErrMalformedTree)
	})

	t.Run("デコードできない一覧はUpstreamFailureになること", func(t *testing.T) {
		t.Parallel()

		d := newDownstream(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"not":"a list"}`)
		})
		o := newOrchestrator(t, "", d.server.URL, nil)

		_, err := o.Comments(context.Background(), testIdentity, "is-7")
		assert.ErrorIs(t, err, apperr.ErrUpstreamFailure)
	})

	t.Run("存在しないsubjectはNotFoundになること", func(t *testing.T) {
		t.Parallel()

		d := newDownstream(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		o := newOrchestrator(t, "", d.server.URL, nil)

		_, err := o.Comments(context.Background(), testIdentity, "unknown")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})
}

func TestOrchestrator_CommentsPath(t *testing.T) {
	t.Parallel()

	o := newOrchestrator(t, "", "", nil)
	assert.Equal(t, "/subject/is-7", o.CommentsPath("is-7"))
	assert.Equal(t, "/subject/is-7/42", o.CommentsPath("is-7", "42"))
	assert.Equal(t, "/subject/a%2Fb", o.CommentsPath("a/b"))
}
