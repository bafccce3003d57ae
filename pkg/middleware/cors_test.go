package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

// newCORSRouter は CORS ミドルウェアを通して /tanks に応答するルーターを返す。
// called はハンドラが実行されたかを記録する。
func newCORSRouter(allowed []string, called *bool) *gin.Engine {
	router := gin.New()
	router.Use(CORS(allowed))
	h := func(c *gin.Context) {
		if called != nil {
			*called = true
		}
		c.Header("Location", "/users/7")
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/tanks", h)
	router.OPTIONS("/tanks", h)
	return router
}

func serveCORS(router *gin.Engine, method, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/tanks", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// TestCORS はCORSミドルウェアを検証する。
func TestCORS(t *testing.T) {
	t.Parallel()

	allowed := []string{"http://localhost:3000", "https://tankwiki.example"}

	t.Run("オリジンごとにCORSヘッダーの有無が決まること", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name      string
			allowed   []string
			origin    string
			wantAllow string
		}{
			{name: "許可リストの先頭", allowed: allowed, origin: "http://localhost:3000", wantAllow: "http://localhost:3000"},
			{name: "許可リストの2番目", allowed: allowed, origin: "https://tankwiki.example", wantAllow: "https://tankwiki.example"},
			{name: "許可されていないオリジン", allowed: allowed, origin: "https://attacker.example"},
			{name: "Originヘッダー無し", allowed: allowed},
			{name: "空の許可リスト", allowed: []string{}, origin: "http://localhost:3000"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()

				var called bool
				w := serveCORS(newCORSRouter(tt.allowed, &called), http.MethodGet, tt.origin)

				if w.Code != http.StatusOK {
					t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
				}
				if !called {
					t.Error("GETリクエストでハンドラーが呼ばれるべき")
				}
				if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
					t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantAllow)
				}
				if tt.wantAllow == "" && w.Header().Get("Access-Control-Expose-Headers") != "" {
					t.Error("許可されていない場合は Access-Control-Expose-Headers を付けないべき")
				}
			})
		}
	})

	t.Run("許可されたオリジンにはLocationとリクエストIDを公開しVaryを付けること", func(t *testing.T) {
		t.Parallel()

		w := serveCORS(newCORSRouter(allowed, nil), http.MethodGet, "http://localhost:3000")

		want := map[string]string{
			"Access-Control-Allow-Methods":  "GET, POST, PUT, DELETE, OPTIONS",
			"Access-Control-Allow-Headers":  "Authorization, Content-Type, " + HeaderRequestID,
			"Access-Control-Expose-Headers": "Location, " + HeaderRequestID,
			"Access-Control-Max-Age":        "86400",
			"Vary":                          "Origin",
		}
		for k, v := range want {
			if got := w.Header().Get(k); got != v {
				t.Errorf("%s = %q, want %q", k, got, v)
			}
		}
		if got := w.Header().Get("Location"); got != "/users/7" {
			t.Errorf("Location = %q, want %q", got, "/users/7")
		}
	})

	t.Run("プリフライトは204で中断されハンドラーが呼ばれないこと", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name      string
			origin    string
			wantAllow string
			wantVary  string
		}{
			{name: "許可されたオリジン", origin: "http://localhost:3000", wantAllow: "http://localhost:3000", wantVary: "Origin"},
			{name: "許可されていないオリジン", origin: "https://attacker.example"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()

				var called bool
				w := serveCORS(newCORSRouter(allowed, &called), http.MethodOptions, tt.origin)

				if w.Code != http.StatusNoContent {
					t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNoContent)
				}
				if called {
					t.Error("OPTIONSリクエストでハンドラーが呼ばれるべきではない")
				}
				if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
					t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantAllow)
				}
				if got := w.Header().Get("Vary"); got != tt.wantVary {
					t.Errorf("Vary = %q, want %q", got, tt.wantVary)
				}
			})
		}
	})
}
