// Package metrics はゲートウェイのPrometheusメトリクスを定義する。
//
// テストごとに独立したレジストリを使えるよう、グローバルレジストリには登録しない。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tankwiki"

// Metrics はゲートウェイが公開するメトリクスの集合。
type Metrics struct {
	registry *prometheus.Registry

	refreshTotal        *prometheus.CounterVec
	refreshFailures     prometheus.Gauge
	credentialRemaining prometheus.Gauge
	proxyRequests       *prometheus.CounterVec
	proxyDuration       *prometheus.HistogramVec
}

// New は新しいレジストリにメトリクスを登録して返す。
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "refresh_ticks_total",
			Help:      "上流アクセストークン更新ティックの結果別件数",
		}, []string{"outcome"}),
		refreshFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "refresh_consecutive_failures",
			Help:      "上流アクセストークン更新の連続失敗回数",
		}),
		credentialRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "credential_remaining_seconds",
			Help:      "上流アクセストークンの残り有効秒数",
		}),
		proxyRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "下流サービスへの転送件数",
		}, []string{"target", "method", "code"}),
		proxyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "request_duration_seconds",
			Help:      "下流サービス呼び出しの所要時間",
			Buckets:   prometheus.DefBuckets,
		}, []string{"target"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.refreshTotal,
		m.refreshFailures,
		m.credentialRemaining,
		m.proxyRequests,
		m.proxyDuration,
	)
	return m
}

// Registry はメトリクスを登録したレジストリを返す。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler は /metrics 用のHTTPハンドラを返す。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRefresh は更新ティックの結果と連続失敗回数を記録する。
func (m *Metrics) ObserveRefresh(outcome string, consecutiveFailures int) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(outcome).Inc()
	m.refreshFailures.Set(float64(consecutiveFailures))
}

// SetCredentialRemaining は上流アクセストークンの残り有効期間を記録する。
func (m *Metrics) SetCredentialRemaining(d time.Duration) {
	if m == nil {
		return
	}
	m.credentialRemaining.Set(d.Seconds())
}

// ObserveProxy は下流サービス呼び出しの結果を記録する。
// code は下流のステータスコード、通信エラーの場合は "error"。
func (m *Metrics) ObserveProxy(target, method, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.proxyRequests.WithLabelValues(target, method, code).Inc()
	m.proxyDuration.WithLabelValues(target).Observe(d.Seconds())
}
