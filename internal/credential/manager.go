package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nao1215/tankwiki/internal/metrics"
)

// デフォルトの更新周期・しきい値・交換タイムアウト。
const (
	DefaultPeriod          = 15 * time.Minute
	DefaultThreshold       = 30 * time.Minute
	DefaultExchangeTimeout = 30 * time.Second
)

// State はManagerから見た上流アクセストークンの状態。
type State int32

const (
	// StateStale はトークンを未確認、または直近の更新に失敗した状態。
	StateStale State = iota
	// StateFresh は残り有効期間がしきい値を上回っている状態。
	StateFresh
	// StateRefreshing は交換処理の実行中。
	StateRefreshing
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateRefreshing:
		return "refreshing"
	default:
		return "stale"
	}
}

// Outcome は1回のティックの結果。
type Outcome string

const (
	// OutcomeSkipped は別のティックが実行中だったため何もしなかった。
	OutcomeSkipped Outcome = "skipped"
	// OutcomeFresh は残り有効期間が十分だったため交換しなかった。
	OutcomeFresh Outcome = "fresh"
	// OutcomeRefreshed はトークンを交換して置き換えた。
	OutcomeRefreshed Outcome = "refreshed"
	// OutcomeFailed は読み取り・交換・置き換えのいずれかに失敗した。
	OutcomeFailed Outcome = "failed"
)

// errNotExtended は交換後のトークンの有効期限が延びていない場合のエラー。
var errNotExtended = errors.New("交換後の有効期限が現在の有効期限より後ではありません")

// ManagerConfig はManagerの周期としきい値。
type ManagerConfig struct {
	// Period はティックの間隔。
	Period time.Duration
	// Threshold は残り有効期間がこの値以下になったら交換する。
	Threshold time.Duration
	// ExchangeTimeout は1回の交換呼び出しのタイムアウト。
	ExchangeTimeout time.Duration
}

// Option はManagerの設定を変更する関数。
type Option func(*Manager)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger はロガーを設定する。
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics はメトリクスの記録先を設定する。
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// Manager は上流アクセストークンのライフサイクルを管理するバックグラウンドプロセス。
// リクエスト処理とは独立して一定周期で動作し、Store に書き込む唯一の存在である。
type Manager struct {
	store     Store
	exchanger Exchanger
	cfg       ManagerConfig
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	// running は実行中のティックがあるかどうか。
	running atomic.Bool
	// state は現在の State。
	state atomic.Int32
	// failures は連続失敗回数。
	failures atomic.Int32

	// mu はcancelへの並行アクセスを保護する。
	mu     sync.Mutex
	cancel context.CancelFunc
	// wg はバックグラウンドループと実行中のティックを待つ。
	wg sync.WaitGroup
}

// NewManager は新しいManagerを生成する。
// cfg のゼロ値の項目にはデフォルト値を使う。
func NewManager(store Store, exchanger Exchanger, cfg ManagerConfig, opts ...Option) *Manager {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.ExchangeTimeout <= 0 {
		cfg.ExchangeTimeout = DefaultExchangeTimeout
	}

	m := &Manager{
		store:     store,
		exchanger: exchanger,
		cfg:       cfg,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(slog.String("component", "credential_manager"))
	return m
}

// Start はバックグラウンドでティックを開始する。
// 起動直後に1回ティックを実行し、その後は Period ごとに実行する。
// 前のティックが終わっていない場合、そのティックはスキップされる。
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.logger.InfoContext(ctx, "上流アクセストークンの監視を開始します",
			slog.Duration("period", m.cfg.Period),
			slog.Duration("threshold", m.cfg.Threshold),
		)

		m.spawnTick(ctx)

		ticker := time.NewTicker(m.cfg.Period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				m.logger.Info("上流アクセストークンの監視を停止しました")
				return
			case <-ticker.C:
				m.spawnTick(ctx)
			}
		}
	}()
}

// spawnTick はティックを別のゴルーチンで実行する。
func (m *Manager) spawnTick(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.Tick(ctx)
	}()
}

// Stop はバックグラウンド処理を停止し、実行中のティックの終了を待つ。
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// State は現在の状態を返す。
func (m *Manager) State() State {
	return State(m.state.Load())
}

// ConsecutiveFailures は連続失敗回数を返す。
func (m *Manager) ConsecutiveFailures() int {
	return int(m.failures.Load())
}

// Tick はトークンを1回確認し、必要なら交換する。
// 別のティックが実行中の場合は待たずに OutcomeSkipped を返す。
// エラーは呼び出し元に返さず、ログとメトリクスに記録する。
func (m *Manager) Tick(ctx context.Context) Outcome {
	if !m.running.CompareAndSwap(false, true) {
		m.logger.DebugContext(ctx, "前回のティックが実行中のためスキップします")
		m.record(OutcomeSkipped)
		return OutcomeSkipped
	}
	defer m.running.Store(false)

	current, err := m.store.Current(ctx)
	if err != nil {
		return m.fail(ctx, Credential{}, fmt.Errorf("トークンの読み取りに失敗: %w", err))
	}

	remaining := current.Remaining(m.now())
	m.metrics.SetCredentialRemaining(remaining)
	if remaining > m.cfg.Threshold {
		m.state.Store(int32(StateFresh))
		m.failures.Store(0)
		m.record(OutcomeFresh)
		return OutcomeFresh
	}

	m.state.Store(int32(StateRefreshing))
	m.logger.InfoContext(ctx, "上流アクセストークンを交換します", slog.Duration("remaining", remaining))

	next, err := m.exchange(ctx, current)
	if err != nil {
		return m.fail(ctx, current, err)
	}
	if err := m.store.Replace(ctx, next); err != nil {
		return m.fail(ctx, current, fmt.Errorf("トークンの置き換えに失敗: %w", err))
	}

	m.state.Store(int32(StateFresh))
	m.failures.Store(0)
	m.metrics.SetCredentialRemaining(next.Remaining(m.now()))
	m.logger.InfoContext(ctx, "上流アクセストークンを更新しました", slog.Time("expires_at", next.ExpiresAt))
	m.record(OutcomeRefreshed)
	return OutcomeRefreshed
}

// exchange はタイムアウト付きで交換を1回呼び出し、有効期限が延びたことを確認する。
func (m *Manager) exchange(ctx context.Context, current Credential) (Credential, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ExchangeTimeout)
	defer cancel()

	next, err := m.exchanger.Exchange(ctx, current.AccessToken)
	if err != nil {
		return Credential{}, fmt.Errorf("トークンの交換に失敗: %w", err)
	}
	if next.AccessToken == "" || !next.ExpiresAt.After(current.ExpiresAt) {
		return Credential{}, errNotExtended
	}
	return next, nil
}

// fail は失敗を記録する。保存済みのトークンはそのまま残り、次のティックで再試行する。
// 次のティックまでに期限が切れる場合はエラーレベルで出力する。
func (m *Manager) fail(ctx context.Context, current Credential, err error) Outcome {
	m.state.Store(int32(StateStale))
	n := m.failures.Add(1)

	level := slog.LevelWarn
	attrs := []slog.Attr{
		slog.Int("consecutive_failures", int(n)),
		slog.Any("error", err),
	}
	if !current.ExpiresAt.IsZero() {
		remaining := current.Remaining(m.now())
		attrs = append(attrs, slog.Duration("remaining", remaining))
		if remaining <= m.cfg.Period {
			level = slog.LevelError
		}
	} else if errors.Is(err, ErrNotProvisioned) {
		level = slog.LevelError
	}
	m.logger.LogAttrs(ctx, level, "上流アクセストークンの更新に失敗しました", attrs...)

	m.record(OutcomeFailed)
	return OutcomeFailed
}

// record はティックの結果をメトリクスに記録する。
func (m *Manager) record(o Outcome) {
	m.metrics.ObserveRefresh(string(o), int(m.failures.Load()))
}
