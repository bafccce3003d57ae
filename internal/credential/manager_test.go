package credential

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nao1215/tankwiki/internal/metrics"
)

// baseTime はテストで使う固定の現在時刻。
var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// countingExchanger は呼び出し回数を数える Exchanger。
type countingExchanger struct {
	calls atomic.Int32
	// extend は交換後の有効期限（baseTime からの期間）。
	extend time.Duration
	err    error

	mu sync.Mutex
	// gotToken は最後に渡されたアクセストークン。
	gotToken string
}

func (e *countingExchanger) Exchange(_ context.Context, accessToken string) (Credential, error) {
	e.calls.Add(1)
	e.mu.Lock()
	e.gotToken = accessToken
	e.mu.Unlock()
	if e.err != nil {
		return Credential{}, e.err
	}
	return Credential{AccessToken: accessToken + "-next", ExpiresAt: baseTime.Add(e.extend)}, nil
}

func newTestManager(store Store, ex Exchanger, opts ...Option) *Manager {
	opts = append([]Option{WithClock(func() time.Time { return baseTime })}, opts...)
	return NewManager(store, ex, ManagerConfig{
		Period:          15 * time.Minute,
		Threshold:       30 * time.Minute,
		ExchangeTimeout: time.Second,
	}, opts...)
}

func storeExpiringIn(d time.Duration) *memoryStore {
	return &memoryStore{cred: &Credential{AccessToken: "current", ExpiresAt: baseTime.Add(d)}}
}

func TestManager_Tick(t *testing.T) {
	t.Parallel()

	t.Run("残り有効期間がしきい値を上回る場合は交換しないこと", func(t *testing.T) {
		t.Parallel()

		store := storeExpiringIn(2 * time.Hour)
		ex := &countingExchanger{extend: 24 * time.Hour}
		m := newTestManager(store, ex)

		assert.Equal(t, OutcomeFresh, m.Tick(context.Background()))
		assert.Equal(t, int32(0), ex.calls.Load())
		assert.Equal(t, StateFresh, m.State())

		_, replaced := store.snapshot()
		assert.Zero(t, replaced)
	})

	t.Run("残り10分でしきい値30分なら1回だけ交換して置き換えること", func(t *testing.T) {
		t.Parallel()

		store := storeExpiringIn(10 * time.Minute)
		ex := &countingExchanger{extend: 14 * 24 * time.Hour}
		m := newTestManager(store, ex)

		assert.Equal(t, OutcomeRefreshed, m.Tick(context.Background()))
		assert.Equal(t, int32(1), ex.calls.Load())
		assert.Equal(t, "current", ex.gotToken)

		got, replaced := store.snapshot()
		assert.Equal(t, 1, replaced)
		assert.Equal(t, "current-next", got.AccessToken)
		assert.True(t, got.ExpiresAt.After(baseTime.Add(10*time.Minute)))
		assert.Equal(t, StateFresh, m.State())
	})

	t.Run("残り有効期間がしきい値ちょうどなら交換すること", func(t *testing.T) {
		t.Parallel()

		store := storeExpiringIn(30 * time.Minute)
		ex := &countingExchanger{extend: time.Hour}
		m := newTestManager(store, ex)

		assert.Equal(t, OutcomeRefreshed, m.Tick(context.Background()))
		assert.Equal(t, int32(1), ex.calls.Load())
	})

	t.Run("期限切れのトークンも交換を試みること", func(t *testing.T) {
		t.Parallel()

		store := storeExpiringIn(-time.Minute)
		ex := &countingExchanger{extend: time.Hour}
		m := newTestManager(store, ex)

		assert.Equal(t, OutcomeRefreshed, m.Tick(context.Background()))
	})

	t.Run("交換に失敗した場合は既存のトークンが残り連続失敗回数が増えること", func(t *testing.T) {
		t.Parallel()

		store := storeExpiringIn(10 * time.Minute)
		before, _ := store.snapshot()
		ex := &countingExchanger{err: errors.New("connection refused")}
		m := newTestManager(store, ex, WithMetrics(metrics.New()))

		assert.Equal(t, OutcomeFailed, m.Tick(context.Background()))
		assert.Equal(t, OutcomeFailed, m.Tick(context.Background()))

		after, replaced := store.snapshot()
		assert.Equal(t, before, after)
		assert.Zero(t, replaced)
		assert.Equal(t, 2, m.ConsecutiveFailures())
		assert.Equal(t, StateStale, m.State())
		assert.Equal(t, int32(2), ex.calls.Load())
	})

	t.Run("成功すると連続失敗回数がリセットされること", func(t *testing.T) {
		t.Parallel()

		store := storeExpiringIn(10 * time.Minute)
		ex := &countingExchanger{err: errors.New("timeout")}
		m := newTestManager(store, ex)

		require.Equal(t, OutcomeFailed, m.Tick(context.Background()))
		ex.err = nil
		ex.extend = time.Hour

		assert.Equal(t, OutcomeRefreshed, m.Tick(context.Background()))
		assert.Zero(t, m.ConsecutiveFailures())
	})

	t.Run("有効期限が延びないトークンは失敗として扱うこと", func(t *testing.T) {
		t.Parallel()

		store := storeExpiringIn(10 * time.Minute)
		ex := &countingExchanger{extend: 10 * time.Minute}
		m := newTestManager(store, ex)

		assert.Equal(t, OutcomeFailed, m.Tick(context.Background()))
		_, replaced := store.snapshot()
		assert.Zero(t, replaced)
	})

	t.Run("未登録の場合は交換せず失敗になること", func(t *testing.T) {
		t.Parallel()

		ex := &countingExchanger{extend: time.Hour}
		m := newTestManager(&memoryStore{}, ex)

		assert.Equal(t, OutcomeFailed, m.Tick(context.Background()))
		assert.Zero(t, ex.calls.Load())
	})

	t.Run("読み取りエラーの場合は交換しないこと", func(t *testing.T) {
		t.Parallel()

		ex := &countingExchanger{extend: time.Hour}
		m := newTestManager(&memoryStore{readErr: errors.New("disk I/O error")}, ex)

		assert.Equal(t, OutcomeFailed, m.Tick(context.Background()))
		assert.Zero(t, ex.calls.Load())
	})
}

// blockingExchanger は release が閉じられるまで交換を完了しない Exchanger。
type blockingExchanger struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (e *blockingExchanger) Exchange(ctx context.Context, accessToken string) (Credential, error) {
	e.calls.Add(1)
	e.entered <- struct{}{}
	select {
	case <-e.release:
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	}
	return Credential{AccessToken: accessToken + "-next", ExpiresAt: baseTime.Add(time.Hour)}, nil
}

func TestManager_Tick_SingleFlight(t *testing.T) {
	t.Parallel()

	store := storeExpiringIn(5 * time.Minute)
	ex := &blockingExchanger{entered: make(chan struct{}, 1), release: make(chan struct{})}
	m := NewManager(store, ex, ManagerConfig{
		Period:          15 * time.Minute,
		Threshold:       30 * time.Minute,
		ExchangeTimeout: 10 * time.Second,
	}, WithClock(func() time.Time { return baseTime }))

	first := make(chan Outcome, 1)
	go func() { first <- m.Tick(context.Background()) }()

	<-ex.entered
	assert.Equal(t, StateRefreshing, m.State())
	assert.Equal(t, OutcomeSkipped, m.Tick(context.Background()))

	close(ex.release)
	assert.Equal(t, OutcomeRefreshed, <-first)
	assert.Equal(t, int32(1), ex.calls.Load())

	_, replaced := store.snapshot()
	assert.Equal(t, 1, replaced)
}

func TestManager_Tick_ExchangeTimeout(t *testing.T) {
	t.Parallel()

	store := storeExpiringIn(5 * time.Minute)
	ex := &blockingExchanger{entered: make(chan struct{}, 1), release: make(chan struct{})}
	m := NewManager(store, ex, ManagerConfig{
		Period:          15 * time.Minute,
		Threshold:       30 * time.Minute,
		ExchangeTimeout: 20 * time.Millisecond,
	}, WithClock(func() time.Time { return baseTime }))

	assert.Equal(t, OutcomeFailed, m.Tick(context.Background()))
	_, replaced := store.snapshot()
	assert.Zero(t, replaced)
}

func TestManager_StartStop(t *testing.T) {
	t.Parallel()

	t.Run("起動直後に1回ティックが実行されること", func(t *testing.T) {
		t.Parallel()

		store := storeExpiringIn(5 * time.Minute)
		ex := &countingExchanger{extend: time.Hour}
		m := NewManager(store, ex, ManagerConfig{
			Period:    time.Hour,
			Threshold: 30 * time.Minute,
		}, WithClock(func() time.Time { return baseTime }))

		m.Start(context.Background())
		t.Cleanup(m.Stop)

		require.Eventually(t, func() bool {
			_, replaced := store.snapshot()
			return replaced == 1
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, int32(1), ex.calls.Load())
	})

	t.Run("周期ごとにティックが実行されること", func(t *testing.T) {
		t.Parallel()

		store := storeExpiringIn(2 * time.Hour)
		var checks atomic.Int32
		ex := ExchangerFunc(func(context.Context, string) (Credential, error) {
			return Credential{}, errors.New("呼ばれないはず")
		})
		m := NewManager(&countingStore{Store: store, reads: &checks}, ex, ManagerConfig{
			Period:    10 * time.Millisecond,
			Threshold: 30 * time.Minute,
		}, WithClock(func() time.Time { return baseTime }))

		m.Start(context.Background())
		require.Eventually(t, func() bool { return checks.Load() >= 3 }, time.Second, 5*time.Millisecond)
		m.Stop()

		stopped := checks.Load()
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, stopped, checks.Load(), "停止後にティックが実行されるべきではない")
	})

	t.Run("Stopを複数回呼んでもパニックしないこと", func(t *testing.T) {
		t.Parallel()

		m := newTestManager(storeExpiringIn(time.Hour), &countingExchanger{})
		m.Start(context.Background())
		m.Stop()
		assert.NotPanics(t, m.Stop)
	})
}

// countingStore は読み取り回数を数える Store。
type countingStore struct {
	Store
	reads *atomic.Int32
}

func (s *countingStore) Current(ctx context.Context) (Credential, error) {
	s.reads.Add(1)
	return s.Store.Current(ctx)
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "stale", StateStale.String())
	assert.Equal(t, "fresh", StateFresh.String())
	assert.Equal(t, "refreshing", StateRefreshing.String())
}
