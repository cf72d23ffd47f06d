package screening

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/blnkfinance/vaultpay/config"
	"github.com/blnkfinance/vaultpay/internal/cache"
	"github.com/blnkfinance/vaultpay/internal/request"
	"github.com/blnkfinance/vaultpay/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubScreener struct {
	mu       sync.Mutex
	calls    int
	failures int
	err      error
	score    float64
	sanction bool
}

func (s *stubScreener) Name() string { return "stub" }

func (s *stubScreener) Screen(_ context.Context, address string) (*model.ScreeningResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures < 0 || s.calls <= s.failures {
		return nil, s.err
	}
	return Decide(address, s.score, s.sanction, nil, DefaultRiskThreshold), nil
}

func (s *stubScreener) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestGate(t *testing.T, s Screener) *Gate {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewGate(s, cache.NewRedisCache(client), config.ScreeningConfig{
		CacheTTL:    time.Hour,
		MaxAttempts: 3,
	})
}

func TestGate_CachesFreshResult(t *testing.T) {
	s := &stubScreener{score: 0.1}
	g := newTestGate(t, s)

	first := g.Screen(context.Background(), "addr-1")
	second := g.Screen(context.Background(), "addr-1")

	assert.Equal(t, model.VerdictApproved, first.Verdict)
	assert.Equal(t, model.VerdictApproved, second.Verdict)
	assert.False(t, second.Stale)
	assert.Equal(t, 1, s.count())
}

func TestGate_RescreenBypassesCache(t *testing.T) {
	s := &stubScreener{score: 0.1}
	g := newTestGate(t, s)

	g.Screen(context.Background(), "addr-1")
	g.Rescreen(context.Background(), "addr-1")

	assert.Equal(t, 2, s.count())
}

func TestGate_RetriesTransientFailures(t *testing.T) {
	s := &stubScreener{failures: 2, err: errors.New("connection reset"), score: 0.8}
	g := newTestGate(t, s)

	result := g.Screen(context.Background(), "addr-2")

	assert.Equal(t, 3, s.count())
	assert.Equal(t, model.VerdictFlagged, result.Verdict)
	assert.Equal(t, model.RiskLevelCritical, result.RiskLevel)
	assert.NoError(t, result.Err)
}

func TestGate_UnknownWhenUnreachable(t *testing.T) {
	s := &stubScreener{failures: -1, err: errors.New("dial tcp: connection refused")}
	g := newTestGate(t, s)

	result := g.Screen(context.Background(), "addr-3")

	assert.Equal(t, 3, s.count())
	assert.Equal(t, model.VerdictUnknown, result.Verdict)
	assert.False(t, result.Approved)
	assert.Error(t, result.Err)
	assert.Equal(t, model.RangeStatusPending, result.RangeStatus())
}

func TestGate_ClientErrorIsNotRetried(t *testing.T) {
	s := &stubScreener{failures: -1, err: &request.StatusError{StatusCode: 400, Body: "bad address"}}
	g := newTestGate(t, s)

	result := g.Screen(context.Background(), "addr-4")

	assert.Equal(t, 1, s.count())
	assert.Equal(t, model.VerdictUnknown, result.Verdict)
}

func TestGate_StaleFallback(t *testing.T) {
	s := &stubScreener{sanction: true}
	g := newTestGate(t, s)

	first := g.Screen(context.Background(), "addr-5")
	require.Equal(t, model.VerdictRejected, first.Verdict)

	g.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	s.mu.Lock()
	s.failures, s.err = -1, errors.New("timeout")
	s.mu.Unlock()

	result := g.Screen(context.Background(), "addr-5")
	assert.Equal(t, model.VerdictRejected, result.Verdict)
	assert.True(t, result.Stale)
	assert.True(t, result.SanctionsMatch)
	assert.NoError(t, result.Err)
}

func TestGate_ScreenBatch(t *testing.T) {
	s := &stubScreener{score: 0.2}
	g := newTestGate(t, s)

	addresses := []string{}
	for i := 0; i < 12; i++ {
		addresses = append(addresses, fmt.Sprintf("addr-%d", i))
	}
	addresses = append(addresses, "addr-0", "addr-1")

	results := g.ScreenBatch(context.Background(), addresses)

	assert.Len(t, results, 12)
	assert.Equal(t, 12, s.count())
	for _, r := range results {
		assert.Equal(t, model.VerdictApproved, r.Verdict)
	}
}

func TestGate_NoCache(t *testing.T) {
	s := &stubScreener{score: 0.4}
	g := NewGate(s, nil, config.ScreeningConfig{})

	r := g.Screen(context.Background(), "addr-6")
	g.Screen(context.Background(), "addr-6")

	assert.Equal(t, model.RiskLevelMedium, r.RiskLevel)
	assert.Equal(t, 2, s.count())
}

func TestRiskLevelFor(t *testing.T) {
	tests := []struct {
		score float64
		want  model.RiskLevel
	}{
		{0, model.RiskLevelLow},
		{0.29, model.RiskLevelLow},
		{0.3, model.RiskLevelMedium},
		{0.5, model.RiskLevelHigh},
		{0.69, model.RiskLevelHigh},
		{0.7, model.RiskLevelCritical},
		{1, model.RiskLevelCritical},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%.2f", tt.score), func(t *testing.T) {
			assert.Equal(t, tt.want, RiskLevelFor(tt.score))
		})
	}
}

func TestDecide(t *testing.T) {
	approved := Decide("a", 0.69, false, nil, 0)
	assert.Equal(t, model.VerdictApproved, approved.Verdict)
	assert.True(t, approved.Approved)
	assert.NotNil(t, approved.Flags)

	flagged := Decide("a", 0.7, false, []string{"mixer"}, 0)
	assert.Equal(t, model.VerdictFlagged, flagged.Verdict)
	assert.False(t, flagged.Approved)

	rejected := Decide("a", 0.01, true, nil, 0)
	assert.Equal(t, model.VerdictRejected, rejected.Verdict)
	assert.Equal(t, model.RangeStatusRejected, rejected.RangeStatus())
}
