package adapters

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/blnkfinance/vaultpay/model"
	"github.com/blnkfinance/vaultpay/screening"
)

// ErrMockUnavailable is returned when ShouldFail is set.
var ErrMockUnavailable = errors.New("mock screener unavailable")

// MockScreener returns low-risk approvals derived from the address, unless an
// override is registered for it. It backs demo mode when no API key is configured.
type MockScreener struct {
	ShouldFail bool
	Delay      time.Duration

	mu        sync.Mutex
	overrides map[string]screenOverride
	calls     map[string]int
}

type screenOverride struct {
	score     float64
	sanctions bool
	flags     []string
}

func NewMockScreener() *MockScreener {
	return &MockScreener{
		overrides: make(map[string]screenOverride),
		calls:     make(map[string]int),
	}
}

func (m *MockScreener) Name() string {
	return "mock_screener"
}

// SetRisk makes the next screens of address report the given score and sanctions flag.
func (m *MockScreener) SetRisk(address string, score float64, sanctions bool, flags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[address] = screenOverride{score: score, sanctions: sanctions, flags: flags}
}

// Calls returns how many times address was screened.
func (m *MockScreener) Calls(address string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[address]
}

func (m *MockScreener) Screen(ctx context.Context, address string) (*model.ScreeningResult, error) {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	m.calls[address]++
	o, ok := m.overrides[address]
	shouldFail := m.ShouldFail
	m.mu.Unlock()

	if shouldFail {
		return nil, ErrMockUnavailable
	}
	if ok {
		return screening.Decide(address, o.score, o.sanctions, o.flags, screening.DefaultRiskThreshold), nil
	}
	return screening.Decide(address, demoScore(address), false, nil, screening.DefaultRiskThreshold), nil
}

// demoScore is a stable score in [0, 0.29] for an address.
func demoScore(address string) float64 {
	var h int32
	for _, c := range address {
		h = int32(c) + ((h << 5) - h)
	}
	r := h % 30
	if r < 0 {
		r = -r
	}
	return float64(r) / 100
}
