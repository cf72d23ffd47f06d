/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package screening

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/blnkfinance/vaultpay/config"
	"github.com/blnkfinance/vaultpay/internal/cache"
	"github.com/blnkfinance/vaultpay/internal/request"
	"github.com/blnkfinance/vaultpay/model"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

// batchChunk is how many addresses ScreenBatch screens at once.
const batchChunk = 5

// staleFactor multiplies the fresh TTL to get how long entries stay usable as a
// fallback once the provider is unreachable.
const staleFactor = 7

var tracer = otel.Tracer("vaultpay.screening")

// Gate screens addresses through a Screener with caching, retries and a stale
// fallback. It never returns an error: an unreachable provider yields an Unknown
// verdict carrying the transport error.
type Gate struct {
	screener    Screener
	cache       cache.Cache
	cacheTTL    time.Duration
	maxAttempts int
	retryDelay  time.Duration
	now         func() time.Time
}

func NewGate(screener Screener, c cache.Cache, cfg config.ScreeningConfig) *Gate {
	g := &Gate{
		screener:    screener,
		cache:       c,
		cacheTTL:    cfg.CacheTTL,
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
		now:         time.Now,
	}
	if g.cacheTTL <= 0 {
		g.cacheTTL = 24 * time.Hour
	}
	if g.maxAttempts <= 0 {
		g.maxAttempts = 3
	}
	if g.retryDelay < 0 {
		g.retryDelay = 0
	}
	return g
}

// cachedScreening is the cache representation of a decision.
type cachedScreening struct {
	Address        string          `json:"address"`
	Verdict        model.Verdict   `json:"verdict"`
	RiskScore      *float64        `json:"risk_score"`
	RiskLevel      model.RiskLevel `json:"risk_level"`
	Flags          []string        `json:"flags"`
	SanctionsMatch bool            `json:"sanctions_match"`
	ScreenedAt     time.Time       `json:"screened_at"`
}

func toCached(r *model.ScreeningResult) cachedScreening {
	return cachedScreening{
		Address:        r.Address,
		Verdict:        r.Verdict,
		RiskScore:      r.RiskScore,
		RiskLevel:      r.RiskLevel,
		Flags:          r.Flags,
		SanctionsMatch: r.SanctionsMatch,
		ScreenedAt:     r.ScreenedAt,
	}
}

func (c cachedScreening) result(stale bool) *model.ScreeningResult {
	flags := c.Flags
	if flags == nil {
		flags = []string{}
	}
	return &model.ScreeningResult{
		Address:        c.Address,
		Verdict:        c.Verdict,
		Approved:       c.Verdict == model.VerdictApproved,
		RiskScore:      c.RiskScore,
		RiskLevel:      c.RiskLevel,
		Flags:          flags,
		SanctionsMatch: c.SanctionsMatch,
		Stale:          stale,
		ScreenedAt:     c.ScreenedAt,
	}
}

func cacheKey(address string) string {
	return fmt.Sprintf("vaultpay:screening:%s", address)
}

// Screen returns a decision for address, using a fresh cached entry when present.
func (g *Gate) Screen(ctx context.Context, address string) *model.ScreeningResult {
	return g.screen(ctx, address, false)
}

// Rescreen bypasses fresh cache entries. The stale fallback still applies.
func (g *Gate) Rescreen(ctx context.Context, address string) *model.ScreeningResult {
	return g.screen(ctx, address, true)
}

func (g *Gate) screen(ctx context.Context, address string, force bool) *model.ScreeningResult {
	ctx, span := tracer.Start(ctx, "Screen")
	defer span.End()

	cached, hit := g.lookup(ctx, address)
	if hit && !force && g.now().Sub(cached.ScreenedAt) < g.cacheTTL {
		return cached.result(false)
	}

	result, err := g.screenWithRetry(ctx, address)
	if err == nil {
		g.store(ctx, result)
		return result
	}
	span.RecordError(err)

	if hit {
		logrus.WithFields(logrus.Fields{"address": address, "screened_at": cached.ScreenedAt}).
			Warnf("screening failed, using stale cached result: %v", err)
		return cached.result(true)
	}

	logrus.WithField("address", address).Warnf("screening failed with no cached result: %v", err)
	return &model.ScreeningResult{
		Address:    address,
		Verdict:    model.VerdictUnknown,
		Flags:      []string{},
		ScreenedAt: g.now().UTC(),
		Err:        err,
	}
}

// ScreenBatch screens each distinct address, a chunk at a time.
func (g *Gate) ScreenBatch(ctx context.Context, addresses []string) map[string]*model.ScreeningResult {
	results := make(map[string]*model.ScreeningResult, len(addresses))
	seen := make(map[string]bool, len(addresses))
	unique := make([]string, 0, len(addresses))
	for _, a := range addresses {
		if !seen[a] {
			seen[a] = true
			unique = append(unique, a)
		}
	}

	var mu sync.Mutex
	for start := 0; start < len(unique); start += batchChunk {
		end := start + batchChunk
		if end > len(unique) {
			end = len(unique)
		}

		eg, egCtx := errgroup.WithContext(ctx)
		for _, address := range unique[start:end] {
			address := address
			eg.Go(func() error {
				r := g.Screen(egCtx, address)
				mu.Lock()
				results[address] = r
				mu.Unlock()
				return nil
			})
		}
		_ = eg.Wait()
	}
	return results
}

func (g *Gate) screenWithRetry(ctx context.Context, address string) (*model.ScreeningResult, error) {
	var result *model.ScreeningResult
	attempt := 0
	op := func() error {
		attempt++
		r, err := g.screener.Screen(ctx, address)
		if err != nil {
			logrus.Warnf("screening attempt %d/%d for %s failed: %v", attempt, g.maxAttempts, address, err)
			var statusErr *request.StatusError
			if errors.As(err, &statusErr) && !statusErr.Retryable() {
				return backoff.Permanent(err)
			}
			return err
		}
		result = r
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(&linearBackOff{step: g.retryDelay}, uint64(g.maxAttempts-1)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return result, nil
}

func (g *Gate) lookup(ctx context.Context, address string) (cachedScreening, bool) {
	var entry cachedScreening
	if g.cache == nil {
		return entry, false
	}
	if err := g.cache.Get(ctx, cacheKey(address), &entry); err != nil {
		if err != cache.ErrMiss {
			logrus.Warnf("screening cache read failed for %s: %v", address, err)
		}
		return entry, false
	}
	return entry, true
}

func (g *Gate) store(ctx context.Context, r *model.ScreeningResult) {
	if g.cache == nil {
		return
	}
	if err := g.cache.Set(ctx, cacheKey(r.Address), toCached(r), g.cacheTTL*staleFactor); err != nil {
		logrus.Warnf("screening cache write failed for %s: %v", r.Address, err)
	}
}

// linearBackOff waits step, 2*step, 3*step and so on between attempts.
type linearBackOff struct {
	step time.Duration
	n    int64
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.n++
	return time.Duration(l.n) * l.step
}

func (l *linearBackOff) Reset() {
	l.n = 0
}
