package provider

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// CostMeter is the per-provider rate-limit and token-cost state shared
// across jobs. Callers receive it as a parameter; the token and call
// counters reset at each window boundary.
type CostMeter struct {
	limiter *rate.Limiter
	window  time.Duration

	mu          sync.Mutex
	windowStart time.Time
	tokens      int64
	calls       int64
}

// NewCostMeter builds a meter allowing rps requests per second (with the
// given burst) and accumulating token counts per window.
func NewCostMeter(rps float64, burst int, window time.Duration) *CostMeter {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &CostMeter{
		limiter:     rate.NewLimiter(rate.Limit(rps), burst),
		window:      window,
		windowStart: time.Now(),
	}
}

// Wait blocks until the provider may be called again or ctx is cancelled.
func (m *CostMeter) Wait(ctx context.Context) error {
	return m.limiter.Wait(ctx)
}

// Record adds one call's token cost to the current window.
func (m *CostMeter) Record(tokens int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollWindowLocked()
	m.tokens += int64(tokens)
	m.calls++
}

// WindowUsage returns the token and call totals of the current window.
func (m *CostMeter) WindowUsage() (tokens, calls int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollWindowLocked()
	return m.tokens, m.calls
}

func (m *CostMeter) rollWindowLocked() {
	if time.Since(m.windowStart) >= m.window {
		m.windowStart = time.Now()
		m.tokens = 0
		m.calls = 0
	}
}

// Meters holds the process-scoped cost meters keyed by provider ID. Batch
// workers look meters up concurrently, so access is serialized here. The
// zero value is ready to use.
type Meters struct {
	mu   sync.Mutex
	byID map[string]*CostMeter
}

// NewMeters builds an empty meter set.
func NewMeters() *Meters {
	return &Meters{byID: make(map[string]*CostMeter)}
}

// Set installs the meter for a provider, replacing any existing one.
func (ms *Meters) Set(providerID string, m *CostMeter) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.byID == nil {
		ms.byID = make(map[string]*CostMeter)
	}
	ms.byID[providerID] = m
}

// Meter returns the meter for a provider, creating a permissive default if
// none was configured.
func (ms *Meters) Meter(providerID string) *CostMeter {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.byID == nil {
		ms.byID = make(map[string]*CostMeter)
	}
	if m, ok := ms.byID[providerID]; ok {
		return m
	}
	m := NewCostMeter(2, 2, time.Minute)
	ms.byID[providerID] = m
	return m
}
