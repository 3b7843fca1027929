package ratelimit

import (
	"log/slog"
	"sync"
	"time"

	"github.com/atelierhq/loom/internal/ports"
)

// burstWindow is the short trailing horizon the burst limit applies to.
const burstWindow = 10 * time.Second

var windows = []time.Duration{
	time.Second,
	time.Minute,
	time.Hour,
	24 * time.Hour,
}

// DefaultRules mirrors the built-in tiers; "free" is the fallback for keys
// without an explicit rule.
func DefaultRules() map[string]ports.RateLimitRule {
	return map[string]ports.RateLimitRule{
		"free":       {RequestsPerSecond: 1, RequestsPerMinute: 60, RequestsPerHour: 1000, RequestsPerDay: 10000, BurstLimit: 10},
		"premium":    {RequestsPerSecond: 10, RequestsPerMinute: 600, RequestsPerHour: 10000, RequestsPerDay: 100000, BurstLimit: 50},
		"enterprise": {RequestsPerSecond: 50, RequestsPerMinute: 3000, RequestsPerHour: 50000, RequestsPerDay: 500000, BurstLimit: 100},
	}
}

type entry struct {
	mu      sync.Mutex
	rule    ports.RateLimitRule
	history []time.Time
}

type Limiter struct {
	logger      *slog.Logger
	defaultRule ports.RateLimitRule

	mu   sync.RWMutex
	keys map[string]*entry

	now func() time.Time
}

func NewLimiter(defaultRule ports.RateLimitRule, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}

	return &Limiter{
		logger:      logger.With("component", "rate-limiter"),
		defaultRule: defaultRule,
		keys:        make(map[string]*entry),
		now:         time.Now,
	}
}

func (l *Limiter) entry(key string) *entry {
	l.mu.RLock()
	e, ok := l.keys[key]
	l.mu.RUnlock()
	if ok {
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok = l.keys[key]; ok {
		return e
	}
	e = &entry{rule: l.defaultRule}
	l.keys[key] = e
	return e
}

// Check reports whether a request for key is admissible right now, along
// with per-window headroom. It never consumes quota; pair with Record once
// the request is actually dispatched.
func (l *Limiter) Check(key string) ports.RateLimitDecision {
	e := l.entry(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	now := l.now()
	l.purgeLocked(e, now)
	return l.decideLocked(key, e, now)
}

// Record appends a request timestamp for key. Call exactly once per admitted
// request after Check allowed it.
func (l *Limiter) Record(key string) {
	e := l.entry(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	now := l.now()
	e.history = append(e.history, now)
	l.purgeLocked(e, now)
}

func (l *Limiter) SetRule(key string, rule ports.RateLimitRule) {
	e := l.entry(key)

	e.mu.Lock()
	e.rule = rule
	e.mu.Unlock()

	l.logger.Info("rate limit rule updated",
		"key", key,
		"per_second", rule.RequestsPerSecond,
		"per_minute", rule.RequestsPerMinute,
		"per_hour", rule.RequestsPerHour,
		"per_day", rule.RequestsPerDay,
		"burst", rule.BurstLimit)
}

func (l *Limiter) Rule(key string) ports.RateLimitRule {
	e := l.entry(key)

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rule
}

// Status is Check without admission intent; it exists so callers inspecting
// headroom read the same decision shape.
func (l *Limiter) Status(key string) ports.RateLimitDecision {
	return l.Check(key)
}

// purgeLocked drops history older than the largest window this key's rule
// actually configures, so a long custom window never loses the history it
// needs.
func (l *Limiter) purgeLocked(e *entry, now time.Time) {
	horizon := purgeHorizon(e.rule)
	cutoff := now.Add(-horizon)

	idx := 0
	for idx < len(e.history) && !e.history[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		e.history = append(e.history[:0], e.history[idx:]...)
	}
}

func purgeHorizon(rule ports.RateLimitRule) time.Duration {
	horizon := burstWindow
	for i, limit := range ruleLimits(rule) {
		if limit > 0 && windows[i] > horizon {
			horizon = windows[i]
		}
	}
	return horizon
}

func ruleLimits(rule ports.RateLimitRule) [4]int {
	return [4]int{
		rule.RequestsPerSecond,
		rule.RequestsPerMinute,
		rule.RequestsPerHour,
		rule.RequestsPerDay,
	}
}

func (l *Limiter) decideLocked(key string, e *entry, now time.Time) ports.RateLimitDecision {
	decision := ports.RateLimitDecision{
		Allowed: true,
		Key:     key,
	}

	limits := ruleLimits(e.rule)
	for i, window := range windows {
		limit := limits[i]
		if limit <= 0 {
			continue
		}

		used, oldest := countWithin(e.history, now, window)

		// The window slides: it regains headroom the moment its oldest
		// request ages out, not a full window from now.
		resetAt := now
		if used > 0 {
			resetAt = oldest.Add(window)
		}
		status := ports.WindowStatus{
			Window:    window,
			Limit:     limit,
			Used:      used,
			Remaining: max(0, limit-used),
			ResetAt:   resetAt,
		}
		decision.Windows = append(decision.Windows, status)

		if used >= limit {
			decision.Allowed = false
			retry := oldest.Add(window).Sub(now)
			if retry > decision.RetryAfter {
				decision.RetryAfter = retry
			}
		}
	}

	if e.rule.BurstLimit > 0 {
		used, oldest := countWithin(e.history, now, burstWindow)
		if used >= e.rule.BurstLimit {
			decision.Allowed = false
			decision.BurstExceeded = true
			retry := oldest.Add(burstWindow).Sub(now)
			if retry > decision.RetryAfter {
				decision.RetryAfter = retry
			}
		}
	}

	return decision
}

// countWithin counts history entries inside the trailing window and returns
// the oldest timestamp among them. History is time-ordered.
func countWithin(history []time.Time, now time.Time, window time.Duration) (int, time.Time) {
	start := now.Add(-window)
	count := 0
	var oldest time.Time
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].After(start) {
			count++
			oldest = history[i]
		} else {
			break
		}
	}
	return count, oldest
}
