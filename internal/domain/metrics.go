package domain

import (
	"sync"
	"time"
)

// emaAlpha weights new samples in the exponential moving average.
const emaAlpha = 0.1

type CallStats struct {
	Total        int64         `json:"total"`
	Succeeded    int64         `json:"succeeded"`
	Failed       int64         `json:"failed"`
	AvgLatencyMS float64       `json:"avg_latency_ms"`
	LastUpdated  time.Time     `json:"last_updated"`
	LastLatency  time.Duration `json:"-"`
}

// RollingMetrics tracks call counts and EMA latency, globally and per
// dependency. Safe for concurrent use.
type RollingMetrics struct {
	mu     sync.RWMutex
	global CallStats
	byDep  map[string]*CallStats
}

func NewRollingMetrics() *RollingMetrics {
	return &RollingMetrics{
		byDep: make(map[string]*CallStats),
	}
}

func (m *RollingMetrics) Observe(dependency string, success bool, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	observe(&m.global, success, latency)

	stats, ok := m.byDep[dependency]
	if !ok {
		stats = &CallStats{}
		m.byDep[dependency] = stats
	}
	observe(stats, success, latency)
}

func observe(s *CallStats, success bool, latency time.Duration) {
	s.Total++
	if success {
		s.Succeeded++
	} else {
		s.Failed++
	}

	ms := float64(latency.Microseconds()) / 1000.0
	if s.AvgLatencyMS == 0 {
		s.AvgLatencyMS = ms
	} else {
		s.AvgLatencyMS = emaAlpha*ms + (1-emaAlpha)*s.AvgLatencyMS
	}
	s.LastLatency = latency
	s.LastUpdated = time.Now()
}

func (m *RollingMetrics) Global() CallStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.global
}

func (m *RollingMetrics) Dependency(dependency string) (CallStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats, ok := m.byDep[dependency]
	if !ok {
		return CallStats{}, false
	}
	return *stats, true
}

func (m *RollingMetrics) All() map[string]CallStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]CallStats, len(m.byDep))
	for dep, stats := range m.byDep {
		out[dep] = *stats
	}
	return out
}

func (m *RollingMetrics) SuccessRate() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.global.Total == 0 {
		return 1.0
	}
	return float64(m.global.Succeeded) / float64(m.global.Total)
}
