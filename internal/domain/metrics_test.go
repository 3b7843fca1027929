package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCountsPerDependencyAndGlobally(t *testing.T) {
	m := NewRollingMetrics()

	m.Observe("shopify", true, 10*time.Millisecond)
	m.Observe("shopify", false, 20*time.Millisecond)
	m.Observe("stripe", true, 5*time.Millisecond)

	global := m.Global()
	assert.Equal(t, int64(3), global.Total)
	assert.Equal(t, int64(2), global.Succeeded)
	assert.Equal(t, int64(1), global.Failed)

	shopify, ok := m.Dependency("shopify")
	require.True(t, ok)
	assert.Equal(t, int64(2), shopify.Total)

	_, ok = m.Dependency("unknown")
	assert.False(t, ok)
}

func TestLatencyEMASmoothsTowardNewSamples(t *testing.T) {
	m := NewRollingMetrics()

	m.Observe("dep", true, 100*time.Millisecond)
	first, _ := m.Dependency("dep")
	assert.InDelta(t, 100.0, first.AvgLatencyMS, 0.001)

	m.Observe("dep", true, 200*time.Millisecond)
	second, _ := m.Dependency("dep")
	assert.InDelta(t, 0.1*200.0+0.9*100.0, second.AvgLatencyMS, 0.001)
}

func TestSuccessRate(t *testing.T) {
	m := NewRollingMetrics()
	assert.Equal(t, 1.0, m.SuccessRate())

	m.Observe("dep", true, time.Millisecond)
	m.Observe("dep", false, time.Millisecond)
	assert.InDelta(t, 0.5, m.SuccessRate(), 0.001)
}
