package invalidation

import (
	"context"
	"testing"
	"time"

	"github.com/atelierhq/loom/internal/adapters/audit"
	"github.com/atelierhq/loom/internal/adapters/cache"
	"github.com/atelierhq/loom/internal/domain"
	"github.com/atelierhq/loom/internal/ports"
)

func newTestManager(t *testing.T) (*Manager, *cache.Store) {
	t.Helper()

	store, err := cache.NewStore(cache.Options{InMemory: true}, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	m := New(store, audit.NewMemorySink(), domain.InvalidationConfig{
		Dependencies: map[string][]string{
			"inventory": {"inventory:*", "products:*"},
		},
	}, nil)
	t.Cleanup(func() { m.Close() })
	return m, store
}

func seed(t *testing.T, store *cache.Store, keys ...string) {
	t.Helper()
	for _, key := range keys {
		if err := store.Set(context.Background(), key, []byte("v"), time.Minute); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}
}

func TestAddRuleValidation(t *testing.T) {
	m, _ := newTestManager(t)

	cases := []struct {
		name string
		rule ports.InvalidationRule
	}{
		{"missing name", ports.InvalidationRule{Strategy: ports.StrategyImmediate, Patterns: []string{"x:*"}}},
		{"immediate without patterns", ports.InvalidationRule{Name: "r", Strategy: ports.StrategyImmediate}},
		{"delayed without delay", ports.InvalidationRule{Name: "r", Strategy: ports.StrategyDelayed, Patterns: []string{"x:*"}}},
		{"scheduled without time", ports.InvalidationRule{Name: "r", Strategy: ports.StrategyScheduled, Patterns: []string{"x:*"}}},
		{"dependency without entities", ports.InvalidationRule{Name: "r", Strategy: ports.StrategyDependency}},
		{"ttl_refresh without ttl", ports.InvalidationRule{Name: "r", Strategy: ports.StrategyTTLRefresh, Patterns: []string{"x:*"}}},
		{"unknown strategy", ports.InvalidationRule{Name: "r", Strategy: "bogus", Patterns: []string{"x:*"}}},
	}
	for _, tc := range cases {
		if err := m.AddRule(tc.rule); err == nil {
			t.Errorf("%s: expected an error", tc.name)
		}
	}
}

func TestImmediateDeletesAndRepeatAffectsZero(t *testing.T) {
	m, store := newTestManager(t)
	seed(t, store, "products:1", "products:2", "users:1")

	if err := m.AddRule(ports.InvalidationRule{
		Name:     "bust-products",
		Strategy: ports.StrategyImmediate,
		Patterns: []string{"products:*"},
	}); err != nil {
		t.Fatalf("add rule: %v", err)
	}

	report := m.Invalidate(context.Background(), "products:1", nil)
	if report.RulesMatched != 1 {
		t.Fatalf("expected 1 rule matched, got %d", report.RulesMatched)
	}
	if report.Outcomes[0].KeysAffected != 2 {
		t.Errorf("expected 2 keys deleted, got %d", report.Outcomes[0].KeysAffected)
	}

	repeat := m.Invalidate(context.Background(), "products:1", nil)
	if repeat.Outcomes[0].KeysAffected != 0 {
		t.Errorf("repeat invalidation should affect 0 keys, got %d", repeat.Outcomes[0].KeysAffected)
	}

	if _, found, _ := store.Get(context.Background(), "users:1"); !found {
		t.Error("unrelated key must survive")
	}
}

func TestUnmatchedTriggerMatchesNothing(t *testing.T) {
	m, _ := newTestManager(t)

	if err := m.AddRule(ports.InvalidationRule{
		Name:     "narrow",
		Strategy: ports.StrategyImmediate,
		Patterns: []string{"orders:*"},
	}); err != nil {
		t.Fatalf("add rule: %v", err)
	}

	report := m.Invalidate(context.Background(), "users:7", nil)
	if report.RulesMatched != 0 || len(report.Outcomes) != 0 {
		t.Errorf("expected no matches, got %+v", report)
	}
}

func TestDelayedDefersDeletion(t *testing.T) {
	m, store := newTestManager(t)
	seed(t, store, "sessions:1")

	if err := m.AddRule(ports.InvalidationRule{
		Name:     "lazy",
		Strategy: ports.StrategyDelayed,
		Patterns: []string{"sessions:*"},
		Delay:    20 * time.Millisecond,
	}); err != nil {
		t.Fatalf("add rule: %v", err)
	}

	report := m.Invalidate(context.Background(), "sessions:1", nil)
	if !report.Outcomes[0].Deferred {
		t.Fatal("delayed outcome should be deferred")
	}
	if _, found, _ := store.Get(context.Background(), "sessions:1"); !found {
		t.Fatal("key must still exist before the delay elapses")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, found, _ := store.Get(context.Background(), "sessions:1"); !found {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("key was not deleted after the delay")
}

func TestScheduledInPastRunsImmediately(t *testing.T) {
	m, store := newTestManager(t)
	seed(t, store, "reports:daily")

	if err := m.AddRule(ports.InvalidationRule{
		Name:       "nightly",
		Strategy:   ports.StrategyScheduled,
		Patterns:   []string{"reports:*"},
		ScheduleAt: time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("add rule: %v", err)
	}

	report := m.Invalidate(context.Background(), "reports:daily", nil)
	if report.Outcomes[0].Deferred {
		t.Error("past schedule should run synchronously")
	}
	if report.Outcomes[0].KeysAffected != 1 {
		t.Errorf("expected 1 key deleted, got %d", report.Outcomes[0].KeysAffected)
	}
}

func TestDependencyStrategyFollowsEntityMap(t *testing.T) {
	m, store := newTestManager(t)
	seed(t, store, "inventory:sku1", "products:1", "orders:1")

	if err := m.AddRule(ports.InvalidationRule{
		Name:         "stock-change",
		Strategy:     ports.StrategyDependency,
		Dependencies: []string{"inventory"},
	}); err != nil {
		t.Fatalf("add rule: %v", err)
	}

	report := m.Invalidate(context.Background(), "inventory", nil)
	if report.RulesMatched != 1 {
		t.Fatalf("expected entity name to match, got %d rules", report.RulesMatched)
	}
	if report.Outcomes[0].KeysAffected != 2 {
		t.Errorf("expected 2 keys across namespaces, got %d", report.Outcomes[0].KeysAffected)
	}
	if _, found, _ := store.Get(context.Background(), "orders:1"); !found {
		t.Error("unrelated namespace must survive")
	}
}

func TestTTLRefreshExtendsEntries(t *testing.T) {
	m, store := newTestManager(t)

	if err := store.Set(context.Background(), "trends:summer", []byte("v"), 50*time.Millisecond); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := m.AddRule(ports.InvalidationRule{
		Name:       "keep-warm",
		Strategy:   ports.StrategyTTLRefresh,
		Patterns:   []string{"trends:*"},
		RefreshTTL: time.Minute,
	}); err != nil {
		t.Fatalf("add rule: %v", err)
	}

	report := m.Invalidate(context.Background(), "trends:summer", nil)
	if report.Outcomes[0].KeysAffected != 1 {
		t.Fatalf("expected 1 key refreshed, got %d", report.Outcomes[0].KeysAffected)
	}

	time.Sleep(100 * time.Millisecond)
	if _, found, _ := store.Get(context.Background(), "trends:summer"); !found {
		t.Error("refreshed entry should outlive its original ttl")
	}
}

func TestRemoveRule(t *testing.T) {
	m, _ := newTestManager(t)

	if err := m.AddRule(ports.InvalidationRule{
		Name:     "temp",
		Strategy: ports.StrategyImmediate,
		Patterns: []string{"x:*"},
	}); err != nil {
		t.Fatalf("add rule: %v", err)
	}
	m.RemoveRule("temp")

	if len(m.Rules()) != 0 {
		t.Errorf("expected no rules after removal, got %d", len(m.Rules()))
	}
}
