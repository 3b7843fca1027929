package invalidation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/atelierhq/loom/internal/domain"
	"github.com/atelierhq/loom/internal/helpers/glob"
	"github.com/atelierhq/loom/internal/ports"
)

// Manager matches domain triggers against invalidation rules and busts cache
// entries per strategy. Synchronous strategies report affected key counts;
// delayed and scheduled strategies run on their own timers and report as
// deferred.
type Manager struct {
	logger       *slog.Logger
	cache        ports.CachePort
	audit        ports.AuditPort
	dependencies map[string][]string

	mu    sync.RWMutex
	rules map[string]ports.InvalidationRule

	wg     sync.WaitGroup
	closed chan struct{}
	once   sync.Once
}

func New(cache ports.CachePort, audit ports.AuditPort, config domain.InvalidationConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		logger:       logger.With("component", "invalidation-manager"),
		cache:        cache,
		audit:        audit,
		dependencies: config.Dependencies,
		rules:        make(map[string]ports.InvalidationRule),
		closed:       make(chan struct{}),
	}

	if config.DefaultRules {
		for _, rule := range DefaultRules() {
			m.rules[rule.Name] = rule
		}
	}
	return m
}

// DefaultRules covers the common catalog and trend events out of the box.
func DefaultRules() []ports.InvalidationRule {
	return []ports.InvalidationRule{
		{
			Name:     "product-update",
			Strategy: ports.StrategyImmediate,
			Patterns: []string{"products:*"},
		},
		{
			Name:         "catalog-sync",
			Strategy:     ports.StrategyDependency,
			Patterns:     []string{"catalog:*"},
			Dependencies: []string{"product_catalog", "inventory"},
		},
		{
			Name:       "trend-refresh",
			Strategy:   ports.StrategyTTLRefresh,
			Patterns:   []string{"trends:*"},
			RefreshTTL: time.Hour,
		},
	}
}

func (m *Manager) AddRule(rule ports.InvalidationRule) error {
	if rule.Name == "" {
		return fmt.Errorf("invalidation rule needs a name")
	}

	switch rule.Strategy {
	case ports.StrategyImmediate, ports.StrategyPattern:
		if len(rule.Patterns) == 0 {
			return fmt.Errorf("rule %s: %s strategy needs patterns", rule.Name, rule.Strategy)
		}
	case ports.StrategyDelayed:
		if len(rule.Patterns) == 0 {
			return fmt.Errorf("rule %s: delayed strategy needs patterns", rule.Name)
		}
		if rule.Delay <= 0 {
			return fmt.Errorf("rule %s: delayed strategy needs a positive delay", rule.Name)
		}
	case ports.StrategyScheduled:
		if len(rule.Patterns) == 0 {
			return fmt.Errorf("rule %s: scheduled strategy needs patterns", rule.Name)
		}
		if rule.ScheduleAt.IsZero() {
			return fmt.Errorf("rule %s: scheduled strategy needs a schedule time", rule.Name)
		}
	case ports.StrategyDependency:
		if len(rule.Dependencies) == 0 {
			return fmt.Errorf("rule %s: dependency strategy needs dependencies", rule.Name)
		}
	case ports.StrategyTTLRefresh:
		if len(rule.Patterns) == 0 {
			return fmt.Errorf("rule %s: ttl_refresh strategy needs patterns", rule.Name)
		}
		if rule.RefreshTTL <= 0 {
			return fmt.Errorf("rule %s: ttl_refresh strategy needs a positive ttl", rule.Name)
		}
	default:
		return fmt.Errorf("rule %s: unknown strategy %q", rule.Name, rule.Strategy)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[rule.Name] = rule
	return nil
}

func (m *Manager) RemoveRule(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rules, name)
}

func (m *Manager) Rules() []ports.InvalidationRule {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ports.InvalidationRule, 0, len(m.rules))
	for _, rule := range m.rules {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invalidate runs every rule matching the trigger. Rules are isolated: a
// failing rule is reported in its outcome and the remaining rules still run.
func (m *Manager) Invalidate(ctx context.Context, trigger string, _ map[string]any) ports.InvalidationReport {
	start := time.Now()

	m.mu.RLock()
	var matched []ports.InvalidationRule
	for _, rule := range m.rules {
		if m.matches(rule, trigger) {
			matched = append(matched, rule)
		}
	}
	m.mu.RUnlock()
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })

	report := ports.InvalidationReport{
		Trigger:      trigger,
		RulesMatched: len(matched),
	}
	for _, rule := range matched {
		report.Outcomes = append(report.Outcomes, m.apply(ctx, rule, trigger))
	}
	report.Elapsed = time.Since(start)

	m.appendAudit(trigger, report)
	return report
}

// matches fires when the trigger glob-matches a rule pattern, or, for the
// dependency strategy, names one of the rule's entities directly.
func (m *Manager) matches(rule ports.InvalidationRule, trigger string) bool {
	for _, pattern := range rule.Patterns {
		if glob.Match(pattern, trigger) {
			return true
		}
	}
	if rule.Strategy == ports.StrategyDependency {
		for _, entity := range rule.Dependencies {
			if entity == trigger {
				return true
			}
		}
	}
	return false
}

func (m *Manager) apply(ctx context.Context, rule ports.InvalidationRule, trigger string) ports.RuleOutcome {
	outcome := ports.RuleOutcome{Rule: rule.Name, Strategy: rule.Strategy}

	switch rule.Strategy {
	case ports.StrategyImmediate, ports.StrategyPattern:
		affected, err := m.deletePatterns(ctx, rule.Patterns)
		outcome.KeysAffected = affected
		if err != nil {
			outcome.Error = err.Error()
		}

	case ports.StrategyDelayed:
		outcome.Deferred = true
		m.scheduleDeferred(rule, rule.Delay)

	case ports.StrategyScheduled:
		wait := time.Until(rule.ScheduleAt)
		if wait <= 0 {
			affected, err := m.deletePatterns(ctx, rule.Patterns)
			outcome.KeysAffected = affected
			if err != nil {
				outcome.Error = err.Error()
			}
			break
		}
		outcome.Deferred = true
		m.scheduleDeferred(rule, wait)

	case ports.StrategyDependency:
		seen := make(map[string]bool)
		for _, entity := range rule.Dependencies {
			for _, namespace := range m.dependencies[entity] {
				if seen[namespace] {
					continue
				}
				seen[namespace] = true
				affected, err := m.cache.DeleteMatching(ctx, namespace)
				outcome.KeysAffected += affected
				if err != nil && outcome.Error == "" {
					outcome.Error = err.Error()
				}
			}
		}

	case ports.StrategyTTLRefresh:
		for _, pattern := range rule.Patterns {
			affected, err := m.cache.ExtendMatching(ctx, pattern, rule.RefreshTTL)
			outcome.KeysAffected += affected
			if err != nil && outcome.Error == "" {
				outcome.Error = err.Error()
			}
		}
	}

	if outcome.Error != "" {
		m.logger.Error("invalidation rule failed",
			"rule", rule.Name, "trigger", trigger, "error", outcome.Error)
	}
	return outcome
}

func (m *Manager) deletePatterns(ctx context.Context, patterns []string) (int, error) {
	total := 0
	var firstErr error
	for _, pattern := range patterns {
		affected, err := m.cache.DeleteMatching(ctx, pattern)
		total += affected
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return total, firstErr
}

// scheduleDeferred schedules a deletion on its own timer. Close cancels pending timers.
func (m *Manager) scheduleDeferred(rule ports.InvalidationRule, wait time.Duration) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-m.closed:
			return
		}

		affected, err := m.deletePatterns(context.Background(), rule.Patterns)
		if err != nil {
			m.logger.Error("deferred invalidation failed", "rule", rule.Name, "error", err.Error())
			return
		}
		m.logger.Info("deferred invalidation ran", "rule", rule.Name, "keys_affected", affected)
	}()
}

func (m *Manager) appendAudit(trigger string, report ports.InvalidationReport) {
	if m.audit == nil {
		return
	}
	record := domain.NewAuditRecord(domain.EventInvalidationRun, "", map[string]any{
		"trigger":       trigger,
		"rules_matched": report.RulesMatched,
		"elapsed_ms":    float64(report.Elapsed.Microseconds()) / 1000.0,
	})
	if err := m.audit.Append(context.Background(), record); err != nil {
		m.logger.Error("audit append failed", "trigger", trigger, "error", err.Error())
	}
}

func (m *Manager) Close() error {
	m.once.Do(func() { close(m.closed) })
	m.wg.Wait()
	return nil
}
