package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/expr-lang/expr"

	"github.com/atelierhq/loom/internal/domain"
	"github.com/atelierhq/loom/internal/ports"
)

// noRollback is embedded by handlers whose work needs no compensation.
type noRollback struct{}

func (noRollback) Rollback(ctx context.Context, step domain.WorkflowStep, execCtx map[string]any) error {
	return nil
}

// HTTPCallAction performs an outbound call through the gateway. Config keys:
// dependency, endpoint, method, headers, params, body, skip_cache. A step's
// rollback_config with its own endpoint issues a compensating call.
type HTTPCallAction struct {
	gateway ports.Gateway
}

func NewHTTPCallAction(gateway ports.Gateway) *HTTPCallAction {
	return &HTTPCallAction{gateway: gateway}
}

func (a *HTTPCallAction) Execute(ctx context.Context, step domain.WorkflowStep, execCtx map[string]any) (map[string]any, error) {
	req, err := callRequestFromConfig(step.Config)
	if err != nil {
		return nil, err
	}

	result := a.gateway.Execute(ctx, req)
	if !result.Success {
		return nil, fmt.Errorf("%s: %s", result.ErrorKind, result.Error)
	}

	return map[string]any{
		"data":           result.Data,
		"from_cache":     result.FromCache,
		"correlation_id": result.CorrelationID,
		"latency_ms":     float64(result.Latency.Microseconds()) / 1000.0,
	}, nil
}

func (a *HTTPCallAction) Rollback(ctx context.Context, step domain.WorkflowStep, execCtx map[string]any) error {
	if len(step.RollbackConfig) == 0 {
		return nil
	}
	req, err := callRequestFromConfig(step.RollbackConfig)
	if err != nil {
		return err
	}
	req.SkipCache = true

	result := a.gateway.Execute(ctx, req)
	if !result.Success {
		return fmt.Errorf("%s: %s", result.ErrorKind, result.Error)
	}
	return nil
}

func callRequestFromConfig(config map[string]any) (ports.CallRequest, error) {
	endpoint, _ := config["endpoint"].(string)
	if endpoint == "" {
		return ports.CallRequest{}, fmt.Errorf("http_call config requires an endpoint")
	}

	req := ports.CallRequest{
		Endpoint: endpoint,
		Body:     config["body"],
	}
	req.Dependency, _ = config["dependency"].(string)
	if req.Dependency == "" {
		req.Dependency = "default"
	}
	req.Method, _ = config["method"].(string)
	if skip, ok := config["skip_cache"].(bool); ok {
		req.SkipCache = skip
	}
	req.Headers = stringMap(config["headers"])
	req.Params = stringMap(config["params"])
	return req, nil
}

func stringMap(v any) map[string]string {
	raw, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, inner := range raw {
		if s, ok := inner.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprintf("%v", inner)
		}
	}
	return out
}

// ConditionAction evaluates a boolean expression over the execution context
// and returns it under "result". Config key: expression.
type ConditionAction struct {
	noRollback
}

func NewConditionAction() *ConditionAction {
	return &ConditionAction{}
}

func (a *ConditionAction) Execute(ctx context.Context, step domain.WorkflowStep, execCtx map[string]any) (map[string]any, error) {
	expression, _ := step.Config["expression"].(string)
	if expression == "" {
		return nil, fmt.Errorf("condition config requires an expression")
	}
	result, err := evalCondition(expression, execCtx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": result}, nil
}

// TransformAction evaluates an expression over the execution context and
// returns its value under "output". Config key: expression.
type TransformAction struct {
	noRollback
}

func NewTransformAction() *TransformAction {
	return &TransformAction{}
}

func (a *TransformAction) Execute(ctx context.Context, step domain.WorkflowStep, execCtx map[string]any) (map[string]any, error) {
	expression, _ := step.Config["expression"].(string)
	if expression == "" {
		return nil, fmt.Errorf("transform config requires an expression")
	}

	program, err := expr.Compile(expression, expr.Env(execCtx))
	if err != nil {
		return nil, err
	}
	out, err := expr.Run(program, execCtx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"output": out}, nil
}

// DelayAction pauses the execution path. Config key: duration, either a
// duration string ("500ms") or a number of seconds.
type DelayAction struct {
	noRollback
}

func NewDelayAction() *DelayAction {
	return &DelayAction{}
}

func (a *DelayAction) Execute(ctx context.Context, step domain.WorkflowStep, execCtx map[string]any) (map[string]any, error) {
	d, err := parseDelay(step.Config["duration"])
	if err != nil {
		return nil, err
	}

	select {
	case <-time.After(d):
		return map[string]any{"waited": d.String()}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func parseDelay(v any) (time.Duration, error) {
	switch val := v.(type) {
	case string:
		return time.ParseDuration(val)
	case float64:
		return time.Duration(val * float64(time.Second)), nil
	case int:
		return time.Duration(val) * time.Second, nil
	default:
		return 0, fmt.Errorf("delay config requires a duration, got %T", v)
	}
}

// NotifyAction emits a notification audit record. Config keys: channel,
// message.
type NotifyAction struct {
	noRollback
	audit  ports.AuditPort
	logger *slog.Logger
}

func NewNotifyAction(audit ports.AuditPort, logger *slog.Logger) *NotifyAction {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotifyAction{audit: audit, logger: logger.With("component", "notify-action")}
}

func (a *NotifyAction) Execute(ctx context.Context, step domain.WorkflowStep, execCtx map[string]any) (map[string]any, error) {
	channel, _ := step.Config["channel"].(string)
	message, _ := step.Config["message"].(string)
	if channel == "" {
		channel = "default"
	}

	a.logger.Info("notification", "channel", channel, "message", message)
	if a.audit != nil {
		record := domain.NewAuditRecord(domain.EventNotification, "", map[string]any{
			"channel": channel,
			"message": message,
		})
		if err := a.audit.Append(ctx, record); err != nil {
			return nil, err
		}
	}
	return map[string]any{"channel": channel, "delivered": true}, nil
}

// CacheInvalidateAction fires the invalidation manager with a trigger key.
// Config key: trigger.
type CacheInvalidateAction struct {
	noRollback
	manager ports.InvalidationManager
}

func NewCacheInvalidateAction(manager ports.InvalidationManager) *CacheInvalidateAction {
	return &CacheInvalidateAction{manager: manager}
}

func (a *CacheInvalidateAction) Execute(ctx context.Context, step domain.WorkflowStep, execCtx map[string]any) (map[string]any, error) {
	trigger, _ := step.Config["trigger"].(string)
	if trigger == "" {
		return nil, fmt.Errorf("cache_invalidate config requires a trigger")
	}

	report := a.manager.Invalidate(ctx, trigger, execCtx)
	affected := 0
	for _, outcome := range report.Outcomes {
		affected += outcome.KeysAffected
	}
	return map[string]any{
		"trigger":       trigger,
		"rules_matched": report.RulesMatched,
		"keys_affected": affected,
	}, nil
}

// RegisterBuiltins wires the standard action set into an engine. The
// cache_invalidate action is only registered when a manager is provided.
func RegisterBuiltins(e *Engine, gateway ports.Gateway, audit ports.AuditPort, manager ports.InvalidationManager, logger *slog.Logger) {
	e.RegisterHandler("http_call", NewHTTPCallAction(gateway))
	e.RegisterHandler("condition", NewConditionAction())
	e.RegisterHandler("transform", NewTransformAction())
	e.RegisterHandler("delay", NewDelayAction())
	e.RegisterHandler("notify", NewNotifyAction(audit, logger))
	if manager != nil {
		e.RegisterHandler("cache_invalidate", NewCacheInvalidateAction(manager))
	}
}
