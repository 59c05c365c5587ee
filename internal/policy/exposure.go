// Package policy decides, through OPA, which Home Assistant entities may be
// shown to the model.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/af-corp/hass-agent/internal/config"
	"github.com/af-corp/hass-agent/internal/hass"
	"github.com/open-policy-agent/opa/rego"
)

// Query evaluated against every entity. Policies must define both rules,
// typically with defaults.
const Query = "[data.agent.exposure.allow, data.agent.exposure.reason]"

// ExposureInput is the data sent to OPA for one entity.
type ExposureInput struct {
	EntityID     string `json:"entity_id"`
	Domain       string `json:"domain"`
	State        string `json:"state"`
	FriendlyName string `json:"friendly_name"`
}

// Evaluator implements hass.Exposer using OPA.
type Evaluator struct {
	mu       sync.RWMutex
	prepared *rego.PreparedEvalQuery
	cfg      func() config.ExposureConfig
	logger   *slog.Logger
}

// NewEvaluator creates an exposure evaluator. Call Load() to compile policies.
func NewEvaluator(cfg func() config.ExposureConfig, logger *slog.Logger) *Evaluator {
	return &Evaluator{cfg: cfg, logger: logger}
}

func (e *Evaluator) Enabled() bool { return e.cfg().Enabled }

// Load compiles Rego modules from the bundle path. It is a no-op while the
// policy is disabled.
func (e *Evaluator) Load() error {
	cfg := e.cfg()
	if !cfg.Enabled {
		return nil
	}
	modules, err := readModules(cfg.BundlePath)
	if err != nil {
		return fmt.Errorf("load exposure policy: %w", err)
	}
	if len(modules) == 0 {
		e.logger.Warn("no rego files found", "path", cfg.BundlePath)
	}
	if err := e.LoadFromModules(modules); err != nil {
		return err
	}
	e.logger.Info("exposure policies loaded", "modules", len(modules))
	return nil
}

// LoadFromModules compiles policies from provided module sources.
func (e *Evaluator) LoadFromModules(modules map[string]string) error {
	opts := []func(*rego.Rego){rego.Query(Query)}
	for name, src := range modules {
		opts = append(opts, rego.Module(name, src))
	}

	prepared, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("prepare rego: %w", err)
	}

	e.mu.Lock()
	e.prepared = &prepared
	e.mu.Unlock()
	return nil
}

// Evaluate runs the policy against the given input.
func (e *Evaluator) Evaluate(ctx context.Context, input ExposureInput) (bool, string, error) {
	e.mu.RLock()
	prepared := e.prepared
	e.mu.RUnlock()

	if prepared == nil {
		return false, "no policies loaded", nil
	}

	timeout := e.cfg().EvaluationTimeout
	if timeout == 0 {
		timeout = 100 * time.Millisecond
	}

	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results, err := prepared.Eval(evalCtx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Sprintf("policy evaluation error: %v", err), err
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, "no policy result", nil
	}

	arr, ok := results[0].Expressions[0].Value.([]interface{})
	if !ok || len(arr) < 2 {
		return false, "unexpected policy result format", nil
	}

	allowed, _ := arr[0].(bool)
	reason, _ := arr[1].(string)

	return allowed, reason, nil
}

// Exposed implements hass.Exposer. Everything is exposed while the policy is
// disabled; evaluation errors hide the entity.
func (e *Evaluator) Exposed(ctx context.Context, st hass.State) bool {
	if !e.Enabled() {
		return true
	}

	allowed, reason, err := e.Evaluate(ctx, ExposureInput{
		EntityID:     st.EntityID,
		Domain:       st.Domain(),
		State:        st.State,
		FriendlyName: st.FriendlyName(),
	})
	if err != nil {
		e.logger.Error("exposure policy evaluation failed", "entity_id", st.EntityID, "error", err)
		return false
	}
	if !allowed {
		e.logger.Debug("entity hidden by policy", "entity_id", st.EntityID, "reason", reason)
	}
	return allowed
}
