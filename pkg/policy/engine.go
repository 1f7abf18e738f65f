package policy

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/openfroyo/deployer/pkg/config"
)

// Engine evaluates Rego preflight policies against environment configs.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates an engine holding the built-in policies.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}
	return e, nil
}

// NewContext builds the evaluation context for cfg, checking which key
// files are readable and whether the Hetzner token is exported.
func NewContext(operation string, cfg *config.EnvironmentConfig) Context {
	_, tokenSet := os.LookupEnv("HCLOUD_TOKEN")
	files := make(map[string]bool, 2)
	for _, p := range []string{cfg.SSHCredentials.PrivateKeyPath, cfg.SSHCredentials.PublicKeyPath} {
		if p == "" {
			continue
		}
		f, err := os.Open(p)
		files[p] = err == nil
		if err == nil {
			_ = f.Close()
		}
	}
	return Context{
		Operation:       operation,
		Timestamp:       time.Now().UTC(),
		HetznerTokenSet: tokenSet,
		Files:           files,
	}
}

// Evaluate runs every enabled policy against cfg. A policy that fails to
// evaluate is logged and listed in Result.Failures; it does not block.
func (e *Engine) Evaluate(ctx context.Context, cfg *config.EnvironmentConfig, pc Context) (*Result, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	start := time.Now()

	e.mu.RLock()
	defer e.mu.RUnlock()

	input := &Input{Config: cfg, Context: pc}
	result := &Result{Allowed: true}

	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).Str("policy", name).Msg("Policy evaluation failed")
			result.Failures = append(result.Failures, fmt.Sprintf("policy %s evaluation failed: %v", name, err))
			continue
		}

		for _, v := range violations {
			if v.Severity.Blocking() {
				result.Allowed = false
				result.Violations = append(result.Violations, v)
			} else {
				result.Warnings = append(result.Warnings, v)
			}
		}
	}

	result.EvaluatedAt = time.Now()
	result.Duration = time.Since(start)

	e.logger.Debug().
		Str("environment", cfg.Environment.Name).
		Str("operation", pc.Operation).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Policy evaluation completed")

	return result, nil
}

// Check evaluates cfg for operation and returns a *DeniedError when any
// blocking violation is found. Warnings are logged.
func (e *Engine) Check(ctx context.Context, operation string, cfg *config.EnvironmentConfig) (*Result, error) {
	result, err := e.Evaluate(ctx, cfg, NewContext(operation, cfg))
	if err != nil {
		return nil, err
	}
	for _, w := range result.Warnings {
		e.logger.Warn().Str("policy", w.Policy).Str("field", w.Field).Msg(w.Message)
	}
	return result, result.Err()
}

// LoadPolicies loads .rego and .json policy files and adds them to the
// engine. A policy with the name of an existing one replaces it.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Debug().Int("count", len(policies)).Msg("Policies loaded")
	return nil
}

func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	rs, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, r := range rs {
		for _, expr := range r.Expressions {
			set, ok := expr.Value.([]any)
			if !ok {
				continue
			}
			for _, d := range set {
				violations = append(violations, newViolation(cp.policy, d))
			}
		}
	}
	return violations, nil
}

func newViolation(p *Policy, result any) Violation {
	v := Violation{Policy: p.Name, Severity: p.Severity}

	switch r := result.(type) {
	case string:
		v.Message = r
	case map[string]any:
		if msg, ok := r["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := r["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
		if field, ok := r["field"].(string); ok {
			v.Field = field
		}
		if fix, ok := r["remediation"].(string); ok {
			v.Remediation = fix
		}
	default:
		v.Message = fmt.Sprintf("%v", result)
	}
	return v
}

// compileAndStorePolicy prepares the policy's deny query. Caller holds mu.
func (e *Engine) compileAndStorePolicy(ctx context.Context, p *Policy) error {
	module, err := ast.ParseModule(p.Name+".rego", p.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	query, err := rego.New(
		rego.ParsedModule(module),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[p.Name] = &compiledPolicy{policy: p, query: query, compiled: time.Now()}
	e.logger.Debug().Str("policy", p.Name).Msg("Policy compiled")
	return nil
}

func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	builtins := BuiltinPolicies()
	for i := range builtins {
		if err := e.compileAndStorePolicy(ctx, &builtins[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}
	return nil
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// ListPolicies returns all policies ordered by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}
	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	e.logger.Debug().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}
