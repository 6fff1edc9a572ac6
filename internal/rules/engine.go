// Package rules provides the CEL-Go based indicator engine.
package rules

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/kestrel/internal/domain"
)

var ErrInvalidRule = errors.New("invalid rule")

// Engine is the CEL-based indicator evaluation engine. Rules are compiled
// once and evaluated independently; matches are reported in load order.
type Engine struct {
	mu         sync.RWMutex
	env        *cel.Env
	rules      []*CompiledRule
	maxWorkers int
}

// CompiledRule holds the pre-compiled CEL programs of a rule.
type CompiledRule struct {
	Config      *domain.RuleConfig
	Condition   cel.Program
	Description cel.Program // nil renders the rule name
}

// NewEngine creates a new rule evaluation engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		cel.Variable("identifier", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("category", cel.StringType),
		cel.Variable("merchant", cel.StringType),
		cel.Variable("location", cel.StringType),
		// Prior profile
		cel.Variable("has_history", cel.BoolType),
		cel.Variable("known_merchant", cel.BoolType),
		// Analytics
		cel.Variable("anomaly_score", cel.DoubleType),
		// Last transaction
		cel.Variable("has_last", cel.BoolType),
		cel.Variable("last_location", cel.StringType),
		cel.Variable("last_device_id", cel.StringType),
		cel.Variable("minutes_since_last", cel.IntType),
		cel.Variable("device_id", cel.StringType),
		// Behavioral signals
		cel.Variable("paste_detected", cel.BoolType),
		cel.Variable("backspace_ratio", cel.DoubleType),
		cel.Variable("focus_changes", cel.IntType),
		cel.Function("format_amount",
			cel.Overload("format_amount_double", []*cel.Type{cel.DoubleType}, cel.StringType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					return types.String(strconv.FormatFloat(float64(v.(types.Double)), 'f', -1, 64))
				}),
			),
		),
		cel.Function("format_score",
			cel.Overload("format_score_double", []*cel.Type{cel.DoubleType}, cel.StringType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					return types.String(strconv.FormatFloat(float64(v.(types.Double)), 'f', 2, 64))
				}),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:        env,
		maxWorkers: maxWorkers,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: rule config is required", ErrInvalidRule)
	}
	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles a rule and appends it, replacing a loaded rule with the
// same ID in place.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i, r := range e.rules {
		if r.Config.ID == cfg.ID {
			e.rules[i] = compiled
			return nil
		}
	}
	e.rules = append(e.rules, compiled)
	return nil
}

// LoadRules replaces the loaded rule set with the enabled rules of configs,
// keeping their order. Nothing changes if any rule fails to compile.
func (e *Engine) LoadRules(configs []*domain.RuleConfig) error {
	compiled := make([]*CompiledRule, 0, len(configs))
	seen := make(map[string]struct{}, len(configs))

	for _, cfg := range configs {
		if cfg == nil || !cfg.Enabled {
			continue
		}
		if _, dup := seen[cfg.ID]; dup {
			return fmt.Errorf("%w: duplicate rule id %s", ErrInvalidRule, cfg.ID)
		}
		seen[cfg.ID] = struct{}{}

		c, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		compiled = append(compiled, c)
	}

	e.mu.Lock()
	e.rules = compiled
	e.mu.Unlock()
	return nil
}

// Behavior carries the optional client-side behavioral signals.
type Behavior struct {
	PasteDetected  bool
	BackspaceRatio float64
	FocusChanges   int
}

// Input holds everything the indicator rules can look at.
type Input struct {
	Identifier string
	Amount     float64
	Hour       int
	Category   string
	Merchant   string
	Location   string

	// Profile is the identifier's history before this transaction.
	Profile *domain.UserProfile

	AnomalyScore float64

	// Last is the most recent prior transaction, nil when there is none.
	Last             *domain.Transaction
	MinutesSinceLast int

	DeviceID string
	Behavior Behavior
}

func (in *Input) activation() map[string]any {
	_, known := in.Profile.Merchants()[in.Merchant]

	act := map[string]any{
		"identifier":         in.Identifier,
		"amount":             in.Amount,
		"hour":               int64(in.Hour),
		"category":           in.Category,
		"merchant":           in.Merchant,
		"location":           in.Location,
		"has_history":        in.Profile.HasHistory(),
		"known_merchant":     known,
		"anomaly_score":      in.AnomalyScore,
		"has_last":           in.Last != nil,
		"last_location":      "",
		"last_device_id":     "",
		"minutes_since_last": int64(0),
		"device_id":          in.DeviceID,
		"paste_detected":     in.Behavior.PasteDetected,
		"backspace_ratio":    in.Behavior.BackspaceRatio,
		"focus_changes":      int64(in.Behavior.FocusChanges),
	}
	if in.Last != nil {
		act["last_location"] = in.Last.Location
		act["last_device_id"] = in.Last.FeatureString(domain.FeatureDeviceID)
		act["minutes_since_last"] = int64(in.MinutesSinceLast)
	}
	return act
}

// RuleError records a rule that failed to evaluate.
type RuleError struct {
	RuleID string `json:"rule_id"`
	Error  string `json:"error"`
}

// Result is the outcome of evaluating every loaded rule.
type Result struct {
	Indicators []domain.Indicator
	Score      int
	Errors     []RuleError
	Status     domain.ComponentStatus
}

type outcome struct {
	matched     bool
	description string
	err         error
}

// Evaluate runs every loaded rule against input in parallel. A rule that
// fails contributes nothing and is reported in Result.Errors. Within a
// ladder only the matched rule with the lowest tier is kept.
func (e *Engine) Evaluate(ctx context.Context, input *Input) *Result {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	res := &Result{
		Indicators: []domain.Indicator{},
		Status:     domain.OK(domain.ComponentIndicators),
	}
	if len(rules) == 0 {
		return res
	}

	activation := input.activation()
	outcomes := make([]outcome, len(rules))

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			outcomes[idx] = evaluateRule(ctx, r, activation)
		}(i, rule)
	}
	wg.Wait()

	// Lowest matched tier per ladder
	winners := make(map[string]int)
	for i, r := range rules {
		if !outcomes[i].matched || r.Config.Ladder == "" {
			continue
		}
		if best, ok := winners[r.Config.Ladder]; !ok || r.Config.Tier < best {
			winners[r.Config.Ladder] = r.Config.Tier
		}
	}

	for i, r := range rules {
		o := outcomes[i]
		if o.err != nil {
			res.Errors = append(res.Errors, RuleError{RuleID: r.Config.ID, Error: o.err.Error()})
			continue
		}
		if !o.matched {
			continue
		}
		if r.Config.Ladder != "" && winners[r.Config.Ladder] != r.Config.Tier {
			continue
		}
		res.Indicators = append(res.Indicators, domain.Indicator{
			Name:        r.Config.Name,
			Description: o.description,
			Weight:      r.Config.Weight,
		})
		res.Score += r.Config.Weight
	}

	if len(res.Errors) > 0 {
		res.Status = domain.Degraded(domain.ComponentIndicators,
			fmt.Sprintf("%d rule(s) failed to evaluate", len(res.Errors)))
	}
	return res
}

func evaluateRule(ctx context.Context, rule *CompiledRule, activation map[string]any) outcome {
	if err := ctx.Err(); err != nil {
		return outcome{err: err}
	}

	out, _, err := rule.Condition.ContextEval(ctx, activation)
	if err != nil {
		return outcome{err: fmt.Errorf("condition: %w", err)}
	}
	matched, ok := out.(types.Bool)
	if !ok {
		return outcome{err: fmt.Errorf("condition returned %s", out.Type().TypeName())}
	}
	if !matched {
		return outcome{}
	}

	if rule.Description == nil {
		return outcome{matched: true, description: rule.Config.Name}
	}
	out, _, err = rule.Description.ContextEval(ctx, activation)
	if err != nil {
		return outcome{err: fmt.Errorf("description: %w", err)}
	}
	desc, ok := out.(types.String)
	if !ok {
		return outcome{err: fmt.Errorf("description returned %s", out.Type().TypeName())}
	}
	return outcome{matched: true, description: string(desc)}
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Rules returns the loaded rule configurations in evaluation order.
func (e *Engine) Rules() []*domain.RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	configs := make([]*domain.RuleConfig, 0, len(e.rules))
	for _, compiled := range e.rules {
		configs = append(configs, compiled.Config)
	}
	return configs
}

// Close unloads every rule.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = nil
	return nil
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	if cfg.ID == "" || cfg.Name == "" {
		return nil, fmt.Errorf("%w: id and name are required", ErrInvalidRule)
	}
	if cfg.Weight < 0 {
		return nil, fmt.Errorf("%w: rule %s has negative weight", ErrInvalidRule, cfg.ID)
	}
	if cfg.Ladder != "" && cfg.Tier <= 0 {
		return nil, fmt.Errorf("%w: rule %s needs a positive tier in ladder %s", ErrInvalidRule, cfg.ID, cfg.Ladder)
	}

	condition, err := e.program(cfg.ID, cfg.Condition, cel.BoolType)
	if err != nil {
		return nil, err
	}

	compiled := &CompiledRule{Config: cfg, Condition: condition}
	if cfg.Description != "" {
		compiled.Description, err = e.program(cfg.ID, cfg.Description, cel.StringType)
		if err != nil {
			return nil, err
		}
	}
	return compiled, nil
}

func (e *Engine) program(id, expr string, want *cel.Type) (cel.Program, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: failed to compile rule %s: %v", ErrInvalidRule, id, issues.Err())
	}

	if !ast.OutputType().IsExactType(want) {
		return nil, fmt.Errorf("%w: rule %s: expression must return %s, got %s", ErrInvalidRule, id, want, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", id, err)
	}
	return program, nil
}
