package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Verification is not an action: any caller may check any certificate.
const (
	ActionTranslate = "translate"
	ActionAttest    = "attest"
)

var ErrDenied = errors.New("policy denied")

type Policy struct {
	Rules []Rule `json:"rules"`
}

// Rule admits or refuses a language pair for a set of actions. Empty lists and
// "*" match anything.
type Rule struct {
	ID          string      `json:"id"`
	Effect      string      `json:"effect"`
	Actions     []string    `json:"actions"`
	SourceLangs []string    `json:"source_langs"`
	TargetLangs []string    `json:"target_langs"`
	Conditions  []Condition `json:"conditions"`
}

type Condition struct {
	Key   string `json:"key"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

type Input struct {
	Action     string         `json:"action"`
	SourceLang string         `json:"src_lang"`
	TargetLang string         `json:"tgt_lang"`
	Context    map[string]any `json:"context"`
}

type Decision struct {
	Allow          bool     `json:"allow"`
	MatchedRules   []string `json:"matched_rules"`
	DeniedRules    []string `json:"denied_rules"`
	Reason         string   `json:"reason"`
	DefaultDeny    bool     `json:"default_deny"`
	EvaluatedRules int      `json:"evaluated_rules"`
}

type Engine struct {
	policy Policy
}

func New(p Policy) (*Engine, error) {
	for _, rule := range p.Rules {
		switch strings.ToLower(strings.TrimSpace(rule.Effect)) {
		case "allow", "deny":
		default:
			return nil, errors.Errorf("rule %q: unknown effect %q", rule.ID, rule.Effect)
		}
	}
	return &Engine{policy: p}, nil
}

func Load(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read policy")
	}
	var pol Policy
	if err := json.Unmarshal(data, &pol); err != nil {
		return nil, errors.Wrap(err, "decode policy")
	}
	return New(pol)
}

// Evaluate decides input against the rules. Deny overrides allow; with no
// matching allow the answer is no. A nil engine admits everything.
func (e *Engine) Evaluate(input Input) Decision {
	if e == nil {
		return Decision{Allow: true, Reason: "no policy configured"}
	}
	decision := Decision{DefaultDeny: true}
	for _, rule := range e.policy.Rules {
		decision.EvaluatedRules++
		if !matchAny(rule.Actions, input.Action) ||
			!matchAny(rule.SourceLangs, input.SourceLang) ||
			!matchAny(rule.TargetLangs, input.TargetLang) ||
			!conditionsMatch(rule.Conditions, input) {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(rule.Effect), "deny") {
			decision.DeniedRules = append(decision.DeniedRules, rule.ID)
		} else {
			decision.MatchedRules = append(decision.MatchedRules, rule.ID)
		}
	}

	switch {
	case len(decision.DeniedRules) > 0:
		decision.Reason = "explicit deny"
	case len(decision.MatchedRules) > 0:
		decision.Allow = true
		decision.DefaultDeny = false
		decision.Reason = "allow"
	default:
		decision.Reason = "no matching allow"
	}
	return decision
}

// Check is Evaluate reported as an error wrapping ErrDenied.
func (e *Engine) Check(input Input) error {
	decision := e.Evaluate(input)
	if decision.Allow {
		return nil
	}
	return errors.Wrapf(ErrDenied, "%s %s->%s: %s", input.Action, input.SourceLang, input.TargetLang, decision.Reason)
}

func matchAny(patterns []string, value string) bool {
	if len(patterns) == 0 {
		return true
	}
	return lo.ContainsBy(patterns, func(p string) bool {
		return p == "*" || strings.EqualFold(p, value)
	})
}

func conditionsMatch(conds []Condition, input Input) bool {
	return lo.EveryBy(conds, func(cond Condition) bool {
		if cond.Key == "" {
			return true
		}
		actual, ok := resolveValue(cond.Key, input)
		return ok && compare(actual, cond.Op, cond.Value)
	})
}

func resolveValue(path string, input Input) (any, bool) {
	parts := strings.Split(path, ".")
	if parts[0] != "context" {
		return nil, false
	}
	var current any = input.Context
	for _, part := range parts[1:] {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func compare(actual any, op string, expected any) bool {
	switch strings.ToLower(op) {
	case "eq":
		return toString(actual) == toString(expected)
	case "neq":
		return toString(actual) != toString(expected)
	case "gte":
		av, okA := toFloat(actual)
		ev, okE := toFloat(expected)
		return okA && okE && av >= ev
	case "lte":
		av, okA := toFloat(actual)
		ev, okE := toFloat(expected)
		return okA && okE && av <= ev
	case "in":
		list, ok := expected.([]any)
		return ok && lo.ContainsBy(list, func(item any) bool {
			return toString(item) == toString(actual)
		})
	default:
		return false
	}
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := json.Number(val).Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
