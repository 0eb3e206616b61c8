// Package monitor drives the observe, analyze, escalate loop on top of
// a conversation session.
package monitor

import (
	"fmt"
	"os"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"sigs.k8s.io/yaml"
)

// RuleEnv is the variable set escalation conditions are evaluated
// against, one instance per cycle.
type RuleEnv struct {
	Reply           string `expr:"reply"`
	Report          string `expr:"report"`
	Cycle           int    `expr:"cycle"`
	Critical        bool   `expr:"critical"`
	EstimatedTokens int    `expr:"estimated_tokens"`
	ContextPercent  int    `expr:"context_percent"`
}

// RuleSpec is one escalation rule as written in the rules file.
type RuleSpec struct {
	Name      string `json:"name"`
	Condition string `json:"condition"`
	// Summary overrides the reply excerpt in notifications.
	Summary string `json:"summary,omitempty"`
}

// RuleFile is the on-disk shape of the rules file.
type RuleFile struct {
	Rules []RuleSpec `json:"rules"`
}

// Rule is a compiled escalation rule.
type Rule struct {
	Name    string
	Source  string
	Summary string
	program *vm.Program
}

// CompileRule validates and compiles a rule's condition. Conditions
// must evaluate to a boolean over RuleEnv.
func CompileRule(spec RuleSpec) (*Rule, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("rule: name is required")
	}
	if spec.Condition == "" {
		return nil, fmt.Errorf("rule %s: condition is required", spec.Name)
	}

	program, err := expr.Compile(spec.Condition, expr.Env(RuleEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("rule %s: compile %q: %w", spec.Name, spec.Condition, err)
	}

	return &Rule{
		Name:    spec.Name,
		Source:  spec.Condition,
		Summary: spec.Summary,
		program: program,
	}, nil
}

// Eval evaluates the rule against one cycle's environment.
func (r *Rule) Eval(env RuleEnv) (bool, error) {
	result, err := expr.Run(r.program, env)
	if err != nil {
		return false, fmt.Errorf("rule %s: eval %q: %w", r.Name, r.Source, err)
	}
	fired, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("rule %s: %q returned %T, expected bool", r.Name, r.Source, result)
	}
	return fired, nil
}

// LoadRules reads and compiles the rules file at path.
func LoadRules(path string) ([]*Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules: %w", err)
	}
	return ParseRules(data)
}

// ParseRules parses and compiles rules from YAML bytes.
func ParseRules(data []byte) ([]*Rule, error) {
	var file RuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing rules: %w", err)
	}

	seen := make(map[string]bool, len(file.Rules))
	rules := make([]*Rule, 0, len(file.Rules))
	for _, spec := range file.Rules {
		rule, err := CompileRule(spec)
		if err != nil {
			return nil, err
		}
		if seen[rule.Name] {
			return nil, fmt.Errorf("rule %s: duplicate name", rule.Name)
		}
		seen[rule.Name] = true
		rules = append(rules, rule)
	}
	return rules, nil
}

// DefaultRules returns the built-in rule set used when no rules file
// is configured: escalate whenever the model flags the reply critical.
func DefaultRules() []*Rule {
	rule, err := CompileRule(RuleSpec{
		Name:      "critical-reply",
		Condition: "critical",
	})
	if err != nil {
		panic(fmt.Sprintf("built-in rule does not compile: %v", err))
	}
	return []*Rule{rule}
}
