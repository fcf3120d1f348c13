package triage

import (
	"fmt"
	"regexp"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/sentinelwatch/sentinel/internal/config"
	"github.com/sentinelwatch/sentinel/internal/domain"
)

// Guardrail actions.
const (
	GuardrailDeny   = "deny"
	GuardrailReview = "review"
)

type compiledGuardrail struct {
	name    string
	action  string
	pattern *regexp.Regexp
	program *vm.Program
}

// Guardrails is the content policy gate run before anything publishes.
type Guardrails struct {
	rules []compiledGuardrail
}

// GuardrailResult reports an intervention. Deny rules win over review rules
// regardless of configuration order.
type GuardrailResult struct {
	Intervened bool
	Action     string
	Matched    string
}

// NewGuardrails compiles the configured guardrail rules. A rule needs a
// pattern, a when expression, or both; when both are set both must match for
// the rule to intervene.
func NewGuardrails(cfg []config.GuardrailRule) (*Guardrails, error) {
	rules := make([]compiledGuardrail, 0, len(cfg))
	for _, g := range cfg {
		if g.Pattern == "" && g.When == "" {
			return nil, fmt.Errorf("guardrail %q: needs a pattern or a when expression", g.Name)
		}
		cg := compiledGuardrail{name: g.Name, action: g.Action}
		if g.Pattern != "" {
			re, err := regexp.Compile(g.Pattern)
			if err != nil {
				return nil, fmt.Errorf("guardrail %q: %w", g.Name, err)
			}
			cg.pattern = re
		}
		if g.When != "" {
			program, err := expr.Compile(g.When, expr.AsBool())
			if err != nil {
				return nil, fmt.Errorf("guardrail %q: %w", g.Name, err)
			}
			cg.program = program
		}
		rules = append(rules, cg)
	}
	return &Guardrails{rules: rules}, nil
}

// Check runs the article through every guardrail. The first matching deny
// rule decides, otherwise the first matching review rule escalates.
func (g *Guardrails) Check(a *domain.Article, feed *domain.Feed) (GuardrailResult, error) {
	env := Environment(a, feed)
	text, _ := env["text"].(string)

	var review *compiledGuardrail
	for i := range g.rules {
		rule := &g.rules[i]
		matched, err := rule.matches(text, env)
		if err != nil {
			return GuardrailResult{}, fmt.Errorf("guardrail %q: %w", rule.name, err)
		}
		if !matched {
			continue
		}
		if rule.action == GuardrailDeny {
			return GuardrailResult{Intervened: true, Action: GuardrailDeny, Matched: rule.name}, nil
		}
		if review == nil {
			review = rule
		}
	}
	if review != nil {
		return GuardrailResult{Intervened: true, Action: GuardrailReview, Matched: review.name}, nil
	}
	return GuardrailResult{}, nil
}

func (cg *compiledGuardrail) matches(text string, env map[string]any) (bool, error) {
	if cg.pattern != nil && !cg.pattern.MatchString(text) {
		return false, nil
	}
	if cg.program != nil {
		out, err := expr.Run(cg.program, env)
		if err != nil {
			return false, err
		}
		return out.(bool), nil // safe due to expr.AsBool()
	}
	return true, nil
}
