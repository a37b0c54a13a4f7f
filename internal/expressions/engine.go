package expressions

import (
	"context"
	"strings"
)

// Engine evaluates authoring-time expressions: decision-outcome comparison
// conditions and selectors over exported graph JSON.
// Three implementations: Expr (default condition dialect), CEL ("cel:"
// prefix) and GoJQ ("jq:" prefix).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Evaluator dispatches an expression to the engine selected by its prefix
// and strips the prefix before evaluation.
type Evaluator struct {
	expr *ExprEngine
	cel  *CELEngine
	jq   *GoJQEngine
}

// NewEvaluator builds an Evaluator with all three engines ready.
func NewEvaluator() (*Evaluator, error) {
	celEng, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &Evaluator{
		expr: NewExprEngine(),
		cel:  celEng,
		jq:   NewGoJQEngine(),
	}, nil
}

// Evaluate routes the expression to the engine its prefix selects.
func (ev *Evaluator) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	engine, stripped := ev.route(expression)
	return engine.Evaluate(ctx, stripped, data)
}

// Check compiles the expression without evaluating it, reporting syntax
// problems. Used by the semantic validator on outcome conditions.
func (ev *Evaluator) Check(expression string) error {
	engine, stripped := ev.route(expression)
	switch e := engine.(type) {
	case *ExprEngine:
		_, err := e.getOrCompile(stripped, nil)
		return err
	case *CELEngine:
		_, err := e.getOrCompile(stripped)
		return err
	case *GoJQEngine:
		_, err := e.getOrCompile(stripped)
		return err
	}
	return nil
}

func (ev *Evaluator) route(expression string) (Engine, string) {
	switch {
	case strings.HasPrefix(expression, "cel:"):
		return ev.cel, strings.TrimSpace(strings.TrimPrefix(expression, "cel:"))
	case strings.HasPrefix(expression, "jq:"):
		return ev.jq, strings.TrimSpace(strings.TrimPrefix(expression, "jq:"))
	default:
		return ev.expr, expression
	}
}
