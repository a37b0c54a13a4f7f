package validation

import (
	"github.com/dmateu/syncanvas/internal/expressions"
	"github.com/dmateu/syncanvas/pkg/schema"
)

// GraphValidator orchestrates the validation pipeline:
//  1. Structural (JSON Schema over the decoded document)
//  2. Semantic (ids, required fields, reference integrity, conditions)
//  3. Graph (cycles, reachability — warnings only)
type GraphValidator struct {
	docs *DocumentValidator
	ev   *expressions.Evaluator
}

// NewGraphValidator creates a GraphValidator. ev may be nil to skip outcome
// condition compilation checks.
func NewGraphValidator(ev *expressions.Evaluator) (*GraphValidator, error) {
	docs, err := NewDocumentValidator()
	if err != nil {
		return nil, err
	}
	return &GraphValidator{docs: docs, ev: ev}, nil
}

// ValidateDocument runs the structural stage against a decoded document.
func (gv *GraphValidator) ValidateDocument(kind schema.DiagramKind, doc map[string]any) error {
	return gv.docs.ValidateDocument(kind, doc)
}

// ValidateGraph runs the semantic and graph stages and returns an
// aggregated result. Semantic errors do not short-circuit the graph stage;
// both sets of issues are reported together.
func (gv *GraphValidator) ValidateGraph(g *schema.Graph) *schema.ValidationResult {
	if g == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "graph is nil")
		return r
	}

	result := validateSemantic(g, gv.ev)
	result.Merge(validateGraph(g))
	return result
}
