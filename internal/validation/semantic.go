package validation

import (
	"fmt"

	"github.com/dmateu/syncanvas/internal/expressions"
	"github.com/dmateu/syncanvas/pkg/schema"
)

// validateSemantic performs semantic analysis on a typed graph.
// Checks: unique node ids, per-family required fields, reference integrity
// (attribute refs, next_steps, outcome targets) and outcome condition syntax.
func validateSemantic(g *schema.Graph, ev *expressions.Evaluator) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	ids := make(map[string]bool, len(g.Nodes))
	for i, n := range g.Nodes {
		path := nodePath(g.Kind, i)
		if n.ID == "" {
			result.AddError(path, schema.ErrCodeInvalidNode, "node id is required")
			continue
		}
		if ids[n.ID] {
			result.AddErrorf(path, schema.ErrCodeInvalidNode,
				"duplicate node id %q", n.ID)
		}
		ids[n.ID] = true
	}

	for i, n := range g.Nodes {
		path := nodePath(g.Kind, i)
		switch g.Kind {
		case schema.DiagramSchema:
			validateEntity(n, path, ids, result)
		case schema.DiagramFlow:
			validateStep(n, path, ids, ev, result)
		}
	}

	return result
}

func validateEntity(n *schema.Node, path string, ids map[string]bool, result *schema.ValidationResult) {
	if n.Rows < 0 {
		result.AddError(path+".rows", schema.ErrCodeInvalidNode, "rows must not be negative")
	}

	refTargets := make(map[string]string, len(n.Attributes))
	for j, a := range n.Attributes {
		apath := fmt.Sprintf("%s.attributes[%d]", path, j)
		if a.Name == "" {
			result.AddError(apath+".name", schema.ErrCodeInvalidNode, "attribute name is required")
		}
		if a.Type == "" {
			result.AddError(apath+".type", schema.ErrCodeInvalidNode, "attribute type is required")
		}

		if schema.IsReferenceType(a.Type) {
			target, _, ok := schema.SplitRef(a.Ref)
			if !ok {
				result.AddErrorf(apath+".ref", schema.ErrCodeInvalidNode,
					"reference attribute %q needs a ref of the form \"<entity>.<attribute>\"", a.Name)
				continue
			}
			if !ids[target] {
				result.AddErrorf(apath+".ref", schema.ErrCodeValidation,
					"ref points at non-existent entity %q", target)
				continue
			}
			// At most one reference attribute per (source, target) pair.
			if prev, dup := refTargets[target]; dup {
				result.AddErrorf(apath, schema.ErrCodeValidation,
					"attributes %q and %q both reference entity %q", prev, a.Name, target)
			}
			refTargets[target] = a.Name
		} else if a.Ref != "" {
			result.AddWarningf(apath+".ref", schema.ErrCodeValidation,
				"non-reference attribute %q carries a ref", a.Name)
		}
	}
}

func validateStep(n *schema.Node, path string, ids map[string]bool, ev *expressions.Evaluator, result *schema.ValidationResult) {
	switch n.Type {
	case schema.StepTypeCreate, schema.StepTypeUpdate, schema.StepTypeDecision,
		schema.StepTypeDelete, schema.StepTypeWait:
	case "":
		result.AddError(path+".step_type", schema.ErrCodeInvalidNode, "step_type is required")
	default:
		result.AddErrorf(path+".step_type", schema.ErrCodeInvalidNode,
			"unknown step_type %q", n.Type)
	}

	for j, next := range n.NextSteps {
		if !ids[next] {
			result.AddErrorf(fmt.Sprintf("%s.next_steps[%d]", path, j),
				schema.ErrCodeValidation,
				"references non-existent step %q", next)
		}
	}

	if len(n.Outcomes) > 0 && n.Type != schema.StepTypeDecision {
		result.AddErrorf(path+".outcomes", schema.ErrCodeInvalidNode,
			"step type %q cannot carry outcomes", n.Type)
	}

	for j, o := range n.Outcomes {
		opath := fmt.Sprintf("%s.outcomes[%d]", path, j)
		if o.NextStepID == "" {
			result.AddError(opath+".next_step_id", schema.ErrCodeInvalidNode, "next_step_id is required")
		} else if !ids[o.NextStepID] {
			result.AddErrorf(opath+".next_step_id", schema.ErrCodeValidation,
				"references non-existent step %q", o.NextStepID)
		}

		hasProb := o.Probability != nil
		hasCond := o.Condition != ""
		switch {
		case hasProb && hasCond:
			result.AddError(opath, schema.ErrCodeInvalidNode,
				"outcome must use either a probability or a condition, not both")
		case !hasProb && !hasCond:
			result.AddError(opath, schema.ErrCodeInvalidNode,
				"outcome needs a probability or a condition")
		case hasProb && (*o.Probability < 0 || *o.Probability > 1):
			result.AddError(opath+".probability", schema.ErrCodeInvalidNode,
				"probability must be within [0, 1]")
		case hasCond && ev != nil:
			if err := ev.Check(o.Condition); err != nil {
				result.AddErrorf(opath+".condition", schema.ErrCodeValidation,
					"condition does not compile: %s", err.Error())
			}
		}
	}
}

func nodePath(kind schema.DiagramKind, i int) string {
	if kind == schema.DiagramFlow {
		return fmt.Sprintf("steps[%d]", i)
	}
	return fmt.Sprintf("entities[%d]", i)
}
