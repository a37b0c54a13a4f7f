// Package infer computes the attribute-level edits that keep the schema
// graph consistent with connect/disconnect gestures and node deletions.
// Every operation derives its result on a working copy and commits only on
// full success: invalid input never leaves a partial mutation behind.
package infer

import (
	"fmt"
	"log/slog"

	"github.com/go-openapi/inflect"

	"github.com/dmateu/syncanvas/pkg/schema"
)

// Engine performs relationship inference over canonical graphs.
type Engine struct {
	logger *slog.Logger
}

// New creates an inference engine. logger may be nil.
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// Connect adds a reference attribute on sourceID pointing at targetID and
// returns the updated graph. Connecting an already-connected pair is
// idempotent: the input graph is returned unchanged. Self-loops and missing
// endpoints are rejected with INVALID_CONNECTION.
func (e *Engine) Connect(g *schema.Graph, sourceID, targetID string) (*schema.Graph, error) {
	if sourceID == targetID {
		return nil, schema.NewError(schema.ErrCodeInvalidConnection,
			"cannot connect a node to itself").WithNode(sourceID)
	}
	source := g.Node(sourceID)
	if source == nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidConnection,
			"source %q does not exist", sourceID)
	}
	target := g.Node(targetID)
	if target == nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidConnection,
			"target %q does not exist", targetID)
	}

	if g.Kind == schema.DiagramFlow {
		return e.connectSteps(g, sourceID, targetID)
	}

	// Idempotent: a reference to the target already exists.
	for _, a := range source.Attributes {
		if t, _, ok := schema.SplitRef(a.Ref); ok && t == targetID && schema.IsReferenceType(a.Type) {
			return g, nil
		}
	}

	work := g.Clone()
	ws := work.Node(sourceID)
	wt := work.Node(targetID)

	ws.Attributes = append(ws.Attributes, &schema.Attribute{
		Name: referenceName(ws, targetID),
		Type: schema.AttributeTypeForTarget(wt.Type),
		Ref:  targetID + "." + wt.PrimaryKey(),
	})
	ws.SortAttributes()
	return work, nil
}

// connectSteps wires a flow edge: target is appended to the source's
// next_steps unless already present.
func (e *Engine) connectSteps(g *schema.Graph, sourceID, targetID string) (*schema.Graph, error) {
	source := g.Node(sourceID)
	for _, next := range source.NextSteps {
		if next == targetID {
			return g, nil
		}
	}
	for _, o := range source.Outcomes {
		if o.NextStepID == targetID {
			return g, nil
		}
	}

	work := g.Clone()
	ws := work.Node(sourceID)
	if ws.Type == schema.StepTypeDecision {
		p := 1.0
		ws.Outcomes = append(ws.Outcomes, &schema.Outcome{
			Probability: &p,
			NextStepID:  targetID,
		})
		ws.RebalanceOutcomes()
	} else {
		ws.NextSteps = append(ws.NextSteps, targetID)
	}
	return work, nil
}

// Disconnect removes exactly the references on sourceID that point at
// targetID: reference attributes for schema graphs, next_steps entries and
// outcomes for flow graphs. Removing a non-existent edge is a no-op and
// returns the input graph unchanged.
func (e *Engine) Disconnect(g *schema.Graph, sourceID, targetID string) (*schema.Graph, error) {
	source := g.Node(sourceID)
	if source == nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidConnection,
			"source %q does not exist", sourceID)
	}
	if !referencesTarget(g.Kind, source, targetID) {
		return g, nil
	}

	work := g.Clone()
	ws := work.Node(sourceID)

	if g.Kind == schema.DiagramFlow {
		ws.NextSteps = removeString(ws.NextSteps, targetID)
		before := len(ws.Outcomes)
		ws.Outcomes = removeOutcomes(ws.Outcomes, targetID)
		if len(ws.Outcomes) != before {
			ws.RebalanceOutcomes()
		}
		return work, nil
	}

	kept := ws.Attributes[:0]
	for _, a := range ws.Attributes {
		t, _, ok := schema.SplitRef(a.Ref)
		if ok && t == targetID && schema.IsReferenceType(a.Type) {
			continue
		}
		kept = append(kept, a)
	}
	ws.Attributes = kept
	return work, nil
}

// referencesTarget reports whether source carries any edge toward targetID.
func referencesTarget(kind schema.DiagramKind, source *schema.Node, targetID string) bool {
	if kind == schema.DiagramFlow {
		for _, next := range source.NextSteps {
			if next == targetID {
				return true
			}
		}
		for _, o := range source.Outcomes {
			if o.NextStepID == targetID {
				return true
			}
		}
		return false
	}
	for _, a := range source.Attributes {
		if t, _, ok := schema.SplitRef(a.Ref); ok && t == targetID && schema.IsReferenceType(a.Type) {
			return true
		}
	}
	return false
}

// DeleteNodes removes the given nodes and strips every remaining reference
// to them: attribute refs, next_steps entries and decision outcomes.
// Decision steps that lose a probability outcome are rebalanced. The count
// of stripped references is logged for observability and returned. Ids
// already absent are skipped, so re-running a deletion is a no-op; when
// nothing remains to delete the input graph is returned unchanged.
func (e *Engine) DeleteNodes(g *schema.Graph, ids []string) (*schema.Graph, int, error) {
	doomed := make(map[string]bool, len(ids))
	for _, id := range ids {
		if g.Node(id) != nil {
			doomed[id] = true
		}
	}
	if len(doomed) == 0 {
		return g, 0, nil
	}

	work := g.Clone()
	kept := work.Nodes[:0]
	for _, n := range work.Nodes {
		if !doomed[n.ID] {
			kept = append(kept, n)
		}
	}
	work.Nodes = kept

	stripped := 0
	for _, n := range work.Nodes {
		keptAttrs := n.Attributes[:0]
		for _, a := range n.Attributes {
			if t, _, ok := schema.SplitRef(a.Ref); ok && doomed[t] {
				stripped++
				continue
			}
			keptAttrs = append(keptAttrs, a)
		}
		n.Attributes = keptAttrs

		keptNext := n.NextSteps[:0]
		for _, next := range n.NextSteps {
			if doomed[next] {
				stripped++
				continue
			}
			keptNext = append(keptNext, next)
		}
		n.NextSteps = keptNext

		beforeOutcomes := len(n.Outcomes)
		keptOutcomes := n.Outcomes[:0]
		for _, o := range n.Outcomes {
			if doomed[o.NextStepID] {
				stripped++
				continue
			}
			keptOutcomes = append(keptOutcomes, o)
		}
		n.Outcomes = keptOutcomes
		if len(n.Outcomes) != beforeOutcomes {
			n.RebalanceOutcomes()
		}
	}

	if stripped > 0 {
		e.logger.Info("cascading delete stripped dangling references",
			slog.Int("count", stripped),
			slog.Int("deleted_nodes", len(doomed)))
	}
	return work, stripped, nil
}

// referenceName derives the name for a new reference attribute, trying the
// conventional candidates in order and falling back to numeric suffixes,
// stopping at the first name not already used on the source.
func referenceName(source *schema.Node, targetID string) string {
	snake := inflect.Underscore(targetID)
	camel := inflect.CamelizeDownFirst(targetID)

	candidates := []string{
		snake + "_id",
		camel + "Id",
		"ref_" + snake,
		snake + "_ref",
	}
	for _, c := range candidates {
		if !source.HasAttribute(c) {
			return c
		}
	}
	for i := 2; ; i++ {
		c := fmt.Sprintf("%s_id%d", snake, i)
		if !source.HasAttribute(c) {
			return c
		}
	}
}

func removeString(list []string, value string) []string {
	kept := list[:0]
	for _, v := range list {
		if v != value {
			kept = append(kept, v)
		}
	}
	return kept
}

func removeOutcomes(list []*schema.Outcome, target string) []*schema.Outcome {
	kept := list[:0]
	for _, o := range list {
		if o.NextStepID != target {
			kept = append(kept, o)
		}
	}
	return kept
}
