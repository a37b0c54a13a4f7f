package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/dmateu/syncanvas/pkg/schema"
)

// schemaDocJSON is the JSON Schema for entity-relationship documents.
// Embedded as a constant to avoid filesystem dependencies.
const schemaDocJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://syncanvas.dev/schemas/schema-document.json",
  "type": "object",
  "required": ["entities"],
  "properties": {
    "entities": {
      "type": "array",
      "items": { "$ref": "#/$defs/entity" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "entity": {
      "type": "object",
      "required": ["name", "rows", "attributes"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "type": {
          "type": "string",
          "enum": ["table", "lookup", "event"]
        },
        "rows": { "type": "integer", "minimum": 0 },
        "attributes": {
          "type": "array",
          "items": { "$ref": "#/$defs/attribute" }
        }
      },
      "additionalProperties": false
    },
    "attribute": {
      "type": "object",
      "required": ["name", "type"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "type": {
          "type": "string",
          "enum": ["pk", "fk", "lookup_fk", "string", "int", "float", "bool", "date", "uuid"]
        },
        "ref": { "type": "string", "pattern": "^[^.]+\\.[^.]+$" },
        "generator": { "type": "object" }
      },
      "additionalProperties": false
    }
  }
}`

// flowDocJSON is the JSON Schema for event-flow documents.
const flowDocJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://syncanvas.dev/schemas/flow-document.json",
  "type": "object",
  "required": ["simulation", "event_flows"],
  "properties": {
    "simulation": { "type": "object" },
    "event_flows": {
      "type": "array",
      "items": { "$ref": "#/$defs/flow" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "flow": {
      "type": "object",
      "required": ["flow_id", "event_table", "steps"],
      "properties": {
        "flow_id": { "type": "string", "minLength": 1 },
        "event_table": { "type": "string", "minLength": 1 },
        "steps": {
          "type": "array",
          "minItems": 1,
          "items": { "$ref": "#/$defs/step" }
        }
      },
      "additionalProperties": false
    },
    "step": {
      "type": "object",
      "required": ["step_id", "step_type"],
      "properties": {
        "step_id": { "type": "string", "minLength": 1 },
        "step_type": {
          "type": "string",
          "enum": ["create", "update", "decision", "delete", "wait"]
        },
        "config": { "type": "object" },
        "next_steps": {
          "type": "array",
          "items": { "type": "string" }
        },
        "outcomes": {
          "type": "array",
          "items": { "$ref": "#/$defs/outcome" }
        }
      },
      "additionalProperties": false
    },
    "outcome": {
      "type": "object",
      "required": ["next_step_id"],
      "properties": {
        "probability": { "type": "number", "minimum": 0, "maximum": 1 },
        "condition": { "type": "string", "minLength": 1 },
        "next_step_id": { "type": "string", "minLength": 1 }
      },
      "additionalProperties": false
    }
  }
}`

// DocumentValidator validates decoded configuration documents against the
// JSON Schema for their diagram kind. Safe for concurrent use.
type DocumentValidator struct {
	schemaDoc *jsonschema.Schema
	flowDoc   *jsonschema.Schema
}

// NewDocumentValidator compiles both document schemas once.
func NewDocumentValidator() (*DocumentValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	compile := func(id, raw string) (*jsonschema.Schema, error) {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("unmarshal document schema %s: %w", id, err)
		}
		if err := c.AddResource(id, doc); err != nil {
			return nil, fmt.Errorf("add document schema %s: %w", id, err)
		}
		return c.Compile(id)
	}

	sd, err := compile("https://syncanvas.dev/schemas/schema-document.json", schemaDocJSON)
	if err != nil {
		return nil, err
	}
	fd, err := compile("https://syncanvas.dev/schemas/flow-document.json", flowDocJSON)
	if err != nil {
		return nil, err
	}

	return &DocumentValidator{schemaDoc: sd, flowDoc: fd}, nil
}

// DetectKind inspects a decoded document's top-level sections and reports
// which diagram family it belongs to, or "" when neither shape matches.
func DetectKind(doc map[string]any) schema.DiagramKind {
	if _, ok := doc["entities"]; ok {
		return schema.DiagramSchema
	}
	if _, ok := doc["event_flows"]; ok {
		return schema.DiagramFlow
	}
	if _, ok := doc["simulation"]; ok {
		return schema.DiagramFlow
	}
	return ""
}

// ValidateDocument checks a decoded document against the expected kind's
// shape. A document of the other kind is rejected with WRONG_DOCUMENT_KIND;
// a document missing its required top-level sections with MISSING_SECTION.
func (v *DocumentValidator) ValidateDocument(kind schema.DiagramKind, doc map[string]any) error {
	if doc == nil {
		return schema.NewError(schema.ErrCodeParse, "document is empty")
	}

	detected := DetectKind(doc)
	if detected != "" && detected != kind {
		return schema.NewErrorf(schema.ErrCodeWrongDocumentKind,
			"expected a %s document but found a %s document", kind, detected).
			WithDetails(map[string]any{"expected": string(kind), "found": string(detected)})
	}

	for _, section := range requiredSections(kind) {
		if _, ok := doc[section]; !ok {
			return schema.NewErrorf(schema.ErrCodeMissingSection,
				"document is missing required section %q", section).
				WithDetails(map[string]any{"section": section})
		}
	}

	compiled := v.schemaDoc
	if kind == schema.DiagramFlow {
		compiled = v.flowDoc
	}

	jsonDoc, err := toJSONValue(doc)
	if err != nil {
		return schema.NewError(schema.ErrCodeParse, "document is not JSON-encodable").WithCause(err)
	}
	if err := compiled.Validate(jsonDoc); err != nil {
		return toSyncError(err)
	}
	return nil
}

func requiredSections(kind schema.DiagramKind) []string {
	if kind == schema.DiagramFlow {
		return []string{"simulation", "event_flows"}
	}
	return []string{"entities"}
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toSyncError converts a jsonschema.ValidationError into a SyncError with
// instance locations for actionable reporting.
func toSyncError(err error) *schema.SyncError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeParse, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeParse, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeParse, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("document validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeParse, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
