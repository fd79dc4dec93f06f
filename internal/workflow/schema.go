package workflow

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed plan_schema.json
var planSchemaJSON string

// PlanDocument is the structured content plan produced by the planning stage.
type PlanDocument struct {
	Title              string        `json:"title"`
	Summary            string        `json:"summary,omitempty"`
	LearningObjectives []string      `json:"learning_objectives"`
	Outline            []PlanSection `json:"outline"`
	KeyConcepts        []string      `json:"key_concepts,omitempty"`
	AssessmentIdeas    []string      `json:"assessment_ideas,omitempty"`
}

// PlanSection is one outline entry.
type PlanSection struct {
	Heading   string   `json:"heading"`
	Summary   string   `json:"summary,omitempty"`
	KeyPoints []string `json:"key_points,omitempty"`
}

var (
	planCompileOnce sync.Once
	planSchema      *jsonschema.Schema
	planCompileErr  error
)

// PlanSchema returns the compiled JSON Schema for plan documents.
func PlanSchema() (*jsonschema.Schema, error) {
	planCompileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("plan_schema.json", strings.NewReader(planSchemaJSON)); err != nil {
			planCompileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, err := compiler.Compile("plan_schema.json")
		if err != nil {
			planCompileErr = fmt.Errorf("compile plan schema: %w", err)
			return
		}
		planSchema = schema
	})
	return planSchema, planCompileErr
}

// ParsePlan validates raw model output against the plan schema and decodes it.
// Code fences around the JSON are tolerated. Failures return a
// *SchemaValidationError.
func ParsePlan(raw string) (PlanDocument, string, error) {
	cleaned := stripCodeFence(raw)

	schema, err := PlanSchema()
	if err != nil {
		return PlanDocument{}, cleaned, err
	}
	var generic interface{}
	if err := json.Unmarshal([]byte(cleaned), &generic); err != nil {
		return PlanDocument{}, cleaned, &SchemaValidationError{Detail: "plan is not valid JSON", Err: err}
	}
	if err := schema.Validate(generic); err != nil {
		return PlanDocument{}, cleaned, &SchemaValidationError{Detail: "plan does not match schema", Err: err}
	}
	var doc PlanDocument
	if err := json.Unmarshal([]byte(cleaned), &doc); err != nil {
		return PlanDocument{}, cleaned, &SchemaValidationError{Detail: "plan decode failed", Err: err}
	}
	return doc, cleaned, nil
}

// stripCodeFence removes a surrounding markdown code fence if present.
func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
