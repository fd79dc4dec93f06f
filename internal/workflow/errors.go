package workflow

import "fmt"

// GenerationError wraps a failed LLM call with the stage and model that made
// it.
type GenerationError struct {
	Stage string
	Model string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation failed (model %s): %v", e.Stage, e.Model, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// SchemaValidationError reports a plan document that is not valid JSON or does
// not conform to the plan schema.
type SchemaValidationError struct {
	Detail string
	Err    error
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("plan validation failed: %s: %v", e.Detail, e.Err)
}

func (e *SchemaValidationError) Unwrap() error { return e.Err }
