package workflow

import (
	"errors"
	"testing"
)

const validPlanJSON = `{
  "title": "The Water Cycle",
  "summary": "An introduction to how water moves through the environment.",
  "learning_objectives": ["Describe evaporation", "Explain precipitation"],
  "outline": [
    {"heading": "Evaporation", "summary": "Water rises as vapor", "key_points": ["heat", "vapor"]},
    {"heading": "Precipitation", "summary": "Water returns as rain"}
  ],
  "key_concepts": ["evaporation", "condensation"],
  "assessment_ideas": ["Label a diagram of the cycle"]
}`

func TestParsePlan_Valid(t *testing.T) {
	doc, raw, err := ParsePlan(validPlanJSON)
	if err != nil {
		t.Fatalf("parse plan: %v", err)
	}
	if doc.Title != "The Water Cycle" {
		t.Fatalf("unexpected title %q", doc.Title)
	}
	if len(doc.Outline) != 2 || doc.Outline[0].Heading != "Evaporation" {
		t.Fatalf("unexpected outline: %+v", doc.Outline)
	}
	if raw == "" {
		t.Fatalf("expected cleaned raw plan")
	}
}

func TestParsePlan_StripsCodeFence(t *testing.T) {
	fenced := "```json\n" + validPlanJSON + "\n```"
	doc, _, err := ParsePlan(fenced)
	if err != nil {
		t.Fatalf("parse fenced plan: %v", err)
	}
	if doc.Title != "The Water Cycle" {
		t.Fatalf("unexpected title %q", doc.Title)
	}
}

func TestParsePlan_InvalidJSON(t *testing.T) {
	_, _, err := ParsePlan("this is not json")
	var sve *SchemaValidationError
	if !errors.As(err, &sve) {
		t.Fatalf("expected SchemaValidationError, got %v", err)
	}
}

func TestParsePlan_MissingRequiredFields(t *testing.T) {
	_, _, err := ParsePlan(`{"title": "No objectives or outline"}`)
	var sve *SchemaValidationError
	if !errors.As(err, &sve) {
		t.Fatalf("expected SchemaValidationError, got %v", err)
	}
}

func TestParsePlan_EmptyObjectivesRejected(t *testing.T) {
	_, _, err := ParsePlan(`{"title": "x", "learning_objectives": [], "outline": [{"heading": "h"}]}`)
	var sve *SchemaValidationError
	if !errors.As(err, &sve) {
		t.Fatalf("expected SchemaValidationError for empty objectives, got %v", err)
	}
}

func TestExtractTag(t *testing.T) {
	body := "prefix <best_version>the winner</best_version> <explanation>because</explanation>"
	got, ok := extractTag(body, "best_version")
	if !ok || got != "the winner" {
		t.Fatalf("unexpected extraction: %q ok=%v", got, ok)
	}
	got, ok = extractTag("no tags here", "best_version")
	if ok {
		t.Fatalf("expected ok=false for missing tag")
	}
	if got != "no tags here" {
		t.Fatalf("expected raw text returned, got %q", got)
	}
	multi := "<educational_content>line one\nline two</educational_content>"
	got, ok = extractTag(multi, "educational_content")
	if !ok || got != "line one\nline two" {
		t.Fatalf("multiline extraction failed: %q", got)
	}
}
