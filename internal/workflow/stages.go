package workflow

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/courseforge/courseforge/config"
	"github.com/courseforge/courseforge/internal/cache"
	"github.com/courseforge/courseforge/internal/detect"
	"github.com/courseforge/courseforge/internal/llm"
)

// Stage names used for model routing, budgets and cache keys.
const (
	stagePlan     = "plan"
	stageRefine   = "refine"
	stageGenerate = "generate"
	stageCompare  = "compare"
	stageReview   = "review"
	stageEdit     = "edit"
)

// Stages executes the per-row LLM calls. All calls go through the response
// cache when one is configured.
type Stages struct {
	provider    llm.Provider
	cache       *cache.Store
	scanner     *detect.Scanner
	models      config.StageModels
	budgets     config.StageBudgets
	temperature float64
	logger      *log.Logger
}

// NewStages wires the stage executor.
func NewStages(provider llm.Provider, cacheStore *cache.Store, scanner *detect.Scanner, models config.StageModels, budgets config.StageBudgets, temperature float64, logger *log.Logger) *Stages {
	if logger == nil {
		logger = log.New(log.Writer(), "[STAGES] ", log.LstdFlags)
	}
	return &Stages{
		provider:    provider,
		cache:       cacheStore,
		scanner:     scanner,
		models:      models,
		budgets:     budgets,
		temperature: temperature,
		logger:      logger,
	}
}

// complete runs one cached LLM call for a stage.
func (s *Stages) complete(ctx context.Context, stage string, row Row, system, prompt string, temperature float64) (string, error) {
	model := s.models.ForStage(stage)
	key := cache.Key(stage, map[string]interface{}{
		"row":    row.ID,
		"model":  model,
		"system": system,
		"prompt": prompt,
	})
	if s.cache != nil {
		if v, ok := s.cache.Get(ctx, key); ok {
			s.logger.Printf("row %s: %s served from cache", row.ID, stage)
			return string(v), nil
		}
	}

	out, err := s.provider.Generate(ctx, llm.Request{
		Model:       model,
		System:      system,
		Prompt:      prompt,
		MaxTokens:   s.budgets.ForStage(stage),
		Temperature: temperature,
	})
	if err != nil {
		return "", &GenerationError{Stage: stage, Model: model, Err: err}
	}
	if s.cache != nil {
		if err := s.cache.Put(ctx, key, []byte(out)); err != nil {
			s.logger.Printf("warn: row %s: cache %s result: %v", row.ID, stage, err)
		}
	}
	return out, nil
}

// Plan generates the structured content plan for a row and validates it
// against the plan schema.
func (s *Stages) Plan(ctx context.Context, row Row, ragContext string) (PlanDocument, string, error) {
	system := "You are an instructional designer. You produce rigorous, well-structured " +
		"content plans as JSON. Respond with a single JSON object and nothing else."
	var b strings.Builder
	fmt.Fprintf(&b, "Create a content plan for a %s titled %q.\n\n", row.ContentType, row.Title)
	fmt.Fprintf(&b, "Brief:\n%s\n\n", row.Brief)
	if row.TargetLearner != "" {
		fmt.Fprintf(&b, "Target learner:\n%s\n\n", row.TargetLearner)
	}
	if ragContext != "" {
		fmt.Fprintf(&b, "Reference material:\n%s\n\n", ragContext)
	}
	b.WriteString("The JSON object must have these fields: title (string), summary (string), " +
		"learning_objectives (array of strings, at least one), outline (array of objects with " +
		"heading, summary and key_points), key_concepts (array of strings), " +
		"assessment_ideas (array of strings).")

	raw, err := s.complete(ctx, stagePlan, row, system, b.String(), s.temperature)
	if err != nil {
		return PlanDocument{}, "", err
	}
	return ParsePlan(raw)
}

// Refine critiques the plan and produces a finalized version, re-validated
// against the schema.
func (s *Stages) Refine(ctx context.Context, row Row, planRaw string) (PlanDocument, string, string, error) {
	critiqueSystem := "You are a critical reviewer of instructional content plans. " +
		"Identify concrete weaknesses: missing objectives, ordering problems, gaps for the target learner."
	critiquePrompt := fmt.Sprintf(
		"Critique this content plan for %q (a %s). List specific, actionable problems.\n\nPlan:\n%s",
		row.Title, row.ContentType, planRaw)
	critique, err := s.complete(ctx, stageRefine, row, critiqueSystem, critiquePrompt, s.temperature)
	if err != nil {
		return PlanDocument{}, "", "", err
	}

	refineSystem := "You are an instructional designer revising a content plan. " +
		"Respond with a single JSON object in the same format as the input plan and nothing else."
	refinePrompt := fmt.Sprintf(
		"Revise the plan below to address the critique. Keep the same JSON structure.\n\nPlan:\n%s\n\nCritique:\n%s",
		planRaw, critique)
	refinedRaw, err := s.complete(ctx, stageRefine, row, refineSystem, refinePrompt, s.temperature)
	if err != nil {
		return PlanDocument{}, "", critique, err
	}
	doc, cleaned, err := ParsePlan(refinedRaw)
	if err != nil {
		return PlanDocument{}, cleaned, critique, err
	}
	return doc, cleaned, critique, nil
}

// Generate produces n content versions. Versions run sequentially so each one
// can see its predecessors and diverge from them. Output is taken from
// <educational_content> tags; a missing tag keeps the raw response.
func (s *Stages) Generate(ctx context.Context, row Row, planFinal, ragContext string, n int) ([]string, error) {
	if n < 1 {
		n = 1
	}
	system := "You are an expert educational content writer. Wrap the finished content in " +
		"<educational_content> tags."

	versions := make([]string, 0, n)
	for i := 0; i < n; i++ {
		var b strings.Builder
		fmt.Fprintf(&b, "Write version %d of %d of a %s titled %q.\n\n", i+1, n, row.ContentType, row.Title)
		fmt.Fprintf(&b, "Follow this finalized plan:\n%s\n\n", planFinal)
		if row.TargetLearner != "" {
			fmt.Fprintf(&b, "Target learner:\n%s\n\n", row.TargetLearner)
		}
		if ragContext != "" {
			fmt.Fprintf(&b, "Ground the content in this reference material:\n%s\n\n", ragContext)
		}
		for j, prev := range versions {
			fmt.Fprintf(&b, "Previously written version %d (take a different angle):\n%s\n\n", j+1, prev)
		}
		b.WriteString("Wrap the complete content in <educational_content> tags.")

		out, err := s.complete(ctx, stageGenerate, row, system, b.String(), s.temperature)
		if err != nil {
			if len(versions) > 0 {
				s.logger.Printf("warn: row %s: version %d failed, continuing with %d versions: %v",
					row.ID, i+1, len(versions), err)
				break
			}
			return nil, err
		}
		content, ok := extractTag(out, "educational_content")
		if !ok {
			s.logger.Printf("warn: row %s: version %d missing educational_content tags, keeping raw output", row.ID, i+1)
		}
		versions = append(versions, content)
	}
	return versions, nil
}

// Compare selects or synthesizes the best version from the generations. A
// single version short-circuits without an LLM call.
func (s *Stages) Compare(ctx context.Context, row Row, generations []string) (string, string, error) {
	if len(generations) == 0 {
		return "", "", fmt.Errorf("no generations to compare")
	}
	if len(generations) == 1 {
		return generations[0], "Only one version was generated, so it was used directly.", nil
	}

	system := "You are an expert educational content reviewer. Your response MUST use these exact tags: " +
		"<best_version>YOUR SELECTED BEST VERSION</best_version> and " +
		"<explanation>YOUR EXPLANATION</explanation>."
	var b strings.Builder
	fmt.Fprintf(&b, "Compare the following %d versions of %q and produce the single best version, "+
		"combining the strongest elements of each.\n", len(generations), row.Title)
	if row.TargetLearner != "" {
		fmt.Fprintf(&b, "\nTarget learner:\n%s\n", row.TargetLearner)
	}
	for i, g := range generations {
		fmt.Fprintf(&b, "\n--- VERSION %d ---\n\n%s\n", i+1, g)
	}
	b.WriteString("\nPresent the result in <best_version> tags and justify your choices in <explanation> tags.")

	out, err := s.complete(ctx, stageCompare, row, system, b.String(), 0.3)
	if err != nil {
		return "", "", err
	}
	best, ok := extractTag(out, "best_version")
	if !ok {
		return "", "", fmt.Errorf("comparison response missing best_version tags")
	}
	explanation, ok := extractTag(out, "explanation")
	if !ok {
		explanation = "No explanation provided."
	}
	return best, explanation, nil
}

// Review improves the selected version for the target learner.
func (s *Stages) Review(ctx context.Context, row Row, content string) (string, error) {
	system := "You are a meticulous editor of educational content. Wrap the revised content in " +
		"<reviewed_content> tags."
	var b strings.Builder
	fmt.Fprintf(&b, "Review and improve this %s titled %q. Fix factual slips, tighten prose, "+
		"and keep the structure.\n\n", row.ContentType, row.Title)
	if row.TargetLearner != "" {
		fmt.Fprintf(&b, "Target learner:\n%s\n\n", row.TargetLearner)
	}
	fmt.Fprintf(&b, "Content:\n%s\n\nWrap the full revised content in <reviewed_content> tags.", content)

	out, err := s.complete(ctx, stageReview, row, system, b.String(), s.temperature)
	if err != nil {
		return "", err
	}
	reviewed, ok := extractTag(out, "reviewed_content")
	if !ok {
		s.logger.Printf("warn: row %s: review response missing reviewed_content tags, keeping raw output", row.ID)
	}
	return reviewed, nil
}

// DetectAndEdit scans content for machine-writing patterns and, above the
// scanner threshold, asks the model to rewrite the flagged passages. It never
// fails the row: on any editing problem the input content is returned.
func (s *Stages) DetectAndEdit(ctx context.Context, row Row, content string) (string, detect.Report, bool, error) {
	report := s.scanner.Scan(content)
	if !s.scanner.NeedsEdit(report) {
		return content, report, false, nil
	}

	var patterns strings.Builder
	for i, m := range report.Matches {
		fmt.Fprintf(&patterns, "%d. %q (category: %s)\n", i+1, m.Text, m.Category)
	}
	system := "You are an editor who makes machine-sounding text natural and engaging. " +
		"Wrap the edited text in <edited_text> tags."
	prompt := fmt.Sprintf(
		"Rewrite the flagged passages so the text reads naturally. Preserve meaning and structure.\n\n"+
			"Flagged patterns:\n%s\nContent:\n%s\n\nWrap the full edited text in <edited_text> tags.",
		patterns.String(), content)

	out, err := s.complete(ctx, stageEdit, row, system, prompt, 0.4)
	if err != nil {
		s.logger.Printf("warn: row %s: humanizing edit failed, keeping reviewed content: %v", row.ID, err)
		return content, report, false, nil
	}
	edited, ok := extractTag(out, "edited_text")
	if !ok {
		s.logger.Printf("warn: row %s: edit response missing edited_text tags, keeping reviewed content", row.ID)
		return content, report, false, nil
	}
	return edited, report, true, nil
}
