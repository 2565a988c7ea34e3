package template

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoralesv/bankmail/app/database"
	"github.com/jmoralesv/bankmail/app/synth"
)

const maxGenerationSamples = 5

// Generator turns sample emails into validated, stored templates. Candidates
// come from the synthesizer and only survive when they extract successfully
// from enough of the samples they match.
type Generator struct {
	synthesizer     synth.Synthesizer
	templateRepo    database.TemplateRepository
	engine          *Engine
	validationFloor float64
	maxAttempts     int
}

func NewGenerator(synthesizer synth.Synthesizer, templateRepo database.TemplateRepository, engine *Engine, validationFloor float64, maxAttempts int) *Generator {
	return &Generator{
		synthesizer:     synthesizer,
		templateRepo:    templateRepo,
		engine:          engine,
		validationFloor: validationFloor,
		maxAttempts:     maxAttempts,
	}
}

// GenerateForSource runs up to maxAttempts synthesis rounds and persists
// every candidate that validates. Returns the IDs of the created templates.
func (g *Generator) GenerateForSource(ctx context.Context, source *database.Source, samples []synth.SampleEmail) ([]int64, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("no sample emails for source %s", source.Slug)
	}
	if len(samples) > maxGenerationSamples {
		samples = samples[:maxGenerationSamples]
	}

	existing, err := g.templateRepo.ListTemplates(source.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing templates: %w", err)
	}

	var created []int64
	guidance := ""

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		candidates, err := g.synthesizer.Synthesize(ctx, source.Name, samples, guidance)
		if err != nil {
			slog.Warn("Template synthesis attempt failed",
				"source", source.Slug, "attempt", attempt, "error", err)
			guidance = fmt.Sprintf("Previous attempt failed: %v. Respond with valid JSON only.", err)
			continue
		}

		var failures []string
		for _, candidate := range candidates {
			t := candidateToTemplate(source.ID, candidate)

			if isDuplicate(t, existing) {
				continue
			}

			rate, reason := g.validate(t, samples)
			if rate < g.validationFloor {
				failures = append(failures, fmt.Sprintf("%q: %s", candidate.Name, reason))
				continue
			}

			id, err := g.templateRepo.CreateTemplate(t)
			if err != nil {
				return created, fmt.Errorf("failed to store template: %w", err)
			}

			t.ID = id
			existing = append(existing, *t)
			created = append(created, id)

			slog.Info("Template created from synthesis",
				"source", source.Slug, "template_id", id, "name", t.Name, "validation_rate", rate)
		}

		if len(created) > 0 {
			return created, nil
		}

		guidance = buildRetryGuidance(failures)
		slog.Debug("No candidates validated, retrying",
			"source", source.Slug, "attempt", attempt, "rejected", len(failures))
	}

	return created, fmt.Errorf("no valid templates after %d attempts", g.maxAttempts)
}

// validate measures the candidate against the samples it matches. A sample
// counts as a success when extraction yields an amount.
func (g *Generator) validate(t *database.Template, samples []synth.SampleEmail) (float64, string) {
	matched := 0
	successes := 0

	for _, sample := range samples {
		if g.engine.scoreMatch(t, sample.Sender, sample.Subject, sample.Body) < g.engine.matchFloor {
			continue
		}
		matched++

		if _, err := g.engine.Extract(t, sample.Body, time.Now()); err == nil {
			successes++
		}
	}

	if matched == 0 {
		return 0, "matched no samples"
	}

	rate := float64(successes) / float64(matched)
	if rate < g.validationFloor {
		return rate, fmt.Sprintf("extracted from %d of %d matched samples", successes, matched)
	}

	return rate, ""
}

func candidateToTemplate(sourceID int64, c synth.CandidateTemplate) *database.Template {
	priority := c.Priority
	if priority <= 0 {
		priority = 50
	}

	return &database.Template{
		SourceID:         sourceID,
		Name:             c.Name,
		Kind:             c.Kind,
		SubjectPattern:   c.SubjectPattern,
		SenderPattern:    c.SenderPattern,
		BodyContains:     c.BodyContains,
		BodyExcludes:     c.BodyExcludes,
		AmountRegex:      c.AmountRegex,
		DateRegex:        c.DateRegex,
		DescriptionRegex: c.DescriptionRegex,
		CounterpartRegex: c.CounterpartRegex,
		ReferenceRegex:   c.ReferenceRegex,
		Priority:         priority,
		IsActive:         true,
		GeneratedBy:      "synthesis",
	}
}

// isDuplicate treats a candidate as a duplicate when an existing template
// already carries the same amount regex and subject pattern.
func isDuplicate(t *database.Template, existing []database.Template) bool {
	for i := range existing {
		if existing[i].AmountRegex == t.AmountRegex && existing[i].SubjectPattern == t.SubjectPattern {
			return true
		}
	}
	return false
}

func buildRetryGuidance(failures []string) string {
	if len(failures) == 0 {
		return "The previous response contained no usable templates. " +
			"Check that every amount_regex uses a (?P<amount>...) named group that matches the sample bodies."
	}

	return "These candidates failed validation against the samples: " +
		strings.Join(failures, "; ") +
		". Loosen the failing patterns so they match the literal text in the sample bodies."
}
