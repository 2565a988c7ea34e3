package template

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/jmoralesv/bankmail/app/database"
)

const retirementMinAttempts = 10

// Optimizer reorders template priorities by observed performance and
// retires templates that keep failing.
type Optimizer struct {
	templateRepo    database.TemplateRepository
	retirementFloor float64
}

func NewOptimizer(templateRepo database.TemplateRepository, retirementFloor float64) *Optimizer {
	return &Optimizer{templateRepo: templateRepo, retirementFloor: retirementFloor}
}

// OptimizeSource rescores the source's active templates: best performer gets
// priority 100, the next 90, and so on. Templates with enough history and a
// success rate below the retirement floor are deactivated.
func (o *Optimizer) OptimizeSource(sourceID int64) error {
	templates, err := o.templateRepo.GetActiveTemplates(sourceID)
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}

	var survivors []database.Template
	for _, t := range templates {
		attempts := t.Successes + t.Failures
		if attempts >= retirementMinAttempts && t.SuccessRate() < o.retirementFloor {
			if err := o.templateRepo.SetTemplateActive(t.ID, false); err != nil {
				return fmt.Errorf("failed to retire template %d: %w", t.ID, err)
			}
			slog.Info("Template retired",
				"template_id", t.ID, "name", t.Name, "success_rate", t.SuccessRate(), "attempts", attempts)
			continue
		}
		survivors = append(survivors, t)
	}

	sort.SliceStable(survivors, func(i, j int) bool {
		return performanceScore(&survivors[i]) > performanceScore(&survivors[j])
	})

	for i, t := range survivors {
		priority := 100 - i*10
		if priority < 10 {
			priority = 10
		}
		if priority == t.Priority {
			continue
		}
		if err := o.templateRepo.UpdatePriority(t.ID, priority); err != nil {
			return fmt.Errorf("failed to update priority for template %d: %w", t.ID, err)
		}
	}

	return nil
}

// performanceScore blends success rate, average confidence and usage volume.
// Usage saturates at 100 uses so a busy mediocre template cannot outrank a
// reliable newer one forever.
func performanceScore(t *database.Template) float64 {
	usage := float64(t.Uses) / 100
	if usage > 1 {
		usage = 1
	}
	return t.SuccessRate()*0.5 + t.AvgConfidence*0.3 + usage*0.2
}
