package template

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jmoralesv/bankmail/app/database"
)

// Field confidence weights. Amount dominates because a transaction without
// an amount is useless; the rest degrade gracefully.
const (
	weightAmount      = 0.9
	weightDescription = 0.8
	weightDate        = 0.7
	weightCounterpart = 0.6
	weightReference   = 0.5
)

// Match scoring weights. Body keyword checks disqualify on miss instead of
// just scoring zero.
const (
	scoreSubject  = 0.3
	scoreSender   = 0.2
	scoreContains = 0.3
	scoreExcludes = 0.2
)

// Extraction is the parsed outcome of applying one template to one email.
type Extraction struct {
	Amount      float64
	Currency    string
	IsDebit     bool
	Date        time.Time
	Description string
	Counterpart string
	Reference   string
	Confidence  float64
}

// Engine applies extraction templates to emails: selection scoring and
// named-group field extraction with per-field confidence.
type Engine struct {
	matchFloor float64
}

func NewEngine(matchFloor float64) *Engine {
	return &Engine{matchFloor: matchFloor}
}

// SelectTemplate scores every template against the email and returns the
// best match at or above the floor, or nil when nothing qualifies.
// Selection is deterministic: ties break on success rate, then priority,
// then lowest ID.
func (e *Engine) SelectTemplate(templates []database.Template, sender, subject, body string) *database.Template {
	var best *database.Template
	bestScore := 0.0

	for i := range templates {
		t := &templates[i]
		score := e.scoreMatch(t, sender, subject, body)
		if score < e.matchFloor {
			continue
		}

		if best == nil || score > bestScore ||
			(score == bestScore && betterTieBreak(t, best)) {
			best = t
			bestScore = score
		}
	}

	return best
}

func betterTieBreak(candidate, current *database.Template) bool {
	if candidate.SuccessRate() != current.SuccessRate() {
		return candidate.SuccessRate() > current.SuccessRate()
	}
	if candidate.Priority != current.Priority {
		return candidate.Priority > current.Priority
	}
	return candidate.ID < current.ID
}

// scoreMatch returns a match score in [0, 1]. A failed body_contains or a
// triggered body_excludes disqualifies the template outright.
func (e *Engine) scoreMatch(t *database.Template, sender, subject, body string) float64 {
	score := 0.0
	lowerBody := strings.ToLower(body)

	if t.SubjectPattern != "" {
		if re, err := regexp.Compile("(?i)" + t.SubjectPattern); err == nil && re.MatchString(subject) {
			score += scoreSubject
		}
	}

	if t.SenderPattern != "" {
		if re, err := regexp.Compile("(?i)" + t.SenderPattern); err == nil && re.MatchString(sender) {
			score += scoreSender
		}
	}

	if len(t.BodyContains) > 0 {
		for _, keyword := range t.BodyContains {
			if !strings.Contains(lowerBody, strings.ToLower(keyword)) {
				return 0
			}
		}
		score += scoreContains
	}

	for _, keyword := range t.BodyExcludes {
		if keyword != "" && strings.Contains(lowerBody, strings.ToLower(keyword)) {
			return 0
		}
	}
	score += scoreExcludes

	return score
}

// Extract applies the template's field regexes to the email body. The amount
// field is mandatory; every other field lowers confidence when missing.
// fallbackDate stands in when no date can be parsed from the body.
func (e *Engine) Extract(t *database.Template, body string, fallbackDate time.Time) (*Extraction, error) {
	earned := 0.0
	total := 0.0

	amountRaw, ok := extractField(t.AmountRegex, "amount", body)
	total += weightAmount
	if !ok {
		return nil, fmt.Errorf("amount not found in email body")
	}
	amount, currency, err := ParseAmount(amountRaw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount %q: %w", amountRaw, err)
	}
	earned += weightAmount

	result := &Extraction{
		Amount:   amount,
		Currency: currency,
		IsDebit:  isDebitKind(t.Kind),
		Date:     fallbackDate,
	}

	if t.DescriptionRegex != "" {
		total += weightDescription
		if v, ok := extractField(t.DescriptionRegex, "description", body); ok {
			result.Description = strings.TrimSpace(v)
			earned += weightDescription
		}
	}

	if t.DateRegex != "" {
		total += weightDate
		if v, ok := extractField(t.DateRegex, "date", body); ok {
			if parsed, err := ParseDate(v); err == nil {
				result.Date = parsed
				earned += weightDate
			}
		}
	}

	if t.CounterpartRegex != "" {
		total += weightCounterpart
		if v, ok := extractField(t.CounterpartRegex, "counterpart", body); ok {
			result.Counterpart = strings.TrimSpace(v)
			earned += weightCounterpart
		}
	}

	if t.ReferenceRegex != "" {
		total += weightReference
		if v, ok := extractField(t.ReferenceRegex, "reference", body); ok {
			result.Reference = strings.TrimSpace(v)
			earned += weightReference
		}
	}

	result.Confidence = earned / total

	return result, nil
}

// extractField runs the regex against the body and returns the named group
// if present, otherwise the first capture group.
func extractField(pattern, group, body string) (string, bool) {
	if pattern == "" {
		return "", false
	}

	re, err := regexp.Compile("(?is)" + pattern)
	if err != nil {
		return "", false
	}

	match := re.FindStringSubmatch(body)
	if match == nil {
		return "", false
	}

	for i, name := range re.SubexpNames() {
		if name == group && i < len(match) && match[i] != "" {
			return match[i], true
		}
	}

	if len(match) > 1 && match[1] != "" {
		return match[1], true
	}

	return "", false
}

func isDebitKind(kind string) bool {
	return kind != "deposit"
}
