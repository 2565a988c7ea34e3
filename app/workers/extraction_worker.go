package workers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoralesv/bankmail/app/database"
	"github.com/jmoralesv/bankmail/app/synth"
	"github.com/jmoralesv/bankmail/app/template"
)

// ExtractionWorker executes one leased parse job: identify the owning bank,
// select a template, extract fields, and create the transaction when
// confidence clears the threshold. Domain failures land on the parse record;
// an error return means the job itself should be retried.
type ExtractionWorker struct {
	parseRepo           database.ParseRepository
	sourceRepo          database.SourceRepository
	templateRepo        database.TemplateRepository
	txRepo              database.TransactionRepository
	engine              *template.Engine
	confidenceThreshold float64
}

func NewExtractionWorker(parseRepo database.ParseRepository, sourceRepo database.SourceRepository,
	templateRepo database.TemplateRepository, txRepo database.TransactionRepository,
	engine *template.Engine, confidenceThreshold float64) *ExtractionWorker {
	return &ExtractionWorker{
		parseRepo:           parseRepo,
		sourceRepo:          sourceRepo,
		templateRepo:        templateRepo,
		txRepo:              txRepo,
		engine:              engine,
		confidenceThreshold: confidenceThreshold,
	}
}

func (w *ExtractionWorker) Process(ctx context.Context, job *database.JobEntry) error {
	var payload parsePayload
	if err := decodePayload(job.Payload, &payload); err != nil {
		return err
	}

	record, err := w.parseRepo.GetParseRecord(payload.RecordID)
	if err != nil {
		return fmt.Errorf("failed to load parse record %d: %w", payload.RecordID, err)
	}
	if record == nil {
		slog.Warn("Parse job for missing record, dropping", "record_id", payload.RecordID)
		return nil
	}
	if record.ParsingStatus != database.ParseStatusPending {
		slog.Debug("Parse record already settled, dropping",
			"record_id", record.ID, "parsing_status", record.ParsingStatus)
		return nil
	}

	source, err := w.identifySource(record)
	if err != nil {
		return err
	}
	if source == nil {
		if err := w.parseRepo.MarkFailed(record.ID, nil, database.FailureNoSourceIdentified, 0); err != nil {
			return fmt.Errorf("failed to mark record: %w", err)
		}
		return nil
	}

	templates, err := w.templateRepo.GetActiveTemplates(source.ID)
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}
	if len(templates) == 0 {
		if err := w.parseRepo.MarkFailed(record.ID, &source.ID, database.FailureNoTemplateConfigured, 0); err != nil {
			return fmt.Errorf("failed to mark record: %w", err)
		}
		return nil
	}

	body := synth.StripHTML(record.Body)

	tmpl := w.engine.SelectTemplate(templates, record.Sender, record.Subject, body)
	if tmpl == nil {
		if err := w.parseRepo.MarkFailed(record.ID, &source.ID, database.FailureLowConfidence, 0); err != nil {
			return fmt.Errorf("failed to mark record: %w", err)
		}
		return nil
	}

	fallbackDate := time.Now().UTC()
	if record.ReceivedAt != nil {
		fallbackDate = *record.ReceivedAt
	}

	extraction, extractErr := w.engine.Extract(tmpl, body, fallbackDate)
	if extractErr != nil {
		if err := w.templateRepo.RecordAttempt(tmpl.ID, false, 0); err != nil {
			return fmt.Errorf("failed to record template attempt: %w", err)
		}
		if err := w.parseRepo.MarkFailed(record.ID, &source.ID, database.FailureLowConfidence, 0); err != nil {
			return fmt.Errorf("failed to mark record: %w", err)
		}
		slog.Debug("Extraction failed",
			"record_id", record.ID, "template_id", tmpl.ID, "error", extractErr)
		return nil
	}

	if extraction.Confidence < w.confidenceThreshold {
		if err := w.templateRepo.RecordAttempt(tmpl.ID, false, extraction.Confidence); err != nil {
			return fmt.Errorf("failed to record template attempt: %w", err)
		}
		if err := w.parseRepo.MarkFailed(record.ID, &source.ID, database.FailureLowConfidence, extraction.Confidence); err != nil {
			return fmt.Errorf("failed to mark record: %w", err)
		}
		return nil
	}

	// A transaction may already exist if an earlier attempt crashed between
	// creation and settling the record. Settle the record, skip the insert.
	exists, err := w.txRepo.ExistsForRecord(record.ID)
	if err != nil {
		return fmt.Errorf("failed to check existing transaction: %w", err)
	}

	if !exists {
		counterpart := extraction.Counterpart
		fromLabel, toLabel := transactionLabels(extraction.IsDebit, counterpart)

		if _, err := w.txRepo.CreateTransaction(&database.Transaction{
			ParseRecordID: record.ID,
			TemplateID:    &tmpl.ID,
			Amount:        extraction.Amount,
			Currency:      extraction.Currency,
			IsDebit:       extraction.IsDebit,
			Date:          extraction.Date,
			Description:   extraction.Description,
			Counterpart:   counterpart,
			FromLabel:     fromLabel,
			ToLabel:       toLabel,
			Reference:     extraction.Reference,
			Confidence:    extraction.Confidence,
		}); err != nil {
			return fmt.Errorf("failed to create transaction: %w", err)
		}

		if err := w.templateRepo.RecordAttempt(tmpl.ID, true, extraction.Confidence); err != nil {
			return fmt.Errorf("failed to record template attempt: %w", err)
		}
		if err := w.sourceRepo.IncrementProcessed(source.ID, 1); err != nil {
			return fmt.Errorf("failed to update source counters: %w", err)
		}
	} else {
		slog.Warn("Transaction already exists for record, settling without insert", "record_id", record.ID)
	}

	if err := w.parseRepo.MarkSuccess(record.ID, source.ID, tmpl.ID, extraction.Confidence); err != nil {
		return fmt.Errorf("failed to mark record: %w", err)
	}

	slog.Info("Transaction extracted",
		"record_id", record.ID, "source", source.Slug, "template_id", tmpl.ID,
		"amount", extraction.Amount, "currency", extraction.Currency,
		"confidence", extraction.Confidence)

	return nil
}

// identifySource matches the record's sender against the registry, falling
// back to keyword hits in the subject and body. Ties go to the source with
// the highest match priority.
func (w *ExtractionWorker) identifySource(record *database.ParseRecord) (*database.Source, error) {
	sources, err := w.sourceRepo.ListActiveSources()
	if err != nil {
		return nil, fmt.Errorf("failed to load sources: %w", err)
	}

	sender := strings.ToLower(strings.TrimSpace(record.Sender))
	senderDomain := ""
	if at := strings.LastIndex(sender, "@"); at >= 0 {
		senderDomain = sender[at+1:]
	}

	var best *database.Source
	for i := range sources {
		s := &sources[i]
		if !matchesSource(s, sender, senderDomain, record.Subject, record.Body) {
			continue
		}
		if best == nil || s.MatchPriority > best.MatchPriority {
			best = s
		}
	}

	return best, nil
}

func matchesSource(s *database.Source, sender, senderDomain, subject, body string) bool {
	for _, email := range s.SenderEmails {
		if strings.EqualFold(email, sender) {
			return true
		}
	}

	for _, domain := range s.SenderDomains {
		d := strings.ToLower(domain)
		if senderDomain == d || strings.HasSuffix(senderDomain, "."+d) {
			return true
		}
	}

	if len(s.Keywords) > 0 {
		haystack := strings.ToLower(subject + " " + body)
		for _, keyword := range s.Keywords {
			if strings.Contains(haystack, strings.ToLower(keyword)) {
				return true
			}
		}
	}

	return false
}

// transactionLabels derives from/to labels so a transaction reads naturally
// in either direction.
func transactionLabels(isDebit bool, counterpart string) (string, string) {
	if counterpart == "" {
		counterpart = "unknown"
	}

	if isDebit {
		return "account", counterpart
	}
	return counterpart, "account"
}
