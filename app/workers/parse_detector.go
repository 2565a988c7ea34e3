package workers

import (
	"fmt"
	"log/slog"

	"github.com/jmoralesv/bankmail/app/database"
)

// ParseDetector turns pending parse records into parse jobs, one per record,
// capped per scan. Records with a live job in the queue are skipped.
type ParseDetector struct {
	parseRepo   database.ParseRepository
	jobRepo     database.JobRepository
	batchSize   int
	maxAttempts int
}

func NewParseDetector(parseRepo database.ParseRepository, jobRepo database.JobRepository, batchSize, maxAttempts int) *ParseDetector {
	return &ParseDetector{
		parseRepo:   parseRepo,
		jobRepo:     jobRepo,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
	}
}

// DetectReady enqueues parse jobs for pending records and returns how many
// were enqueued.
func (d *ParseDetector) DetectReady() (int, error) {
	records, err := d.parseRepo.GetPendingRecords(d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to scan pending records: %w", err)
	}

	enqueued := 0
	for _, record := range records {
		ref := parseRef(record.ID)

		live, err := d.jobRepo.HasLive(database.QueueParse, ref)
		if err != nil {
			return enqueued, fmt.Errorf("failed to check live jobs: %w", err)
		}
		if live {
			continue
		}

		payload := encodePayload(parsePayload{RecordID: record.ID})
		if _, err := d.jobRepo.Enqueue(database.QueueParse, ref, payload, 0, d.maxAttempts); err != nil {
			return enqueued, fmt.Errorf("failed to enqueue parse job for record %d: %w", record.ID, err)
		}
		enqueued++
	}

	if enqueued > 0 {
		slog.Debug("Parse jobs enqueued", "count", enqueued, "scanned", len(records))
	}

	return enqueued, nil
}
