package database

import (
	"time"
)

// Account import statuses. "running" is exclusive: at most one import per
// account is in flight at any time.
const (
	ImportStatusWaiting   = "waiting"
	ImportStatusRunning   = "running"
	ImportStatusSuspended = "suspended"
	ImportStatusError     = "error"
)

// Queue entry statuses.
const (
	JobStatusPending = "pending"
	JobStatusLeased  = "leased"
	JobStatusDone    = "done"
	JobStatusFailed  = "failed"
)

// Queue names.
const (
	QueueImport = "import"
	QueueParse  = "parse"
)

// Parse record statuses.
const (
	ParseStatusPending = "pending"
	ParseStatusSuccess = "success"
	ParseStatusFailed  = "failed"
)

// Parse record failure reasons.
const (
	FailureNoSourceIdentified   = "no_source_identified"
	FailureNoTemplateConfigured = "no_template_configured"
	FailureLowConfidence        = "low_confidence"
)

// Account is one configured mailbox integration to poll for bank emails.
type Account struct {
	ID                   int64
	Provider             string
	EmailAddress         string
	AccessToken          string
	RefreshToken         string
	IsActive             bool
	SyncIntervalMinutes  int
	LookbackDays         int
	ImportStatus         string
	LastRunAt            *time.Time
	NextRunAt            *time.Time
	SuspendUntil         *time.Time
	SuspendReason        string
	ConsecutiveErrors    int
	EmailsFoundToday     int
	EmailsProcessedToday int
	CounterDate          string // YYYY-MM-DD of the rolling today-counters
	LastError            string
	LastErrorAt          *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Source is a registered bank: sender patterns used to identify the owning
// institution of an email, plus processing counters.
type Source struct {
	ID                  int64
	Slug                string
	Name                string
	SenderDomains       []string
	SenderEmails        []string
	Keywords            []string
	MatchPriority       int
	IsActive            bool
	EmailsProcessed     int
	TransactionsCreated int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Template is a reusable extraction pattern for one email layout of a source.
type Template struct {
	ID               int64
	SourceID         int64
	Name             string
	Kind             string
	SubjectPattern   string
	SenderPattern    string
	BodyContains     []string
	BodyExcludes     []string
	AmountRegex      string
	DateRegex        string
	DescriptionRegex string
	CounterpartRegex string
	ReferenceRegex   string
	Priority         int
	IsActive         bool
	Uses             int
	Successes        int
	Failures         int
	AvgConfidence    float64
	GeneratedBy      string
	LastUsedAt       *time.Time
	LastSuccessAt    *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SuccessRate returns the template's historical success rate, 0 if unused.
func (t *Template) SuccessRate() float64 {
	total := t.Successes + t.Failures
	if total == 0 {
		return 0
	}
	return float64(t.Successes) / float64(total)
}

// JobEntry is the single concurrency primitive: a durable, leasable unit of
// work. Ref marks the payload's subject (e.g. "import:7") so detectors can
// skip work that is already live.
type JobEntry struct {
	ID             int64
	QueueName      string
	Ref            string
	Payload        string
	Priority       int
	Status         string
	HolderID       string
	LeaseExpiresAt *time.Time
	Attempts       int
	MaxAttempts    int
	LastError      string
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

// ParseRecord is one candidate email awaiting (or past) extraction.
type ParseRecord struct {
	ID            int64
	AccountID     int64
	SourceID      *int64
	MessageID     string
	Sender        string
	Subject       string
	Body          string
	ReceivedAt    *time.Time
	ParsingStatus string
	FailureReason string
	Confidence    float64
	TemplateID    *int64
	ProcessedAt   *time.Time
	CreatedAt     time.Time
}

// Transaction is the terminal output of a successfully parsed record.
type Transaction struct {
	ID            int64
	ParseRecordID int64
	TemplateID    *int64
	Amount        float64
	Currency      string
	IsDebit       bool
	Date          time.Time
	Description   string
	Counterpart   string
	FromLabel     string
	ToLabel       string
	Reference     string
	Confidence    float64
	CreatedAt     time.Time
}

// AccountResult is the per-account outcome inside a batch run summary.
type AccountResult struct {
	EmailsFound     int    `json:"emails_found"`
	EmailsProcessed int    `json:"emails_processed"`
	Error           string `json:"error,omitempty"`
}

// BatchRun summarizes one scheduler tick end-to-end.
type BatchRun struct {
	ID                int64
	StartedAt         time.Time
	FinishedAt        *time.Time
	AccountsProcessed int
	EmailsFound       int
	EmailsProcessed   int
	Errors            int
	DurationMS        int64
	Results           map[int64]AccountResult
}
