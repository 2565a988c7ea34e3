package synth

import (
	"context"
)

// SampleEmail is one training email handed to the synthesizer.
type SampleEmail struct {
	Sender  string `json:"sender"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// CandidateTemplate is an unvalidated template proposal. Field regexes use
// Go named groups, e.g. (?P<amount>...).
type CandidateTemplate struct {
	Name             string   `json:"template_name"`
	Kind             string   `json:"template_type"`
	SubjectPattern   string   `json:"subject_pattern"`
	SenderPattern    string   `json:"sender_pattern"`
	BodyContains     []string `json:"body_contains"`
	BodyExcludes     []string `json:"body_excludes"`
	AmountRegex      string   `json:"amount_regex"`
	DateRegex        string   `json:"date_regex"`
	DescriptionRegex string   `json:"description_regex"`
	CounterpartRegex string   `json:"counterpart_regex"`
	ReferenceRegex   string   `json:"reference_regex"`
	Priority         int      `json:"priority"`
}

// Synthesizer produces candidate extraction templates from sample emails.
// Guidance carries feedback from failed validation rounds back into the
// next attempt.
type Synthesizer interface {
	Synthesize(ctx context.Context, sourceName string, samples []SampleEmail, guidance string) ([]CandidateTemplate, error)
}
