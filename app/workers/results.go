package workers

import (
	"sync"

	"github.com/jmoralesv/bankmail/app/database"
)

// ResultSink collects per-account import outcomes. Import workers write, the
// coordinator drains once per batch tick after the wait window closes. An
// import finishing after the drain stays in the sink and lands in the next
// tick's summary.
type ResultSink struct {
	mu      sync.Mutex
	results map[int64]database.AccountResult
}

func NewResultSink() *ResultSink {
	return &ResultSink{results: make(map[int64]database.AccountResult)}
}

// Drain returns every collected result and empties the sink.
func (s *ResultSink) Drain() map[int64]database.AccountResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.results
	s.results = make(map[int64]database.AccountResult)
	return out
}

func (s *ResultSink) Record(accountID int64, result database.AccountResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[accountID] = result
}

