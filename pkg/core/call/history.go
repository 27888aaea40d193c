package call

import (
	"sync"
	"time"
)

// TranscriptLine is one attributed utterance in a call.
type TranscriptLine struct {
	Speaker int       `json:"speaker,omitempty"`
	Role    string    `json:"role"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// transcriptRing is a bounded per-call transcript buffer; the oldest line is
// evicted when full.
type transcriptRing struct {
	lines []TranscriptLine
	max   int
}

func newTranscriptRing(max int) *transcriptRing {
	if max <= 0 {
		max = 1
	}
	return &transcriptRing{max: max}
}

func (r *transcriptRing) add(line TranscriptLine) {
	r.lines = append(r.lines, line)
	if len(r.lines) > r.max {
		r.lines = r.lines[len(r.lines)-r.max:]
	}
}

func (r *transcriptRing) snapshot() []TranscriptLine {
	out := make([]TranscriptLine, len(r.lines))
	copy(out, r.lines)
	return out
}

// CallRecord is the immutable cross-call snapshot promoted on teardown.
type CallRecord struct {
	CallID     string
	Number     int
	Roster     []int
	Transcript []TranscriptLine
	Scenario   string
	EndedAt    time.Time
}

// HistoryStore keeps call records for the lifetime of the process session.
// Append-only; records feed continuity context into later calls.
type HistoryStore struct {
	mu      sync.Mutex
	records []CallRecord
}

// NewHistoryStore creates an empty store.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{}
}

// Append adds a record.
func (s *HistoryStore) Append(rec CallRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

// Records returns a copy of all records in append order.
func (s *HistoryStore) Records() []CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CallRecord, len(s.records))
	copy(out, s.records)
	return out
}

// ForNumber returns records of earlier calls with the given identity.
func (s *HistoryStore) ForNumber(number int) []CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []CallRecord
	for _, rec := range s.records {
		if rec.Number == number {
			out = append(out, rec)
		}
	}
	return out
}
