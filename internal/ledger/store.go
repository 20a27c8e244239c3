package ledger

import (
	"context"
	"sync"
	"time"
)

// Submission is one journaled contract call.
type Submission struct {
	ID         int64     `json:"id"`
	Action     string    `json:"action"`
	MarketID   string    `json:"marketId"`
	RequestKey string    `json:"requestKey"`
	To         string    `json:"to"`
	CallData   string    `json:"callData"`
	TxHandle   string    `json:"txHandle"`
	CreatedAt  time.Time `json:"createdAt"`
}

// SubmissionStore persists the journal.
type SubmissionStore interface {
	AppendSubmission(ctx context.Context, sub Submission) error
	ListSubmissions(ctx context.Context, marketID string) ([]Submission, error)
}

// MemoryStore keeps the journal in process.
type MemoryStore struct {
	mu   sync.RWMutex
	subs []Submission
}

// NewMemoryStore builds an empty journal.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) AppendSubmission(_ context.Context, sub Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub.ID = int64(len(m.subs) + 1)
	m.subs = append(m.subs, sub)
	return nil
}

// ListSubmissions returns the journal of a market in insertion order; an
// empty marketID lists everything.
func (m *MemoryStore) ListSubmissions(_ context.Context, marketID string) ([]Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Submission, 0)
	for _, s := range m.subs {
		if marketID == "" || s.MarketID == marketID {
			out = append(out, s)
		}
	}
	return out, nil
}

var _ SubmissionStore = (*MemoryStore)(nil)
