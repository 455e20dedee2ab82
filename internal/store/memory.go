package store

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Memory is an in-process completion ledger used when no datastore is configured.
type Memory struct {
	mu        sync.Mutex
	responses map[string]*Response
	lease     time.Duration
}

// NewMemory returns an empty ledger.
func NewMemory() *Memory {
	return &Memory{responses: make(map[string]*Response), lease: DefaultLease}
}

// SetLease sets how long a streaming claim is honoured.
func (m *Memory) SetLease(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lease = leaseOrDefault(d)
}

// BeginResponse claims a response id; false means it was already completed
// or is held by a live claim.
func (m *Memory) BeginResponse(_ context.Context, responseUUID, channel string) (bool, error) {
	if responseUUID == "" {
		return false, errors.New("response uuid required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := m.responses[responseUUID]; ok {
		if existing.Status == ResponseCompleted || !existing.UpdatedAt.Before(now.Add(-m.lease)) {
			return false, nil
		}
		existing.UpdatedAt = now
		return true, nil
	}
	m.responses[responseUUID] = &Response{
		ResponseUUID: responseUUID,
		Channel:      channel,
		Status:       ResponseStreaming,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return true, nil
}

// FinishResponse marks a response completed.
func (m *Memory) FinishResponse(_ context.Context, r *Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.responses[r.ResponseUUID]
	if !ok {
		return ErrNotFound
	}
	r.Status = ResponseCompleted
	r.UpdatedAt = time.Now().UTC()
	r.CreatedAt = existing.CreatedAt
	if r.Channel == "" {
		r.Channel = existing.Channel
	}
	stored := *r
	m.responses[r.ResponseUUID] = &stored
	return nil
}

// GetResponse returns a copy of the record for a response id.
func (m *Memory) GetResponse(_ context.Context, responseUUID string) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.responses[responseUUID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *r
	return &out, nil
}

// PruneResponses drops records last updated before cutoff.
func (m *Memory) PruneResponses(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for id, r := range m.responses {
		if r.UpdatedAt.Before(cutoff) {
			delete(m.responses, id)
			removed++
		}
	}
	return removed, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
