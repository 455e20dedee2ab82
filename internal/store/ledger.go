package store

import (
	"context"
	"strings"
	"time"
)

// Ledger is the completion ledger contract shared by Store and Memory.
type Ledger interface {
	BeginResponse(ctx context.Context, responseUUID, channel string) (bool, error)
	FinishResponse(ctx context.Context, r *Response) error
	GetResponse(ctx context.Context, responseUUID string) (*Response, error)
	PruneResponses(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// DefaultLease is how long a streaming claim blocks other deliveries of the
// same response. It must exceed the longest run; Lambda caps a run at 15 minutes.
const DefaultLease = 15 * time.Minute

var (
	_ Ledger = (*Store)(nil)
	_ Ledger = (*Memory)(nil)
)

// OpenLedger opens the SQL store for driver, or an in-memory ledger when
// driver is empty or "memory". A lease of 0 means DefaultLease.
func OpenLedger(driver, dsn string, lease time.Duration) (Ledger, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "memory":
		m := NewMemory()
		m.SetLease(lease)
		return m, nil
	default:
		s, err := Open(dsn, driver)
		if err != nil {
			return nil, err
		}
		s.SetLease(lease)
		return s, nil
	}
}

func leaseOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultLease
	}
	return d
}
