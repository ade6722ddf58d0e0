package session

import "context"

// Store is the interface for session persistence. Messages are append-only:
// AddMessage assigns the next sequence number and GetMessages returns them in
// sequence order.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error

	List(ctx context.Context, limit, offset int) ([]SessionSummary, error)

	AddMessage(ctx context.Context, sessionID string, msg *Message) error
	GetMessages(ctx context.Context, sessionID string) ([]Message, error)

	// UpdateMetrics adds the given deltas to the session's counters.
	UpdateMetrics(ctx context.Context, id string, m Metrics) error

	Close() error
}

// NewStore creates a Store. When persistence is disabled, writes are
// silently discarded via the no-op store.
func NewStore(enabled bool, dbPath string) (Store, error) {
	if !enabled {
		return &NoopStore{}, nil
	}
	return NewSQLiteStore(dbPath)
}
