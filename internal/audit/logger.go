package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Entry represents a structured audit event.
type Entry struct {
	ID         uuid.UUID
	AccountID  *uuid.UUID
	Action     string
	Provider   string
	Resource   string
	ResourceID string
	IPAddress  string
	UserAgent  string
	Context    map[string]any
	OccurredAt time.Time
}

// Sink persists audit entries.
type Sink interface {
	AppendAudit(ctx context.Context, entry Entry) error
	RecentAudit(ctx context.Context, limit int) ([]Entry, error)
}

// Logger writes audit entries into the store.
type Logger struct {
	sink   Sink
	logger *zap.Logger
}

// New constructs a Logger. A nil sink only logs.
func New(sink Sink, logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{sink: sink, logger: logger}
}

// Record persists an audit entry, logging failures but not interrupting flows.
func (l *Logger) Record(ctx context.Context, entry Entry) {
	if l == nil || entry.Action == "" {
		return
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.OccurredAt = timeOrDefault(entry.OccurredAt)

	l.logger.Debug("audit", zap.String("action", entry.Action), zap.String("provider", entry.Provider))
	if l.sink == nil {
		return
	}
	if err := l.sink.AppendAudit(ctx, entry); err != nil {
		l.logger.Warn("failed to persist audit log", zap.Error(err), zap.String("action", entry.Action))
	}
}

// ListRecent retrieves most recent entries for debugging/ops.
func (l *Logger) ListRecent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	if l.sink == nil {
		return nil, nil
	}
	return l.sink.RecentAudit(ctx, limit)
}

func timeOrDefault(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
