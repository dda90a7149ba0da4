package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/bengobox/signin-service/internal/audit"
)

type auditRow struct {
	ID         uuid.UUID     `db:"id"`
	AccountID  uuid.NullUUID `db:"account_id"`
	Action     string        `db:"action"`
	Provider   string        `db:"provider"`
	Resource   string        `db:"resource"`
	ResourceID string        `db:"resource_id"`
	IPAddress  string        `db:"ip_address"`
	UserAgent  string        `db:"user_agent"`
	Context    string        `db:"context"`
	OccurredAt time.Time     `db:"occurred_at"`
}

func (s *Store) AppendAudit(ctx context.Context, entry audit.Entry) error {
	payload := []byte("{}")
	if len(entry.Context) > 0 {
		var err error
		if payload, err = json.Marshal(entry.Context); err != nil {
			return fmt.Errorf("encode audit context: %w", err)
		}
	}
	var accountID uuid.NullUUID
	if entry.AccountID != nil {
		accountID = uuid.NullUUID{UUID: *entry.AccountID, Valid: true}
	}
	query, args := s.builder().Insert(tableAudit).
		Columns("id", "account_id", "action", "provider", "resource", "resource_id", "ip_address", "user_agent", "context", "occurred_at").
		Values(entry.ID, accountID, entry.Action, entry.Provider, entry.Resource, entry.ResourceID, entry.IPAddress, entry.UserAgent, string(payload), entry.OccurredAt).
		Query()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *Store) RecentAudit(ctx context.Context, limit int) ([]audit.Entry, error) {
	query, args := s.builder().
		Select("id", "account_id", "action", "provider", "resource", "resource_id", "ip_address", "user_agent", "context", "occurred_at").
		From(s.builder().Table(tableAudit)).
		OrderBy(entsql.Desc("occurred_at")).
		Limit(limit).
		Query()
	var rows []auditRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}

	out := make([]audit.Entry, 0, len(rows))
	for _, r := range rows {
		e := audit.Entry{
			ID:         r.ID,
			Action:     r.Action,
			Provider:   r.Provider,
			Resource:   r.Resource,
			ResourceID: r.ResourceID,
			IPAddress:  r.IPAddress,
			UserAgent:  r.UserAgent,
			OccurredAt: r.OccurredAt,
		}
		if r.AccountID.Valid {
			id := r.AccountID.UUID
			e.AccountID = &id
		}
		if r.Context != "" && r.Context != "{}" {
			_ = json.Unmarshal([]byte(r.Context), &e.Context)
		}
		out = append(out, e)
	}
	return out, nil
}
