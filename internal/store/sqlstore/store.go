package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/bengobox/signin-service/internal/audit"
	"github.com/bengobox/signin-service/internal/database"
	"github.com/bengobox/signin-service/internal/identity"
	"github.com/bengobox/signin-service/internal/services/accounts"
)

const (
	tableAccounts   = "accounts"
	tableLinks      = "account_links"
	tableRemoteInfo = "account_remote_info"
	tableAudit      = "audit_log"
)

var accountColumns = []string{"id", "username", "email", "role", "first_name", "last_name", "display_name", "created_at", "updated_at"}

// Store persists accounts, provider links and audit entries in Postgres or SQLite.
type Store struct {
	db      *sqlx.DB
	dialect string
	now     func() time.Time
}

// New wraps an open database handle. driver is the configured database driver.
func New(db *sqlx.DB, driver string) *Store {
	return &Store{
		db:      db,
		dialect: database.Dialect(driver),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) builder() *entsql.DialectBuilder {
	return entsql.Dialect(s.dialect)
}

func (s *Store) getAccount(ctx context.Context, pred *entsql.Predicate) (*accounts.Account, error) {
	query, args := s.builder().Select(accountColumns...).From(s.builder().Table(tableAccounts)).Where(pred).Limit(1).Query()
	var a accounts.Account
	if err := s.db.GetContext(ctx, &a, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, accounts.ErrAccountNotFound
		}
		return nil, fmt.Errorf("query account: %w", err)
	}
	return &a, nil
}

func (s *Store) FindAccountByID(ctx context.Context, id uuid.UUID) (*accounts.Account, error) {
	return s.getAccount(ctx, entsql.EQ("id", id))
}

func (s *Store) FindAccountByEmail(ctx context.Context, email string) (*accounts.Account, error) {
	return s.getAccount(ctx, entsql.EQ("email", lower(email)))
}

func (s *Store) FindAccountByLink(ctx context.Context, provider identity.Provider, email string) (*accounts.Account, error) {
	b := s.builder()
	a, l := b.Table(tableAccounts), b.Table(tableLinks)
	query, args := b.Select(a.Columns(accountColumns...)...).
		From(a).
		Join(l).On(a.C("id"), l.C("account_id")).
		Where(entsql.And(entsql.EQ(l.C("provider"), string(provider)), entsql.EQ(l.C("email"), lower(email)))).
		OrderBy(l.C("created_at")).
		Limit(1).
		Query()
	var acc accounts.Account
	if err := s.db.GetContext(ctx, &acc, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, accounts.ErrAccountNotFound
		}
		return nil, fmt.Errorf("query account by link: %w", err)
	}
	return &acc, nil
}

func (s *Store) UsernameExists(ctx context.Context, username string) (bool, error) {
	query, args := s.builder().Select("id").From(s.builder().Table(tableAccounts)).Where(entsql.EQ("username", username)).Limit(1).Query()
	var id string
	err := s.db.GetContext(ctx, &id, query, args...)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("query username: %w", err)
	}
	return true, nil
}

func (s *Store) CreateAccount(ctx context.Context, in accounts.NewAccount) (*accounts.Account, error) {
	now := s.now()
	a := &accounts.Account{
		ID:        uuid.New(),
		Username:  in.Username,
		Email:     lower(in.Email),
		Role:      in.Role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	query, args := s.builder().Insert(tableAccounts).
		Columns("id", "username", "email", "password_hash", "role", "created_at", "updated_at").
		Values(a.ID, a.Username, a.Email, in.PasswordHash, a.Role, a.CreatedAt, a.UpdatedAt).
		Query()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if column, ok := uniqueViolation(err); ok {
			if column == "username" {
				return nil, accounts.ErrUsernameTaken
			}
			return nil, accounts.ErrDuplicateAccount
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return a, nil
}

func (s *Store) CreateOrKeepLink(ctx context.Context, accountID uuid.UUID, provider identity.Provider, email string) (accounts.Link, bool, error) {
	if _, err := s.FindAccountByID(ctx, accountID); err != nil {
		return accounts.Link{}, false, err
	}
	query, args := s.builder().Insert(tableLinks).
		Columns("account_id", "provider", "email", "created_at").
		Values(accountID, string(provider), lower(email), s.now()).
		OnConflict(entsql.ConflictColumns("account_id", "provider"), entsql.DoNothing()).
		Query()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return accounts.Link{}, false, fmt.Errorf("insert account link: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return accounts.Link{}, false, fmt.Errorf("insert account link: %w", err)
	}

	link, err := s.getLink(ctx, accountID, provider)
	if err != nil {
		return accounts.Link{}, false, err
	}
	return link, affected == 1, nil
}

func (s *Store) getLink(ctx context.Context, accountID uuid.UUID, provider identity.Provider) (accounts.Link, error) {
	query, args := s.builder().Select("account_id", "provider", "email", "created_at").
		From(s.builder().Table(tableLinks)).
		Where(entsql.And(entsql.EQ("account_id", accountID), entsql.EQ("provider", string(provider)))).
		Query()
	var l accounts.Link
	if err := s.db.GetContext(ctx, &l, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return accounts.Link{}, accounts.ErrLinkNotFound
		}
		return accounts.Link{}, fmt.Errorf("query account link: %w", err)
	}
	return l, nil
}

func (s *Store) DeleteLink(ctx context.Context, accountID uuid.UUID, provider identity.Provider) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin unlink: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	pred := entsql.And(entsql.EQ("account_id", accountID), entsql.EQ("provider", string(provider)))
	query, args := s.builder().Delete(tableLinks).Where(pred).Query()
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete account link: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("delete account link: %w", err)
	} else if n == 0 {
		return accounts.ErrLinkNotFound
	}

	pred = entsql.And(entsql.EQ("account_id", accountID), entsql.EQ("provider", string(provider)))
	query, args = s.builder().Delete(tableRemoteInfo).Where(pred).Query()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete remote info: %w", err)
	}
	return tx.Commit()
}

func (s *Store) ListLinks(ctx context.Context, accountID uuid.UUID) ([]accounts.Link, error) {
	query, args := s.builder().Select("account_id", "provider", "email", "created_at").
		From(s.builder().Table(tableLinks)).
		Where(entsql.EQ("account_id", accountID)).
		OrderBy("provider").
		Query()
	var links []accounts.Link
	if err := s.db.SelectContext(ctx, &links, query, args...); err != nil {
		return nil, fmt.Errorf("list account links: %w", err)
	}
	return links, nil
}

func (s *Store) SetProfileFields(ctx context.Context, accountID uuid.UUID, fields accounts.ProfileFields) error {
	now := s.now()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin profile update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	update := s.builder().Update(tableAccounts).Set("updated_at", now)
	if fields.FirstName != "" {
		update.Set("first_name", fields.FirstName)
	}
	if fields.LastName != "" {
		update.Set("last_name", fields.LastName)
	}
	if fields.DisplayName != "" {
		update.Set("display_name", fields.DisplayName)
	}
	query, args := update.Where(entsql.EQ("id", accountID)).Query()
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update profile fields: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return accounts.ErrAccountNotFound
	}

	if fields.Raw != nil {
		payload, err := json.Marshal(fields.Raw)
		if err != nil {
			return fmt.Errorf("encode remote info: %w", err)
		}
		query, args := s.builder().Insert(tableRemoteInfo).
			Columns("account_id", "provider", "payload", "updated_at").
			Values(accountID, string(fields.Provider), string(payload), now).
			OnConflict(
				entsql.ConflictColumns("account_id", "provider"),
				entsql.ResolveWithNewValues(),
			).
			Query()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("save remote info: %w", err)
		}
	}
	return tx.Commit()
}

// RemoteInfo returns the persisted raw provider payload, if any.
func (s *Store) RemoteInfo(ctx context.Context, accountID uuid.UUID, provider identity.Provider) (identity.RawProfile, error) {
	query, args := s.builder().Select("payload").
		From(s.builder().Table(tableRemoteInfo)).
		Where(entsql.And(entsql.EQ("account_id", accountID), entsql.EQ("provider", string(provider)))).
		Query()
	var payload string
	if err := s.db.GetContext(ctx, &payload, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, accounts.ErrLinkNotFound
		}
		return nil, fmt.Errorf("query remote info: %w", err)
	}
	var raw identity.RawProfile
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("decode remote info: %w", err)
	}
	return raw, nil
}

func lower(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// uniqueViolation reports whether err is a unique constraint failure and on which column.
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != "23505" {
			return "", false
		}
		if strings.Contains(pgErr.ConstraintName, "username") {
			return "username", true
		}
		return "email", true
	}
	// modernc reports "UNIQUE constraint failed: accounts.username"
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return "", false
	}
	if strings.Contains(msg, ".username") {
		return "username", true
	}
	return "email", true
}

var (
	_ accounts.Store = (*Store)(nil)
	_ audit.Sink     = (*Store)(nil)
)
