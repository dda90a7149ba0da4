package accounts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/bengobox/signin-service/internal/identity"
)

var (
	// ErrAccountNotFound is returned by store lookups that match nothing.
	ErrAccountNotFound = errors.New("account not found")
	// ErrDuplicateAccount signals a unique email conflict on create; the resolver re-fetches instead of failing.
	ErrDuplicateAccount = errors.New("account with email already exists")
	// ErrUsernameTaken signals a unique username conflict on create.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrLinkNotFound is returned when unlinking a provider that was never linked.
	ErrLinkNotFound = errors.New("account link not found")
)

// Account is a local user account.
type Account struct {
	ID          uuid.UUID `db:"id"`
	Username    string    `db:"username"`
	Email       string    `db:"email"`
	Role        string    `db:"role"`
	FirstName   string    `db:"first_name"`
	LastName    string    `db:"last_name"`
	DisplayName string    `db:"display_name"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// NewAccount carries the fields of an account about to be created.
type NewAccount struct {
	Username     string
	Email        string
	PasswordHash string
	Role         string
}

// Link associates a local account with a provider identity, keyed by the provider email.
type Link struct {
	AccountID uuid.UUID         `db:"account_id"`
	Provider  identity.Provider `db:"provider"`
	Email     string            `db:"email"`
	CreatedAt time.Time         `db:"created_at"`
}

// ProfileFields are copied from the provider identity onto the account. Empty values are left untouched.
type ProfileFields struct {
	FirstName   string
	LastName    string
	DisplayName string
	// Provider and Raw are set only when remote info is persisted.
	Provider identity.Provider
	Raw      identity.RawProfile
}

// Store is the account persistence contract. Implementations must enforce unique emails and usernames
// and at most one link per (account, provider).
type Store interface {
	FindAccountByID(ctx context.Context, id uuid.UUID) (*Account, error)
	FindAccountByEmail(ctx context.Context, email string) (*Account, error)
	FindAccountByLink(ctx context.Context, provider identity.Provider, email string) (*Account, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	CreateAccount(ctx context.Context, in NewAccount) (*Account, error)
	// CreateOrKeepLink creates the link unless one already exists for (accountID, provider); an existing link is never overwritten.
	CreateOrKeepLink(ctx context.Context, accountID uuid.UUID, provider identity.Provider, email string) (Link, bool, error)
	DeleteLink(ctx context.Context, accountID uuid.UUID, provider identity.Provider) error
	ListLinks(ctx context.Context, accountID uuid.UUID) ([]Link, error)
	SetProfileFields(ctx context.Context, accountID uuid.UUID, fields ProfileFields) error
}
