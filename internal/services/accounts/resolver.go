package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bengobox/signin-service/internal/identity"
	"github.com/bengobox/signin-service/internal/providers/apple"
)

var (
	// ErrPermissionDenied indicates the permit-authorization hook vetoed the identity.
	ErrPermissionDenied = errors.New("sign-in not permitted for this user")
	// ErrForbiddenDomain indicates the email domain may not register.
	ErrForbiddenDomain = errors.New("email domain not allowed")
	// ErrRegistrationDisabled indicates no account matched and registration is closed.
	ErrRegistrationDisabled = errors.New("registration disabled")
	// ErrHiddenEmailForbidden indicates an Apple private relay address while policy forbids them.
	ErrHiddenEmailForbidden = errors.New("hidden email addresses are not allowed")
	// ErrMissingEmail indicates the identity carries no email to resolve against.
	ErrMissingEmail = errors.New("provider returned no email")
)

// DomainError carries the rejected domain alongside ErrForbiddenDomain or ErrRegistrationDisabled.
type DomainError struct {
	Domain string
	Err    error
}

func (e *DomainError) Error() string { return fmt.Sprintf("%s: %s", e.Err, e.Domain) }

func (e *DomainError) Unwrap() error { return e.Err }

// PasswordHasher hashes generated passwords before they reach the store.
type PasswordHasher interface {
	Hash(password string) (string, error)
}

// Hooks are optional extension points around resolution. Nil hooks are skipped.
type Hooks struct {
	// PermitAuthorization vetoes an identity by returning false.
	PermitAuthorization func(ctx context.Context, email string, id *identity.Identity) bool
	// PreCreateAccount may rewrite the account about to be created.
	PreCreateAccount func(ctx context.Context, in *NewAccount, id *identity.Identity)
	AfterCreateAccount func(ctx context.Context, account *Account, id *identity.Identity)
	CreateAccountError func(ctx context.Context, err error, id *identity.Identity)
	// SaveUserInfo transforms the raw payload before it is persisted.
	SaveUserInfo func(raw identity.RawProfile, id *identity.Identity) identity.RawProfile
}

// Request is the input of a single resolution.
type Request struct {
	Identity *identity.Identity
	// CurrentAccountID is set when the caller already has a session; the identity is then linked to that account.
	CurrentAccountID *uuid.UUID
	Policy           Policy
}

// Resolution is the outcome of a successful resolution.
type Resolution struct {
	Account     *Account
	Email       string
	Created     bool
	LinkCreated bool
}

// Resolver maps a verified external identity onto a local account.
type Resolver struct {
	store  Store
	hasher PasswordHasher
	hooks  Hooks
	logger *zap.Logger
}

// Dependencies aggregates constructor inputs.
type Dependencies struct {
	Store  Store
	Hasher PasswordHasher
	Hooks  Hooks
	Logger *zap.Logger
}

// NewResolver initialises the resolver.
func NewResolver(deps Dependencies) *Resolver {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: deps.Store, hasher: deps.Hasher, hooks: deps.Hooks, logger: logger}
}

// Resolve links or creates the local account for req.Identity. Every policy check runs before the first write.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Resolution, error) {
	id := req.Identity
	if id == nil {
		return nil, ErrMissingEmail
	}
	email := normalizeEmail(id.Email)
	if id.Provider == identity.ProviderGoogle && req.Policy.SanitizeGoogleEmail {
		email = SanitizeGoogleEmail(email)
	}
	if email == "" {
		return nil, ErrMissingEmail
	}
	if id.Provider == identity.ProviderApple && req.Policy.ForbidHiddenEmail && apple.IsHiddenEmail(id.Raw) {
		return nil, ErrHiddenEmailForbidden
	}
	if r.hooks.PermitAuthorization != nil && !r.hooks.PermitAuthorization(ctx, email, id) {
		return nil, ErrPermissionDenied
	}

	res := &Resolution{Email: email}
	if req.CurrentAccountID != nil {
		account, err := r.store.FindAccountByID(ctx, *req.CurrentAccountID)
		if err != nil {
			return nil, fmt.Errorf("load session account: %w", err)
		}
		res.Account = account
	} else {
		account, created, err := r.findOrCreate(ctx, email, id, req.Policy)
		if err != nil {
			return nil, err
		}
		res.Account, res.Created = account, created
	}

	_, linked, err := r.store.CreateOrKeepLink(ctx, res.Account.ID, id.Provider, email)
	if err != nil {
		return nil, fmt.Errorf("link %s account: %w", id.Provider, err)
	}
	res.LinkCreated = linked

	if err := r.store.SetProfileFields(ctx, res.Account.ID, r.profileFields(id, req.Policy)); err != nil {
		return nil, fmt.Errorf("update profile fields: %w", err)
	}
	return res, nil
}

func (r *Resolver) findOrCreate(ctx context.Context, email string, id *identity.Identity, policy Policy) (*Account, bool, error) {
	account, err := r.store.FindAccountByLink(ctx, id.Provider, email)
	if err == nil {
		return account, false, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, false, fmt.Errorf("lookup account by link: %w", err)
	}

	account, err = r.store.FindAccountByEmail(ctx, email)
	if err == nil {
		return account, false, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, false, fmt.Errorf("lookup account by email: %w", err)
	}

	domain := EmailDomain(email)
	if !policy.Domains.Allows(domain) {
		return nil, false, &DomainError{Domain: domain, Err: ErrForbiddenDomain}
	}
	if !policy.RegistrationAllowed {
		return nil, false, &DomainError{Domain: domain, Err: ErrRegistrationDisabled}
	}

	account, err = r.createAccount(ctx, email, id, policy)
	if errors.Is(err, ErrDuplicateAccount) {
		r.logger.Info("concurrent registration detected, using existing account", zap.String("provider", id.Provider.String()))
		account, err = r.store.FindAccountByEmail(ctx, email)
		if err != nil {
			return nil, false, fmt.Errorf("refetch account after duplicate: %w", err)
		}
		return account, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return account, true, nil
}

func (r *Resolver) createAccount(ctx context.Context, email string, id *identity.Identity, policy Policy) (*Account, error) {
	plain, err := generatePassword(policy.PasswordLength)
	if err != nil {
		return nil, err
	}
	hash, err := r.hasher.Hash(plain)
	if err != nil {
		return nil, fmt.Errorf("hash generated password: %w", err)
	}
	role := policy.DefaultRole
	if role == "" {
		role = "subscriber"
	}

	var account *Account
	for attempt := 0; attempt < 3; attempt++ {
		username, err := deriveUsername(ctx, r.store, email)
		if err != nil {
			return nil, r.createFailed(ctx, err, id)
		}
		in := NewAccount{Username: username, Email: email, PasswordHash: hash, Role: role}
		if r.hooks.PreCreateAccount != nil {
			r.hooks.PreCreateAccount(ctx, &in, id)
		}
		account, err = r.store.CreateAccount(ctx, in)
		if errors.Is(err, ErrUsernameTaken) {
			continue
		}
		if errors.Is(err, ErrDuplicateAccount) {
			return nil, err
		}
		if err != nil {
			return nil, r.createFailed(ctx, fmt.Errorf("create account: %w", err), id)
		}
		break
	}
	if account == nil {
		return nil, r.createFailed(ctx, fmt.Errorf("create account: %w", ErrUsernameTaken), id)
	}

	r.logger.Debug("account created", zap.String("account_id", account.ID.String()), zap.String("email", email))
	if r.hooks.AfterCreateAccount != nil {
		r.hooks.AfterCreateAccount(ctx, account, id)
	}
	return account, nil
}

func (r *Resolver) createFailed(ctx context.Context, err error, id *identity.Identity) error {
	if r.hooks.CreateAccountError != nil {
		r.hooks.CreateAccountError(ctx, err, id)
	}
	return err
}

func (r *Resolver) profileFields(id *identity.Identity, policy Policy) ProfileFields {
	fields := ProfileFields{FirstName: id.FirstName, LastName: id.LastName}
	if id.FirstName != "" || id.LastName != "" || id.FullName != "" {
		fields.DisplayName = id.DisplayName()
	}
	if policy.SaveRemoteInfo {
		raw := id.Raw
		if r.hooks.SaveUserInfo != nil {
			raw = r.hooks.SaveUserInfo(raw, id)
		}
		fields.Provider = id.Provider
		fields.Raw = raw
	}
	return fields
}
