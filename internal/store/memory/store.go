package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bengobox/signin-service/internal/audit"
	"github.com/bengobox/signin-service/internal/identity"
	"github.com/bengobox/signin-service/internal/services/accounts"
)

type linkKey struct {
	account  uuid.UUID
	provider identity.Provider
}

// Store is an in-process account store for tests and single-process development.
type Store struct {
	mu         sync.RWMutex
	accounts   map[uuid.UUID]*accounts.Account
	passwords  map[uuid.UUID]string
	links      map[linkKey]accounts.Link
	remoteInfo map[linkKey]identity.RawProfile
	audit      []audit.Entry
	now        func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		accounts:   make(map[uuid.UUID]*accounts.Account),
		passwords:  make(map[uuid.UUID]string),
		links:      make(map[linkKey]accounts.Link),
		remoteInfo: make(map[linkKey]identity.RawProfile),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) FindAccountByID(_ context.Context, id uuid.UUID) (*accounts.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, accounts.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) FindAccountByEmail(_ context.Context, email string) (*accounts.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.accounts {
		if strings.EqualFold(a.Email, email) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, accounts.ErrAccountNotFound
}

func (s *Store) FindAccountByLink(_ context.Context, provider identity.Provider, email string) (*accounts.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for k, l := range s.links {
		if k.provider == provider && strings.EqualFold(l.Email, email) {
			if a, ok := s.accounts[k.account]; ok {
				cp := *a
				return &cp, nil
			}
		}
	}
	return nil, accounts.ErrAccountNotFound
}

func (s *Store) UsernameExists(_ context.Context, username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.usernameTaken(username), nil
}

func (s *Store) usernameTaken(username string) bool {
	for _, a := range s.accounts {
		if strings.EqualFold(a.Username, username) {
			return true
		}
	}
	return false
}

func (s *Store) CreateAccount(_ context.Context, in accounts.NewAccount) (*accounts.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		if strings.EqualFold(a.Email, in.Email) {
			return nil, accounts.ErrDuplicateAccount
		}
	}
	if s.usernameTaken(in.Username) {
		return nil, accounts.ErrUsernameTaken
	}
	now := s.now()
	a := &accounts.Account{
		ID:        uuid.New(),
		Username:  in.Username,
		Email:     in.Email,
		Role:      in.Role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.accounts[a.ID] = a
	s.passwords[a.ID] = in.PasswordHash
	cp := *a
	return &cp, nil
}

func (s *Store) CreateOrKeepLink(_ context.Context, accountID uuid.UUID, provider identity.Provider, email string) (accounts.Link, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[accountID]; !ok {
		return accounts.Link{}, false, accounts.ErrAccountNotFound
	}
	key := linkKey{account: accountID, provider: provider}
	if existing, ok := s.links[key]; ok {
		return existing, false, nil
	}
	l := accounts.Link{AccountID: accountID, Provider: provider, Email: email, CreatedAt: s.now()}
	s.links[key] = l
	return l, true, nil
}

func (s *Store) DeleteLink(_ context.Context, accountID uuid.UUID, provider identity.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := linkKey{account: accountID, provider: provider}
	if _, ok := s.links[key]; !ok {
		return accounts.ErrLinkNotFound
	}
	delete(s.links, key)
	delete(s.remoteInfo, key)
	return nil
}

func (s *Store) ListLinks(_ context.Context, accountID uuid.UUID) ([]accounts.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []accounts.Link
	for k, l := range s.links {
		if k.account == accountID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func (s *Store) SetProfileFields(_ context.Context, accountID uuid.UUID, fields accounts.ProfileFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return accounts.ErrAccountNotFound
	}
	if fields.FirstName != "" {
		a.FirstName = fields.FirstName
	}
	if fields.LastName != "" {
		a.LastName = fields.LastName
	}
	if fields.DisplayName != "" {
		a.DisplayName = fields.DisplayName
	}
	if fields.Raw != nil {
		s.remoteInfo[linkKey{account: accountID, provider: fields.Provider}] = fields.Raw
	}
	a.UpdatedAt = s.now()
	return nil
}

// RemoteInfo returns the persisted raw provider payload, if any.
func (s *Store) RemoteInfo(accountID uuid.UUID, provider identity.Provider) (identity.RawProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, ok := s.remoteInfo[linkKey{account: accountID, provider: provider}]
	return raw, ok
}

// AccountCount reports how many accounts exist.
func (s *Store) AccountCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.accounts)
}

func (s *Store) AppendAudit(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit = append(s.audit, entry)
	return nil
}

func (s *Store) RecentAudit(_ context.Context, limit int) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]audit.Entry, 0, limit)
	for i := len(s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.audit[i])
	}
	return out, nil
}

var (
	_ accounts.Store = (*Store)(nil)
	_ audit.Sink     = (*Store)(nil)
)
