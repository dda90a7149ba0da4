package accounts_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bengobox/signin-service/internal/identity"
	"github.com/bengobox/signin-service/internal/services/accounts"
	"github.com/bengobox/signin-service/internal/store/memory"
)

type fakeHasher struct{}

func (fakeHasher) Hash(pw string) (string, error) { return "hashed:" + pw, nil }

func openPolicy() accounts.Policy {
	return accounts.Policy{RegistrationAllowed: true, SanitizeGoogleEmail: true, DefaultRole: "subscriber", PasswordLength: 16}
}

func newResolver(store accounts.Store, hooks accounts.Hooks) *accounts.Resolver {
	return accounts.NewResolver(accounts.Dependencies{Store: store, Hasher: fakeHasher{}, Hooks: hooks})
}

func TestResolveCreatesAccountAndLink(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	var created *accounts.Account
	r := newResolver(store, accounts.Hooks{
		AfterCreateAccount: func(_ context.Context, a *accounts.Account, _ *identity.Identity) { created = a },
	})

	res, err := r.Resolve(ctx, accounts.Request{
		Identity: &identity.Identity{Provider: identity.ProviderGoogle, SubjectID: "1", Email: "Jo.Doe+news@gmail.com", FirstName: "Jo", LastName: "Doe"},
		Policy:   openPolicy(),
	})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.True(t, res.LinkCreated)
	assert.Equal(t, "jodoe@gmail.com", res.Email)
	assert.Equal(t, "jodoe", res.Account.Username)
	assert.Equal(t, "subscriber", res.Account.Role)
	require.NotNil(t, created)
	assert.Equal(t, res.Account.ID, created.ID)

	links, err := store.ListLinks(ctx, res.Account.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, identity.ProviderGoogle, links[0].Provider)
	assert.Equal(t, "jodoe@gmail.com", links[0].Email)

	acc, err := store.FindAccountByID(ctx, res.Account.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jo Doe", acc.DisplayName)
}

func TestResolveUsernameCollision(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	_, err := store.CreateAccount(ctx, accounts.NewAccount{Username: "ada", Email: "ada@other.io"})
	require.NoError(t, err)

	res, err := newResolver(store, accounts.Hooks{}).Resolve(ctx, accounts.Request{
		Identity: &identity.Identity{Provider: identity.ProviderMicrosoft, SubjectID: "x", Email: "ada@contoso.com"},
		Policy:   openPolicy(),
	})
	require.NoError(t, err)
	assert.NotEqual(t, "ada", res.Account.Username)
	assert.True(t, strings.HasPrefix(res.Account.Username, "ada"))
	assert.Len(t, res.Account.Username, 4)
}

func TestResolveExistingLinkReusesAccount(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	acc, err := store.CreateAccount(ctx, accounts.NewAccount{Username: "a", Email: "primary@corp.io"})
	require.NoError(t, err)
	_, _, err = store.CreateOrKeepLink(ctx, acc.ID, identity.ProviderMicrosoft, "alias@contoso.com")
	require.NoError(t, err)

	res, err := newResolver(store, accounts.Hooks{}).Resolve(ctx, accounts.Request{
		Identity: &identity.Identity{Provider: identity.ProviderMicrosoft, SubjectID: "s", Email: "alias@contoso.com"},
		Policy:   accounts.Policy{},
	})
	require.NoError(t, err)
	assert.Equal(t, acc.ID, res.Account.ID)
	assert.False(t, res.Created)
	assert.False(t, res.LinkCreated)
	assert.Equal(t, 1, store.AccountCount())
}

func TestResolveMatchesByEmail(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	acc, err := store.CreateAccount(ctx, accounts.NewAccount{Username: "a", Email: "ada@corp.io"})
	require.NoError(t, err)

	res, err := newResolver(store, accounts.Hooks{}).Resolve(ctx, accounts.Request{
		Identity: &identity.Identity{Provider: identity.ProviderApple, SubjectID: "s", Email: "ADA@corp.io"},
		Policy:   accounts.Policy{},
	})
	require.NoError(t, err)
	assert.Equal(t, acc.ID, res.Account.ID)
	assert.True(t, res.LinkCreated)
}

func TestResolveLinksToSessionAccount(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	acc, err := store.CreateAccount(ctx, accounts.NewAccount{Username: "me", Email: "me@corp.io"})
	require.NoError(t, err)
	_, _, err = store.CreateOrKeepLink(ctx, acc.ID, identity.ProviderGoogle, "first@gmail.com")
	require.NoError(t, err)

	res, err := newResolver(store, accounts.Hooks{}).Resolve(ctx, accounts.Request{
		Identity:         &identity.Identity{Provider: identity.ProviderGoogle, SubjectID: "s", Email: "second@gmail.com"},
		CurrentAccountID: &acc.ID,
		Policy:           accounts.Policy{},
	})
	require.NoError(t, err)
	assert.Equal(t, acc.ID, res.Account.ID)
	assert.False(t, res.LinkCreated)

	links, err := store.ListLinks(ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "first@gmail.com", links[0].Email, "first write wins")
}

func TestResolvePolicyRejections(t *testing.T) {
	tests := []struct {
		name   string
		id     *identity.Identity
		policy accounts.Policy
		hooks  accounts.Hooks
		want   error
	}{
		{
			name:   "forbidden domain",
			id:     &identity.Identity{Provider: identity.ProviderGoogle, Email: "x@corp.io"},
			policy: accounts.Policy{RegistrationAllowed: true, Domains: accounts.DomainPolicy{Allowed: []string{"corp.io"}, Forbidden: []string{"corp.io"}}},
			want:   accounts.ErrForbiddenDomain,
		},
		{
			name:   "registration disabled",
			id:     &identity.Identity{Provider: identity.ProviderGoogle, Email: "x@corp.io"},
			policy: accounts.Policy{},
			want:   accounts.ErrRegistrationDisabled,
		},
		{
			name:   "hidden apple email",
			id:     &identity.Identity{Provider: identity.ProviderApple, SubjectID: "s", Email: "x@privaterelay.appleid.com", Raw: identity.RawProfile{"isPrivateEmail": true}},
			policy: accounts.Policy{RegistrationAllowed: true, ForbidHiddenEmail: true},
			want:   accounts.ErrHiddenEmailForbidden,
		},
		{
			name:   "permit hook veto",
			id:     &identity.Identity{Provider: identity.ProviderMicrosoft, Email: "banned@corp.io"},
			policy: accounts.Policy{RegistrationAllowed: true},
			hooks: accounts.Hooks{PermitAuthorization: func(_ context.Context, email string, _ *identity.Identity) bool {
				return email != "banned@corp.io"
			}},
			want: accounts.ErrPermissionDenied,
		},
		{
			name:   "missing email",
			id:     &identity.Identity{Provider: identity.ProviderApple, SubjectID: "s"},
			policy: accounts.Policy{RegistrationAllowed: true},
			want:   accounts.ErrMissingEmail,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			_, err := newResolver(store, tt.hooks).Resolve(context.Background(), accounts.Request{Identity: tt.id, Policy: tt.policy})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), err.Error())
			assert.Equal(t, 0, store.AccountCount())
		})
	}
}

func TestResolveHiddenEmailDoesNotTouchExistingAccount(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	acc, err := store.CreateAccount(ctx, accounts.NewAccount{Username: "x", Email: "x@privaterelay.appleid.com"})
	require.NoError(t, err)

	_, err = newResolver(store, accounts.Hooks{}).Resolve(ctx, accounts.Request{
		Identity: &identity.Identity{Provider: identity.ProviderApple, SubjectID: "s", Email: "x@privaterelay.appleid.com", FirstName: "X",
			Raw: identity.RawProfile{"isPrivateEmail": "true"}},
		Policy: accounts.Policy{ForbidHiddenEmail: true},
	})
	require.True(t, errors.Is(err, accounts.ErrHiddenEmailForbidden))

	links, err := store.ListLinks(ctx, acc.ID)
	require.NoError(t, err)
	assert.Empty(t, links)
	got, err := store.FindAccountByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.Empty(t, got.FirstName)
}

// racingStore reports a duplicate on create as if another request registered the email first.
type racingStore struct {
	*memory.Store
	winner *accounts.Account
}

func (s *racingStore) CreateAccount(ctx context.Context, in accounts.NewAccount) (*accounts.Account, error) {
	w, err := s.Store.CreateAccount(ctx, accounts.NewAccount{Username: "winner", Email: in.Email})
	if err != nil {
		return nil, err
	}
	s.winner = w
	return nil, accounts.ErrDuplicateAccount
}

func TestResolveDuplicateRefetches(t *testing.T) {
	store := &racingStore{Store: memory.New()}
	res, err := newResolver(store, accounts.Hooks{}).Resolve(context.Background(), accounts.Request{
		Identity: &identity.Identity{Provider: identity.ProviderGoogle, Email: "race@corp.io"},
		Policy:   openPolicy(),
	})
	require.NoError(t, err)
	require.NotNil(t, store.winner)
	assert.Equal(t, store.winner.ID, res.Account.ID)
	assert.False(t, res.Created)
	assert.Equal(t, 1, store.AccountCount())
}

func TestResolvePreCreateAndSaveUserInfo(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := newResolver(store, accounts.Hooks{
		PreCreateAccount: func(_ context.Context, in *accounts.NewAccount, _ *identity.Identity) { in.Role = "editor" },
		SaveUserInfo: func(raw identity.RawProfile, _ *identity.Identity) identity.RawProfile {
			return identity.RawProfile{"kept": raw["id"]}
		},
	})
	policy := openPolicy()
	policy.SaveRemoteInfo = true

	res, err := r.Resolve(ctx, accounts.Request{
		Identity: &identity.Identity{Provider: identity.ProviderGoogle, SubjectID: "9", Email: "x@corp.io", FullName: "X Y",
			Raw: identity.RawProfile{"id": "9", "token": "secret"}},
		Policy: policy,
	})
	require.NoError(t, err)
	assert.Equal(t, "editor", res.Account.Role)

	raw, ok := store.RemoteInfo(res.Account.ID, identity.ProviderGoogle)
	require.True(t, ok)
	assert.Equal(t, identity.RawProfile{"kept": "9"}, raw)
}

func TestResolveUnknownSessionAccount(t *testing.T) {
	missing := uuid.New()
	_, err := newResolver(memory.New(), accounts.Hooks{}).Resolve(context.Background(), accounts.Request{
		Identity:         &identity.Identity{Provider: identity.ProviderGoogle, Email: "x@corp.io"},
		CurrentAccountID: &missing,
	})
	assert.True(t, errors.Is(err, accounts.ErrAccountNotFound))
}
