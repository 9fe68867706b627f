package threemaGW

import (
	"context"
	"fmt"

	"github.com/MrEthical07/threemaGW/internal/stores"
	"github.com/MrEthical07/threemaGW/session"
	"github.com/MrEthical07/threemaGW/tfa"
)

// providerDataStore routes tfa scopes to the session store (setup in
// progress) or the account store (configured modes).
type providerDataStore struct {
	sessions *session.Store
	accounts *stores.AccountDataStore
}

func (s providerDataStore) Load(ctx context.Context, scope tfa.Scope, owner, providerID string) (*tfa.ProviderData, error) {
	switch scope {
	case tfa.ScopeSession:
		return s.sessions.Load(ctx, owner, providerID)
	case tfa.ScopeAccount:
		return s.accounts.Load(ctx, owner, providerID)
	}
	return nil, fmt.Errorf("unknown provider data scope %d", scope)
}

func (s providerDataStore) Save(ctx context.Context, scope tfa.Scope, owner, providerID string, data *tfa.ProviderData) error {
	switch scope {
	case tfa.ScopeSession:
		return s.sessions.Save(ctx, owner, providerID, data)
	case tfa.ScopeAccount:
		return s.accounts.Save(ctx, owner, providerID, data)
	}
	return fmt.Errorf("unknown provider data scope %d", scope)
}

func (s providerDataStore) Update(ctx context.Context, scope tfa.Scope, owner, providerID string, fn func(*tfa.ProviderData) error) (*tfa.ProviderData, error) {
	switch scope {
	case tfa.ScopeSession:
		return s.sessions.Update(ctx, owner, providerID, fn)
	case tfa.ScopeAccount:
		return s.accounts.Update(ctx, owner, providerID, fn)
	}
	return nil, fmt.Errorf("unknown provider data scope %d", scope)
}

func (s providerDataStore) Delete(ctx context.Context, scope tfa.Scope, owner, providerID string) error {
	switch scope {
	case tfa.ScopeSession:
		return s.sessions.Delete(ctx, owner, providerID)
	case tfa.ScopeAccount:
		return s.accounts.Delete(ctx, owner, providerID)
	}
	return fmt.Errorf("unknown provider data scope %d", scope)
}
