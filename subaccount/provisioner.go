// Package subaccount provisions the scoped sub-account bound to the
// connected owner.
package subaccount

import (
	"context"
	"fmt"

	"github.com/glassgift/basesession/logger"
	"github.com/glassgift/basesession/metrics"
	"github.com/glassgift/basesession/provider"
	"github.com/glassgift/basesession/types"
)

// OwnerKey is the locally resolved signing key supplied to sub-account
// creation. Type is "address" for an EOA-style key or "webauthn-p256" for a
// platform credential.
type OwnerKey struct {
	Type      string `json:"type"`
	PublicKey string `json:"publicKey"`
}

// KeyResolver obtains the owner signing key from a local credential source.
// Creation is never attempted without it.
type KeyResolver interface {
	ResolveOwnerKey(ctx context.Context) (OwnerKey, error)
}

// StaticKeyResolver returns a fixed address-typed key. Useful for headless
// flows and tests where the owner key is a plain address.
type StaticKeyResolver struct {
	Address string
}

func (r StaticKeyResolver) ResolveOwnerKey(context.Context) (OwnerKey, error) {
	if !types.IsAddress(r.Address) {
		return OwnerKey{}, fmt.Errorf("static key resolver holds no valid address")
	}
	return OwnerKey{Type: "address", PublicKey: r.Address}, nil
}

// Provisioner drives the lookup-then-create sub-account flow.
type Provisioner struct {
	provider provider.Provider
	keys     KeyResolver
	appName  string
	network  string
	log      logger.Logger
	rec      metrics.Recorder
}

func NewProvisioner(p provider.Provider, keys KeyResolver, appName, network string, log logger.Logger, rec metrics.Recorder) *Provisioner {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Provisioner{provider: p, keys: keys, appName: appName, network: network, log: log, rec: rec}
}

type getSubAccountsResult struct {
	SubAccounts []types.SubAccount `json:"subAccounts"`
}

// Ensure returns the sub-account for owner, creating one when none exists
// and createIfMissing is set. The second return is true only when a new
// account was created this call, so the caller can reset grant state.
//
// Lookup is attempted before creation on every call, which keeps repeated
// Ensure calls from ever creating a second account.
func (p *Provisioner) Ensure(ctx context.Context, owner string, createIfMissing bool) (*types.SubAccount, bool, error) {
	existing, lookupErr := p.lookup(ctx, owner)
	if lookupErr == nil && existing != nil {
		return existing, false, nil
	}
	if lookupErr != nil {
		p.log.Warn("sub-account lookup failed", map[string]any{"owner": owner, "error": lookupErr.Error()})
	}
	if !createIfMissing {
		if lookupErr != nil {
			return nil, false, types.WrapSessionError(types.ErrProviderFailure, "sub-account lookup failed", lookupErr)
		}
		return nil, false, nil
	}

	key, err := p.keys.ResolveOwnerKey(ctx)
	if err != nil {
		return nil, false, types.WrapSessionError(types.ErrAccountKeyUnavailable, "unable to access owner account key", err)
	}

	created, err := p.create(ctx, key)
	if err != nil {
		return nil, false, types.WrapSessionError(types.ErrProviderFailure, "sub-account creation failed", err)
	}

	p.rec.IncCounter("sub_account_created", map[string]string{"network": p.network})
	p.log.Info("sub-account created", map[string]any{"owner": owner, "subAccount": created.Address})
	return created, true, nil
}

func (p *Provisioner) lookup(ctx context.Context, owner string) (*types.SubAccount, error) {
	params := []any{map[string]any{
		"account": owner,
		"domain":  p.appName,
	}}
	var result getSubAccountsResult
	if err := p.provider.Request(ctx, provider.MethodGetSubAccounts, params, &result); err != nil {
		return nil, err
	}
	if len(result.SubAccounts) == 0 {
		return nil, nil
	}
	account := result.SubAccounts[0]
	if !types.IsAddress(account.Address) {
		return nil, fmt.Errorf("provider returned sub-account without a valid address")
	}
	return &account, nil
}

func (p *Provisioner) create(ctx context.Context, key OwnerKey) (*types.SubAccount, error) {
	params := []any{map[string]any{
		"account": map[string]any{
			"type": "create",
			"keys": []OwnerKey{key},
		},
	}}
	var created types.SubAccount
	if err := p.provider.Request(ctx, provider.MethodAddSubAccount, params, &created); err != nil {
		return nil, err
	}
	if !types.IsAddress(created.Address) {
		return nil, fmt.Errorf("provider returned created sub-account without a valid address")
	}
	return &created, nil
}
