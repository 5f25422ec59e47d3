// Package basesession orchestrates the client-side account/session state
// between a storefront and a smart-contract wallet: it provisions a scoped
// sub-account, negotiates spend-permission grants, resolves the funding
// address, tracks balances across the session's candidate addresses and
// submits payments with a batched-call to legacy-transaction fallback.
//
// A Session is constructed explicitly and owned by its caller; there is no
// package-level singleton, so multiple concurrent sessions (including in
// tests) are possible.
package basesession

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"time"

	"github.com/glassgift/basesession/balances"
	"github.com/glassgift/basesession/config"
	"github.com/glassgift/basesession/logger"
	"github.com/glassgift/basesession/metrics"
	"github.com/glassgift/basesession/payment"
	"github.com/glassgift/basesession/permissions"
	"github.com/glassgift/basesession/provider"
	"github.com/glassgift/basesession/resolver"
	"github.com/glassgift/basesession/subaccount"
	"github.com/glassgift/basesession/types"
	"github.com/glassgift/basesession/utils"
)

// nativeDecimals is used when no spend token is configured: the demo treats
// the native asset as dollar-pegged at 18 decimals.
const nativeDecimals = 18

// Session owns the account identity, permission flag and balance snapshot
// for one wallet connection. All mutations are serialized behind a mutex and
// follow last-write-wins semantics; an epoch counter guards against async
// completions resurrecting state cleared by a disconnect or account change.
type Session struct {
	cfg      config.Config
	provider provider.Provider
	log      logger.Logger
	rec      metrics.Recorder

	tracker     *balances.Tracker
	provisioner *subaccount.Provisioner
	negotiator  *permissions.Negotiator
	submitter   *payment.Submitter

	// construction-time knobs filled by options
	readClient balances.ReadClient
	now        func() time.Time

	mu                sync.Mutex
	epoch             uint64
	connectedAccounts []string
	owner             string
	sub               *types.SubAccount
	funding           string
	autoSpend         bool
	snapshot          types.BalanceSnapshot
	errMsg            string
	balanceErrMsg     string
	unsubs            []func()
}

// New builds a Session against the given wallet provider and key resolver.
func New(cfg config.Config, p provider.Provider, keys subaccount.KeyResolver, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if p == nil {
		return nil, types.NewSessionError(types.ErrInvalidConfig, "wallet provider is required")
	}
	if keys == nil {
		return nil, types.NewSessionError(types.ErrInvalidConfig, "owner key resolver is required")
	}

	s := &Session{
		cfg:      cfg,
		provider: p,
		log:      logger.NoopLogger{},
		rec:      metrics.NoopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.readClient == nil {
		read, err := balances.DialReadClient(cfg.RPCURL)
		if err != nil {
			s.log.Warn("read-only RPC unavailable, balance fetches rely on the wallet path", map[string]any{"error": err.Error()})
		} else {
			s.readClient = read
		}
	}

	network := cfg.Network.String()
	s.tracker = balances.NewTracker(p, s.readClient, cfg.SpendToken, network, s.log, s.rec)
	s.provisioner = subaccount.NewProvisioner(p, keys, cfg.AppName, network, s.log, s.rec)
	s.negotiator = permissions.NewNegotiator(p, cfg.SpendDailyLimit, cfg.SpendExpiry, cfg.SpendToken, network, s.log, s.rec)
	s.negotiator.SetNow(s.now)
	s.submitter = payment.NewSubmitter(p, cfg.Network.ChainIDHex(), network, s.log, s.rec)

	s.unsubs = append(s.unsubs,
		p.Subscribe(provider.EventAccountsChanged, s.handleAccountsChanged),
		p.Subscribe(provider.EventDisconnect, s.handleDisconnect),
	)
	return s, nil
}

// Close tears down event subscriptions. The session is unusable afterward.
func (s *Session) Close() {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}

// Connect requests accounts from the wallet, resolves the owner address,
// provisions the sub-account and refreshes funding and balance state.
// Provisioning and balance failures do not fail the connect; they land in
// Err and BalanceErr.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	var accounts []string
	if err := s.provider.Request(ctx, provider.MethodRequestAccounts, []any{}, &accounts); err != nil {
		wrapped := types.WrapSessionError(types.ErrProviderFailure, "wallet connect failed", err)
		s.setErr(wrapped)
		return wrapped
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		s.log.Info("connect result discarded, session state changed while connecting", nil)
		return nil
	}
	s.connectedAccounts = append([]string(nil), accounts...)
	s.owner = resolver.ResolveOwner(s.connectedAccounts, subAddress(s.sub))
	s.errMsg = ""
	s.mu.Unlock()

	s.rec.IncCounter("connect", map[string]string{"network": s.cfg.Network.String()})
	s.log.Info("wallet connected", map[string]any{"accounts": len(accounts), "owner": s.OwnerAddress()})

	if _, err := s.ensureSubAccount(ctx, epoch, true); err != nil {
		s.log.Warn("sub-account provisioning failed during connect", map[string]any{"error": err.Error()})
	}
	s.resolveFunding(ctx, epoch)
	s.RefreshBalances(ctx)
	return nil
}

// Disconnect unconditionally clears all derived state. Pending operations
// that complete afterward are discarded by the epoch guard.
func (s *Session) Disconnect() {
	s.clearState()
	s.log.Info("wallet disconnected", nil)
}

// EnsureSubAccount returns the sub-account for the connected owner, creating
// one when none exists. Calling it repeatedly never creates a second
// account: lookup runs before creation on every call.
func (s *Session) EnsureSubAccount(ctx context.Context) (*types.SubAccount, error) {
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	sub, err := s.ensureSubAccount(ctx, epoch, true)
	if err != nil {
		return nil, err
	}
	if sub != nil {
		s.resolveFunding(ctx, epoch)
		s.RefreshBalances(ctx)
	}
	return sub, nil
}

// RequestAutoSpend ensures a spend-permission grant exists for the
// sub-account. A pre-existing grant with a non-zero limit short-circuits
// without prompting the wallet again. Unlike provisioning and balance
// errors, failures here are returned to the caller.
func (s *Session) RequestAutoSpend(ctx context.Context) (bool, error) {
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	sub, err := s.ensureSubAccount(ctx, epoch, true)
	if err != nil || sub == nil {
		return false, types.WrapSessionError(types.ErrSubAccountUnavailable, "sub-account unavailable for auto-spend", err)
	}

	chainIDHex := s.cfg.Network.ChainIDHex()
	has, lookupErr := s.negotiator.HasActiveGrant(ctx, sub.Address, chainIDHex)
	if lookupErr != nil {
		s.log.Warn("spend permission lookup failed", map[string]any{"error": lookupErr.Error()})
	}
	if has {
		s.setAutoSpend(epoch, true)
		return true, nil
	}

	if err := s.negotiator.Grant(ctx, sub.Address, chainIDHex); err != nil {
		s.setAutoSpend(epoch, false)
		if types.IsCode(err, types.ErrWalletUnsupported) && s.cfg.WalletURL != "" {
			s.log.Info("a wallet upgrade is available", map[string]any{"walletURL": s.cfg.WalletURL})
		}
		return false, err
	}

	s.setAutoSpend(epoch, true)
	s.rec.IncCounter("auto_spend_enabled", map[string]string{"network": s.cfg.Network.String()})
	return true, nil
}

// PayInvoice submits a payment for totalCents from the resolved funding
// address. When auto-spend is not yet enabled it is requested
// opportunistically; a permission failure does not abort the payment, but if
// the payment itself then fails, the permission error is surfaced as the
// more actionable root cause.
func (s *Session) PayInvoice(ctx context.Context, totalCents int64) (bool, error) {
	if totalCents <= 0 {
		return false, types.NewSessionError(types.ErrPaymentFailed, "invoice total must be greater than zero")
	}

	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	sub, err := s.ensureSubAccount(ctx, epoch, true)
	if err != nil || sub == nil {
		return false, types.WrapSessionError(types.ErrSubAccountUnavailable, "sub-account unavailable for payment", err)
	}

	if s.FundingAddress() == "" {
		s.resolveFunding(ctx, epoch)
	}
	funding := s.FundingAddress()
	if funding == "" {
		return false, types.NewSessionError(types.ErrNoFundingAddress, "no funding address resolved for payment")
	}

	recipient, err := s.resolveRecipient(sub)
	if err != nil {
		return false, err
	}

	var permErr error
	if !s.AutoSpendEnabled() {
		if _, permErr = s.RequestAutoSpend(ctx); permErr != nil {
			s.log.Warn("auto-spend request failed, attempting payment anyway", map[string]any{"error": permErr.Error()})
		}
	}

	call, err := s.buildPaymentCall(recipient, totalCents)
	if err != nil {
		return false, err
	}

	orderID := payment.NewOrderID()
	result, err := s.submitter.Submit(ctx, funding, call)
	if err != nil {
		if permErr != nil {
			return false, permErr
		}
		return false, err
	}

	s.rec.IncCounter("payment_submitted", map[string]string{"network": s.cfg.Network.String()})
	s.log.Info("payment submitted", map[string]any{
		"order":    orderID,
		"tx":       result.TxID,
		"fellBack": result.FellBack,
		"from":     funding,
		"to":       recipient,
	})

	s.RefreshBalances(ctx)
	return true, nil
}

// RefreshBalances recomputes the balance snapshot for every known address.
// Safe to fire redundantly; per-address failures surface through BalanceErr
// without blocking the rest of the flow.
func (s *Session) RefreshBalances(ctx context.Context) {
	s.mu.Lock()
	epoch := s.epoch
	candidates := append([]string(nil), s.connectedAccounts...)
	candidates = append(candidates, s.owner, subAddress(s.sub), s.funding)
	s.mu.Unlock()

	snapshot := s.tracker.FetchAll(ctx, candidates)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return
	}
	s.snapshot = snapshot
	if snapshot.HadFailures {
		s.balanceErrMsg = "unable to load some balances"
	} else {
		s.balanceErrMsg = ""
	}
}

// --- read-only state ---

func (s *Session) OwnerAddress() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

func (s *Session) SubAccount() *types.SubAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		return nil
	}
	copied := *s.sub
	return &copied
}

func (s *Session) FundingAddress() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.funding
}

func (s *Session) ConnectedAccounts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.connectedAccounts...)
}

func (s *Session) AutoSpendEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoSpend
}

func (s *Session) Balances() types.BalanceSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := types.BalanceSnapshot{
		Balances:    make(map[string]types.TokenBalance, len(s.snapshot.Balances)),
		HadFailures: s.snapshot.HadFailures,
		Taken:       s.snapshot.Taken,
	}
	for addr, balance := range s.snapshot.Balances {
		copied.Balances[addr] = balance
	}
	return copied
}

func (s *Session) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

func (s *Session) BalanceErr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balanceErrMsg
}

func (s *Session) Config() config.Config {
	return s.cfg
}

// --- internals ---

// ensureSubAccount runs the lookup-then-create flow and applies the
// result under the epoch guard. Owner resolution is re-run after adopting a
// sub-account so the owner can never alias it.
func (s *Session) ensureSubAccount(ctx context.Context, epoch uint64, createIfMissing bool) (*types.SubAccount, error) {
	s.mu.Lock()
	owner := s.owner
	s.mu.Unlock()
	if owner == "" {
		return nil, types.NewSessionError(types.ErrNotConnected, "connect a wallet before provisioning a sub-account")
	}

	sub, created, err := s.provisioner.Ensure(ctx, owner, createIfMissing)
	if err != nil {
		s.setErr(err)
		return nil, err
	}
	if sub == nil {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return sub, nil
	}
	s.sub = sub
	s.errMsg = ""
	if created {
		// a fresh account has no grants
		s.autoSpend = false
	}
	s.owner = resolver.ResolveOwner(s.connectedAccounts, sub.Address)
	return sub, nil
}

// resolveFunding queries wallet capabilities for the current owner and
// resolves the funding address. The response is only applied when the owner
// the request was issued for is still current, so a late response for a
// stale account cannot be misattributed.
func (s *Session) resolveFunding(ctx context.Context, epoch uint64) {
	s.mu.Lock()
	requestAccount := s.owner
	fallback := subAddress(s.sub)
	if fallback == "" {
		fallback = s.owner
	}
	s.mu.Unlock()
	if requestAccount == "" {
		return
	}

	chainIDHex := s.cfg.Network.ChainIDHex()
	var capabilities json.RawMessage
	if err := s.provider.Request(ctx, provider.MethodGetCapabilities, []any{requestAccount, []string{chainIDHex}}, &capabilities); err != nil {
		s.log.Debug("wallet capabilities unavailable", map[string]any{"error": err.Error()})
		capabilities = nil
	}

	funding := resolver.ResolveFundingAddress(capabilities, chainIDHex, fallback)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || !types.SameAddress(s.owner, requestAccount) {
		return
	}
	s.funding = funding
}

func (s *Session) resolveRecipient(sub *types.SubAccount) (string, error) {
	if s.cfg.Recipient != "" {
		return s.cfg.Recipient, nil
	}
	if s.cfg.DemoMode {
		// demo-safe default only: the sub-account pays itself
		return sub.Address, nil
	}
	return "", types.NewSessionError(types.ErrNoRecipient, "no invoice recipient configured")
}

func (s *Session) buildPaymentCall(recipient string, totalCents int64) (types.Call, error) {
	if s.cfg.SpendToken != "" {
		amount, err := utils.CentsToTokenUnits(totalCents, s.cfg.SpendTokenDecimals)
		if err != nil {
			return types.Call{}, types.WrapSessionError(types.ErrPaymentFailed, "invoice amount conversion failed", err)
		}
		data, err := payment.ERC20TransferData(recipient, amount)
		if err != nil {
			return types.Call{}, types.WrapSessionError(types.ErrPaymentFailed, "invoice call encoding failed", err)
		}
		return types.Call{To: s.cfg.SpendToken, Value: big.NewInt(0), Data: data}, nil
	}

	amount, err := utils.CentsToTokenUnits(totalCents, nativeDecimals)
	if err != nil {
		return types.Call{}, types.WrapSessionError(types.ErrPaymentFailed, "invoice amount conversion failed", err)
	}
	return types.Call{To: recipient, Value: amount}, nil
}

func (s *Session) setAutoSpend(epoch uint64, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return
	}
	s.autoSpend = enabled
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errMsg = err.Error()
}

func (s *Session) clearState() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.connectedAccounts = nil
	s.owner = ""
	s.sub = nil
	s.funding = ""
	s.autoSpend = false
	s.snapshot = types.BalanceSnapshot{}
	s.errMsg = ""
	s.balanceErrMsg = ""
}

// handleAccountsChanged overwrites the account list wholesale; the most
// recent snapshot from the wallet is authoritative, never merged with
// in-flight state.
func (s *Session) handleAccountsChanged(payload json.RawMessage) {
	var accounts []string
	if err := json.Unmarshal(payload, &accounts); err != nil {
		s.log.Warn("unparsable accountsChanged payload", map[string]any{"error": err.Error()})
		return
	}

	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	previous := s.owner
	s.connectedAccounts = accounts
	s.owner = resolver.ResolveOwner(accounts, subAddress(s.sub))
	owner := s.owner
	ownerChanged := !types.SameAddress(owner, previous)
	if ownerChanged {
		// the previous owner's funding address must not fund the new one
		s.funding = ""
	}
	s.mu.Unlock()

	s.log.Info("accounts changed", map[string]any{"accounts": len(accounts)})

	if ownerChanged && owner != "" {
		s.resolveFunding(context.Background(), epoch)
		s.RefreshBalances(context.Background())
	}
}

func (s *Session) handleDisconnect(json.RawMessage) {
	s.clearState()
	s.log.Info("wallet reported disconnect", nil)
}

func subAddress(sub *types.SubAccount) string {
	if sub == nil {
		return ""
	}
	return sub.Address
}
