// Package permissions negotiates the spend-permission (session key) grant
// that allows automated payments without per-transaction approval.
package permissions

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/glassgift/basesession/logger"
	"github.com/glassgift/basesession/metrics"
	"github.com/glassgift/basesession/provider"
	"github.com/glassgift/basesession/types"
)

// PeriodDaily is the only grant period this layer requests.
const PeriodDaily = "day"

// Negotiator checks for and requests spend-permission grants.
type Negotiator struct {
	provider provider.Provider
	limit    *big.Int
	expiry   time.Duration
	token    string
	network  string
	now      func() time.Time
	log      logger.Logger
	rec      metrics.Recorder
}

func NewNegotiator(p provider.Provider, limit *big.Int, expiry time.Duration, token, network string, log logger.Logger, rec metrics.Recorder) *Negotiator {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Negotiator{
		provider: p,
		limit:    limit,
		expiry:   expiry,
		token:    token,
		network:  network,
		now:      time.Now,
		log:      log,
		rec:      rec,
	}
}

// SetNow overrides the clock, for tests.
func (n *Negotiator) SetNow(now func() time.Time) {
	n.now = now
}

type permissionRecord struct {
	Permissions struct {
		Spend []struct {
			Limit  string `json:"limit"`
			Period string `json:"period"`
			Token  string `json:"token"`
		} `json:"spend"`
	} `json:"permissions"`
}

// HasActiveGrant queries existing grants for (address, chainId) and reports
// whether any carries a non-zero spend limit. Finding one means a new grant
// request would only produce a redundant approval prompt.
func (n *Negotiator) HasActiveGrant(ctx context.Context, address, chainIDHex string) (bool, error) {
	params := []any{map[string]any{
		"address":  address,
		"chainIds": []string{chainIDHex},
	}}
	var records []permissionRecord
	if err := n.provider.Request(ctx, provider.MethodGetPermissions, params, &records); err != nil {
		return false, err
	}
	for _, record := range records {
		for _, spend := range record.Permissions.Spend {
			if nonZeroLimit(spend.Limit) {
				return true, nil
			}
		}
	}
	return false, nil
}

// Grant requests a new spend permission with the configured daily limit and
// expiry. A wallet that does not know the grant method gets translated into
// a wallet_unsupported error so the caller can show a capability message
// instead of a generic failure.
func (n *Negotiator) Grant(ctx context.Context, address, chainIDHex string) error {
	req := types.SpendPermissionParams{
		Address:    address,
		ChainID:    chainIDHex,
		Expiry:     n.now().Add(n.expiry),
		SpendLimit: n.limit,
		Period:     PeriodDaily,
		Token:      n.token,
	}

	if err := n.provider.Request(ctx, provider.MethodGrantPermissions, []any{grantParams(req)}, nil); err != nil {
		if provider.IsUnsupportedMethod(err) {
			n.rec.IncCounter("grant_unsupported", map[string]string{"network": n.network})
			return types.WrapSessionError(types.ErrWalletUnsupported,
				"your wallet version does not support auto-spend yet", err)
		}
		return types.WrapSessionError(types.ErrPermissionDenied, "spend permission request failed", err)
	}

	n.rec.IncCounter("grant_issued", map[string]string{"network": n.network})
	n.log.Info("spend permission granted", map[string]any{"address": address, "chainId": chainIDHex})
	return nil
}

// grantParams renders a spend-permission request in the wallet's wire shape.
func grantParams(req types.SpendPermissionParams) map[string]any {
	spend := map[string]any{
		"limit":  hexutil.EncodeBig(req.SpendLimit),
		"period": req.Period,
	}
	if req.Token != "" {
		spend["token"] = req.Token
	}
	return map[string]any{
		"address": req.Address,
		"chainId": req.ChainID,
		"expiry":  req.Expiry.Unix(),
		"permissions": map[string]any{
			"spend": []map[string]any{spend},
		},
	}
}

// nonZeroLimit parses a hex or decimal limit string; anything unparsable
// counts as zero.
func nonZeroLimit(limit string) bool {
	if limit == "" {
		return false
	}
	var value *big.Int
	var ok bool
	if strings.HasPrefix(limit, "0x") || strings.HasPrefix(limit, "0X") {
		value, ok = new(big.Int).SetString(limit[2:], 16)
	} else {
		value, ok = new(big.Int).SetString(limit, 10)
	}
	return ok && value.Sign() > 0
}
