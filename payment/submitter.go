// Package payment submits the invoice payment call, preferring the batched
// multi-call method and falling back to a legacy single transaction when the
// wallet does not support batching.
package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"

	"github.com/glassgift/basesession/logger"
	"github.com/glassgift/basesession/metrics"
	"github.com/glassgift/basesession/provider"
	"github.com/glassgift/basesession/types"
	"github.com/glassgift/basesession/utils"
)

// Submitter executes payment calls against the wallet provider.
type Submitter struct {
	provider   provider.Provider
	chainIDHex string
	network    string
	log        logger.Logger
	rec        metrics.Recorder
}

func NewSubmitter(p provider.Provider, chainIDHex, network string, log logger.Logger, rec metrics.Recorder) *Submitter {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Submitter{provider: p, chainIDHex: chainIDHex, network: network, log: log, rec: rec}
}

// Result describes a completed submission.
type Result struct {
	// TxID is the call-bundle id or transaction hash, depending on path.
	TxID string
	// FellBack is true when the legacy single-transaction path was used
	// because the wallet rejected the batched method as unsupported.
	FellBack bool
}

// Submit sends one payment call from the funding address. The batched
// wallet_sendCalls method is attempted first; only an unsupported-method
// rejection triggers the eth_sendTransaction fallback with equivalent
// parameters. Any other rejection of the batched attempt is a hard failure.
func (s *Submitter) Submit(ctx context.Context, from string, call types.Call) (Result, error) {
	started := time.Now()
	defer func() {
		s.rec.ObserveLatency("pay_invoice", time.Since(started), map[string]string{"network": s.network})
	}()

	bundleID, batchedErr := s.sendBatched(ctx, from, call)
	if batchedErr == nil {
		s.rec.IncCounter("payment_batched", map[string]string{"network": s.network})
		return Result{TxID: bundleID}, nil
	}
	if !provider.IsUnsupportedMethod(batchedErr) {
		return Result{}, types.WrapSessionError(types.ErrPaymentFailed, "batched payment submission failed", batchedErr)
	}

	s.log.Info("wallet does not support batched calls, using legacy transaction", map[string]any{"from": from})
	s.rec.IncCounter("payment_fallback", map[string]string{"network": s.network})

	txHash, err := s.sendLegacy(ctx, from, call)
	if err != nil {
		return Result{}, types.WrapSessionError(types.ErrPaymentFailed, "legacy payment submission failed", err)
	}
	return Result{TxID: txHash, FellBack: true}, nil
}

func (s *Submitter) sendBatched(ctx context.Context, from string, call types.Call) (string, error) {
	encoded := map[string]any{
		"to":    call.To,
		"value": utils.EncodeAmountHex(call.Value),
	}
	if len(call.Data) > 0 {
		encoded["data"] = hexutil.Bytes(call.Data).String()
	}
	params := []any{map[string]any{
		"version": "1.0",
		"chainId": s.chainIDHex,
		"from":    from,
		"calls":   []any{encoded},
	}}

	var bundleID string
	if err := s.provider.Request(ctx, provider.MethodSendCalls, params, &bundleID); err != nil {
		return "", err
	}
	return bundleID, nil
}

func (s *Submitter) sendLegacy(ctx context.Context, from string, call types.Call) (string, error) {
	tx := map[string]any{
		"from":  from,
		"to":    call.To,
		"value": utils.EncodeAmountHex(call.Value),
	}
	if len(call.Data) > 0 {
		tx["data"] = hexutil.Bytes(call.Data).String()
	}

	var txHash string
	if err := s.provider.Request(ctx, provider.MethodSendTransaction, []any{tx}, &txHash); err != nil {
		return "", err
	}
	return txHash, nil
}

// NewOrderID mints a short order identifier for a checkout.
func NewOrderID() string {
	id := uuid.New()
	return fmt.Sprintf("order-%s", strings.ReplaceAll(id.String(), "-", "")[:8])
}
