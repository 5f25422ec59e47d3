// Package balances fetches native and token balances for the session's
// candidate addresses, tolerating partial failures per address.
package balances

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/sync/errgroup"

	"github.com/glassgift/basesession/logger"
	"github.com/glassgift/basesession/metrics"
	"github.com/glassgift/basesession/provider"
	"github.com/glassgift/basesession/types"
)

// ERC20 ABI minimal part for balanceOf.
const erc20ABI = `[{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"payable":false,"stateMutability":"view","type":"function"}]`

var (
	parsedERC20ABI  abi.ABI
	parsedERC20Once sync.Once
	balanceOfID     []byte
)

func initERC20ABI() {
	parsedERC20Once.Do(func() {
		var err error
		parsedERC20ABI, err = abi.JSON(strings.NewReader(erc20ABI))
		if err != nil {
			panic(fmt.Sprintf("failed to parse ERC20 ABI: %v", err))
		}
		method, ok := parsedERC20ABI.Methods["balanceOf"]
		if !ok {
			panic("balanceOf method not found in parsed ERC20 ABI")
		}
		balanceOfID = method.ID
	})
}

// ReadClient is the read-only fallback transport, satisfied by
// *ethclient.Client. It is used when the connected wallet's own request path
// fails or is unavailable.
type ReadClient interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Tracker fetches balances through the wallet provider first, falling back
// to a direct RPC read client per address.
type Tracker struct {
	provider provider.Provider
	read     ReadClient
	token    string // ERC-20 contract; empty means native only
	network  string
	log      logger.Logger
	rec      metrics.Recorder
}

func NewTracker(p provider.Provider, read ReadClient, token string, network string, log logger.Logger, rec metrics.Recorder) *Tracker {
	initERC20ABI()
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Tracker{provider: p, read: read, token: token, network: network, log: log, rec: rec}
}

// DialReadClient connects the fallback transport. The HTTP transport is
// lazy, so this does not block on the network.
func DialReadClient(url string) (ReadClient, error) {
	client, err := ethclient.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial read-only RPC %s: %w", url, err)
	}
	return client, nil
}

// FetchAll fetches balances for every distinct address in candidates
// (deduplicated case-insensitively) in parallel. A failure on one address
// never blocks the others; it is recorded as a nil balance and aggregated
// into the snapshot's HadFailures flag.
func (t *Tracker) FetchAll(ctx context.Context, candidates []string) types.BalanceSnapshot {
	started := time.Now()
	addrs := dedupe(candidates)

	snapshot := types.BalanceSnapshot{
		Balances: make(map[string]types.TokenBalance, len(addrs)),
		Taken:    started,
	}
	if len(addrs) == 0 {
		return snapshot
	}

	results := make([]types.TokenBalance, len(addrs))
	var g errgroup.Group
	for i, addr := range addrs {
		g.Go(func() error {
			balance, kind, err := t.fetchOne(ctx, addr)
			if err != nil {
				t.log.Warn("balance fetch failed", map[string]any{"address": addr, "error": err.Error()})
				results[i] = types.TokenBalance{Balance: nil, Token: kind}
				return err
			}
			results[i] = types.TokenBalance{Balance: balance, Token: kind}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		snapshot.HadFailures = true
	}

	for i, addr := range addrs {
		snapshot.Balances[addr] = results[i]
	}

	t.rec.ObserveLatency("refresh_balances", time.Since(started), map[string]string{"network": t.network})
	return snapshot
}

// FetchBalance fetches a single address. A nil result with a nil error never
// occurs; failure is an error, zero is a real balance.
func (t *Tracker) FetchBalance(ctx context.Context, address string) (*big.Int, error) {
	balance, _, err := t.fetchOne(ctx, types.NormalizeAddress(address))
	return balance, err
}

// fetchOne tries the configured token first and falls back to the native
// asset when no token is configured or the token lookup fails on both
// transports.
func (t *Tracker) fetchOne(ctx context.Context, addr string) (*big.Int, types.TokenKind, error) {
	if t.token != "" {
		if balance, err := t.tokenBalance(ctx, addr); err == nil {
			return balance, types.TokenERC20, nil
		} else {
			t.log.Debug("token balance lookup failed, trying native", map[string]any{"address": addr, "error": err.Error()})
		}
	}
	balance, err := t.nativeBalance(ctx, addr)
	if err != nil {
		return nil, types.TokenNative, err
	}
	return balance, types.TokenNative, nil
}

func (t *Tracker) nativeBalance(ctx context.Context, addr string) (*big.Int, error) {
	var result hexutil.Big
	walletErr := t.provider.Request(ctx, provider.MethodGetBalance, []any{addr, "latest"}, &result)
	if walletErr == nil {
		return (*big.Int)(&result), nil
	}
	if t.read == nil {
		return nil, fmt.Errorf("wallet balance lookup failed for %s: %w", addr, walletErr)
	}
	balance, err := t.read.BalanceAt(ctx, common.HexToAddress(addr), nil)
	if err != nil {
		return nil, fmt.Errorf("balance lookup failed for %s on both transports: wallet: %v, rpc: %w", addr, walletErr, err)
	}
	return balance, nil
}

func (t *Tracker) tokenBalance(ctx context.Context, addr string) (*big.Int, error) {
	callData := balanceOfCallData(addr)

	var result hexutil.Bytes
	callArgs := map[string]any{
		"to":   t.token,
		"data": hexutil.Bytes(callData).String(),
	}
	walletErr := t.provider.Request(ctx, provider.MethodCall, []any{callArgs, "latest"}, &result)
	if walletErr == nil {
		return unpackBalanceOf(result)
	}

	if t.read == nil {
		return nil, fmt.Errorf("wallet token lookup failed for %s: %w", addr, walletErr)
	}
	tokenAddr := common.HexToAddress(t.token)
	raw, err := t.read.CallContract(ctx, ethereum.CallMsg{To: &tokenAddr, Data: callData}, nil)
	if err != nil {
		return nil, fmt.Errorf("token lookup failed for %s on both transports: wallet: %v, rpc: %w", addr, walletErr, err)
	}
	return unpackBalanceOf(raw)
}

func balanceOfCallData(addr string) []byte {
	padded := common.LeftPadBytes(common.HexToAddress(addr).Bytes(), 32)
	return append(append([]byte{}, balanceOfID...), padded...)
}

func unpackBalanceOf(raw []byte) (*big.Int, error) {
	if len(raw) == 0 {
		return big.NewInt(0), nil
	}
	unpacked, err := parsedERC20ABI.Unpack("balanceOf", raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack balanceOf result: %w", err)
	}
	if len(unpacked) == 0 {
		return nil, fmt.Errorf("balanceOf unpack returned no data")
	}
	balance, ok := unpacked[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type %T", unpacked[0])
	}
	return balance, nil
}

// dedupe lowercases and deduplicates the candidate set, preserving order and
// dropping anything that is not an address.
func dedupe(candidates []string) []string {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		normalized := types.NormalizeAddress(c)
		if normalized == "" {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}
