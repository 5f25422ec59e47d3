package balances

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glassgift/basesession/types"
)

const (
	addrA = "0xAaA0000000000000000000000000000000000001"
	addrB = "0xBbB0000000000000000000000000000000000002"
	token = "0x036cBD53842c5426634e7929541eC2318f3dCF7e"
)

type fakeProvider struct {
	mu       sync.Mutex
	calls    []string
	handlers map[string]func(params []any) (any, error)
}

func (f *fakeProvider) Request(_ context.Context, method string, params any, result any) error {
	f.mu.Lock()
	f.calls = append(f.calls, method)
	handler := f.handlers[method]
	f.mu.Unlock()
	if handler == nil {
		return fmt.Errorf("unsupported method: %s", method)
	}
	list, _ := params.([]any)
	value, err := handler(list)
	if err != nil {
		return err
	}
	if result == nil || value == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, result)
}

func (f *fakeProvider) Subscribe(string, func(json.RawMessage)) func() {
	return func() {}
}

func (f *fakeProvider) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, c := range f.calls {
		if c == method {
			count++
		}
	}
	return count
}

type fakeReadClient struct {
	balances    map[string]*big.Int
	tokenResult []byte
	err         error
}

func (f *fakeReadClient) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	balance, ok := f.balances[account.Hex()]
	if !ok {
		return nil, errors.New("unknown account")
	}
	return balance, nil
}

func (f *fakeReadClient) CallContract(_ context.Context, _ ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tokenResult, nil
}

func encodedBalance(value int64) string {
	return hexutil.Encode(common.LeftPadBytes(big.NewInt(value).Bytes(), 32))
}

func TestFetchAllNativeViaWallet(t *testing.T) {
	p := &fakeProvider{handlers: map[string]func([]any) (any, error){
		"eth_getBalance": func(params []any) (any, error) {
			if addr, ok := params[0].(string); ok && strings.EqualFold(addr, addrA) {
				return "0x5", nil
			}
			return "0x0", nil
		},
	}}
	tracker := NewTracker(p, nil, "", "base-sepolia", nil, nil)

	snapshot := tracker.FetchAll(context.Background(), []string{addrA, addrB, addrA})

	require.Len(t, snapshot.Balances, 2)
	assert.False(t, snapshot.HadFailures)

	a, ok := snapshot.Get(addrA)
	require.True(t, ok)
	assert.Equal(t, int64(5), a.Balance.Int64())
	assert.Equal(t, types.TokenNative, a.Token)

	b, ok := snapshot.Get(addrB)
	require.True(t, ok)
	assert.Equal(t, int64(0), b.Balance.Int64())
}

func TestFetchAllDistinguishesNilFromZero(t *testing.T) {
	p := &fakeProvider{handlers: map[string]func([]any) (any, error){
		"eth_getBalance": func(params []any) (any, error) {
			if addr, ok := params[0].(string); ok && strings.EqualFold(addr, addrA) {
				return nil, errors.New("rpc timeout")
			}
			return "0x0", nil
		},
	}}
	tracker := NewTracker(p, nil, "", "base-sepolia", nil, nil)

	snapshot := tracker.FetchAll(context.Background(), []string{addrA, addrB})

	assert.True(t, snapshot.HadFailures)
	a, _ := snapshot.Get(addrA)
	assert.Nil(t, a.Balance)
	b, _ := snapshot.Get(addrB)
	require.NotNil(t, b.Balance)
	assert.Equal(t, int64(0), b.Balance.Int64())
}

func TestFetchBalanceFallsBackToReadClient(t *testing.T) {
	p := &fakeProvider{handlers: map[string]func([]any) (any, error){}}
	read := &fakeReadClient{balances: map[string]*big.Int{
		common.HexToAddress(addrA).Hex(): big.NewInt(42),
	}}
	tracker := NewTracker(p, read, "", "base-sepolia", nil, nil)

	balance, err := tracker.FetchBalance(context.Background(), addrA)
	require.NoError(t, err)
	assert.Equal(t, int64(42), balance.Int64())
}

func TestFetchBalanceFailsWhenBothTransportsFail(t *testing.T) {
	p := &fakeProvider{handlers: map[string]func([]any) (any, error){}}
	read := &fakeReadClient{err: errors.New("connection refused")}
	tracker := NewTracker(p, read, "", "base-sepolia", nil, nil)

	_, err := tracker.FetchBalance(context.Background(), addrA)
	assert.Error(t, err)
}

func TestTokenBalanceViaWallet(t *testing.T) {
	p := &fakeProvider{handlers: map[string]func([]any) (any, error){
		"eth_call": func(params []any) (any, error) {
			return encodedBalance(12340000), nil
		},
	}}
	tracker := NewTracker(p, nil, token, "base-sepolia", nil, nil)

	snapshot := tracker.FetchAll(context.Background(), []string{addrA})
	entry, ok := snapshot.Get(addrA)
	require.True(t, ok)
	require.NotNil(t, entry.Balance)
	assert.Equal(t, int64(12340000), entry.Balance.Int64())
	assert.Equal(t, types.TokenERC20, entry.Token)
	assert.Equal(t, 0, p.callCount("eth_getBalance"))
}

func TestTokenBalanceViaReadClientFallback(t *testing.T) {
	p := &fakeProvider{handlers: map[string]func([]any) (any, error){}}
	read := &fakeReadClient{
		balances:    map[string]*big.Int{},
		tokenResult: common.LeftPadBytes(big.NewInt(999).Bytes(), 32),
	}
	tracker := NewTracker(p, read, token, "base-sepolia", nil, nil)

	snapshot := tracker.FetchAll(context.Background(), []string{addrA})
	entry, ok := snapshot.Get(addrA)
	require.True(t, ok)
	require.NotNil(t, entry.Balance)
	assert.Equal(t, int64(999), entry.Balance.Int64())
	assert.Equal(t, types.TokenERC20, entry.Token)
}

func TestTokenLookupFailureFallsBackToNative(t *testing.T) {
	p := &fakeProvider{handlers: map[string]func([]any) (any, error){
		"eth_getBalance": func(params []any) (any, error) {
			return "0x7", nil
		},
	}}
	tracker := NewTracker(p, nil, token, "base-sepolia", nil, nil)

	snapshot := tracker.FetchAll(context.Background(), []string{addrA})
	entry, _ := snapshot.Get(addrA)
	require.NotNil(t, entry.Balance)
	assert.Equal(t, int64(7), entry.Balance.Int64())
	assert.Equal(t, types.TokenNative, entry.Token)
}
