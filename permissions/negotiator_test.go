package permissions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glassgift/basesession/types"
)

const (
	subAddr    = "0xCcC0000000000000000000000000000000000003"
	chainIDHex = "0x14a34"
)

type fakeProvider struct {
	mu         sync.Mutex
	calls      []string
	lastParams map[string][]any
	handlers   map[string]func(params []any) (any, error)
}

func (f *fakeProvider) Request(_ context.Context, method string, params any, result any) error {
	list, _ := params.([]any)
	f.mu.Lock()
	f.calls = append(f.calls, method)
	if f.lastParams == nil {
		f.lastParams = make(map[string][]any)
	}
	f.lastParams[method] = list
	handler := f.handlers[method]
	f.mu.Unlock()
	if handler == nil {
		return fmt.Errorf("unsupported method: %s", method)
	}
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

func newNegotiator(p *fakeProvider) *Negotiator {
	return NewNegotiator(p, big.NewInt(1_000_000_000_000_000), 30*24*time.Hour, "", "base-sepolia", nil, nil)
}

func TestHasActiveGrant(t *testing.T) {
	tests := []struct {
		name    string
		records any
		want    bool
	}{
		{
			"non-zero hex limit",
			[]any{map[string]any{"permissions": map[string]any{"spend": []any{map[string]any{"limit": "0x5"}}}}},
			true,
		},
		{
			"zero limit",
			[]any{map[string]any{"permissions": map[string]any{"spend": []any{map[string]any{"limit": "0x0"}}}}},
			false,
		},
		{
			"empty limit",
			[]any{map[string]any{"permissions": map[string]any{"spend": []any{map[string]any{"limit": ""}}}}},
			false,
		},
		{
			"decimal limit",
			[]any{map[string]any{"permissions": map[string]any{"spend": []any{map[string]any{"limit": "100"}}}}},
			true,
		},
		{
			"no records",
			[]any{},
			false,
		},
		{
			"unparsable limit counts as zero",
			[]any{map[string]any{"permissions": map[string]any{"spend": []any{map[string]any{"limit": "bogus"}}}}},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{handlers: map[string]func([]any) (any, error){
				"wallet_getPermissions": func([]any) (any, error) { return tt.records, nil },
			}}
			got, err := newNegotiator(p).HasActiveGrant(context.Background(), subAddr, chainIDHex)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGrantSendsBoundedRequest(t *testing.T) {
	p := &fakeProvider{handlers: map[string]func([]any) (any, error){
		"wallet_grantPermissions": func([]any) (any, error) { return nil, nil },
	}}
	n := newNegotiator(p)
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	n.SetNow(func() time.Time { return now })

	require.NoError(t, n.Grant(context.Background(), subAddr, chainIDHex))

	params := p.lastParams["wallet_grantPermissions"]
	require.Len(t, params, 1)
	req := params[0].(map[string]any)
	assert.Equal(t, subAddr, req["address"])
	assert.Equal(t, chainIDHex, req["chainId"])
	assert.Equal(t, now.Add(30*24*time.Hour).Unix(), req["expiry"])

	spend := req["permissions"].(map[string]any)["spend"].([]map[string]any)
	require.Len(t, spend, 1)
	assert.Equal(t, "0x38d7ea4c68000", spend[0]["limit"])
	assert.Equal(t, PeriodDaily, spend[0]["period"])
}

func TestGrantIncludesConfiguredToken(t *testing.T) {
	token := "0x036cbd53842c5426634e7929541ec2318f3dcf7e"
	p := &fakeProvider{handlers: map[string]func([]any) (any, error){
		"wallet_grantPermissions": func([]any) (any, error) { return nil, nil },
	}}
	n := NewNegotiator(p, big.NewInt(5), time.Hour, token, "base-sepolia", nil, nil)

	require.NoError(t, n.Grant(context.Background(), subAddr, chainIDHex))

	req := p.lastParams["wallet_grantPermissions"][0].(map[string]any)
	spend := req["permissions"].(map[string]any)["spend"].([]map[string]any)
	require.Len(t, spend, 1)
	assert.Equal(t, token, spend[0]["token"])
}

func TestGrantUnsupportedMethodIsCapabilityGap(t *testing.T) {
	p := &fakeProvider{handlers: map[string]func([]any) (any, error){
		"wallet_grantPermissions": func([]any) (any, error) {
			return nil, errors.New("Unsupported Method: wallet_grantPermissions")
		},
	}}
	err := newNegotiator(p).Grant(context.Background(), subAddr, chainIDHex)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrWalletUnsupported))
	assert.Contains(t, err.Error(), "does not support auto-spend")
}

func TestGrantOtherFailureIsPermissionDenied(t *testing.T) {
	p := &fakeProvider{handlers: map[string]func([]any) (any, error){
		"wallet_grantPermissions": func([]any) (any, error) {
			return nil, errors.New("user rejected request")
		},
	}}
	err := newNegotiator(p).Grant(context.Background(), subAddr, chainIDHex)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrPermissionDenied))
}
