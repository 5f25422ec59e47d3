// Package provider defines the boundary to the external wallet provider.
// The session layer drives the wallet exclusively through this interface;
// the wallet's own RPC behavior is a contract it depends on, not one it
// defines.
package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"
)

// RPC methods consumed on the wallet provider surface.
const (
	MethodRequestAccounts  = "eth_requestAccounts"
	MethodAccounts         = "eth_accounts"
	MethodGetBalance       = "eth_getBalance"
	MethodCall             = "eth_call"
	MethodSendTransaction  = "eth_sendTransaction"
	MethodGetCapabilities  = "wallet_getCapabilities"
	MethodGetPermissions   = "wallet_getPermissions"
	MethodGrantPermissions = "wallet_grantPermissions"
	MethodSendCalls        = "wallet_sendCalls"
	MethodGetSubAccounts   = "wallet_getSubAccounts"
	MethodAddSubAccount    = "wallet_addSubAccount"
)

// Events emitted by the wallet provider.
const (
	EventAccountsChanged = "accountsChanged"
	EventDisconnect      = "disconnect"
)

// Provider is the wallet provider the session talks to. Request issues a
// single RPC call and unmarshals the response into result (which may be nil
// when the caller does not care about the response body).
//
// Subscribe registers an event handler and returns an unsubscribe handle.
// Handlers receive the raw event payload and may be invoked from any
// goroutine; implementations must not drop the returned handle, so listeners
// cannot leak across reconnects.
type Provider interface {
	Request(ctx context.Context, method string, params any, result any) error
	Subscribe(event string, handler func(payload json.RawMessage)) (unsubscribe func())
}

// RPCProvider adapts a plain JSON-RPC endpoint to the Provider interface.
// It serves headless use (examples, integration tests against a node); a
// plain endpoint has no wallet UI and emits no events, so Subscribe is a
// no-op.
type RPCProvider struct {
	client *rpc.Client
}

func NewRPCProvider(url string) (*RPCProvider, error) {
	client, err := rpc.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial provider RPC %s: %w", url, err)
	}
	return &RPCProvider{client: client}, nil
}

func (p *RPCProvider) Request(ctx context.Context, method string, params any, result any) error {
	args, err := flattenParams(params)
	if err != nil {
		return err
	}
	if result == nil {
		var discard json.RawMessage
		result = &discard
	}
	return p.client.CallContext(ctx, result, method, args...)
}

func (p *RPCProvider) Subscribe(string, func(payload json.RawMessage)) (unsubscribe func()) {
	return func() {}
}

func (p *RPCProvider) Close() {
	p.client.Close()
}

// flattenParams turns the positional params value into the variadic argument
// list CallContext expects. Wallet methods take a JSON array of params; a nil
// value means no params.
func flattenParams(params any) ([]any, error) {
	switch v := params.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	default:
		return nil, fmt.Errorf("provider params must be a positional list, got %T", params)
	}
}
