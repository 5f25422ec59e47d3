package provider

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

// jsonRPCMethodNotFound is the standard JSON-RPC code for an unknown method.
const jsonRPCMethodNotFound = -32601

// IsUnsupportedMethod reports whether err indicates the wallet does not
// support the requested RPC method, as opposed to a genuine failure of a
// supported one. Wallets signal this inconsistently: some return the
// standard method-not-found code, others a plain error whose message
// contains "unsupported method". All such matching lives here so it has one
// place to evolve.
func IsUnsupportedMethod(err error) bool {
	if err == nil {
		return false
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == jsonRPCMethodNotFound {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unsupported method") ||
		strings.Contains(msg, "method not found") ||
		strings.Contains(msg, "does not exist / is not available")
}
