package types

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SubAccount is the scoped, app-specific account bound to an owner session.
type SubAccount struct {
	Address     string `json:"address"`
	ChainID     string `json:"chainId,omitempty"`
	Factory     string `json:"factory,omitempty"`
	FactoryData string `json:"factoryData,omitempty"`
}

// TokenKind distinguishes how a balance was fetched.
type TokenKind string

const (
	TokenNative TokenKind = "native"
	TokenERC20  TokenKind = "erc20"
)

// TokenBalance holds one address's balance in smallest units.
// A nil Balance means the fetch failed, which is distinct from zero.
type TokenBalance struct {
	Balance *big.Int
	Token   TokenKind
}

// BalanceSnapshot is a point-in-time view of balances for a set of
// addresses. Keys are lowercase hex addresses.
type BalanceSnapshot struct {
	Balances    map[string]TokenBalance
	HadFailures bool
	Taken       time.Time
}

// Get returns the balance entry for an address, matching case-insensitively.
func (s BalanceSnapshot) Get(address string) (TokenBalance, bool) {
	b, ok := s.Balances[strings.ToLower(address)]
	return b, ok
}

// SpendPermissionParams describes a requested spend-permission grant.
type SpendPermissionParams struct {
	Address    string
	ChainID    string
	Expiry     time.Time
	SpendLimit *big.Int
	Period     string
	Token      string
}

// Call is a single on-chain call to submit as a payment.
type Call struct {
	To    string
	Value *big.Int
	Data  []byte
}

// IsAddress reports whether s looks like a hex address.
func IsAddress(s string) bool {
	return common.IsHexAddress(s)
}

// NormalizeAddress lowercases a hex address for use as a map key or for
// comparison. Returns "" when s is not an address.
func NormalizeAddress(s string) string {
	if !common.IsHexAddress(s) {
		return ""
	}
	return strings.ToLower(common.HexToAddress(s).Hex())
}

// SameAddress compares two addresses case-insensitively.
func SameAddress(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(a, b)
}
