package types

import "fmt"

// Network represents supported chains for the session layer.
type Network string

const (
	NetworkBase        Network = "base"
	NetworkBaseSepolia Network = "base-sepolia" // testnet
)

// ChainID returns the numeric chain id for the network.
func (n Network) ChainID() int64 {
	switch n {
	case NetworkBase:
		return 8453
	case NetworkBaseSepolia:
		return 84532
	default:
		return 0
	}
}

// ChainIDHex returns the chain id as a lowercase 0x-prefixed hex string,
// the form wallet RPC methods expect.
func (n Network) ChainIDHex() string {
	id := n.ChainID()
	if id == 0 {
		return ""
	}
	return fmt.Sprintf("0x%x", id)
}

// DefaultRPCURL returns the public read-only endpoint for the network.
func (n Network) DefaultRPCURL() string {
	switch n {
	case NetworkBase:
		return "https://mainnet.base.org"
	default:
		return "https://sepolia.base.org"
	}
}

// DefaultSpendToken returns the canonical USDC contract for the network.
func (n Network) DefaultSpendToken() string {
	switch n {
	case NetworkBase:
		return "0x833589fcd6edb6e08f4c7c32d4f41d6e548150d9"
	default:
		return "0x036cbd53842c5426634e7929541ec2318f3dcf7e"
	}
}

// IsValid reports whether the network is one this library knows about.
func (n Network) IsValid() bool {
	return n == NetworkBase || n == NetworkBaseSepolia
}

func (n Network) String() string {
	return string(n)
}
