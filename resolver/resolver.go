// Package resolver decides which of the session's observed addresses signs
// requests and which one funds payments.
package resolver

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/glassgift/basesession/types"
)

// ResolveOwner picks the owner/signing address from the provider's connected
// account list: the first entry that is a real address and is not the known
// sub-account. Returns "" when no candidate remains. The sub-account must
// never become the owner, so this is re-run whenever either input changes.
func ResolveOwner(connected []string, knownSubAccount string) string {
	for _, account := range connected {
		if !types.IsAddress(account) {
			continue
		}
		if knownSubAccount != "" && types.SameAddress(account, knownSubAccount) {
			continue
		}
		return account
	}
	return ""
}

// Known shapes of a wallet_getCapabilities response, per chain id key:
//
//	{"0x14a34": {"funding": {"address": "0x..."}}}
//	{"0x14a34": {"subAccounts": {"address": "0x..."}}}
//	{"address": "0x..."}
//
// Wallets vary, so unrecognized shapes fall through to a generic recursive
// search kept deliberately separate from the typed branches.
type fundingEntry struct {
	Address        string `json:"address"`
	FundingAddress string `json:"fundingAddress"`
}

type chainCapabilities struct {
	Funding     json.RawMessage `json:"funding"`
	SubAccounts json.RawMessage `json:"subAccounts"`
	SubAccount  json.RawMessage `json:"subAccount"`
}

// ResolveFundingAddress extracts the funding address from a capability
// response. chainIDHex selects the per-chain sub-object when the response is
// keyed by chain. Priority: explicit funding capability, then sub-account
// capability, then any address-shaped field, then the caller-supplied
// fallback. Never returns an error; an unusable payload resolves to the
// fallback.
func ResolveFundingAddress(capabilities json.RawMessage, chainIDHex, fallback string) string {
	if len(capabilities) == 0 {
		return fallback
	}

	scoped := scopeToChain(capabilities, chainIDHex)

	var caps chainCapabilities
	if err := json.Unmarshal(scoped, &caps); err == nil {
		if addr := entryAddress(caps.Funding); addr != "" {
			return addr
		}
		if addr := entryAddress(caps.SubAccounts); addr != "" {
			return addr
		}
		if addr := entryAddress(caps.SubAccount); addr != "" {
			return addr
		}
	}

	if addr := entryAddress(scoped); addr != "" {
		return addr
	}
	if addr := searchAnyAddress(scoped); addr != "" {
		return addr
	}
	return fallback
}

// scopeToChain narrows a chain-keyed response to the entry for chainIDHex.
// Responses that are not keyed by chain id pass through unchanged.
func scopeToChain(capabilities json.RawMessage, chainIDHex string) json.RawMessage {
	if chainIDHex == "" {
		return capabilities
	}
	var byChain map[string]json.RawMessage
	if err := json.Unmarshal(capabilities, &byChain); err != nil {
		return capabilities
	}
	for key, value := range byChain {
		if strings.EqualFold(key, chainIDHex) {
			return value
		}
	}
	return capabilities
}

// entryAddress reads the address out of one typed capability entry, which may
// be a bare address string, an object, or a list of objects.
func entryAddress(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var direct string
	if err := json.Unmarshal(raw, &direct); err == nil {
		if types.IsAddress(direct) {
			return direct
		}
		return ""
	}

	var entry fundingEntry
	if err := json.Unmarshal(raw, &entry); err == nil {
		if types.IsAddress(entry.Address) {
			return entry.Address
		}
		if types.IsAddress(entry.FundingAddress) {
			return entry.FundingAddress
		}
	}

	var list []fundingEntry
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, e := range list {
			if types.IsAddress(e.Address) {
				return e.Address
			}
			if types.IsAddress(e.FundingAddress) {
				return e.FundingAddress
			}
		}
	}
	return ""
}

// searchAnyAddress is the last-resort branch: walk the decoded payload and
// return the first address-shaped string. Map keys are visited in sorted
// order so the result is deterministic.
func searchAnyAddress(raw json.RawMessage) string {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return ""
	}
	return walkForAddress(decoded)
}

func walkForAddress(node any) string {
	switch v := node.(type) {
	case string:
		if types.IsAddress(v) {
			return v
		}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if addr := walkForAddress(v[k]); addr != "" {
				return addr
			}
		}
	case []any:
		for _, item := range v {
			if addr := walkForAddress(item); addr != "" {
				return addr
			}
		}
	}
	return ""
}
