package resolver

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	ownerAddr   = "0xAaA0000000000000000000000000000000000001"
	secondAddr  = "0xBbB0000000000000000000000000000000000002"
	subAddr     = "0xCcC0000000000000000000000000000000000003"
	fundingAddr = "0xDdD0000000000000000000000000000000000004"
)

func TestResolveOwner(t *testing.T) {
	tests := []struct {
		name      string
		connected []string
		knownSub  string
		want      string
	}{
		{"first account wins", []string{ownerAddr, secondAddr}, "", ownerAddr},
		{"sub-account excluded", []string{subAddr, ownerAddr}, subAddr, ownerAddr},
		{"sub-account excluded case-insensitively", []string{"0xccc0000000000000000000000000000000000003", ownerAddr}, subAddr, ownerAddr},
		{"all accounts are sub-accounts", []string{subAddr}, subAddr, ""},
		{"empty list", nil, subAddr, ""},
		{"non-address entries skipped", []string{"not-an-address", ownerAddr}, "", ownerAddr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveOwner(tt.connected, tt.knownSub))
		})
	}
}

func TestResolveOwnerNeverReturnsSubAccount(t *testing.T) {
	got := ResolveOwner([]string{subAddr, subAddr}, subAddr)
	assert.Empty(t, got)
}

func TestResolveFundingAddress(t *testing.T) {
	tests := []struct {
		name         string
		capabilities string
		want         string
	}{
		{
			"funding capability keyed by chain",
			`{"0x14a34": {"funding": {"address": "` + fundingAddr + `"}}}`,
			fundingAddr,
		},
		{
			"funding capability with chain key in different case",
			`{"0X14A34": {"funding": {"address": "` + fundingAddr + `"}}}`,
			fundingAddr,
		},
		{
			"subAccounts capability",
			`{"0x14a34": {"subAccounts": {"address": "` + subAddr + `"}}}`,
			subAddr,
		},
		{
			"subAccounts list",
			`{"0x14a34": {"subAccounts": [{"address": "` + subAddr + `"}]}}`,
			subAddr,
		},
		{
			"funding preferred over subAccounts",
			`{"0x14a34": {"subAccounts": {"address": "` + subAddr + `"}, "funding": {"address": "` + fundingAddr + `"}}}`,
			fundingAddr,
		},
		{
			"flat address field",
			`{"address": "` + fundingAddr + `"}`,
			fundingAddr,
		},
		{
			"unrecognized nested shape found generically",
			`{"0x14a34": {"accountMetadata": {"inner": {"wallet": "` + fundingAddr + `"}}}}`,
			fundingAddr,
		},
		{
			"nothing address-shaped falls back",
			`{"0x14a34": {"atomic": {"supported": true}}}`,
			ownerAddr,
		},
		{
			"empty payload falls back",
			``,
			ownerAddr,
		},
		{
			"non-object payload falls back",
			`42`,
			ownerAddr,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveFundingAddress(json.RawMessage(tt.capabilities), "0x14a34", ownerAddr)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveFundingAddressNeverPanics(t *testing.T) {
	payloads := []string{`null`, `[]`, `"0x14a34"`, `{"0x14a34": null}`, `{invalid`}
	for _, p := range payloads {
		got := ResolveFundingAddress(json.RawMessage(p), "0x14a34", "")
		assert.Empty(t, got)
	}
}
