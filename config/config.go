// Package config loads the session configuration from environment-style
// variables. Every field is optional with a safe default; absence of a spend
// token means native-asset balances and payments are used throughout.
package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/glassgift/basesession/types"
)

const (
	// DefaultSpendDailyLimitWei bounds an auto-spend grant when no limit is
	// configured: 10^15 smallest units, a small fraction of one unit.
	DefaultSpendDailyLimitWei = "1000000000000000"

	DefaultSpendExpiry        = 30 * 24 * time.Hour
	DefaultSpendTokenDecimals = 6
	DefaultAppName            = "Glass Gift Shop"
)

var validate = validator.New()

// Config holds everything the session layer consumes.
type Config struct {
	Network      types.Network `validate:"required"`
	AppName      string        `validate:"required"`
	AppLogoURL   string        `validate:"omitempty,url"`
	PaymasterURL string        `validate:"omitempty,url"`

	// RPCURL is the read-only fallback endpoint for balance fetches. Empty
	// means the network's public endpoint.
	RPCURL string `validate:"omitempty,url"`

	// SpendToken is the ERC-20 contract used for auto-spend grants and
	// payments. Empty means the native asset.
	SpendToken         string `validate:"omitempty,eth_addr"`
	SpendTokenDecimals int    `validate:"gte=0,lte=36"`

	// SpendDailyLimit is the grant ceiling in smallest units.
	SpendDailyLimit *big.Int
	SpendExpiry     time.Duration

	// Recipient receives invoice payments. Leaving it unset is a hard error
	// at payment time unless DemoMode is on.
	Recipient          string `validate:"omitempty,eth_addr"`
	InvoiceAmountCents int64  `validate:"gte=0"`
	WalletURL          string `validate:"omitempty,url"`
	DemoMode           bool
}

// Default returns a configuration suitable for the testnet demo flow.
func Default() Config {
	limit, _ := new(big.Int).SetString(DefaultSpendDailyLimitWei, 10)
	return Config{
		Network:            types.NetworkBaseSepolia,
		AppName:            DefaultAppName,
		SpendTokenDecimals: DefaultSpendTokenDecimals,
		SpendDailyLimit:    limit,
		SpendExpiry:        DefaultSpendExpiry,
	}
}

// FromEnv builds a Config from GLASS_* environment variables on top of the
// defaults, then validates it.
func FromEnv() (Config, error) {
	cfg := Default()

	if v := os.Getenv("GLASS_NETWORK"); v != "" {
		cfg.Network = types.Network(v)
	}
	if v := os.Getenv("GLASS_APP_NAME"); v != "" {
		cfg.AppName = v
	}
	if v := os.Getenv("GLASS_APP_LOGO"); v != "" {
		cfg.AppLogoURL = v
	}
	if v := os.Getenv("GLASS_PAYMASTER_URL"); v != "" {
		cfg.PaymasterURL = v
	}
	if v := os.Getenv("GLASS_RPC_URL"); v != "" {
		cfg.RPCURL = v
	}
	if v := os.Getenv("GLASS_SPEND_TOKEN"); v != "" {
		cfg.SpendToken = v
	}
	if v := os.Getenv("GLASS_SPEND_TOKEN_DECIMALS"); v != "" {
		decimals, err := strconv.Atoi(v)
		if err != nil {
			return cfg, types.WrapSessionError(types.ErrInvalidConfig, "invalid GLASS_SPEND_TOKEN_DECIMALS", err)
		}
		cfg.SpendTokenDecimals = decimals
	}
	if v := os.Getenv("GLASS_SPEND_DAILY_LIMIT"); v != "" {
		limit, ok := new(big.Int).SetString(v, 10)
		if !ok || limit.Sign() < 0 {
			return cfg, types.NewSessionError(types.ErrInvalidConfig, fmt.Sprintf("invalid GLASS_SPEND_DAILY_LIMIT %q", v))
		}
		cfg.SpendDailyLimit = limit
	}
	if v := os.Getenv("GLASS_SPEND_EXPIRY_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days <= 0 {
			return cfg, types.NewSessionError(types.ErrInvalidConfig, fmt.Sprintf("invalid GLASS_SPEND_EXPIRY_DAYS %q", v))
		}
		cfg.SpendExpiry = time.Duration(days) * 24 * time.Hour
	}
	if v := os.Getenv("GLASS_RECIPIENT"); v != "" {
		cfg.Recipient = v
	}
	if v := os.Getenv("GLASS_INVOICE_AMOUNT"); v != "" {
		cents, err := usdToCents(v)
		if err != nil {
			return cfg, types.WrapSessionError(types.ErrInvalidConfig, "invalid GLASS_INVOICE_AMOUNT", err)
		}
		cfg.InvoiceAmountCents = cents
	}
	if v := os.Getenv("GLASS_WALLET_URL"); v != "" {
		cfg.WalletURL = v
	}
	if v := os.Getenv("GLASS_DEMO_MODE"); v != "" {
		demo, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, types.WrapSessionError(types.ErrInvalidConfig, "invalid GLASS_DEMO_MODE", err)
		}
		cfg.DemoMode = demo
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks field constraints and fills the remaining derived defaults.
func (c *Config) Validate() error {
	if !c.Network.IsValid() {
		return types.NewSessionError(types.ErrInvalidConfig, fmt.Sprintf("unknown network %q", c.Network))
	}
	if c.RPCURL == "" {
		c.RPCURL = c.Network.DefaultRPCURL()
	}
	if c.SpendDailyLimit == nil {
		c.SpendDailyLimit, _ = new(big.Int).SetString(DefaultSpendDailyLimitWei, 10)
	}
	if c.SpendExpiry <= 0 {
		c.SpendExpiry = DefaultSpendExpiry
	}
	if err := validate.Struct(c); err != nil {
		return types.WrapSessionError(types.ErrInvalidConfig, "configuration validation failed", err)
	}
	return nil
}

// usdToCents converts a decimal dollar amount ("12.34") to integer cents
// without passing through floating point.
func usdToCents(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	cents := d.Shift(2)
	if !cents.IsInteger() {
		return 0, fmt.Errorf("amount %s has sub-cent precision", s)
	}
	return cents.IntPart(), nil
}
