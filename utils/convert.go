package utils

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	EtherDecimals = 18
	GweiDecimals  = 9
)

var (
	OneGweiInWei = int64(1_000_000_000)
)

// ParseUnits converts a human readable amount (e.g. "0.01") into the smallest unit of an asset
// with the given decimals. Amounts with more fractional digits than decimals are rejected.
func ParseUnits(s string, decimals int32) (*big.Int, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}

	shifted := value.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("amount %q has more than %d decimals", s, decimals)
	}

	return shifted.BigInt(), nil
}

// ParseEther converts an amount in ether into wei.
func ParseEther(s string) (*big.Int, error) {
	return ParseUnits(s, EtherDecimals)
}

// FormatUnits is the inverse of ParseUnits.
func FormatUnits(value *big.Int, decimals int32) string {
	if value == nil {
		return "0"
	}

	return decimal.NewFromBigInt(value, -decimals).String()
}

func FormatEther(value *big.Int) string {
	return FormatUnits(value, EtherDecimals)
}

// GweiToWei converts a gas price in gwei to wei, dropping anything below 1 wei.
func GweiToWei(gwei float64) *big.Int {
	return decimal.NewFromFloat(gwei).Shift(GweiDecimals).Truncate(0).BigInt()
}
