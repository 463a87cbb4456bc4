package chain

import (
	"strings"

	"github.com/shopspring/decimal"

	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// SatoshisPerBSV is the number of satoshis in one BSV.
const SatoshisPerBSV = 100_000_000

const bsvDecimals = 8

// FormatSatoshis renders an amount in BSV with eight decimal places.
func FormatSatoshis(sats uint64) string {
	return decimal.NewFromInt(int64(sats)).Shift(-bsvDecimals).StringFixed(bsvDecimals) //nolint:gosec // supply fits int64
}

// ParseBSV converts a decimal BSV amount into satoshis. More than eight
// decimal places, negatives and amounts above the supply are rejected.
func ParseBSV(s string) (uint64, error) {
	invalid := walleterr.WithContext(walleterr.Wrap(walleterr.ErrInvalidInput, "invalid BSV amount"),
		map[string]string{"amount": s})

	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || d.IsNegative() {
		return 0, invalid
	}
	sats := d.Shift(bsvDecimals)
	if !sats.Equal(sats.Truncate(0)) {
		return 0, invalid
	}
	if sats.GreaterThan(decimal.NewFromInt(21_000_000 * SatoshisPerBSV)) {
		return 0, invalid
	}
	return uint64(sats.IntPart()), nil //nolint:gosec // bounded above
}
