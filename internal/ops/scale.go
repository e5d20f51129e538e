package ops

import (
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

// parseScaled converts a decimal string into an integer scaled by
// 10^scale. Digits beyond the scale are a config error, not a rounding.
func parseScaled(s string, scale int32) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, errors.Wrapf(err, "parse decimal %q", s)
	}
	shifted := d.Shift(scale)
	if !shifted.IsInteger() {
		return 0, errors.Errorf("%q has more than %d fractional digits", s, scale)
	}
	if !shifted.BigInt().IsInt64() {
		return 0, errors.Errorf("%q overflows at scale %d", s, scale)
	}
	return shifted.IntPart(), nil
}

// parseScaledOpt treats an empty string as zero (limit disabled).
func parseScaledOpt(s string, scale int32) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return parseScaled(s, scale)
}
