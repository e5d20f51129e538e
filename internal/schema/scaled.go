package schema

import (
	"errors"
	"strconv"
	"strings"
)

var (
	ErrBadDecimal     = errors.New("malformed decimal string")
	ErrScaleTooLarge  = errors.New("decimal scale out of range")
	ErrValueOverflow  = errors.New("scaled value overflows int64")
	ErrExcessDecimals = errors.New("more fractional digits than the scale allows")
)

const maxInt64 = int64(^uint64(0) >> 1)

// Price is a scaled integer. The scale is per instrument (Instrument.Decimals).
type Price int64

func (p Price) AppendString(scale int32, buf []byte) []byte {
	return appendScaledInt(buf, int64(p), int(scale))
}

// Quantity is a scaled integer. The scale is per instrument.
type Quantity int64

func (q Quantity) AppendString(scale int32, buf []byte) []byte {
	return appendScaledInt(buf, int64(q), int(scale))
}

// Notional is a scaled integer product of price and quantity.
type Notional int64

func (n Notional) AppendString(scale int32, buf []byte) []byte {
	return appendScaledInt(buf, int64(n), int(scale))
}

// MulNotional multiplies price by quantity with overflow detection.
// The result carries the combined scale of both operands.
func MulNotional(price Price, qty Quantity) (Notional, bool) {
	p := int64(price)
	q := int64(qty)
	if p == 0 || q == 0 {
		return 0, false
	}
	neg := false
	if p < 0 {
		p = -p
		neg = !neg
	}
	if q < 0 {
		q = -q
		neg = !neg
	}
	if p > maxInt64/q {
		return 0, true
	}
	v := p * q
	if neg {
		v = -v
	}
	return Notional(v), false
}

// ParseScaled parses a decimal string into an integer scaled by 10^scale.
// Example: "1.23" with scale 6 yields 1230000. Digits beyond the scale
// are rejected rather than truncated.
func ParseScaled(s string, scale int32) (int64, error) {
	if s == "" {
		return 0, ErrBadDecimal
	}
	if scale < 0 || scale > 18 {
		return 0, ErrScaleTooLarge
	}

	intPart, fracPart, found := strings.Cut(s, ".")
	if found && strings.Contains(fracPart, ".") {
		return 0, ErrBadDecimal
	}

	neg := false
	if strings.HasPrefix(intPart, "-") {
		neg = true
		intPart = intPart[1:]
	}

	var intVal int64
	if intPart != "" {
		v, err := strconv.ParseInt(intPart, 10, 64)
		if err != nil {
			return 0, ErrBadDecimal
		}
		intVal = v
	} else if fracPart == "" {
		return 0, ErrBadDecimal
	}

	fracPart = strings.TrimRight(fracPart, "0")
	if len(fracPart) > int(scale) {
		return 0, ErrExcessDecimals
	}

	var fracVal int64
	if fracPart != "" {
		v, err := strconv.ParseUint(fracPart, 10, 63)
		if err != nil {
			return 0, ErrBadDecimal
		}
		fracVal = int64(v)
		for i := len(fracPart); i < int(scale); i++ {
			fracVal *= 10
		}
	}

	mult := int64(1)
	for i := int32(0); i < scale; i++ {
		mult *= 10
	}
	if intVal != 0 && intVal > (maxInt64-fracVal)/mult {
		return 0, ErrValueOverflow
	}
	total := intVal*mult + fracVal
	if neg {
		total = -total
	}
	return total, nil
}

func appendScaledInt(buf []byte, value int64, scale int) []byte {
	if scale <= 0 {
		return strconv.AppendInt(buf, value, 10)
	}

	neg := value < 0
	u := uint64(value)
	if neg {
		u = uint64(^value) + 1
	}

	var tmp [32]byte
	digits := strconv.AppendUint(tmp[:0], u, 10)

	if neg {
		buf = append(buf, '-')
	}

	if len(digits) <= scale {
		buf = append(buf, '0', '.')
		for i := 0; i < scale-len(digits); i++ {
			buf = append(buf, '0')
		}
		buf = append(buf, digits...)
		return buf
	}

	idx := len(digits) - scale
	buf = append(buf, digits[:idx]...)
	buf = append(buf, '.')
	buf = append(buf, digits[idx:]...)
	return buf
}
