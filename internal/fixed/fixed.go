// Package fixed implements the Q47.16 scalar used by every simulation
// calculation. All arithmetic is integer-only, so the same operands produce
// the same bits on every platform and compiler.
package fixed

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"
)

// FracBits is the number of fractional bits carried by a Fixed.
const FracBits = 16

const (
	scale    = 1 << FracBits
	fracMask = scale - 1
	// pow5 converts a 16-bit binary fraction into an exact 16-digit decimal.
	pow5 = 152587890625
)

var (
	// ErrDivideByZero reports a division whose divisor is zero.
	ErrDivideByZero = errors.New("fixed: divide by zero")
	// ErrInvalidNumber reports a decimal string that cannot be represented.
	ErrInvalidNumber = errors.New("fixed: invalid number")
)

var pow10 = [...]uint64{
	1, 10, 100, 1000, 10000, 100000, 1000000, 10000000, 100000000,
	1000000000, 10000000000, 100000000000, 1000000000000,
	10000000000000, 100000000000000, 1000000000000000, 10000000000000000,
}

// Fixed is a signed fixed-point number with FracBits fractional bits.
// Results that leave the representable range saturate at MinValue or
// MaxValue.
type Fixed struct {
	raw int64
}

var (
	Zero     = Fixed{}
	One      = Fixed{raw: scale}
	Half     = Fixed{raw: scale / 2}
	MaxValue = Fixed{raw: math.MaxInt64}
	MinValue = Fixed{raw: math.MinInt64}
)

// FromRaw wraps a raw Q47.16 word.
func FromRaw(raw int64) Fixed {
	return Fixed{raw: raw}
}

// FromInt converts an integer, saturating outside the representable range.
func FromInt(n int64) Fixed {
	if n > math.MaxInt64>>FracBits {
		return MaxValue
	}
	if n < math.MinInt64>>FracBits {
		return MinValue
	}
	return Fixed{raw: n << FracBits}
}

// FromRatio returns num/den.
func FromRatio(num, den int64) (Fixed, error) {
	return FromInt(num).Div(FromInt(den))
}

// MustParse is Parse for package-level constants. It panics on malformed
// input.
func MustParse(s string) Fixed {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Parse reads a decimal string such as "-9.81" or "0.016667". Fraction
// digits beyond the sixteenth are ignored and the result is rounded to the
// nearest representable value.
func Parse(s string) (Fixed, error) {
	text := strings.TrimSpace(s)
	neg := false
	if text != "" && (text[0] == '-' || text[0] == '+') {
		neg = text[0] == '-'
		text = text[1:]
	}
	whole, frac, _ := strings.Cut(text, ".")
	if whole == "" && frac == "" {
		return Zero, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}

	var w uint64
	if whole != "" {
		parsed, err := strconv.ParseUint(whole, 10, 64)
		if err != nil {
			return Zero, fmt.Errorf("%w: %q: %v", ErrInvalidNumber, s, err)
		}
		w = parsed
	}
	if w > 1<<(63-FracBits) {
		return Zero, fmt.Errorf("%w: %q out of range", ErrInvalidNumber, s)
	}

	var fracRaw uint64
	if frac != "" {
		for i := 0; i < len(frac); i++ {
			if frac[i] < '0' || frac[i] > '9' {
				return Zero, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
			}
		}
		if len(frac) > len(pow10)-1 {
			frac = frac[:len(pow10)-1]
		}
		digits, err := strconv.ParseUint(frac, 10, 64)
		if err != nil {
			return Zero, fmt.Errorf("%w: %q: %v", ErrInvalidNumber, s, err)
		}
		den := pow10[len(frac)]
		hi, lo := bits.Mul64(digits, scale)
		var carry uint64
		lo, carry = bits.Add64(lo, den/2, 0)
		hi += carry
		fracRaw, _ = bits.Div64(hi, lo, den)
	}

	mag := w<<FracBits + fracRaw
	limit := uint64(math.MaxInt64)
	if neg {
		limit = 1 << 63
	}
	if mag > limit {
		return Zero, fmt.Errorf("%w: %q out of range", ErrInvalidNumber, s)
	}
	return compose(mag, neg), nil
}

// Raw exposes the underlying word for hashing and wire encoding.
func (a Fixed) Raw() int64 {
	return a.raw
}

func (a Fixed) Add(b Fixed) Fixed {
	sum := a.raw + b.raw
	if (a.raw >= 0) == (b.raw >= 0) && (sum >= 0) != (a.raw >= 0) {
		return saturated(a.raw < 0)
	}
	return Fixed{raw: sum}
}

func (a Fixed) Sub(b Fixed) Fixed {
	diff := a.raw - b.raw
	if (a.raw >= 0) != (b.raw >= 0) && (diff >= 0) != (a.raw >= 0) {
		return saturated(a.raw < 0)
	}
	return Fixed{raw: diff}
}

// Mul truncates the product toward zero.
func (a Fixed) Mul(b Fixed) Fixed {
	ma, na := split(a.raw)
	mb, nb := split(b.raw)
	hi, lo := bits.Mul64(ma, mb)
	if hi>>FracBits != 0 {
		return saturated(na != nb)
	}
	return compose(hi<<(64-FracBits)|lo>>FracBits, na != nb)
}

// Div truncates the quotient toward zero.
func (a Fixed) Div(b Fixed) (Fixed, error) {
	if b.raw == 0 {
		return Zero, ErrDivideByZero
	}
	ma, na := split(a.raw)
	mb, nb := split(b.raw)
	hi, lo := ma>>(64-FracBits), ma<<FracBits
	if hi >= mb {
		return saturated(na != nb), nil
	}
	q, _ := bits.Div64(hi, lo, mb)
	return compose(q, na != nb), nil
}

func (a Fixed) Neg() Fixed {
	if a.raw == math.MinInt64 {
		return MaxValue
	}
	return Fixed{raw: -a.raw}
}

func (a Fixed) Abs() Fixed {
	if a.raw < 0 {
		return a.Neg()
	}
	return a
}

// Cmp returns -1, 0 or +1.
func (a Fixed) Cmp(b Fixed) int {
	switch {
	case a.raw < b.raw:
		return -1
	case a.raw > b.raw:
		return 1
	default:
		return 0
	}
}

func (a Fixed) Less(b Fixed) bool      { return a.raw < b.raw }
func (a Fixed) LessEq(b Fixed) bool    { return a.raw <= b.raw }
func (a Fixed) Greater(b Fixed) bool   { return a.raw > b.raw }
func (a Fixed) GreaterEq(b Fixed) bool { return a.raw >= b.raw }
func (a Fixed) IsZero() bool           { return a.raw == 0 }

// Clamp bounds a to [lo, hi].
func (a Fixed) Clamp(lo, hi Fixed) Fixed {
	if a.raw < lo.raw {
		return lo
	}
	if a.raw > hi.raw {
		return hi
	}
	return a
}

// Floor returns the largest integer not above a.
func (a Fixed) Floor() int64 {
	return a.raw >> FracBits
}

// Float64 is lossy and meant for display only.
func (a Fixed) Float64() float64 {
	return float64(a.raw) / scale
}

// String renders the exact decimal value.
func (a Fixed) String() string {
	mag, neg := split(a.raw)
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteString(strconv.FormatUint(mag>>FracBits, 10))
	if frac := (mag & fracMask) * pow5; frac != 0 {
		digits := strconv.FormatUint(frac, 10)
		b.WriteByte('.')
		b.WriteString(strings.Repeat("0", 16-len(digits)))
		b.WriteString(strings.TrimRight(digits, "0"))
	}
	return b.String()
}

func (a Fixed) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Fixed) UnmarshalText(text []byte) error {
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func split(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}

func compose(mag uint64, neg bool) Fixed {
	if neg {
		if mag > 1<<63 {
			return MinValue
		}
		return Fixed{raw: -int64(mag)}
	}
	if mag > math.MaxInt64 {
		return MaxValue
	}
	return Fixed{raw: int64(mag)}
}

func saturated(neg bool) Fixed {
	if neg {
		return MinValue
	}
	return MaxValue
}
