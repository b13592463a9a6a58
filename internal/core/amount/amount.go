// Package amount implements fixed-point money arithmetic for the ledger.
// Values are stored as signed integer cents (2 decimal places); all
// arithmetic is exact and rounding, where required, is HALF_UP.
package amount

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Amount is a monetary value in integer cents.
type Amount int64

const (
	// CentsPerUnit is the scaling factor between major units and cents.
	CentsPerUnit Amount = 100

	// MaxValue bounds |value| to leave room for treasury aggregates.
	MaxValue Amount = 1e14 - 1
)

var (
	ErrOverflow      = errors.New("amount overflows ledger bounds")
	ErrNegative      = errors.New("amount must not be negative")
	ErrNotPositive   = errors.New("amount must be positive")
	ErrInvalidFormat = errors.New("invalid amount format")
)

// FromCents wraps a raw cent count. It does not bounds-check; use Checked
// for arithmetic results that must stay within ledger range.
func FromCents(cents int64) Amount {
	return Amount(cents)
}

// Parse reads a decimal string with at most two fractional digits,
// e.g. "1000.00", "10.5", "7".
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidFormat
	}
	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}
	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" || len(frac) > 2 {
		return 0, ErrInvalidFormat
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, ErrInvalidFormat
	}
	var f int64
	if frac != "" {
		f, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, ErrInvalidFormat
		}
		if len(frac) == 1 {
			f *= 10
		}
	}
	cents := w*int64(CentsPerUnit) + f
	if neg {
		cents = -cents
	}
	a := Amount(cents)
	if !a.InRange() {
		return 0, ErrOverflow
	}
	return a, nil
}

// MustParse is Parse for test fixtures and constants.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("amount: %q: %v", s, err))
	}
	return a
}

// Cents returns the raw cent count.
func (a Amount) Cents() int64 { return int64(a) }

// InRange reports whether |a| is within ledger bounds.
func (a Amount) InRange() bool {
	if a < 0 {
		return -a <= MaxValue
	}
	return a <= MaxValue
}

func (a Amount) IsZero() bool     { return a == 0 }
func (a Amount) IsPositive() bool { return a > 0 }
func (a Amount) IsNegative() bool { return a < 0 }

// Add returns a+b, failing on overflow of the ledger range.
func (a Amount) Add(b Amount) (Amount, error) {
	s := a + b
	// Sign-flip check catches int64 wraparound before range check.
	if (b > 0 && s < a) || (b < 0 && s > a) || !s.InRange() {
		return 0, ErrOverflow
	}
	return s, nil
}

// Sub returns a−b, failing on overflow of the ledger range.
func (a Amount) Sub(b Amount) (Amount, error) {
	return a.Add(-b)
}

// Neg returns −a.
func (a Amount) Neg() Amount { return -a }

// MulRat returns a×num/den rounded HALF_UP. den must be positive.
func (a Amount) MulRat(num, den int64) (Amount, error) {
	if den <= 0 {
		return 0, ErrInvalidFormat
	}
	v := int64(a) * num
	if num != 0 && v/num != int64(a) {
		return 0, ErrOverflow
	}
	q := v / den
	r := v % den
	if r < 0 {
		r = -r
	}
	// HALF_UP: round away from zero when the remainder is at least half.
	if 2*r >= den {
		if v >= 0 {
			q++
		} else {
			q--
		}
	}
	out := Amount(q)
	if !out.InRange() {
		return 0, ErrOverflow
	}
	return out, nil
}

// String renders the canonical 2dp form, e.g. "-12.05".
func (a Amount) String() string {
	v := int64(a)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/int64(CentsPerUnit), v%int64(CentsPerUnit))
}

// MarshalJSON renders the amount as a fixed 2dp JSON string so canonical
// payload hashing never depends on float formatting.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts the decimal major-unit form, quoted or bare: "12.05",
// "100" and 100 all parse through Parse, so a bare 100 is 100.00, not cents.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}
