package amount

import "errors"

// Currency is the closed set of currencies the platform settles in.
type Currency string

const (
	BBD Currency = "BBD"
	USD Currency = "USD"
)

var ErrUnknownCurrency = errors.New("unknown currency")

// ParseCurrency validates and normalizes a currency code.
func ParseCurrency(s string) (Currency, error) {
	switch Currency(s) {
	case BBD, USD:
		return Currency(s), nil
	}
	return "", ErrUnknownCurrency
}

func (c Currency) Valid() bool {
	return c == BBD || c == USD
}

func (c Currency) String() string { return string(c) }
