package money

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"
)

// Money represents an amount in the minor unit of a currency.
// All arithmetic is performed on int64 to avoid floating-point precision issues.
//
// Examples:
//   - $10.50 = Money{Currency: "usd", Minor: 1050}
//   - ¥500   = Money{Currency: "jpy", Minor: 500}
type Money struct {
	Currency string // lowercase ISO 4217 code
	Minor    int64  // amount in smallest unit (cents for usd)
}

var (
	// ErrOverflow occurs when an operation would exceed int64 capacity.
	ErrOverflow = errors.New("money: arithmetic overflow")

	// ErrCurrencyMismatch occurs when operating on different currencies.
	ErrCurrencyMismatch = errors.New("money: currency mismatch")

	// ErrInvalidFormat occurs when parsing fails.
	ErrInvalidFormat = errors.New("money: invalid format")

	// ErrInvalidCurrency occurs when a currency code is not 3 lowercase letters.
	ErrInvalidCurrency = errors.New("money: invalid currency code")
)

var currencyPattern = regexp.MustCompile(`^[a-z]{3}$`)

// zeroDecimal lists currencies whose minor unit equals the major unit.
var zeroDecimal = map[string]struct{}{
	"bif": {}, "clp": {}, "djf": {}, "gnf": {}, "jpy": {}, "kmf": {}, "krw": {},
	"mga": {}, "pyg": {}, "rwf": {}, "ugx": {}, "vnd": {}, "vuv": {}, "xaf": {},
	"xof": {}, "xpf": {},
}

// ValidCurrency reports whether code is a 3-letter lowercase currency code.
func ValidCurrency(code string) bool {
	return currencyPattern.MatchString(code)
}

// NormalizeCurrency lowercases and validates a currency code.
func NormalizeCurrency(code string) (string, error) {
	c := strings.ToLower(strings.TrimSpace(code))
	if !ValidCurrency(c) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	return c, nil
}

// Decimals returns the number of minor-unit digits for a currency.
func Decimals(currency string) int {
	if _, ok := zeroDecimal[currency]; ok {
		return 0
	}
	return 2
}

// Zero returns a zero amount for the given currency.
func Zero(currency string) Money {
	return Money{Currency: currency}
}

// New creates a Money from minor units.
func New(currency string, minor int64) Money {
	return Money{Currency: currency, Minor: minor}
}

// FromMajor creates Money from a major unit string (e.g., "10.50").
// Uses half-up rounding for digits beyond the currency's precision.
func FromMajor(currency, major string) (Money, error) {
	decimals := Decimals(currency)
	parts := strings.Split(strings.TrimSpace(major), ".")
	if len(parts) > 2 {
		return Money{}, fmt.Errorf("%w: too many decimal points", ErrInvalidFormat)
	}

	integerVal, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	negative := strings.HasPrefix(parts[0], "-")

	var fraction int64
	if len(parts) == 2 && parts[1] != "" {
		frac := parts[1]
		roundUp := false
		if len(frac) > decimals {
			roundUp = frac[decimals] >= '5'
			frac = frac[:decimals]
		}
		for len(frac) < decimals {
			frac += "0"
		}
		if frac != "" {
			fraction, err = strconv.ParseInt(frac, 10, 64)
			if err != nil {
				return Money{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
			}
		}
		if roundUp {
			fraction++
		}
	}

	multiplier := int64(math.Pow10(decimals))
	if integerVal > 0 && integerVal > math.MaxInt64/multiplier {
		return Money{}, ErrOverflow
	}
	if integerVal < 0 && -integerVal > math.MaxInt64/multiplier {
		return Money{}, ErrOverflow
	}

	total := integerVal * multiplier
	if negative {
		total -= fraction
	} else {
		total += fraction
	}
	return Money{Currency: currency, Minor: total}, nil
}

// ToMajor formats the amount with the currency's decimal places.
//
// Examples:
//   - Money{"usd", 1050}.ToMajor() → "10.50"
//   - Money{"jpy", 500}.ToMajor()  → "500"
func (m Money) ToMajor() string {
	decimals := Decimals(m.Currency)
	if decimals == 0 {
		return strconv.FormatInt(m.Minor, 10)
	}
	divisor := int64(math.Pow10(decimals))
	integerPart := m.Minor / divisor
	fractionalPart := m.Minor % divisor
	sign := ""
	if m.Minor < 0 {
		sign = "-"
		integerPart = -integerPart
		fractionalPart = -fractionalPart
	}
	return fmt.Sprintf("%s%d.%0*d", sign, integerPart, decimals, fractionalPart)
}

// Add returns the sum of two Money values.
// Returns error if currencies don't match or overflow occurs.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: cannot add %s and %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	result := m.Minor + other.Minor
	if (result > m.Minor) != (other.Minor > 0) {
		return Money{}, ErrOverflow
	}
	return Money{Currency: m.Currency, Minor: result}, nil
}

// Sub returns the difference of two Money values.
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: cannot subtract %s and %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	result := m.Minor - other.Minor
	if (result < m.Minor) != (other.Minor > 0) {
		return Money{}, ErrOverflow
	}
	return Money{Currency: m.Currency, Minor: result}, nil
}

// Mul multiplies Money by an integer scalar (e.g. a line item quantity).
func (m Money) Mul(multiplier int64) (Money, error) {
	bigResult := new(big.Int).Mul(big.NewInt(m.Minor), big.NewInt(multiplier))
	if !bigResult.IsInt64() {
		return Money{}, ErrOverflow
	}
	return Money{Currency: m.Currency, Minor: bigResult.Int64()}, nil
}

// MulBasisPoints multiplies Money by basis points (1/100th of a percent)
// with half-up rounding. Example: amount.MulBasisPoints(1000) applies 10%.
func (m Money) MulBasisPoints(basisPoints int64) (Money, error) {
	if basisPoints == 0 {
		return Zero(m.Currency), nil
	}

	bigResult := new(big.Int).Mul(big.NewInt(m.Minor), big.NewInt(basisPoints))
	if bigResult.Sign() >= 0 {
		bigResult.Add(bigResult, big.NewInt(5000))
	} else {
		bigResult.Sub(bigResult, big.NewInt(5000))
	}
	bigResult.Quo(bigResult, big.NewInt(10000))

	if !bigResult.IsInt64() {
		return Money{}, ErrOverflow
	}
	return Money{Currency: m.Currency, Minor: bigResult.Int64()}, nil
}

// IsPositive returns true if amount is greater than zero.
func (m Money) IsPositive() bool {
	return m.Minor > 0
}

// IsNegative returns true if amount is less than zero.
func (m Money) IsNegative() bool {
	return m.Minor < 0
}

// IsZero returns true if amount is exactly zero.
func (m Money) IsZero() bool {
	return m.Minor == 0
}

// String returns "10.50 usd".
func (m Money) String() string {
	return m.ToMajor() + " " + m.Currency
}
