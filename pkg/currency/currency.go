// Package currency provides standardized currency handling across the application.
// Budget amounts are stored as integer minor units (cents) and converted to
// decimal.Decimal only at the edges.
package currency

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency represents an ISO 4217 currency code.
type Currency string

// Supported currencies.
const (
	USD Currency = "USD" // US Dollar
	EUR Currency = "EUR" // Euro
	GBP Currency = "GBP" // British Pound
	JPY Currency = "JPY" // Japanese Yen
	AUD Currency = "AUD" // Australian Dollar
	NZD Currency = "NZD" // New Zealand Dollar
	CAD Currency = "CAD" // Canadian Dollar
	VND Currency = "VND" // Vietnamese Dong
)

// DefaultCurrency is the default currency when none is specified.
const DefaultCurrency = USD

// CurrencyInfo contains metadata about a currency.
type CurrencyInfo struct {
	Code          Currency
	Symbol        string
	DecimalPlaces int // Number of minor-unit digits (2 for USD, 0 for JPY)
	SymbolBefore  bool
}

var currencies = map[Currency]CurrencyInfo{
	USD: {Code: USD, Symbol: "$", DecimalPlaces: 2, SymbolBefore: true},
	EUR: {Code: EUR, Symbol: "€", DecimalPlaces: 2, SymbolBefore: false},
	GBP: {Code: GBP, Symbol: "£", DecimalPlaces: 2, SymbolBefore: true},
	JPY: {Code: JPY, Symbol: "¥", DecimalPlaces: 0, SymbolBefore: true},
	AUD: {Code: AUD, Symbol: "$", DecimalPlaces: 2, SymbolBefore: true},
	NZD: {Code: NZD, Symbol: "$", DecimalPlaces: 2, SymbolBefore: true},
	CAD: {Code: CAD, Symbol: "$", DecimalPlaces: 2, SymbolBefore: true},
	VND: {Code: VND, Symbol: "₫", DecimalPlaces: 0, SymbolBefore: false},
}

// IsCodeLike reports whether s looks like an ISO 4217 code: three ASCII
// upper-case letters. Unknown but well-formed codes are accepted by the
// budget document and formatted with two decimal places.
func IsCodeLike(s string) bool {
	if len(s) != 3 {
		return false
	}
	for i := 0; i < 3; i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}

// Normalize upper-cases and trims a code, falling back to DefaultCurrency.
func Normalize(code string) Currency {
	c := strings.ToUpper(strings.TrimSpace(code))
	if !IsCodeLike(c) {
		return DefaultCurrency
	}
	return Currency(c)
}

// GetInfo returns metadata for a currency code.
func GetInfo(code Currency) (CurrencyInfo, bool) {
	info, ok := currencies[code]
	return info, ok
}

func decimalPlaces(code Currency) int32 {
	if info, ok := currencies[code]; ok {
		return int32(info.DecimalPlaces)
	}
	return 2
}

// ToMinorUnits converts a major-unit amount (12.34) into minor units (1234),
// rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal, code Currency) int64 {
	return amount.Shift(decimalPlaces(code)).Round(0).IntPart()
}

// FromMinorUnits converts minor units back into a major-unit decimal.
func FromMinorUnits(minor int64, code Currency) decimal.Decimal {
	return decimal.New(minor, -decimalPlaces(code))
}

// Format renders minor units using the currency's symbol rules.
func Format(minor int64, code Currency) string {
	places := decimalPlaces(code)
	amount := FromMinorUnits(minor, code).StringFixed(places)
	info, ok := GetInfo(code)
	if !ok {
		return fmt.Sprintf("%s %s", amount, code)
	}
	if info.SymbolBefore {
		return info.Symbol + amount
	}
	return amount + info.Symbol
}
