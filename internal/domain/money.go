package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places kept for currency amounts.
const MoneyScale = 2

// RoundMoney rounds an amount to currency precision using half-up rounding.
func RoundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(MoneyScale)
}

// ParseMoney parses a decimal string such as "40.00" and rounds it to currency precision.
func ParseMoney(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse money %q: %w", raw, err)
	}
	return RoundMoney(value), nil
}

// MinorUnits converts a rounded amount into integer minor units (cents, paise).
func MinorUnits(amount decimal.Decimal) int64 {
	return RoundMoney(amount).Shift(MoneyScale).IntPart()
}

// FormatMoney renders an amount with exactly two decimal places.
func FormatMoney(amount decimal.Decimal) string {
	return RoundMoney(amount).StringFixed(MoneyScale)
}
