package server

import (
	"fmt"

	"github.com/shopspring/decimal"
)

func errMissingField(name string) error {
	return fmt.Errorf("%s is required", name)
}

func errBadField(name string) error {
	return fmt.Errorf("%s is malformed", name)
}

func parseAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Decimal{}, errMissingField("amount")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, errBadField("amount")
	}
	if d.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("amount must not be negative")
	}
	return d, nil
}
