package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var ErrUnknownCurrency = errors.New("unknown currency")

// ExchangeRates quotes how many units of each currency one unit of Base buys.
type ExchangeRates struct {
	Base      string             `json:"base"`
	Rates     map[string]float64 `json:"rates"`
	UpdatedAt time.Time          `json:"updatedAt,omitempty"`
}

// Rate returns the quote for currency; the base currency is always 1.
func (r ExchangeRates) Rate(currency string) (float64, error) {
	currency = strings.ToUpper(currency)
	if currency == r.Base {
		return 1, nil
	}
	rate, ok := r.Rates[currency]
	if !ok || rate <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCurrency, currency)
	}
	return rate, nil
}

// Convert expresses m, denominated in from, in currency to. The result is
// rounded half away from zero to whole cents.
func (r ExchangeRates) Convert(m Money, from, to string) (Money, error) {
	if strings.EqualFold(from, to) {
		return m, nil
	}
	fromRate, err := r.Rate(from)
	if err != nil {
		return Money{}, err
	}
	toRate, err := r.Rate(to)
	if err != nil {
		return Money{}, err
	}
	return Money{Cents: int64(math.Round(float64(m.Cents) / fromRate * toRate))}, nil
}
