// Package paylink talks to the payment provider's payment-link API. A created
// link carries the hosted checkout URL that a payment session opens.
package paylink

import (
	"fmt"
	"strings"
	"time"
)

// Link statuses reported by the provider.
const (
	StatusActive  = "active"
	StatusPaid    = "paid"
	StatusExpired = "expired"
)

// CreateRequest describes a payment link to create.
// Amount and Currency are optional; an open-amount link lets the payer choose.
type CreateRequest struct {
	Title       string     `json:"title" validate:"required,max=120"`
	Description string     `json:"description,omitempty" validate:"max=255"`
	Amount      int64      `json:"amount,omitempty" validate:"omitempty,gt=0"`
	Currency    string     `json:"currency,omitempty" validate:"required_with=Amount,omitempty,iso4217"`
	Reference   string     `json:"reference,omitempty" validate:"omitempty,max=64,printascii"`
	ReturnURL   string     `json:"return_url,omitempty" validate:"omitempty,url"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Link is a payment link returned by the provider.
type Link struct {
	ID          string     `json:"id"`
	URL         string     `json:"url"`
	Title       string     `json:"title,omitempty"`
	Amount      int64      `json:"amount,omitempty"`
	Currency    string     `json:"currency,omitempty"`
	Description string     `json:"description,omitempty"`
	Reference   string     `json:"reference,omitempty"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// ListOptions filters List.
type ListOptions struct {
	Limit  int    `validate:"omitempty,min=1,max=100"`
	Status string `validate:"omitempty,oneof=active paid expired"`
	Cursor string
}

// Page is one page of links.
type Page struct {
	Links      []Link `json:"data"`
	NextCursor string `json:"next_cursor,omitempty"`
}

var minorUnits = map[string]int{
	"BHD": 3, "CLP": 0, "IDR": 2, "ISK": 0, "JOD": 3, "JPY": 0,
	"KRW": 0, "KWD": 3, "OMR": 3, "TND": 3, "UGX": 0, "VND": 0,
}

// MinorUnits returns the number of decimal places used by currency.
func MinorUnits(currency string) int {
	if n, ok := minorUnits[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		return n
	}
	return 2
}

// FormatAmount renders an amount expressed in minor units, e.g. 12345 USD
// becomes "123.45 USD" and 500 JPY becomes "500 JPY".
func FormatAmount(amount int64, currency string) string {
	code := strings.ToUpper(strings.TrimSpace(currency))
	digits := MinorUnits(code)
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	if digits == 0 {
		return strings.TrimSpace(fmt.Sprintf("%s%d %s", sign, amount, code))
	}
	scale := int64(1)
	for i := 0; i < digits; i++ {
		scale *= 10
	}
	return strings.TrimSpace(fmt.Sprintf("%s%d.%0*d %s", sign, amount/scale, digits, amount%scale, code))
}
