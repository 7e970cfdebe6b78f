package models

import (
	"errors"
	"regexp"
	"strings"
)

var currencyCodeRe = regexp.MustCompile(`^[A-Z]{3}$`)

// Normalize trims identifiers and upper-cases the currency, the same
// normalization the decision backend applies on its side.
func (r PaymentDecisionRequest) Normalize() PaymentDecisionRequest {
	r.CustomerID = strings.TrimSpace(r.CustomerID)
	r.PayeeID = strings.TrimSpace(r.PayeeID)
	r.IdempotencyKey = strings.TrimSpace(r.IdempotencyKey)
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	r.Amount = Amount{Decimal: r.Amount.Round(2)}
	return r
}

// Validate reports every field problem at once.
func (r PaymentDecisionRequest) Validate() error {
	var errs []error
	if strings.TrimSpace(r.CustomerID) == "" {
		errs = append(errs, errors.New("customerId must be non-empty"))
	}
	if strings.TrimSpace(r.PayeeID) == "" {
		errs = append(errs, errors.New("payeeId must be non-empty"))
	}
	if strings.TrimSpace(r.IdempotencyKey) == "" {
		errs = append(errs, errors.New("idempotencyKey must be non-empty"))
	}
	if !r.Amount.IsPositive() {
		errs = append(errs, errors.New("amount must be > 0"))
	}
	if !currencyCodeRe.MatchString(r.Currency) {
		errs = append(errs, errors.New("currency must be 3 uppercase letters (e.g., USD, INR)"))
	}
	return errors.Join(errs...)
}
