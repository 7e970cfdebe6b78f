package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Decision is the backend's verdict on a payment.
type Decision string

const (
	DecisionAllow  Decision = "allow"
	DecisionReview Decision = "review"
	DecisionBlock  Decision = "block"
)

func (d Decision) Valid() bool {
	switch d {
	case DecisionAllow, DecisionReview, DecisionBlock:
		return true
	default:
		return false
	}
}

// Amount is a currency amount in major units with two fractional digits.
// It marshals as a bare JSON number so the backend sees the same shape a
// browser form would send.
type Amount struct {
	decimal.Decimal
}

func NewAmount(raw string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return Amount{}, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	return Amount{Decimal: d.Round(2)}, nil
}

func AmountFromFloat(v float64) Amount {
	return Amount{Decimal: decimal.NewFromFloat(v).Round(2)}
}

func (a Amount) String() string {
	return a.StringFixed(2)
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.StringFixed(2)), nil
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	raw := string(bytes.Trim(bytes.TrimSpace(b), `"`))
	if raw == "" || raw == "null" {
		a.Decimal = decimal.Zero
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("decode amount: %w", err)
	}
	a.Decimal = d
	return nil
}

// PaymentDecisionRequest is the body posted to /payments/decide.
type PaymentDecisionRequest struct {
	CustomerID     string `json:"customerId"`
	Amount         Amount `json:"amount"`
	Currency       string `json:"currency"`
	PayeeID        string `json:"payeeId"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type AgentStep struct {
	Step   string `json:"step"`
	Detail string `json:"detail"`
}

// PaymentDecisionResponse keeps Reasons and AgentTrace in backend order.
type PaymentDecisionResponse struct {
	Decision   Decision    `json:"decision"`
	Reasons    []string    `json:"reasons"`
	AgentTrace []AgentStep `json:"agentTrace"`
	RequestID  string      `json:"requestId"`
}

// MetricsSnapshot mirrors the backend /metrics body. Values are kept as
// json.Number so nothing is rounded on the way to the screen.
type MetricsSnapshot struct {
	TotalRequests  json.Number `json:"total_requests"`
	P95LatencyMS   json.Number `json:"p95_latency_ms"`
	DecisionAllow  json.Number `json:"decision_allow"`
	DecisionReview json.Number `json:"decision_review"`
	DecisionBlock  json.Number `json:"decision_block"`

	Raw json.RawMessage `json:"-"`
}

func ParseDecisionResponse(body []byte) (PaymentDecisionResponse, error) {
	var out PaymentDecisionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return PaymentDecisionResponse{}, fmt.Errorf("decode decision response: %w", err)
	}
	if !out.Decision.Valid() {
		return PaymentDecisionResponse{}, fmt.Errorf("decode decision response: unknown decision %q", out.Decision)
	}
	if out.Reasons == nil {
		out.Reasons = []string{}
	}
	if out.AgentTrace == nil {
		out.AgentTrace = []AgentStep{}
	}
	return out, nil
}

func ParseMetricsSnapshot(body []byte) (MetricsSnapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var out MetricsSnapshot
	if err := dec.Decode(&out); err != nil {
		return MetricsSnapshot{}, fmt.Errorf("decode metrics snapshot: %w", err)
	}
	out.Raw = append(json.RawMessage(nil), body...)
	return out, nil
}
