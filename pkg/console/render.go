package console

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"paynow/pkg/models"
)

// RenderDecision writes the decision line followed by the agent trace.
//
//	BLOCK [insufficient_funds] req: r2
//	  1. rules  balance below amount
func RenderDecision(w io.Writer, resp models.PaymentDecisionResponse) error {
	line := strings.ToUpper(string(resp.Decision))
	for _, r := range resp.Reasons {
		line += " [" + r + "]"
	}
	line += " req: " + resp.RequestID
	if _, err := fmt.Fprintln(w, line); err != nil {
		return err
	}
	for i, step := range resp.AgentTrace {
		if _, err := fmt.Fprintf(w, "  %d. %s  %s\n", i+1, step.Step, step.Detail); err != nil {
			return err
		}
	}
	return nil
}

// RenderMetrics prints the five backend counters, as received.
func RenderMetrics(w io.Writer, m models.MetricsSnapshot) error {
	rows := []struct {
		label string
		value json.Number
	}{
		{"Total", m.TotalRequests},
		{"p95 (ms)", m.P95LatencyMS},
		{"Allow", m.DecisionAllow},
		{"Review", m.DecisionReview},
		{"Block", m.DecisionBlock},
	}
	for _, row := range rows {
		v := row.value.String()
		if v == "" {
			v = "-"
		}
		if _, err := fmt.Fprintf(w, "%-9s %s\n", row.label, v); err != nil {
			return err
		}
	}
	return nil
}

// CurlCommand is the backend call equivalent to submitting req. It never
// carries a credential. An empty key is shown as a placeholder.
func CurlCommand(backendBase string, req models.PaymentDecisionRequest) (string, error) {
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = "<idempotencyKey>"
	}
	var payload strings.Builder
	enc := json.NewEncoder(&payload)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(req); err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return fmt.Sprintf("curl -X POST %s/payments/decide \\\n  -H \"Content-Type: application/json\" \\\n  -d '%s'",
		strings.TrimRight(backendBase, "/"), strings.TrimSuffix(payload.String(), "\n")), nil
}
