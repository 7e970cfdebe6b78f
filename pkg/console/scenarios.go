package console

import (
	"fmt"
	"sort"
	"strings"

	"paynow/pkg/models"

	"github.com/google/uuid"
)

// Scenario presets. Each one steers the demo backend towards one decision.
const (
	ScenarioReview = "review"
	ScenarioAllow  = "allow"
	ScenarioBlock  = "block"
)

var scenarios = map[string]func() Form{
	ScenarioReview: func() Form {
		return Form{CustomerID: "c_123", PayeeID: "p_789", Amount: models.AmountFromFloat(125.5), Currency: "USD"}
	},
	// A fresh customer id per run keeps the backend from flagging a repeat payer.
	ScenarioAllow: func() Form {
		suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		return Form{CustomerID: "user_allow_" + suffix, PayeeID: "safe_vendor", Amount: models.AmountFromFloat(200), Currency: "USD"}
	},
	ScenarioBlock: func() Form {
		return Form{CustomerID: "c_small", PayeeID: "safe_vendor", Amount: models.AmountFromFloat(400), Currency: "USD"}
	},
}

func ScenarioNames() []string {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func ScenarioForm(name string) (Form, error) {
	build, ok := scenarios[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Form{}, fmt.Errorf("unknown scenario %q (want one of %s)", name, strings.Join(ScenarioNames(), ", "))
	}
	return build(), nil
}

// ApplyScenario replaces the form and mints a new key.
func (c *Controller) ApplyScenario(name string) error {
	f, err := ScenarioForm(name)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.form = f
	c.key = c.newKey()
	c.keyState = KeyMinted
	c.mu.Unlock()
	return nil
}
