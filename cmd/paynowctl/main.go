package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"paynow/pkg/config"
	"paynow/pkg/console"
	"paynow/pkg/models"
	"paynow/pkg/telemetry"

	"github.com/spf13/cobra"
)

var Version = "dev"

// Testable variables for main()
var (
	osExit       = os.Exit
	loadConfigFn = config.Load
	httpClientFn = func() *http.Client {
		return telemetry.InstrumentClient(&http.Client{Timeout: 15 * time.Second})
	}
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Print(err)
		osExit(1)
	}
}

func run(args []string, out io.Writer) error {
	root := rootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(out)
	return root.Execute()
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "paynowctl",
		Short:         "Submit payments and read metrics through the PayNow console",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("console", envOr("PAYNOW_CONSOLE", "http://localhost:3000"), "console origin serving /api")

	root.AddCommand(decideCmd())
	root.AddCommand(metricsCmd())
	root.AddCommand(curlCmd())
	root.AddCommand(newKeyCmd())
	return root
}

type formFlags struct {
	scenario string
	customer string
	payee    string
	amount   string
	currency string
	key      string
}

func (f *formFlags) bind(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.scenario, "scenario", "s", "", "preset: "+strings.Join(console.ScenarioNames(), ", "))
	fl.StringVar(&f.customer, "customer", "", "customer id")
	fl.StringVar(&f.payee, "payee", "", "payee id")
	fl.StringVar(&f.amount, "amount", "", "amount in major units, e.g. 125.50")
	fl.StringVar(&f.currency, "currency", "", "ISO currency code")
	fl.StringVar(&f.key, "key", "", "idempotency key (minted when empty)")
}

// apply layers the scenario first, then explicit field flags, then the key.
func (f *formFlags) apply(c *console.Controller) error {
	if f.scenario != "" {
		if err := c.ApplyScenario(f.scenario); err != nil {
			return err
		}
	}
	if f.customer != "" {
		c.SetCustomerID(f.customer)
	}
	if f.payee != "" {
		c.SetPayeeID(f.payee)
	}
	if f.amount != "" {
		amt, err := models.NewAmount(f.amount)
		if err != nil {
			return err
		}
		c.SetAmount(amt)
	}
	if f.currency != "" {
		c.SetCurrency(f.currency)
	}
	if f.key != "" {
		c.SetIdempotencyKey(f.key)
	}
	return nil
}

func decideCmd() *cobra.Command {
	var form formFlags
	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Submit one payment for a decision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, _ := cmd.Flags().GetString("console")
			c := console.NewController(console.Options{ConsoleBase: base, Client: httpClientFn()})
			if err := form.apply(c); err != nil {
				return err
			}
			norm := c.Request().Normalize()
			if err := norm.Validate(); err != nil {
				return fmt.Errorf("invalid payment: %w", err)
			}
			// Send exactly what was validated.
			c.SetForm(console.Form{CustomerID: norm.CustomerID, PayeeID: norm.PayeeID, Amount: norm.Amount, Currency: norm.Currency})
			c.SetIdempotencyKey(norm.IdempotencyKey)
			out := cmd.OutOrStdout()
			outcome, err := c.Submit(cmd.Context())
			st := c.State()
			if err != nil {
				fmt.Fprintf(out, "failed after %d attempt(s) in %d ms, key held: %s\n", outcome.Attempts, st.LastLatency.Milliseconds(), st.Key)
				return err
			}
			if err := console.RenderDecision(out, outcome.Response); err != nil {
				return err
			}
			fmt.Fprintf(out, "latency: %d ms  attempts: %d  key used: %s  next key: %s\n",
				outcome.Latency.Milliseconds(), outcome.Attempts, outcome.Key, st.Key)
			return nil
		},
	}
	form.bind(cmd)
	return cmd
}

func metricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Fetch a fresh metrics snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, _ := cmd.Flags().GetString("console")
			p := console.NewMetricsPoller(base, httpClientFn())
			snap, err := p.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			return console.RenderMetrics(cmd.OutOrStdout(), snap)
		},
	}
}

func curlCmd() *cobra.Command {
	var form formFlags
	var backend string
	cmd := &cobra.Command{
		Use:   "curl",
		Short: "Print the equivalent direct backend cURL command",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if backend == "" {
				cfg, err := loadConfigFn()
				if err != nil {
					return err
				}
				backend = cfg.BackendBase
			}
			c := console.NewController(console.Options{NewKey: func() string { return "" }})
			if err := form.apply(c); err != nil {
				return err
			}
			line, err := console.CurlCommand(backend, c.Request())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
			return nil
		},
	}
	form.bind(cmd)
	cmd.Flags().StringVar(&backend, "backend", "", "backend base URL (defaults to BACKEND_BASE)")
	return cmd
}

func newKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new-key",
		Short: "Mint an idempotency key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), console.NewIdempotencyKey())
			return nil
		},
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

