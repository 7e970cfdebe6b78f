package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"paynow/pkg/httpx"
	"paynow/pkg/models"

	"github.com/google/uuid"
)

// DefaultRetryBackoff is the fixed pause before the single transport retry.
const DefaultRetryBackoff = 150 * time.Millisecond

// Phase is the lifecycle of the most recent submission.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSubmitting
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSubmitting:
		return "submitting"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// KeyState tracks the current idempotency key:
// minted -> in use -> (reused on retry) -> rotated on success | held on failure.
type KeyState int

const (
	KeyMinted KeyState = iota
	KeyInUse
	KeyReusedOnRetry
	KeyRotated
	KeyHeld
)

func (k KeyState) String() string {
	switch k {
	case KeyMinted:
		return "minted"
	case KeyInUse:
		return "in_use"
	case KeyReusedOnRetry:
		return "reused_on_retry"
	case KeyRotated:
		return "rotated"
	case KeyHeld:
		return "held"
	default:
		return fmt.Sprintf("key_state(%d)", int(k))
	}
}

type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureTransport
	FailureStatus
	FailureDecode
	// FailureRequest means the request could not be built, so nothing was sent.
	FailureRequest
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureTransport:
		return "transport"
	case FailureStatus:
		return "status"
	case FailureDecode:
		return "decode"
	case FailureRequest:
		return "request"
	default:
		return fmt.Sprintf("failure(%d)", int(k))
	}
}

// StatusError is a well-formed non-2xx answer. It is never retried.
type StatusError struct {
	Code int
	Text string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d %s", e.Code, e.Text)
}

// Form holds the editable payment fields.
type Form struct {
	CustomerID string
	PayeeID    string
	Amount     models.Amount
	Currency   string
}

// DefaultForm matches the review scenario.
func DefaultForm() Form {
	return Form{CustomerID: "c_123", PayeeID: "p_789", Amount: models.AmountFromFloat(125.5), Currency: "USD"}
}

type Options struct {
	// ConsoleBase is the origin serving /api/decide, e.g. http://localhost:3000.
	ConsoleBase  string
	Client       *http.Client
	RetryBackoff time.Duration

	Now    func() time.Time
	NewKey func() string
	Sleep  func(ctx context.Context, d time.Duration) error
}

// Outcome describes one finished Submit call.
type Outcome struct {
	Key      string
	Body     []byte
	Attempts int
	Latency  time.Duration
	Response models.PaymentDecisionResponse
}

// State is a copy of the controller's view, safe to read without locks.
type State struct {
	Phase       Phase
	Form        Form
	Key         string
	KeyState    KeyState
	InFlight    int
	Result      *models.PaymentDecisionResponse
	Err         string
	FailureKind FailureKind
	LastLatency time.Duration
	HasLatency  bool
}

// Controller drives payment submissions through the console proxy.
// Overlapping submissions are allowed; whichever finishes last owns the
// displayed result.
type Controller struct {
	endpoint string
	client   *http.Client
	backoff  time.Duration
	now      func() time.Time
	newKey   func() string
	sleep    func(ctx context.Context, d time.Duration) error

	mu          sync.Mutex
	form        Form
	key         string
	keyState    KeyState
	phase       Phase
	inFlight    int
	result      *models.PaymentDecisionResponse
	errMsg      string
	failureKind FailureKind
	latency     time.Duration
	hasLatency  bool
}

func NewController(opts Options) *Controller {
	c := &Controller{
		endpoint: strings.TrimRight(opts.ConsoleBase, "/") + "/api/decide",
		client:   opts.Client,
		backoff:  opts.RetryBackoff,
		now:      opts.Now,
		newKey:   opts.NewKey,
		sleep:    opts.Sleep,
		form:     DefaultForm(),
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: 15 * time.Second}
	}
	if c.backoff <= 0 {
		c.backoff = DefaultRetryBackoff
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newKey == nil {
		c.newKey = NewIdempotencyKey
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	c.key = c.newKey()
	c.keyState = KeyMinted
	return c
}

// NewIdempotencyKey returns a random opaque token.
func NewIdempotencyKey() string {
	return uuid.NewString()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := State{
		Phase:       c.phase,
		Form:        c.form,
		Key:         c.key,
		KeyState:    c.keyState,
		InFlight:    c.inFlight,
		Err:         c.errMsg,
		FailureKind: c.failureKind,
		LastLatency: c.latency,
		HasLatency:  c.hasLatency,
	}
	if c.result != nil {
		res := *c.result
		st.Result = &res
	}
	return st
}

func (c *Controller) SetCustomerID(v string) { c.edit(func(f *Form) { f.CustomerID = v }) }
func (c *Controller) SetPayeeID(v string)    { c.edit(func(f *Form) { f.PayeeID = v }) }
func (c *Controller) SetAmount(v models.Amount) {
	c.edit(func(f *Form) { f.Amount = v })
}

// SetCurrency upper-cases as the user types.
func (c *Controller) SetCurrency(v string) {
	c.edit(func(f *Form) { f.Currency = strings.ToUpper(v) })
}

func (c *Controller) SetForm(f Form) {
	f.Currency = strings.ToUpper(f.Currency)
	c.edit(func(cur *Form) { *cur = f })
}

// SetIdempotencyKey replaces the key with a user-typed value. An empty key
// is minted lazily on the next submission.
func (c *Controller) SetIdempotencyKey(key string) {
	c.mu.Lock()
	c.key = key
	c.keyState = KeyMinted
	c.mu.Unlock()
}

// RegenerateKey replaces the key unconditionally. Submissions already in
// flight keep the key they captured.
func (c *Controller) RegenerateKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key = c.newKey()
	c.keyState = KeyMinted
	return c.key
}

func (c *Controller) edit(fn func(*Form)) {
	c.mu.Lock()
	fn(&c.form)
	c.mu.Unlock()
}

// Request builds the payload the next submission would send.
func (c *Controller) Request() models.PaymentDecisionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return buildRequest(c.form, c.key)
}

func buildRequest(f Form, key string) models.PaymentDecisionRequest {
	return models.PaymentDecisionRequest{
		CustomerID:     f.CustomerID,
		Amount:         f.Amount,
		Currency:       f.Currency,
		PayeeID:        f.PayeeID,
		IdempotencyKey: key,
	}
}

// Submit sends the current form once, retrying exactly once with the same
// bytes after a transport failure. A non-2xx answer is terminal.
func (c *Controller) Submit(ctx context.Context) (Outcome, error) {
	c.mu.Lock()
	if c.key == "" {
		c.key = c.newKey()
		c.keyState = KeyMinted
	}
	// An overlapping submission is its own attempt and gets its own key.
	if c.inFlight > 0 && (c.keyState == KeyInUse || c.keyState == KeyReusedOnRetry) {
		c.key = c.newKey()
	}
	key := c.key
	req := buildRequest(c.form, key)
	c.phase = PhaseSubmitting
	c.keyState = KeyInUse
	c.inFlight++
	c.errMsg = ""
	c.failureKind = FailureNone
	c.mu.Unlock()

	start := c.now()
	out := Outcome{Key: key}
	body, err := json.Marshal(req)
	if err != nil {
		return out, c.fail(key, start, FailureDecode, fmt.Errorf("encode request: %w", err))
	}
	out.Body = body

	resp, err := c.send(ctx, body)
	out.Attempts = 1
	if err != nil && httpx.IsTransport(err) {
		c.markRetry(key)
		if serr := c.sleep(ctx, c.backoff); serr != nil {
			return out, c.fail(key, start, FailureTransport, err)
		}
		resp, err = c.send(ctx, body)
		out.Attempts = 2
	}
	if err != nil {
		kind := FailureTransport
		if !httpx.IsTransport(err) {
			kind = FailureRequest
		}
		out.Latency = c.now().Sub(start)
		return out, c.fail(key, start, kind, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		out.Latency = c.now().Sub(start)
		return out, c.fail(key, start, FailureStatus, &StatusError{Code: resp.StatusCode, Text: resp.StatusText()})
	}
	decoded, err := models.ParseDecisionResponse(resp.Body)
	if err != nil {
		out.Latency = c.now().Sub(start)
		return out, c.fail(key, start, FailureDecode, err)
	}

	latency := c.now().Sub(start)
	out.Latency = latency
	out.Response = decoded
	c.mu.Lock()
	c.inFlight--
	c.phase = PhaseSucceeded
	c.result = &decoded
	c.latency = latency
	c.hasLatency = true
	// A manual edit during the call already replaced the key.
	if c.key == key {
		c.key = c.newKey()
		c.keyState = KeyRotated
	}
	c.mu.Unlock()
	return out, nil
}

func (c *Controller) send(ctx context.Context, body []byte) (httpx.Response, error) {
	return httpx.Send(ctx, c.client, httpx.Request{
		Method: http.MethodPost,
		URL:    c.endpoint,
		Body:   body,
		Header: http.Header{"Content-Type": []string{"application/json"}},
	})
}

func (c *Controller) markRetry(key string) {
	c.mu.Lock()
	if c.key == key {
		c.keyState = KeyReusedOnRetry
	}
	c.mu.Unlock()
}

// fail records a terminal failure. The key is held, never rotated.
func (c *Controller) fail(key string, start time.Time, kind FailureKind, err error) error {
	latency := c.now().Sub(start)
	c.mu.Lock()
	c.inFlight--
	c.phase = PhaseFailed
	c.errMsg = err.Error()
	c.failureKind = kind
	c.latency = latency
	c.hasLatency = true
	if c.key == key {
		c.keyState = KeyHeld
	}
	c.mu.Unlock()
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsStatusError reports whether err is a non-2xx answer.
func IsStatusError(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}
