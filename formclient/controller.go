// Package formclient drives one contact or participation form: it holds the
// field values, validates them with the same rules as the intake, and posts
// them as URL-encoded form data with a bounded timeout.
package formclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"alumni-forms/common"
	"alumni-forms/validation"
)

// DefaultTimeout bounds one submission request.
const DefaultTimeout = 10 * time.Second

// TimestampLayout is the ISO-8601 form the client timestamp is sent in.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

const maxResponseBytes = 1 << 20

type State int

const (
	StateIdle State = iota
	StateSubmitting
	StateSubmitted
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StateSubmitted:
		return "submitted"
	case StateError:
		return "error"
	}
	return "unknown"
}

type Config struct {
	Endpoint   string
	Timeout    time.Duration
	HTTPClient *http.Client
	Now        func() time.Time
	// NewToken generates idempotency tokens.
	NewToken func() string
}

// Controller is safe for concurrent use, but only one Submit runs at a time.
type Controller struct {
	kind common.Kind
	cfg  Config

	mu         sync.Mutex
	form       common.FormSubmission
	state      State
	submitting bool
	err        error
	// token identifies the current logical submission. It survives failed
	// attempts of unchanged content and is dropped after a success or when
	// any field value changes.
	token string
}

func New(kind common.Kind, cfg Config) *Controller {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewToken == nil {
		cfg.NewToken = uuid.NewString
	}
	return &Controller{kind: kind, cfg: cfg, form: common.NewSubmission(kind)}
}

// Set updates one field by wire key and reports whether the key belongs to
// this form. Changing a value starts a new logical submission, so a retry
// after an edit is never mistaken for a replay of what was already sent.
func (c *Controller) Set(field, value string) bool {
	known := false
	for _, f := range common.SchemaFor(c.kind).Fields {
		if f.Key == field {
			known = true
			break
		}
	}
	if !known {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.form.Get(field) != value {
		c.token = ""
	}
	return c.form.Set(field, value)
}

// Form returns a copy of the current field values.
func (c *Controller) Form() common.FormSubmission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.form
}

// Validate checks the current values without changing any state.
func (c *Controller) Validate() error {
	return validateForm(c.Form())
}

func validateForm(s common.FormSubmission) error {
	err := validation.Validate(s)
	if err == nil {
		return nil
	}
	var fe validation.FieldErrors
	if errors.As(err, &fe) {
		return &ValidationError{Fields: fe}
	}
	return err
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Submitting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitting
}

// Err is the error of the last Submit, nil after a success or Reset.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Reset clears the submitted and error state. Field values are kept.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.submitting {
		return
	}
	c.state = StateIdle
	c.err = nil
}

// Submit validates and posts the form. Validation failures return before any
// request is made. On success the fields go back to their initial values.
func (c *Controller) Submit(ctx context.Context) error {
	c.mu.Lock()
	if c.submitting {
		c.mu.Unlock()
		return ErrInFlight
	}
	if err := validateForm(c.form); err != nil {
		c.state = StateError
		c.err = err
		c.mu.Unlock()
		return err
	}
	if c.token == "" {
		c.token = c.cfg.NewToken()
	}
	sub := c.form
	sub.IdempotencyKey = c.token
	c.submitting = true
	c.state = StateSubmitting
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.submitting = false
		c.mu.Unlock()
	}()

	err := c.post(ctx, sub)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = StateError
		c.err = err
		return err
	}
	c.form = common.NewSubmission(c.kind)
	c.token = ""
	c.state = StateSubmitted
	c.err = nil
	return nil
}

func (c *Controller) post(ctx context.Context, sub common.FormSubmission) error {
	budget := c.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < budget {
			budget = left
		}
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	stamp := c.cfg.Now().UTC().Format(TimestampLayout)
	body := common.Values(sub, stamp).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, strings.NewReader(body))
	if err != nil {
		return &TransportError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return requestError(ctx, budget, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{Status: resp.StatusCode}
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return requestError(ctx, budget, err)
	}

	var env common.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &ResponseParseError{Body: string(raw), Err: err}
	}
	if !env.Success {
		return &ApplicationError{Message: env.Error}
	}
	return nil
}

// requestError reports a deadline hit as a TimeoutError naming the budget the
// request actually had, which is shorter than the configured timeout when the
// caller's context expires first.
func requestError(ctx context.Context, budget time.Duration, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{After: budget}
	}
	return &TransportError{Err: err}
}
