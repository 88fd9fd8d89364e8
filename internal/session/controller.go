package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/otpgate/internal/shared"
)

const (
	DefaultSessionTimeout = 30 * time.Minute
	DefaultCodeTimeout    = 5 * time.Minute

	codeLength = 6
)

// User-visible messages. The browser shows these verbatim.
const (
	MsgInvalidFormat   = "Invalid code format. Please enter exactly 6 digits."
	MsgAccepted        = "Verification code accepted"
	MsgRejected        = "Verification code rejected"
	MsgNoValidator     = "No validator configured; code cannot be verified"
	MsgNewCode         = "New code requested"
	MsgSessionExpired  = "Session expired. Please restart the authentication process."
	MsgTimeout         = "Timed out waiting for verification code"
	MsgCancelled       = "Authentication cancelled"
	MsgAlreadyFinished = "This authentication attempt has already finished"
)

// Options configures a [Controller]. Zero values fall back to defaults.
type Options struct {
	ID               string
	SessionTimeout   time.Duration
	CodeTimeout      time.Duration
	RequireValidator bool
	Validator        Validator
	Requester        CodeRequester
	Recorder         Recorder
	Logger           *log.Logger
	Now              func() time.Time
}

// Controller is the single authority over one verification attempt.
//
// All mutable fields are guarded by mu. Submissions are additionally serialized by
// submitMu so the validator never sees two codes at once.
type Controller struct {
	id               string
	sessionTimeout   time.Duration
	codeTimeout      time.Duration
	requireValidator bool
	validator        Validator
	requester        CodeRequester
	recorder         Recorder
	logger           *log.Logger
	now              func() time.Time

	submitMu sync.Mutex

	mu        sync.Mutex
	state     State
	message   string
	code      string
	startedAt time.Time

	signal chan struct{}
}

// NewController creates a [Controller] in [Pending] with the session clock started.
func NewController(opts Options) *Controller {
	if opts.ID == "" {
		opts.ID = shared.GenerateID()
	}
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = DefaultSessionTimeout
	}
	if opts.CodeTimeout <= 0 {
		opts.CodeTimeout = DefaultCodeTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Controller{
		id:               opts.ID,
		sessionTimeout:   opts.SessionTimeout,
		codeTimeout:      opts.CodeTimeout,
		requireValidator: opts.RequireValidator,
		validator:        opts.Validator,
		requester:        opts.Requester,
		recorder:         opts.Recorder,
		logger:           shared.WithLogger(opts.Logger, "component", "session", "session", opts.ID),
		now:              opts.Now,
		state:            Pending,
		startedAt:        opts.Now(),
		signal:           make(chan struct{}, 1),
	}
}

// ID returns the session identifier used in logs and history.
func (c *Controller) ID() string { return c.id }

// CodeTimeout returns the default wait used when WaitForCode is given no timeout.
func (c *Controller) CodeTimeout() time.Duration { return c.codeTimeout }

// SetState transitions unconditionally. An empty message clears the status message.
func (c *Controller) SetState(state State, message string) {
	c.mu.Lock()
	t := c.transition(state, message, "set state")
	c.mu.Unlock()

	c.record(t)
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot for the polling UI.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{State: c.state, Status: c.state.Description()}
	if c.message != "" {
		msg := c.message
		st.Message = &msg
	}
	return st
}

// IsSessionExpired reports whether the absolute session deadline has passed.
func (c *Controller) IsSessionExpired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining() <= 0
}

// RefreshSession restarts the session clock.
func (c *Controller) RefreshSession() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.startedAt = c.now()
	c.logger.Debug("session refreshed", "expires_at", c.startedAt.Add(c.sessionTimeout))
}

// SubmitCode validates the format of code and, if well formed, settles the attempt.
//
// A malformed code returns the session to [WaitingForCode] without waking the waiter.
// A well-formed code is stored, passed to the validator (if any), the resulting state is
// committed, and only then is the waiter signalled.
func (c *Controller) SubmitCode(ctx context.Context, code string) bool {
	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	c.mu.Lock()
	if c.state.Terminal() {
		c.logger.Warn("submission after attempt finished", "state", c.state)
		c.mu.Unlock()
		return false
	}

	if !ValidCode(code) {
		t := c.transition(WaitingForCode, MsgInvalidFormat, "malformed submission")
		c.mu.Unlock()
		c.record(t)
		return false
	}

	c.code = code
	c.mu.Unlock()

	accepted, message, trigger := c.validate(ctx, code)
	state := Failed
	if accepted {
		state = Authenticated
	}

	c.mu.Lock()
	t := c.transition(state, message, trigger)
	c.mu.Unlock()

	c.record(t)
	c.wake()
	return accepted
}

// validate runs the registered validator. A panicking validator counts as a rejection.
func (c *Controller) validate(ctx context.Context, code string) (accepted bool, message, trigger string) {
	switch {
	case c.validator != nil:
	case c.requireValidator:
		return false, MsgNoValidator, "no validator registered"
	default:
		return true, MsgAccepted, "accepted without validator"
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("validator panicked", "panic", r)
			accepted, message, trigger = false, fmt.Sprintf("%s: internal error", MsgRejected), "validator panic"
		}
	}()

	if c.validator.ValidateCode(ctx, code) {
		return true, MsgAccepted, "validator accepted"
	}
	return false, MsgRejected, "validator rejected"
}

// WaitForCode blocks until a well-formed code is submitted or the wait ends.
//
// A code that already settled the attempt before the wait began is returned at once,
// leaving the terminal state untouched.
//
// The effective timeout is min(timeout, remaining session time); a non-positive timeout
// means the controller's code timeout. On a signalled wake the stored code is returned
// with ok true even if the validator rejected it; callers inspect [Controller.State].
// Timeouts, session expiry and ctx cancellation move the session to [Failed].
func (c *Controller) WaitForCode(ctx context.Context, timeout time.Duration) (code string, ok bool) {
	if timeout <= 0 {
		timeout = c.codeTimeout
	}

	// Holding submitMu lets an in-flight validation finish before the slate is wiped.
	c.submitMu.Lock()
	c.mu.Lock()
	if c.state.Terminal() && c.code != "" {
		// Settled before the wait began; the outcome stands.
		code, state := c.code, c.state
		select {
		case <-c.signal:
		default:
		}
		c.mu.Unlock()
		c.submitMu.Unlock()
		c.logger.Info("code already settled", "state", state)
		return code, true
	}

	remaining := c.remaining()
	effective := min(timeout, remaining)
	if effective <= 0 {
		t := c.transition(Failed, MsgSessionExpired, "wait on expired session")
		c.mu.Unlock()
		c.submitMu.Unlock()
		c.record(t)
		return "", false
	}
	boundBySession := remaining <= timeout

	c.code = ""
	select {
	case <-c.signal:
	default:
	}
	t := c.transition(WaitingForCode, "", "wait for code")
	c.mu.Unlock()
	c.submitMu.Unlock()
	c.record(t)

	c.logger.Info("waiting for code", "timeout", effective)

	timer := time.NewTimer(effective)
	defer timer.Stop()

	var message, trigger string
	select {
	case <-c.signal:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.code, true
	case <-timer.C:
		message, trigger = MsgTimeout, "code timeout"
		if boundBySession {
			message, trigger = MsgSessionExpired, "session expired while waiting"
		}
	case <-ctx.Done():
		message, trigger = MsgCancelled, "wait cancelled"
	}

	c.mu.Lock()
	if c.state.Terminal() && c.code != "" {
		// A submission committed between the deadline and this lock.
		code = c.code
		c.mu.Unlock()
		return code, true
	}
	t = c.transition(Failed, message, trigger)
	c.mu.Unlock()
	c.record(t)
	return "", false
}

// RequestNewCode returns the session to [WaitingForCode] and asks the requester for a new code.
//
// Finished attempts refuse the request.
func (c *Controller) RequestNewCode(ctx context.Context) (accepted bool) {
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		c.logger.Warn("new code requested after attempt finished")
		return false
	}
	t := c.transition(WaitingForCode, MsgNewCode, "new code requested")
	c.mu.Unlock()
	c.record(t)

	if c.requester == nil {
		return true
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("code requester panicked", "panic", r)
			accepted = false
		}
	}()
	return c.requester.RequestNewCode(ctx)
}

// transition applies a state change and logs it. Callers hold c.mu.
func (c *Controller) transition(to State, message, trigger string) Transition {
	from := c.state
	c.state = to
	c.message = message

	c.logger.Info("state transition", "from", from, "to", to, "trigger", trigger, "message", message)

	return Transition{
		SessionID: c.id,
		From:      from,
		To:        to,
		Trigger:   trigger,
		Message:   message,
		At:        c.now(),
	}
}

// record hands t to the recorder outside the lock.
func (c *Controller) record(t Transition) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.RecordTransition(context.Background(), t); err != nil {
		c.logger.Warn("failed to record transition", "error", err)
	}
}

// wake sets the rendezvous signal without blocking.
func (c *Controller) wake() {
	select {
	case c.signal <- struct{}{}:
	default:
	}
}

// remaining returns the time left before the session deadline. Callers hold c.mu.
func (c *Controller) remaining() time.Duration {
	return c.startedAt.Add(c.sessionTimeout).Sub(c.now())
}

// ValidCode reports whether code is exactly six ASCII decimal digits.
func ValidCode(code string) bool {
	if len(code) != codeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
