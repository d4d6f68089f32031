package flow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/delta-auth/internal/errs"
	"github.com/and161185/delta-auth/internal/model"
	"github.com/and161185/delta-auth/internal/session"
	"github.com/and161185/delta-auth/internal/validate"
)

var (
	// ErrWrongStep is returned when input or a switch does not fit the current step.
	ErrWrongStep = errors.New("flow: not allowed on the current step")
	// ErrSubmitting is returned while a submit is in flight.
	ErrSubmitting = errors.New("flow: submit in progress")
	// ErrNoPrevious is returned by Back at the first step.
	ErrNoPrevious = errors.New("flow: no previous step")
	// ErrClosed is returned when the flow is closed; call Reopen first.
	ErrClosed = errors.New("flow: closed")
)

// Authenticator is the part of the session store used by terminal steps.
// *session.Store implements it.
type Authenticator interface {
	Login(ctx context.Context, creds model.LoginCredentials) error
	Register(ctx context.Context, data model.RegisterData) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, password string) error
	Snapshot() session.Snapshot
}

// State is a copy of the controller state for rendering.
type State struct {
	Current      Step
	IsSubmitting bool
	LastError    string
	FieldErrors  map[string]string
	Stack        []Step
	Purpose      Purpose
	Closed       bool
}

// CanGoBack reports whether Back has a step to return to.
func (s State) CanGoBack() bool { return len(s.Stack) > 0 }

// Result reports the outcome of a successful Submit.
type Result struct {
	Step   Step        // step after the submit
	Closed bool        // a terminal step completed
	User   *model.User // signed-in user after a terminal login or registration
}

// Controller is the auth flow state machine.
type Controller struct {
	auth Authenticator
	log  *zap.Logger
	now  func() time.Time

	mu         sync.Mutex
	current    Step
	stack      []Step
	draft      *draft
	purpose    Purpose
	submitting bool
	lastError  string
	fieldErrs  map[string]string
	closed     bool
	generation uint64
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithClock sets the time source used for age checks.
func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

// WithStart opens the flow on step instead of login.
func WithStart(step Step) Option {
	return func(c *Controller) {
		if _, ok := transitions[step]; ok {
			c.current = step
		}
	}
}

// New returns a controller positioned on the login step.
func New(auth Authenticator, opts ...Option) *Controller {
	c := &Controller{
		auth:    auth,
		log:     zap.NewNop(),
		now:     time.Now,
		current: StepLogin,
		draft:   newDraft(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := State{
		Current:      c.current,
		IsSubmitting: c.submitting,
		LastError:    c.lastError,
		Stack:        append([]Step(nil), c.stack...),
		Purpose:      c.purpose,
		Closed:       c.closed,
	}
	if len(c.fieldErrs) > 0 {
		st.FieldErrors = make(map[string]string, len(c.fieldErrs))
		for k, v := range c.fieldErrs {
			st.FieldErrors[k] = v
		}
	}
	return st
}

// Step returns the current step.
func (c *Controller) Step() Step {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Draft returns a copy of the registration draft.
func (c *Controller) Draft() DraftView {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draft == nil {
		return DraftView{}
	}
	cp := *c.draft
	cp.committed = make(map[Step]bool, len(c.draft.committed))
	for k, v := range c.draft.committed {
		cp.committed[k] = v
	}
	return DraftView{d: &cp}
}

// SwitchTo follows a switch trigger (register, forgot-password, login).
// Switching to login drops the back stack and the draft.
func (c *Controller) SwitchTo(target Step) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.submitting {
		return ErrSubmitting
	}
	trig, ok := switchTrigger(target)
	if !ok {
		return ErrWrongStep
	}
	to, ok := Next(c.current, trig)
	if !ok {
		return ErrWrongStep
	}
	c.clearErrorsLocked()
	if to == StepLogin {
		c.resetLocked()
		return nil
	}
	c.stack = append(c.stack, c.current)
	c.current = to
	c.log.Debug("flow switch", zap.String("to", string(to)))
	return nil
}

// Back returns to the previous step. Committed draft data is kept.
func (c *Controller) Back() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.submitting {
		return ErrSubmitting
	}
	if len(c.stack) == 0 {
		return ErrNoPrevious
	}
	c.current = c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
	if len(c.stack) == 0 {
		c.purpose = PurposeNone
	}
	c.clearErrorsLocked()
	return nil
}

// Close discards the draft, returns to login and marks the flow closed.
// Results of a submit still in flight are ignored.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
	c.clearErrorsLocked()
	c.closed = true
	c.submitting = false
	c.generation++
}

// Reopen opens a closed flow on step (login, register or forgot-password).
func (c *Controller) Reopen(step Step) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if step != StepLogin && step != StepRegister && step != StepForgotPassword {
		return ErrWrongStep
	}
	c.resetLocked()
	c.clearErrorsLocked()
	c.current = step
	c.closed = false
	return nil
}

func (c *Controller) resetLocked() {
	c.current = StepLogin
	c.stack = nil
	c.draft = newDraft()
	c.purpose = PurposeNone
}

func (c *Controller) clearErrorsLocked() {
	c.lastError = ""
	c.fieldErrs = nil
}

// Submit validates in for the current step and advances. Terminal steps call
// the session store; on success the flow closes and returns to login.
func (c *Controller) Submit(ctx context.Context, in Input) (Result, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Result{}, ErrClosed
	}
	if c.submitting {
		c.mu.Unlock()
		return Result{}, ErrSubmitting
	}
	if in == nil || in.Step() != c.current {
		c.mu.Unlock()
		return Result{}, ErrWrongStep
	}
	next, ok := Next(c.current, TriggerSubmit)
	if !ok {
		c.mu.Unlock()
		return Result{}, ErrWrongStep
	}
	if verrs := in.validate(c.now()); validate.HasErrors(verrs) {
		first := validate.FirstError(verrs)
		c.lastError = first.Message
		c.fieldErrs = verrs.Map()
		c.mu.Unlock()
		return Result{}, errs.Validation(first.Field, first.Message)
	}
	c.clearErrorsLocked()

	remote := c.remoteCall(in)
	if remote == nil {
		c.commitLocked(in)
		c.advanceLocked(next)
		step := c.current
		c.mu.Unlock()
		return Result{Step: step}, nil
	}

	c.submitting = true
	gen := c.generation
	c.mu.Unlock()

	err := remote(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return Result{}, ErrClosed
	}
	c.submitting = false
	if err != nil {
		ae := errs.Normalize(err)
		c.lastError = ae.Message
		if ae.Field != "" {
			c.fieldErrs = map[string]string{ae.Field: ae.Message}
		}
		c.log.Debug("flow submit failed", zap.String("step", string(c.current)), zap.Error(err))
		return Result{}, ae
	}

	if next == StepClosed {
		var user *model.User
		if c.purpose != PurposeRecovery || c.current == StepLogin {
			user = c.auth.Snapshot().User
		}
		c.log.Debug("flow completed", zap.String("step", string(c.current)), zap.String("purpose", string(c.purpose)))
		c.resetLocked()
		c.closed = true
		return Result{Step: c.current, Closed: true, User: user}, nil
	}
	c.commitLocked(in)
	c.advanceLocked(next)
	return Result{Step: c.current}, nil
}

// remoteCall returns the session call made when in is submitted, or nil for
// steps that only collect data. Called with c.mu held.
func (c *Controller) remoteCall(in Input) func(context.Context) error {
	switch v := in.(type) {
	case LoginInput:
		creds := model.LoginCredentials{
			Email:      validate.NormalizeEmail(v.Email),
			Password:   v.Password,
			RememberMe: v.RememberMe,
		}
		return func(ctx context.Context) error { return c.auth.Login(ctx, creds) }
	case ForgotPasswordInput:
		email := validate.NormalizeEmail(v.Email)
		return func(ctx context.Context) error { return c.auth.ForgotPassword(ctx, email) }
	case CreatePasswordInput:
		if c.purpose == PurposeRecovery {
			code := c.draft.verificationCode
			return func(ctx context.Context) error { return c.auth.ResetPassword(ctx, code, v.Password) }
		}
		data := c.draft.registerData()
		data.Password, data.ConfirmPassword = v.Password, v.ConfirmPassword
		return func(ctx context.Context) error { return c.auth.Register(ctx, data) }
	}
	return nil
}

func (c *Controller) commitLocked(in Input) {
	d := c.draft
	switch v := in.(type) {
	case RegisterInput:
		d.firstName = strings.TrimSpace(v.FirstName)
		d.lastName = strings.TrimSpace(v.LastName)
		d.username = strings.TrimSpace(v.Username)
		d.agreeToTerms = v.AgreeToTerms
		d.agreeToMarketing = v.AgreeToMarketing
	case DateOfBirthInput:
		d.dateOfBirth = model.DateOfBirth{
			Day:   strings.TrimSpace(v.Day),
			Month: strings.TrimSpace(v.Month),
			Year:  strings.TrimSpace(v.Year),
		}
	case CreateAccountInput:
		d.phone = strings.TrimSpace(v.Phone)
		d.email = validate.NormalizeEmail(v.Email)
		c.purpose = PurposeRegistration
	case ForgotPasswordInput:
		d.email = validate.NormalizeEmail(v.Email)
		c.purpose = PurposeRecovery
	case VerifyCodeInput:
		d.verificationCode = strings.TrimSpace(v.Code)
	case CreatePasswordInput:
		d.password, d.confirmPassword = v.Password, v.ConfirmPassword
	default:
		return
	}
	d.committed[in.Step()] = true
}

func (c *Controller) advanceLocked(next Step) {
	c.stack = append(c.stack, c.current)
	c.current = next
	c.log.Debug("flow advance", zap.String("to", string(next)))
}
