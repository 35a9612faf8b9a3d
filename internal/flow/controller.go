package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"funnel-service/internal/analytics"
	"funnel-service/internal/encryption"
	"funnel-service/internal/monitor"
	"funnel-service/internal/otpapi"
	"funnel-service/internal/ratelimit"
	"funnel-service/internal/session"
	"funnel-service/internal/token"
	"funnel-service/internal/util"
	"funnel-service/internal/validation"
)

// State tracks where an OTP attempt currently is. Every failure is
// terminal for the attempt; nothing retries automatically.
type State string

const (
	StateIdle         State = "idle"
	StateValidating   State = "validating"
	StateRateChecking State = "rate_checking"
	StateEncrypting   State = "encrypting"
	StateSending      State = "sending"
	StateAwaitingCode State = "awaiting_code"
	StateVerifying    State = "verifying"
	StateVerified     State = "verified"
	StateFailed       State = "failed"
)

// Routes handed to the landing page after verification.
const (
	RoutePersonalDetails   = "/personal-details"
	RouteValueConfirmation = "/value-confirmation"
)

const resendSuffix = "_resend"

var (
	ErrValidation  = errors.New("validation failed")
	ErrRateLimited = errors.New("rate limited")
	ErrNoSession   = errors.New("no active otp session")
	ErrStale       = errors.New("attempt superseded")
)

// Provider is the external OTP collaborator. *otpapi.Client satisfies
// it; tests substitute a stub.
type Provider interface {
	InitiateOTP(ctx context.Context, ciphertext string) (*otpapi.InitiateResponse, error)
	VerifyUser(ctx context.Context, req otpapi.VerifyRequest) (*otpapi.VerifyResponse, error)
}

// SendOptions carries the consent flags and device context included in
// the encrypted initiation payload.
type SendOptions struct {
	DeviceID          string
	ConditionAccepted bool
	WhatsappConsent   bool
}

type initiatePayload struct {
	MobileNo          string `json:"mobile_no"`
	DeviceID          string `json:"device_id"`
	ConditionAccepted bool   `json:"condition_accepted"`
	WhatsaapConsent   bool   `json:"whatsaap_consent"`
}

// SendResult reports a successful OTP dispatch.
type SendResult struct {
	AuthType string
}

// VerifyResult reports a successful verification and the onward route.
type VerifyResult struct {
	Route         string
	FirstTimeUser bool
	LeadProfileID string
}

// Controller orchestrates the OTP funnel: validation, rate limiting,
// payload encryption, the provider calls, session and token storage,
// and the route decision.
type Controller struct {
	limiter   *ratelimit.Limiter
	sessions  *session.Store
	cipher    *encryption.Cipher
	tokens    *token.Manager
	provider  Provider
	forwarder *analytics.Forwarder
	events    *monitor.Monitor

	mu        sync.Mutex
	state     State
	attempt   string
	isTempOTP bool
}

func NewController(
	limiter *ratelimit.Limiter,
	sessions *session.Store,
	cipher *encryption.Cipher,
	tokens *token.Manager,
	provider Provider,
	forwarder *analytics.Forwarder,
	events *monitor.Monitor,
) *Controller {
	return &Controller{
		limiter:   limiter,
		sessions:  sessions,
		cipher:    cipher,
		tokens:    tokens,
		provider:  provider,
		forwarder: forwarder,
		events:    events,
		state:     StateIdle,
		attempt:   uuid.NewString(),
	}
}

// State returns the current attempt state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reset abandons the current attempt. Responses belonging to the
// abandoned attempt are discarded when they arrive.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempt = uuid.NewString()
	c.state = StateIdle
}

// SendOTP validates the phone number, applies the rate limit, encrypts
// the initiation payload, and calls the provider. On success the
// returned transaction context is stored for the verification step.
func (c *Controller) SendOTP(ctx context.Context, phone string, opts SendOptions) (*SendResult, error) {
	return c.send(ctx, phone, phone, opts)
}

// ResendOTP re-initiates under a distinct rate-limit identifier so
// resends do not consume the initial-send quota.
func (c *Controller) ResendOTP(ctx context.Context, phone string, opts SendOptions) (*SendResult, error) {
	return c.send(ctx, phone, phone+resendSuffix, opts)
}

func (c *Controller) send(ctx context.Context, phone, limitKey string, opts SendOptions) (*SendResult, error) {
	attempt := c.beginAttempt(StateValidating)

	phone = validation.Sanitize(phone)
	if result := validation.ValidatePhone(phone); !result.Valid {
		c.events.Record(monitor.Event{
			Type:     monitor.EventInvalidInput,
			Severity: monitor.SeverityLow,
			Message:  "phone validation failed",
		})
		return nil, c.fail(attempt, fmt.Errorf("%w: %s", ErrValidation, result.Message))
	}

	c.setState(attempt, StateRateChecking)
	if decision := c.limiter.Check(limitKey); !decision.Allowed {
		c.events.Record(monitor.Event{
			Type:     monitor.EventRateLimit,
			Severity: monitor.SeverityMedium,
			Message:  "otp request rate limited",
			Details:  map[string]string{"retry_after_minutes": fmt.Sprint(decision.RetryAfter)},
		})
		return nil, c.fail(attempt, fmt.Errorf("%w: %s", ErrRateLimited, decision.Message))
	}

	c.setState(attempt, StateEncrypting)
	if !c.cipher.IsConfigured() {
		return nil, c.fail(attempt, encryption.ErrNotConfigured)
	}

	ciphertext, err := c.cipher.Encrypt(initiatePayload{
		MobileNo:          phone,
		DeviceID:          opts.DeviceID,
		ConditionAccepted: opts.ConditionAccepted,
		WhatsaapConsent:   opts.WhatsappConsent,
	})
	if err != nil {
		return nil, c.fail(attempt, err)
	}

	c.setState(attempt, StateSending)
	resp, err := c.provider.InitiateOTP(ctx, ciphertext)
	if err != nil {
		return nil, c.fail(attempt, err)
	}

	if !c.isCurrent(attempt) {
		util.Debug("discarding initiation response for abandoned attempt")
		return nil, ErrStale
	}

	c.sessions.Set(resp.TransactionID, resp.Type)
	c.mu.Lock()
	c.isTempOTP = resp.IsTempOTP
	c.mu.Unlock()
	c.setState(attempt, StateAwaitingCode)
	return &SendResult{AuthType: resp.Type}, nil
}

// VerifyOTP validates the code, submits it with the stored transaction
// context, persists the returned credentials, and decides the onward
// route. Analytics forwarding is fire-and-forget.
func (c *Controller) VerifyOTP(ctx context.Context, phone, code string) (*VerifyResult, error) {
	attempt := c.currentAttempt()
	c.setState(attempt, StateVerifying)

	phone = validation.Sanitize(phone)
	if result := validation.ValidateOTP(code); !result.Valid {
		c.events.Record(monitor.Event{
			Type:     monitor.EventInvalidInput,
			Severity: monitor.SeverityLow,
			Message:  "otp validation failed",
		})
		return nil, c.fail(attempt, fmt.Errorf("%w: %s", ErrValidation, result.Message))
	}

	sessionCtx := c.sessions.Get()
	if sessionCtx == nil || sessionCtx.TransactionID == "" {
		return nil, c.fail(attempt, ErrNoSession)
	}

	c.mu.Lock()
	isTempOTP := c.isTempOTP
	c.mu.Unlock()

	resp, err := c.provider.VerifyUser(ctx, otpapi.VerifyRequest{
		TransactionID: sessionCtx.TransactionID,
		OTP:           validation.Sanitize(code),
		MobileNo:      phone,
		Type:          sessionCtx.AuthType,
		IsTempOTP:     isTempOTP,
	})
	if err != nil {
		if errors.Is(err, otpapi.ErrInvalidCode) {
			c.events.Record(monitor.Event{
				Type:     monitor.EventAuthFailure,
				Severity: monitor.SeverityMedium,
				Message:  "otp verification rejected",
			})
		}
		return nil, c.fail(attempt, err)
	}

	if !c.isCurrent(attempt) {
		util.Debug("discarding verification response for abandoned attempt")
		return nil, ErrStale
	}

	data := resp.Data
	c.tokens.SetTokens(ctx, data.AccessToken, data.LeadProfileID, code, data.TokenType)
	c.sessions.Clear()
	c.limiter.Reset(phone)
	c.limiter.Reset(phone + resendSuffix)

	c.forwarder.ForwardLogin(analytics.UserData{
		LeadProfileID: data.LeadProfileID,
		Email:         data.Email,
		FullName:      data.FullName,
		DOB:           data.DOB,
		MobileNo:      data.MobileNo,
		Gender:        data.Gender,
		PinCode:       data.PinCode,
		City:          data.City,
	})

	c.setState(attempt, StateVerified)
	route := RouteValueConfirmation
	if data.IsFirstTimeUser {
		route = RoutePersonalDetails
	}
	return &VerifyResult{
		Route:         route,
		FirstTimeUser: data.IsFirstTimeUser,
		LeadProfileID: data.LeadProfileID,
	}, nil
}

func (c *Controller) beginAttempt(state State) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempt = uuid.NewString()
	c.state = state
	return c.attempt
}

func (c *Controller) currentAttempt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

func (c *Controller) isCurrent(attempt string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt == attempt
}

func (c *Controller) setState(attempt string, state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempt == attempt {
		c.state = state
	}
}

// fail marks the attempt failed and passes the error through.
func (c *Controller) fail(attempt string, err error) error {
	c.setState(attempt, StateFailed)
	return err
}
