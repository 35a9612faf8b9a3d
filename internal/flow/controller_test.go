package flow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funnel-service/internal/analytics"
	"funnel-service/internal/config"
	"funnel-service/internal/encryption"
	"funnel-service/internal/monitor"
	"funnel-service/internal/otpapi"
	"funnel-service/internal/ratelimit"
	"funnel-service/internal/session"
	"funnel-service/internal/token"
)

type stubProvider struct {
	initiateResp *otpapi.InitiateResponse
	initiateErr  error
	verifyResp   *otpapi.VerifyResponse
	verifyErr    error

	initiateCalls int
	verifyCalls   int
	lastVerify    otpapi.VerifyRequest
	beforeReturn  func()
}

func (p *stubProvider) InitiateOTP(_ context.Context, _ string) (*otpapi.InitiateResponse, error) {
	p.initiateCalls++
	if p.beforeReturn != nil {
		p.beforeReturn()
	}
	return p.initiateResp, p.initiateErr
}

func (p *stubProvider) VerifyUser(_ context.Context, req otpapi.VerifyRequest) (*otpapi.VerifyResponse, error) {
	p.verifyCalls++
	p.lastVerify = req
	if p.beforeReturn != nil {
		p.beforeReturn()
	}
	return p.verifyResp, p.verifyErr
}

type fixture struct {
	controller *Controller
	provider   *stubProvider
	sessions   *session.Store
	tokens     *token.Manager
	limiter    *ratelimit.Limiter
	cipher     *encryption.Cipher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cipher := encryption.NewCipher()
	require.NoError(t, cipher.SetConfig(encryption.KeyConfig{
		Key: "unit-test-key-0123456789",
		IV:  "unit-test-iv-4567",
	}))

	sealer, err := encryption.NewSealer("unit-test-key-0123456789")
	require.NoError(t, err)

	events := monitor.New(nil)
	tokens := token.NewManager(token.NewMemoryStore(), sealer, events, 8*time.Hour)
	limiter := ratelimit.New(3, 15*time.Minute, time.Hour)
	sessions := session.NewStore(30 * time.Minute)
	forwarder := analytics.NewForwarder(nil, "funnel-events", config.AnalyticsConfig{AdvisorID: 15721, PhonePrefix: "+91"})

	provider := &stubProvider{
		initiateResp: &otpapi.InitiateResponse{TransactionID: "T1", Type: "sms"},
		verifyResp: &otpapi.VerifyResponse{
			Message: "success",
			Data: otpapi.VerifyData{
				AccessToken:     "tok123",
				LeadProfileID:   "lead-42",
				TokenType:       "Bearer",
				IsFirstTimeUser: true,
			},
		},
	}

	return &fixture{
		controller: NewController(limiter, sessions, cipher, tokens, provider, forwarder, events),
		provider:   provider,
		sessions:   sessions,
		tokens:     tokens,
		limiter:    limiter,
		cipher:     cipher,
	}
}

func TestSendOTPSuccess(t *testing.T) {
	f := newFixture(t)

	result, err := f.controller.SendOTP(context.Background(), "9876543210", SendOptions{DeviceID: "web"})
	require.NoError(t, err)
	assert.Equal(t, "sms", result.AuthType)
	assert.Equal(t, StateAwaitingCode, f.controller.State())

	ctx := f.sessions.Get()
	require.NotNil(t, ctx)
	assert.Equal(t, "T1", ctx.TransactionID)
	assert.Equal(t, "sms", ctx.AuthType)
}

func TestSendOTPInvalidPhone(t *testing.T) {
	f := newFixture(t)

	_, err := f.controller.SendOTP(context.Background(), "123", SendOptions{})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, StateFailed, f.controller.State())
	assert.Zero(t, f.provider.initiateCalls)
}

func TestSendOTPRateLimited(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		_, err := f.controller.SendOTP(context.Background(), "9876543210", SendOptions{})
		require.NoError(t, err)
	}

	_, err := f.controller.SendOTP(context.Background(), "9876543210", SendOptions{})
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 3, f.provider.initiateCalls)
}

func TestSendOTPNotConfigured(t *testing.T) {
	f := newFixture(t)
	f.cipher.ClearConfig()

	_, err := f.controller.SendOTP(context.Background(), "9876543210", SendOptions{})
	assert.ErrorIs(t, err, encryption.ErrNotConfigured)
	assert.Zero(t, f.provider.initiateCalls)
}

func TestSendOTPProviderError(t *testing.T) {
	f := newFixture(t)
	f.provider.initiateResp = nil
	f.provider.initiateErr = otpapi.ErrTimeout

	_, err := f.controller.SendOTP(context.Background(), "9876543210", SendOptions{})
	assert.ErrorIs(t, err, otpapi.ErrTimeout)
	assert.Equal(t, StateFailed, f.controller.State())
	assert.Nil(t, f.sessions.Get())
}

func TestResendOTPUsesSeparateQuota(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		_, err := f.controller.SendOTP(context.Background(), "9876543210", SendOptions{})
		require.NoError(t, err)
	}
	_, err := f.controller.SendOTP(context.Background(), "9876543210", SendOptions{})
	require.ErrorIs(t, err, ErrRateLimited)

	_, err = f.controller.ResendOTP(context.Background(), "9876543210", SendOptions{})
	assert.NoError(t, err)
}

func TestVerifyOTPFirstTimeUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.controller.SendOTP(ctx, "9876543210", SendOptions{})
	require.NoError(t, err)

	result, err := f.controller.VerifyOTP(ctx, "9876543210", "1234")
	require.NoError(t, err)
	assert.Equal(t, RoutePersonalDetails, result.Route)
	assert.True(t, result.FirstTimeUser)
	assert.Equal(t, "lead-42", result.LeadProfileID)
	assert.Equal(t, StateVerified, f.controller.State())

	assert.Equal(t, "T1", f.provider.lastVerify.TransactionID)
	assert.Equal(t, "1234", f.provider.lastVerify.OTP)
	assert.Equal(t, "sms", f.provider.lastVerify.Type)

	assert.Equal(t, "tok123", f.tokens.AccessToken(ctx))
	assert.True(t, f.tokens.IsAuthenticated(ctx))
	assert.Nil(t, f.sessions.Get())
}

func TestVerifyOTPReturningUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.verifyResp.Data.IsFirstTimeUser = false

	_, err := f.controller.SendOTP(ctx, "9876543210", SendOptions{})
	require.NoError(t, err)

	result, err := f.controller.VerifyOTP(ctx, "9876543210", "1234")
	require.NoError(t, err)
	assert.Equal(t, RouteValueConfirmation, result.Route)
	assert.False(t, result.FirstTimeUser)
}

func TestVerifyOTPInvalidCode(t *testing.T) {
	f := newFixture(t)

	_, err := f.controller.VerifyOTP(context.Background(), "9876543210", "12")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Zero(t, f.provider.verifyCalls)
}

func TestVerifyOTPWithoutSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.controller.VerifyOTP(context.Background(), "9876543210", "1234")
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Zero(t, f.provider.verifyCalls)
}

func TestVerifyOTPRejectedCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.verifyResp = nil
	f.provider.verifyErr = otpapi.ErrInvalidCode

	_, err := f.controller.SendOTP(ctx, "9876543210", SendOptions{})
	require.NoError(t, err)

	_, err = f.controller.VerifyOTP(ctx, "9876543210", "1234")
	assert.ErrorIs(t, err, otpapi.ErrInvalidCode)
	assert.Equal(t, StateFailed, f.controller.State())
	assert.False(t, f.tokens.IsAuthenticated(ctx))
}

func TestResetDiscardsInFlightResponse(t *testing.T) {
	f := newFixture(t)
	f.provider.beforeReturn = func() { f.controller.Reset() }

	_, err := f.controller.SendOTP(context.Background(), "9876543210", SendOptions{})
	assert.ErrorIs(t, err, ErrStale)
	assert.Nil(t, f.sessions.Get())
	assert.Equal(t, StateIdle, f.controller.State())
}

func TestVerifySuccessResetsRateLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.controller.SendOTP(ctx, "9876543210", SendOptions{})
		require.NoError(t, err)
	}

	_, err := f.controller.VerifyOTP(ctx, "9876543210", "1234")
	require.NoError(t, err)

	_, err = f.controller.SendOTP(ctx, "9876543210", SendOptions{})
	assert.NoError(t, err)
}
