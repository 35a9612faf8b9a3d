package otpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"funnel-service/internal/config"
	"funnel-service/internal/util"
)

// Sentinel errors for the distinguishable provider failure modes.
// Callers dispatch with errors.Is; raw response bodies are never
// surfaced past this package.
var (
	ErrTimeout      = errors.New("otp provider request timed out")
	ErrServer       = errors.New("otp provider server error")
	ErrRateLimited  = errors.New("otp provider rate limited")
	ErrPhonePattern = errors.New("phone number format rejected")
	ErrInvalidCode  = errors.New("otp code invalid")
)

// InitiateResponse is the successful result of an OTP initiation.
type InitiateResponse struct {
	TransactionID string `json:"transaction_id"`
	Type          string `json:"type"`
	IsTempOTP     bool   `json:"is_temp_otp"`
}

// VerifyRequest carries the verification call parameters.
type VerifyRequest struct {
	TransactionID string `json:"transaction_id"`
	OTP           string `json:"otp"`
	MobileNo      string `json:"mobile_no"`
	Type          string `json:"type"`
	IsTempOTP     bool   `json:"is_temp_otp"`
}

// VerifyData is the credential payload of a successful verification.
type VerifyData struct {
	AccessToken     string `json:"access_token"`
	LeadProfileID   string `json:"lead_profile_id"`
	TokenType       string `json:"token_type"`
	IsFirstTimeUser bool   `json:"is_first_time_user"`
	FullName        string `json:"full_name"`
	Email           string `json:"email"`
	DOB             string `json:"dob"`
	Gender          string `json:"gender"`
	PinCode         string `json:"pin_code"`
	City            string `json:"city"`
	MobileNo        string `json:"mobile_no"`
}

// VerifyResponse is the provider's verification envelope.
type VerifyResponse struct {
	Message string     `json:"message"`
	Data    VerifyData `json:"data"`
}

type errorDetail struct {
	Type string `json:"type"`
}

type errorBody struct {
	Detail []errorDetail `json:"detail"`
}

// Client talks to the external OTP provider. The service never
// generates or checks OTP codes itself.
type Client struct {
	httpClient *http.Client
	cfg        config.OTPAPIConfig
}

func NewClient(cfg config.OTPAPIConfig) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
	}
}

// InitiateOTP posts the encrypted payload to the initiation endpoint.
func (c *Client) InitiateOTP(ctx context.Context, ciphertext string) (*InitiateResponse, error) {
	body, status, err := c.post(ctx, c.cfg.InitiatePath, map[string]string{"data": ciphertext})
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK {
		return nil, initiateError(status, body)
	}

	var result InitiateResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: malformed initiation response", ErrServer)
	}
	if result.TransactionID == "" {
		return nil, fmt.Errorf("%w: initiation response missing transaction id", ErrServer)
	}
	return &result, nil
}

// VerifyUser posts the code and transaction context to the
// verification endpoint.
func (c *Client) VerifyUser(ctx context.Context, req VerifyRequest) (*VerifyResponse, error) {
	body, status, err := c.post(ctx, c.cfg.VerifyPath, req)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusInternalServerError:
		return nil, ErrServer
	case status == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case status >= 500:
		return nil, ErrServer
	}

	var result VerifyResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: malformed verification response", ErrServer)
	}
	if result.Message != "success" {
		return nil, ErrInvalidCode
	}
	return &result, nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) ([]byte, int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			util.Warn("otp provider request timed out",
				zap.String("path", path),
				zap.Duration("elapsed", time.Since(start)))
			return nil, 0, ErrTimeout
		}
		return nil, 0, fmt.Errorf("%w: %v", ErrServer, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: failed to read response", ErrServer)
	}

	util.Debug("otp provider response",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	return body, resp.StatusCode, nil
}

func initiateError(status int, body []byte) error {
	if status == http.StatusTooManyRequests {
		return ErrRateLimited
	}

	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		if len(parsed.Detail) > 0 && parsed.Detail[0].Type == "string_pattern_mismatch" {
			return ErrPhonePattern
		}
	}

	if status >= 500 {
		return ErrServer
	}
	return fmt.Errorf("%w: unexpected status %d", ErrServer, status)
}
