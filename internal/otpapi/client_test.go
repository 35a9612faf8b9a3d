package otpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funnel-service/internal/config"
)

func newTestClient(baseURL string) *Client {
	return NewClient(config.OTPAPIConfig{
		BaseURL:      baseURL,
		InitiatePath: "/initiate-otp",
		VerifyPath:   "/verify-user",
		Timeout:      2 * time.Second,
	})
}

func TestInitiateOTPSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/initiate-otp", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "XMLHttpRequest", r.Header.Get("X-Requested-With"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NotEmpty(t, body["data"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"transaction_id": "T1",
			"type":           "sms",
			"is_temp_otp":    true,
		})
	}))
	defer server.Close()

	resp, err := newTestClient(server.URL).InitiateOTP(context.Background(), "ciphertext")
	require.NoError(t, err)
	assert.Equal(t, "T1", resp.TransactionID)
	assert.Equal(t, "sms", resp.Type)
	assert.True(t, resp.IsTempOTP)
}

func TestInitiateOTPPhonePattern(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"detail":[{"type":"string_pattern_mismatch"}]}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).InitiateOTP(context.Background(), "ciphertext")
	assert.ErrorIs(t, err, ErrPhonePattern)
}

func TestInitiateOTPRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).InitiateOTP(context.Background(), "ciphertext")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestInitiateOTPTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer server.Close()

	c := NewClient(config.OTPAPIConfig{
		BaseURL:      server.URL,
		InitiatePath: "/initiate-otp",
		VerifyPath:   "/verify-user",
		Timeout:      50 * time.Millisecond,
	})

	_, err := c.InitiateOTP(context.Background(), "ciphertext")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestInitiateOTPServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).InitiateOTP(context.Background(), "ciphertext")
	assert.ErrorIs(t, err, ErrServer)
}

func TestVerifyUserSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/verify-user", r.URL.Path)

		var req VerifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "T1", req.TransactionID)
		assert.Equal(t, "1234", req.OTP)

		json.NewEncoder(w).Encode(VerifyResponse{
			Message: "success",
			Data: VerifyData{
				AccessToken:     "tok123",
				LeadProfileID:   "lead-42",
				TokenType:       "Bearer",
				IsFirstTimeUser: true,
			},
		})
	}))
	defer server.Close()

	resp, err := newTestClient(server.URL).VerifyUser(context.Background(), VerifyRequest{
		TransactionID: "T1",
		OTP:           "1234",
		MobileNo:      "9876543210",
		Type:          "sms",
	})
	require.NoError(t, err)
	assert.Equal(t, "tok123", resp.Data.AccessToken)
	assert.True(t, resp.Data.IsFirstTimeUser)
}

func TestVerifyUserFailedMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"message": "failed"})
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).VerifyUser(context.Background(), VerifyRequest{})
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestVerifyUserServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).VerifyUser(context.Background(), VerifyRequest{})
	assert.ErrorIs(t, err, ErrServer)
}
