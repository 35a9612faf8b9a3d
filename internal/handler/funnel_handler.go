package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"funnel-service/internal/analytics"
	"funnel-service/internal/encryption"
	"funnel-service/internal/flow"
	"funnel-service/internal/otpapi"
	"funnel-service/internal/token"
	"funnel-service/internal/util"
	"funnel-service/internal/validation"
)

// FunnelHandler exposes the OTP lead-capture flow over HTTP.
type FunnelHandler struct {
	controller *flow.Controller
	tokens     *token.Manager
	forwarder  *analytics.Forwarder
	logger     *zap.Logger
}

func NewFunnelHandler(controller *flow.Controller, tokens *token.Manager, forwarder *analytics.Forwarder, logger *zap.Logger) *FunnelHandler {
	return &FunnelHandler{
		controller: controller,
		tokens:     tokens,
		forwarder:  forwarder,
		logger:     logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

type sendOTPRequest struct {
	MobileNo          string `json:"mobile_no"`
	DeviceID          string `json:"device_id"`
	ConditionAccepted bool   `json:"condition_accepted"`
	WhatsaapConsent   bool   `json:"whatsaap_consent"`
}

type verifyOTPRequest struct {
	MobileNo string `json:"mobile_no"`
	OTP      string `json:"otp"`
}

type personalDetailsRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

// RegisterRoutes registers the funnel routes
func (h *FunnelHandler) RegisterRoutes(router chi.Router) {
	router.Route("/otp", func(r chi.Router) {
		r.Post("/send", h.SendOTP)
		r.Post("/resend", h.ResendOTP)
		r.Post("/verify", h.VerifyOTP)
	})
	router.Route("/leads", func(r chi.Router) {
		r.Post("/personal-details", h.PersonalDetails)
	})
	router.Get("/session", h.SessionInfo)
}

// SendOTP dispatches an OTP to the supplied phone number.
func (h *FunnelHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	h.send(w, r, h.controller.SendOTP)
}

// ResendOTP re-dispatches an OTP under the resend quota.
func (h *FunnelHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	h.send(w, r, h.controller.ResendOTP)
}

func (h *FunnelHandler) send(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, phone string, opts flow.SendOptions) (*flow.SendResult, error)) {
	ctx := r.Context()
	startTime := time.Now()

	var req sendOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	result, err := op(ctx, req.MobileNo, flow.SendOptions{
		DeviceID:          util.Sanitize(req.DeviceID),
		ConditionAccepted: req.ConditionAccepted,
		WhatsappConsent:   req.WhatsaapConsent,
	})
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to send OTP")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]string{
		"auth_type": result.AuthType,
	}, "OTP sent"))
	h.logger.Info("OTP dispatched",
		util.String("auth_type", result.AuthType),
		util.Duration("duration", time.Since(startTime)))
}

// VerifyOTP submits the entered code and returns the onward route.
func (h *FunnelHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req verifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	result, err := h.controller.VerifyOTP(ctx, req.MobileNo, req.OTP)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Verification failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"route":              result.Route,
		"is_first_time_user": result.FirstTimeUser,
		"lead_profile_id":    result.LeadProfileID,
	}, "Verification successful"))
	h.logger.Info("OTP verified",
		util.String("route", result.Route),
		util.Bool("first_time_user", result.FirstTimeUser),
		util.Duration("duration", time.Since(startTime)))
}

// PersonalDetails validates the post-verification profile step and
// forwards the attributes to analytics.
func (h *FunnelHandler) PersonalDetails(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req personalDetailsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if !h.tokens.IsAuthenticated(ctx) {
		h.respondWithError(w, http.StatusUnauthorized, errors.New("not authenticated"), "Verification required")
		return
	}

	if result := validation.ValidateName(req.FullName); !result.Valid {
		h.respondWithError(w, http.StatusBadRequest, errors.New(result.Message), "Invalid name")
		return
	}
	if result := validation.ValidateEmail(req.Email); !result.Valid {
		h.respondWithError(w, http.StatusBadRequest, errors.New(result.Message), "Invalid email")
		return
	}

	h.forwarder.ForwardLogin(analytics.UserData{
		LeadProfileID: h.tokens.LeadProfileID(ctx),
		FullName:      req.FullName,
		Email:         req.Email,
	})

	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]string{
		"route": flow.RouteValueConfirmation,
	}, "Details saved"))
}

// SessionInfo probes the stored credential state.
func (h *FunnelHandler) SessionInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	info := h.tokens.Info(ctx)
	if info == nil {
		h.respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
			"authenticated": false,
		}, ""))
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"authenticated": true,
		"session_id":    info.SessionID,
		"expires_at":    info.ExpiresAt.UnixMilli(),
	}, ""))
}

func (h *FunnelHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError sends an error response
func (h *FunnelHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}

// getStatusCode determines the appropriate HTTP status code for an error
func (h *FunnelHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, flow.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, flow.ErrRateLimited), errors.Is(err, otpapi.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, flow.ErrNoSession), errors.Is(err, flow.ErrStale):
		return http.StatusConflict
	case errors.Is(err, encryption.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, otpapi.ErrPhonePattern):
		return http.StatusUnprocessableEntity
	case errors.Is(err, otpapi.ErrInvalidCode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, otpapi.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, otpapi.ErrServer):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
