package token

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"funnel-service/internal/encryption"
	"funnel-service/internal/monitor"
)

const storageKey = "secure_session_v2"

// Legacy plaintext keys from the pre-sealed storage scheme. Cleared on
// every purge so stale credentials cannot be resurrected.
var legacyKeys = []string{"token", "leadprofileid", "auth_Otp"}

// Record is the credential set stored after a successful verification.
type Record struct {
	AccessToken   string `json:"access_token,omitempty"`
	LeadProfileID string `json:"lead_profile_id,omitempty"`
	AuthOTP       string `json:"auth_otp,omitempty"`
	TokenType     string `json:"token_type,omitempty"`
	ExpiresAt     int64  `json:"expires_at"`
	SessionID     string `json:"session_id"`
}

// SessionInfo is the non-sensitive slice of a Record exposed to
// callers probing session state.
type SessionInfo struct {
	SessionID string
	ExpiresAt time.Time
}

// Manager stores access credentials sealed at rest with verify-on-read
// semantics: any read that finds an expired or undecryptable record
// purges everything, legacy keys included.
type Manager struct {
	mu     sync.Mutex
	cached *Record

	store  Store
	sealer *encryption.Sealer
	events *monitor.Monitor
	ttl    time.Duration
	now    func() time.Time
}

// NewManager creates a Manager. sealer may be nil when no encryption
// key is configured; SetTokens then refuses to store anything.
func NewManager(store Store, sealer *encryption.Sealer, events *monitor.Monitor, ttl time.Duration) *Manager {
	return &Manager{
		store:  store,
		sealer: sealer,
		events: events,
		ttl:    ttl,
		now:    time.Now,
	}
}

// SetTokens seals and stores the credentials, stamping expiry and a
// fresh session id. Returns false without storing anything when no
// sealer is configured or sealing fails.
func (m *Manager) SetTokens(ctx context.Context, accessToken, leadProfileID, authOTP, tokenType string) bool {
	if m.sealer == nil {
		m.recordSuspicious("attempted to set tokens without encryption key")
		return false
	}

	record := &Record{
		AccessToken:   accessToken,
		LeadProfileID: leadProfileID,
		AuthOTP:       authOTP,
		TokenType:     tokenType,
		ExpiresAt:     m.now().Add(m.ttl).UnixMilli(),
		SessionID:     uuid.NewString(),
	}

	sealed, err := m.sealer.Seal(record)
	if err != nil {
		m.recordSuspicious("failed to encrypt token data")
		return false
	}

	if err := m.store.Set(ctx, storageKey, sealed, m.ttl); err != nil {
		m.recordSuspicious("failed to persist sealed token data")
		return false
	}

	m.mu.Lock()
	m.cached = record
	m.mu.Unlock()
	return true
}

// AccessToken returns the stored access token, or "".
func (m *Manager) AccessToken(ctx context.Context) string {
	if record := m.validRecord(ctx); record != nil {
		return record.AccessToken
	}
	return ""
}

// LeadProfileID returns the stored lead profile id, or "".
func (m *Manager) LeadProfileID(ctx context.Context) string {
	if record := m.validRecord(ctx); record != nil {
		return record.LeadProfileID
	}
	return ""
}

// AuthOTP returns the OTP used at verification, or "".
func (m *Manager) AuthOTP(ctx context.Context) string {
	if record := m.validRecord(ctx); record != nil {
		return record.AuthOTP
	}
	return ""
}

// TokenType returns the stored token type, or "".
func (m *Manager) TokenType(ctx context.Context) string {
	if record := m.validRecord(ctx); record != nil {
		return record.TokenType
	}
	return ""
}

// IsAuthenticated reports whether a valid, unexpired record exists.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	return m.validRecord(ctx) != nil
}

// Info returns session metadata, or nil when unauthenticated.
func (m *Manager) Info(ctx context.Context) *SessionInfo {
	record := m.validRecord(ctx)
	if record == nil {
		return nil
	}
	return &SessionInfo{
		SessionID: record.SessionID,
		ExpiresAt: time.UnixMilli(record.ExpiresAt),
	}
}

// ClearTokens purges the cached record, the sealed record, and the
// legacy plaintext keys.
func (m *Manager) ClearTokens(ctx context.Context) {
	m.mu.Lock()
	m.cached = nil
	m.mu.Unlock()

	keys := append([]string{storageKey}, legacyKeys...)
	_ = m.store.Delete(ctx, keys...)
}

// validRecord serves the in-memory copy while unexpired, otherwise
// loads and unseals from the store. Any failure purges all state.
func (m *Manager) validRecord(ctx context.Context) *Record {
	m.mu.Lock()
	cached := m.cached
	m.mu.Unlock()

	if cached != nil && m.now().UnixMilli() < cached.ExpiresAt {
		return cached
	}

	if m.sealer == nil {
		return nil
	}

	sealed, err := m.store.Get(ctx, storageKey)
	if err == nil {
		var record Record
		if err := m.sealer.Open(sealed, &record); err != nil {
			m.events.Record(monitor.Event{
				Type:     monitor.EventSuspiciousActivity,
				Severity: monitor.SeverityMedium,
				Message:  "token decryption failed",
			})
		} else if m.now().UnixMilli() < record.ExpiresAt {
			m.mu.Lock()
			m.cached = &record
			m.mu.Unlock()
			return &record
		}
	}

	m.ClearTokens(ctx)
	return nil
}

func (m *Manager) recordSuspicious(message string) {
	m.events.Record(monitor.Event{
		Type:     monitor.EventSuspiciousActivity,
		Severity: monitor.SeverityHigh,
		Message:  message,
	})
}
