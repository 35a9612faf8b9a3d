package analytics

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"funnel-service/internal/config"
	"funnel-service/internal/util"
)

// Publisher is the event transport. The Kafka producer satisfies it;
// tests substitute a capture.
type Publisher interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// UserData is the profile slice forwarded to the CRM after a
// successful verification.
type UserData struct {
	LeadProfileID string
	Email         string
	FullName      string
	DOB           string
	MobileNo      string
	Gender        string
	PinCode       string
	City          string
}

type loginEvent struct {
	Event         string `json:"event"`
	UserID        string `json:"user_id,omitempty"`
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
	BirthDate     string `json:"birth_date,omitempty"`
	Phone         string `json:"phone,omitempty"`
	Email         string `json:"email,omitempty"`
	Gender        string `json:"gender,omitempty"`
	PostalCode    string `json:"postal_code,omitempty"`
	City          string `json:"city,omitempty"`
	AdvisorID     int    `json:"advisor_id"`
	EmailOptIn    bool   `json:"email_opt_in"`
	SMSOptIn      bool   `json:"sms_opt_in"`
	WhatsappOptIn bool   `json:"whatsapp_opt_in"`
	Timestamp     int64  `json:"timestamp"`
}

var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Forwarder publishes CRM events. All publishing is fire-and-forget:
// failures are logged, never returned, and never block the caller.
type Forwarder struct {
	publisher Publisher
	topic     string
	cfg       config.AnalyticsConfig
}

func NewForwarder(publisher Publisher, topic string, cfg config.AnalyticsConfig) *Forwarder {
	return &Forwarder{publisher: publisher, topic: topic, cfg: cfg}
}

// ForwardLogin publishes a user_login event with sanitized profile
// attributes. Returns immediately; the publish runs in the background.
func (f *Forwarder) ForwardLogin(user UserData) {
	if f.publisher == nil {
		util.Warn("analytics publisher unavailable, dropping user_login event")
		return
	}

	event := f.buildLoginEvent(user)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		payload, err := json.Marshal(event)
		if err != nil {
			util.Error("failed to marshal analytics event", zap.Error(err))
			return
		}

		if err := f.publisher.ProduceMessage(ctx, f.topic, []byte(event.UserID), payload, map[string]string{
			"event": event.Event,
		}); err != nil {
			util.Error("failed to publish analytics event",
				zap.Error(err),
				zap.String("event", event.Event))
			return
		}

		util.Debug("analytics event published", zap.String("event", event.Event))
	}()
}

func (f *Forwarder) buildLoginEvent(user UserData) loginEvent {
	event := loginEvent{
		Event:         "user_login",
		UserID:        sanitizeString(user.LeadProfileID),
		BirthDate:     sanitizeString(user.DOB),
		Email:         sanitizeEmail(user.Email),
		Gender:        strings.ToLower(sanitizeString(user.Gender)),
		PostalCode:    sanitizeString(user.PinCode),
		City:          sanitizeString(user.City),
		AdvisorID:     f.cfg.AdvisorID,
		EmailOptIn:    true,
		SMSOptIn:      true,
		WhatsappOptIn: true,
		Timestamp:     time.Now().UnixMilli(),
	}

	if phone := sanitizePhone(user.MobileNo); phone != "" {
		event.Phone = f.cfg.PhonePrefix + phone
	}

	if name := sanitizeString(user.FullName); name != "" {
		names := strings.Fields(name)
		if len(names) > 0 {
			event.FirstName = names[0]
			event.LastName = names[len(names)-1]
		}
	}

	return event
}

// sanitizeString strips XSS-significant characters and scheme
// prefixes, capping length at 255.
func sanitizeString(s string) string {
	s = util.Sanitize(s)
	lower := strings.ToLower(s)
	for _, scheme := range []string{"javascript:", "data:"} {
		for strings.Contains(lower, scheme) {
			idx := strings.Index(lower, scheme)
			s = s[:idx] + s[idx+len(scheme):]
			lower = strings.ToLower(s)
		}
	}
	s = strings.TrimSpace(s)
	if len(s) > 255 {
		s = s[:255]
	}
	return s
}

func sanitizeEmail(email string) string {
	sanitized := sanitizeString(email)
	if emailRegex.MatchString(sanitized) {
		return sanitized
	}
	return ""
}

// sanitizePhone keeps digits, plus, and common separators, capped at a
// reasonable length.
func sanitizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		switch {
		case r >= '0' && r <= '9', r == '+', r == '-', r == ' ', r == '(', r == ')':
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if len(cleaned) > 20 {
		cleaned = cleaned[:20]
	}
	return cleaned
}
