package analytics

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funnel-service/internal/config"
)

type capturePublisher struct {
	mu       sync.Mutex
	messages [][]byte
	topics   []string
	err      error
	done     chan struct{}
}

func newCapturePublisher() *capturePublisher {
	return &capturePublisher{done: make(chan struct{}, 10)}
}

func (p *capturePublisher) ProduceMessage(_ context.Context, topic string, _, value []byte, _ map[string]string) error {
	p.mu.Lock()
	p.messages = append(p.messages, value)
	p.topics = append(p.topics, topic)
	p.mu.Unlock()
	p.done <- struct{}{}
	return p.err
}

func (p *capturePublisher) wait(t *testing.T) []byte {
	t.Helper()
	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for publish")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.messages)
	return p.messages[len(p.messages)-1]
}

func testAnalyticsConfig() config.AnalyticsConfig {
	return config.AnalyticsConfig{AdvisorID: 15721, PhonePrefix: "+91"}
}

func TestForwardLoginPublishesEvent(t *testing.T) {
	pub := newCapturePublisher()
	f := NewForwarder(pub, "funnel-events", testAnalyticsConfig())

	f.ForwardLogin(UserData{
		LeadProfileID: "lead-42",
		Email:         "priya@example.com",
		FullName:      "Priya Kumari Sharma",
		MobileNo:      "9876543210",
		Gender:        "Female",
		PinCode:       "110001",
		City:          "Delhi",
	})

	var event map[string]interface{}
	require.NoError(t, json.Unmarshal(pub.wait(t), &event))

	assert.Equal(t, "user_login", event["event"])
	assert.Equal(t, "lead-42", event["user_id"])
	assert.Equal(t, "Priya", event["first_name"])
	assert.Equal(t, "Sharma", event["last_name"])
	assert.Equal(t, "+919876543210", event["phone"])
	assert.Equal(t, "priya@example.com", event["email"])
	assert.Equal(t, "female", event["gender"])
	assert.Equal(t, float64(15721), event["advisor_id"])
	assert.Equal(t, true, event["whatsapp_opt_in"])
	assert.Equal(t, "funnel-events", pub.topics[0])
}

func TestForwardLoginDropsInvalidEmail(t *testing.T) {
	pub := newCapturePublisher()
	f := NewForwarder(pub, "funnel-events", testAnalyticsConfig())

	f.ForwardLogin(UserData{LeadProfileID: "lead-1", Email: "not-an-email"})

	var event map[string]interface{}
	require.NoError(t, json.Unmarshal(pub.wait(t), &event))
	_, hasEmail := event["email"]
	assert.False(t, hasEmail)
}

func TestForwardLoginNilPublisher(t *testing.T) {
	f := NewForwarder(nil, "funnel-events", testAnalyticsConfig())
	assert.NotPanics(t, func() {
		f.ForwardLogin(UserData{LeadProfileID: "lead-1"})
	})
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "scriptalert(1)/script", sanitizeString("<script>alert(1)</script>"))
	assert.Equal(t, "http://x", sanitizeString("javascript:http://x"))
	assert.Len(t, sanitizeString(strings.Repeat("a", 300)), 255)
}

func TestSanitizePhone(t *testing.T) {
	assert.Equal(t, "+91 98765-43210", sanitizePhone("+91 98765-43210"))
	assert.Equal(t, "9876543210", sanitizePhone("98a76b54c32d10"))
}
