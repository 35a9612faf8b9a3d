package session

import (
	"sync"
	"time"
)

// Context holds the transaction identifier returned by an OTP
// initiation call together with the auth type and creation time.
type Context struct {
	TransactionID string
	AuthType      string
	Timestamp     time.Time
}

// Store is an ephemeral holder for a single session context. Reads
// lazily expire the stored value once the timeout has elapsed.
type Store struct {
	mu      sync.Mutex
	current *Context
	timeout time.Duration

	now func() time.Time
}

// NewStore creates a Store whose contexts expire timeout after Set.
func NewStore(timeout time.Duration) *Store {
	return &Store{
		timeout: timeout,
		now:     time.Now,
	}
}

// Set stores a new session context, stamping the current time. Any
// previous context is silently overwritten.
func (s *Store) Set(transactionID, authType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = &Context{
		TransactionID: transactionID,
		AuthType:      authType,
		Timestamp:     s.now(),
	}
}

// Get returns the stored context, or nil when nothing is stored or the
// timeout has elapsed. An expired context is cleared on read.
func (s *Store) Get() *Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	if s.now().Sub(s.current.Timestamp) >= s.timeout {
		s.current = nil
		return nil
	}
	copied := *s.current
	return &copied
}

// Clear removes any stored context.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
}

// IsValid reports whether an unexpired context is stored.
func (s *Store) IsValid() bool {
	return s.Get() != nil
}

// TransactionID returns the stored transaction id, or "" when no valid
// context exists.
func (s *Store) TransactionID() string {
	if ctx := s.Get(); ctx != nil {
		return ctx.TransactionID
	}
	return ""
}

// AuthType returns the stored auth type, or "" when no valid context
// exists.
func (s *Store) AuthType() string {
	if ctx := s.Get(); ctx != nil {
		return ctx.AuthType
	}
	return ""
}
