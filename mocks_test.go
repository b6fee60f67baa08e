package maskmail_test

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	maskmail "github.com/maskmail/go-maskmail"
)

// MockIdentityProvider implements maskmail.IdentityProvider
type MockIdentityProvider struct {
	mock.Mock
}

func (m *MockIdentityProvider) SignIn(ctx context.Context, identifier, password string) (maskmail.SessionData, error) {
	args := m.Called(ctx, identifier, password)
	return args.Get(0).(maskmail.SessionData), args.Error(1)
}

func (m *MockIdentityProvider) VerifySecurityCode(ctx context.Context, data maskmail.SessionData, code string) (maskmail.SessionData, error) {
	args := m.Called(ctx, data, code)
	return args.Get(0).(maskmail.SessionData), args.Error(1)
}

func (m *MockIdentityProvider) TrustDevice(ctx context.Context, data maskmail.SessionData) (maskmail.SessionData, error) {
	args := m.Called(ctx, data)
	return args.Get(0).(maskmail.SessionData), args.Error(1)
}

func (m *MockIdentityProvider) AccountLogin(ctx context.Context, data maskmail.SessionData) (maskmail.SessionData, error) {
	args := m.Called(ctx, data)
	return args.Get(0).(maskmail.SessionData), args.Error(1)
}

func (m *MockIdentityProvider) ValidateToken(ctx context.Context, data maskmail.SessionData) error {
	args := m.Called(ctx, data)
	return args.Error(0)
}

func (m *MockIdentityProvider) SignOut(ctx context.Context, data maskmail.SessionData) error {
	args := m.Called(ctx, data)
	return args.Error(0)
}

// MockAliasAPI implements maskmail.AliasAPI
type MockAliasAPI struct {
	mock.Mock
}

func (m *MockAliasAPI) ListAliases(ctx context.Context, data maskmail.SessionData) ([]maskmail.Alias, error) {
	args := m.Called(ctx, data)
	aliases, _ := args.Get(0).([]maskmail.Alias)
	return aliases, args.Error(1)
}

func (m *MockAliasAPI) GenerateAlias(ctx context.Context, data maskmail.SessionData) (maskmail.Alias, error) {
	args := m.Called(ctx, data)
	return args.Get(0).(maskmail.Alias), args.Error(1)
}

func (m *MockAliasAPI) ReserveAlias(ctx context.Context, data maskmail.SessionData, req maskmail.ReserveAliasRequest) (maskmail.Alias, error) {
	args := m.Called(ctx, data, req)
	return args.Get(0).(maskmail.Alias), args.Error(1)
}

func (m *MockAliasAPI) DeactivateAlias(ctx context.Context, data maskmail.SessionData, id string) error {
	args := m.Called(ctx, data, id)
	return args.Error(0)
}

func (m *MockAliasAPI) ReactivateAlias(ctx context.Context, data maskmail.SessionData, id string) error {
	args := m.Called(ctx, data, id)
	return args.Error(0)
}

func (m *MockAliasAPI) DeleteAlias(ctx context.Context, data maskmail.SessionData, id string) error {
	args := m.Called(ctx, data, id)
	return args.Error(0)
}

// recordingSink collects activity events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []maskmail.ActivityEvent
}

func (s *recordingSink) Record(ctx context.Context, event maskmail.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Events() []maskmail.ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]maskmail.ActivityEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *recordingSink) Types() []maskmail.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]maskmail.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		types = append(types, e.EventType)
	}
	return types
}

func signedInData() maskmail.SessionData {
	return maskmail.SessionData{
		SessionToken: "tok-1",
		SessionID:    "sid-1",
		SCNT:         "1",
		AccountEmail: "user@example.com",
	}
}

func authenticatedData() maskmail.SessionData {
	return maskmail.SessionData{
		SessionToken: "tok-2",
		SessionID:    "sid-1",
		SCNT:         "2",
		TrustToken:   "trust-1",
		AccountID:    "acct-1",
		AccountEmail: "user@example.com",
	}
}
