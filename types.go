package maskmail

import (
	"context"
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// IdentityProvider is the surface of the third-party identity service. Every
// method is an opaque passthrough: payload shapes belong to the provider and
// returned SessionData updates are applied verbatim.
type IdentityProvider interface {
	// SignIn exchanges primary credentials for a continuation session.
	// Success means "credentials accepted, second factor pending".
	SignIn(ctx context.Context, identifier, password string) (SessionData, error)

	// VerifySecurityCode submits the six digit second factor code.
	VerifySecurityCode(ctx context.Context, data SessionData, code string) (SessionData, error)

	// TrustDevice marks the device as trusted after second factor success.
	TrustDevice(ctx context.Context, data SessionData) (SessionData, error)

	// AccountLogin finalizes the authenticated session and yields the
	// account markers.
	AccountLogin(ctx context.Context, data SessionData) (SessionData, error)

	// ValidateToken performs the lightweight validity probe. It returns
	// ErrSessionInvalid when the provider rejects the session, and never
	// mutates anything.
	ValidateToken(ctx context.Context, data SessionData) error

	// SignOut invalidates the session server side.
	SignOut(ctx context.Context, data SessionData) error
}

// AliasAPI is the authenticated alias management RPC surface. Callers must
// hold authenticated SessionData; the gate lives in AliasService.
type AliasAPI interface {
	ListAliases(ctx context.Context, data SessionData) ([]Alias, error)
	GenerateAlias(ctx context.Context, data SessionData) (Alias, error)
	ReserveAlias(ctx context.Context, data SessionData, req ReserveAliasRequest) (Alias, error)
	DeactivateAlias(ctx context.Context, data SessionData, id string) error
	ReactivateAlias(ctx context.Context, data SessionData, id string) error
	DeleteAlias(ctx context.Context, data SessionData, id string) error
}

// Config holds client options
type Config interface {
	GetBaseURL() string
	GetClientID() string
	GetRequestTimeout() time.Duration
	GetNamespace() string
	GetDebug() bool
}

// SimpleConfig is a plain struct Config implementation for embedders that do
// not carry their own configuration system.
type SimpleConfig struct {
	BaseURL        string
	ClientID       string
	RequestTimeout time.Duration
	Namespace      string
	Debug          bool
}

func (c SimpleConfig) GetBaseURL() string  { return c.BaseURL }
func (c SimpleConfig) GetClientID() string { return c.ClientID }
func (c SimpleConfig) GetRequestTimeout() time.Duration {
	if c.RequestTimeout <= 0 {
		return 30 * time.Second
	}
	return c.RequestTimeout
}
func (c SimpleConfig) GetNamespace() string { return c.Namespace }
func (c SimpleConfig) GetDebug() bool       { return c.Debug }

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] MASKMAIL "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] MASKMAIL "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] MASKMAIL "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] MASKMAIL "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
