package maskmail

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

// SignInMessage carries the credentials of a sign-in request from a surface
// to the privileged component that actually talks to the provider.
// Credentials are forwarded verbatim and never persisted.
type SignInMessage struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

func (m SignInMessage) Type() string { return "auth.signin" }

// Validate will run validation rules
func (m SignInMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(
			&m.Identifier,
			validation.Required,
			is.Email,
		),
		validation.Field(
			&m.Password,
			validation.Required,
		),
	)
}

// SignInHandler is the privileged side of the sign-in exchange: it forwards
// credentials to the provider and, on success, persists the continuation
// session so every surface can pick it up through its refresh point.
type SignInHandler struct {
	provider IdentityProvider
	store    Store
	logger   Logger
	sink     ActivitySink
}

// NewSignInHandler wires the handler to the provider and the shared store.
func NewSignInHandler(provider IdentityProvider, store Store) *SignInHandler {
	return &SignInHandler{
		provider: provider,
		store:    store,
		logger:   defLogger{},
		sink:     noopActivitySink{},
	}
}

func (h *SignInHandler) WithLogger(logger Logger) *SignInHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithActivitySink configures an ActivitySink for emitting sign-in events.
func (h *SignInHandler) WithActivitySink(sink ActivitySink) *SignInHandler {
	h.sink = normalizeActivitySink(sink)
	return h
}

// Execute performs the provider exchange. The session payload is written
// before any caller observes success, so the surface's follow-up refresh
// always finds it.
func (h *SignInHandler) Execute(ctx context.Context, msg SignInMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during sign-in",
		)
	default:
		return h.execute(ctx, msg)
	}
}

func (h *SignInHandler) execute(ctx context.Context, msg SignInMessage) error {
	if err := msg.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid sign-in payload")
	}

	data, err := h.provider.SignIn(ctx, msg.Identifier, msg.Password)
	if err != nil {
		h.logger.Info("sign-in exchange failed: %v", err)
		h.record(ctx, ActivityEventSignInFailure, map[string]any{
			"identifier": msg.Identifier,
			"error":      err.Error(),
		})
		return err
	}

	data.AccountEmail = msg.Identifier

	if _, err := h.store.SetSession(ctx, data); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist sign-in session")
	}

	if _, err := h.store.SetPhase(ctx, PhaseSignedIn); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist sign-in phase")
	}

	h.record(ctx, ActivityEventSignInSuccess, map[string]any{
		"identifier": msg.Identifier,
	})

	return nil
}

func (h *SignInHandler) record(ctx context.Context, eventType ActivityEventType, metadata map[string]any) {
	sink := normalizeActivitySink(h.sink)
	if err := sink.Record(ctx, ActivityEvent{
		EventType: eventType,
		Metadata:  metadata,
	}); err != nil {
		h.logger.Warn("activity sink record error: %v", err)
	}
}

// LocalSignInDispatcher fulfills SignInDispatcher in process for embedders
// that do not split the sign-in exchange into a privileged context.
type LocalSignInDispatcher struct {
	handler *SignInHandler
}

// NewLocalSignInDispatcher wraps a handler as a dispatcher.
func NewLocalSignInDispatcher(handler *SignInHandler) *LocalSignInDispatcher {
	return &LocalSignInDispatcher{handler: handler}
}

// DispatchSignIn implements SignInDispatcher.
func (d *LocalSignInDispatcher) DispatchSignIn(ctx context.Context, msg SignInMessage) error {
	return d.handler.Execute(ctx, msg)
}
