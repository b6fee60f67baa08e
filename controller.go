package maskmail

import (
	"context"
	"fmt"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

// SignInDispatcher sends the credentials to whichever component is allowed to
// talk to the provider's sign-in endpoint. In a browser surface that is a
// privileged background context reached over messaging; in-process embedders
// use LocalSignInDispatcher.
type SignInDispatcher interface {
	DispatchSignIn(ctx context.Context, msg SignInMessage) error
}

// ControllerOption customizes Controller construction.
type ControllerOption func(*Controller)

// WithControllerLogger overrides the logger.
func WithControllerLogger(logger Logger) ControllerOption {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithControllerActivitySink sets the ActivitySink used to publish phase
// lifecycle events.
func WithControllerActivitySink(sink ActivitySink) ControllerOption {
	return func(c *Controller) {
		c.sink = normalizeActivitySink(sink)
	}
}

// WithControllerClock injects a custom clock (useful for tests).
func WithControllerClock(clock func() time.Time) ControllerOption {
	return func(c *Controller) {
		if clock != nil {
			c.now = clock
		}
	}
}

// WithControllerDebug enables debug snapshots of phase changes.
func WithControllerDebug(debug bool) ControllerOption {
	return func(c *Controller) {
		c.debug = debug
	}
}

// WithControllerSignInDispatcher wires the cross-context sign-in path.
func WithControllerSignInDispatcher(d SignInDispatcher) ControllerOption {
	return func(c *Controller) {
		c.signIn = d
	}
}

// WithControllerAliasService wires alias generation into the GENERATE action.
func WithControllerAliasService(svc *AliasService) ControllerOption {
	return func(c *Controller) {
		c.aliases = svc
	}
}

// Controller drives the active phase for one surface. All phase and session
// writes are serialized through it; network round trips run outside the lock
// so a surface stays responsive, and per-action in-flight flags stop a second
// submission while the first is still outstanding.
type Controller struct {
	mu       sync.Mutex
	phase    Phase
	client   *Client
	store    Store
	signIn   SignInDispatcher
	aliases  *AliasService
	logger   Logger
	sink     ActivitySink
	now      func() time.Time
	debug    bool
	inflight map[Action]bool

	// lastSessionRev fences store watch events: events at or below it were
	// either produced by this controller or already reconciled.
	lastSessionRev uint64
	lastPhaseRev   uint64
}

// NewController returns a controller bound to the client and store. The
// initial phase is signed out until Activate reads the persisted value.
func NewController(client *Client, store Store, opts ...ControllerOption) *Controller {
	c := &Controller{
		phase:    PhaseSignedOut,
		client:   client,
		store:    store,
		logger:   defLogger{},
		sink:     noopActivitySink{},
		now:      time.Now,
		inflight: map[Action]bool{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c
}

// Phase returns the phase currently presented to consumers.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// InFlight reports whether an operation for the given action slot is
// outstanding, so surfaces can disable the matching affordance.
func (c *Controller) InFlight(action Action) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight[action]
}

// Activate loads persisted state and reconciles it with server-side reality.
// It always runs the revalidation probe when a session is present: persisted
// phase is optimistic and tokens may have aged out while the surface was
// closed. On probe failure it signs out and forces the phase to signed out,
// overriding whatever the persisted phase claimed.
func (c *Controller) Activate(ctx context.Context) error {
	data, sessionRev, err := c.store.Session(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read persisted session")
	}

	phase, phaseRev, err := c.store.Phase(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read persisted phase")
	}

	c.client.Session().Rebind(data)

	c.mu.Lock()
	c.lastSessionRev = sessionRev
	c.lastPhaseRev = phaseRev
	if !phase.Valid() {
		phase = PhaseSignedOut
	}
	c.phase = phase
	c.mu.Unlock()

	if data.IsZero() {
		// A verified phase without a session payload is an invalid
		// combination that must self-heal rather than persist.
		if phase.RequiresAuthenticated() || phase == PhaseSignedIn {
			return c.forceSignedOut(ctx, "empty session payload")
		}
		return nil
	}

	if err := c.client.ValidateToken(ctx); err != nil {
		c.logger.Info("background revalidation failed, resetting: %v", err)
		c.emitEvent(ctx, ActivityEventSessionInvalidated, data.AccountID, map[string]any{
			"error": err.Error(),
		})
		if err := c.client.LogOut(ctx); err != nil {
			return err
		}
		return c.forceSignedOut(ctx, "revalidation failed")
	}

	// Probe succeeded. If the payload carries authenticated markers but the
	// persisted phase lags behind, advance it: the phase must never stay
	// silently inconsistent with the session across a revalidation pass.
	if data.Authenticated() && !phase.RequiresAuthenticated() {
		return c.setPhase(ctx, PhaseVerified, "revalidation confirmed authenticated session")
	}

	return nil
}

// Dispatch applies an action legal for the current phase and persists the
// resulting phase. The operation that justifies the action (sign-in exchange,
// verification sequence, alias generation) must already have completed;
// Dispatch only owns the transition and its causal ordering with the session
// payload.
func (c *Controller) Dispatch(ctx context.Context, action Action) (Phase, error) {
	if action == ActionSignOut {
		if err := c.SignOut(ctx); err != nil {
			return c.Phase(), err
		}
		return PhaseSignedOut, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applyTransition(ctx, action)
}

// SignIn submits primary credentials through the configured dispatcher, then
// synchronizes with the session and phase the privileged component persisted.
// The handler owns the phase write; the controller adopts it rather than
// issuing a second one.
func (c *Controller) SignIn(ctx context.Context, identifier, password string) error {
	if c.signIn == nil {
		return goerrors.New("no sign-in dispatcher configured", goerrors.CategoryInternal)
	}

	if phase := c.Phase(); !CanApply(phase, ActionSignIn) {
		return metaError(ErrInvalidTransition, map[string]any{
			"phase":  phase,
			"action": ActionSignIn,
		})
	}

	release, err := c.acquire(ActionSignIn)
	if err != nil {
		return err
	}
	defer release()

	msg := SignInMessage{Identifier: identifier, Password: password}
	if err := c.signIn.DispatchSignIn(ctx, msg); err != nil {
		return err
	}

	// The sign-in exchange ran in another execution context; re-read what it
	// persisted before presenting the new phase.
	if err := c.client.RefreshSession(ctx); err != nil {
		return err
	}

	return c.adoptPersistedPhase(ctx, ActionSignIn)
}

// adoptPersistedPhase reads the phase another component persisted and presents
// it locally, fenced on the revision so a write already reconciled through the
// watch path is not applied or announced twice.
func (c *Controller) adoptPersistedPhase(ctx context.Context, action Action) error {
	phase, rev, err := c.store.Phase(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read persisted phase")
	}

	c.mu.Lock()
	from := c.phase
	if rev <= c.lastPhaseRev || !phase.Valid() || phase == from {
		c.mu.Unlock()
		return nil
	}
	c.phase = phase
	c.lastPhaseRev = rev
	c.mu.Unlock()

	c.logger.Debug("adopted persisted phase %s -> %s", from, phase)
	c.emitPhaseEvent(ctx, from, phase, map[string]any{
		"action": action,
	})

	return nil
}

// SubmitVerification runs the second factor sequence and, only on success,
// advances the phase to verified. The session payload is durable before the
// phase write: a verified phase is never observable without the
// authenticated payload behind it.
func (c *Controller) SubmitVerification(ctx context.Context, code string) error {
	release, err := c.acquire(ActionVerify)
	if err != nil {
		return err
	}
	defer release()

	if err := c.client.CompleteVerification(ctx, code); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.applyTransition(ctx, ActionVerify); err != nil {
		return err
	}
	return nil
}

// Manage opens the alias management sub-view.
func (c *Controller) Manage(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.applyTransition(ctx, ActionManage)
	return err
}

// GenerateAlias requests a fresh alias while managing and returns to the
// verified phase, mirroring the management view closing on success.
func (c *Controller) GenerateAlias(ctx context.Context) (Alias, error) {
	if c.aliases == nil {
		return Alias{}, goerrors.New("no alias service configured", goerrors.CategoryInternal)
	}

	release, err := c.acquire(ActionGenerate)
	if err != nil {
		return Alias{}, err
	}
	defer release()

	alias, err := c.aliases.Generate(ctx)
	if err != nil {
		return Alias{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.applyTransition(ctx, ActionGenerate); err != nil {
		return Alias{}, err
	}
	return alias, nil
}

// SignOut is reachable from every phase except signed out and always resets
// the session payload and the phase together, never one without the other.
// Remote invalidation is best-effort inside Client.LogOut.
func (c *Controller) SignOut(ctx context.Context) error {
	release, err := c.acquire(ActionSignOut)
	if err != nil {
		return err
	}
	defer release()

	if err := c.client.LogOut(ctx); err != nil {
		return err
	}

	return c.forceSignedOut(ctx, "user sign-out")
}

// Watch consumes store change events until ctx is done, reconciling writes
// made by other surfaces: a fresh session payload resets revalidation state
// and is rebound, stale events (revision at or below the last seen one) are
// dropped. Callers usually run it in a goroutine right after Activate.
func (c *Controller) Watch(ctx context.Context) error {
	events, stop, err := c.store.Watch(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to watch store")
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			c.handleStoreEvent(ctx, event)
		}
	}
}

func (c *Controller) handleStoreEvent(ctx context.Context, event StoreEvent) {
	c.mu.Lock()

	switch event.Key {
	case StoreKeySession:
		if event.Revision <= c.lastSessionRev {
			c.mu.Unlock()
			return
		}
		c.lastSessionRev = event.Revision
		c.mu.Unlock()

		c.client.Session().Rebind(event.Session)
		c.logger.Debug("session payload updated externally, rebinding at revision %d", event.Revision)

	case StoreKeyPhase:
		if event.Revision <= c.lastPhaseRev {
			c.mu.Unlock()
			return
		}
		c.lastPhaseRev = event.Revision
		if event.Phase.Valid() {
			c.phase = event.Phase
		}
		c.mu.Unlock()

	default:
		c.mu.Unlock()
	}
}

// applyTransition computes and persists the next phase. Callers hold c.mu.
func (c *Controller) applyTransition(ctx context.Context, action Action) (Phase, error) {
	next, err := Transition(c.phase, action)
	if err != nil {
		return c.phase, err
	}

	// Causal ordering guard: never let a verified phase become observable
	// without the authenticated payload already durable.
	if next.RequiresAuthenticated() && !c.client.Authenticated() {
		return c.phase, metaError(ErrNotAuthenticated, map[string]any{
			"action": action,
			"reason": "phase advance requires authenticated session payload",
		})
	}

	rev, err := c.store.SetPhase(ctx, next)
	if err != nil {
		return c.phase, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist phase")
	}

	from := c.phase
	c.phase = next
	c.lastPhaseRev = rev

	if c.debug {
		fmt.Println("======= PHASE TRANSITION ======")
		fmt.Println(print.MaybePrettyJSON(map[string]any{
			"from":   from,
			"to":     next,
			"action": action,
		}))
		fmt.Println("===============================")
	}

	c.emitPhaseEvent(ctx, from, next, map[string]any{
		"action": action,
	})

	return next, nil
}

// forceSignedOut persists the signed-out phase regardless of the transition
// table; it is the reconciliation escape hatch for invalid persisted
// combinations and failed revalidation.
func (c *Controller) forceSignedOut(ctx context.Context, reason string) error {
	rev, err := c.store.SetPhase(ctx, PhaseSignedOut)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist phase reset")
	}

	c.mu.Lock()
	from := c.phase
	c.phase = PhaseSignedOut
	c.lastPhaseRev = rev
	c.mu.Unlock()

	if from != PhaseSignedOut {
		c.logger.Info("phase forced to signed out from %s: %s", from, reason)
	}

	c.emitPhaseEvent(ctx, from, PhaseSignedOut, map[string]any{
		"reason": reason,
	})

	return nil
}

// setPhase persists a phase chosen outside the transition table (used by the
// revalidation pass when advancing a lagging phase).
func (c *Controller) setPhase(ctx context.Context, phase Phase, reason string) error {
	rev, err := c.store.SetPhase(ctx, phase)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist phase")
	}

	c.mu.Lock()
	from := c.phase
	c.phase = phase
	c.lastPhaseRev = rev
	c.mu.Unlock()

	c.logger.Debug("phase updated %s -> %s: %s", from, phase, reason)
	c.emitPhaseEvent(ctx, from, phase, map[string]any{
		"reason": reason,
	})

	return nil
}

func (c *Controller) acquire(action Action) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inflight[action] {
		return nil, metaError(ErrActionInFlight, map[string]any{
			"action": action,
		})
	}

	c.inflight[action] = true
	return func() {
		c.mu.Lock()
		delete(c.inflight, action)
		c.mu.Unlock()
	}, nil
}

func (c *Controller) emitPhaseEvent(ctx context.Context, from, to Phase, metadata map[string]any) {
	sink := normalizeActivitySink(c.sink)
	event := ActivityEvent{
		EventType:  ActivityEventPhaseChanged,
		AccountID:  c.client.Session().Data().AccountID,
		FromPhase:  from,
		ToPhase:    to,
		Metadata:   metadata,
		OccurredAt: c.now(),
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if err := sink.Record(ctx, event); err != nil {
		c.logger.Warn("activity sink record error: %v", err)
	}
}

func (c *Controller) emitEvent(ctx context.Context, eventType ActivityEventType, accountID string, metadata map[string]any) {
	sink := normalizeActivitySink(c.sink)
	event := ActivityEvent{
		EventType: eventType,
		AccountID: accountID,
		Metadata:  metadata,
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = c.now()
	}

	if err := sink.Record(ctx, event); err != nil {
		c.logger.Warn("activity sink record error: %v", err)
	}
}
