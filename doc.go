// Package maskmail manages the authenticated lifecycle of a masked-email
// client against a third-party identity provider: sign-in, second factor,
// device trust, a renewable persisted session, and verification-gated alias
// management.
//
// Phase machine:
//   - Phase is the coarse authentication state (signed out, signed in,
//     verified, verified+managing). Transition is a pure table lookup; the
//     Controller applies actions, persists the result, and keeps the phase
//     consistent with the session payload across restarts and concurrent
//     surfaces.
//   - The persisted Phase is optimistic. Controller.Activate always
//     revalidates a present session against the provider and forces the
//     phase back to signed out when the probe fails, so a stale persisted
//     phase never survives a revalidation pass.
//
// Session payload:
//   - SessionData is the opaque provider token bag (session token, session
//     id, scnt counter, trust token, account markers). It is persisted
//     through a Store with two independent keys (phase, session), change
//     notification, and last-writer-wins revision fencing. Another execution
//     context may complete a sign-in and write fresh payload at any time;
//     Client.RefreshSession and Controller.Watch are the reconciliation
//     points.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by Client,
//     SignInHandler, and Controller to describe sign-in, verification,
//     sign-out, and phase change events. Sinks run best-effort (errors are
//     logged) so you can forward to a database or queue without blocking
//     authentication.
package maskmail
