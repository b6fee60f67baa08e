package maskmail_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	maskmail "github.com/maskmail/go-maskmail"
	"github.com/maskmail/go-maskmail/store/memory"
)

// newTestClient wires a client the way production embedders do: the session's
// change handler writes through to the store.
func newTestClient(provider maskmail.IdentityProvider, store maskmail.Store, initial maskmail.SessionData) *maskmail.Client {
	session := maskmail.NewSession(initial,
		maskmail.WithSessionChangeHandler(func(data maskmail.SessionData) error {
			_, err := store.SetSession(context.Background(), data)
			return err
		}),
	)
	return maskmail.NewClient(provider, session, store)
}

func TestVerify2FACodeRejectsShortCodeWithoutNetworkCall(t *testing.T) {
	provider := &MockIdentityProvider{}
	client := newTestClient(provider, memory.New(), signedInData())

	for _, code := range []string{"", "123", "12345", "1234567", "12a456"} {
		_, err := client.Verify2FACode(context.Background(), code)
		require.Error(t, err, "code %q", code)
		assert.True(t, maskmail.IsVerificationRejected(err), "code %q", code)
	}

	provider.AssertNotCalled(t, "VerifySecurityCode", mock.Anything, mock.Anything, mock.Anything)
}

func TestVerify2FACodeLengthMessage(t *testing.T) {
	assert.Equal(t, "Please fill in all of the 6 digits of the code.", maskmail.Msg2FACodeLength)

	err := maskmail.VerifyCodePayload{Code: "123"}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), maskmail.Msg2FACodeLength)
}

func TestVerify2FACodeMergesProviderRotation(t *testing.T) {
	provider := &MockIdentityProvider{}
	client := newTestClient(provider, memory.New(), signedInData())

	provider.On("VerifySecurityCode", mock.Anything, signedInData(), "123456").
		Return(maskmail.SessionData{SessionToken: "tok-2", SCNT: "2"}, nil).Once()

	updated, err := client.Verify2FACode(context.Background(), "123456")
	require.NoError(t, err)
	assert.Equal(t, "tok-2", updated.SessionToken)
	assert.Equal(t, "2", updated.SCNT)
	assert.Equal(t, signedInData().SessionID, updated.SessionID)
	provider.AssertExpectations(t)
}

func TestCompleteVerificationCommitsOnce(t *testing.T) {
	provider := &MockIdentityProvider{}
	store := memory.New()
	sink := &recordingSink{}
	client := newTestClient(provider, store, signedInData()).WithActivitySink(sink)

	provider.On("VerifySecurityCode", mock.Anything, mock.Anything, "123456").
		Return(maskmail.SessionData{SessionToken: "tok-2", SCNT: "2"}, nil).Once()
	provider.On("TrustDevice", mock.Anything, mock.Anything).
		Return(maskmail.SessionData{TrustToken: "trust-1"}, nil).Once()
	provider.On("AccountLogin", mock.Anything, mock.Anything).
		Return(maskmail.SessionData{AccountID: "acct-1"}, nil).Once()

	require.NoError(t, client.CompleteVerification(context.Background(), "123456"))

	assert.True(t, client.Authenticated())
	assert.True(t, client.Session().Data().Equal(authenticatedData()))

	// Exactly one persisted write: the staged payload committed at the end.
	persisted, rev, err := store.Session(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rev)
	assert.True(t, persisted.Equal(authenticatedData()))

	assert.Contains(t, sink.Types(), maskmail.ActivityEventVerificationSuccess)
	provider.AssertExpectations(t)
}

func TestCompleteVerificationTrustFailurePersistsNothing(t *testing.T) {
	provider := &MockIdentityProvider{}
	store := memory.New()
	client := newTestClient(provider, store, signedInData())

	provider.On("VerifySecurityCode", mock.Anything, mock.Anything, "123456").
		Return(maskmail.SessionData{SessionToken: "tok-2"}, nil).Once()
	provider.On("TrustDevice", mock.Anything, mock.Anything).
		Return(maskmail.SessionData{}, errors.New("trust endpoint said no")).Once()

	err := client.CompleteVerification(context.Background(), "123456")
	require.Error(t, err)
	assert.True(t, maskmail.IsVerificationRejected(err))

	// No partial state: neither memory nor storage moved.
	assert.True(t, client.Session().Data().Equal(signedInData()))
	_, rev, storeErr := store.Session(context.Background())
	require.NoError(t, storeErr)
	assert.Equal(t, uint64(0), rev)

	provider.AssertNotCalled(t, "AccountLogin", mock.Anything, mock.Anything)
	provider.AssertExpectations(t)
}

func TestCompleteVerificationTransientFailureStaysTransient(t *testing.T) {
	provider := &MockIdentityProvider{}
	client := newTestClient(provider, memory.New(), signedInData())

	provider.On("VerifySecurityCode", mock.Anything, mock.Anything, "123456").
		Return(maskmail.SessionData{SessionToken: "tok-2"}, nil).Once()
	provider.On("TrustDevice", mock.Anything, mock.Anything).
		Return(maskmail.SessionData{TrustToken: "trust-1"}, nil).Once()
	provider.On("AccountLogin", mock.Anything, mock.Anything).
		Return(maskmail.SessionData{}, maskmail.ErrTransientNetwork).Once()

	err := client.CompleteVerification(context.Background(), "123456")
	require.Error(t, err)
	assert.True(t, maskmail.IsTransient(err))
	assert.False(t, maskmail.IsVerificationRejected(err))
	assert.True(t, client.Session().Data().Equal(signedInData()))
}

func TestValidateTokenRequiresPresentSession(t *testing.T) {
	provider := &MockIdentityProvider{}
	client := newTestClient(provider, memory.New(), maskmail.SessionData{})

	err := client.ValidateToken(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, maskmail.ErrSessionNotPresent)
	provider.AssertNotCalled(t, "ValidateToken", mock.Anything, mock.Anything)
}

func TestValidateTokenReportsProviderRejection(t *testing.T) {
	provider := &MockIdentityProvider{}
	client := newTestClient(provider, memory.New(), authenticatedData())

	provider.On("ValidateToken", mock.Anything, authenticatedData()).
		Return(maskmail.ErrSessionInvalid).Once()

	err := client.ValidateToken(context.Background())
	require.Error(t, err)
	assert.True(t, maskmail.IsSessionInvalid(err))

	// The probe never mutates the payload; escalation is the caller's job.
	assert.True(t, client.Session().Data().Equal(authenticatedData()))
	provider.AssertExpectations(t)
}

func TestLogOutClearsLocallyWhenRemoteFails(t *testing.T) {
	provider := &MockIdentityProvider{}
	store := memory.New()
	client := newTestClient(provider, store, authenticatedData())

	provider.On("SignOut", mock.Anything, authenticatedData()).
		Return(errors.New("provider unreachable")).Once()

	require.NoError(t, client.LogOut(context.Background()))
	assert.True(t, client.Session().Data().IsZero())

	persisted, _, err := store.Session(context.Background())
	require.NoError(t, err)
	assert.True(t, persisted.IsZero())
	provider.AssertExpectations(t)
}

func TestLogOutTwiceSkipsSecondRemoteCall(t *testing.T) {
	provider := &MockIdentityProvider{}
	client := newTestClient(provider, memory.New(), authenticatedData())

	provider.On("SignOut", mock.Anything, authenticatedData()).Return(nil).Once()

	require.NoError(t, client.LogOut(context.Background()))
	require.NoError(t, client.LogOut(context.Background()))

	assert.True(t, client.Session().Data().IsZero())
	provider.AssertNumberOfCalls(t, "SignOut", 1)
}

func TestDoFailsFastWhenUnauthenticated(t *testing.T) {
	provider := &MockIdentityProvider{}
	client := newTestClient(provider, memory.New(), signedInData())

	called := false
	err := client.Do(context.Background(), func(context.Context, maskmail.SessionData) error {
		called = true
		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, maskmail.ErrNotAuthenticated)
	assert.False(t, called)
}

func TestDoPassesAuthenticatedPayload(t *testing.T) {
	provider := &MockIdentityProvider{}
	client := newTestClient(provider, memory.New(), authenticatedData())

	var seen maskmail.SessionData
	err := client.Do(context.Background(), func(_ context.Context, data maskmail.SessionData) error {
		seen = data
		return nil
	})

	require.NoError(t, err)
	assert.True(t, seen.Equal(authenticatedData()))
}

func TestRefreshSessionRebindsPersistedPayload(t *testing.T) {
	provider := &MockIdentityProvider{}
	store := memory.New()
	client := newTestClient(provider, store, maskmail.SessionData{})

	// Another execution context persisted a fresh payload.
	_, err := store.SetSession(context.Background(), signedInData())
	require.NoError(t, err)

	require.NoError(t, client.RefreshSession(context.Background()))
	assert.True(t, client.Session().Data().Equal(signedInData()))
}
