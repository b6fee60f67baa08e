package maskmail_test

import (
	"sync"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	maskmail "github.com/maskmail/go-maskmail"
)

var allPhases = []maskmail.Phase{
	maskmail.PhaseSignedOut,
	maskmail.PhaseSignedIn,
	maskmail.PhaseVerified,
	maskmail.PhaseManaging,
}

var allActions = []maskmail.Action{
	maskmail.ActionSignIn,
	maskmail.ActionVerify,
	maskmail.ActionSignOut,
	maskmail.ActionManage,
	maskmail.ActionGenerate,
}

// legalPairs is the complete expected machine. Every phase/action pair not
// listed here must be rejected.
var legalPairs = map[maskmail.Phase]map[maskmail.Action]maskmail.Phase{
	maskmail.PhaseSignedOut: {
		maskmail.ActionSignIn: maskmail.PhaseSignedIn,
	},
	maskmail.PhaseSignedIn: {
		maskmail.ActionVerify:  maskmail.PhaseVerified,
		maskmail.ActionSignOut: maskmail.PhaseSignedOut,
	},
	maskmail.PhaseVerified: {
		maskmail.ActionManage:  maskmail.PhaseManaging,
		maskmail.ActionSignOut: maskmail.PhaseSignedOut,
	},
	maskmail.PhaseManaging: {
		maskmail.ActionGenerate: maskmail.PhaseVerified,
		maskmail.ActionSignOut:  maskmail.PhaseSignedOut,
	},
}

func TestTransitionCoversEveryPhaseActionPair(t *testing.T) {
	for _, phase := range allPhases {
		for _, action := range allActions {
			expected, legal := legalPairs[phase][action]

			next, err := maskmail.Transition(phase, action)
			if legal {
				require.NoError(t, err, "phase %s action %s", phase, action)
				assert.Equal(t, expected, next, "phase %s action %s", phase, action)
				assert.True(t, maskmail.CanApply(phase, action))
			} else {
				require.Error(t, err, "phase %s action %s", phase, action)
				assert.ErrorIs(t, err, maskmail.ErrInvalidTransition)
				assert.Equal(t, phase, next, "failed transition must not move the phase")
				assert.False(t, maskmail.CanApply(phase, action))
			}
		}
	}
}

func TestTransitionIsPure(t *testing.T) {
	first, err1 := maskmail.Transition(maskmail.PhaseSignedIn, maskmail.ActionVerify)
	second, err2 := maskmail.Transition(maskmail.PhaseSignedIn, maskmail.ActionVerify)

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, first, second)
	assert.Equal(t, maskmail.PhaseVerified, first)
}

func TestTransitionErrorsCarryIndependentMetadata(t *testing.T) {
	_, err1 := maskmail.Transition(maskmail.PhaseSignedOut, maskmail.ActionVerify)
	_, err2 := maskmail.Transition(maskmail.PhaseSignedIn, maskmail.ActionGenerate)
	require.Error(t, err1)
	require.Error(t, err2)

	var ge1, ge2 *goerrors.Error
	require.ErrorAs(t, err1, &ge1)
	require.ErrorAs(t, err2, &ge2)

	// Each rejection carries its own metadata and leaves the shared sentinel
	// untouched.
	assert.NotSame(t, ge1, ge2)
	assert.NotSame(t, ge1, maskmail.ErrInvalidTransition)
	assert.Equal(t, maskmail.PhaseSignedOut, ge1.Metadata["phase"])
	assert.Equal(t, maskmail.PhaseSignedIn, ge2.Metadata["phase"])
	assert.Empty(t, maskmail.ErrInvalidTransition.Metadata)
}

func TestTransitionConcurrentIllegalPairs(t *testing.T) {
	illegal := []struct {
		phase  maskmail.Phase
		action maskmail.Action
	}{
		{maskmail.PhaseSignedOut, maskmail.ActionVerify},
		{maskmail.PhaseSignedOut, maskmail.ActionGenerate},
		{maskmail.PhaseSignedIn, maskmail.ActionManage},
		{maskmail.PhaseVerified, maskmail.ActionSignIn},
		{maskmail.PhaseManaging, maskmail.ActionVerify},
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		pair := illegal[i%len(illegal)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				next, err := maskmail.Transition(pair.phase, pair.action)
				assert.ErrorIs(t, err, maskmail.ErrInvalidTransition)
				assert.Equal(t, pair.phase, next)
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, maskmail.ErrInvalidTransition.Metadata)
}

func TestTransitionRejectsUnknownPhase(t *testing.T) {
	next, err := maskmail.Transition(maskmail.Phase("bogus"), maskmail.ActionSignIn)
	require.Error(t, err)
	assert.ErrorIs(t, err, maskmail.ErrInvalidTransition)
	assert.Equal(t, maskmail.Phase("bogus"), next)
}

func TestLegalActionsMatchesTable(t *testing.T) {
	for _, phase := range allPhases {
		actions := maskmail.LegalActions(phase)
		assert.Len(t, actions, len(legalPairs[phase]), "phase %s", phase)
		for _, action := range actions {
			_, ok := legalPairs[phase][action]
			assert.True(t, ok, "phase %s unexpectedly allows %s", phase, action)
		}
	}

	assert.Nil(t, maskmail.LegalActions(maskmail.Phase("bogus")))
}

func TestSignOutReachableFromEveryPhaseExceptSignedOut(t *testing.T) {
	for _, phase := range allPhases {
		canSignOut := maskmail.CanApply(phase, maskmail.ActionSignOut)
		if phase == maskmail.PhaseSignedOut {
			assert.False(t, canSignOut)
			continue
		}

		assert.True(t, canSignOut, "phase %s", phase)
		next, err := maskmail.Transition(phase, maskmail.ActionSignOut)
		require.NoError(t, err)
		assert.Equal(t, maskmail.PhaseSignedOut, next)
	}
}

func TestPhaseValid(t *testing.T) {
	for _, phase := range allPhases {
		assert.True(t, phase.Valid())
	}
	assert.False(t, maskmail.Phase("").Valid())
	assert.False(t, maskmail.Phase("bogus").Valid())
}

func TestPhaseRequiresAuthenticated(t *testing.T) {
	assert.False(t, maskmail.PhaseSignedOut.RequiresAuthenticated())
	assert.False(t, maskmail.PhaseSignedIn.RequiresAuthenticated())
	assert.True(t, maskmail.PhaseVerified.RequiresAuthenticated())
	assert.True(t, maskmail.PhaseManaging.RequiresAuthenticated())
}
