package recovery

import (
	"errors"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/recoverykit/account"
	"github.com/lightningnetwork/recoverykit/cloudbackup"
	"github.com/lightningnetwork/recoverykit/cloudstore"
	"github.com/lightningnetwork/recoverykit/csek"
	"github.com/lightningnetwork/recoverykit/trustsvc"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func testProof() *account.HwProofOfPossession {
	return &account.HwProofOfPossession{
		Token:              "hw-proof",
		ExpiresAt:          testNow.Add(time.Hour),
		AppAuthEndorsement: []byte("endorsement"),
	}
}

func testKeyset(t *testing.T) *account.SpendingKeyset {
	return &account.SpendingKeyset{
		ID:      "keyset-1",
		Network: testCfg.Network,
		Server:  newPubKey(t),
	}
}

func mustTransition(t *testing.T, s State, ev Event) *StateTransition {
	t.Helper()

	transition, err := Transition(s, ev)
	require.NoError(t, err)

	return transition
}

// TestCompletionPath walks the completion path and checks the effect of
// every state on it.
func TestCompletionPath(t *testing.T) {
	t.Parallel()

	a := newTestKeys(t).attempt("attempt-1", account.FactorApp, testNow)
	key := csek.Csek("raw-csek")

	tr := mustTransition(t, &WaitingForDelay{Attempt: a}, DelayElapsed{})
	require.IsType(t, &ReadyToComplete{}, tr.NextState)
	require.True(t, tr.Effect.IsNone())

	tr = mustTransition(t, tr.NextState, StartCompletion{Csek: key})
	awaiting, ok := tr.NextState.(*AwaitingHardwareChallengeSignature)
	require.True(t, ok)
	require.Equal(t, AuthRotationChallenge(a), awaiting.Challenge)
	require.True(t, tr.Effect.IsNone())

	tr = mustTransition(t, awaiting, ChallengeSigned{
		Signature:  []byte("sig"),
		SealedCsek: []byte("sealed"),
	})
	require.IsType(t, &RotatingAuthKeys{}, tr.NextState)
	require.Equal(t, fn.Some[Effect](RotateAuthKeysEffect{
		Attempt:     a,
		Challenge:   awaiting.Challenge,
		HwSignature: []byte("sig"),
		SealedCsek:  []byte("sealed"),
	}), tr.Effect)

	tr = mustTransition(t, tr.NextState, AuthKeysRotated{})
	proofState, ok := tr.NextState.(*AwaitingHardwareProofOfPossession)
	require.True(t, ok)
	require.Equal(t, fn.Some(key), proofState.Csek)

	proof := testProof()
	tr = mustTransition(t, proofState, ProofProvided{
		Proof: proof,
		Csek:  fn.None[csek.Csek](),
	})
	require.IsType(t, &RotatingSpendingKeys{}, tr.NextState)
	require.Equal(t, fn.Some[Effect](RotateSpendingKeysEffect{
		Attempt: a,
		Proof:   proof,
	}), tr.Effect)

	keyset := testKeyset(t)
	tr = mustTransition(t, tr.NextState, SpendingKeysRotated{
		Keyset: keyset,
	})
	regen, ok := tr.NextState.(*RegeneratingTrustedContactCertificates)
	require.True(t, ok)
	require.Equal(t, "keyset-1", regen.Keybox.ActiveKeyset.ID)
	require.True(t, keyset.Server.IsEqual(
		regen.Keybox.ActiveKeyset.Server,
	))
	require.Equal(t, proof.AppAuthEndorsement, regen.HwEndorsement)

	contacts := []cloudbackup.EndorsedContact{{RelationshipID: "r-1"}}
	tr = mustTransition(t, regen, CertificatesRegenerated{
		Contacts: contacts,
	})
	backup, ok := tr.NextState.(*CreatingCloudBackup)
	require.True(t, ok)
	require.Equal(t, contacts, backup.Contacts)
	require.Equal(t, fn.Some(key), backup.Csek)

	tr = mustTransition(t, backup, BackupUploaded{})
	sweeping, ok := tr.NextState.(*SweepingFunds)
	require.True(t, ok)
	require.Same(t, regen.Keybox, sweeping.Keybox)

	tr = mustTransition(t, sweeping, FundsSwept{})
	require.IsType(t, &Done{}, tr.NextState)
	require.True(t, tr.NextState.IsTerminal())
	require.Equal(t, fn.Some[Effect](ClearAttemptEffect{
		AccountID: testID,
	}), tr.Effect)
}

// TestCancellationBranch checks which factor needs a hardware proof to
// cancel and the comms verification detour.
func TestCancellationBranch(t *testing.T) {
	t.Parallel()

	keys := newTestKeys(t)

	lostHw := keys.attempt("attempt-1", account.FactorHardware, testNow)
	tr := mustTransition(t, &ReadyToComplete{Attempt: lostHw},
		CancelRequested{})
	cancelling, ok := tr.NextState.(*Cancelling)
	require.True(t, ok)
	require.True(t, cancelling.Proof.IsNone())

	lostApp := keys.attempt("attempt-2", account.FactorApp, testNow)
	tr = mustTransition(t, &WaitingForDelay{Attempt: lostApp},
		CancelRequested{})
	require.IsType(t, &AwaitingCancellationProofOfPossession{},
		tr.NextState)

	tr = mustTransition(t, tr.NextState, ProofProvided{Proof: testProof()})
	cancelling, ok = tr.NextState.(*Cancelling)
	require.True(t, ok)
	require.True(t, cancelling.Proof.IsSome())
	require.False(t, cancelling.Reissued)

	// The first comms request detours, and verification re-sends the
	// cancellation with the same proof.
	tr = mustTransition(t, cancelling, CommsVerificationRequired{})
	require.IsType(t, &VerifyingNotificationComms{}, tr.NextState)
	require.True(t, tr.Effect.IsNone())

	tr = mustTransition(t, tr.NextState, CommsVerified{})
	reissued, ok := tr.NextState.(*Cancelling)
	require.True(t, ok)
	require.True(t, reissued.Reissued)
	require.Equal(t, cancelling.Proof, reissued.Proof)
	require.Equal(t, fn.Some[Effect](CancelRecoveryEffect{
		AccountID: testID,
		Proof:     cancelling.Proof,
	}), tr.Effect)

	// A second request does not loop.
	tr = mustTransition(t, reissued, CommsVerificationRequired{})
	failed, ok := tr.NextState.(*FailedToCancel)
	require.True(t, ok)
	require.ErrorIs(t, failed.Err, ErrCommsStillUnverified)

	tr = mustTransition(t, failed, Retry{})
	require.IsType(t, &WaitingForDelay{}, tr.NextState)

	tr = mustTransition(t, reissued, CancelAccepted{})
	require.IsType(t, &Cancelled{}, tr.NextState)
}

// TestPhaseFailures checks the failed states and their retry targets.
func TestPhaseFailures(t *testing.T) {
	t.Parallel()

	a := newTestKeys(t).attempt("attempt-1", account.FactorApp, testNow)
	netErr := &trustsvc.NetworkError{Op: "rotate", Err: errors.New("down")}

	rotating := &RotatingAuthKeys{Attempt: a}
	tr := mustTransition(t, rotating, PhaseFailed{Err: netErr})
	failed, ok := tr.NextState.(*CompletionFailed)
	require.True(t, ok)
	require.Equal(t, "RotatingAuthKeys", failed.Phase)
	require.Same(t, rotating, failed.Retry)
	require.True(t, failed.Rectification.IsNone())

	tr = mustTransition(t, failed, Retry{})
	require.Same(t, rotating, tr.NextState)
	require.True(t, tr.Effect.IsSome())

	// An expired proof sends the retry back for a fresh proof.
	spending := &RotatingSpendingKeys{Attempt: a, Proof: testProof()}
	tr = mustTransition(t, spending, PhaseFailed{
		Err: account.ErrHwProofExpired,
	})
	failed, ok = tr.NextState.(*CompletionFailed)
	require.True(t, ok)
	require.IsType(t, &AwaitingHardwareProofOfPossession{}, failed.Retry)

	rectification := cloudstore.Rectification{
		Kind:   cloudstore.RectifyPermission,
		Target: "drive",
	}
	backup := &CreatingCloudBackup{Attempt: a}
	tr = mustTransition(t, backup, PhaseFailed{
		Err: &cloudbackup.RectifiableError{
			Err:           errors.New("denied"),
			Rectification: rectification,
		},
	})
	failed, ok = tr.NextState.(*CompletionFailed)
	require.True(t, ok)
	require.Equal(t, fn.Some(rectification), failed.Rectification)

	tr = mustTransition(t, rotating, RecoveryInactive{})
	require.IsType(t, &NoLongerRecovering{}, tr.NextState)
}

// TestSweepExit checks that an exited sweep resumes with the same keybox.
func TestSweepExit(t *testing.T) {
	t.Parallel()

	a := newTestKeys(t).attempt("attempt-1", account.FactorApp, testNow)
	keybox := a.Keybox("keyset-1", newPubKey(t))

	tr := mustTransition(t, &SweepingFunds{Keybox: keybox}, ExitSweep{})
	exited, ok := tr.NextState.(*ExitedSweep)
	require.True(t, ok)
	require.True(t, tr.Effect.IsNone())

	tr = mustTransition(t, exited, ResumeSweep{})
	sweeping, ok := tr.NextState.(*SweepingFunds)
	require.True(t, ok)
	require.Same(t, keybox, sweeping.Keybox)
	require.Equal(t, fn.Some[Effect](SweepFundsEffect{Keybox: keybox}),
		tr.Effect)
}

// TestInvalidTransitions checks that rejected events name the state and
// event.
func TestInvalidTransitions(t *testing.T) {
	t.Parallel()

	a := newTestKeys(t).attempt("attempt-1", account.FactorApp, testNow)
	keybox := a.Keybox("keyset-1", newPubKey(t))

	cases := []struct {
		state State
		event Event
	}{
		// Cancellation is not offered once completion has begun.
		{&AwaitingHardwareChallengeSignature{Attempt: a},
			CancelRequested{}},
		{&RotatingAuthKeys{Attempt: a}, CancelRequested{}},
		{&RotatingSpendingKeys{Attempt: a}, CancelRequested{}},

		// Phases cannot be skipped.
		{&ReadyToComplete{Attempt: a}, ProofProvided{}},
		{&RotatingAuthKeys{Attempt: a}, SpendingKeysRotated{}},
		{&AwaitingHardwareProofOfPossession{Attempt: a},
			BackupUploaded{}},
		{&CreatingCloudBackup{Attempt: a}, FundsSwept{}},

		{&WaitingForDelay{Attempt: a}, StartCompletion{}},
		{&ExitedSweep{Keybox: keybox}, FundsSwept{}},
		{&Done{Keybox: keybox}, Retry{}},
		{&Cancelled{AccountID: testID}, CancelRequested{}},
		{&NoLongerRecovering{AccountID: testID}, Retry{}},
		{&VerifyingNotificationComms{Attempt: a}, CancelAccepted{}},
	}
	for _, c := range cases {
		_, err := Transition(c.state, c.event)

		var invalidErr *InvalidTransitionError
		require.ErrorAs(t, err, &invalidErr, "%v on %T", c.state,
			c.event)
		require.Equal(t, c.state, invalidErr.State)
	}
}

// phaseRank orders the completion states. Every other state ranks zero.
func phaseRank(s State) int {
	switch s.(type) {
	case *RotatingAuthKeys:
		return 1
	case *AwaitingHardwareProofOfPossession, *RotatingSpendingKeys:
		return 2
	case *RegeneratingTrustedContactCertificates:
		return 3
	case *CreatingCloudBackup:
		return 4
	case *SweepingFunds, *ExitedSweep, *Done:
		return 5
	}

	return 0
}

// TestPhaseOrderProperty feeds random event sequences to the state machine
// and checks that no phase is entered before its predecessor succeeded.
func TestPhaseOrderProperty(t *testing.T) {
	t.Parallel()

	keys := newTestKeys(t)
	keyset := testKeyset(t)
	events := []Event{
		DelayElapsed{}, StartCompletion{Csek: csek.Csek("k")},
		ChallengeSigned{Signature: []byte("s")}, AuthKeysRotated{},
		ProofProvided{Proof: testProof()},
		SpendingKeysRotated{Keyset: keyset}, CertificatesRegenerated{},
		BackupUploaded{}, FundsSwept{}, ExitSweep{}, ResumeSweep{},
		CancelRequested{}, CancelAccepted{},
		CommsVerificationRequired{}, CommsVerified{},
		CancelFailed{Err: errors.New("x")},
		PhaseFailed{Err: errors.New("x")}, RecoveryInactive{}, Retry{},
	}

	rapid.Check(t, func(t *rapid.T) {
		lost := account.Factor(rapid.IntRange(0, 1).Draw(t, "lost"))
		var state State = &WaitingForDelay{
			Attempt: keys.attempt("a", lost, testNow),
		}

		// highest is the furthest phase whose success was observed.
		highest := 0
		seq := rapid.SliceOfN(
			rapid.SampledFrom(events), 1, 40,
		).Draw(t, "events")
		for _, ev := range seq {
			tr, err := Transition(state, ev)
			if err != nil {
				var invalidErr *InvalidTransitionError
				if !errors.As(err, &invalidErr) {
					t.Fatalf("unexpected error: %v", err)
				}
				continue
			}

			rank := phaseRank(tr.NextState)
			if rank > highest+1 {
				t.Fatalf("entered %v from %v after phase %d",
					tr.NextState, state, highest)
			}
			if rank > 0 && rank > highest {
				highest = rank
			}

			if phaseRank(state) > 0 && rank == 0 {
				switch tr.NextState.(type) {
				case *CompletionFailed, *NoLongerRecovering:
				default:
					t.Fatalf("left completion for %v",
						tr.NextState)
				}
			}

			state = tr.NextState
		}
	})
}
