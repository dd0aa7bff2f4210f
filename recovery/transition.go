package recovery

import (
	"errors"
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/recoverykit/account"
	"github.com/lightningnetwork/recoverykit/cloudbackup"
	"github.com/lightningnetwork/recoverykit/cloudstore"
)

// ErrCommsStillUnverified is the failure of a cancellation that still asks
// for comms verification after it was re-sent.
var ErrCommsStillUnverified = errors.New("notification comms still " +
	"unverified after re-sending cancellation")

// InvalidTransitionError is returned for an event the current state does
// not accept.
type InvalidTransitionError struct {
	State State
	Event Event
}

// Error returns the error message.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid event %T in state %v", e.Event, e.State)
}

// StateTransition is the result of applying an event.
type StateTransition struct {
	NextState State

	// Effect is the work to run on entering NextState.
	Effect fn.Option[Effect]
}

// Transition applies ev to s. It has no side effects.
func Transition(s State, ev Event) (*StateTransition, error) {
	next, err := s.processEvent(ev)
	if err != nil {
		return nil, err
	}

	return &StateTransition{
		NextState: next,
		Effect:    EntryEffect(next),
	}, nil
}

// EntryEffect returns the work that runs whenever s is entered, either
// through a transition or on resume.
func EntryEffect(s State) fn.Option[Effect] {
	var effect Effect
	switch s := s.(type) {
	case *WaitingForDelay:
		effect = AwaitDelayEffect{DelayEnd: s.Attempt.DelayEnd}

	case *RotatingAuthKeys:
		effect = RotateAuthKeysEffect{
			Attempt:     s.Attempt,
			Challenge:   s.Challenge,
			HwSignature: s.HwSignature,
			SealedCsek:  s.SealedCsek,
		}

	case *RotatingSpendingKeys:
		effect = RotateSpendingKeysEffect{
			Attempt: s.Attempt,
			Proof:   s.Proof,
		}

	case *RegeneratingTrustedContactCertificates:
		effect = RegenerateCertificatesEffect{
			Attempt:       s.Attempt,
			HwEndorsement: s.HwEndorsement,
		}

	case *CreatingCloudBackup:
		effect = CreateBackupEffect{
			Attempt:  s.Attempt,
			Keybox:   s.Keybox,
			Contacts: s.Contacts,
			Csek:     s.Csek,
		}

	case *SweepingFunds:
		effect = SweepFundsEffect{Keybox: s.Keybox}

	case *Cancelling:
		effect = CancelRecoveryEffect{
			AccountID: s.Attempt.AccountID,
			Proof:     s.Proof,
		}

	case *Done:
		effect = ClearAttemptEffect{AccountID: s.Keybox.AccountID}

	case *Cancelled:
		effect = ClearAttemptEffect{AccountID: s.AccountID}

	case *NoLongerRecovering:
		effect = ClearAttemptEffect{AccountID: s.AccountID}

	default:
		return fn.None[Effect]()
	}

	return fn.Some(effect)
}

// quiescent reports whether s waits for the user rather than for an effect.
func quiescent(s State) bool {
	switch s.(type) {
	case *WaitingForDelay:
		return false
	}

	return EntryEffect(s).IsNone()
}

func invalid(s State, ev Event) (State, error) {
	return nil, &InvalidTransitionError{State: s, Event: ev}
}

// beginCancel is the cancellation branch shared by the pre-completion
// states. Recovering a lost app means the hardware is at hand and must
// authorise the cancellation.
func beginCancel(a *Attempt) State {
	if a.LostFactor == account.FactorApp {
		return &AwaitingCancellationProofOfPossession{Attempt: a}
	}

	return &Cancelling{
		Attempt: a,
		Proof:   fn.None[account.HwProofOfPossession](),
	}
}

// phaseFailed builds the failure state of phase s, restarting at retry.
func phaseFailed(s State, err error, retry State) State {
	failed := &CompletionFailed{
		Phase:         s.String(),
		Err:           err,
		Retry:         retry,
		Rectification: fn.None[cloudstore.Rectification](),
	}

	var rectifiable *cloudbackup.RectifiableError
	if errors.As(err, &rectifiable) {
		failed.Rectification = fn.Some(rectifiable.Rectification)
	}

	return failed
}

func (s *WaitingForDelay) processEvent(ev Event) (State, error) {
	switch ev.(type) {
	case DelayElapsed:
		return &ReadyToComplete{Attempt: s.Attempt}, nil

	case CancelRequested:
		return beginCancel(s.Attempt), nil
	}

	return invalid(s, ev)
}

func (s *ReadyToComplete) processEvent(ev Event) (State, error) {
	switch ev := ev.(type) {
	case StartCompletion:
		return &AwaitingHardwareChallengeSignature{
			Attempt:   s.Attempt,
			Challenge: AuthRotationChallenge(s.Attempt),
			Csek:      ev.Csek,
		}, nil

	case CancelRequested:
		return beginCancel(s.Attempt), nil
	}

	return invalid(s, ev)
}

func (s *AwaitingHardwareChallengeSignature) processEvent(
	ev Event) (State, error) {

	switch ev := ev.(type) {
	case ChallengeSigned:
		return &RotatingAuthKeys{
			Attempt:     s.Attempt,
			Challenge:   s.Challenge,
			HwSignature: ev.Signature,
			SealedCsek:  ev.SealedCsek,
			Csek:        fn.Some(s.Csek),
		}, nil
	}

	return invalid(s, ev)
}

func (s *RotatingAuthKeys) processEvent(ev Event) (State, error) {
	switch ev := ev.(type) {
	case AuthKeysRotated:
		return &AwaitingHardwareProofOfPossession{
			Attempt:    s.Attempt,
			SealedCsek: s.SealedCsek,
			Csek:       s.Csek,
		}, nil

	case PhaseFailed:
		return phaseFailed(s, ev.Err, s), nil

	case RecoveryInactive:
		return &NoLongerRecovering{AccountID: s.Attempt.AccountID}, nil
	}

	return invalid(s, ev)
}

func (s *AwaitingHardwareProofOfPossession) processEvent(
	ev Event) (State, error) {

	switch ev := ev.(type) {
	case ProofProvided:
		return &RotatingSpendingKeys{
			Attempt: s.Attempt,
			Proof:   ev.Proof,
			Csek:    s.Csek.Alt(ev.Csek),
		}, nil
	}

	return invalid(s, ev)
}

func (s *RotatingSpendingKeys) processEvent(ev Event) (State, error) {
	switch ev := ev.(type) {
	case SpendingKeysRotated:
		var endorsement []byte
		if s.Proof != nil {
			endorsement = s.Proof.AppAuthEndorsement
		}

		return &RegeneratingTrustedContactCertificates{
			Attempt: s.Attempt,
			Keybox: s.Attempt.Keybox(
				ev.Keyset.ID, ev.Keyset.Server,
			),
			HwEndorsement: endorsement,
			Csek:          s.Csek,
		}, nil

	case PhaseFailed:
		// A stale proof cannot be retried as is, so go back for a
		// fresh one.
		retry := State(s)
		if errors.Is(ev.Err, account.ErrHwProofExpired) ||
			errors.Is(ev.Err, account.ErrHwProofMissing) {

			retry = &AwaitingHardwareProofOfPossession{
				Attempt: s.Attempt,
				Csek:    s.Csek,
			}
		}

		return phaseFailed(s, ev.Err, retry), nil

	case RecoveryInactive:
		return &NoLongerRecovering{AccountID: s.Attempt.AccountID}, nil
	}

	return invalid(s, ev)
}

func (s *RegeneratingTrustedContactCertificates) processEvent(
	ev Event) (State, error) {

	switch ev := ev.(type) {
	case CertificatesRegenerated:
		return &CreatingCloudBackup{
			Attempt:  s.Attempt,
			Keybox:   s.Keybox,
			Contacts: ev.Contacts,
			Csek:     s.Csek,
		}, nil

	case PhaseFailed:
		return phaseFailed(s, ev.Err, s), nil

	case RecoveryInactive:
		return &NoLongerRecovering{AccountID: s.Attempt.AccountID}, nil
	}

	return invalid(s, ev)
}

func (s *CreatingCloudBackup) processEvent(ev Event) (State, error) {
	switch ev := ev.(type) {
	case BackupUploaded:
		return &SweepingFunds{Keybox: s.Keybox}, nil

	case PhaseFailed:
		return phaseFailed(s, ev.Err, s), nil

	case RecoveryInactive:
		return &NoLongerRecovering{AccountID: s.Attempt.AccountID}, nil
	}

	return invalid(s, ev)
}

func (s *SweepingFunds) processEvent(ev Event) (State, error) {
	switch ev := ev.(type) {
	case FundsSwept:
		return &Done{Keybox: s.Keybox}, nil

	case ExitSweep:
		return &ExitedSweep{Keybox: s.Keybox}, nil

	case PhaseFailed:
		return phaseFailed(s, ev.Err, s), nil
	}

	return invalid(s, ev)
}

func (s *ExitedSweep) processEvent(ev Event) (State, error) {
	switch ev.(type) {
	case ResumeSweep:
		return &SweepingFunds{Keybox: s.Keybox}, nil
	}

	return invalid(s, ev)
}

func (s *Done) processEvent(ev Event) (State, error) {
	return invalid(s, ev)
}

func (s *AwaitingCancellationProofOfPossession) processEvent(
	ev Event) (State, error) {

	switch ev := ev.(type) {
	case ProofProvided:
		proof := fn.None[account.HwProofOfPossession]()
		if ev.Proof != nil {
			proof = fn.Some(*ev.Proof)
		}

		return &Cancelling{Attempt: s.Attempt, Proof: proof}, nil
	}

	return invalid(s, ev)
}

func (s *Cancelling) processEvent(ev Event) (State, error) {
	switch ev := ev.(type) {
	case CancelAccepted:
		return &Cancelled{AccountID: s.Attempt.AccountID}, nil

	case CommsVerificationRequired:
		if s.Reissued {
			return &FailedToCancel{
				Attempt: s.Attempt,
				Err:     ErrCommsStillUnverified,
			}, nil
		}

		return &VerifyingNotificationComms{
			Attempt: s.Attempt,
			Proof:   s.Proof,
		}, nil

	case CancelFailed:
		return &FailedToCancel{Attempt: s.Attempt, Err: ev.Err}, nil

	case RecoveryInactive:
		return &NoLongerRecovering{AccountID: s.Attempt.AccountID}, nil
	}

	return invalid(s, ev)
}

func (s *VerifyingNotificationComms) processEvent(ev Event) (State, error) {
	switch ev.(type) {
	case CommsVerified:
		return &Cancelling{
			Attempt:  s.Attempt,
			Proof:    s.Proof,
			Reissued: true,
		}, nil
	}

	return invalid(s, ev)
}

func (s *FailedToCancel) processEvent(ev Event) (State, error) {
	switch ev.(type) {
	// The delay gate passes straight through to ReadyToComplete once the
	// window has closed.
	case Retry:
		return &WaitingForDelay{Attempt: s.Attempt}, nil
	}

	return invalid(s, ev)
}

func (s *Cancelled) processEvent(ev Event) (State, error) {
	return invalid(s, ev)
}

func (s *CompletionFailed) processEvent(ev Event) (State, error) {
	switch ev.(type) {
	case Retry:
		return s.Retry, nil
	}

	return invalid(s, ev)
}

func (s *NoLongerRecovering) processEvent(ev Event) (State, error) {
	return invalid(s, ev)
}
