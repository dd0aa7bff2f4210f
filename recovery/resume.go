package recovery

import (
	"errors"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/recoverykit/csek"
	"github.com/lightningnetwork/recoverykit/trustsvc"
)

// ErrNoAttempt is returned when there is no recovery attempt to resume.
var ErrNoAttempt = errors.New("no recovery attempt")

// ResumeState returns the state to enter on start. It only looks at the
// persisted checkpoint and attempt and at the trust service's view of the
// recovery.
//
// Before completion has begun the trust service decides: no remote recovery
// means the attempt is gone, and its delay window replaces the local one.
// From completion onwards the local checkpoint decides, and each phase
// resumes at its start.
func ResumeState(cp *Checkpoint, attempt fn.Option[Attempt],
	remote fn.Option[trustsvc.ActiveRecovery], now time.Time) (State,
	error) {

	a, err := attempt.UnwrapOrErr(ErrNoAttempt)
	if err != nil {
		return nil, err
	}

	// A checkpoint of another attempt is left over from before this
	// one and says nothing about it.
	progress := ProgressNone
	if cp != nil && cp.AttemptID == a.ID {
		progress = cp.Progress
	}

	switch progress {
	case ProgressNone:
		active, err := remote.UnwrapOrErr(ErrNoAttempt)
		if err != nil || active.LostFactor != a.LostFactor {
			return &NoLongerRecovering{AccountID: a.AccountID}, nil
		}

		a.DelayStart = active.DelayStart
		a.DelayEnd = active.DelayEnd
		if now.Before(a.DelayEnd) {
			return &WaitingForDelay{Attempt: &a}, nil
		}

		return &ReadyToComplete{Attempt: &a}, nil

	// The Csek generated for the interrupted completion is gone, so
	// completion starts over. Authenticating with the new key is the
	// first step of the rotation and settles whether the recovery is
	// still live.
	case ProgressAttemptingCompletion:
		return &ReadyToComplete{Attempt: &a}, nil

	case ProgressAuthKeysRotated:
		return &AwaitingHardwareProofOfPossession{
			Attempt: &a,
			Csek:    fn.None[csek.Csek](),
		}, nil

	case ProgressSpendingKeysRotated:
		return &RegeneratingTrustedContactCertificates{
			Attempt:       &a,
			Keybox:        a.Keybox(cp.KeysetID, cp.ServerSpendingKey),
			HwEndorsement: cp.HwEndorsement,
			Csek:          fn.None[csek.Csek](),
		}, nil

	case ProgressBackedUpToCloud:
		return &SweepingFunds{
			Keybox: a.Keybox(cp.KeysetID, cp.ServerSpendingKey),
		}, nil

	default:
		return &Done{
			Keybox: a.Keybox(cp.KeysetID, cp.ServerSpendingKey),
		}, nil
	}
}
