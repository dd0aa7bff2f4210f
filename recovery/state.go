package recovery

import (
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/recoverykit/account"
	"github.com/lightningnetwork/recoverykit/cloudbackup"
	"github.com/lightningnetwork/recoverykit/cloudstore"
	"github.com/lightningnetwork/recoverykit/csek"
)

// State is one step of a recovery. The set of states is closed: every
// implementation lives in this package.
type State interface {
	// String returns the name of the state.
	String() string

	// IsTerminal returns true if the state accepts no further events.
	IsTerminal() bool

	// processEvent returns the state that follows the receiver on the
	// event, or an *InvalidTransitionError.
	processEvent(Event) (State, error)
}

// WaitingForDelay is the security delay of the recovery. It ends on its own
// once the remote delay window closes.
type WaitingForDelay struct {
	Attempt *Attempt
}

// Remaining is how long the delay still runs at now.
func (s *WaitingForDelay) Remaining(now time.Time) time.Duration {
	return max(0, s.Attempt.DelayEnd.Sub(now))
}

// ReadyToComplete waits for the user to start completion or to cancel.
type ReadyToComplete struct {
	Attempt *Attempt
}

// AwaitingHardwareChallengeSignature waits for the destination hardware to
// sign Challenge and to seal Csek.
type AwaitingHardwareChallengeSignature struct {
	Attempt   *Attempt
	Challenge []byte

	// Csek is the freshly generated cloud backup key. It only ever lives
	// in memory.
	Csek csek.Csek
}

// RotatingAuthKeys replaces the account's auth keys with the trust service.
type RotatingAuthKeys struct {
	Attempt     *Attempt
	Challenge   []byte
	HwSignature []byte
	SealedCsek  []byte
	Csek        fn.Option[csek.Csek]
}

// AwaitingHardwareProofOfPossession waits for a fresh hardware proof before
// spending keys can be rotated.
type AwaitingHardwareProofOfPossession struct {
	Attempt *Attempt

	// SealedCsek is offered to the hardware for unsealing when the raw
	// key was lost to a restart.
	SealedCsek []byte
	Csek       fn.Option[csek.Csek]
}

// RotatingSpendingKeys creates and activates the new spending keyset.
type RotatingSpendingKeys struct {
	Attempt *Attempt
	Proof   *account.HwProofOfPossession
	Csek    fn.Option[csek.Csek]
}

// RegeneratingTrustedContactCertificates re-endorses trusted contacts
// under the new auth keys.
type RegeneratingTrustedContactCertificates struct {
	Attempt       *Attempt
	Keybox        *account.Keybox
	HwEndorsement []byte
	Csek          fn.Option[csek.Csek]
}

// CreatingCloudBackup uploads the backup of the new keys.
type CreatingCloudBackup struct {
	Attempt  *Attempt
	Keybox   *account.Keybox
	Contacts []cloudbackup.EndorsedContact
	Csek     fn.Option[csek.Csek]
}

// SweepingFunds moves funds from the old keysets to Keybox.
type SweepingFunds struct {
	Keybox *account.Keybox
}

// ExitedSweep is a sweep the user left. It resumes with the same keybox.
type ExitedSweep struct {
	Keybox *account.Keybox
}

// Done is a completed recovery.
type Done struct {
	Keybox *account.Keybox
}

// AwaitingCancellationProofOfPossession waits for the hardware to authorise
// a cancellation.
type AwaitingCancellationProofOfPossession struct {
	Attempt *Attempt
}

// Cancelling asks the trust service to cancel the recovery.
type Cancelling struct {
	Attempt *Attempt
	Proof   fn.Option[account.HwProofOfPossession]

	// Reissued is set once the cancellation was re-sent after comms
	// verification.
	Reissued bool
}

// VerifyingNotificationComms waits for the user to verify a notification
// channel, after which the cancellation is re-sent.
type VerifyingNotificationComms struct {
	Attempt *Attempt
	Proof   fn.Option[account.HwProofOfPossession]
}

// FailedToCancel is a cancellation the trust service did not accept.
type FailedToCancel struct {
	Attempt *Attempt
	Err     error
}

// Cancelled is a recovery cancelled from this device.
type Cancelled struct {
	AccountID account.ID
}

// CompletionFailed is a failed completion phase. Retry restarts the phase.
type CompletionFailed struct {
	// Phase names the failed state.
	Phase string
	Err   error
	Retry State

	// Rectification is set when the user can fix the failure, for
	// example by granting cloud storage access, before retrying.
	Rectification fn.Option[cloudstore.Rectification]
}

// NoLongerRecovering means the trust service has no active recovery for
// this attempt, usually because the other factor cancelled it.
type NoLongerRecovering struct {
	AccountID account.ID
}

func (s *WaitingForDelay) String() string { return "WaitingForDelay" }
func (s *ReadyToComplete) String() string { return "ReadyToComplete" }
func (s *AwaitingHardwareChallengeSignature) String() string {
	return "AwaitingHardwareChallengeSignature"
}
func (s *RotatingAuthKeys) String() string { return "RotatingAuthKeys" }
func (s *AwaitingHardwareProofOfPossession) String() string {
	return "AwaitingHardwareProofOfPossession"
}
func (s *RotatingSpendingKeys) String() string { return "RotatingSpendingKeys" }
func (s *RegeneratingTrustedContactCertificates) String() string {
	return "RegeneratingTrustedContactCertificates"
}
func (s *CreatingCloudBackup) String() string { return "CreatingCloudBackup" }
func (s *SweepingFunds) String() string       { return "SweepingFunds" }
func (s *ExitedSweep) String() string         { return "ExitedSweep" }
func (s *Done) String() string                { return "Done" }
func (s *AwaitingCancellationProofOfPossession) String() string {
	return "AwaitingCancellationProofOfPossession"
}
func (s *Cancelling) String() string { return "Cancelling" }
func (s *VerifyingNotificationComms) String() string {
	return "VerifyingNotificationComms"
}
func (s *FailedToCancel) String() string     { return "FailedToCancel" }
func (s *Cancelled) String() string          { return "Cancelled" }
func (s *NoLongerRecovering) String() string { return "NoLongerRecovering" }

func (s *CompletionFailed) String() string {
	return fmt.Sprintf("CompletionFailed(%v)", s.Phase)
}

func (s *WaitingForDelay) IsTerminal() bool                        { return false }
func (s *ReadyToComplete) IsTerminal() bool                        { return false }
func (s *AwaitingHardwareChallengeSignature) IsTerminal() bool     { return false }
func (s *RotatingAuthKeys) IsTerminal() bool                       { return false }
func (s *AwaitingHardwareProofOfPossession) IsTerminal() bool      { return false }
func (s *RotatingSpendingKeys) IsTerminal() bool                   { return false }
func (s *RegeneratingTrustedContactCertificates) IsTerminal() bool { return false }
func (s *CreatingCloudBackup) IsTerminal() bool                    { return false }
func (s *SweepingFunds) IsTerminal() bool                          { return false }
func (s *ExitedSweep) IsTerminal() bool                            { return false }
func (s *Done) IsTerminal() bool                                   { return true }
func (s *AwaitingCancellationProofOfPossession) IsTerminal() bool  { return false }
func (s *Cancelling) IsTerminal() bool                             { return false }
func (s *VerifyingNotificationComms) IsTerminal() bool             { return false }
func (s *FailedToCancel) IsTerminal() bool                         { return false }
func (s *Cancelled) IsTerminal() bool                              { return true }
func (s *CompletionFailed) IsTerminal() bool                       { return false }
func (s *NoLongerRecovering) IsTerminal() bool                     { return true }

// Event is an input to the state machine, either from the user or from an
// effect's result.
type Event interface {
	eventSealed()
}

// DelayElapsed is sent once the delay window has closed.
type DelayElapsed struct{}

// StartCompletion is the user starting completion with a fresh Csek.
type StartCompletion struct {
	Csek csek.Csek
}

// ChallengeSigned carries the hardware's signature over the rotation
// challenge and the hardware-sealed Csek.
type ChallengeSigned struct {
	Signature  []byte
	SealedCsek []byte
}

// AuthKeysRotated is the success of RotatingAuthKeys.
type AuthKeysRotated struct{}

// ProofProvided carries a hardware proof of possession. Csek is set when
// the same hardware tap also unsealed the backup key.
type ProofProvided struct {
	Proof *account.HwProofOfPossession
	Csek  fn.Option[csek.Csek]
}

// SpendingKeysRotated is the success of RotatingSpendingKeys.
type SpendingKeysRotated struct {
	Keyset *account.SpendingKeyset
}

// CertificatesRegenerated carries the re-endorsed contacts for the backup.
type CertificatesRegenerated struct {
	Contacts []cloudbackup.EndorsedContact
}

// BackupUploaded is the success of CreatingCloudBackup.
type BackupUploaded struct{}

// FundsSwept is the success of SweepingFunds.
type FundsSwept struct{}

// ExitSweep is the user leaving the sweep.
type ExitSweep struct{}

// ResumeSweep is the user coming back to an exited sweep.
type ResumeSweep struct{}

// CancelRequested is the user asking to cancel the recovery.
type CancelRequested struct{}

// CancelAccepted is the trust service accepting a cancellation.
type CancelAccepted struct{}

// CommsVerificationRequired is the trust service asking for comms
// verification before it cancels.
type CommsVerificationRequired struct{}

// CommsVerified is the end of the comms verification flow.
type CommsVerified struct{}

// CancelFailed carries a cancellation error.
type CancelFailed struct {
	Err error
}

// PhaseFailed carries an error of a completion phase the user can retry.
type PhaseFailed struct {
	Err error
}

// RecoveryInactive means the trust service no longer knows the recovery.
type RecoveryInactive struct {
	Err error
}

// Retry is the user retrying a failed step.
type Retry struct{}

func (DelayElapsed) eventSealed()              {}
func (StartCompletion) eventSealed()           {}
func (ChallengeSigned) eventSealed()           {}
func (AuthKeysRotated) eventSealed()           {}
func (ProofProvided) eventSealed()             {}
func (SpendingKeysRotated) eventSealed()       {}
func (CertificatesRegenerated) eventSealed()   {}
func (BackupUploaded) eventSealed()            {}
func (FundsSwept) eventSealed()                {}
func (ExitSweep) eventSealed()                 {}
func (ResumeSweep) eventSealed()               {}
func (CancelRequested) eventSealed()           {}
func (CancelAccepted) eventSealed()            {}
func (CommsVerificationRequired) eventSealed() {}
func (CommsVerified) eventSealed()             {}
func (CancelFailed) eventSealed()              {}
func (PhaseFailed) eventSealed()               {}
func (RecoveryInactive) eventSealed()          {}
func (Retry) eventSealed()                     {}

// Effect is work the coordinator performs on entering a state. Effects are
// the only place the state machine touches the network, the hardware or
// storage.
type Effect interface {
	effectSealed()
}

// AwaitDelayEffect waits until the delay window has closed.
type AwaitDelayEffect struct {
	DelayEnd time.Time
}

// RotateAuthKeysEffect stores the sealed Csek and rotates auth keys.
type RotateAuthKeysEffect struct {
	Attempt     *Attempt
	Challenge   []byte
	HwSignature []byte
	SealedCsek  []byte
}

// RotateSpendingKeysEffect rotates spending keys and registers the device
// token.
type RotateSpendingKeysEffect struct {
	Attempt *Attempt
	Proof   *account.HwProofOfPossession
}

// RegenerateCertificatesEffect re-endorses trusted contacts.
type RegenerateCertificatesEffect struct {
	Attempt       *Attempt
	HwEndorsement []byte
}

// CreateBackupEffect seals the new keys and uploads the backup.
type CreateBackupEffect struct {
	Attempt  *Attempt
	Keybox   *account.Keybox
	Contacts []cloudbackup.EndorsedContact
	Csek     fn.Option[csek.Csek]
}

// SweepFundsEffect runs the sweep to Keybox.
type SweepFundsEffect struct {
	Keybox *account.Keybox
}

// CancelRecoveryEffect sends a cancellation to the trust service.
type CancelRecoveryEffect struct {
	AccountID account.ID
	Proof     fn.Option[account.HwProofOfPossession]
}

// ClearAttemptEffect drops the attempt, its checkpoint and its sealed Csek.
type ClearAttemptEffect struct {
	AccountID account.ID
}

func (AwaitDelayEffect) effectSealed()             {}
func (RotateAuthKeysEffect) effectSealed()         {}
func (RotateSpendingKeysEffect) effectSealed()     {}
func (RegenerateCertificatesEffect) effectSealed() {}
func (CreateBackupEffect) effectSealed()           {}
func (SweepFundsEffect) effectSealed()             {}
func (CancelRecoveryEffect) effectSealed()         {}
func (ClearAttemptEffect) effectSealed()           {}
