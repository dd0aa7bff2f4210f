package recovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btclog/v2"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/recoverykit/account"
	"github.com/lightningnetwork/recoverykit/cloudbackup"
	"github.com/lightningnetwork/recoverykit/csek"
	"github.com/lightningnetwork/recoverykit/hardware"
	"github.com/lightningnetwork/recoverykit/keyrotation"
	"github.com/lightningnetwork/recoverykit/relationships"
	"github.com/lightningnetwork/recoverykit/sealer"
	"github.com/lightningnetwork/recoverykit/trustsvc"
)

var (
	// ErrCsekUnavailable is returned when the backup key is neither in
	// memory nor recoverable from its sealed form.
	ErrCsekUnavailable = errors.New("cloud backup key unavailable")

	// ErrEndorsementMissing is returned when trusted contacts need new
	// certificates but no hardware endorsement of the new app auth key
	// is available.
	ErrEndorsementMissing = errors.New("hardware endorsement of app " +
		"auth key missing")
)

// SweepError wraps a failure of the sweep collaborator.
type SweepError struct {
	Err error
}

// Error returns the sweep failure.
func (e *SweepError) Error() string {
	return fmt.Sprintf("unable to sweep funds: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *SweepError) Unwrap() error {
	return e.Err
}

// FatalError is an effect failure the state machine has no reaction for.
// The coordinator reports it on its fatal error channel and goes back to
// the state before the failed call.
type FatalError struct {
	Effect Effect
	Err    error
}

// Error returns the failure.
func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal error running %T: %v", e.Effect, e.Err)
}

// Unwrap returns the underlying error.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// reactable reports whether err is a failure a phase handles by moving to
// its failed state.
func reactable(err error) bool {
	var (
		netErr      *trustsvc.NetworkError
		apiErr      *trustsvc.APIError
		rectifiable *cloudbackup.RectifiableError
		unrectified *cloudbackup.UnrectifiableError
		codecErr    *cloudbackup.CodecError
		decryptErr  *sealer.DecryptError
		sweepErr    *SweepError
	)

	switch {
	case errors.As(err, &netErr), errors.As(err, &apiErr),
		errors.As(err, &rectifiable), errors.As(err, &unrectified),
		errors.As(err, &codecErr), errors.As(err, &decryptErr),
		errors.As(err, &sweepErr):

		return true

	case errors.Is(err, account.ErrHwProofMissing),
		errors.Is(err, account.ErrHwProofExpired),
		errors.Is(err, hardware.ErrInvalidSignature),
		errors.Is(err, relationships.ErrInvalidCertificate),
		errors.Is(err, ErrCsekUnavailable),
		errors.Is(err, ErrEndorsementMissing):

		return true
	}

	return false
}

// inactive reports whether err says the trust service no longer knows the
// recovery.
func inactive(err error) bool {
	var authErr *trustsvc.AuthProtocolError

	return errors.Is(err, keyrotation.ErrRecoveryNoLongerActive) ||
		errors.As(err, &authErr)
}

// phaseResult maps the outcome of a completion phase to its event. A nil
// event with a nil error means the effect has no result to report.
func phaseResult(ctx context.Context, effect Effect, err error) (Event,
	error) {

	switch {
	case err == nil:
		return nil, nil

	case ctx.Err() != nil:
		return nil, ctx.Err()

	case inactive(err):
		return RecoveryInactive{Err: err}, nil

	case reactable(err):
		return PhaseFailed{Err: err}, nil
	}

	return nil, &FatalError{Effect: effect, Err: err}
}

// execute runs one effect and returns the event it produced, if any. The
// error is either the context's error, if the effect was interrupted, or a
// *FatalError.
func (c *Coordinator) execute(ctx context.Context, effect Effect) (Event,
	error) {

	switch e := effect.(type) {
	case AwaitDelayEffect:
		return c.awaitDelay(ctx, e)

	case RotateAuthKeysEffect:
		err := c.rotateAuthKeys(ctx, e)
		if err != nil {
			return phaseResult(ctx, effect, err)
		}

		return AuthKeysRotated{}, nil

	case RotateSpendingKeysEffect:
		keyset, err := c.rotateSpendingKeys(ctx, e)
		if err != nil {
			return phaseResult(ctx, effect, err)
		}

		return SpendingKeysRotated{Keyset: keyset}, nil

	case RegenerateCertificatesEffect:
		contacts, err := c.regenerateCertificates(ctx, e)
		if err != nil {
			return phaseResult(ctx, effect, err)
		}

		return CertificatesRegenerated{Contacts: contacts}, nil

	case CreateBackupEffect:
		if err := c.createBackup(ctx, e); err != nil {
			return phaseResult(ctx, effect, err)
		}

		return BackupUploaded{}, nil

	case SweepFundsEffect:
		if err := c.sweep(ctx, e); err != nil {
			return phaseResult(ctx, effect, err)
		}

		return FundsSwept{}, nil

	case CancelRecoveryEffect:
		return c.cancelRecovery(ctx, e)

	case ClearAttemptEffect:
		if err := c.clearAttempt(e.AccountID); err != nil {
			return nil, &FatalError{Effect: effect, Err: err}
		}

		return nil, nil
	}

	return nil, &FatalError{
		Effect: effect,
		Err:    fmt.Errorf("unknown effect %T", effect),
	}
}

func (c *Coordinator) awaitDelay(ctx context.Context,
	e AwaitDelayEffect) (Event, error) {

	remaining := e.DelayEnd.Sub(c.cfg.Clock.Now())
	if remaining <= 0 {
		return DelayElapsed{}, nil
	}

	log.DebugS(ctx, "Waiting for recovery delay",
		"remaining", remaining)

	select {
	case <-c.cfg.Clock.TickAfter(remaining):
		return DelayElapsed{}, nil

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// advance persists the next checkpoint of the current attempt.
func (c *Coordinator) advance(attempt *Attempt, progress Progress,
	update func(*Checkpoint)) error {

	cp, err := c.cfg.Store.FetchCheckpoint(attempt.AccountID)
	if err != nil {
		return err
	}

	next := *cp
	next.AttemptID = attempt.ID
	next.Progress = progress
	next.UpdatedAt = c.cfg.Clock.Now()
	if update != nil {
		update(&next)
	}

	return c.cfg.Store.Advance(attempt.AccountID, &next)
}

func (c *Coordinator) rotateAuthKeys(ctx context.Context,
	e RotateAuthKeysEffect) error {

	a := e.Attempt

	appAuthKey, err := c.cfg.Keys.PrivKey(a.AppAuthKey)
	if err != nil {
		return err
	}
	recoveryKey, err := c.cfg.Keys.PrivKey(a.AppRecoveryAuthKey)
	if err != nil {
		return err
	}

	// Only the sealed key is stored, so a restart after the rotation
	// can still have the hardware unseal it.
	err = c.cfg.Cseks.Put(a.ID, &csek.Sealed{
		Key:       e.SealedCsek,
		CreatedAt: c.cfg.Clock.Now(),
	})
	if err != nil {
		return err
	}

	err = c.cfg.Rotator.RotateAuthKeys(ctx, a.AccountID,
		&keyrotation.AuthRotation{
			Challenge:          e.Challenge,
			HwSignature:        e.HwSignature,
			NewAppAuthKey:      appAuthKey,
			NewRecoveryAuthKey: recoveryKey,
			SealedCsek:         e.SealedCsek,
		},
	)
	if err != nil {
		return err
	}

	return c.advance(a, ProgressAuthKeysRotated, nil)
}

func (c *Coordinator) rotateSpendingKeys(ctx context.Context,
	e RotateSpendingKeysEffect) (*account.SpendingKeyset, error) {

	a := e.Attempt

	appAuthKey, err := c.cfg.Keys.PrivKey(a.AppAuthKey)
	if err != nil {
		return nil, err
	}

	keyset, err := c.cfg.Rotator.RotateSpendingKey(
		ctx, a.Config, a.AccountID, appAuthKey, e.Proof,
		a.AppSpendingKey, a.HwSpendingKey,
	)
	if err != nil {
		return nil, err
	}

	if err := c.registerDeviceToken(ctx, a.AccountID); err != nil {
		return nil, err
	}

	err = c.advance(a, ProgressSpendingKeysRotated, func(cp *Checkpoint) {
		cp.KeysetID = keyset.ID
		cp.ServerSpendingKey = keyset.Server
		if e.Proof != nil {
			cp.HwEndorsement = e.Proof.AppAuthEndorsement
		}
	})
	if err != nil {
		return nil, err
	}

	return keyset, nil
}

// registerDeviceToken registers the push token, if one is configured. The
// policy decides whether a failure fails the phase.
func (c *Coordinator) registerDeviceToken(ctx context.Context,
	id account.ID) error {

	if c.cfg.DeviceToken.IsNone() {
		return nil
	}
	token := c.cfg.DeviceToken.UnsafeFromSome()

	err := c.cfg.Trust.RegisterDeviceToken(
		ctx, id, token.Token, token.Platform,
	)
	switch {
	case err == nil:
		return nil

	case c.cfg.DeviceTokenPolicy == DeviceTokenIgnore:
		log.WarnS(ctx, "Ignoring device token registration failure",
			err, "account", id, "platform", token.Platform)

		return nil
	}

	return fmt.Errorf("unable to register device token: %w", err)
}

func (c *Coordinator) regenerateCertificates(ctx context.Context,
	e RegenerateCertificatesEffect) ([]cloudbackup.EndorsedContact, error) {

	a := e.Attempt
	keys := a.AuthKeys()

	// Certificates from before the recovery and those already renewed by
	// an earlier run of this step are both genuine.
	rel, err := c.cfg.Relationships.SyncAndVerifyRelationships(
		ctx, a.AccountID, []account.AuthKeys{a.SourceAuthKeys(), keys},
	)
	if err != nil {
		return nil, err
	}

	var (
		stale = relationships.NeedsRecertification(
			rel.EndorsedContacts, keys,
		)
		certs = make(map[string]*relationships.KeyCertificate)
	)
	if len(stale) > 0 {
		if len(e.HwEndorsement) == 0 {
			return nil, ErrEndorsementMissing
		}

		appAuthKey, err := c.cfg.Keys.PrivKey(a.AppAuthKey)
		if err != nil {
			return nil, err
		}

		endorsements := make(
			[]relationships.Endorsement, 0, len(stale),
		)
		for _, contact := range stale {
			cert, err := relationships.Certify(
				contact.IdentityKey, appAuthKey, a.HwAuthKey,
				e.HwEndorsement,
			)
			if err != nil {
				return nil, err
			}

			certs[contact.RelationshipID] = cert
			endorsements = append(endorsements,
				relationships.Endorsement{
					RelationshipID: contact.RelationshipID,
					Certificate:    cert,
				})
		}

		err = c.cfg.Relationships.EndorseTrustedContacts(
			ctx, a.AccountID, endorsements,
		)
		if err != nil {
			return nil, err
		}
	}

	log.InfoS(ctx, "Trusted contact certificates current",
		"account", a.AccountID, "renewed", len(stale),
		"endorsed", len(rel.EndorsedContacts))

	contacts := make(
		[]cloudbackup.EndorsedContact, 0, len(rel.EndorsedContacts),
	)
	for _, contact := range rel.EndorsedContacts {
		if contact.AuthState != relationships.Verified {
			log.WarnS(ctx, "Leaving trusted contact out of backup",
				nil, "account", a.AccountID,
				"relationship", contact.RelationshipID,
				"auth_state", contact.AuthState)

			continue
		}

		cert, ok := certs[contact.RelationshipID]
		if !ok {
			cert = contact.Certificate
		}

		encoded, err := cert.Encode()
		if err != nil {
			return nil, err
		}

		contacts = append(contacts, cloudbackup.EndorsedContact{
			RelationshipID: contact.RelationshipID,
			Alias:          contact.Alias,
			IdentityKey:    contact.IdentityKey,
			Certificate:    encoded,
		})
	}

	return contacts, nil
}

// backupKey returns the raw Csek, unsealing the stored copy with the
// hardware when it is not in memory.
func (c *Coordinator) backupKey(ctx context.Context, a *Attempt,
	key fn.Option[csek.Csek]) (csek.Csek, csek.Sealed, error) {

	sealedOpt, err := c.cfg.Cseks.Get(a.ID)
	if err != nil {
		return nil, csek.Sealed{}, err
	}
	sealed, err := sealedOpt.UnwrapOrErr(ErrCsekUnavailable)
	if err != nil {
		return nil, csek.Sealed{}, err
	}

	if key.IsSome() {
		return key.UnsafeFromSome(), sealed, nil
	}

	if c.cfg.Hardware == nil {
		return nil, csek.Sealed{}, ErrCsekUnavailable
	}

	raw, err := c.cfg.Hardware.UnsealKey(ctx, sealed.Key)
	if err != nil {
		return nil, csek.Sealed{}, fmt.Errorf("%w: %v",
			ErrCsekUnavailable, err)
	}

	return raw, sealed, nil
}

func (c *Coordinator) createBackup(ctx context.Context,
	e CreateBackupEffect) error {

	a := e.Attempt

	key, sealed, err := c.backupKey(ctx, a, e.Csek)
	if err != nil {
		return err
	}

	keys := &cloudbackup.AccountKeys{
		HwSpendingKey:     a.HwSpendingKey,
		ServerSpendingKey: e.Keybox.ActiveKeyset.Server,
		KeysetID:          e.Keybox.ActiveKeyset.ID,
	}
	lookups := []struct {
		pub  **btcec.PublicKey
		priv **btcec.PrivateKey
	}{
		{&a.AppAuthKey, &keys.AppAuthKey},
		{&a.AppRecoveryAuthKey, &keys.AppRecoveryAuthKey},
		{&a.AppSpendingKey, &keys.AppSpendingKey},
	}
	for _, l := range lookups {
		*l.priv, err = c.cfg.Keys.PrivKey(*l.pub)
		if err != nil {
			return err
		}
	}

	sealedKeys, err := c.cfg.Codec.SealAccountKeys(a.AccountID, key, keys)
	if err != nil {
		return err
	}

	backup := &cloudbackup.BackupV3{
		AccountID:       a.AccountID,
		Config:          a.Config,
		HwAuthKey:       a.HwAuthKey,
		RecoveryAuthKey: a.AppRecoveryAuthKey,
		Keys: cloudbackup.SealedKeys{
			SealedCsek:  sealed.Key,
			AccountKeys: sealedKeys,
		},
		EndorsedContacts: e.Contacts,
		CreatedAt:        c.cfg.Clock.Now(),
	}

	err = c.cfg.Backups.WriteBackup(
		ctx, a.AccountID, c.cfg.CloudAccount, backup, true,
	)
	if err != nil {
		return err
	}
	c.cfg.Metrics.backupUploaded()

	err = c.advance(a, ProgressBackedUpToCloud, nil)
	if err != nil {
		return err
	}

	// The uploaded backup carries the sealed key from here on.
	if err := c.cfg.Cseks.Delete(a.ID); err != nil {
		log.WarnS(ctx, "Unable to delete sealed csek", err,
			"attempt", a.ID)
	}

	return nil
}

func (c *Coordinator) sweep(ctx context.Context, e SweepFundsEffect) error {
	if err := c.cfg.Sweeper.Sweep(ctx, e.Keybox); err != nil {
		return &SweepError{Err: err}
	}

	attempt, err := c.cfg.Store.FetchAttempt(e.Keybox.AccountID)
	if err != nil {
		return err
	}
	a, err := attempt.UnwrapOrErr(ErrNoAttempt)
	if err != nil {
		return err
	}

	return c.advance(&a, ProgressFundsSwept, nil)
}

func (c *Coordinator) cancelRecovery(ctx context.Context,
	e CancelRecoveryEffect) (Event, error) {

	outcome, err := c.cfg.Trust.CancelRecovery(ctx, e.AccountID, e.Proof)
	switch {
	case err == nil:

	case ctx.Err() != nil:
		return nil, ctx.Err()

	case inactive(err):
		return RecoveryInactive{Err: err}, nil

	default:
		return CancelFailed{Err: err}, nil
	}

	if outcome == trustsvc.CancelNeedsCommsVerification {
		log.InfoS(ctx, "Cancellation needs comms verification",
			"account", e.AccountID)

		return CommsVerificationRequired{}, nil
	}

	return CancelAccepted{}, nil
}

// clearAttempt drops everything stored for the account's attempt.
func (c *Coordinator) clearAttempt(id account.ID) error {
	attempt, err := c.cfg.Store.FetchAttempt(id)
	if err != nil {
		return err
	}

	var errs []error
	attempt.WhenSome(func(a Attempt) {
		errs = append(errs, c.cfg.Cseks.Delete(a.ID))
	})
	errs = append(errs, c.cfg.Store.Clear(id))

	return errors.Join(errs...)
}

// logFailure reports a failed phase with its error class.
func logFailure(ctx context.Context, s State) {
	switch s := s.(type) {
	case *CompletionFailed:
		log.ErrorS(ctx, "Recovery phase failed", s.Err,
			"phase", s.Phase,
			"transient", trustsvc.IsTransient(s.Err),
			"rectifiable", s.Rectification.IsSome())

	case *FailedToCancel:
		log.ErrorS(ctx, "Recovery cancellation failed", s.Err)

	case *NoLongerRecovering:
		log.InfoS(ctx, "Recovery no longer active",
			btclog.Fmt("account", "%v", s.AccountID))
	}
}
