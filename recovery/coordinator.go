package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btclog/v2"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/recoverykit/account"
	"github.com/lightningnetwork/recoverykit/cloudbackup"
	"github.com/lightningnetwork/recoverykit/cloudstore"
	"github.com/lightningnetwork/recoverykit/csek"
	"github.com/lightningnetwork/recoverykit/hardware"
	"github.com/lightningnetwork/recoverykit/keyrotation"
	"github.com/lightningnetwork/recoverykit/relationships"
	"github.com/lightningnetwork/recoverykit/subscribe"
	"github.com/lightningnetwork/recoverykit/trustsvc"
)

// ErrNotStarted is returned by entry points called before Start.
var ErrNotStarted = errors.New("recovery coordinator not started")

// DeviceTokenPolicy decides what a failed push token registration does to
// the spending key phase.
type DeviceTokenPolicy uint8

const (
	// DeviceTokenFatal fails the phase.
	DeviceTokenFatal DeviceTokenPolicy = iota

	// DeviceTokenIgnore logs the failure and carries on.
	DeviceTokenIgnore
)

// DeviceToken is the push notification token of this device.
type DeviceToken struct {
	Token    string
	Platform trustsvc.DevicePlatform
}

// TrustService is the part of the trust service the coordinator calls
// itself. Key rotation goes through KeyRotator.
type TrustService interface {
	GetActiveRecovery(ctx context.Context,
		id account.ID) (fn.Option[trustsvc.ActiveRecovery], error)

	CancelRecovery(ctx context.Context, id account.ID,
		proof fn.Option[account.HwProofOfPossession]) (
		trustsvc.CancelOutcome, error)

	RegisterDeviceToken(ctx context.Context, id account.ID, token string,
		platform trustsvc.DevicePlatform) error
}

// KeyRotator rotates auth and spending keys.
type KeyRotator interface {
	RotateAuthKeys(ctx context.Context, id account.ID,
		req *keyrotation.AuthRotation) error

	RotateSpendingKey(ctx context.Context, cfg account.Config,
		id account.ID, appAuthKey *btcec.PrivateKey,
		proof *account.HwProofOfPossession, appSpendingKey,
		hwSpendingKey *btcec.PublicKey) (*account.SpendingKeyset, error)
}

// BackupWriter uploads the active cloud backup.
type BackupWriter interface {
	WriteBackup(ctx context.Context, id account.ID,
		cloudAcct cloudstore.Account, b cloudbackup.Backup,
		requireAuthRefresh bool) error
}

// Sweeper moves funds held by older keysets to the keybox's active keyset.
type Sweeper interface {
	Sweep(ctx context.Context, keybox *account.Keybox) error
}

// Config holds the collaborators of a Coordinator.
type Config struct {
	// AccountID is the account under recovery.
	AccountID account.ID

	Store *Store
	Cseks *csek.Store

	Trust         TrustService
	Rotator       KeyRotator
	Relationships relationships.Syncer
	Backups       BackupWriter
	Codec         *cloudbackup.Codec
	Sweeper       Sweeper

	// CloudAccount is the user's cloud storage account for backups.
	CloudAccount cloudstore.Account

	// Keys holds the private halves of the attempt's app keys.
	Keys account.KeyStore

	// Hardware, if set, unseals the stored backup key when a restart
	// lost the raw one.
	Hardware hardware.Factor

	Clock clock.Clock

	DeviceToken       fn.Option[DeviceToken]
	DeviceTokenPolicy DeviceTokenPolicy

	// Metrics is optional.
	Metrics *Metrics
}

// Coordinator drives the recovery of one account. Events are applied one at
// a time under a mutex; the effect of the current state runs in its own
// goroutine and feeds its result back as an event.
type Coordinator struct {
	started atomic.Bool
	stopped atomic.Bool

	cfg    *Config
	logCtx context.Context

	states     *subscribe.Server[State]
	fatal      chan error
	goroutines *fn.GoroutineManager

	mu sync.Mutex

	// state is the current state and prev the one it was entered from.
	state State
	prev  State

	// effectGen identifies the effect of the current state. Results of
	// effects from earlier states are dropped.
	effectGen    uint64
	cancelEffect context.CancelFunc
}

// New creates a Coordinator. Start must be called before any entry point.
func New(cfg *Config) *Coordinator {
	return &Coordinator{
		cfg: cfg,
		logCtx: btclog.WithCtx(
			context.Background(),
			slog.String("account", cfg.AccountID.String()),
		),
		states:     subscribe.NewServer[State](),
		fatal:      make(chan error, 1),
		goroutines: fn.NewGoroutineManager(),
	}
}

// Start resumes the account's attempt from its checkpoint and the trust
// service's view of the recovery.
func (c *Coordinator) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}

	if err := c.states.Start(); err != nil {
		return err
	}

	id := c.cfg.AccountID

	attempt, err := c.cfg.Store.FetchAttempt(id)
	if err != nil {
		return fmt.Errorf("unable to fetch attempt: %w", err)
	}
	cp, err := c.cfg.Store.FetchCheckpoint(id)
	if err != nil {
		return fmt.Errorf("unable to fetch checkpoint: %w", err)
	}
	remote, err := c.cfg.Trust.GetActiveRecovery(ctx, id)
	if err != nil {
		return fmt.Errorf("unable to fetch active recovery: %w", err)
	}

	state, err := ResumeState(cp, attempt, remote, c.cfg.Clock.Now())
	if err != nil {
		return err
	}

	if s, ok := state.(*AwaitingHardwareProofOfPossession); ok {
		sealed, err := c.cfg.Cseks.Get(s.Attempt.ID)
		if err != nil {
			return err
		}
		sealed.WhenSome(func(sealed csek.Sealed) {
			s.SealedCsek = sealed.Key
		})
	}

	log.InfoS(c.logCtx, "Resuming recovery",
		"progress", cp.Progress, "state", state)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = state
	c.enter(state, EntryEffect(state))

	return nil
}

// Stop interrupts the running effect and waits for it to return.
func (c *Coordinator) Stop() error {
	if !c.stopped.CompareAndSwap(false, true) {
		return nil
	}

	c.goroutines.Stop()

	return c.states.Stop()
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// SubscribeStates returns a client that receives the current state followed
// by every state entered after it.
func (c *Coordinator) SubscribeStates() (*subscribe.Client[State], error) {
	return c.states.Subscribe()
}

// FatalErrors delivers effect failures that have no failed state. The
// coordinator has already moved back to the state before the failed call.
func (c *Coordinator) FatalErrors() <-chan error {
	return c.fatal
}

// StartComplete begins completion. The checkpoint is moved to
// ProgressAttemptingCompletion before the hardware is asked to sign.
func (c *Coordinator) StartComplete() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.state.(*ReadyToComplete)
	if !ok {
		return c.applyLocked(StartCompletion{})
	}

	key, err := csek.Generate()
	if err != nil {
		return nil, err
	}

	err = c.advance(s.Attempt, ProgressAttemptingCompletion, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to persist checkpoint: %w", err)
	}

	return c.applyLocked(StartCompletion{Csek: key})
}

// ProvideChallengeSignature hands over the hardware's signature of the
// rotation challenge and the Csek the hardware sealed.
func (c *Coordinator) ProvideChallengeSignature(sig,
	sealedCsek []byte) (State, error) {

	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.state.(*AwaitingHardwareChallengeSignature); ok {
		err := hardware.VerifyChallenge(
			s.Attempt.HwAuthKey, s.Challenge, sig,
		)
		if err != nil {
			return nil, err
		}
		if len(sealedCsek) == 0 {
			return nil, ErrCsekUnavailable
		}
	}

	return c.applyLocked(ChallengeSigned{
		Signature:  sig,
		SealedCsek: sealedCsek,
	})
}

// ProvideProofOfPossession hands over a hardware proof, either to rotate
// spending keys or to cancel. key is the Csek if the same hardware tap
// unsealed it.
func (c *Coordinator) ProvideProofOfPossession(
	proof *account.HwProofOfPossession,
	key fn.Option[csek.Csek]) (State, error) {

	err := account.ValidateProof(proof, c.cfg.Clock.Now())
	if err != nil {
		return nil, err
	}

	return c.apply(ProofProvided{Proof: proof, Csek: key})
}

// Cancel asks to cancel the recovery. It is only accepted before completion
// has begun.
func (c *Coordinator) Cancel() (State, error) {
	return c.apply(CancelRequested{})
}

// Retry restarts a failed phase or cancellation.
func (c *Coordinator) Retry() (State, error) {
	return c.apply(Retry{})
}

// CommsVerified reports that comms verification finished. The cancellation
// is re-sent.
func (c *Coordinator) CommsVerified() (State, error) {
	return c.apply(CommsVerified{})
}

// ExitSweep leaves the sweep.
func (c *Coordinator) ExitSweep() (State, error) {
	return c.apply(ExitSweep{})
}

// ResumeSweep restarts an exited sweep.
func (c *Coordinator) ResumeSweep() (State, error) {
	return c.apply(ResumeSweep{})
}

// Interrupt cancels the running effect. The coordinator moves back to the
// state before the call.
func (c *Coordinator) Interrupt() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancelEffect != nil {
		c.cancelEffect()
	}
}

func (c *Coordinator) apply(ev Event) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.applyLocked(ev)
}

// applyLocked must be called with the mutex held.
func (c *Coordinator) applyLocked(ev Event) (State, error) {
	if c.state == nil {
		return nil, ErrNotStarted
	}

	transition, err := Transition(c.state, ev)
	if err != nil {
		return nil, err
	}

	c.prev = c.state
	c.state = transition.NextState
	c.enter(transition.NextState, transition.Effect)

	return transition.NextState, nil
}

// enter publishes the current state and launches its effect. It must be
// called with the mutex held.
func (c *Coordinator) enter(s State, effect fn.Option[Effect]) {
	if c.cancelEffect != nil {
		c.cancelEffect()
		c.cancelEffect = nil
	}
	c.effectGen++

	log.DebugS(c.logCtx, "Entered recovery state", "state", s)
	logFailure(c.logCtx, s)
	c.cfg.Metrics.entered(s)

	if err := c.states.SendUpdate(s); err != nil {
		log.DebugS(c.logCtx, "State not published", "reason", err)
	}

	effect.WhenSome(func(e Effect) {
		c.launch(e)
	})
}

// launch runs effect in the background. It must be called with the mutex
// held.
func (c *Coordinator) launch(effect Effect) {
	gen := c.effectGen
	ctx, cancel := context.WithCancel(c.logCtx)
	c.cancelEffect = cancel

	ok := c.goroutines.Go(ctx, func(ctx context.Context) {
		c.cfg.Metrics.effectStarted()
		defer c.cfg.Metrics.effectDone()

		ev, err := c.execute(ctx, effect)
		c.effectDone(gen, ev, err)
	})
	if !ok {
		cancel()
		log.DebugS(c.logCtx, "Effect not started, shutting down",
			"effect", fmt.Sprintf("%T", effect))
	}
}

// effectDone applies the result of the effect launched at gen.
func (c *Coordinator) effectDone(gen uint64, ev Event, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.effectGen {
		return
	}
	if c.cancelEffect != nil {
		c.cancelEffect()
		c.cancelEffect = nil
	}

	switch {
	case err != nil:
		var fatal *FatalError
		if errors.As(err, &fatal) {
			log.ErrorS(c.logCtx, "Recovery effect failed", err)

			select {
			case c.fatal <- err:
			default:
			}
		}

		c.rollback(err)

	case ev != nil:
		if _, err := c.applyLocked(ev); err != nil {
			log.ErrorS(c.logCtx, "Effect result rejected", err)

			select {
			case c.fatal <- err:
			default:
			}
		}
	}
}

// rollback leaves the state of an interrupted or fatally failed effect so
// that no call appears to be in flight. It must be called with the mutex
// held.
func (c *Coordinator) rollback(cause error) {
	current := c.state

	var target State
	switch s := current.(type) {
	// The delay gate is armed again on the next start.
	case *WaitingForDelay, *Done, *Cancelled, *NoLongerRecovering:
		return

	case *Cancelling:
		target = &FailedToCancel{Attempt: s.Attempt, Err: cause}
		if _, ok := c.prev.(*WaitingForDelay); ok {
			target = c.prev
		}
		if c.prev != nil && quiescent(c.prev) {
			target = c.prev
		}

	default:
		target = phaseFailed(current, cause, current)
		if c.prev != nil && quiescent(c.prev) {
			target = c.prev
		}
	}

	log.InfoS(c.logCtx, "Rolling back recovery state",
		"from", current, "to", target, "cause", cause)

	c.prev = current
	c.state = target

	effect := fn.None[Effect]()
	if _, ok := target.(*WaitingForDelay); ok {
		effect = EntryEffect(target)
	}
	c.enter(target, effect)
}
