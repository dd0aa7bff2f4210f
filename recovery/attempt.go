package recovery

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/tlv"
	"github.com/lightningnetwork/recoverykit/account"
)

// Progress is the durable position of a completion attempt. It only ever
// moves forward within one attempt.
type Progress uint8

const (
	ProgressNone Progress = iota
	ProgressAttemptingCompletion
	ProgressAuthKeysRotated
	ProgressSpendingKeysRotated
	ProgressBackedUpToCloud
	ProgressFundsSwept
)

// String returns the name of the progress step.
func (p Progress) String() string {
	switch p {
	case ProgressNone:
		return "None"
	case ProgressAttemptingCompletion:
		return "AttemptingCompletion"
	case ProgressAuthKeysRotated:
		return "AuthKeysRotated"
	case ProgressSpendingKeysRotated:
		return "SpendingKeysRotated"
	case ProgressBackedUpToCloud:
		return "BackedUpToCloud"
	case ProgressFundsSwept:
		return "FundsSwept"
	default:
		return fmt.Sprintf("Progress(%d)", uint8(p))
	}
}

// Attempt is a Delay-and-Notify recovery of one lost factor. The destination
// keys replace the account's current keys once the recovery completes; the
// private halves of the app keys live in an account.KeyStore.
type Attempt struct {
	ID         string
	AccountID  account.ID
	Config     account.Config
	LostFactor account.Factor

	AppAuthKey         *btcec.PublicKey
	AppRecoveryAuthKey *btcec.PublicKey
	AppSpendingKey     *btcec.PublicKey
	HwAuthKey          *btcec.PublicKey
	HwSpendingKey      *btcec.PublicKey

	// SourceAppAuthKey and SourceHwAuthKey are the account's auth keys
	// before the recovery. Trusted contact certificates issued under them
	// are accepted when the contacts are recertified.
	SourceAppAuthKey *btcec.PublicKey
	SourceHwAuthKey  *btcec.PublicKey

	// DelayStart and DelayEnd bound the delay window issued by the trust
	// service.
	DelayStart time.Time
	DelayEnd   time.Time
}

// AuthKeys returns the auth keys the account ends up with.
func (a *Attempt) AuthKeys() account.AuthKeys {
	return account.AuthKeys{
		App:      a.AppAuthKey,
		Hardware: a.HwAuthKey,
		Recovery: a.AppRecoveryAuthKey,
	}
}

// SourceAuthKeys returns the auth keys the account had before the recovery.
func (a *Attempt) SourceAuthKeys() account.AuthKeys {
	return account.AuthKeys{
		App:      a.SourceAppAuthKey,
		Hardware: a.SourceHwAuthKey,
	}
}

// Keybox assembles the post-recovery keybox around the server's keyset.
func (a *Attempt) Keybox(keysetID string,
	serverKey *btcec.PublicKey) *account.Keybox {

	return &account.Keybox{
		AccountID: a.AccountID,
		Config:    a.Config,
		AuthKeys:  a.AuthKeys(),
		ActiveKeyset: account.SpendingKeyset{
			ID:       keysetID,
			Network:  a.Config.Network,
			App:      a.AppSpendingKey,
			Hardware: a.HwSpendingKey,
			Server:   serverKey,
		},
	}
}

// AuthRotationChallenge is the message the destination hardware signs to
// authorise the auth key rotation. It commits to the account and to both new
// app auth keys.
func AuthRotationChallenge(a *Attempt) []byte {
	h := sha256.New()
	h.Write([]byte("recovery-auth-rotation"))
	h.Write([]byte(a.AccountID))
	h.Write(a.AppAuthKey.SerializeCompressed())
	h.Write(a.AppRecoveryAuthKey.SerializeCompressed())

	return h.Sum(nil)
}

func unixNano(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}

	return uint64(t.UnixNano())
}

func fromUnixNano(n uint64) time.Time {
	if n == 0 {
		return time.Time{}
	}

	return time.Unix(0, int64(n)).UTC()
}

func (a *Attempt) encode(w io.Writer) error {
	id := tlv.NewPrimitiveRecord[tlv.TlvType0]([]byte(a.ID))
	acct := tlv.NewPrimitiveRecord[tlv.TlvType1]([]byte(a.AccountID))
	network := tlv.NewPrimitiveRecord[tlv.TlvType2](
		[]byte(a.Config.Network),
	)
	env := tlv.NewPrimitiveRecord[tlv.TlvType3](
		[]byte(a.Config.Environment),
	)
	lost := tlv.NewPrimitiveRecord[tlv.TlvType4](uint8(a.LostFactor))
	appAuth := tlv.NewPrimitiveRecord[tlv.TlvType5](a.AppAuthKey)
	appRecovery := tlv.NewPrimitiveRecord[tlv.TlvType6](a.AppRecoveryAuthKey)
	appSpending := tlv.NewPrimitiveRecord[tlv.TlvType7](a.AppSpendingKey)
	hwAuth := tlv.NewPrimitiveRecord[tlv.TlvType8](a.HwAuthKey)
	hwSpending := tlv.NewPrimitiveRecord[tlv.TlvType9](a.HwSpendingKey)
	start := tlv.NewPrimitiveRecord[tlv.TlvType10](unixNano(a.DelayStart))
	end := tlv.NewPrimitiveRecord[tlv.TlvType11](unixNano(a.DelayEnd))

	records := []tlv.Record{
		id.Record(), acct.Record(), network.Record(), env.Record(),
		lost.Record(), appAuth.Record(), appRecovery.Record(),
		appSpending.Record(), hwAuth.Record(), hwSpending.Record(),
		start.Record(), end.Record(),
	}
	if a.SourceAppAuthKey != nil {
		srcApp := tlv.NewPrimitiveRecord[tlv.TlvType12](
			a.SourceAppAuthKey,
		)
		records = append(records, srcApp.Record())
	}
	if a.SourceHwAuthKey != nil {
		srcHw := tlv.NewPrimitiveRecord[tlv.TlvType13](
			a.SourceHwAuthKey,
		)
		records = append(records, srcHw.Record())
	}

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

func decodeAttempt(r io.Reader) (*Attempt, error) {
	id := tlv.ZeroRecordT[tlv.TlvType0, []byte]()
	acct := tlv.ZeroRecordT[tlv.TlvType1, []byte]()
	network := tlv.ZeroRecordT[tlv.TlvType2, []byte]()
	env := tlv.ZeroRecordT[tlv.TlvType3, []byte]()
	lost := tlv.ZeroRecordT[tlv.TlvType4, uint8]()
	appAuth := tlv.ZeroRecordT[tlv.TlvType5, *btcec.PublicKey]()
	appRecovery := tlv.ZeroRecordT[tlv.TlvType6, *btcec.PublicKey]()
	appSpending := tlv.ZeroRecordT[tlv.TlvType7, *btcec.PublicKey]()
	hwAuth := tlv.ZeroRecordT[tlv.TlvType8, *btcec.PublicKey]()
	hwSpending := tlv.ZeroRecordT[tlv.TlvType9, *btcec.PublicKey]()
	start := tlv.ZeroRecordT[tlv.TlvType10, uint64]()
	end := tlv.ZeroRecordT[tlv.TlvType11, uint64]()
	srcApp := tlv.ZeroRecordT[tlv.TlvType12, *btcec.PublicKey]()
	srcHw := tlv.ZeroRecordT[tlv.TlvType13, *btcec.PublicKey]()

	stream, err := tlv.NewStream(
		id.Record(), acct.Record(), network.Record(), env.Record(),
		lost.Record(), appAuth.Record(), appRecovery.Record(),
		appSpending.Record(), hwAuth.Record(), hwSpending.Record(),
		start.Record(), end.Record(), srcApp.Record(), srcHw.Record(),
	)
	if err != nil {
		return nil, err
	}

	parsed, err := stream.DecodeWithParsedTypes(r)
	if err != nil {
		return nil, err
	}
	for typ := tlv.Type(0); typ <= 11; typ++ {
		if _, ok := parsed[typ]; !ok {
			return nil, fmt.Errorf("attempt record %d missing", typ)
		}
	}

	return &Attempt{
		ID:        string(id.Val),
		AccountID: account.ID(acct.Val),
		Config: account.Config{
			Network:     account.Network(network.Val),
			Environment: account.Environment(env.Val),
		},
		LostFactor:         account.Factor(lost.Val),
		AppAuthKey:         appAuth.Val,
		AppRecoveryAuthKey: appRecovery.Val,
		AppSpendingKey:     appSpending.Val,
		HwAuthKey:          hwAuth.Val,
		HwSpendingKey:      hwSpending.Val,
		SourceAppAuthKey:   srcApp.Val,
		SourceHwAuthKey:    srcHw.Val,
		DelayStart:         fromUnixNano(start.Val),
		DelayEnd:           fromUnixNano(end.Val),
	}, nil
}

// Checkpoint is the persisted progress of an attempt together with what is
// needed to resume past spending key rotation.
type Checkpoint struct {
	AttemptID string
	Progress  Progress

	// KeysetID and ServerSpendingKey identify the activated keyset once
	// spending keys are rotated.
	KeysetID          string
	ServerSpendingKey *btcec.PublicKey

	// HwEndorsement is the hardware's signature over the new app auth
	// key, kept to certify trusted contacts after a restart.
	HwEndorsement []byte

	UpdatedAt time.Time
}

func (c *Checkpoint) encode(w io.Writer) error {
	var serverKey []byte
	if c.ServerSpendingKey != nil {
		serverKey = c.ServerSpendingKey.SerializeCompressed()
	}

	attemptID := tlv.NewPrimitiveRecord[tlv.TlvType0]([]byte(c.AttemptID))
	progress := tlv.NewPrimitiveRecord[tlv.TlvType1](uint8(c.Progress))
	keysetID := tlv.NewPrimitiveRecord[tlv.TlvType2]([]byte(c.KeysetID))
	server := tlv.NewPrimitiveRecord[tlv.TlvType3](serverKey)
	endorsement := tlv.NewPrimitiveRecord[tlv.TlvType4](c.HwEndorsement)
	updated := tlv.NewPrimitiveRecord[tlv.TlvType5](unixNano(c.UpdatedAt))

	stream, err := tlv.NewStream(
		attemptID.Record(), progress.Record(), keysetID.Record(),
		server.Record(), endorsement.Record(), updated.Record(),
	)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

func decodeCheckpoint(r io.Reader) (*Checkpoint, error) {
	attemptID := tlv.ZeroRecordT[tlv.TlvType0, []byte]()
	progress := tlv.ZeroRecordT[tlv.TlvType1, uint8]()
	keysetID := tlv.ZeroRecordT[tlv.TlvType2, []byte]()
	server := tlv.ZeroRecordT[tlv.TlvType3, []byte]()
	endorsement := tlv.ZeroRecordT[tlv.TlvType4, []byte]()
	updated := tlv.ZeroRecordT[tlv.TlvType5, uint64]()

	stream, err := tlv.NewStream(
		attemptID.Record(), progress.Record(), keysetID.Record(),
		server.Record(), endorsement.Record(), updated.Record(),
	)
	if err != nil {
		return nil, err
	}
	if err := stream.Decode(r); err != nil {
		return nil, err
	}

	cp := &Checkpoint{
		AttemptID:     string(attemptID.Val),
		Progress:      Progress(progress.Val),
		KeysetID:      string(keysetID.Val),
		HwEndorsement: endorsement.Val,
		UpdatedAt:     fromUnixNano(updated.Val),
	}
	if len(server.Val) > 0 {
		cp.ServerSpendingKey, err = btcec.ParsePubKey(server.Val)
		if err != nil {
			return nil, fmt.Errorf("server spending key: %w", err)
		}
	}

	return cp, nil
}

func encodeToBytes(encode func(io.Writer) error) ([]byte, error) {
	var b bytes.Buffer
	if err := encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}
