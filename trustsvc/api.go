package trustsvc

import (
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/recoverykit/account"
)

// Tokens is an access/refresh token pair issued for one auth scope.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// ActiveRecovery is the service's view of an in-progress Delay-and-Notify
// recovery.
type ActiveRecovery struct {
	LostFactor account.Factor
	DelayStart time.Time
	DelayEnd   time.Time
}

// RotateAuthKeysRequest replaces the account's auth keys. The challenge must
// be signed by the hardware auth key.
type RotateAuthKeysRequest struct {
	Challenge          []byte
	HwSignature        []byte
	NewAppAuthKey      *btcec.PublicKey
	NewRecoveryAuthKey *btcec.PublicKey
	SealedCsek         []byte
}

// CancelOutcome is the result of a cancellation request the service
// accepted for processing.
type CancelOutcome uint8

const (
	// CancelAccepted means the recovery is cancelled.
	CancelAccepted CancelOutcome = iota

	// CancelNeedsCommsVerification means the user must first verify a
	// notification channel, after which the cancellation is re-issued.
	CancelNeedsCommsVerification
)

// String returns the name of the outcome.
func (o CancelOutcome) String() string {
	switch o {
	case CancelAccepted:
		return "accepted"
	case CancelNeedsCommsVerification:
		return "needs-comms-verification"
	default:
		return "unknown"
	}
}

// DevicePlatform names the push service a device token belongs to.
type DevicePlatform string

const (
	PlatformAPNS DevicePlatform = "apns"
	PlatformFCM  DevicePlatform = "fcm"
)

type tokenResponse struct {
	Tokens
}

type refreshRequest struct {
	RefreshToken string            `json:"refresh_token"`
	Scope        account.AuthScope `json:"scope"`
}

type challengeRequest struct {
	AuthKey string            `json:"auth_key"`
	Scope   account.AuthScope `json:"scope"`
}

type challengeResponse struct {
	Session   string `json:"session"`
	Challenge []byte `json:"challenge"`
}

type challengeAnswer struct {
	Session   string `json:"session"`
	Signature []byte `json:"signature"`
}

type recoveryResponse struct {
	LostFactor string    `json:"lost_factor"`
	DelayStart time.Time `json:"delay_start_time"`
	DelayEnd   time.Time `json:"delay_end_time"`
}

type rotateAuthKeysBody struct {
	Challenge          []byte `json:"challenge"`
	HwSignature        []byte `json:"hardware_signature"`
	NewAppAuthKey      string `json:"application"`
	NewRecoveryAuthKey string `json:"recovery"`
	SealedCsek         []byte `json:"sealed_csek"`
}

type createKeysetBody struct {
	Network     account.Network `json:"network"`
	AppKey      string          `json:"app"`
	HardwareKey string          `json:"hardware"`
}

type createKeysetResponse struct {
	KeysetID  string `json:"keyset_id"`
	ServerKey string `json:"server"`
}

type deviceTokenBody struct {
	Token    string         `json:"device_token"`
	Platform DevicePlatform `json:"platform"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// codeCommsVerificationRequired is the error code the service uses when a
// cancellation needs a verified notification channel first.
const codeCommsVerificationRequired = "COMMS_VERIFICATION_REQUIRED"
