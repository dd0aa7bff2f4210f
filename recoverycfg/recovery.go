package recoverycfg

import (
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/recoverykit/recovery"
	"github.com/lightningnetwork/recoverykit/trustsvc"
)

const (
	policyFatal  = "fatal"
	policyIgnore = "ignore"
)

// Recovery holds the feature switches of recovery completion.
//
//nolint:lll
type Recovery struct {
	AccountScopedKeys bool `long:"accountscopedkeys" description:"Write backups under the account scoped key scheme. Reads always recognise both schemes."`

	DeviceToken string `long:"devicetoken" description:"Push token registered with the trust service after spending key rotation."`

	DevicePlatform string `long:"deviceplatform" description:"Platform of the push token." choice:"apns" choice:"fcm"`

	DeviceTokenPolicy string `long:"devicetokenpolicy" description:"Whether a failed push token registration fails the spending key phase." choice:"fatal" choice:"ignore"`
}

// DefaultRecovery returns the default recovery config.
func DefaultRecovery() *Recovery {
	return &Recovery{
		DevicePlatform:    string(trustsvc.PlatformAPNS),
		DeviceTokenPolicy: policyFatal,
	}
}

// Validate validates the recovery config.
//
// NOTE: This is part of the Validator interface.
func (r *Recovery) Validate() error {
	switch r.DeviceTokenPolicy {
	case policyFatal, policyIgnore:
	default:
		return fmt.Errorf("unknown device token policy %q",
			r.DeviceTokenPolicy)
	}

	switch trustsvc.DevicePlatform(r.DevicePlatform) {
	case trustsvc.PlatformAPNS, trustsvc.PlatformFCM:
	default:
		return fmt.Errorf("unknown device platform %q",
			r.DevicePlatform)
	}

	return nil
}

// Policy returns the configured device token policy.
func (r *Recovery) Policy() recovery.DeviceTokenPolicy {
	if r.DeviceTokenPolicy == policyIgnore {
		return recovery.DeviceTokenIgnore
	}

	return recovery.DeviceTokenFatal
}

// Token returns the push token to register, if any.
func (r *Recovery) Token() fn.Option[recovery.DeviceToken] {
	if r.DeviceToken == "" {
		return fn.None[recovery.DeviceToken]()
	}

	return fn.Some(recovery.DeviceToken{
		Token:    r.DeviceToken,
		Platform: trustsvc.DevicePlatform(r.DevicePlatform),
	})
}
