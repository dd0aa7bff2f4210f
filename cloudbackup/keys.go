package cloudbackup

import (
	"strings"
	"time"

	"github.com/lightningnetwork/recoverykit/account"
)

// KeyScheme selects how backup keys are named in the cloud store.
type KeyScheme uint8

const (
	// SchemeLegacy uses a single global key per cloud account.
	SchemeLegacy KeyScheme = iota

	// SchemeAccountScoped embeds the wallet account id in the key.
	SchemeAccountScoped
)

// String returns the name of the scheme.
func (s KeyScheme) String() string {
	switch s {
	case SchemeLegacy:
		return "legacy"
	case SchemeAccountScoped:
		return "account-scoped"
	default:
		return "unknown"
	}
}

const (
	legacyKey        = "cloud-backup"
	accountKeyPrefix = "cb-"

	// archiveTimeLayout is a fixed width ISO-8601 UTC layout, so the
	// suffix can be found without knowing the account id's shape.
	archiveTimeLayout = "2006-01-02T15:04:05.000000000Z"
)

// ActiveKey returns the key of the active backup under scheme.
func ActiveKey(scheme KeyScheme, id account.ID) string {
	if scheme == SchemeLegacy {
		return legacyKey
	}

	return accountKeyPrefix + string(id)
}

// ArchivedKey returns the key of a backup archived at ts under scheme.
func ArchivedKey(scheme KeyScheme, id account.ID, ts time.Time) string {
	return ActiveKey(scheme, id) + "-" + ts.UTC().Format(archiveTimeLayout)
}

// ParsedKey is the decomposition of a backup key.
type ParsedKey struct {
	Scheme KeyScheme

	// AccountID is empty for legacy keys.
	AccountID account.ID

	// Archived is set if the key carries a timestamp suffix.
	Archived  bool
	Timestamp time.Time
}

// ParseKey recognises keys of either scheme. The second return value is
// false for keys that do not belong to a backup.
func ParseKey(key string) (ParsedKey, bool) {
	switch {
	case key == legacyKey:
		return ParsedKey{Scheme: SchemeLegacy}, true

	case strings.HasPrefix(key, legacyKey+"-"):
		ts, err := time.Parse(
			archiveTimeLayout, strings.TrimPrefix(key, legacyKey+"-"),
		)
		if err != nil {
			return ParsedKey{}, false
		}

		return ParsedKey{
			Scheme:    SchemeLegacy,
			Archived:  true,
			Timestamp: ts,
		}, true

	case strings.HasPrefix(key, accountKeyPrefix):
		rest := strings.TrimPrefix(key, accountKeyPrefix)
		if rest == "" {
			return ParsedKey{}, false
		}

		parsed := ParsedKey{
			Scheme:    SchemeAccountScoped,
			AccountID: account.ID(rest),
		}

		split := len(rest) - len(archiveTimeLayout) - 1
		if split < 1 || rest[split] != '-' {
			return parsed, true
		}

		ts, err := time.Parse(archiveTimeLayout, rest[split+1:])
		if err != nil {
			return parsed, true
		}

		parsed.AccountID = account.ID(rest[:split])
		parsed.Archived = true
		parsed.Timestamp = ts

		return parsed, true
	}

	return ParsedKey{}, false
}
