package cloudbackup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestParseKey checks recognition of both key schemes, active and archived.
func TestParseKey(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 3, 9, 18, 4, 5, 123456789, time.UTC)

	tests := []struct {
		name   string
		key    string
		ok     bool
		parsed ParsedKey
	}{{
		name:   "legacy active",
		key:    "cloud-backup",
		ok:     true,
		parsed: ParsedKey{Scheme: SchemeLegacy},
	}, {
		name: "legacy archived",
		key:  ArchivedKey(SchemeLegacy, "ignored", ts),
		ok:   true,
		parsed: ParsedKey{
			Scheme:    SchemeLegacy,
			Archived:  true,
			Timestamp: ts,
		},
	}, {
		name: "scoped active with dashes",
		key:  "cb-3f1e-42aa",
		ok:   true,
		parsed: ParsedKey{
			Scheme:    SchemeAccountScoped,
			AccountID: "3f1e-42aa",
		},
	}, {
		name: "scoped archived",
		key:  ArchivedKey(SchemeAccountScoped, "3f1e-42aa", ts),
		ok:   true,
		parsed: ParsedKey{
			Scheme:    SchemeAccountScoped,
			AccountID: "3f1e-42aa",
			Archived:  true,
			Timestamp: ts,
		},
	}, {
		name: "legacy with bad suffix",
		key:  "cloud-backup-yesterday",
	}, {
		name: "empty scoped id",
		key:  "cb-",
	}, {
		name: "unrelated",
		key:  "photos",
	}}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			parsed, ok := ParseKey(tc.key)
			require.Equal(t, tc.ok, ok)
			if !ok {
				return
			}

			require.Equal(t, tc.parsed.Scheme, parsed.Scheme)
			require.Equal(t, tc.parsed.AccountID, parsed.AccountID)
			require.Equal(t, tc.parsed.Archived, parsed.Archived)
			require.True(t, tc.parsed.Timestamp.Equal(parsed.Timestamp))
		})
	}
}

// TestArchivedKeyFormat pins the archived key layout.
func TestArchivedKeyFormat(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 3, 9, 18, 4, 5, 7, time.FixedZone("x", 3600))

	require.Equal(t, "cb-acct-2024-03-09T17:04:05.000000007Z",
		ArchivedKey(SchemeAccountScoped, "acct", ts))
	require.Equal(t, "cloud-backup-2024-03-09T17:04:05.000000007Z",
		ArchivedKey(SchemeLegacy, "acct", ts))
	require.Equal(t, "cb-acct", ActiveKey(SchemeAccountScoped, "acct"))
	require.Equal(t, "cloud-backup", ActiveKey(SchemeLegacy, "acct"))
}
