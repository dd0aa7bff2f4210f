package pakecode

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestInviteCodeVectors checks known invite codes in both directions.
func TestInviteCodeVectors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		serverPart string
		serverBits int
		pake       []byte
		code       string
		wantServer string
		wantPake   []byte
	}{
		{
			name:       "20 bit server part",
			serverPart: "abc123",
			serverBits: 20,
			pake:       []byte{0xfe, 0xdc, 0x20},
			code:       "FXQ1-1AY1-4W",
			wantServer: "abc120",
			wantPake:   []byte{0xfe, 0xdc, 0x20},
		},
		{
			name:       "40 bit server part",
			serverPart: "0123456789",
			serverBits: 40,
			pake:       []byte{0x12, 0x34, 0x56},
			code:       "14D2-P093-8NKR-J4",
			wantServer: "0123456789",
			wantPake:   []byte{0x12, 0x34, 0x56},
		},
		{
			name:       "shortest code",
			serverPart: "ff",
			serverBits: 5,
			pake:       []byte{0x00, 0x00, 0x02},
			code:       "0000-3Y3",
			wantServer: "f8",
			wantPake:   []byte{0x00, 0x00, 0x02},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, err := BuildInviteCode(
				tc.serverPart, tc.serverBits, tc.pake,
			)
			require.NoError(t, err)
			require.Equal(t, tc.code, code)

			parsed, err := ParseInviteCode(code)
			require.NoError(t, err)
			require.Equal(t, tc.wantServer, parsed.ServerPart)
			require.Equal(t, tc.serverBits, parsed.ServerBits)
			require.Equal(t, tc.wantPake, parsed.Pake)
		})
	}
}

// TestBuildInviteCodeInputErrors checks that undersized inputs are rejected.
func TestBuildInviteCodeInputErrors(t *testing.T) {
	t.Parallel()

	pake := []byte{1, 2, 3}
	var encErr *EncodingError

	_, err := BuildInviteCode("abc1", 20, pake)
	require.ErrorAs(t, err, &encErr)

	_, err = BuildInviteCode("abc123", 18, pake)
	require.ErrorAs(t, err, &encErr)

	_, err = BuildInviteCode("abc123", 0, pake)
	require.ErrorAs(t, err, &encErr)

	_, err = BuildInviteCode("abc123", 20, []byte{1, 2})
	require.ErrorAs(t, err, &encErr)

	_, err = BuildInviteCode("zz", 5, pake)
	require.ErrorAs(t, err, &encErr)
}

// TestParseInviteCodeErrors covers each parse failure kind.
func TestParseInviteCodeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		code string
		kind BuilderErrorKind
	}{
		{
			name: "too short",
			code: "FXQ1-1A",
			kind: ErrKindTooShort,
		},
		{
			name: "invalid character",
			code: "FXQ1-1AU1-4W",
			kind: ErrKindInvalidChar,
		},
		{
			name: "checksum",
			code: "FXQ1-1AY1-4X",
			kind: ErrKindChecksum,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseInviteCode(tc.code)

			var builderErr *BuilderError
			require.ErrorAs(t, err, &builderErr)
			require.Equal(t, tc.kind, builderErr.Kind)
			require.NotEmpty(t, builderErr.Expected)
			require.NotEmpty(t, builderErr.Actual)
		})
	}
}

// TestParseInviteCodeVersion checks that a correctly checksummed code from a
// newer format is rejected with a VersionError.
func TestParseInviteCodeVersion(t *testing.T) {
	t.Parallel()

	_, err := ParseInviteCode("ZXQ1-1AY1-4C")

	var versionErr *VersionError
	require.ErrorAs(t, err, &versionErr)
	require.Equal(t, InviteCodeVersion, versionErr.Expected)
	require.EqualValues(t, 1, versionErr.Actual)

	var builderErr *BuilderError
	require.NotErrorAs(t, err, &builderErr)
}

// TestParseInviteCodeCaseInsensitive checks that lower case input parses.
func TestParseInviteCodeCaseInsensitive(t *testing.T) {
	t.Parallel()

	parsed, err := ParseInviteCode("fxq11ay14w")
	require.NoError(t, err)
	require.Equal(t, "abc120", parsed.ServerPart)
}

func genInviteInputs(t *rapid.T) (string, int, []byte) {
	serverBits := rapid.IntRange(1, 16).Draw(t, "units") * 5
	serverBytes := rapid.SliceOfN(
		rapid.Byte(), (serverBits+7)/8, (serverBits+7)/8,
	).Draw(t, "server")
	pake := rapid.SliceOfN(rapid.Byte(), 3, 3).Draw(t, "pake")

	return hex.EncodeToString(serverBytes), serverBits, pake
}

// maskBits clears every bit of b past the first n.
func maskBits(b []byte, n int) []byte {
	out := make([]byte, (n+7)/8)
	copy(out, b)
	if rem := n % 8; rem != 0 {
		out[len(out)-1] &= byte(0xff << (8 - rem))
	}

	return out
}

// TestInviteCodeRoundTrip checks that parsing a built code returns the
// inputs truncated to their declared lengths.
func TestInviteCodeRoundTrip(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		serverPart, serverBits, pake := genInviteInputs(t)

		code, err := BuildInviteCode(serverPart, serverBits, pake)
		require.NoError(t, err)

		parsed, err := ParseInviteCode(code)
		require.NoError(t, err)

		server, _ := hex.DecodeString(serverPart)
		require.Equal(
			t, hex.EncodeToString(maskBits(server, serverBits)),
			parsed.ServerPart,
		)
		require.Equal(t, serverBits, parsed.ServerBits)
		require.Equal(t, maskBits(pake, InvitePakeBits), parsed.Pake)
	})
}

// TestInviteCodeSingleSymbolCorruption checks that replacing any one symbol
// of a valid code with a different one is caught by the checksum.
func TestInviteCodeSingleSymbolCorruption(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		serverPart, serverBits, pake := genInviteInputs(t)

		code, err := BuildInviteCode(serverPart, serverBits, pake)
		require.NoError(t, err)

		raw := []byte(strings.ReplaceAll(code, "-", ""))
		pos := rapid.IntRange(0, len(raw)-1).Draw(t, "pos")
		replacement := rapid.SampledFrom(
			[]byte(inviteAlphabet),
		).Filter(func(b byte) bool {
			return b != raw[pos]
		}).Draw(t, "replacement")
		raw[pos] = replacement

		_, err = ParseInviteCode(string(raw))

		var builderErr *BuilderError
		require.ErrorAs(t, err, &builderErr)
		require.Equal(t, ErrKindChecksum, builderErr.Kind)
	})
}
