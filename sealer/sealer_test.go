package sealer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestSealUnseal checks that a sealed payload opens under the same key and
// associated data, and that any modification is rejected.
func TestSealUnseal(t *testing.T) {
	t.Parallel()

	key := bytes.Repeat([]byte{0x42}, KeySize)
	aad := []byte("cloud-backup")
	plaintext := []byte("payload test plain text")

	payloadCases := []struct {
		name string

		// mutator allows a test case to modify the sealed payload or
		// the inputs before we attempt to open it.
		mutator func(s *SealedData, key, aad *[]byte)

		valid bool
	}{
		{
			name:  "untouched",
			valid: true,
		},
		{
			name: "flipped ciphertext",
			mutator: func(s *SealedData, _, _ *[]byte) {
				s.Ciphertext[0] ^= 1
			},
		},
		{
			name: "flipped nonce",
			mutator: func(s *SealedData, _, _ *[]byte) {
				s.Nonce[0] ^= 1
			},
		},
		{
			name: "wrong key",
			mutator: func(_ *SealedData, key, _ *[]byte) {
				*key = bytes.Repeat([]byte{0x43}, KeySize)
			},
		},
		{
			name: "wrong aad",
			mutator: func(_ *SealedData, _, aad *[]byte) {
				*aad = []byte("other")
			},
		},
	}

	crypto := &XChaCha{}
	for _, tc := range payloadCases {
		t.Run(tc.name, func(t *testing.T) {
			sealed, err := crypto.SealSymmetric(key, aad, plaintext)
			require.NoError(t, err)

			openKey, openAAD := key, aad
			if tc.mutator != nil {
				tc.mutator(sealed, &openKey, &openAAD)
			}

			opened, err := crypto.UnsealSymmetric(
				openKey, openAAD, sealed,
			)
			if tc.valid {
				require.NoError(t, err)
				require.Equal(t, plaintext, opened)

				return
			}

			var decryptErr *DecryptError
			require.ErrorAs(t, err, &decryptErr)
		})
	}
}

// TestSealedDataBytes checks serialization of sealed payloads.
func TestSealedDataBytes(t *testing.T) {
	t.Parallel()

	crypto := &XChaCha{}
	key, err := GenerateKey()
	require.NoError(t, err)

	sealed, err := crypto.SealSymmetric(key, nil, []byte("csek"))
	require.NoError(t, err)

	parsed, err := ParseSealedData(sealed.Bytes())
	require.NoError(t, err)
	require.Equal(t, sealed, parsed)

	_, err = ParseSealedData(sealed.Bytes()[:10])
	require.ErrorIs(t, err, ErrMalformedPayload)

	bad := sealed.Bytes()
	bad[0] = 9
	_, err = ParseSealedData(bad)
	require.ErrorIs(t, err, ErrMalformedPayload)

	_, err = crypto.SealSymmetric(key[:16], nil, []byte("csek"))
	require.ErrorIs(t, err, ErrInvalidKey)
}
