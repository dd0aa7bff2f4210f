package pakecode

import (
	"encoding/hex"
	"strings"
)

const (
	// InviteCodeVersion is the format version written into invite codes.
	InviteCodeVersion uint8 = 0

	// InvitePakeBits is the number of PAKE bits carried by an invite code.
	InvitePakeBits = 23

	// inviteVersionBits is the width of the version field.
	inviteVersionBits = 1

	// inviteReservedBits pads the bit string to a whole number of
	// symbols. They must be zero.
	inviteReservedBits = 1

	// inviteServerBitsUnit is the granularity of the server part length.
	inviteServerBitsUnit = 5

	// inviteSymbolBits is the width of one base32 symbol.
	inviteSymbolBits = 5

	// inviteGroupSize is the number of symbols between hyphens.
	inviteGroupSize = 4

	// inviteFixedBits is the number of bits every invite code carries in
	// addition to its server part.
	inviteFixedBits = inviteVersionBits + InvitePakeBits +
		inviteReservedBits

	// minInviteSymbols is the length of the shortest valid invite code,
	// one server unit plus the check symbol.
	minInviteSymbols = (inviteFixedBits+inviteServerBitsUnit)/
		inviteSymbolBits + 1
)

// inviteAlphabet is the Crockford base32 alphabet. It omits I, L, O and U so
// codes survive being read aloud or copied by hand.
const inviteAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// InviteCode is the decoded content of a social recovery invite code.
type InviteCode struct {
	// ServerPart is the hex encoded server issued part, left justified
	// and with bits past ServerBits cleared.
	ServerPart string

	// ServerBits is the significant length of ServerPart in bits.
	ServerBits int

	// Pake is the locally generated PAKE secret. Only the first
	// InvitePakeBits bits are significant.
	Pake []byte
}

// BuildInviteCode packs the first serverBits bits of the hex encoded server
// part and the first InvitePakeBits bits of pake into a hyphenated base32
// code with a trailing check symbol.
func BuildInviteCode(serverPart string, serverBits int,
	pake []byte) (string, error) {

	server, err := decodeServerHex(serverPart)
	if err != nil {
		return "", err
	}

	switch {
	case serverBits <= 0 || serverBits%inviteServerBitsUnit != 0:
		return "", &EncodingError{
			Reason: "server bit length must be a positive " +
				"multiple of 5",
		}

	case serverBits > len(serverPart)*4:
		return "", &EncodingError{
			Reason: "server part shorter than its bit length",
		}

	case len(pake)*8 < InvitePakeBits:
		return "", &EncodingError{
			Reason: "pake code shorter than 23 bits",
		}
	}

	w := &bitWriter{}
	w.writeUint(uint64(InviteCodeVersion), inviteVersionBits)
	w.writeBytes(pake, InvitePakeBits)
	w.writeBytes(server, serverBits)
	w.writeUint(0, inviteReservedBits)

	syms := w.symbols(inviteSymbolBits)
	syms = append(syms, inviteCheckSymbol(syms))

	var raw strings.Builder
	for _, sym := range syms {
		raw.WriteByte(inviteAlphabet[sym])
	}

	return hyphenate(raw.String(), inviteGroupSize), nil
}

// ParseInviteCode reverses BuildInviteCode. Hyphens and case are ignored.
func ParseInviteCode(code string) (*InviteCode, error) {
	raw := strings.ToUpper(strings.ReplaceAll(code, "-", ""))
	if len(raw) < minInviteSymbols {
		return nil, newBuilderError(
			ErrKindTooShort, minInviteSymbols, len(raw),
		)
	}

	syms := make([]uint8, len(raw))
	for i := 0; i < len(raw); i++ {
		idx := strings.IndexByte(inviteAlphabet, raw[i])
		if idx < 0 {
			return nil, newBuilderError(
				ErrKindInvalidChar, "base32 symbol",
				string(raw[i]),
			)
		}
		syms[i] = uint8(idx)
	}

	data, check := syms[:len(syms)-1], syms[len(syms)-1]
	if want := inviteCheckSymbol(data); want != check {
		return nil, newBuilderError(
			ErrKindChecksum, string(inviteAlphabet[want]),
			string(inviteAlphabet[check]),
		)
	}

	r := newSymbolReader(data, inviteSymbolBits)
	serverBits := r.remaining() - inviteFixedBits

	version := uint8(r.readUint(inviteVersionBits))
	if version != InviteCodeVersion {
		return nil, &VersionError{
			Expected: InviteCodeVersion,
			Actual:   version,
		}
	}

	pake := r.readBytes(InvitePakeBits)
	server := r.readBytes(serverBits)

	// A set reserved bit can only come from a newer encoder.
	if reserved := r.readUint(inviteReservedBits); reserved != 0 {
		return nil, &VersionError{
			Expected: InviteCodeVersion,
			Actual:   version | uint8(reserved)<<inviteVersionBits,
		}
	}

	return &InviteCode{
		ServerPart: hex.EncodeToString(server),
		ServerBits: serverBits,
		Pake:       pake,
	}, nil
}

// inviteCheckSymbol computes the check symbol for the data symbols. Symbols
// are weighted 1 and 3 alternately. Both weights are odd and so invertible
// mod 32, which means any single substituted symbol changes the sum.
func inviteCheckSymbol(syms []uint8) uint8 {
	var sum int
	for i, sym := range syms {
		weight := 1
		if i%2 == 1 {
			weight = 3
		}
		sum += int(sym) * weight
	}

	return uint8((32 - sum%32) % 32)
}

// decodeServerHex converts a hex string of any length into bytes, padding an
// odd trailing nibble with zero bits.
func decodeServerHex(serverPart string) ([]byte, error) {
	padded := serverPart
	if len(padded)%2 == 1 {
		padded += "0"
	}

	b, err := hex.DecodeString(padded)
	if err != nil {
		return nil, &EncodingError{
			Reason: "server part is not hex: " + err.Error(),
		}
	}

	return b, nil
}

// hyphenate inserts a hyphen between every group of size characters.
func hyphenate(s string, size int) string {
	var b strings.Builder
	for i := 0; i < len(s); i += size {
		if i > 0 {
			b.WriteByte('-')
		}
		end := i + size
		if end > len(s) {
			end = len(s)
		}
		b.WriteString(s[i:end])
	}

	return b.String()
}
