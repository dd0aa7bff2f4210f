package pakecode

import (
	"strconv"
	"strings"
)

const (
	// RecoveryCodeVersion is the format version written into recovery
	// codes.
	RecoveryCodeVersion uint8 = 0

	// RecoveryPakeBits is the number of PAKE bits carried by a recovery
	// code.
	RecoveryPakeBits = 35

	// MaxRecoveryServerBits is the widest server part that still fits a
	// sixteen digit recovery code.
	MaxRecoveryServerBits = 6

	recoveryVersionBits = 4
	recoveryLengthBits  = 4

	// recoveryServerShift is the offset of the server part within the
	// packed integer.
	recoveryServerShift = RecoveryPakeBits + recoveryLengthBits +
		recoveryVersionBits
)

var (
	// minRecoveryDigits is the length of a recovery code with an empty
	// server part, including the check digit.
	minRecoveryDigits = recoveryDigits(0) + 1

	// maxRecoveryDigits is the length of a recovery code with the widest
	// server part, including the check digit.
	maxRecoveryDigits = recoveryDigits(MaxRecoveryServerBits) + 1
)

// RecoveryCode is the decoded content of a social recovery code.
type RecoveryCode struct {
	// ServerPart is the server issued integer.
	ServerPart uint64

	// ServerBits is the declared width of ServerPart.
	ServerBits int

	// Pake is the PAKE secret, five bytes of which the first
	// RecoveryPakeBits bits are significant.
	Pake []byte
}

// BuildRecoveryCode packs the server part and the first RecoveryPakeBits bits
// of pake into a zero padded decimal numeral followed by a Luhn check digit.
func BuildRecoveryCode(serverPart uint64, serverBits int,
	pake []byte) (string, error) {

	switch {
	case serverBits < 0 || serverBits > MaxRecoveryServerBits:
		return "", &EncodingError{
			Reason: "server bit length must be between 0 and " +
				strconv.Itoa(MaxRecoveryServerBits),
		}

	case serverPart>>uint(serverBits) != 0:
		return "", &EncodingError{
			Reason: "server part wider than its bit length",
		}

	case len(pake)*8 < RecoveryPakeBits:
		return "", &EncodingError{
			Reason: "pake code shorter than 35 bits",
		}
	}

	w := &bitWriter{}
	w.writeBytes(pake, RecoveryPakeBits)
	pakeBits := (&bitReader{bits: w.bits}).readUint(RecoveryPakeBits)

	packed := serverPart<<recoveryServerShift |
		pakeBits<<(recoveryLengthBits+recoveryVersionBits) |
		uint64(serverBits)<<recoveryVersionBits |
		uint64(RecoveryCodeVersion)

	digits := strconv.FormatUint(packed, 10)
	width := recoveryDigits(serverBits)
	if pad := width - len(digits); pad > 0 {
		digits = strings.Repeat("0", pad) + digits
	}

	return digits + string(luhnCheckDigit(digits)), nil
}

// ParseRecoveryCode reverses BuildRecoveryCode. Spaces and hyphens are
// ignored.
func ParseRecoveryCode(code string) (*RecoveryCode, error) {
	digits := strings.NewReplacer(" ", "", "-", "").Replace(code)

	switch {
	case len(digits) < minRecoveryDigits:
		return nil, newBuilderError(
			ErrKindTooShort, minRecoveryDigits, len(digits),
		)

	case len(digits) > maxRecoveryDigits:
		return nil, newBuilderError(
			ErrKindLength, maxRecoveryDigits, len(digits),
		)
	}

	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return nil, newBuilderError(
				ErrKindInvalidChar, "decimal digit",
				string(digits[i]),
			)
		}
	}

	body, check := digits[:len(digits)-1], digits[len(digits)-1]
	if want := luhnCheckDigit(body); want != check {
		return nil, newBuilderError(
			ErrKindChecksum, string(want), string(check),
		)
	}

	packed, err := strconv.ParseUint(body, 10, 64)
	if err != nil {
		return nil, newBuilderError(ErrKindLength, "64-bit value", body)
	}

	version := uint8(packed & (1<<recoveryVersionBits - 1))
	if version != RecoveryCodeVersion {
		return nil, &VersionError{
			Expected: RecoveryCodeVersion,
			Actual:   version,
		}
	}

	serverBits := int(packed >> recoveryVersionBits &
		(1<<recoveryLengthBits - 1))
	if serverBits > MaxRecoveryServerBits {
		return nil, newBuilderError(
			ErrKindLength, MaxRecoveryServerBits, serverBits,
		)
	}
	if want := recoveryDigits(serverBits); want != len(body) {
		return nil, newBuilderError(ErrKindLength, want, len(body))
	}

	pakeBits := packed >> (recoveryLengthBits + recoveryVersionBits) &
		(1<<RecoveryPakeBits - 1)

	return &RecoveryCode{
		ServerPart: packed >> recoveryServerShift,
		ServerBits: serverBits,
		Pake:       leftJustifiedBytes(pakeBits, RecoveryPakeBits),
	}, nil
}

// recoveryDigits is the number of decimal digits, without the check digit,
// used for a code whose server part is serverBits wide.
func recoveryDigits(serverBits int) int {
	largest := uint64(1)<<uint(recoveryServerShift+serverBits) - 1

	return len(strconv.FormatUint(largest, 10))
}

// luhnCheckDigit returns the Luhn check digit for a decimal string. Luhn
// detects every single digit substitution.
func luhnCheckDigit(digits string) byte {
	var sum int
	for i := 0; i < len(digits); i++ {
		d := int(digits[len(digits)-1-i] - '0')
		if i%2 == 0 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}

	return byte('0' + (10-sum%10)%10)
}
