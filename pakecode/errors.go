package pakecode

import "fmt"

// EncodingError is returned when a code cannot be built from its inputs,
// for example because an input holds fewer bits than its declared length.
type EncodingError struct {
	Reason string
}

// Error returns a human readable description of the encoding failure.
func (e *EncodingError) Error() string {
	return fmt.Sprintf("unable to encode code: %s", e.Reason)
}

// VersionError is returned when a well formed code carries a format version
// this package does not understand.
type VersionError struct {
	Expected uint8
	Actual   uint8
}

// Error returns a human readable description of the version mismatch.
func (e *VersionError) Error() string {
	return fmt.Sprintf("unsupported code version: expected %d, got %d",
		e.Expected, e.Actual)
}

// BuilderErrorKind identifies the reason a code failed to parse.
type BuilderErrorKind uint8

const (
	// ErrKindTooShort means the code has fewer symbols than the smallest
	// valid code.
	ErrKindTooShort BuilderErrorKind = iota

	// ErrKindChecksum means the check symbol does not match the data.
	ErrKindChecksum

	// ErrKindInvalidChar means the code contains a symbol outside of its
	// alphabet.
	ErrKindInvalidChar

	// ErrKindLength means the code length does not agree with the lengths
	// declared inside it.
	ErrKindLength
)

// String returns the name of the error kind.
func (k BuilderErrorKind) String() string {
	switch k {
	case ErrKindTooShort:
		return "too short"
	case ErrKindChecksum:
		return "checksum mismatch"
	case ErrKindInvalidChar:
		return "invalid character"
	case ErrKindLength:
		return "length mismatch"
	default:
		return "unknown"
	}
}

// BuilderError is returned when a code string is malformed. Expected and
// Actual carry the values that disagreed so callers can surface precise
// guidance.
type BuilderError struct {
	Kind     BuilderErrorKind
	Expected string
	Actual   string
}

// Error returns a human readable description of the parse failure.
func (e *BuilderError) Error() string {
	return fmt.Sprintf("invalid code: %v (expected %s, got %s)", e.Kind,
		e.Expected, e.Actual)
}

// newBuilderError is a small helper to build a BuilderError from arbitrary
// values.
func newBuilderError(kind BuilderErrorKind, expected,
	actual interface{}) *BuilderError {

	return &BuilderError{
		Kind:     kind,
		Expected: fmt.Sprint(expected),
		Actual:   fmt.Sprint(actual),
	}
}
