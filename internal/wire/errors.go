package wire

import "fmt"

// Kind identifies the category of a node-side failure. Kinds drive
// propagation policy, not user-facing text: several kinds collapse onto the
// same reply message deliberately (decode and signature failures both
// reply MsgInvalidRequest).
type Kind int

const (
	KindDecodeError Kind = iota
	KindSignatureError
	KindNotFound
	KindStoreError
	KindTimeout
	KindStateViolation
	KindIoError
	KindKeyFormatError
)

func (k Kind) String() string {
	switch k {
	case KindDecodeError:
		return "DecodeError"
	case KindSignatureError:
		return "SignatureError"
	case KindNotFound:
		return "NotFound"
	case KindStoreError:
		return "StoreError"
	case KindTimeout:
		return "Timeout"
	case KindStateViolation:
		return "StateViolation"
	case KindIoError:
		return "IoError"
	case KindKeyFormatError:
		return "KeyFormatError"
	default:
		return "Unknown"
	}
}

// Error is a typed node-side failure carrying both its kind (for logging
// and propagation policy) and the human-readable reason.
type Error struct {
	Kind   Kind
	Reason string
}

func NewError(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Typed-error constructors, one per Kind. The reason is supplied by the
// caller; the fixed reply strings are the Msg* constants below.

func ErrDecode(reason string) *Error {
	return NewError(KindDecodeError, reason)
}

func ErrSignature(reason string) *Error {
	return NewError(KindSignatureError, reason)
}

func ErrNotFound(reason string) *Error {
	return NewError(KindNotFound, reason)
}

func ErrStore(reason string) *Error {
	return NewError(KindStoreError, reason)
}

func ErrTimeout(reason string) *Error {
	return NewError(KindTimeout, reason)
}

func ErrStateViolation(reason string) *Error {
	return NewError(KindStateViolation, reason)
}

func ErrIO(reason string) *Error {
	return NewError(KindIoError, reason)
}

func ErrKeyFormat(reason string) *Error {
	return NewError(KindKeyFormatError, reason)
}

// Literal reply messages named in the externally observable contract.
// Reproduced verbatim; callers should reference these constants rather
// than re-typing the strings.
const (
	MsgInvalidRequest            = "Invalid request"
	MsgInvalidState              = "Invalid state"
	MsgUserNotFound              = "User not found"
	MsgDataNotAssociatedWithUser = "Data not associated with user"
	MsgRecordNotFound            = "Record Not found"
	MsgDataAdded                 = "Data added"
	MsgNodeShuttingDown          = "node shutting down"
	MsgRequestTimedOut           = "Request timed out"
)
