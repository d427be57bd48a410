package cryptoservice

import "errors"

// Error is a stable, comparable error kind surfaced in a Reply. Unlike
// a plain Go error it round-trips through the Reply envelope without
// needing to implement the error interface itself; AsError() adapts it
// when a caller wants an `error`.
type Error int

const (
	ErrNone Error = iota
	ErrNoSuchKey
	ErrWrongKeyKind
	ErrInvalidSerializedKey
	ErrMechanismNotAvailable
	ErrEntropyMalfunction
	ErrNonceOverflow
	ErrFilesystemReadFailure
	ErrFilesystemWriteFailure
	ErrCborError
)

func (e Error) String() string {
	switch e {
	case ErrNone:
		return "none"
	case ErrNoSuchKey:
		return "NoSuchKey"
	case ErrWrongKeyKind:
		return "WrongKeyKind"
	case ErrInvalidSerializedKey:
		return "InvalidSerializedKey"
	case ErrMechanismNotAvailable:
		return "MechanismNotAvailable"
	case ErrEntropyMalfunction:
		return "EntropyMalfunction"
	case ErrNonceOverflow:
		return "NonceOverflow"
	case ErrFilesystemReadFailure:
		return "FilesystemReadFailure"
	case ErrFilesystemWriteFailure:
		return "FilesystemWriteFailure"
	case ErrCborError:
		return "CborError"
	default:
		return "Unknown"
	}
}

// AsError adapts an Error kind to a Go error, or nil for ErrNone.
func (e Error) AsError() error {
	if e == ErrNone {
		return nil
	}
	return errors.New("cryptoservice: " + e.String())
}
