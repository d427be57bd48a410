package fido

import "errors"

var (
	errInvalidCOSEKey     = errors.New("fido: invalid COSE key")
	errNoSuchCredential   = errors.New("fido: no matching resident credential")
	errPinRequired        = errors.New("fido: pin protocol not yet initialized")
	errCounterExhausted   = errors.New("fido: signature counter exhausted")
	errUnsupportedCommand = errors.New("fido: unsupported CTAP2 command")
)
