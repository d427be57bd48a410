package pump

import "errors"

var (
	errEmptyCBORMessage   = errors.New("pump: empty CTAPHID_CBOR message")
	errUnsupportedCommand = errors.New("pump: unsupported CTAPHID command")
)
