package keystore

import (
	"github.com/fxamacker/cbor/v2"
)

// wireKey is the on-disk CBOR encoding of a SerializedKey: a fixed,
// two-field map so the format is stable even if fields are ever added
// (new fields simply aren't present in old blobs).
type wireKey struct {
	Kind  Kind   `cbor:"1,keyasint"`
	Value []byte `cbor:"2,keyasint"`
}

var cborEncMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(err) // fixed, valid option set; unreachable
	}
	return mode
}()

func encodeSerializedKey(sk SerializedKey) ([]byte, error) {
	return cborEncMode.Marshal(wireKey{Kind: sk.Kind, Value: sk.Value})
}

func decodeSerializedKey(blob []byte) (SerializedKey, error) {
	var w wireKey
	if err := cbor.Unmarshal(blob, &w); err != nil {
		return SerializedKey{}, err
	}
	return SerializedKey{Kind: w.Kind, Value: w.Value}, nil
}
