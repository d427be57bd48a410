package fido

import (
	"crypto/elliptic"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

// COSE key map labels (RFC 8152) for an EC2 P-256 public key.
const (
	coseKty       = 1
	coseAlg       = 3
	coseCrv       = -1
	coseX         = -2
	coseY         = -3
	coseKtyEC2    = 2
	coseAlgES256  = -7
	coseCrvP256   = 1
)

// coseP256PublicKey encodes an uncompressed P-256 point as a COSE_Key map.
func coseP256PublicKey(x, y *big.Int) ([]byte, error) {
	m := map[int]interface{}{
		coseKty: coseKtyEC2,
		coseAlg: coseAlgES256,
		coseCrv: coseCrvP256,
		coseX:   x.FillBytes(make([]byte, 32)),
		coseY:   y.FillBytes(make([]byte, 32)),
	}
	return cbor.Marshal(m)
}

// parseCOSEP256PublicKey decodes a platform-supplied COSE_Key map into
// an uncompressed SEC1 point (0x04 || X || Y), the wire form the
// cryptoservice's Agree operation expects for a peer public key.
func parseCOSEP256PublicKey(data []byte) ([]byte, error) {
	var m map[int]interface{}
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	x, _ := m[coseX].([]byte)
	y, _ := m[coseY].([]byte)
	if len(x) != 32 || len(y) != 32 {
		return nil, errInvalidCOSEKey
	}
	point := make([]byte, 65)
	point[0] = 0x04
	copy(point[1:33], x)
	copy(point[33:], y)
	return point, nil
}

// p256PublicPoint recovers the public point for a raw 32-byte private
// scalar. The scalar itself never leaves the cryptoservice except via
// an explicit SerializeKey call; deriving the (non-secret) public half
// here keeps curve arithmetic out of the crypto service's key-owning
// core for anything that isn't a signing or agreement operation.
func p256PublicPoint(scalar []byte) (x, y *big.Int) {
	return elliptic.P256().ScalarBaseMult(scalar)
}
