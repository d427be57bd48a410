package cryptoservice

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/kgiusti/tokencore/internal/keystore"
)

type wrappedKey struct {
	Kind  keystore.Kind `cbor:"1,keyasint"`
	Value []byte        `cbor:"2,keyasint"`
}

// wrapKey serializes the target key in the tagged form and encrypts
// that serialization under the wrapping key's AEAD with empty
// associated data, advancing the wrapping key's nonce counter exactly
// as a normal Encrypt would.
func (s *Service) wrapKey(req Request) Reply {
	target, _, err := s.store.LoadKey(req.KeyType, nil, req.Key)
	if err != nil {
		return Reply{Err: ErrNoSuchKey}
	}
	plaintext, err := cbor.Marshal(wrappedKey{Kind: target.Kind, Value: target.Value})
	if err != nil {
		return Reply{Err: ErrCborError}
	}

	encReq := Request{
		Client:    req.Client,
		Mechanism: MechanismChaCha8Poly1305,
		KeyType:   req.KeyType,
		Key:       req.Key2, // wrapping key
		Data:      plaintext,
	}
	reply := s.encrypt(encReq)
	if reply.Err != ErrNone {
		return reply
	}
	// Pack ciphertext || tag || nonce into Data so the caller has a
	// single opaque wrapped blob; UnwrapKey reverses this.
	blob := append(append(append([]byte(nil), reply.Data...), reply.Tag...), reply.Nonce...)
	return Reply{Data: blob}
}

// unwrapKey is the inverse of wrapKey. Authentication failure yields
// Reply{KeyPresent: false} rather than a service error, per spec.md
// §4.3's explicit distinction.
func (s *Service) unwrapKey(req Request) Reply {
	if len(req.Data) < tagSize+nonceSize {
		return Reply{Err: ErrInvalidSerializedKey}
	}
	nonceStart := len(req.Data) - nonceSize
	tagStart := nonceStart - tagSize
	ct := req.Data[:tagStart]
	tag := req.Data[tagStart:nonceStart]
	nonce := req.Data[nonceStart:]

	decReq := Request{
		Client:  req.Client,
		KeyType: req.KeyType,
		Key:     req.Key2, // wrapping key
		Data:    ct,
		Tag:     tag,
		Nonce:   nonce,
	}
	decReq.Mechanism = MechanismChaCha8Poly1305
	reply := s.decrypt(decReq)
	if reply.Err != ErrNone {
		return reply
	}
	if !reply.Valid {
		return Reply{KeyPresent: false}
	}

	var w wrappedKey
	if err := cbor.Unmarshal(reply.Data, &w); err != nil {
		return Reply{Err: ErrInvalidSerializedKey}
	}
	h, err := s.store.StoreKey(req.Location, req.KeyType, w.Kind, w.Value, s.rng)
	if err != nil {
		return Reply{Err: ErrFilesystemWriteFailure}
	}
	return Reply{Key: h, Kind: w.Kind, KeyPresent: true}
}
