package cryptoservice

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"

	"github.com/kgiusti/tokencore/internal/keystore"
)

func (s *Service) generateKey(req Request) Reply {
	var value []byte
	switch req.Kind_ {
	case keystore.KindEd25519:
		_, priv, err := ed25519.GenerateKey(s.rng)
		if err != nil {
			return Reply{Err: ErrEntropyMalfunction}
		}
		value = priv.Seed()
	case keystore.KindP256:
		priv, err := ecdsa.GenerateKey(elliptic.P256(), s.rng)
		if err != nil {
			return Reply{Err: ErrEntropyMalfunction}
		}
		value = priv.D.FillBytes(make([]byte, 32))
	case keystore.KindSymmetric32, keystore.KindSharedSecret32, keystore.KindEntropy32:
		value = make([]byte, 32)
		if _, err := s.rng.Read(value); err != nil {
			return Reply{Err: ErrEntropyMalfunction}
		}
	case keystore.KindSymmetric32Nonce12:
		// 32-byte key followed by a 12-byte zero nonce, per the AEAD
		// nonce discipline in spec.md §4.3.
		value = make([]byte, 32+12)
		if _, err := s.rng.Read(value[:32]); err != nil {
			return Reply{Err: ErrEntropyMalfunction}
		}
	case keystore.KindSymmetric24:
		value = make([]byte, 24)
		if _, err := s.rng.Read(value); err != nil {
			return Reply{Err: ErrEntropyMalfunction}
		}
	case keystore.KindSymmetric20:
		value = make([]byte, 20)
		if _, err := s.rng.Read(value); err != nil {
			return Reply{Err: ErrEntropyMalfunction}
		}
	default:
		return Reply{Err: ErrMechanismNotAvailable}
	}

	h, err := s.store.StoreKey(req.Location, req.KeyType, req.Kind_, value, s.rng)
	if err != nil {
		return Reply{Err: ErrFilesystemWriteFailure}
	}
	return Reply{Key: h, Kind: req.Kind_}
}

func (s *Service) deriveKey(req Request) Reply {
	sk, _, err := s.store.LoadKey(req.KeyType, nil, req.Key)
	if err != nil {
		return Reply{Err: ErrNoSuchKey}
	}
	derived, err := hkdfExpand(sk.Value, req.AAD, 32)
	if err != nil {
		return Reply{Err: ErrInvalidSerializedKey}
	}
	h, err := s.store.StoreKey(req.Location, req.KeyType, keystore.KindSymmetric32, derived, s.rng)
	if err != nil {
		return Reply{Err: ErrFilesystemWriteFailure}
	}
	return Reply{Key: h, Kind: keystore.KindSymmetric32}
}

func (s *Service) serializeKey(req Request) Reply {
	sk, _, err := s.store.LoadKey(req.KeyType, nil, req.Key)
	if err != nil {
		return Reply{Err: ErrNoSuchKey}
	}
	return Reply{Kind: sk.Kind, Data: sk.Value}
}

func (s *Service) deserializeKey(req Request) Reply {
	if len(req.Data) > keystore.MaxValueLen {
		return Reply{Err: ErrInvalidSerializedKey}
	}
	h, err := s.store.StoreKey(req.Location, req.KeyType, req.Kind_, req.Data, s.rng)
	if err != nil {
		return Reply{Err: ErrFilesystemWriteFailure}
	}
	return Reply{Key: h, Kind: req.Kind_}
}

func (s *Service) injectKey(req Request) Reply {
	// UnsafeInjectKey bypasses generation but follows the same
	// storage path; named "unsafe" because callers supply key
	// material directly rather than it coming from the DRBG.
	return s.deserializeKey(req)
}

func (s *Service) deleteKey(req Request) Reply {
	existed, err := s.store.DeleteKey(req.KeyType, req.Key)
	if err != nil {
		return Reply{Err: ErrFilesystemWriteFailure}
	}
	return Reply{Exists: existed}
}

func (s *Service) existsKey(req Request) Reply {
	_, _, err := s.store.LoadKey(req.KeyType, nil, req.Key)
	return Reply{Exists: err == nil}
}
