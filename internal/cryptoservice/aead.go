package cryptoservice

import (
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/kgiusti/tokencore/internal/keystore"
)

// nonceSize and tagSize match chacha20poly1305.NonceSize/Overhead;
// named here so the nonce-increment logic below reads without a
// package-qualified constant on every line.
const (
	nonceSize = chacha20poly1305.NonceSize // 12
	tagSize   = chacha20poly1305.Overhead  // 16
)

// incrementNonceLE adds 1 to a little-endian 12-byte counter with
// carry propagation across all bytes. It reports an overflow if the
// carry propagates out of the top byte, in which case n has wrapped
// to all zeros; encrypt increments a copy and discards it on overflow,
// so the stored counter is left as it was.
func incrementNonceLE(n []byte) (overflowed bool) {
	for i := 0; i < len(n); i++ {
		n[i]++
		if n[i] != 0 {
			return false
		}
	}
	return true
}

func splitKeyNonce(value []byte) (key, nonce []byte, ok bool) {
	if len(value) != 32+nonceSize {
		return nil, nil, false
	}
	return value[:32], value[32:], true
}

func (s *Service) encrypt(req Request) Reply {
	if req.Mechanism == MechanismTDES {
		return s.encryptTDES(req)
	}
	if req.Mechanism != MechanismChaCha8Poly1305 {
		return Reply{Err: ErrMechanismNotAvailable}
	}
	sk, loc, err := s.store.LoadKey(req.KeyType, kindPtr(keystore.KindSymmetric32Nonce12), req.Key)
	if err != nil {
		if err == keystore.ErrWrongKeyKind {
			return Reply{Err: ErrWrongKeyKind}
		}
		return Reply{Err: ErrNoSuchKey}
	}
	key, nonce, ok := splitKeyNonce(sk.Value)
	if !ok {
		return Reply{Err: ErrInvalidSerializedKey}
	}

	useNonce := nonce
	advanceCounter := req.Nonce == nil
	if !advanceCounter {
		useNonce = req.Nonce
	} else {
		next := append([]byte(nil), nonce...)
		if overflowed := incrementNonceLE(next); overflowed {
			return Reply{Err: ErrNonceOverflow}
		}
		useNonce = next
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return Reply{Err: ErrInvalidSerializedKey}
	}
	sealed := aead.Seal(nil, useNonce, req.Data, req.AAD)
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	if advanceCounter {
		updated := append(append([]byte(nil), key...), useNonce...)
		if err := s.store.OverwriteKey(loc, req.KeyType, keystore.KindSymmetric32Nonce12, req.Key, updated); err != nil {
			return Reply{Err: ErrFilesystemWriteFailure}
		}
	}

	return Reply{Data: ct, Nonce: useNonce, Tag: tag}
}

func (s *Service) decrypt(req Request) Reply {
	if req.Mechanism == MechanismTDES {
		return s.decryptTDES(req)
	}
	if req.Mechanism != MechanismChaCha8Poly1305 {
		return Reply{Err: ErrMechanismNotAvailable}
	}
	sk, _, err := s.store.LoadKey(req.KeyType, kindPtr(keystore.KindSymmetric32Nonce12), req.Key)
	if err != nil {
		if err == keystore.ErrWrongKeyKind {
			return Reply{Err: ErrWrongKeyKind}
		}
		return Reply{Err: ErrNoSuchKey}
	}
	key, _, ok := splitKeyNonce(sk.Value)
	if !ok {
		return Reply{Err: ErrInvalidSerializedKey}
	}
	// The stored nonce is never consulted for Decrypt; the caller
	// supplies both nonce and tag, per spec.md §4.3.
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return Reply{Err: ErrInvalidSerializedKey}
	}
	sealed := append(append([]byte(nil), req.Data...), req.Tag...)
	pt, err := aead.Open(nil, req.Nonce, sealed, req.AAD)
	if err != nil {
		// Authentication failure is not a service error: it is a
		// valid outcome the caller must check for explicitly.
		return Reply{Valid: false}
	}
	return Reply{Data: pt, Valid: true}
}

func kindPtr(k keystore.Kind) *keystore.Kind { return &k }
