package cryptoservice

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/asn1"
	"math/big"

	"github.com/kgiusti/tokencore/internal/keystore"
)

func (s *Service) sign(req Request) Reply {
	switch req.Mechanism {
	case MechanismEd25519:
		sk, _, err := s.store.LoadKey(req.KeyType, kindPtr(keystore.KindEd25519), req.Key)
		if err != nil {
			return Reply{Err: ErrNoSuchKey}
		}
		priv := ed25519.NewKeyFromSeed(sk.Value)
		return Reply{Signature: ed25519.Sign(priv, req.Data)}
	case MechanismP256:
		sk, _, err := s.store.LoadKey(req.KeyType, kindPtr(keystore.KindP256), req.Key)
		if err != nil {
			return Reply{Err: ErrNoSuchKey}
		}
		priv := p256PrivateFromSeed(sk.Value)
		digest := req.Data
		if req.Variant != SignaturePrehashed {
			h := sha256.Sum256(req.Data)
			digest = h[:]
		}
		r, sVal, err := ecdsa.Sign(s.rng, priv, digest)
		if err != nil {
			return Reply{Err: ErrEntropyMalfunction}
		}
		switch req.Variant {
		case SignatureASN1DER:
			der, err := asn1.Marshal(struct{ R, S *big.Int }{r, sVal})
			if err != nil {
				return Reply{Err: ErrInvalidSerializedKey}
			}
			return Reply{Signature: der}
		default:
			sig := make([]byte, 64)
			r.FillBytes(sig[:32])
			sVal.FillBytes(sig[32:])
			return Reply{Signature: sig}
		}
	default:
		return Reply{Err: ErrMechanismNotAvailable}
	}
}

func (s *Service) verify(req Request) Reply {
	switch req.Mechanism {
	case MechanismEd25519:
		sk, _, err := s.store.LoadKey(req.KeyType, kindPtr(keystore.KindEd25519), req.Key)
		if err != nil {
			return Reply{Err: ErrNoSuchKey}
		}
		priv := ed25519.NewKeyFromSeed(sk.Value)
		pub := priv.Public().(ed25519.PublicKey)
		return Reply{Valid: ed25519.Verify(pub, req.Data, req.Signature)}
	case MechanismP256:
		sk, _, err := s.store.LoadKey(req.KeyType, kindPtr(keystore.KindP256), req.Key)
		if err != nil {
			return Reply{Err: ErrNoSuchKey}
		}
		priv := p256PrivateFromSeed(sk.Value)
		digest := req.Data
		if req.Variant != SignaturePrehashed {
			h := sha256.Sum256(req.Data)
			digest = h[:]
		}
		var r, sVal *big.Int
		switch req.Variant {
		case SignatureASN1DER:
			var parsed struct{ R, S *big.Int }
			if _, err := asn1.Unmarshal(req.Signature, &parsed); err != nil {
				return Reply{Valid: false}
			}
			r, sVal = parsed.R, parsed.S
		default:
			if len(req.Signature) != 64 {
				return Reply{Valid: false}
			}
			r = new(big.Int).SetBytes(req.Signature[:32])
			sVal = new(big.Int).SetBytes(req.Signature[32:])
		}
		return Reply{Valid: ecdsa.Verify(&priv.PublicKey, digest, r, sVal)}
	default:
		return Reply{Err: ErrMechanismNotAvailable}
	}
}

func (s *Service) agree(req Request) Reply {
	if req.Mechanism != MechanismP256 {
		return Reply{Err: ErrMechanismNotAvailable}
	}
	sk, _, err := s.store.LoadKey(req.KeyType, kindPtr(keystore.KindP256), req.Key)
	if err != nil {
		return Reply{Err: ErrNoSuchKey}
	}
	peer, _, err := s.store.LoadKey(keystore.Public, kindPtr(keystore.KindP256), req.Key2)
	if err != nil {
		return Reply{Err: ErrNoSuchKey}
	}
	priv := p256PrivateFromSeed(sk.Value)
	curve := elliptic.P256()
	if len(peer.Value) != 65 || peer.Value[0] != 0x04 {
		return Reply{Err: ErrInvalidSerializedKey}
	}
	px := new(big.Int).SetBytes(peer.Value[1:33])
	py := new(big.Int).SetBytes(peer.Value[33:65])
	if !curve.IsOnCurve(px, py) {
		return Reply{Err: ErrInvalidSerializedKey}
	}
	sx, _ := curve.ScalarMult(px, py, priv.D.Bytes())
	shared := sx.FillBytes(make([]byte, 32))

	h, err := s.store.StoreKey(req.Location, keystore.Secret, keystore.KindSharedSecret32, shared, s.rng)
	if err != nil {
		return Reply{Err: ErrFilesystemWriteFailure}
	}
	return Reply{Key: h, Kind: keystore.KindSharedSecret32}
}

func (s *Service) hash(req Request) Reply {
	if req.Mechanism != MechanismSHA256 {
		return Reply{Err: ErrMechanismNotAvailable}
	}
	h := sha256.Sum256(req.Data)
	return Reply{Data: h[:]}
}

func (s *Service) randomByteBuf(req Request) Reply {
	if req.N < 0 || req.N > keystore.MaxValueLen {
		return Reply{Err: ErrMechanismNotAvailable}
	}
	buf := make([]byte, req.N)
	if req.N > 0 {
		if _, err := s.rng.Read(buf); err != nil {
			return Reply{Err: ErrEntropyMalfunction}
		}
	}
	return Reply{Data: buf}
}

// p256PrivateFromSeed rebuilds a *ecdsa.PrivateKey from the raw 32-byte
// scalar stored in the keystore.
func p256PrivateFromSeed(seed []byte) *ecdsa.PrivateKey {
	curve := elliptic.P256()
	d := new(big.Int).SetBytes(seed)
	priv := new(ecdsa.PrivateKey)
	priv.Curve = curve
	priv.D = d
	priv.PublicKey.X, priv.PublicKey.Y = curve.ScalarBaseMult(seed)
	return priv
}
