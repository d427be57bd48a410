package cryptoservice

import (
	"crypto/des"

	"github.com/kgiusti/tokencore/internal/keystore"
)

// PIV's management-key challenge/response (SP 800-73-4 GENERAL
// AUTHENTICATE) is single-block, no-padding, EDE3 triple-DES — not an
// AEAD construction, unlike the applets that use Encrypt/Decrypt
// elsewhere. There is no ecosystem AEAD package for that, so it rides
// through crypto/des directly; this is the one mechanism in the
// enum that is legitimately stdlib-only (see DESIGN.md).

func (s *Service) encryptTDES(req Request) Reply {
	sk, _, err := s.store.LoadKey(req.KeyType, kindPtr(keystore.KindSymmetric24), req.Key)
	if err != nil {
		return Reply{Err: ErrNoSuchKey}
	}
	if len(req.Data) != des.BlockSize {
		return Reply{Err: ErrInvalidSerializedKey}
	}
	c, err := des.NewTripleDESCipher(sk.Value)
	if err != nil {
		return Reply{Err: ErrInvalidSerializedKey}
	}
	out := make([]byte, des.BlockSize)
	c.Encrypt(out, req.Data)
	return Reply{Data: out}
}

func (s *Service) decryptTDES(req Request) Reply {
	sk, _, err := s.store.LoadKey(req.KeyType, kindPtr(keystore.KindSymmetric24), req.Key)
	if err != nil {
		return Reply{Err: ErrNoSuchKey}
	}
	if len(req.Data) != des.BlockSize {
		return Reply{Err: ErrInvalidSerializedKey}
	}
	c, err := des.NewTripleDESCipher(sk.Value)
	if err != nil {
		return Reply{Err: ErrInvalidSerializedKey}
	}
	out := make([]byte, des.BlockSize)
	c.Decrypt(out, req.Data)
	return Reply{Data: out, Valid: true}
}
