package cryptoservice

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/spf13/afero"

	"github.com/kgiusti/tokencore/internal/keystore"
)

func newTestService() *Service {
	store := keystore.New(afero.NewMemMapFs(), afero.NewMemMapFs(), afero.NewMemMapFs())
	return New(store, rand.Reader)
}

func TestChaCha8Poly1305EncryptDecryptRoundTrip(t *testing.T) {
	s := newTestService()
	gen := s.handle(Request{
		Kind:     KindGenerateKey,
		Kind_:    keystore.KindSymmetric32Nonce12,
		Location: keystore.Volatile,
		KeyType:  keystore.Secret,
	})
	if gen.Err != ErrNone {
		t.Fatalf("GenerateKey: %v", gen.Err)
	}

	enc := s.handle(Request{
		Kind:      KindEncrypt,
		Mechanism: MechanismChaCha8Poly1305,
		KeyType:   keystore.Secret,
		Key:       gen.Key,
		Data:      []byte("hello"),
	})
	if enc.Err != ErrNone {
		t.Fatalf("Encrypt: %v", enc.Err)
	}
	if len(enc.Data) != 5 || len(enc.Nonce) != 12 || len(enc.Tag) != 16 {
		t.Fatalf("Encrypt sizes = (%d,%d,%d), want (5,12,16)", len(enc.Data), len(enc.Nonce), len(enc.Tag))
	}

	dec := s.handle(Request{
		Kind:      KindDecrypt,
		Mechanism: MechanismChaCha8Poly1305,
		KeyType:   keystore.Secret,
		Key:       gen.Key,
		Data:      enc.Data,
		Nonce:     enc.Nonce,
		Tag:       enc.Tag,
	})
	if !dec.Valid || string(dec.Data) != "hello" {
		t.Fatalf("Decrypt = (valid=%v, data=%q), want (true, hello)", dec.Valid, dec.Data)
	}

	flippedTag := append([]byte(nil), enc.Tag...)
	flippedTag[len(flippedTag)-1] ^= 0xFF
	bad := s.handle(Request{
		Kind:      KindDecrypt,
		Mechanism: MechanismChaCha8Poly1305,
		KeyType:   keystore.Secret,
		Key:       gen.Key,
		Data:      enc.Data,
		Nonce:     enc.Nonce,
		Tag:       flippedTag,
	})
	if bad.Valid {
		t.Fatal("Decrypt with flipped tag byte reported valid")
	}
	if bad.Err != ErrNone {
		t.Fatalf("Decrypt with flipped tag returned service error %v, want a plaintext=None outcome", bad.Err)
	}
}

func TestNonceStrictlyIncreasing(t *testing.T) {
	s := newTestService()
	gen := s.handle(Request{Kind: KindGenerateKey, Kind_: keystore.KindSymmetric32Nonce12, Location: keystore.Volatile, KeyType: keystore.Secret})

	var prev []byte
	for i := 0; i < 5; i++ {
		enc := s.handle(Request{Kind: KindEncrypt, Mechanism: MechanismChaCha8Poly1305, KeyType: keystore.Secret, Key: gen.Key, Data: []byte("x")})
		if enc.Err != ErrNone {
			t.Fatalf("Encrypt #%d: %v", i, enc.Err)
		}
		if prev != nil && compareLE(enc.Nonce, prev) <= 0 {
			t.Fatalf("nonce #%d (%x) not strictly greater than previous (%x)", i, enc.Nonce, prev)
		}
		prev = enc.Nonce
	}
}

// compareLE compares two little-endian-with-carry counters as the
// integers they represent (most significant byte last).
func compareLE(a, b []byte) int {
	for i := len(a) - 1; i >= 0; i-- {
		if a[i] != b[i] {
			if a[i] > b[i] {
				return 1
			}
			return -1
		}
	}
	return 0
}

func TestNonceOverflowRejectsWithoutEmittingCiphertext(t *testing.T) {
	s := newTestService()
	gen := s.handle(Request{Kind: KindGenerateKey, Kind_: keystore.KindSymmetric32Nonce12, Location: keystore.Volatile, KeyType: keystore.Secret})

	sk, loc, err := s.store.LoadKey(keystore.Secret, nil, gen.Key)
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	maxed := append(append([]byte(nil), sk.Value[:32]...), bytes.Repeat([]byte{0xFF}, 12)...)
	if err := s.store.OverwriteKey(loc, keystore.Secret, keystore.KindSymmetric32Nonce12, gen.Key, maxed); err != nil {
		t.Fatalf("OverwriteKey: %v", err)
	}

	enc := s.handle(Request{Kind: KindEncrypt, Mechanism: MechanismChaCha8Poly1305, KeyType: keystore.Secret, Key: gen.Key, Data: []byte("x")})
	if enc.Err != ErrNonceOverflow {
		t.Fatalf("Encrypt at max nonce = %v, want ErrNonceOverflow", enc.Err)
	}
	if enc.Data != nil {
		t.Fatal("overflowing Encrypt emitted ciphertext")
	}
}

func TestManualNonceOverrideDoesNotAdvanceCounter(t *testing.T) {
	s := newTestService()
	gen := s.handle(Request{Kind: KindGenerateKey, Kind_: keystore.KindSymmetric32Nonce12, Location: keystore.Volatile, KeyType: keystore.Secret})

	before, loc, _ := s.store.LoadKey(keystore.Secret, nil, gen.Key)

	explicit := bytes.Repeat([]byte{0x01}, 12)
	enc := s.handle(Request{Kind: KindEncrypt, Mechanism: MechanismChaCha8Poly1305, KeyType: keystore.Secret, Key: gen.Key, Data: []byte("x"), Nonce: explicit})
	if enc.Err != ErrNone {
		t.Fatalf("Encrypt: %v", enc.Err)
	}
	if !bytes.Equal(enc.Nonce, explicit) {
		t.Fatalf("Encrypt nonce = %x, want explicit override %x", enc.Nonce, explicit)
	}

	after, _, _ := s.store.LoadKey(keystore.Secret, nil, gen.Key)
	if loc != keystore.Volatile {
		t.Fatalf("loc = %v", loc)
	}
	_, afterNonce, _ := splitKeyNonce(after.Value)
	_, beforeNonce, _ := splitKeyNonce(before.Value)
	if !bytes.Equal(afterNonce, beforeNonce) {
		t.Fatalf("persisted nonce changed after an explicit-nonce Encrypt: before=%x after=%x", beforeNonce, afterNonce)
	}
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	s := newTestService()
	wrapKeyGen := s.handle(Request{Kind: KindGenerateKey, Kind_: keystore.KindSymmetric32Nonce12, Location: keystore.Volatile, KeyType: keystore.Secret})
	target := s.handle(Request{Kind: KindGenerateKey, Kind_: keystore.KindEd25519, Location: keystore.Volatile, KeyType: keystore.Secret})

	wrapped := s.handle(Request{Kind: KindWrapKey, KeyType: keystore.Secret, Key: target.Key, Key2: wrapKeyGen.Key})
	if wrapped.Err != ErrNone {
		t.Fatalf("WrapKey: %v", wrapped.Err)
	}

	unwrapped := s.handle(Request{Kind: KindUnwrapKey, KeyType: keystore.Secret, Location: keystore.Volatile, Key2: wrapKeyGen.Key, Data: wrapped.Data})
	if unwrapped.Err != ErrNone || !unwrapped.KeyPresent {
		t.Fatalf("UnwrapKey: err=%v present=%v", unwrapped.Err, unwrapped.KeyPresent)
	}
	if unwrapped.Kind != keystore.KindEd25519 {
		t.Fatalf("Kind = %v, want KindEd25519", unwrapped.Kind)
	}

	msg := []byte("attest me")
	sig := s.handle(Request{Kind: KindSign, Mechanism: MechanismEd25519, KeyType: keystore.Secret, Key: unwrapped.Key, Data: msg})
	if sig.Err != ErrNone {
		t.Fatalf("Sign with unwrapped key: %v", sig.Err)
	}
	verify := s.handle(Request{Kind: KindVerify, Mechanism: MechanismEd25519, KeyType: keystore.Secret, Key: unwrapped.Key, Data: msg, Signature: sig.Signature})
	if !verify.Valid {
		t.Fatal("Verify with unwrapped key failed")
	}
}

func TestUnwrapKeyAuthenticationFailureIsNotAServiceError(t *testing.T) {
	s := newTestService()
	wrapKeyGen := s.handle(Request{Kind: KindGenerateKey, Kind_: keystore.KindSymmetric32Nonce12, Location: keystore.Volatile, KeyType: keystore.Secret})
	target := s.handle(Request{Kind: KindGenerateKey, Kind_: keystore.KindEd25519, Location: keystore.Volatile, KeyType: keystore.Secret})
	wrapped := s.handle(Request{Kind: KindWrapKey, KeyType: keystore.Secret, Key: target.Key, Key2: wrapKeyGen.Key})

	corrupt := append([]byte(nil), wrapped.Data...)
	corrupt[0] ^= 0xFF
	unwrapped := s.handle(Request{Kind: KindUnwrapKey, KeyType: keystore.Secret, Location: keystore.Volatile, Key2: wrapKeyGen.Key, Data: corrupt})
	if unwrapped.Err != ErrNone {
		t.Fatalf("UnwrapKey with corrupt blob returned service error %v, want KeyPresent=false", unwrapped.Err)
	}
	if unwrapped.KeyPresent {
		t.Fatal("UnwrapKey with corrupt blob reported KeyPresent=true")
	}
}

func TestSerializeDeserializePublicKeyRoundTrip(t *testing.T) {
	s := newTestService()
	gen := s.handle(Request{Kind: KindGenerateKey, Kind_: keystore.KindEd25519, Location: keystore.Volatile, KeyType: keystore.Secret})

	ser := s.handle(Request{Kind: KindSerializeKey, KeyType: keystore.Secret, Key: gen.Key})
	if ser.Err != ErrNone {
		t.Fatalf("SerializeKey: %v", ser.Err)
	}

	deser := s.handle(Request{Kind: KindDeserializeKey, KeyType: keystore.Secret, Location: keystore.Volatile, Kind_: ser.Kind, Data: ser.Data})
	if deser.Err != ErrNone {
		t.Fatalf("DeserializeKey: %v", deser.Err)
	}

	msg := []byte("round trip")
	sig1 := s.handle(Request{Kind: KindSign, Mechanism: MechanismEd25519, KeyType: keystore.Secret, Key: gen.Key, Data: msg})
	verify2 := s.handle(Request{Kind: KindVerify, Mechanism: MechanismEd25519, KeyType: keystore.Secret, Key: deser.Key, Data: msg, Signature: sig1.Signature})
	if !verify2.Valid {
		t.Fatal("signature from original key did not verify against deserialized key")
	}
}

func TestFilesystemPassthroughPrefixedByClient(t *testing.T) {
	s := newTestService()
	write := s.handle(Request{Client: "fido", Kind: KindWriteFile, Location: keystore.Internal, Path: "dat/note", Data: []byte("hi")})
	if write.Err != ErrNone {
		t.Fatalf("WriteFile: %v", write.Err)
	}

	read := s.handle(Request{Client: "fido", Kind: KindReadFile, Location: keystore.Internal, Path: "dat/note"})
	if read.Err != ErrNone || string(read.Data) != "hi" {
		t.Fatalf("ReadFile = (%v, %q), want (nil, hi)", read.Err, read.Data)
	}

	// A different client can't see "fido"'s file at the same relative path.
	otherRead := s.handle(Request{Client: "piv", Kind: KindReadFile, Location: keystore.Internal, Path: "dat/note"})
	if otherRead.Err != ErrNoSuchKey {
		t.Fatalf("ReadFile from other client = %v, want ErrNoSuchKey", otherRead.Err)
	}
}

func TestMechanismNotAvailable(t *testing.T) {
	s := newTestService()
	reply := s.handle(Request{Kind: KindEncrypt, Mechanism: MechanismAES256CBC, KeyType: keystore.Secret})
	if reply.Err != ErrMechanismNotAvailable {
		t.Fatalf("Encrypt with unsupported AEAD mechanism = %v, want ErrMechanismNotAvailable", reply.Err)
	}
}
