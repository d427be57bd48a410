package fido

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/kgiusti/tokencore/internal/cryptoservice"
	"github.com/kgiusti/tokencore/internal/keystore"
)

const (
	pinSubCmdGetKeyAgreement = 0x02
	pinSubCmdGetPinToken     = 0x05
)

// pinState holds PIN protocol 1's per-boot material: the device's
// static P-256 key-agreement keypair and the random pinToken, which is
// regenerated every reset (§4.8).
type pinState struct {
	keyAgreementHandle keystore.Handle
	haveKeyAgreement   bool
	coseKey            []byte

	pinToken     []byte
	havePinToken bool
}

func (p *pinState) reset() {
	*p = pinState{}
}

type clientPINRequest struct {
	PinProtocol  int                 `cbor:"1,keyasint"`
	SubCommand   int                 `cbor:"2,keyasint"`
	KeyAgreement map[int]interface{} `cbor:"3,keyasint"`
}

// ClientPIN implements the authenticatorClientPIN subcommands this
// device supports: getKeyAgreement and getPinToken.
func (a *Applet) ClientPIN(body []byte) ([]byte, error) {
	var req clientPINRequest
	if err := cbor.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	switch req.SubCommand {
	case pinSubCmdGetKeyAgreement:
		return a.clientPINGetKeyAgreement()
	case pinSubCmdGetPinToken:
		return a.clientPINGetPinToken(req.KeyAgreement)
	default:
		return nil, errPinRequired
	}
}

func (a *Applet) ensureKeyAgreementKey() error {
	if a.pin.haveKeyAgreement {
		return nil
	}
	genReply, err := a.pending.Call(cryptoservice.Request{
		Kind: cryptoservice.KindGenerateKey, Kind_: keystore.KindP256,
		KeyType: keystore.Secret, Location: keystore.Volatile,
	}, callTimeout)
	if err != nil || genReply.Err != cryptoservice.ErrNone {
		return callErr(genReply.Err, err)
	}
	serReply, err := a.pending.Call(cryptoservice.Request{
		Kind: cryptoservice.KindSerializeKey, Key: genReply.Key, KeyType: keystore.Secret,
	}, callTimeout)
	if err != nil || serReply.Err != cryptoservice.ErrNone {
		return callErr(serReply.Err, err)
	}
	x, y := p256PublicPoint(serReply.Data)
	cose, err := coseP256PublicKey(x, y)
	if err != nil {
		return err
	}
	a.pin.keyAgreementHandle = genReply.Key
	a.pin.coseKey = cose
	a.pin.haveKeyAgreement = true
	return nil
}

func (a *Applet) ensurePinToken() error {
	if a.pin.havePinToken {
		return nil
	}
	randReply, err := a.pending.Call(cryptoservice.Request{
		Kind: cryptoservice.KindRandomByteBuf, N: 16,
	}, callTimeout)
	if err != nil || randReply.Err != cryptoservice.ErrNone {
		return callErr(randReply.Err, err)
	}
	a.pin.pinToken = randReply.Data
	a.pin.havePinToken = true
	return nil
}

func (a *Applet) clientPINGetKeyAgreement() ([]byte, error) {
	if err := a.ensureKeyAgreementKey(); err != nil {
		return nil, err
	}
	var coseMap map[int]interface{}
	if err := cbor.Unmarshal(a.pin.coseKey, &coseMap); err != nil {
		return nil, err
	}
	return cbor.Marshal(map[int]interface{}{1: coseMap})
}

// clientPINGetPinToken runs P-256 ECDH against the platform's public
// key, derives an AEAD key from the shared secret via HKDF-SHA-256,
// and uses it to seal the session's pinToken for transport. This
// device's only wired AEAD is the cryptoservice's ChaCha8Poly1305
// mechanism (its other wired cipher is PIV's TDES), so pinToken
// transport encryption rides on that
// mechanism rather than the AES-256-CBC construction used by the
// reference PIN/UV auth protocol one.
func (a *Applet) clientPINGetPinToken(platformKey map[int]interface{}) ([]byte, error) {
	if err := a.ensureKeyAgreementKey(); err != nil {
		return nil, err
	}
	if err := a.ensurePinToken(); err != nil {
		return nil, err
	}

	rawKey, err := cbor.Marshal(platformKey)
	if err != nil {
		return nil, err
	}
	point, err := parseCOSEP256PublicKey(rawKey)
	if err != nil {
		return nil, err
	}
	injectReply, err := a.pending.Call(cryptoservice.Request{
		Kind: cryptoservice.KindUnsafeInjectKey, Kind_: keystore.KindP256,
		KeyType: keystore.Public, Location: keystore.Volatile, Data: point,
	}, callTimeout)
	if err != nil || injectReply.Err != cryptoservice.ErrNone {
		return nil, callErr(injectReply.Err, err)
	}

	agreeReply, err := a.pending.Call(cryptoservice.Request{
		Kind: cryptoservice.KindAgree, Mechanism: cryptoservice.MechanismP256,
		Key: a.pin.keyAgreementHandle, Key2: injectReply.Key,
		KeyType: keystore.Secret, Location: keystore.Volatile,
	}, callTimeout)
	if err != nil || agreeReply.Err != cryptoservice.ErrNone {
		return nil, callErr(agreeReply.Err, err)
	}

	deriveReply, err := a.pending.Call(cryptoservice.Request{
		Kind: cryptoservice.KindDeriveKey, Key: agreeReply.Key, KeyType: keystore.Secret,
		AAD: []byte("pinUvAuthToken"), Location: keystore.Volatile,
	}, callTimeout)
	if err != nil || deriveReply.Err != cryptoservice.ErrNone {
		return nil, callErr(deriveReply.Err, err)
	}
	// Encrypt only accepts a KindSymmetric32Nonce12 handle, so the
	// HKDF output (stored as a bare KindSymmetric32 by DeriveKey) has
	// to be round-tripped through Serialize/Inject to grow the
	// 12-byte managed-nonce suffix Encrypt expects.
	serReply, err := a.pending.Call(cryptoservice.Request{
		Kind: cryptoservice.KindSerializeKey, Key: deriveReply.Key, KeyType: keystore.Secret,
	}, callTimeout)
	if err != nil || serReply.Err != cryptoservice.ErrNone {
		return nil, callErr(serReply.Err, err)
	}
	aeadKeyReply, err := a.pending.Call(cryptoservice.Request{
		Kind: cryptoservice.KindUnsafeInjectKey, Kind_: keystore.KindSymmetric32Nonce12,
		KeyType: keystore.Secret, Location: keystore.Volatile,
		Data: append(append([]byte(nil), serReply.Data...), make([]byte, 12)...),
	}, callTimeout)
	if err != nil || aeadKeyReply.Err != cryptoservice.ErrNone {
		return nil, callErr(aeadKeyReply.Err, err)
	}

	encReply, err := a.pending.Call(cryptoservice.Request{
		Kind: cryptoservice.KindEncrypt, Mechanism: cryptoservice.MechanismChaCha8Poly1305,
		Key: aeadKeyReply.Key, KeyType: keystore.Secret, Data: a.pin.pinToken,
	}, callTimeout)
	if err != nil || encReply.Err != cryptoservice.ErrNone {
		return nil, callErr(encReply.Err, err)
	}

	sealed := append(append(append([]byte(nil), encReply.Data...), encReply.Tag...), encReply.Nonce...)
	return cbor.Marshal(map[int]interface{}{2: sealed})
}

// Reset clears the PIN protocol state, regenerating both the key
// agreement keypair and the pinToken on next use.
func (a *Applet) Reset() {
	a.pin.reset()
}
