package piv

import (
	"crypto/elliptic"

	"github.com/kgiusti/tokencore/internal/apdu"
	"github.com/kgiusti/tokencore/internal/cryptoservice"
	"github.com/kgiusti/tokencore/internal/keystore"
)

// algorithmP256 is the PIV algorithm identifier for ECC P-256; the
// only asymmetric algorithm this device provisions.
const algorithmP256 = 0x11

// requestedAlgorithm extracts the algorithm byte from a control
// reference template (tag 0xAC, containing tag 0x80). ok is false if
// the request didn't specify one, in which case the caller defaults.
func requestedAlgorithm(data []byte) (alg byte, ok bool) {
	outer, err := parseTLV(data)
	if err != nil || len(outer) != 1 || outer[0].Tag != 0xAC {
		return 0, false
	}
	fields, err := parseTLV(outer[0].Value)
	if err != nil {
		return 0, false
	}
	v, present := findTag(fields, 0x80)
	if !present || len(v) != 1 {
		return 0, false
	}
	return v[0], true
}

// generateAsymmetricKeyPair implements GENERATE ASYMMETRIC KEY PAIR
// (INS 0x47). P2 names the key slot (e.g. 0x9A PIV Authentication,
// 0x9C Digital Signature). Requires a prior successful management-key
// authentication.
func (a *Applet) generateAsymmetricKeyPair(cmd apdu.CommandAPDU) (apdu.Outcome, apdu.Status) {
	if err := a.ensureState(); err != nil {
		return apdu.Outcome{}, apdu.StatusConditionsNotSatisfied
	}
	if !a.mgmt.authenticated {
		return apdu.Outcome{}, apdu.StatusSecurityStatus
	}
	if alg, ok := requestedAlgorithm(cmd.Data); ok && alg != algorithmP256 {
		return apdu.Outcome{}, apdu.StatusWrongData
	}

	genReply, err := a.pending.Call(cryptoservice.Request{
		Kind: cryptoservice.KindGenerateKey, Kind_: keystore.KindP256,
		KeyType: keystore.Secret, Location: keystore.Internal,
	}, stateCallTimeout)
	if err != nil || genReply.Err != cryptoservice.ErrNone {
		return apdu.Outcome{}, apdu.StatusConditionsNotSatisfied
	}
	serReply, err := a.pending.Call(cryptoservice.Request{
		Kind: cryptoservice.KindSerializeKey, Key: genReply.Key, KeyType: keystore.Secret,
	}, stateCallTimeout)
	if err != nil || serReply.Err != cryptoservice.ErrNone {
		return apdu.Outcome{}, apdu.StatusConditionsNotSatisfied
	}

	if a.state.Keys == nil {
		a.state.Keys = make(map[byte]keystore.Handle)
	}
	a.state.Keys[cmd.P2] = genReply.Key
	if err := a.saveState(); err != nil {
		return apdu.Outcome{}, apdu.StatusConditionsNotSatisfied
	}

	x, y := elliptic.P256().ScalarBaseMult(serReply.Data)
	point := append([]byte{0x04}, append(x.FillBytes(make([]byte, 32)), y.FillBytes(make([]byte, 32))...)...)
	body := encodeTLV2(0x7F, 0x49, encodeTLV(0x86, point))
	return apdu.Respond(body), apdu.StatusSuccess
}

// generalAuthenticateSign implements the sign-challenge form of
// GENERAL AUTHENTICATE (P2 names a provisioned key slot rather than
// the management key reference): challenge in tag 0x81, P-256
// signature returned in tag 0x82. Requires the PIN to have been
// verified this session.
func (a *Applet) generalAuthenticateSign(cmd apdu.CommandAPDU) (apdu.Outcome, apdu.Status) {
	if err := a.ensureState(); err != nil {
		return apdu.Outcome{}, apdu.StatusConditionsNotSatisfied
	}
	if !a.pinOK {
		return apdu.Outcome{}, apdu.StatusSecurityStatus
	}
	keyHandle, ok := a.state.Keys[cmd.P2]
	if !ok {
		return apdu.Outcome{}, apdu.StatusNotFound
	}

	outer, err := parseTLV(cmd.Data)
	if err != nil || len(outer) != 1 || outer[0].Tag != 0x7C {
		return apdu.Outcome{}, apdu.StatusWrongData
	}
	fields, err := parseTLV(outer[0].Value)
	if err != nil {
		return apdu.Outcome{}, apdu.StatusWrongData
	}
	challenge, ok := findTag(fields, 0x81)
	if !ok {
		return apdu.Outcome{}, apdu.StatusWrongData
	}

	sigReply, err := a.pending.Call(cryptoservice.Request{
		Kind: cryptoservice.KindSign, Mechanism: cryptoservice.MechanismP256,
		Key: keyHandle, KeyType: keystore.Secret, Variant: cryptoservice.SignatureASN1DER,
		Data: challenge,
	}, stateCallTimeout)
	if err != nil || sigReply.Err != cryptoservice.ErrNone {
		return apdu.Outcome{}, apdu.StatusConditionsNotSatisfied
	}

	resp := encodeTLV(0x7C, encodeTLV(0x82, sigReply.Signature))
	return apdu.Respond(resp), apdu.StatusSuccess
}
