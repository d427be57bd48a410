package fido

import (
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/kgiusti/tokencore/internal/cryptoservice"
	"github.com/kgiusti/tokencore/internal/keystore"
)

const (
	flagUserPresent      byte = 1 << 0
	flagUserVerified     byte = 1 << 2
	flagAttestedCredData byte = 1 << 6
)

// makeCredentialRequest is the subset of authenticatorMakeCredential's
// parameter map this applet understands.
type makeCredentialRequest struct {
	ClientDataHash []byte                 `cbor:"1,keyasint"`
	RP             map[string]interface{} `cbor:"2,keyasint"`
	User           map[string]interface{} `cbor:"3,keyasint"`
}

type getAssertionRequest struct {
	RPID           string `cbor:"1,keyasint"`
	ClientDataHash []byte `cbor:"2,keyasint"`
}

// MakeCredential implements authenticatorMakeCredential (CTAP2 command
// 0x01): generates a resident P-256 credential under /fido/rk and
// returns a self-attested CBOR attestation object.
func (a *Applet) MakeCredential(body []byte) ([]byte, error) {
	var req makeCredentialRequest
	if err := cbor.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	rpID, _ := req.RP["id"].(string)
	userHandle, _ := req.User["id"].([]byte)

	rpIDHashReply, err := a.pending.Call(cryptoservice.Request{
		Kind: cryptoservice.KindHash, Mechanism: cryptoservice.MechanismSHA256,
		Data: []byte(rpID),
	}, callTimeout)
	if err != nil || rpIDHashReply.Err != cryptoservice.ErrNone {
		return nil, callErr(rpIDHashReply.Err, err)
	}
	rpIDHash := rpIDHashReply.Data

	genReply, err := a.pending.Call(cryptoservice.Request{
		Kind: cryptoservice.KindGenerateKey, Kind_: keystore.KindP256,
		KeyType: keystore.Secret, Location: keystore.Internal,
	}, callTimeout)
	if err != nil || genReply.Err != cryptoservice.ErrNone {
		return nil, callErr(genReply.Err, err)
	}
	credHandle := genReply.Key

	serReply, err := a.pending.Call(cryptoservice.Request{
		Kind: cryptoservice.KindSerializeKey, Key: credHandle, KeyType: keystore.Secret,
	}, callTimeout)
	if err != nil || serReply.Err != cryptoservice.ErrNone {
		return nil, callErr(serReply.Err, err)
	}
	pubX, pubY := p256PublicPoint(serReply.Data)
	coseKey, err := coseP256PublicKey(pubX, pubY)
	if err != nil {
		return nil, err
	}

	idReply, err := a.pending.Call(cryptoservice.Request{
		Kind: cryptoservice.KindRandomByteBuf, N: 32,
	}, callTimeout)
	if err != nil || idReply.Err != cryptoservice.ErrNone {
		return nil, callErr(idReply.Err, err)
	}
	credentialID := idReply.Data

	if err := a.storeResidentCredential(rpIDHash, credentialID, userHandle, credHandle); err != nil {
		return nil, err
	}

	counter, err := a.nextCounter()
	if err != nil {
		return nil, err
	}

	authData := buildAuthData(rpIDHash, counter, flagUserPresent|flagAttestedCredData, credentialID, coseKey)
	sigReply, err := a.pending.Call(cryptoservice.Request{
		Kind: cryptoservice.KindSign, Mechanism: cryptoservice.MechanismP256,
		Key: credHandle, KeyType: keystore.Secret, Variant: cryptoservice.SignatureASN1DER,
		Data: append(append([]byte(nil), authData...), req.ClientDataHash...),
	}, callTimeout)
	if err != nil || sigReply.Err != cryptoservice.ErrNone {
		return nil, callErr(sigReply.Err, err)
	}

	attObj := map[int]interface{}{
		1: "packed",
		2: authData,
		3: map[string]interface{}{"alg": coseAlgES256, "sig": sigReply.Signature},
	}
	return cbor.Marshal(attObj)
}

// GetAssertion implements authenticatorGetAssertion (CTAP2 command
// 0x02) against the first resident credential found for the request's
// relying party.
func (a *Applet) GetAssertion(body []byte) ([]byte, error) {
	var req getAssertionRequest
	if err := cbor.Unmarshal(body, &req); err != nil {
		return nil, err
	}

	rpIDHashReply, err := a.pending.Call(cryptoservice.Request{
		Kind: cryptoservice.KindHash, Mechanism: cryptoservice.MechanismSHA256,
		Data: []byte(req.RPID),
	}, callTimeout)
	if err != nil || rpIDHashReply.Err != cryptoservice.ErrNone {
		return nil, callErr(rpIDHashReply.Err, err)
	}
	rpIDHash := rpIDHashReply.Data
	rpDir := "rk/" + hex.EncodeToString(rpIDHash[:4])

	dirReply, err := a.pending.Call(cryptoservice.Request{
		Kind: cryptoservice.KindReadDirFirst, Location: keystore.Internal, Path: rpDir,
	}, callTimeout)
	if err != nil || dirReply.Err != cryptoservice.ErrNone {
		return nil, callErr(dirReply.Err, err)
	}
	if dirReply.Name == "" {
		return nil, errNoSuchCredential
	}

	readReply, err := a.pending.Call(cryptoservice.Request{
		Kind: cryptoservice.KindReadFile, Location: keystore.Internal, Path: rpDir + "/" + dirReply.Name,
	}, callTimeout)
	if err != nil || readReply.Err != cryptoservice.ErrNone {
		return nil, callErr(readReply.Err, err)
	}
	var cred ResidentCredential
	if err := cbor.Unmarshal(readReply.Data, &cred); err != nil {
		return nil, err
	}

	counter, err := a.nextCounter()
	if err != nil {
		return nil, err
	}
	authData := buildAuthData(rpIDHash, counter, flagUserPresent, nil, nil)

	sigReply, err := a.pending.Call(cryptoservice.Request{
		Kind: cryptoservice.KindSign, Mechanism: cryptoservice.MechanismP256,
		Key: cred.PrivateKeyHandle, KeyType: keystore.Secret, Variant: cryptoservice.SignatureASN1DER,
		Data: append(append([]byte(nil), authData...), req.ClientDataHash...),
	}, callTimeout)
	if err != nil || sigReply.Err != cryptoservice.ErrNone {
		return nil, callErr(sigReply.Err, err)
	}

	resp := map[int]interface{}{
		1: map[string]interface{}{"type": "public-key", "id": cred.CredentialID},
		2: authData,
		3: sigReply.Signature,
	}
	if len(cred.UserHandle) > 0 {
		resp[4] = map[string]interface{}{"id": cred.UserHandle}
	}
	return cbor.Marshal(resp)
}

func (a *Applet) storeResidentCredential(rpIDHash, credentialID, userHandle []byte, credHandle keystore.Handle) error {
	digestReply, err := a.pending.Call(cryptoservice.Request{
		Kind: cryptoservice.KindHash, Mechanism: cryptoservice.MechanismSHA256, Data: credentialID,
	}, callTimeout)
	if err != nil || digestReply.Err != cryptoservice.ErrNone {
		return callErr(digestReply.Err, err)
	}

	rec := ResidentCredential{
		CredentialID: credentialID,
		RPIDHash:     rpIDHash,
		UserHandle:   userHandle,
	}
	copy(rec.PrivateKeyHandle[:], credHandle[:])
	blob, err := cbor.Marshal(rec)
	if err != nil {
		return err
	}

	p := fmt.Sprintf("rk/%s/%s", hex.EncodeToString(rpIDHash[:4]), hex.EncodeToString(digestReply.Data[:4]))
	writeReply, err := a.pending.Call(cryptoservice.Request{
		Kind: cryptoservice.KindWriteFile, Location: keystore.Internal, Path: p, Data: blob,
	}, callTimeout)
	if err != nil || writeReply.Err != cryptoservice.ErrNone {
		return callErr(writeReply.Err, err)
	}
	return nil
}

// buildAuthData assembles the CTAP2 authenticator data structure: a
// 32-byte rpIdHash, flags, big-endian signature counter, and
// (optionally) attested credential data (zero AAGUID, credential ID,
// COSE public key).
func buildAuthData(rpIDHash []byte, counter uint32, flags byte, credentialID, coseKey []byte) []byte {
	out := make([]byte, 0, 37+18+len(credentialID)+len(coseKey))
	out = append(out, rpIDHash...)
	out = append(out, flags)
	out = append(out, byte(counter>>24), byte(counter>>16), byte(counter>>8), byte(counter))
	if flags&flagAttestedCredData != 0 {
		out = append(out, make([]byte, 16)...) // AAGUID: unset for this device
		out = append(out, byte(len(credentialID)>>8), byte(len(credentialID)))
		out = append(out, credentialID...)
		out = append(out, coseKey...)
	}
	return out
}

func callErr(e cryptoservice.Error, err error) error {
	if err != nil {
		return err
	}
	return e.AsError()
}
