package fido

import (
	"encoding/hex"

	"github.com/fxamacker/cbor/v2"

	"github.com/kgiusti/tokencore/internal/cryptoservice"
	"github.com/kgiusti/tokencore/internal/keystore"
)

const (
	credMgmtGetCredsMetadata            = 0x01
	credMgmtEnumerateRPsBegin           = 0x02
	credMgmtEnumerateRPsGetNextRP       = 0x03
	credMgmtEnumerateCredentialsBegin   = 0x04
	credMgmtEnumerateCredentialsGetNext = 0x05
	credMgmtDeleteCredential            = 0x06
)

const residentKeyDir = "rk"

type credentialManagementRequest struct {
	SubCommand int                 `cbor:"1,keyasint"`
	Params     map[int]interface{} `cbor:"2,keyasint"`
}

// CredentialManagement implements authenticatorCredentialManagement
// (CTAP2 command 0x0A). Enumeration rides the cryptoservice's own
// per-client read_dir cursor (§4.8): this applet never tracks paging
// state itself, it just keeps calling ReadDirFirst/ReadDirNext against
// the same directory path.
func (a *Applet) CredentialManagement(body []byte) ([]byte, error) {
	var req credentialManagementRequest
	if err := cbor.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	switch req.SubCommand {
	case credMgmtGetCredsMetadata:
		return a.credsMetadata()
	case credMgmtEnumerateRPsBegin:
		return a.enumerateRPs(true)
	case credMgmtEnumerateRPsGetNextRP:
		return a.enumerateRPs(false)
	case credMgmtEnumerateCredentialsBegin:
		rpIDHash, _ := req.Params[0x01].([]byte)
		return a.enumerateCredentials(rpIDHash, true)
	case credMgmtEnumerateCredentialsGetNext:
		return a.enumerateCredentials(nil, false)
	case credMgmtDeleteCredential:
		credDesc, _ := req.Params[0x02].(map[interface{}]interface{})
		credID, _ := credDesc["id"].([]byte)
		return a.deleteCredential(credID)
	default:
		return nil, errNoSuchCredential
	}
}

func (a *Applet) readDir(first bool, location keystore.Location, path string) (name string, more bool, err error) {
	kind := cryptoservice.KindReadDirNext
	if first {
		kind = cryptoservice.KindReadDirFirst
	}
	reply, callErr2 := a.pending.Call(cryptoservice.Request{
		Kind: kind, Location: location, Path: path,
	}, callTimeout)
	if callErr2 != nil || reply.Err != cryptoservice.ErrNone {
		return "", false, callErr(reply.Err, callErr2)
	}
	return reply.Name, reply.HasMore, nil
}

// credsMetadata walks every rp directory once to report the total
// resident credential count. This consumes the "rk" cursor, which is
// harmless since enumerateRPsBegin always restarts it with a fresh
// ReadDirFirst.
func (a *Applet) credsMetadata() ([]byte, error) {
	total := 0
	name, more, err := a.readDir(true, keystore.Internal, residentKeyDir)
	if err != nil {
		return nil, err
	}
	for name != "" {
		n, more2, err := a.readDir(true, keystore.Internal, residentKeyDir+"/"+name)
		if err != nil {
			return nil, err
		}
		for n != "" {
			total++
			if !more2 {
				break
			}
			n, more2, err = a.readDir(false, keystore.Internal, residentKeyDir+"/"+name)
			if err != nil {
				return nil, err
			}
		}
		if !more {
			break
		}
		name, more, err = a.readDir(false, keystore.Internal, residentKeyDir)
		if err != nil {
			return nil, err
		}
	}
	return cbor.Marshal(map[int]interface{}{1: total})
}

func (a *Applet) enumerateRPs(begin bool) ([]byte, error) {
	dirName, more, err := a.readDir(begin, keystore.Internal, residentKeyDir)
	if err != nil {
		return nil, err
	}
	if dirName == "" {
		return nil, errNoSuchCredential
	}
	cred, err := a.firstCredentialIn(residentKeyDir + "/" + dirName)
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(map[int]interface{}{
		3: map[string]interface{}{"id": hex.EncodeToString(cred.RPIDHash)},
		4: cred.RPIDHash,
		5: boolToInt(more),
	})
}

func (a *Applet) enumerateCredentials(rpIDHash []byte, begin bool) ([]byte, error) {
	var dir string
	if begin {
		if len(rpIDHash) < 4 {
			return nil, errNoSuchCredential
		}
		dir = residentKeyDir + "/" + hex.EncodeToString(rpIDHash[:4])
	} else {
		// A GetNextCredential call relies entirely on the
		// cryptoservice's cached cursor for the directory opened by
		// the matching Begin call; there is no local path to resume.
		dir = a.lastEnumDir
	}
	a.lastEnumDir = dir

	name, more, err := a.readDir(begin, keystore.Internal, dir)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, errNoSuchCredential
	}
	readReply, err := a.pending.Call(cryptoservice.Request{
		Kind: cryptoservice.KindReadFile, Location: keystore.Internal, Path: dir + "/" + name,
	}, callTimeout)
	if err != nil || readReply.Err != cryptoservice.ErrNone {
		return nil, callErr(readReply.Err, err)
	}
	var cred ResidentCredential
	if err := cbor.Unmarshal(readReply.Data, &cred); err != nil {
		return nil, err
	}

	serReply, err := a.pending.Call(cryptoservice.Request{
		Kind: cryptoservice.KindSerializeKey, Key: cred.PrivateKeyHandle, KeyType: keystore.Secret,
	}, callTimeout)
	if err != nil || serReply.Err != cryptoservice.ErrNone {
		return nil, callErr(serReply.Err, err)
	}
	x, y := p256PublicPoint(serReply.Data)
	coseKey, err := coseP256PublicKey(x, y)
	if err != nil {
		return nil, err
	}
	var coseMap map[int]interface{}
	if err := cbor.Unmarshal(coseKey, &coseMap); err != nil {
		return nil, err
	}

	resp := map[int]interface{}{
		6: map[string]interface{}{"id": cred.UserHandle},
		7: map[string]interface{}{"type": "public-key", "id": cred.CredentialID},
		8: coseMap,
		9: boolToInt(more),
	}
	return cbor.Marshal(resp)
}

func (a *Applet) deleteCredential(credentialID []byte) ([]byte, error) {
	digestReply, err := a.pending.Call(cryptoservice.Request{
		Kind: cryptoservice.KindHash, Mechanism: cryptoservice.MechanismSHA256, Data: credentialID,
	}, callTimeout)
	if err != nil || digestReply.Err != cryptoservice.ErrNone {
		return nil, callErr(digestReply.Err, err)
	}
	name, more, err := a.readDir(true, keystore.Internal, residentKeyDir)
	if err != nil {
		return nil, err
	}
	for name != "" {
		path := residentKeyDir + "/" + name + "/" + hex.EncodeToString(digestReply.Data[:4])
		existsReply, err := a.pending.Call(cryptoservice.Request{
			Kind: cryptoservice.KindRemoveFile, Location: keystore.Internal, Path: path,
		}, callTimeout)
		if err == nil && existsReply.Err == cryptoservice.ErrNone && existsReply.Exists {
			return nil, nil
		}
		if !more {
			break
		}
		name, more, err = a.readDir(false, keystore.Internal, residentKeyDir)
		if err != nil {
			return nil, err
		}
	}
	return nil, errNoSuchCredential
}

func (a *Applet) firstCredentialIn(dir string) (ResidentCredential, error) {
	name, _, err := a.readDir(true, keystore.Internal, dir)
	if err != nil {
		return ResidentCredential{}, err
	}
	if name == "" {
		return ResidentCredential{}, errNoSuchCredential
	}
	readReply, err := a.pending.Call(cryptoservice.Request{
		Kind: cryptoservice.KindReadFile, Location: keystore.Internal, Path: dir + "/" + name,
	}, callTimeout)
	if err != nil || readReply.Err != cryptoservice.ErrNone {
		return ResidentCredential{}, callErr(readReply.Err, err)
	}
	var cred ResidentCredential
	if err := cbor.Unmarshal(readReply.Data, &cred); err != nil {
		return ResidentCredential{}, err
	}
	return cred, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
