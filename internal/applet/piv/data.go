package piv

import (
	"encoding/hex"

	"github.com/kgiusti/tokencore/internal/apdu"
	"github.com/kgiusti/tokencore/internal/cryptoservice"
	"github.com/kgiusti/tokencore/internal/keystore"
)

// getData implements GET DATA (INS 0xCB): the request body is a
// single TLV with tag 0x5C carrying the object's 1-3 byte identifier
// (e.g. a certificate container tag); the response is the stored
// object's raw bytes, unauthenticated (certificates are public).
func (a *Applet) getData(cmd apdu.CommandAPDU) (apdu.Outcome, apdu.Status) {
	if err := a.ensureState(); err != nil {
		return apdu.Outcome{}, apdu.StatusConditionsNotSatisfied
	}
	objectID, status := parseDataObjectID(cmd.Data)
	if status != apdu.StatusSuccess {
		return apdu.Outcome{}, status
	}
	readReply, err := a.pending.Call(cryptoservice.Request{
		Kind: cryptoservice.KindReadFile, Location: keystore.Internal, Path: dataObjectPath(objectID),
	}, stateCallTimeout)
	if err != nil {
		return apdu.Outcome{}, apdu.StatusConditionsNotSatisfied
	}
	if readReply.Err == cryptoservice.ErrNoSuchKey {
		return apdu.Outcome{}, apdu.StatusNotFound
	}
	if readReply.Err != cryptoservice.ErrNone {
		return apdu.Outcome{}, apdu.StatusConditionsNotSatisfied
	}
	return apdu.Respond(encodeTLV(0x53, readReply.Data)), apdu.StatusSuccess
}

// putData implements PUT DATA (INS 0xDB): tag 0x5C names the object,
// tag 0x53 carries its new contents. Requires management-key
// authentication, since this is how certificates and other containers
// get provisioned onto the device.
func (a *Applet) putData(cmd apdu.CommandAPDU) (apdu.Outcome, apdu.Status) {
	if err := a.ensureState(); err != nil {
		return apdu.Outcome{}, apdu.StatusConditionsNotSatisfied
	}
	if !a.mgmt.authenticated {
		return apdu.Outcome{}, apdu.StatusSecurityStatus
	}
	elems, err := parseTLV(cmd.Data)
	if err != nil {
		return apdu.Outcome{}, apdu.StatusWrongData
	}
	tagValue, ok := findTag(elems, 0x5C)
	if !ok {
		return apdu.Outcome{}, apdu.StatusWrongData
	}
	contents, ok := findTag(elems, 0x53)
	if !ok {
		return apdu.Outcome{}, apdu.StatusWrongData
	}
	writeReply, err := a.pending.Call(cryptoservice.Request{
		Kind: cryptoservice.KindWriteFile, Location: keystore.Internal,
		Path: dataObjectPath(tagValue), Data: contents,
	}, stateCallTimeout)
	if err != nil || writeReply.Err != cryptoservice.ErrNone {
		return apdu.Outcome{}, apdu.StatusConditionsNotSatisfied
	}
	return apdu.Respond(nil), apdu.StatusSuccess
}

func parseDataObjectID(data []byte) (objectID []byte, status apdu.Status) {
	elems, err := parseTLV(data)
	if err != nil || len(elems) != 1 || elems[0].Tag != 0x5C {
		return nil, apdu.StatusWrongData
	}
	return elems[0].Value, apdu.StatusSuccess
}

func dataObjectPath(objectID []byte) string {
	return "data/" + hex.EncodeToString(objectID)
}
