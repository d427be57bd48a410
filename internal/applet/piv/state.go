package piv

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/kgiusti/tokencore/internal/cryptoservice"
	"github.com/kgiusti/tokencore/internal/keystore"
)

const persistentStatePath = "persistent-state.cbor"

// ensureState loads the persistent state on first use per boot,
// provisioning factory defaults (Yubico management key, default
// PIN/PUK, full retry counters) the very first time the applet is
// selected on a fresh device.
func (a *Applet) ensureState() error {
	if a.haveState {
		return nil
	}
	readReply, err := a.pending.Call(cryptoservice.Request{
		Kind: cryptoservice.KindReadFile, Location: keystore.Internal, Path: persistentStatePath,
	}, stateCallTimeout)
	if err != nil {
		return err
	}
	if readReply.Err == cryptoservice.ErrNoSuchKey {
		return a.provisionDefaults()
	}
	if readReply.Err != cryptoservice.ErrNone {
		return readReply.Err.AsError()
	}
	var st PersistentState
	if err := cbor.Unmarshal(readReply.Data, &st); err != nil {
		return err
	}
	a.state = st
	a.haveState = true
	return nil
}

func (a *Applet) provisionDefaults() error {
	injectReply, err := a.pending.Call(cryptoservice.Request{
		Kind: cryptoservice.KindUnsafeInjectKey, Kind_: keystore.KindSymmetric24,
		KeyType: keystore.Secret, Location: keystore.Internal, Data: yubicoDefaultManagementKey,
	}, stateCallTimeout)
	if err != nil || injectReply.Err != cryptoservice.ErrNone {
		return callErr(injectReply.Err, err)
	}

	st := PersistentState{
		ManagementKey: injectReply.Key,
		PIN:           padReferenceData([]byte(defaultPIN)),
		PUK:           padReferenceData([]byte(defaultPUK)),
		PINRetries:    defaultPINRetries,
		PUKRetries:    defaultPUKRetries,
		Keys:          make(map[byte]keystore.Handle),
		Initialized:   true,
	}
	a.state = st
	a.haveState = true
	return a.saveState()
}

func (a *Applet) saveState() error {
	blob, err := cbor.Marshal(a.state)
	if err != nil {
		return err
	}
	writeReply, err := a.pending.Call(cryptoservice.Request{
		Kind: cryptoservice.KindWriteFile, Location: keystore.Internal, Path: persistentStatePath, Data: blob,
	}, stateCallTimeout)
	if err != nil || writeReply.Err != cryptoservice.ErrNone {
		return callErr(writeReply.Err, err)
	}
	return nil
}

// padReferenceData right-pads a PIN/PUK's ASCII digits with 0xFF to 8
// bytes, per spec.md §3.
func padReferenceData(digits []byte) [8]byte {
	var out [8]byte
	for i := range out {
		out[i] = 0xFF
	}
	copy(out[:], digits)
	return out
}
