package fido

import (
	"encoding/binary"
	"time"

	"github.com/kgiusti/tokencore/internal/cryptoservice"
	"github.com/kgiusti/tokencore/internal/keystore"
)

const counterPath = "counter"

// callTimeout bounds every cryptoservice round trip issued from the
// CTAPHID dispatch goroutine.
const callTimeout = 2 * time.Second

// loadCounter reads the persisted u32 signature counter, defaulting to
// 0 if the file has never been written.
func (a *Applet) loadCounter() (uint32, error) {
	reply, err := a.pending.Call(cryptoservice.Request{
		Kind:     cryptoservice.KindReadFile,
		Location: keystore.Internal,
		Path:     counterPath,
	}, callTimeout)
	if err != nil {
		return 0, err
	}
	if reply.Err == cryptoservice.ErrNoSuchKey {
		return 0, nil
	}
	if reply.Err != cryptoservice.ErrNone {
		return 0, reply.Err.AsError()
	}
	if len(reply.Data) != 4 {
		return 0, nil
	}
	return binary.BigEndian.Uint32(reply.Data), nil
}

// nextCounter increments and persists the signature counter before
// returning the new value, so a power loss between persisting and
// using the value can never cause a counter to be reused (§5).
func (a *Applet) nextCounter() (uint32, error) {
	cur, err := a.loadCounter()
	if err != nil {
		return 0, err
	}
	if cur == 0xFFFFFFFF {
		return 0, errCounterExhausted
	}
	next := cur + 1
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, next)
	reply, err := a.pending.Call(cryptoservice.Request{
		Kind:     cryptoservice.KindWriteFile,
		Location: keystore.Internal,
		Path:     counterPath,
		Data:     buf,
	}, callTimeout)
	if err != nil {
		return 0, err
	}
	if reply.Err != cryptoservice.ErrNone {
		return 0, reply.Err.AsError()
	}
	return next, nil
}
