// Package applet holds the glue shared by every applet's cryptoservice
// client: a pending single-slot call wrapped so Applet.Call/Poll can
// expose the Defer outcome the dispatcher expects (§4.7) while the
// cryptoservice drains the request on its own schedule (§5).
package applet

import (
	"errors"
	"time"

	"github.com/kgiusti/tokencore/internal/cryptoservice"
	"github.com/kgiusti/tokencore/internal/interchange"
)

// ErrCallTimeout is returned by Call when the cryptoservice has not
// responded within the given timeout.
var ErrCallTimeout = errors.New("applet: cryptoservice call timed out")

// Pending tracks one in-flight cryptoservice request for an applet that
// can only have one outstanding call per selected operation at a time.
type Pending struct {
	ep       cryptoservice.Endpoint
	inFlight bool
}

// NewPending binds a Pending helper to the applet's registered endpoint.
func NewPending(ep cryptoservice.Endpoint) *Pending {
	return &Pending{ep: ep}
}

// Start submits req if no call is already outstanding, then checks for
// a ready reply. ready is false while the cryptoservice has not yet
// responded; the caller should return apdu.DeferResponse() and retry
// Start with the same arguments on the next Poll.
func (p *Pending) Start(req cryptoservice.Request) (reply cryptoservice.Reply, ready bool, err error) {
	if !p.inFlight {
		if err := p.ep.Request(req); err != nil {
			return cryptoservice.Reply{}, false, err
		}
		p.inFlight = true
	}
	rsp, err := p.ep.TakeResponse()
	if err == interchange.ErrNothingResponded {
		return cryptoservice.Reply{}, false, nil
	}
	if err != nil {
		return cryptoservice.Reply{}, false, err
	}
	p.inFlight = false
	return rsp, true, nil
}

// InFlight reports whether a call is currently outstanding.
func (p *Pending) InFlight() bool { return p.inFlight }

// Call submits req and blocks, polling Start at a short interval, until
// the cryptoservice replies or timeout elapses. Unlike Start, Call may
// only be used from a goroutine that is not itself the main pump loop
// driving Service.Pump — CTAPHID dispatch runs on its own goroutine
// precisely so this blocking style is safe there (§4.6's keepalive
// ticker runs concurrently while this spins).
func (p *Pending) Call(req cryptoservice.Request, timeout time.Duration) (cryptoservice.Reply, error) {
	deadline := time.Now().Add(timeout)
	for {
		reply, ready, err := p.Start(req)
		if err != nil {
			return cryptoservice.Reply{}, err
		}
		if ready {
			return reply, nil
		}
		if time.Now().After(deadline) {
			return cryptoservice.Reply{}, ErrCallTimeout
		}
		time.Sleep(time.Millisecond)
	}
}
