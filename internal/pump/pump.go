// Package pump runs the idle-priority scheduler loop that ties the
// cryptoservice, the APDU dispatcher, and the CTAPHID pipe together,
// the way solo2's embedded runner drives its apdu-dispatch and
// crypto-service components from one cooperative main loop (see
// runners/embedded/src/types.rs in the retrieved original source).
// Every component here is already non-blocking and poll-driven, so the
// loop itself only needs to decide when to call each one and how to
// fan a completed CTAPHID message out to its own goroutine.
package pump

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kgiusti/tokencore/internal/apdu"
	"github.com/kgiusti/tokencore/internal/catalog"
	"github.com/kgiusti/tokencore/internal/cryptoservice"
	"github.com/kgiusti/tokencore/internal/ctaphid"
)

// idleInterval bounds how long the loop can block waiting on incoming
// HID reports before it re-polls the cryptoservice and dispatcher for
// deferred work that has become ready on its own.
const idleInterval = 5 * time.Millisecond

// dispatchTimeout bounds one CTAP2 command's total processing time,
// covering however many cryptoservice round trips it takes.
const dispatchTimeout = 10 * time.Second

// Pump owns the three components a token's main loop must service
// every tick, plus the CTAPHID-capable applet(s) registered for
// command dispatch.
type Pump struct {
	Crypto     *cryptoservice.Service
	Dispatcher *apdu.Dispatcher
	Pipe       *ctaphid.Pipe

	applets map[apdu.HIDCommand]apdu.HIDApplet

	// Catalog records an audit trail entry per dispatched CTAP2
	// command, when non-nil.
	Catalog *catalog.Catalog

	// Reports is the inbound channel of raw 64-byte HID reports from
	// the transport layer; Send pushes a reply report back to it.
	Reports <-chan []byte
	Send    func([]byte)
}

// New constructs a Pump. Call RegisterHID once per CTAPHID-capable
// applet before Run.
func New(crypto *cryptoservice.Service, dispatcher *apdu.Dispatcher, pipe *ctaphid.Pipe, reports <-chan []byte, send func([]byte)) *Pump {
	return &Pump{
		Crypto:     crypto,
		Dispatcher: dispatcher,
		Pipe:       pipe,
		applets:    make(map[apdu.HIDCommand]apdu.HIDApplet),
		Reports:    reports,
		Send:       send,
	}
}

// RegisterHID routes every CTAP2 command a applet declares via
// Commands() to that applet's CallHID.
func (p *Pump) RegisterHID(a apdu.HIDApplet) {
	for _, cmd := range a.Commands() {
		p.applets[cmd] = a
	}
}

// Run services the pump until ctx is cancelled. It is meant to run on
// its own goroutine for the lifetime of the process.
func (p *Pump) Run(ctx context.Context) {
	ticker := time.NewTicker(idleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case report, ok := <-p.Reports:
			if ok {
				p.feedReport(report)
			}
		case <-ticker.C:
		}

		p.Crypto.Pump()
		p.Dispatcher.Poll()
		for _, errReport := range p.Pipe.CheckTimeouts(time.Now()) {
			p.Send(errReport)
		}
	}
}

func (p *Pump) feedReport(report []byte) {
	defer p.recoverPanic("feedReport")

	msg, reply, err := p.Pipe.Feed(report, time.Now())
	if reply != nil {
		p.Send(reply)
	}
	if err != nil {
		slog.Debug("ctaphid: report rejected", "err", err)
	}
	if msg != nil {
		go p.dispatch(msg)
	}
}

func (p *Pump) dispatch(msg *ctaphid.Message) {
	defer p.recoverPanic("dispatch")

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	reports, err := p.Pipe.Dispatch(ctx, msg, func(ctx context.Context) ([]byte, error) {
		return p.handle(msg)
	}, nil, p.Send)
	if err != nil {
		slog.Warn("ctaphid: dispatch failed", "cmd", msg.Command, "err", err)
		p.record("fido", "ctaphid-error", err.Error())
		return
	}
	p.record("fido", "ctaphid-dispatch", fmt.Sprintf("cmd=0x%02x", msg.Command))
	for _, r := range reports {
		p.Send(r)
	}
}

func (p *Pump) record(clientID, kind, detail string) {
	if p.Catalog == nil {
		return
	}
	if err := p.Catalog.Record(clientID, kind, detail); err != nil {
		slog.Debug("pump: catalog record failed", "err", err)
	}
}

// handle runs the applet-facing half of one complete CTAPHID message.
// CmdCBOR messages carry the CTAP2 command byte as their first byte,
// per the hid.go dispatch table each FIDO-capable applet registers.
func (p *Pump) handle(msg *ctaphid.Message) ([]byte, error) {
	switch msg.Command {
	case ctaphid.CmdPing:
		return msg.Data, nil
	case ctaphid.CmdWink:
		return nil, nil
	case ctaphid.CmdCBOR:
		if len(msg.Data) == 0 {
			return nil, errEmptyCBORMessage
		}
		cmd := apdu.HIDCommand(msg.Data[0])
		a, ok := p.applets[cmd]
		if !ok {
			return nil, errUnsupportedCommand
		}
		var resp []byte
		if err := a.CallHID(cmd, msg.Data[1:], &resp); err != nil {
			return nil, err
		}
		return resp, nil
	default:
		return nil, errUnsupportedCommand
	}
}

func (p *Pump) recoverPanic(where string) {
	if r := recover(); r != nil {
		slog.Error("pump: recovered panic", "where", where, "panic", r)
	}
}
