package ctaphid

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Error codes carried as the single payload byte of a CTAPHID_ERROR reply.
const (
	errInvalidCmd     byte = 0x01
	errInvalidLen     byte = 0x03
	errInvalidSeq     byte = 0x04
	errMsgTimeout     byte = 0x05
	errChannelBusy    byte = 0x06
	errInvalidChannel byte = 0x0B
	errOther          byte = 0x7F
)

// initAllocRate and initAllocBurst bound how often CTAPHID_INIT on the
// broadcast channel may allocate a fresh channel, guarding against a
// host (or a misbehaving/malicious peer sharing the bus) flooding the
// pipe with channel-allocation requests.
const (
	initAllocRate  = rate.Limit(50)
	initAllocBurst = 10
)

// Message is a complete, reassembled CTAPHID request ready for dispatch.
type Message struct {
	ChannelID uint32
	Command   byte
	Data      []byte
}

// Pipe reassembles raw 64-byte HID reports from any number of
// concurrently open channels into complete Messages, enforcing the
// one-channel-busy-at-a-time rule and the §4.6 state machine.
type Pipe struct {
	mu        sync.Mutex
	channels  map[uint32]*channel
	alloc     *allocator
	caps      uint8
	initLimit *rate.Limiter
}

// NewPipe constructs a Pipe. caps is the capability byte advertised in
// CTAPHID_INIT responses (CapWink / CapCBOR).
func NewPipe(caps uint8) *Pipe {
	return &Pipe{
		channels:  make(map[uint32]*channel),
		alloc:     newAllocator(),
		caps:      caps,
		initLimit: rate.NewLimiter(initAllocRate, initAllocBurst),
	}
}

// Feed processes one raw report. It returns at most one of: a complete
// Message ready for dispatch, or a reply report to send immediately
// (an INIT response or an error packet). Both may be nil if the packet
// was accepted but the message is still incomplete.
func (p *Pipe) Feed(report []byte, now time.Time) (*Message, []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if IsInit(report) {
		init, ok := ParseInit(report)
		if !ok {
			return nil, nil, nil
		}
		if init.Command == CmdInit {
			return p.handleInit(init, now)
		}
		return p.handleInitCommand(init, now)
	}

	cont, ok := ParseContinuation(report)
	if !ok {
		return nil, nil, nil
	}
	return p.handleContinuation(cont, now)
}

func (p *Pipe) handleInit(init InitPacket, now time.Time) (*Message, []byte, error) {
	// CTAPHID_INIT is accepted even mid-message; it aborts any
	// in-flight message on the requesting channel and, when sent on the
	// broadcast channel, allocates a fresh channel unless initLimit
	// refuses it (then an error report is returned instead).
	if ch, ok := p.channels[init.ChannelID]; ok {
		ch.reset()
	}

	newID := init.ChannelID
	if init.ChannelID == BroadcastChannel {
		if !p.initLimit.Allow() {
			return nil, p.errorReport(BroadcastChannel, errOther), nil
		}
		newID = p.alloc.allocate()
		p.channels[newID] = &channel{id: newID}
	}

	nonce := init.Data
	if len(nonce) > 8 {
		nonce = nonce[:8]
	}
	resp := make([]byte, 0, 17)
	resp = append(resp, nonce...)
	resp = append(resp,
		byte(newID>>24), byte(newID>>16), byte(newID>>8), byte(newID),
		2,    // CTAPHID protocol version
		0, 0, // device version major.minor (unspecified at this layer)
		0,      // device version build
		p.caps, // capability flags
	)
	reply := EncodeInit(init.ChannelID, CmdInit, uint16(len(resp)), resp)
	return nil, reply, nil
}

func (p *Pipe) handleInitCommand(init InitPacket, now time.Time) (*Message, []byte, error) {
	ch, ok := p.channels[init.ChannelID]
	if !ok {
		return nil, p.errorReport(init.ChannelID, errInvalidChannel), nil
	}

	if init.Command == CmdCancel {
		ch.reset()
		return nil, nil, ErrKeepaliveCancel
	}

	if ch.state != stateIdle {
		return nil, p.errorReport(init.ChannelID, errChannelBusy), ErrChannelBusy
	}

	ch.state = stateReceiving
	ch.cmd = init.Command
	ch.total = int(init.PayloadLen)
	ch.buf = append([]byte(nil), init.Data...)
	ch.nextSeq = 0
	ch.lastPacket = now

	return p.maybeComplete(ch), nil, nil
}

func (p *Pipe) handleContinuation(cont ContinuationPacket, now time.Time) (*Message, []byte, error) {
	ch, ok := p.channels[cont.ChannelID]
	if !ok || ch.state != stateReceiving {
		return nil, p.errorReport(cont.ChannelID, errChannelBusy), ErrChannelBusy
	}
	if cont.Seq != ch.nextSeq {
		ch.reset()
		return nil, p.errorReport(cont.ChannelID, errInvalidSeq), ErrInvalidSeq
	}
	ch.nextSeq++
	ch.lastPacket = now
	ch.buf = append(ch.buf, cont.Data...)
	return p.maybeComplete(ch), nil, nil
}

func (p *Pipe) maybeComplete(ch *channel) *Message {
	if len(ch.buf) < ch.total {
		return nil
	}
	msg := &Message{ChannelID: ch.id, Command: ch.cmd, Data: ch.buf[:ch.total]}
	ch.state = stateDispatching
	return msg
}

// CheckTimeouts scans open channels for a receive that has stalled for
// ReceiveTimeout and aborts it, returning one error report per timed
// out channel.
func (p *Pipe) CheckTimeouts(now time.Time) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	var reports [][]byte
	for _, ch := range p.channels {
		if ch.state == stateReceiving && now.Sub(ch.lastPacket) >= ReceiveTimeout {
			ch.reset()
			reports = append(reports, p.errorReport(ch.id, errMsgTimeout))
		}
	}
	return reports
}

func (p *Pipe) errorReport(channelID uint32, code byte) []byte {
	return EncodeInit(channelID, CmdError, 1, []byte{code})
}

// Release returns the channel to Idle after a dispatched reply has been
// computed or abandoned (Dispatching -> Idle).
func (p *Pipe) Release(channelID uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch, ok := p.channels[channelID]; ok {
		ch.reset()
	}
}

// Dispatch runs fn to compute a reply for msg, emitting CTAPHID_KEEPALIVE
// packets via onKeepAlive at least every KeepAliveInterval while fn is
// still running, then fragments fn's result into report-sized packets.
// status is consulted on each tick to choose between "processing" and
// "waiting for user presence".
func (p *Pipe) Dispatch(ctx context.Context, msg *Message, fn func(context.Context) ([]byte, error), status func() byte, onKeepAlive func([]byte)) ([][]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := fn(ctx)
		done <- result{data, err}
	}()

	ticker := time.NewTicker(KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case r := <-done:
			p.Release(msg.ChannelID)
			if r.err != nil {
				return nil, r.err
			}
			return FragmentReply(msg.ChannelID, msg.Command, r.data), nil
		case <-ticker.C:
			s := KeepAliveProcessing
			if status != nil {
				s = status()
			}
			onKeepAlive(EncodeInit(msg.ChannelID, CmdKeepAlive, 1, []byte{s}))
		case <-ctx.Done():
			p.Release(msg.ChannelID)
			return nil, ctx.Err()
		}
	}
}
