// Package interchange implements a single-slot request/response
// rendezvous between exactly one requester and one responder.
//
// It exists in place of an unbounded channel so that memory use is
// bounded at one in-flight message and cancellation is a simple
// ownership transfer rather than a queue-draining problem. See the
// state machine below; it is the whole contract.
package interchange

import (
	"errors"
	"sync"
	"sync/atomic"
)

// State is the slot's atomic tag. Transitions are performed with a
// single compare-and-swap; the payload fields are only written while
// the calling side exclusively owns the slot under the state machine
// below.
type State uint32

const (
	Idle State = iota
	Requested
	Processing
	Responded
	CancelingRequested
	CancelingProcessing
	Canceled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Requested:
		return "Requested"
	case Processing:
		return "Processing"
	case Responded:
		return "Responded"
	case CancelingRequested:
		return "CancelingRequested"
	case CancelingProcessing:
		return "CancelingProcessing"
	case Canceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

var (
	// ErrNotIdle is returned by Request when the slot already holds
	// an in-flight message.
	ErrNotIdle = errors.New("interchange: slot is not idle")
	// ErrNothingToCancel is returned by Cancel when the slot is Idle
	// or Responded.
	ErrNothingToCancel = errors.New("interchange: nothing to cancel")
	// ErrNotProcessing is returned by Respond when the requester has
	// canceled (or never requested) in the meantime.
	ErrNotProcessing = errors.New("interchange: slot is not Processing")
	// ErrNothingRequested is returned by TakeRequest when there is no
	// pending request to take.
	ErrNothingRequested = errors.New("interchange: no request pending")
	// ErrNothingResponded is returned by TakeResponse when there is
	// no response ready to take.
	ErrNothingResponded = errors.New("interchange: no response ready")
	// ErrAlreadyClaimed is returned by Claim on the second call.
	ErrAlreadyClaimed = errors.New("interchange: slot already claimed")
)

// Slot is a single request/response rendezvous for messages of type
// Req and Resp. The zero value is ready to use. A Slot must not be
// copied after Claim has been called; copyGuard makes go vet flag
// accidental copies.
type Slot[Req, Resp any] struct {
	state atomic.Uint32

	mu  sync.Mutex
	req Req
	rsp Resp

	claimed copyGuard
}

// copyGuard carries a noCopy marker and a one-shot claim latch.
type copyGuard struct {
	_     [0]sync.Mutex // go vet: flags copies of the containing struct
	claim atomic.Bool
}

// Claim returns the Requester and Responder views of the slot. It may
// be called exactly once; subsequent calls return ErrAlreadyClaimed.
func (s *Slot[Req, Resp]) Claim() (*Requester[Req, Resp], *Responder[Req, Resp], error) {
	if !s.claimed.claim.CompareAndSwap(false, true) {
		return nil, nil, ErrAlreadyClaimed
	}
	return &Requester[Req, Resp]{s: s}, &Responder[Req, Resp]{s: s}, nil
}

func (s *Slot[Req, Resp]) state_() State { return State(s.state.Load()) }

func (s *Slot[Req, Resp]) cas(from, to State) bool {
	return s.state.CompareAndSwap(uint32(from), uint32(to))
}

// Requester is the requesting-side handle to a Slot.
type Requester[Req, Resp any] struct{ s *Slot[Req, Resp] }

// Responder is the responding-side handle to a Slot.
type Responder[Req, Resp any] struct{ s *Slot[Req, Resp] }

// State returns the slot's current state. Intended for polling loops
// and tests, not for synchronization decisions (those go through the
// typed operations below).
func (r *Requester[Req, Resp]) State() State { return r.s.state_() }
func (r *Responder[Req, Resp]) State() State { return r.s.state_() }

// Request deposits req into the slot and transitions Idle -> Requested.
// If the slot is not Idle, the request is not deposited and ErrNotIdle
// is returned.
func (r *Requester[Req, Resp]) Request(req Req) error {
	s := r.s
	s.mu.Lock()
	if !s.cas(Idle, Idle) { // peek; avoid writing payload under contention
		s.mu.Unlock()
		return ErrNotIdle
	}
	s.req = req
	s.mu.Unlock()
	if !s.cas(Idle, Requested) {
		return ErrNotIdle
	}
	return nil
}

// Cancel aborts a pending or in-flight request. Canceling a Requested
// slot drops the payload and returns the slot directly to Idle.
// Canceling a Processing slot moves to CancelingProcessing; the
// responder observes this on its next Respond and returns the payload
// to the caller instead of delivering it. Canceling in Idle or
// Responded is an error.
func (r *Requester[Req, Resp]) Cancel() error {
	s := r.s
	if s.cas(Requested, CancelingRequested) {
		s.mu.Lock()
		var zero Req
		s.req = zero
		s.mu.Unlock()
		s.state.Store(uint32(Idle))
		return nil
	}
	if s.cas(Processing, CancelingProcessing) {
		return nil
	}
	return ErrNothingToCancel
}

// TakeResponse retrieves the responder's reply and returns the slot to
// Idle. Returns ErrNothingResponded if no response is ready yet, and
// ErrNothingToCancel-shaped guidance is not applicable here: a caller
// that previously canceled should not call TakeResponse.
func (r *Requester[Req, Resp]) TakeResponse() (Resp, error) {
	s := r.s
	var zero Resp
	if !s.cas(Responded, Idle) {
		return zero, ErrNothingResponded
	}
	s.mu.Lock()
	rsp := s.rsp
	s.rsp = zero
	s.mu.Unlock()
	return rsp, nil
}

// Acknowledge clears a Canceled slot (the responder's acknowledgment
// of a cancellation that raced past Processing) back to Idle.
func (r *Requester[Req, Resp]) Acknowledge() error {
	s := r.s
	if s.cas(Canceled, Idle) {
		return nil
	}
	return ErrNothingToCancel
}

// TakeRequest claims a pending request for processing, transitioning
// Requested -> Processing. Returns ErrNothingRequested if there is
// none.
func (p *Responder[Req, Resp]) TakeRequest() (Req, error) {
	s := p.s
	var zero Req
	if !s.cas(Requested, Processing) {
		return zero, ErrNothingRequested
	}
	s.mu.Lock()
	req := s.req
	s.req = zero
	s.mu.Unlock()
	return req, nil
}

// Respond deposits the reply and transitions Processing -> Responded.
// If the requester canceled in the meantime (CancelingProcessing), the
// slot instead moves to Canceled and the response payload is returned
// to the responder alongside ErrNotProcessing so it can be reused or
// discarded.
func (p *Responder[Req, Resp]) Respond(rsp Resp) (Resp, error) {
	s := p.s
	if s.cas(Processing, Responded) {
		s.mu.Lock()
		s.rsp = rsp
		s.mu.Unlock()
		// Re-check: a cancel racing exactly at this instant already
		// failed its own CAS against Responded, so it will observe
		// Responded and simply wait for TakeResponse; nothing further
		// to do here.
		return rsp, nil
	}
	if s.cas(CancelingProcessing, Canceled) {
		return rsp, ErrNotProcessing
	}
	return rsp, ErrNotProcessing
}

// IsCanceled reports whether the requester canceled this request,
// intended for a responder mid-operation to poll cheaply before doing
// expensive work.
func (p *Responder[Req, Resp]) IsCanceled() bool {
	switch p.s.state_() {
	case CancelingProcessing, CancelingRequested, Canceled:
		return true
	default:
		return false
	}
}
