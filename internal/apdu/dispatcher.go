package apdu

import (
	"github.com/kgiusti/tokencore/internal/interchange"
)

// Exchange is a single APDU round trip sent through an interchange slot.
type Exchange struct {
	Interface Interface
	Command   CommandAPDU
}

// Result carries a completed exchange's raw response bytes, as opposed
// to Outcome which can still be a deferred disposition.
type Result struct {
	Bytes []byte
}

// registeredApplet pairs an Applet with its registration order, used
// to break SELECT ties when two applets declare an equal-length
// matching prefix.
type registeredApplet struct {
	applet Applet
	order  int
}

// Dispatcher selects an applet by AID and routes ISO-7816 commands
// from either interface to exactly one selected applet at a time.
type Dispatcher struct {
	contactReq      *interchange.Requester[Exchange, Result]
	contactlessReq  *interchange.Requester[Exchange, Result]
	contactRsp      *interchange.Responder[Exchange, Result]
	contactlessRsp  *interchange.Responder[Exchange, Result]

	currentAID       AID
	currentInterface Interface
	selected         Applet
	deferred         bool
	deferredRsp      *interchange.Responder[Exchange, Result]

	reassembler Reassembler
	onSelect    func(AID)

	applets []registeredApplet
}

// NewDispatcher constructs a Dispatcher and claims its two fixed
// interchange slots (one per interface).
func NewDispatcher() (*Dispatcher, error) {
	var contactSlot, contactlessSlot interchange.Slot[Exchange, Result]
	cReq, cRsp, err := contactSlot.Claim()
	if err != nil {
		return nil, err
	}
	clReq, clRsp, err := contactlessSlot.Claim()
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		contactReq:     cReq,
		contactlessReq: clReq,
		contactRsp:     cRsp,
		contactlessRsp: clRsp,
	}, nil
}

// ContactRequester and ContactlessRequester are the transport-facing
// handles used to submit commands into the dispatcher.
func (d *Dispatcher) ContactRequester() *interchange.Requester[Exchange, Result] { return d.contactReq }
func (d *Dispatcher) ContactlessRequester() *interchange.Requester[Exchange, Result] {
	return d.contactlessReq
}

// Register adds an applet to the dispatch table in registration order.
func (d *Dispatcher) Register(a Applet) {
	d.applets = append(d.applets, registeredApplet{applet: a, order: len(d.applets)})
}

// CurrentAID reports the AID of the currently selected applet, or nil
// if none is selected.
func (d *Dispatcher) CurrentAID() AID { return d.currentAID }

// Poll runs one idempotent, non-blocking iteration of the dispatch
// algorithm in spec.md §4.4.
func (d *Dispatcher) Poll() {
	rsp, iface, exch, ok := d.takeNext()
	if !ok {
		// No new request: if an applet is selected, let it drain
		// deferred work or respond late.
		if d.selected != nil {
			d.pollSelected()
		}
		return
	}
	d.currentInterface = iface

	cmd := exch.Command
	if cmd.IsSelect() {
		d.reassembler.reset()
		d.handleSelect(rsp, cmd)
		return
	}

	if cmd.Instruction == insGetResponse {
		chunk, status, err := d.reassembler.ContinueResponse()
		if err != nil {
			_, _ = rsp.Respond(Result{Bytes: ResponseAPDU{Status: status}.Bytes()})
			return
		}
		_, _ = rsp.Respond(Result{Bytes: ResponseAPDU{Data: chunk, Status: status}.Bytes()})
		return
	}

	complete, ready, chainStatus := d.reassembler.Feed(cmd)
	if !ready {
		if chainStatus == 0 {
			// Chain still accumulating; ack and await the next fragment.
			_, _ = rsp.Respond(Result{Bytes: ResponseAPDU{Status: StatusSuccess}.Bytes()})
			return
		}
		_, _ = rsp.Respond(Result{Bytes: ResponseAPDU{Status: chainStatus}.Bytes()})
		return
	}

	if d.selected == nil {
		_, _ = rsp.Respond(Result{Bytes: ResponseAPDU{Status: StatusNotFound}.Bytes()})
		return
	}

	outcome, status := d.selected.Call(iface, complete)
	d.completeOutcome(rsp, outcome, status)
}

// takeNext implements the Contactless-over-Contact preference and the
// "don't take a new command while an applet has deferred" rule.
func (d *Dispatcher) takeNext() (*interchange.Responder[Exchange, Result], Interface, Exchange, bool) {
	if d.deferred {
		return nil, 0, Exchange{}, false
	}
	if exch, err := d.contactlessRsp.TakeRequest(); err == nil {
		return d.contactlessRsp, Contactless, exch, true
	}
	if exch, err := d.contactRsp.TakeRequest(); err == nil {
		return d.contactRsp, Contact, exch, true
	}
	return nil, 0, Exchange{}, false
}

func (d *Dispatcher) handleSelect(rsp *interchange.Responder[Exchange, Result], cmd CommandAPDU) {
	requested := AID(cmd.Data)

	if d.selected != nil && !aidEqual(d.currentAID, requested) {
		d.selected.Deselect()
		d.selected = nil
		d.currentAID = nil
	}

	match := d.bestMatch(requested)
	if match == nil {
		_, _ = rsp.Respond(Result{Bytes: ResponseAPDU{Status: StatusNotFound}.Bytes()})
		return
	}

	outcome, status := match.Select(cmd)
	if status != StatusSuccess {
		_, _ = rsp.Respond(Result{Bytes: ResponseAPDU{Status: status}.Bytes()})
		return
	}
	d.selected = match
	d.currentAID = requested
	if d.onSelect != nil {
		d.onSelect(requested)
	}
	d.completeOutcome(rsp, outcome, status)
}

// SetSelectObserver registers fn to be called with the requested AID
// every time a SELECT succeeds, including a SELECT of the applet that
// is already active. Used by
// the audit trail to record applet activations without the dispatcher
// needing to know anything about the catalog package.
func (d *Dispatcher) SetSelectObserver(fn func(AID)) { d.onSelect = fn }

// bestMatch picks the applet whose RID prefixes requested, breaking
// ties by longest declared right-truncated length, then registration order.
func (d *Dispatcher) bestMatch(requested AID) Applet {
	var best *registeredApplet
	for i := range d.applets {
		cand := &d.applets[i]
		if !Matches(requested, cand.applet.RID(), cand.applet.RightTruncatedLength()) {
			continue
		}
		if best == nil {
			best = cand
			continue
		}
		bl := best.applet.RightTruncatedLength()
		cl := cand.applet.RightTruncatedLength()
		if cl > bl || (cl == bl && cand.order < best.order) {
			best = cand
		}
	}
	if best == nil {
		return nil
	}
	return best.applet
}

func (d *Dispatcher) completeOutcome(rsp *interchange.Responder[Exchange, Result], outcome Outcome, status Status) {
	if outcome.Defer {
		d.deferred = true
		d.deferredRsp = rsp
		return
	}
	if status == StatusSuccess && len(outcome.Response) > 256 {
		chunk, bufStatus, err := d.reassembler.BufferResponse(outcome.Response)
		if err != nil {
			_, _ = rsp.Respond(Result{Bytes: ResponseAPDU{Status: bufStatus}.Bytes()})
			return
		}
		_, _ = rsp.Respond(Result{Bytes: ResponseAPDU{Data: chunk, Status: bufStatus}.Bytes()})
		return
	}
	resp := ResponseAPDU{Data: outcome.Response, Status: status}
	_, _ = rsp.Respond(Result{Bytes: resp.Bytes()})
}

func (d *Dispatcher) pollSelected() {
	outcome, status := d.selected.Poll()
	if !d.deferred {
		return
	}
	if outcome.Defer {
		return // still deferred
	}
	rsp := d.deferredRsp
	d.deferred = false
	d.deferredRsp = nil
	d.completeOutcome(rsp, outcome, status)
}

func aidEqual(a, b AID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
