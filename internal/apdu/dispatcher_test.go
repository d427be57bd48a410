package apdu

import (
	"errors"
	"testing"
)

// fakeApplet is a minimal Applet used to exercise the Dispatcher
// without depending on any of the real personalities (which in turn
// import this package).
type fakeApplet struct {
	rid        []byte
	selects    int
	deselects  int
	calls      int
	response   []byte
	deferFirst bool
	polled     int
}

func (f *fakeApplet) Select(cmd CommandAPDU) (Outcome, Status) {
	f.selects++
	return Respond(nil), StatusSuccess
}
func (f *fakeApplet) Deselect() { f.deselects++ }
func (f *fakeApplet) Call(iface Interface, cmd CommandAPDU) (Outcome, Status) {
	f.calls++
	if f.deferFirst && f.calls == 1 {
		return DeferResponse(), StatusSuccess
	}
	return Respond(f.response), StatusSuccess
}
func (f *fakeApplet) Poll() (Outcome, Status) {
	f.polled++
	return Respond(f.response), StatusSuccess
}
func (f *fakeApplet) RID() []byte              { return f.rid }
func (f *fakeApplet) RightTruncatedLength() int { return len(f.rid) }

func selectCommand(aid []byte) CommandAPDU {
	return CommandAPDU{Instruction: insSelect, P1: 0x04, Data: aid}
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher()
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	return d
}

func TestSelectRoutesToMatchingApplet(t *testing.T) {
	d := newTestDispatcher(t)
	app := &fakeApplet{rid: []byte{0xA0, 0x00, 0x01}}
	d.Register(app)

	req := d.ContactRequester()
	if err := req.Request(Exchange{Interface: Contact, Command: selectCommand(app.rid)}); err != nil {
		t.Fatalf("Request: %v", err)
	}
	d.Poll()

	result, err := req.TakeResponse()
	if err != nil {
		t.Fatalf("TakeResponse: %v", err)
	}
	if app.selects != 1 {
		t.Fatalf("selects = %d, want 1", app.selects)
	}
	resp, err := parseResponse(result.Bytes)
	if err != nil {
		t.Fatalf("parseResponse: %v", err)
	}
	if resp.status != StatusSuccess {
		t.Fatalf("status = 0x%04X, want success", uint16(resp.status))
	}
	if d.CurrentAID() == nil {
		t.Fatal("CurrentAID should be set after a successful SELECT")
	}
}

func TestSelectNoMatchReturnsNotFound(t *testing.T) {
	d := newTestDispatcher(t)
	d.Register(&fakeApplet{rid: []byte{0xA0, 0x00, 0x01}})

	req := d.ContactRequester()
	if err := req.Request(Exchange{Interface: Contact, Command: selectCommand([]byte{0xA0, 0x00, 0x02})}); err != nil {
		t.Fatalf("Request: %v", err)
	}
	d.Poll()

	result, err := req.TakeResponse()
	if err != nil {
		t.Fatalf("TakeResponse: %v", err)
	}
	resp, err := parseResponse(result.Bytes)
	if err != nil {
		t.Fatalf("parseResponse: %v", err)
	}
	if resp.status != StatusNotFound {
		t.Fatalf("status = 0x%04X, want StatusNotFound", uint16(resp.status))
	}
}

func TestSetSelectObserverFiresOnSuccessfulSelect(t *testing.T) {
	d := newTestDispatcher(t)
	app := &fakeApplet{rid: []byte{0xA0, 0x00, 0x01}}
	d.Register(app)

	var observed AID
	calls := 0
	d.SetSelectObserver(func(aid AID) {
		observed = aid
		calls++
	})

	req := d.ContactRequester()
	if err := req.Request(Exchange{Interface: Contact, Command: selectCommand(app.rid)}); err != nil {
		t.Fatalf("Request: %v", err)
	}
	d.Poll()
	if _, err := req.TakeResponse(); err != nil {
		t.Fatalf("TakeResponse: %v", err)
	}

	if calls != 1 {
		t.Fatalf("observer calls = %d, want 1", calls)
	}
	if !aidEqual(observed, app.rid) {
		t.Fatalf("observed AID = %v, want %v", observed, app.rid)
	}
}

func TestSetSelectObserverNotFiredOnFailedSelect(t *testing.T) {
	d := newTestDispatcher(t)
	d.Register(&fakeApplet{rid: []byte{0xA0, 0x00, 0x01}})

	calls := 0
	d.SetSelectObserver(func(aid AID) { calls++ })

	req := d.ContactRequester()
	if err := req.Request(Exchange{Interface: Contact, Command: selectCommand([]byte{0xFF})}); err != nil {
		t.Fatalf("Request: %v", err)
	}
	d.Poll()
	if _, err := req.TakeResponse(); err != nil {
		t.Fatalf("TakeResponse: %v", err)
	}
	if calls != 0 {
		t.Fatalf("observer calls = %d, want 0 for an unmatched SELECT", calls)
	}
}

func TestCallWithoutSelectionReturnsNotFound(t *testing.T) {
	d := newTestDispatcher(t)
	d.Register(&fakeApplet{rid: []byte{0xA0, 0x00, 0x01}})

	req := d.ContactRequester()
	if err := req.Request(Exchange{Interface: Contact, Command: CommandAPDU{Instruction: 0x20}}); err != nil {
		t.Fatalf("Request: %v", err)
	}
	d.Poll()

	result, err := req.TakeResponse()
	if err != nil {
		t.Fatalf("TakeResponse: %v", err)
	}
	resp, err := parseResponse(result.Bytes)
	if err != nil {
		t.Fatalf("parseResponse: %v", err)
	}
	if resp.status != StatusNotFound {
		t.Fatalf("status = 0x%04X, want StatusNotFound", uint16(resp.status))
	}
}

func TestDeferredOutcomeCompletesOnPoll(t *testing.T) {
	d := newTestDispatcher(t)
	app := &fakeApplet{rid: []byte{0xA0, 0x00, 0x01}, deferFirst: true, response: []byte{0x01, 0x02}}
	d.Register(app)

	req := d.ContactRequester()
	if err := req.Request(Exchange{Interface: Contact, Command: selectCommand(app.rid)}); err != nil {
		t.Fatalf("Request (select): %v", err)
	}
	d.Poll()
	if _, err := req.TakeResponse(); err != nil {
		t.Fatalf("TakeResponse (select): %v", err)
	}

	if err := req.Request(Exchange{Interface: Contact, Command: CommandAPDU{Instruction: 0x20}}); err != nil {
		t.Fatalf("Request (call): %v", err)
	}
	d.Poll()

	// The applet deferred; the dispatcher must not have a response
	// ready yet, and a second Request must be refused while deferred.
	if err := req.Request(Exchange{Interface: Contact, Command: CommandAPDU{Instruction: 0x20}}); err == nil {
		t.Fatal("expected Request to be refused while a response is deferred")
	}

	d.Poll() // drains the applet's Poll(), completing the deferred outcome

	result, err := req.TakeResponse()
	if err != nil {
		t.Fatalf("TakeResponse (deferred): %v", err)
	}
	resp, err := parseResponse(result.Bytes)
	if err != nil {
		t.Fatalf("parseResponse: %v", err)
	}
	if resp.status != StatusSuccess {
		t.Fatalf("status = 0x%04X, want success", uint16(resp.status))
	}
}

// parseResponse splits a raw response APDU's trailing 2-byte status
// word from any leading data, mirroring how a real transport would
// interpret the dispatcher's output.
type parsedResponse struct {
	data   []byte
	status Status
}

func parseResponse(raw []byte) (parsedResponse, error) {
	if len(raw) < 2 {
		return parsedResponse{}, errShortResponse
	}
	n := len(raw)
	return parsedResponse{data: raw[:n-2], status: Status(uint16(raw[n-2])<<8 | uint16(raw[n-1]))}, nil
}

var errShortResponse = errors.New("apdu: response shorter than a status word")
