package transport

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kgiusti/tokencore/internal/apdu"
)

func newTestHandler(t *testing.T) (*Handler, func([]byte), *apdu.Dispatcher) {
	t.Helper()
	d, err := apdu.NewDispatcher()
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	reports := make(chan []byte, 8)
	h, send := NewHandler(d.ContactRequester(), d.ContactlessRequester(), reports)
	return h, send, d
}

// serveOneExchange runs the dispatcher's responder side just long
// enough to answer a single request, mirroring what internal/pump
// would normally do on every tick.
func serveOneExchange(t *testing.T, d *apdu.Dispatcher, done <-chan struct{}) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case <-done:
			return
		default:
		}
		d.Poll()
		time.Sleep(time.Millisecond)
	}
}

func TestHandleAPDUContactRoundTrip(t *testing.T) {
	h, _, d := newTestHandler(t)
	done := make(chan struct{})
	go serveOneExchange(t, d, done)
	defer close(done)

	mux := h.RegisterRoutes(nil)

	// SELECT by AID for an applet that doesn't exist: the dispatcher
	// should still answer (StatusNotFound), proving the HTTP path and
	// the interchange round trip both work end to end.
	body := []byte{0x00, 0xA4, 0x04, 0x00, 0x02, 0xAA, 0xBB}
	req := httptest.NewRequest(http.MethodPost, "/apdu/contact", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %q", rec.Code, rec.Body.String())
	}
	resp := rec.Body.Bytes()
	if len(resp) < 2 {
		t.Fatalf("response too short: %x", resp)
	}
	status := apdu.Status(uint16(resp[len(resp)-2])<<8 | uint16(resp[len(resp)-1]))
	if status != apdu.StatusNotFound {
		t.Fatalf("status word = 0x%04X, want StatusNotFound", uint16(status))
	}
}

func TestHandleAPDURejectsGet(t *testing.T) {
	h, _, _ := newTestHandler(t)
	mux := h.RegisterRoutes(nil)

	req := httptest.NewRequest(http.MethodGet, "/apdu/contact", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleAPDUMalformedBodyIsBadRequest(t *testing.T) {
	h, _, _ := newTestHandler(t)
	mux := h.RegisterRoutes(nil)

	req := httptest.NewRequest(http.MethodPost, "/apdu/contact", bytes.NewReader([]byte{0x00}))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleAPDUWaitsWithoutAResponder(t *testing.T) {
	h, _, _ := newTestHandler(t)
	mux := h.RegisterRoutes(nil)

	// No goroutine drains the dispatcher, so the handler keeps waiting
	// in awaitResult. apduCallTimeout is 10s in the package; rather
	// than wait it out, this checks that a contactless request has not
	// been answered 50ms later.
	body := []byte{0x00, 0xA4, 0x04, 0x00, 0x02, 0xAA, 0xBB}
	req1 := httptest.NewRequest(http.MethodPost, "/apdu/contactless", bytes.NewReader(body))
	rec1 := httptest.NewRecorder()

	finished := make(chan struct{})
	go func() {
		mux.ServeHTTP(rec1, req1)
		close(finished)
	}()

	select {
	case <-finished:
		t.Fatal("handler returned before any responder took the request")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHIDReportAndPollRoundTrip(t *testing.T) {
	h, send, _ := newTestHandler(t)
	mux := h.RegisterRoutes(nil)

	report := bytes.Repeat([]byte{0x42}, 64)
	reqBody, err := json.Marshal(hidReportRequest{Report: base64.StdEncoding.EncodeToString(report)})
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/hid/report", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}

	send(bytes.Repeat([]byte{0x99}, 64))

	pollReq := httptest.NewRequest(http.MethodGet, "/hid/poll", nil)
	pollRec := httptest.NewRecorder()
	mux.ServeHTTP(pollRec, pollReq)
	if pollRec.Code != http.StatusOK {
		t.Fatalf("poll status = %d", pollRec.Code)
	}
	var polled hidPollResponse
	if err := json.Unmarshal(pollRec.Body.Bytes(), &polled); err != nil {
		t.Fatalf("unmarshal poll response: %v", err)
	}
	if len(polled.Reports) != 1 {
		t.Fatalf("len(Reports) = %d, want 1", len(polled.Reports))
	}
	decoded, err := base64.StdEncoding.DecodeString(polled.Reports[0])
	if err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if !bytes.Equal(decoded, bytes.Repeat([]byte{0x99}, 64)) {
		t.Fatal("polled report doesn't match what was sent")
	}

	// Second poll drains nothing new.
	pollRec2 := httptest.NewRecorder()
	mux.ServeHTTP(pollRec2, httptest.NewRequest(http.MethodGet, "/hid/poll", nil))
	var polled2 hidPollResponse
	if err := json.Unmarshal(pollRec2.Body.Bytes(), &polled2); err != nil {
		t.Fatalf("unmarshal poll response #2: %v", err)
	}
	if len(polled2.Reports) != 0 {
		t.Fatalf("len(Reports) #2 = %d, want 0", len(polled2.Reports))
	}
}
