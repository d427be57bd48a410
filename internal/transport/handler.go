package transport

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/kgiusti/tokencore/internal/apdu"
	"github.com/kgiusti/tokencore/internal/interchange"
)

// apduPollInterval and apduCallTimeout bound how long a synchronous
// APDU HTTP request waits for the pump goroutine to service the
// dispatcher and produce a response.
const (
	apduPollInterval = time.Millisecond
	apduCallTimeout  = 10 * time.Second
)

var errAPDUTimeout = errors.New("transport: no response from dispatcher before deadline")

// Handler exposes the token's two ISO-7816 interfaces and the CTAPHID
// report channel over plain HTTP, for development and integration
// testing without real USB/NFC hardware.
type Handler struct {
	contact     *interchange.Requester[apdu.Exchange, apdu.Result]
	contactless *interchange.Requester[apdu.Exchange, apdu.Result]

	reports chan<- []byte
	queue   *outboundQueue
}

// NewHandler wires a Handler to the dispatcher's two requester handles
// and the pump's inbound report channel. The returned function is the
// pump's Send callback: it queues each report for later draining by
// /hid/poll.
func NewHandler(contact, contactless *interchange.Requester[apdu.Exchange, apdu.Result], reports chan<- []byte) (*Handler, func([]byte)) {
	q := newOutboundQueue()
	h := &Handler{contact: contact, contactless: contactless, reports: reports, queue: q}
	return h, q.push
}

// RegisterRoutes attaches the harness's endpoints to mux (a fresh
// http.ServeMux is used if mux is nil).
func (h *Handler) RegisterRoutes(mux *http.ServeMux) http.Handler {
	if mux == nil {
		mux = http.NewServeMux()
	}
	mux.HandleFunc("/apdu/contact", h.handleAPDU(h.contact, apdu.Contact))
	mux.HandleFunc("/apdu/contactless", h.handleAPDU(h.contactless, apdu.Contactless))
	mux.HandleFunc("/hid/report", h.handleHIDReport)
	mux.HandleFunc("/hid/poll", h.handleHIDPoll)
	return mux
}

func (h *Handler) handleAPDU(req *interchange.Requester[apdu.Exchange, apdu.Result], iface apdu.Interface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		cmd, err := apdu.ParseCommand(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := req.Request(apdu.Exchange{Interface: iface, Command: cmd}); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		result, err := awaitResult(req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusGatewayTimeout)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(result.Bytes)
	}
}

func awaitResult(req *interchange.Requester[apdu.Exchange, apdu.Result]) (apdu.Result, error) {
	deadline := time.Now().Add(apduCallTimeout)
	for {
		result, err := req.TakeResponse()
		if err == nil {
			return result, nil
		}
		if err != interchange.ErrNothingResponded {
			return apdu.Result{}, err
		}
		if time.Now().After(deadline) {
			return apdu.Result{}, errAPDUTimeout
		}
		time.Sleep(apduPollInterval)
	}
}

// hidReportRequest carries one base64-encoded 64-byte HID report.
type hidReportRequest struct {
	Report string `json:"report"`
}

func (h *Handler) handleHIDReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req hidReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	report, err := base64.StdEncoding.DecodeString(req.Report)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.reports <- report
	w.WriteHeader(http.StatusAccepted)
}

// hidPollResponse carries every report the pump has produced since the
// last poll, oldest first.
type hidPollResponse struct {
	Reports []string `json:"reports"`
}

func (h *Handler) handleHIDPoll(w http.ResponseWriter, r *http.Request) {
	reports := h.queue.drain()
	encoded := make([]string, len(reports))
	for i, rep := range reports {
		encoded[i] = base64.StdEncoding.EncodeToString(rep)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(hidPollResponse{Reports: encoded})
}
