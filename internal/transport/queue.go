package transport

import "sync"

// outboundQueue buffers HID reports produced by the pump's Send
// callback until the next /hid/poll drains them. The real transport
// would push these onto the USB interrupt endpoint as they're
// produced; this harness has no persistent connection to push over,
// so it polls instead.
type outboundQueue struct {
	mu      sync.Mutex
	reports [][]byte
}

func newOutboundQueue() *outboundQueue {
	return &outboundQueue{}
}

func (q *outboundQueue) push(report []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reports = append(q.reports, report)
}

func (q *outboundQueue) drain() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.reports
	q.reports = nil
	return out
}
