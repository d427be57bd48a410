package apdu

// Interface names which physical interface a command arrived on.
type Interface int

const (
	Contact Interface = iota
	Contactless
)

// Outcome is an applet's disposition for a Call or Poll: either a
// ready response, or Defer meaning "I will respond during a later
// Poll()", in which case the dispatcher leaves the interchange slot in
// Processing and stops taking new commands until the applet responds.
type Outcome struct {
	Defer    bool
	Response []byte
}

// Respond builds a ready Outcome carrying data.
func Respond(data []byte) Outcome { return Outcome{Response: data} }

// DeferResponse builds an Outcome telling the dispatcher to come back later.
func DeferResponse() Outcome { return Outcome{Defer: true} }

// Applet is the capability set every registered applet satisfies.
type Applet interface {
	// Select is invoked when this applet's RID prefixes a SELECT
	// command's AID. Returning a non-success Status means the applet
	// is not considered selected.
	Select(cmd CommandAPDU) (Outcome, Status)
	// Deselect is the applet's opportunity to zero any sensitive
	// in-memory state not already persisted to the key store.
	Deselect()
	// Call dispatches a non-SELECT command to the currently selected applet.
	Call(iface Interface, cmd CommandAPDU) (Outcome, Status)
	// Poll lets the applet drain deferred work and optionally respond late.
	Poll() (Outcome, Status)
	// RID returns the applet's registered application identifier.
	RID() []byte
	// RightTruncatedLength is the declared prefix length of RID used
	// for AID matching and SELECT tie-breaks.
	RightTruncatedLength() int
}

// HIDCommand names a CTAPHID command byte routed to a HID-capable applet.
type HIDCommand byte

// HIDApplet is additionally implemented by applets that also serve the
// CTAPHID transport (FIDO).
type HIDApplet interface {
	Applet
	Commands() []HIDCommand
	CallHID(cmd HIDCommand, req []byte, resp *[]byte) error
}
