// Package piv implements the PIV smart-card applet: PIN/PUK-gated
// credential management, a TDES management key authenticating
// administrative commands, per-slot asymmetric keys, and opaque data
// object storage for certificates.
package piv

import (
	"time"

	"github.com/kgiusti/tokencore/internal/apdu"
	"github.com/kgiusti/tokencore/internal/applet"
	"github.com/kgiusti/tokencore/internal/cryptoservice"
	"github.com/kgiusti/tokencore/internal/keystore"
)

// ClientID is this applet's cryptoservice client and filesystem root.
const ClientID cryptoservice.ClientID = "piv"

// RID is the NIST PIV application identifier.
var rid = []byte{0xA0, 0x00, 0x00, 0x03, 0x08, 0x00, 0x00, 0x10, 0x00, 0x01, 0x00}

const (
	defaultPINRetries = 3
	defaultPUKRetries = 5
)

// yubicoDefaultManagementKey is the well-known factory-default 24-byte
// TDES management key (three repetitions of 01..08), per spec.md
// §4.9.
var yubicoDefaultManagementKey = []byte{
	0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
	0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
	0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
}

const defaultPIN = "123456"
const defaultPUK = "12345678"

// PersistentState is the on-disk record at /piv/persistent-state.cbor
// (§3): management key handle, padded PIN/PUK, retry counters, and the
// per-slot asymmetric key handles.
type PersistentState struct {
	ManagementKey    keystore.Handle          `cbor:"1,keyasint"`
	PIN              [8]byte                  `cbor:"2,keyasint"`
	PUK              [8]byte                  `cbor:"3,keyasint"`
	PINRetries       int                      `cbor:"4,keyasint"`
	PUKRetries       int                      `cbor:"5,keyasint"`
	TimestampCounter uint64                   `cbor:"6,keyasint"`
	Keys             map[byte]keystore.Handle `cbor:"7,keyasint"`
	Initialized      bool                     `cbor:"8,keyasint"`
}

// mgmtAuthSession tracks an in-progress two-step GENERAL AUTHENTICATE
// management-key challenge/response (§4.9); cleared on DESELECT and
// when step 2 fails; a successful step 2 leaves it authenticated.
type mgmtAuthSession struct {
	pending       bool
	challenge     []byte
	authenticated bool
}

// Applet implements apdu.Applet for the PIV personality.
type Applet struct {
	ep      cryptoservice.Endpoint
	pending *applet.Pending

	selected bool
	pinOK    bool
	mgmt     mgmtAuthSession

	state     PersistentState
	haveState bool
}

// New constructs a PIV applet bound to the cryptoservice endpoint
// registered for ClientID.
func New(ep cryptoservice.Endpoint) *Applet {
	return &Applet{ep: ep, pending: applet.NewPending(ep)}
}

func (a *Applet) RID() []byte              { return rid }
func (a *Applet) RightTruncatedLength() int { return len(rid) }

func (a *Applet) Select(cmd apdu.CommandAPDU) (apdu.Outcome, apdu.Status) {
	if err := a.ensureState(); err != nil {
		return apdu.Outcome{}, apdu.StatusConditionsNotSatisfied
	}
	a.selected = true
	// Minimal FCI: PIV application property template tag 0x61
	// wrapping the AID (tag 0x4F), enough for hosts that only check
	// for a non-empty SELECT response.
	fci := encodeTLV(0x61, encodeTLV(0x4F, rid))
	return apdu.Respond(fci), apdu.StatusSuccess
}

func (a *Applet) Deselect() {
	a.selected = false
	a.pinOK = false
	a.mgmt = mgmtAuthSession{}
}

func (a *Applet) Poll() (apdu.Outcome, apdu.Status) {
	return apdu.Outcome{}, apdu.StatusSuccess
}

const stateCallTimeout = 2 * time.Second

func callErr(e cryptoservice.Error, err error) error {
	if err != nil {
		return err
	}
	return e.AsError()
}
