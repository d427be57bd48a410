// Package fido implements the CTAP2/U2F applet: resident credential
// storage, PIN protocol 1, the monotonic signature counter, and
// resumable relying-party/credential enumeration, driven through the
// cryptoservice over a registered applet.Pending call.
package fido

import (
	"github.com/kgiusti/tokencore/internal/apdu"
	"github.com/kgiusti/tokencore/internal/applet"
	"github.com/kgiusti/tokencore/internal/cryptoservice"
)

// ClientID is this applet's cryptoservice client and filesystem root.
const ClientID cryptoservice.ClientID = "fido"

// RID is the FIDO U2F/CTAP application identifier.
var rid = []byte{0xA0, 0x00, 0x00, 0x06, 0x47, 0x2F, 0x00, 0x01}

// ResidentCredential is the on-disk record at
// /fido/rk/<rp8>/<cred8> (§3).
type ResidentCredential struct {
	CredentialID     []byte   `cbor:"1,keyasint"`
	RPIDHash         []byte   `cbor:"2,keyasint"`
	UserHandle       []byte   `cbor:"3,keyasint"`
	PrivateKeyHandle [16]byte `cbor:"4,keyasint"`
	SignCounterRef   uint32   `cbor:"5,keyasint"`
}

// Applet implements apdu.Applet and apdu.HIDApplet for FIDO2/U2F.
type Applet struct {
	ep      cryptoservice.Endpoint
	pending *applet.Pending

	selected bool

	pin pinState

	// lastEnumDir remembers the directory opened by the most recent
	// enumerateCredentialsBegin call, since GetNextCredential carries
	// no path of its own.
	lastEnumDir string
}

// New constructs a FIDO applet bound to the cryptoservice endpoint
// registered for ClientID.
func New(ep cryptoservice.Endpoint) *Applet {
	return &Applet{ep: ep, pending: applet.NewPending(ep)}
}

func (a *Applet) RID() []byte              { return rid }
func (a *Applet) RightTruncatedLength() int { return len(rid) }

func (a *Applet) Select(cmd apdu.CommandAPDU) (apdu.Outcome, apdu.Status) {
	a.selected = true
	// U2F_V2 version string, per the U2F applet-selection response.
	return apdu.Respond([]byte("U2F_V2")), apdu.StatusSuccess
}

func (a *Applet) Deselect() {
	a.selected = false
	a.pin.reset()
	a.lastEnumDir = ""
}
