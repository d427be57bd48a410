package fido

import "github.com/kgiusti/tokencore/internal/apdu"

// Legacy U2F instruction codes, routed over the ISO-7816 contact/
// contactless transport rather than CTAPHID. Only U2F_VERSION is
// implemented; REGISTER and AUTHENTICATE are answered with
// StatusInsNotSupported, and CallHID carries no U2F messages either
// (it serves the CTAP2/CBOR commands only).
const (
	insRegister     = 0x01
	insAuthenticate = 0x02
	insVersion      = 0x03
)

func (a *Applet) Call(iface apdu.Interface, cmd apdu.CommandAPDU) (apdu.Outcome, apdu.Status) {
	switch cmd.Instruction {
	case insVersion:
		return apdu.Respond([]byte("U2F_V2")), apdu.StatusSuccess
	case insRegister, insAuthenticate:
		return apdu.Outcome{}, apdu.StatusInsNotSupported
	default:
		return apdu.Outcome{}, apdu.StatusInsNotSupported
	}
}

// Poll has no ISO-7816 deferred work: every command above either
// answers immediately or is rejected. CTAP2 requests served over
// CTAPHID run through CallHID instead, on their own goroutine.
func (a *Applet) Poll() (apdu.Outcome, apdu.Status) {
	return apdu.Outcome{}, apdu.StatusSuccess
}
