package fido

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/kgiusti/tokencore/internal/apdu"
)

// CTAP2 command codes, carried as the first byte of a CTAPHID_CBOR
// message payload.
const (
	ctap2MakeCredential       apdu.HIDCommand = 0x01
	ctap2GetAssertion         apdu.HIDCommand = 0x02
	ctap2GetInfo              apdu.HIDCommand = 0x04
	ctap2ClientPIN            apdu.HIDCommand = 0x06
	ctap2Reset                apdu.HIDCommand = 0x07
	ctap2CredentialManagement apdu.HIDCommand = 0x0A
)

// Commands lists the CTAP2 command codes this applet answers over CTAPHID.
func (a *Applet) Commands() []apdu.HIDCommand {
	return []apdu.HIDCommand{
		ctap2MakeCredential, ctap2GetAssertion, ctap2GetInfo,
		ctap2ClientPIN, ctap2Reset, ctap2CredentialManagement,
	}
}

// CallHID dispatches one CTAP2 command. req is the CBOR parameter
// bytes following the command code; *resp receives the CBOR-encoded
// response body (without a leading status byte, which the CTAPHID
// pipe attaches).
func (a *Applet) CallHID(cmd apdu.HIDCommand, req []byte, resp *[]byte) error {
	var (
		out []byte
		err error
	)
	switch cmd {
	case ctap2MakeCredential:
		out, err = a.MakeCredential(req)
	case ctap2GetAssertion:
		out, err = a.GetAssertion(req)
	case ctap2GetInfo:
		out, err = a.getInfo()
	case ctap2ClientPIN:
		out, err = a.ClientPIN(req)
	case ctap2Reset:
		a.Reset()
		out, err = nil, nil
	case ctap2CredentialManagement:
		out, err = a.CredentialManagement(req)
	default:
		return errUnsupportedCommand
	}
	if err != nil {
		return err
	}
	*resp = out
	return nil
}

// getInfo implements authenticatorGetInfo: a fixed CTAP2 capability
// descriptor for a resident-key-only, PIN-protocol-1 authenticator
// with no user-verification sensor.
func (a *Applet) getInfo() ([]byte, error) {
	info := map[int]interface{}{
		1: []string{"FIDO_2_0"},
		3: make([]byte, 16), // AAGUID: unset for this device
		4: map[string]interface{}{
			"rk":        true,
			"up":        true,
			"plat":      false,
			"clientPin": a.pin.havePinToken || a.pin.haveKeyAgreement,
		},
		5: uint(7609),
		8: []int{1},
	}
	return cbor.Marshal(info)
}
