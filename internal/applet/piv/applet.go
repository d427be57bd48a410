package piv

import "github.com/kgiusti/tokencore/internal/apdu"

const (
	insVerify              = 0x20
	insChangeReferenceData = 0x24
	insResetRetryCounter   = 0x2C
	insGeneralAuthenticate = 0x87
	insGenerateAsymmetric  = 0x47
	insGetData             = 0xCB
	insPutData             = 0xDB
)

// Call dispatches a non-SELECT PIV command to the currently selected
// applet instance.
func (a *Applet) Call(iface apdu.Interface, cmd apdu.CommandAPDU) (apdu.Outcome, apdu.Status) {
	switch cmd.Instruction {
	case insVerify:
		return a.verify(cmd)
	case insChangeReferenceData:
		return a.changeReferenceData(cmd)
	case insResetRetryCounter:
		return a.resetRetryCounter(cmd)
	case insGeneralAuthenticate:
		if cmd.P2 == refManagementKey {
			return a.generalAuthenticateManagementKey(cmd)
		}
		return a.generalAuthenticateSign(cmd)
	case insGenerateAsymmetric:
		return a.generateAsymmetricKeyPair(cmd)
	case insGetData:
		return a.getData(cmd)
	case insPutData:
		return a.putData(cmd)
	default:
		return apdu.Outcome{}, apdu.StatusInsNotSupported
	}
}
