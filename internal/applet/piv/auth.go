package piv

import (
	"bytes"
	"crypto/subtle"

	"github.com/kgiusti/tokencore/internal/apdu"
	"github.com/kgiusti/tokencore/internal/cryptoservice"
	"github.com/kgiusti/tokencore/internal/keystore"
)

const (
	refPIN           byte = 0x80
	refPUK           byte = 0x81
	refManagementKey byte = 0x9B
)

// verify implements VERIFY (INS 0x20). An empty command body queries
// the remaining retry count without consuming an attempt; any other
// body is compared against the stored PIN, with the retry counter
// persisted *before* the comparison so a power loss between the
// decrement and the comparison can never let an attempt go uncounted
// (the Open Question decision recorded in DESIGN.md).
func (a *Applet) verify(cmd apdu.CommandAPDU) (apdu.Outcome, apdu.Status) {
	if cmd.P2 != refPIN {
		return apdu.Outcome{}, apdu.StatusWrongData
	}
	if err := a.ensureState(); err != nil {
		return apdu.Outcome{}, apdu.StatusConditionsNotSatisfied
	}
	if a.pinOK {
		return apdu.Respond(nil), apdu.StatusSuccess
	}
	if len(cmd.Data) == 0 {
		return apdu.Outcome{}, apdu.StatusVerifyRetriesRemaining(byte(a.state.PINRetries))
	}
	if a.state.PINRetries == 0 {
		return apdu.Outcome{}, apdu.StatusAuthMethodBlocked
	}

	ok, status := a.consumeRetry(&a.state.PINRetries, a.state.PIN, cmd.Data)
	if ok {
		a.pinOK = true
	}
	return apdu.Outcome{}, status
}

// changeReferenceData implements CHANGE REFERENCE DATA (INS 0x24) for
// both PIN (P2=0x80) and PUK (P2=0x81): the body is old||new, each
// padded to 8 bytes.
func (a *Applet) changeReferenceData(cmd apdu.CommandAPDU) (apdu.Outcome, apdu.Status) {
	if err := a.ensureState(); err != nil {
		return apdu.Outcome{}, apdu.StatusConditionsNotSatisfied
	}
	if len(cmd.Data) != 16 {
		return apdu.Outcome{}, apdu.StatusWrongLength
	}
	oldVal, newVal := cmd.Data[:8], cmd.Data[8:]

	switch cmd.P2 {
	case refPIN:
		if a.state.PINRetries == 0 {
			return apdu.Outcome{}, apdu.StatusAuthMethodBlocked
		}
		ok, status := a.consumeRetry(&a.state.PINRetries, a.state.PIN, oldVal)
		if !ok {
			return apdu.Outcome{}, status
		}
		copy(a.state.PIN[:], newVal)
		a.state.PINRetries = defaultPINRetries
		a.pinOK = true
	case refPUK:
		if a.state.PUKRetries == 0 {
			return apdu.Outcome{}, apdu.StatusAuthMethodBlocked
		}
		ok, status := a.consumeRetry(&a.state.PUKRetries, a.state.PUK, oldVal)
		if !ok {
			return apdu.Outcome{}, status
		}
		copy(a.state.PUK[:], newVal)
		a.state.PUKRetries = defaultPUKRetries
	default:
		return apdu.Outcome{}, apdu.StatusWrongData
	}
	if err := a.saveState(); err != nil {
		return apdu.Outcome{}, apdu.StatusConditionsNotSatisfied
	}
	return apdu.Respond(nil), apdu.StatusSuccess
}

// resetRetryCounter implements RESET RETRY COUNTER (INS 0x2C): body is
// puk||newPIN, each padded to 8 bytes. A successful PUK check unblocks
// and resets the PIN, independent of the PIN's own retry state;
// exhausting the PUK's retries leaves the PIN permanently blocked
// (§4.9).
func (a *Applet) resetRetryCounter(cmd apdu.CommandAPDU) (apdu.Outcome, apdu.Status) {
	if err := a.ensureState(); err != nil {
		return apdu.Outcome{}, apdu.StatusConditionsNotSatisfied
	}
	if cmd.P2 != refPIN || len(cmd.Data) != 16 {
		return apdu.Outcome{}, apdu.StatusWrongData
	}
	if a.state.PUKRetries == 0 {
		return apdu.Outcome{}, apdu.StatusAuthMethodBlocked
	}
	puk, newPIN := cmd.Data[:8], cmd.Data[8:]

	ok, status := a.consumeRetry(&a.state.PUKRetries, a.state.PUK, puk)
	if !ok {
		return apdu.Outcome{}, status
	}
	copy(a.state.PIN[:], newPIN)
	a.state.PINRetries = defaultPINRetries
	if err := a.saveState(); err != nil {
		return apdu.Outcome{}, apdu.StatusConditionsNotSatisfied
	}
	return apdu.Respond(nil), apdu.StatusSuccess
}

// consumeRetry decrements and persists *counter before comparing
// supplied against want, so the decrement is never lost to a power
// cycle racing the comparison. A match resets the counter to its
// configured default and persists that too.
func (a *Applet) consumeRetry(counter *int, want [8]byte, supplied []byte) (ok bool, status apdu.Status) {
	*counter--
	if err := a.saveState(); err != nil {
		return false, apdu.StatusConditionsNotSatisfied
	}
	if len(supplied) == 8 && subtle.ConstantTimeCompare(want[:], supplied) == 1 {
		*counter = retryDefaultFor(counter, a)
		_ = a.saveState()
		return true, apdu.StatusSuccess
	}
	if *counter == 0 {
		return false, apdu.StatusAuthMethodBlocked
	}
	return false, apdu.StatusVerifyRetriesRemaining(byte(*counter))
}

func retryDefaultFor(counter *int, a *Applet) int {
	if counter == &a.state.PINRetries {
		return defaultPINRetries
	}
	return defaultPUKRetries
}

// generalAuthenticateManagementKey implements the management-key
// witness/challenge/response exchange of GENERAL AUTHENTICATE (INS
// 0x87, P2=0x9B), using the dynamic authentication template (tag
// 0x7C) with witness (0x80), challenge (0x81), and response (0x82)
// elements.
func (a *Applet) generalAuthenticateManagementKey(cmd apdu.CommandAPDU) (apdu.Outcome, apdu.Status) {
	if err := a.ensureState(); err != nil {
		return apdu.Outcome{}, apdu.StatusConditionsNotSatisfied
	}
	outer, err := parseTLV(cmd.Data)
	if err != nil || len(outer) != 1 || outer[0].Tag != 0x7C {
		return apdu.Outcome{}, apdu.StatusWrongData
	}
	fields, err := parseTLV(outer[0].Value)
	if err != nil {
		return apdu.Outcome{}, apdu.StatusWrongData
	}

	witness, hasWitness := findTag(fields, 0x80)
	challenge, hasChallenge := findTag(fields, 0x81)

	switch {
	case hasWitness && len(witness) == 0 && !hasChallenge:
		// Step 1: host requests a witness.
		randReply, err := a.pending.Call(cryptoservice.Request{
			Kind: cryptoservice.KindRandomByteBuf, N: 8,
		}, stateCallTimeout)
		if err != nil || randReply.Err != cryptoservice.ErrNone {
			return apdu.Outcome{}, apdu.StatusConditionsNotSatisfied
		}
		encReply, err := a.pending.Call(cryptoservice.Request{
			Kind: cryptoservice.KindEncrypt, Mechanism: cryptoservice.MechanismTDES,
			Key: a.state.ManagementKey, KeyType: keystore.Secret, Data: randReply.Data,
		}, stateCallTimeout)
		if err != nil || encReply.Err != cryptoservice.ErrNone {
			return apdu.Outcome{}, apdu.StatusConditionsNotSatisfied
		}
		a.mgmt = mgmtAuthSession{pending: true, challenge: randReply.Data}
		resp := encodeTLV(0x7C, encodeTLV(0x80, encReply.Data))
		return apdu.Respond(resp), apdu.StatusSuccess

	case hasWitness && hasChallenge:
		// Step 2: host proves it decrypted the witness and offers its
		// own challenge for mutual authentication.
		if !a.mgmt.pending || !bytes.Equal(witness, a.mgmt.challenge) {
			a.mgmt = mgmtAuthSession{}
			return apdu.Outcome{}, apdu.StatusSecurityStatus
		}
		encReply, err := a.pending.Call(cryptoservice.Request{
			Kind: cryptoservice.KindEncrypt, Mechanism: cryptoservice.MechanismTDES,
			Key: a.state.ManagementKey, KeyType: keystore.Secret, Data: challenge,
		}, stateCallTimeout)
		if err != nil || encReply.Err != cryptoservice.ErrNone {
			return apdu.Outcome{}, apdu.StatusConditionsNotSatisfied
		}
		a.mgmt = mgmtAuthSession{authenticated: true}
		resp := encodeTLV(0x7C, encodeTLV(0x82, encReply.Data))
		return apdu.Respond(resp), apdu.StatusSuccess

	default:
		return apdu.Outcome{}, apdu.StatusWrongData
	}
}
