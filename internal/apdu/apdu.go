// Package apdu implements ISO-7816 command/response parsing, applet
// selection/dispatch, and chained-command reassembly shared by the
// contact (CCID) and contactless (ISO-14443) transports.
package apdu

import "errors"

// Status is a 2-byte ISO-7816 response trailer.
type Status uint16

const (
	StatusSuccess                Status = 0x9000
	StatusMoreData               Status = 0x6100 // low byte carries remaining-byte count
	StatusWrongLength            Status = 0x6700
	StatusWrongData              Status = 0x6A80
	StatusNotFound               Status = 0x6A82
	StatusInsNotSupported        Status = 0x6D00
	StatusConditionsNotSatisfied Status = 0x6985
	StatusSecurityStatus         Status = 0x6982
	StatusAuthMethodBlocked      Status = 0x6983
)

// StatusMoreDataAvailable builds the 0x61xx "xx more bytes available" trailer.
func StatusMoreDataAvailable(n byte) Status { return Status(0x6100) | Status(n) }

// StatusVerifyRetriesRemaining builds the 0x63Cx trailer for n in [0,15].
func StatusVerifyRetriesRemaining(n byte) Status { return Status(0x63C0) | Status(n&0x0F) }

var (
	// ErrAmbiguousEncoding is returned by ParseCommand when the
	// trailing bytes after a fixed header cannot unambiguously encode
	// Lc/Le in either short or extended form.
	ErrAmbiguousEncoding = errors.New("apdu: ambiguous Lc/Le encoding")
)

// CommandAPDU is an ISO-7816 command in either short or extended form.
type CommandAPDU struct {
	Class              byte
	Instruction        byte
	P1, P2             byte
	Data               []byte
	ExpectedLength     int  // Le; 0 means "no data expected", may legitimately be requested as 0
	ExpectedLengthSet  bool // distinguishes "Le present and 0" from "Le absent"
	Extended           bool
}

// MoreDataFollows reports the chaining bit (class byte 0x10) used by
// the extended-APDU reassembler (§4.5).
func (c CommandAPDU) MoreDataFollows() bool { return c.Class&0x10 != 0 }

// IsSelect reports whether this is a SELECT command (INS=0xA4) with P1
// bit 2 set, i.e. select-by-AID.
func (c CommandAPDU) IsSelect() bool {
	return c.Instruction == insSelect && c.P1&0x04 != 0
}

const (
	insSelect      = 0xA4
	insGetResponse = 0xC0
)

// ParseCommand decodes a raw command APDU, accepting both short form
// (header + optional 1-byte Lc + data + optional 1-byte Le) and
// extended form (header + 0x00 + 2-byte Lc + data + optional 2-byte
// Le), and rejecting encodings whose trailing 1- or 2-byte tail cannot
// be an unambiguous Lc/Le.
func ParseCommand(raw []byte) (CommandAPDU, error) {
	if len(raw) < 4 {
		return CommandAPDU{}, ErrAmbiguousEncoding
	}
	cmd := CommandAPDU{Class: raw[0], Instruction: raw[1], P1: raw[2], P2: raw[3]}
	rest := raw[4:]

	switch {
	case len(rest) == 0:
		// No data, no Le.
		return cmd, nil

	case len(rest) == 1:
		// Le only (short form). A single trailing byte can never be
		// Lc without data following it, so it is always Le.
		cmd.ExpectedLength = decodeShortLe(rest[0])
		cmd.ExpectedLengthSet = true
		return cmd, nil

	case len(rest) == 2:
		// Two bytes are either Lc=0 + Le (the 0-byte-data boundary
		// case) or short-form Lc=1 followed by its single data byte.
		// Any other Lc cannot fit its data, so it's ambiguous.
		switch rest[0] {
		case 0x00:
			cmd.ExpectedLength = decodeShortLe(rest[1])
			cmd.ExpectedLengthSet = true
		case 0x01:
			cmd.Data = rest[1:2]
		default:
			return CommandAPDU{}, ErrAmbiguousEncoding
		}
		return cmd, nil

	case rest[0] == 0x00:
		// Extended form: 0x00 + 2-byte Lc + data + optional 2-byte Le.
		if len(rest) < 3 {
			return CommandAPDU{}, ErrAmbiguousEncoding
		}
		cmd.Extended = true
		lc := int(rest[1])<<8 | int(rest[2])
		body := rest[3:]
		if len(body) < lc {
			return CommandAPDU{}, ErrAmbiguousEncoding
		}
		cmd.Data = body[:lc]
		tail := body[lc:]
		switch len(tail) {
		case 0:
		case 2:
			cmd.ExpectedLength = decodeExtendedLe(tail)
			cmd.ExpectedLengthSet = true
		default:
			return CommandAPDU{}, ErrAmbiguousEncoding
		}
		return cmd, nil

	default:
		// Short-form Lc, up to 255 bytes of data, optional Le.
		lc := int(rest[0])
		if len(rest) < 1+lc {
			return CommandAPDU{}, ErrAmbiguousEncoding
		}
		cmd.Data = rest[1 : 1+lc]
		tail := rest[1+lc:]
		switch len(tail) {
		case 0:
		case 1:
			cmd.ExpectedLength = decodeShortLe(tail[0])
			cmd.ExpectedLengthSet = true
		default:
			return CommandAPDU{}, ErrAmbiguousEncoding
		}
		return cmd, nil
	}
}

func decodeShortLe(b byte) int {
	if b == 0x00 {
		return 256
	}
	return int(b)
}

func decodeExtendedLe(b []byte) int {
	n := int(b[0])<<8 | int(b[1])
	if n == 0 {
		return 65536
	}
	return n
}

// ResponseAPDU is either (data, status) or a bare status.
type ResponseAPDU struct {
	Data   []byte
	Status Status
}

// Bytes serializes the response as data followed by the 2-byte status
// trailer.
func (r ResponseAPDU) Bytes() []byte {
	out := make([]byte, 0, len(r.Data)+2)
	out = append(out, r.Data...)
	out = append(out, byte(r.Status>>8), byte(r.Status))
	return out
}
