package apdu

import "testing"

func TestParseCommandNoData(t *testing.T) {
	cmd, err := ParseCommand([]byte{0x00, 0xA4, 0x04, 0x00})
	if err != nil {
		t.Fatalf("ParseCommand: %v", err)
	}
	if len(cmd.Data) != 0 || cmd.ExpectedLengthSet {
		t.Fatalf("cmd = %+v, want empty data, no Le", cmd)
	}
}

func TestParseCommandZeroByteData(t *testing.T) {
	// Lc=0, Le=0: a 0-byte data APDU.
	cmd, err := ParseCommand([]byte{0x00, 0x20, 0x00, 0x80, 0x00, 0x00})
	if err != nil {
		t.Fatalf("ParseCommand: %v", err)
	}
	if len(cmd.Data) != 0 {
		t.Fatalf("Data = %v, want empty", cmd.Data)
	}
	if cmd.ExpectedLength != 256 {
		t.Fatalf("ExpectedLength = %d, want 256 (Le byte 0x00 means 256)", cmd.ExpectedLength)
	}
}

func TestParseCommandShort255Bytes(t *testing.T) {
	data := make([]byte, 255)
	raw := append([]byte{0x00, 0xD6, 0x00, 0x00, 0xFF}, data...)
	cmd, err := ParseCommand(raw)
	if err != nil {
		t.Fatalf("ParseCommand: %v", err)
	}
	if len(cmd.Data) != 255 {
		t.Fatalf("len(Data) = %d, want 255", len(cmd.Data))
	}
}

func TestParseCommandExtendedBoundary256(t *testing.T) {
	data := make([]byte, 256)
	raw := append([]byte{0x00, 0xD6, 0x00, 0x00, 0x00, 0x01, 0x00}, data...)
	cmd, err := ParseCommand(raw)
	if err != nil {
		t.Fatalf("ParseCommand: %v", err)
	}
	if !cmd.Extended {
		t.Fatal("256-byte data APDU should parse as extended form")
	}
	if len(cmd.Data) != 256 {
		t.Fatalf("len(Data) = %d, want 256", len(cmd.Data))
	}
}

func TestParseCommandExtended65535Bytes(t *testing.T) {
	data := make([]byte, 65535)
	raw := append([]byte{0x00, 0xD6, 0x00, 0x00, 0x00, 0xFF, 0xFF}, data...)
	cmd, err := ParseCommand(raw)
	if err != nil {
		t.Fatalf("ParseCommand: %v", err)
	}
	if len(cmd.Data) != 65535 {
		t.Fatalf("len(Data) = %d, want 65535", len(cmd.Data))
	}
}

func TestParseCommandAmbiguous1Or2ByteTail(t *testing.T) {
	// A 2-byte body 05 06 after the 4-byte header: read as short Lc it
	// announces 5 data bytes but only one follows, and it is neither
	// Lc=0 + Le nor Lc=1 + one data byte, so it must be rejected.
	_, err := ParseCommand([]byte{0x00, 0xA4, 0x04, 0x00, 0x05, 0x06})
	if err != ErrAmbiguousEncoding {
		t.Fatalf("ParseCommand = %v, want ErrAmbiguousEncoding", err)
	}
}

func TestIsSelect(t *testing.T) {
	cmd := CommandAPDU{Instruction: 0xA4, P1: 0x04}
	if !cmd.IsSelect() {
		t.Fatal("IsSelect = false, want true for INS=0xA4 P1 bit 2 set")
	}
	cmd.P1 = 0x00
	if cmd.IsSelect() {
		t.Fatal("IsSelect = true, want false when P1 bit 2 clear")
	}
}

func TestAIDMatchesRightTruncatedPrefix(t *testing.T) {
	rid := []byte{0xA0, 0x00, 0x00, 0x06, 0x47, 0x2F, 0x00, 0x01}
	requested := AID([]byte{0xA0, 0x00, 0x00, 0x06, 0x47, 0x2F, 0x00, 0x01})
	if !Matches(requested, rid, 8) {
		t.Fatal("Matches = false, want true for exact-length match")
	}
	if !Matches(requested, rid, 4) {
		t.Fatal("Matches = false, want true for shorter declared prefix")
	}
	if Matches(AID([]byte{0xA0, 0x00, 0x00, 0x03}), rid, 8) {
		t.Fatal("Matches = true, want false for non-matching AID")
	}
}

func TestReassemblerSingleCommand(t *testing.T) {
	var r Reassembler
	cmd := CommandAPDU{Instruction: 0x20, P1: 0, P2: 0x80, Data: []byte{1, 2, 3}}
	out, ok, status := r.Feed(cmd)
	if !ok || status != StatusSuccess {
		t.Fatalf("Feed = (ok=%v status=%v), want (true, success)", ok, status)
	}
	if len(out.Data) != 3 {
		t.Fatalf("Data len = %d, want 3", len(out.Data))
	}
}

func TestReassemblerChainedCommand(t *testing.T) {
	var r Reassembler
	first := CommandAPDU{Class: 0x10, Instruction: 0xDB, P1: 0x3F, P2: 0xFF, Data: []byte{1, 2}}
	_, ok, _ := r.Feed(first)
	if ok {
		t.Fatal("chained command completed early")
	}
	second := CommandAPDU{Class: 0x00, Instruction: 0xDB, P1: 0x3F, P2: 0xFF, Data: []byte{3, 4}}
	out, ok, status := r.Feed(second)
	if !ok || status != StatusSuccess {
		t.Fatalf("Feed (final) = (ok=%v status=%v)", ok, status)
	}
	if string(out.Data) != "\x01\x02\x03\x04" {
		t.Fatalf("Data = %v, want concatenated chain", out.Data)
	}
}

func TestReassemblerChainKeyMismatchResets(t *testing.T) {
	var r Reassembler
	first := CommandAPDU{Class: 0x10, Instruction: 0xDB, P1: 0x3F, P2: 0xFF, Data: []byte{1}}
	r.Feed(first)
	mismatched := CommandAPDU{Class: 0x00, Instruction: 0xD6, P1: 0x3F, P2: 0xFF, Data: []byte{2}}
	_, ok, status := r.Feed(mismatched)
	if ok {
		t.Fatal("mismatched chain reported complete")
	}
	if status != StatusWrongData {
		t.Fatalf("status = %v, want StatusWrongData", status)
	}
}

func TestReassemblerExceedsCap(t *testing.T) {
	var r Reassembler
	big := make([]byte, MaxReassembledCommand+1)
	_, ok, status := r.Feed(CommandAPDU{Instruction: 0x20, Data: big})
	if ok {
		t.Fatal("oversized single command reported complete")
	}
	if status != StatusWrongLength {
		t.Fatalf("status = %v, want StatusWrongLength", status)
	}
}

func TestGetResponseContinuation(t *testing.T) {
	var r Reassembler
	data := make([]byte, 600)
	for i := range data {
		data[i] = byte(i)
	}
	chunk, status, err := r.BufferResponse(data)
	if err != nil {
		t.Fatalf("BufferResponse: %v", err)
	}
	if len(chunk) != 256 || status != StatusMoreDataAvailable(255) {
		t.Fatalf("first chunk len=%d status=%v, want 256 bytes and 0x61FF-class status", len(chunk), status)
	}

	chunk, status, err = r.ContinueResponse()
	if err != nil {
		t.Fatalf("ContinueResponse: %v", err)
	}
	if len(chunk) != 256 {
		t.Fatalf("second chunk len=%d, want 256", len(chunk))
	}

	chunk, status, err = r.ContinueResponse()
	if err != nil {
		t.Fatalf("ContinueResponse: %v", err)
	}
	if len(chunk) != 88 || status != StatusSuccess {
		t.Fatalf("final chunk len=%d status=%v, want 88 bytes and success", len(chunk), status)
	}
}
