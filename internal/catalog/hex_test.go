package catalog

import "testing"

func TestHexPreviewShort(t *testing.T) {
	got := HexPreview([]byte{0xDE, 0xAD, 0xBE, 0xEF}, 16)
	want := "DE AD BE EF"
	if got != want {
		t.Fatalf("HexPreview = %q, want %q", got, want)
	}
}

func TestHexPreviewTruncates(t *testing.T) {
	data := make([]byte, 20)
	for i := range data {
		data[i] = byte(i)
	}
	got := HexPreview(data, 4)
	want := "00 01 02 03 ...(16 more)"
	if got != want {
		t.Fatalf("HexPreview = %q, want %q", got, want)
	}
}

func TestHexPreviewEmpty(t *testing.T) {
	if got := HexPreview(nil, 16); got != "" {
		t.Fatalf("HexPreview(nil) = %q, want empty", got)
	}
}
