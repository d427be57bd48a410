package catalog

import (
	"fmt"
	"strings"
)

// HexPreview renders data as space-separated, upper-case hex blocks,
// truncating with a trailing count of omitted bytes past max. Intended
// for Detail strings where logging a raw credential or key blob would
// be unsafe, but a short fingerprint helps correlate events.
func HexPreview(data []byte, max int) string {
	if len(data) == 0 {
		return ""
	}
	n := len(data)
	truncated := n > max
	if truncated {
		data = data[:max]
	}
	var b strings.Builder
	for i, c := range data {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02X", c)
	}
	if truncated {
		fmt.Fprintf(&b, " ...(%d more)", n-max)
	}
	return b.String()
}
