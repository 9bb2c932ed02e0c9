package collab

import "unicode/utf16"

// palette is indexed by a hash of the identity, so every replica and every
// reconnect paints the same member the same colour.
var palette = [...]string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4", "#FFEAA7",
	"#DDA0DD", "#98D8C8", "#F7DC6F", "#BB8FCE", "#85C1E9",
	"#F8C471", "#82E0AA", "#F1948A", "#85929E", "#D7BDE2",
}

// ColorFor is a pure function of identity: h = c + (int32(h)<<5) - h over
// UTF-16 code units, then |h| mod len(palette). Only the shift wraps to 32
// bits, the sum does not, which keeps colours stable across clients.
func ColorFor(identity string) string {
	var h int64
	for _, c := range utf16.Encode([]rune(identity)) {
		h = int64(c) + int64(int32(h)<<5) - h
	}
	if h < 0 {
		h = -h
	}
	return palette[h%int64(len(palette))]
}
