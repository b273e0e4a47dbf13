package message

import "strings"

// defaultPalette mirrors the set of username colors Twitch hands out to users
// who never picked one. Derived colors for every platform come from this list
// so mixed-platform panels stay visually consistent.
var defaultPalette = [...]string{
	"#FF0000", "#0000FF", "#00FF00", "#B22222", "#FF7F50",
	"#9ACD32", "#FF4500", "#2E8B57", "#DAA520", "#D2691E",
	"#5F9EA0", "#1E90FF", "#FF69B4", "#8A2BE2", "#00FA9A",
	"#FF1493", "#00CED1", "#000080", "#FF8C00", "#32CD32",
	"#BA55D3", "#9370DB", "#3CB371", "#7B68EE", "#48D1CC",
	"#C71585", "#191970", "#FF4500", "#228B22", "#DA70D6",
}

// ResolveColor returns the color to render for username. A syntactically
// valid 6-digit hex value from upstream wins, with a missing leading '#'
// tolerated; everything else (empty, short form, named colors) falls back to
// DeriveColor.
func ResolveColor(upstream, username string) string {
	c := strings.TrimSpace(upstream)
	if c != "" && !strings.HasPrefix(c, "#") {
		c = "#" + c
	}
	if validHexColor(c) {
		return c
	}
	return DeriveColor(username)
}

// DeriveColor deterministically maps a username onto the palette. The hash is
// the 32-bit string hash the upstream UIs use (h = c + (h<<5) - h), kept
// bit-for-bit so colors match what users already see elsewhere.
func DeriveColor(username string) string {
	var h int32
	for _, r := range username {
		h = int32(r) + (h << 5) - h
	}
	idx := int64(h)
	if idx < 0 {
		idx = -idx
	}
	return defaultPalette[idx%int64(len(defaultPalette))]
}

func validHexColor(s string) bool {
	if len(s) != 7 || s[0] != '#' {
		return false
	}
	for i := 1; i < 7; i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
