package kick

import "strings"

// Path segments that can never be a channel slug. Popout chat links look like
// kick.com/popout/somechannel/chat and API links embed /api/v2/ segments.
var reservedSegments = map[string]struct{}{
	"popout":    {},
	"embed":     {},
	"chat":      {},
	"chatroom":  {},
	"chatrooms": {},
	"channels":  {},
	"api":       {},
	"v1":        {},
	"v2":        {},
}

// CleanChannel extracts the channel slug from user input that may be a bare
// name, a kick.com URL, or a popout chat link. Returns "" when no slug can be
// found.
func CleanChannel(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
		if j := strings.Index(s, "/"); j >= 0 {
			s = s[j+1:]
		} else {
			return ""
		}
	} else {
		s = strings.TrimPrefix(s, "www.")
		s = strings.TrimPrefix(s, "kick.com/")
	}
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	// Scan from the last segment backwards: the slug sits at the end of
	// paths like popout/somechannel/chat and video/somechannel.
	parts := strings.Split(strings.Trim(s, "/"), "/")
	for i := len(parts) - 1; i >= 0; i-- {
		part := parts[i]
		if part == "" {
			continue
		}
		if _, reserved := reservedSegments[part]; reserved {
			continue
		}
		return part
	}
	return ""
}
