package kick

import "testing"

func TestCleanChannel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"somechannel", "somechannel"},
		{"SomeChannel", "somechannel"},
		{"  somechannel  ", "somechannel"},
		{"kick.com/somechannel", "somechannel"},
		{"www.kick.com/somechannel", "somechannel"},
		{"https://kick.com/somechannel", "somechannel"},
		{"https://kick.com/somechannel?tab=chat", "somechannel"},
		{"https://kick.com/somechannel#top", "somechannel"},
		{"https://kick.com/popout/somechannel/chat", "somechannel"},
		{"kick.com/popout/somechannel/chat", "somechannel"},
		{"https://kick.com/embed/somechannel", "somechannel"},
		{"https://kick.com/api/v2/channels/somechannel", "somechannel"},
		{"kick.com/video/somechannel", "somechannel"},
		{"https://kick.com/video/somechannel?clip=1", "somechannel"},
		{"https://kick.com/", ""},
		{"", ""},
		{"https://kick.com", ""},
	}
	for _, tt := range tests {
		if got := CleanChannel(tt.in); got != tt.want {
			t.Errorf("CleanChannel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
