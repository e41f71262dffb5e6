package natskv

import "testing"

func TestSanitize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"rec:12:abcdef", "rec_12_abcdef"},
		{"plain.key-1", "plain.key-1"},
		{"with space*", "with_space_"},
	}
	for _, tt := range tests {
		if got := sanitize(tt.in); got != tt.want {
			t.Errorf("sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
