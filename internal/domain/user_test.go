package domain

import (
	"strings"
	"testing"
)

func TestNormalizeUsername(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"alice", "alice"},
		{"  Bob_the-Builder  ", "Bob_the-Builder"},
		{"a<script>b", "ascriptb"},
		{"emoji🙂name", "emojiname"},
		{"spaced    out", "spaced out"},
		{strings.Repeat("z", 30), strings.Repeat("z", MaxUsernameLength)},
		{"<<<>>>", ""},
		{"", ""},
	}

	for _, tt := range tests {
		got := NormalizeUsername(stubFilter{}, tt.raw)
		if got != tt.want {
			t.Errorf("NormalizeUsername(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
