package usecase

import (
	"strings"
	"testing"
)

func TestHTMLFilter_Sanitize(t *testing.T) {
	f := HTMLFilter{}

	tests := []struct {
		in     string
		maxLen int
		want   string
	}{
		{"  hello  ", 100, "hello"},
		{"<b>bold</b>", 100, "&lt;b&gt;bold&lt;/b&gt;"},
		{"tab\there\nnew", 100, "tab\there\nnew"},
		{"bell\x07char", 100, "bellchar"},
		{"abcdef", 3, "abc"},
		{"héllo wörld", 5, "héllo"},
		{`"quote" & 'apos'`, 100, "&#34;quote&#34; &amp; &#39;apos&#39;"},
	}

	for _, tt := range tests {
		if got := f.Sanitize(tt.in, tt.maxLen); got != tt.want {
			t.Errorf("Sanitize(%q, %d) = %q, want %q", tt.in, tt.maxLen, got, tt.want)
		}
	}
}

func TestHTMLFilter_IsSuspicious(t *testing.T) {
	f := HTMLFilter{}

	suspicious := []string{
		"<script>alert(1)</script>",
		"< SCRIPT src=x>",
		"click javascript:alert(1)",
		"<img src=x onerror=alert(1)>",
		"data:text/html;base64,AAAA",
		"<iframe src=evil>",
	}
	for _, s := range suspicious {
		if !f.IsSuspicious(s) {
			t.Errorf("Expected %q to be suspicious", s)
		}
	}

	clean := []string{
		"hello there",
		"I script my tests",
		"the online game",
		"a < b and c > d",
		strings.Repeat("ha", 100),
	}
	for _, s := range clean {
		if f.IsSuspicious(s) {
			t.Errorf("Expected %q to be clean", s)
		}
	}
}
