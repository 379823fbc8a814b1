package main

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestClipCutsOnRuneBoundary(t *testing.T) {
	cases := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short stays whole", "hello", 10, "hello"},
		{"exact fit", "hello", 5, "hello"},
		{"ascii cut", "hello world", 5, "hello…"},
		{"multibyte cut mid-rune", strings.Repeat("€", 4), 10, strings.Repeat("€", 3) + "…"},
		{"two-byte runes", strings.Repeat("é", 3), 3, "é…"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := clip(tc.in, tc.max)
			if got != tc.want {
				t.Errorf("clip(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("clip produced invalid UTF-8: %q", got)
			}
		})
	}
}

func TestCompactArgsCollapsesAndClips(t *testing.T) {
	got := compactArgs([]byte("{\n  \"query\":   \"weather\"\n}"))
	if got != `{ "query": "weather" }` {
		t.Errorf("expected collapsed single-line args, got %q", got)
	}

	long := compactArgs([]byte(strings.Repeat("ü", 200)))
	if !utf8.ValidString(long) {
		t.Errorf("clipped args are not valid UTF-8: %q", long)
	}
	if !strings.HasSuffix(long, "…") {
		t.Errorf("long args must end with an ellipsis, got %q", long)
	}
}

func TestFirstLineStopsAtNewlineAndClips(t *testing.T) {
	if got := firstLine("top\nrest"); got != "top" {
		t.Errorf("expected the first line only, got %q", got)
	}
	long := firstLine(strings.Repeat("漢", 60))
	if !utf8.ValidString(long) {
		t.Errorf("clipped line is not valid UTF-8: %q", long)
	}
	if !strings.HasSuffix(long, "…") {
		t.Errorf("long line must end with an ellipsis, got %q", long)
	}
}
