package notify

import "testing"

func TestTrimToLastTurn(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "zero markers unchanged",
			in:   "line1\nline2\nline3",
			want: "line1\nline2\nline3",
		},
		{
			name: "one marker unchanged",
			in:   "old output\n> run tests\nresults",
			want: "old output\n> run tests\nresults",
		},
		{
			name: "two markers trims stale context",
			in:   "stale\n> first turn\nold result\n> second turn\nfresh result\n>",
			want: "> second turn\nfresh result\n>",
		},
		{
			name: "unicode prompt glyph",
			in:   "stale\n❯ build\ndone\n❯",
			want: "❯ build\ndone\n❯",
		},
		{
			name: "indented marker counts",
			in:   "a\n  > one\nb\n  > two\nc",
			want: "  > two\nc",
		},
		{
			name: "empty input",
			in:   "",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TrimToLastTurn(tt.in); got != tt.want {
				t.Errorf("TrimToLastTurn() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTrimToLastTurnIdempotent(t *testing.T) {
	in := "stale\n> first\nold\n> second\nfresh\n>"
	once := TrimToLastTurn(in)
	twice := TrimToLastTurn(once)
	// After one trim, re-applying keeps shrinking only while two markers
	// remain; a stable point is reached quickly.
	thrice := TrimToLastTurn(twice)
	if twice != thrice {
		t.Errorf("not idempotent: %q -> %q", twice, thrice)
	}
}

func TestFilterInjectedMarkers(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "no marker byte identical",
			in:   "genuine output\nmore output",
			want: "genuine output\nmore output",
		},
		{
			name: "truncates strictly before marker line",
			in:   "genuine\n<system-reminder> injected\ntrailing",
			want: "genuine",
		},
		{
			name: "case insensitive",
			in:   "genuine\n<SYSTEM-REMINDER> loud\nmore",
			want: "genuine",
		},
		{
			name: "marker on first line empties output",
			in:   "[panewatch notice] something\nrest",
			want: "",
		},
		{
			name: "empty input",
			in:   "",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FilterInjectedMarkers(tt.in); got != tt.want {
				t.Errorf("FilterInjectedMarkers() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLastLines(t *testing.T) {
	if got := LastLines("a\nb\nc\nd", 2); got != "c\nd" {
		t.Errorf("LastLines = %q", got)
	}
	if got := LastLines("a\nb", 10); got != "a\nb" {
		t.Errorf("LastLines under limit = %q", got)
	}
}
