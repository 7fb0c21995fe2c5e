package notify

import "strings"

// promptGlyphs are the characters a prompt line begins with (after trimming)
// in the agent CLIs we monitor.
var promptGlyphs = []string{">", "❯", "›"}

// injectedNoticeMarkers identify lines appended by background tooling and
// hooks rather than the agent itself. Matching is case-insensitive substring.
var injectedNoticeMarkers = []string{
	"<system-reminder>",
	"[panewatch notice]",
	"pre-hook output:",
	"post-hook output:",
	"background task notification",
}

// TrimToLastTurn cuts raw output down to the most recent user turn. The last
// prompt-marker line is the current empty prompt; the one before it is where
// the latest turn began. Everything earlier is stale context that must not be
// re-summarized. With fewer than two marker lines there is not enough
// structure to trim safely, and the input is returned unchanged.
func TrimToLastTurn(raw string) string {
	lines := strings.Split(raw, "\n")

	var markerIdx []int
	for i, line := range lines {
		if isPromptLine(line) {
			markerIdx = append(markerIdx, i)
		}
	}
	if len(markerIdx) < 2 {
		return raw
	}

	start := markerIdx[len(markerIdx)-2]
	return strings.Join(lines[start:], "\n")
}

// FilterInjectedMarkers truncates output strictly before the first line
// containing an injected-notice marker. Tooling notices are appended after
// genuine output as a contiguous trailing block, so truncation is sufficient.
// Without a match the output is byte-identical to the input.
func FilterInjectedMarkers(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lower := strings.ToLower(line)
		for _, marker := range injectedNoticeMarkers {
			if strings.Contains(lower, marker) {
				return strings.Join(lines[:i], "\n")
			}
		}
	}
	return text
}

// LastLines bounds text to its final n lines, for prompt-size control.
func LastLines(text string, n int) string {
	lines := strings.Split(text, "\n")
	if len(lines) <= n {
		return text
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

func isPromptLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	for _, glyph := range promptGlyphs {
		if strings.HasPrefix(trimmed, glyph) {
			return true
		}
	}
	return false
}
