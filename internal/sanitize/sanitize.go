// Package sanitize strips reasoning artifacts and duplicate lines from raw
// model output. It is a best-effort heuristic filter, not a semantic parser:
// false positives and negatives are expected and acceptable.
package sanitize

import (
	"regexp"
	"strings"
)

var (
	// Paired reasoning-trace delimiters and their enclosed content. Some
	// models emit hidden deliberation between these markers.
	thinkBlock = regexp.MustCompile(`(?is)<think>.*?</think>`)

	// Stray end-of-turn control sentinels, including the malformed variant
	// some quantized models produce.
	endSentinels = []*regexp.Regexp{
		regexp.MustCompile(`</\|im_end>>`),
		regexp.MustCompile(`<\|im_end\|>`),
	}
)

// metaPhrases are hedging/narrating fragments that indicate leaked
// deliberation rather than an answer. Lines containing any of them are
// dropped (case-insensitive substring match).
var metaPhrases = []string{
	"let me",
	"i need to",
	"i remember",
	"wait",
	"first,",
	"first ",
	"maybe",
	"another thing",
	"i'm trying",
	"now,",
	"let's",
	"in conclusion",
}

// Clean sanitizes raw engine output: reasoning-trace blocks and end-of-turn
// sentinels are removed, meta-commentary lines dropped, duplicate lines
// collapsed to their first occurrence, and surrounding whitespace trimmed.
// Clean is idempotent.
func Clean(raw string) string {
	if raw == "" {
		return ""
	}

	text := thinkBlock.ReplaceAllString(raw, "")
	for _, re := range endSentinels {
		text = re.ReplaceAllString(text, "")
	}

	seen := make(map[string]struct{})
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isMetaCommentary(line) {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		kept = append(kept, line)
	}

	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// IsReasoningMarker reports whether a streamed fragment is a bare
// reasoning-trace delimiter. The streaming path skips these instead of
// forwarding them to the client.
func IsReasoningMarker(fragment string) bool {
	switch strings.ToLower(strings.TrimSpace(fragment)) {
	case "<think>", "</think>":
		return true
	}
	return false
}

func isMetaCommentary(line string) bool {
	lower := strings.ToLower(line)
	for _, phrase := range metaPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
