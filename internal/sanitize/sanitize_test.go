package sanitize

import "testing"

func TestCleanStripsThinkBlock(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple block", "<think>internal notes</think>Hello", "Hello"},
		{"case insensitive", "<THINK>notes</THINK>Hello", "Hello"},
		{"multiline block", "<think>line one\nline two</think>\nAnswer here", "Answer here"},
		{"multiple blocks", "<think>a</think>One\n<think>b</think>Two", "One\nTwo"},
		{"no block", "Just an answer", "Just an answer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clean(tt.in); got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCleanStripsEndSentinels(t *testing.T) {
	if got := Clean("The answer is 42.<|im_end|>"); got != "The answer is 42." {
		t.Errorf("Clean() = %q", got)
	}
	if got := Clean("Done.</|im_end>>"); got != "Done." {
		t.Errorf("Clean() = %q", got)
	}
}

func TestCleanDropsMetaCommentary(t *testing.T) {
	in := "Let me think about this.\nThe capital of France is Paris.\nWait, that seems right.\nIn conclusion, Paris."
	want := "The capital of France is Paris."
	if got := Clean(in); got != want {
		t.Errorf("Clean() = %q, want %q", got, want)
	}
}

func TestCleanDeduplicatesPreservingOrder(t *testing.T) {
	in := "Hi there\nHi there\nBye"
	want := "Hi there\nBye"
	if got := Clean(in); got != want {
		t.Errorf("Clean() = %q, want %q", got, want)
	}
}

func TestCleanDropsEmptyLines(t *testing.T) {
	in := "One\n\n\n  \nTwo\n"
	want := "One\nTwo"
	if got := Clean(in); got != want {
		t.Errorf("Clean() = %q, want %q", got, want)
	}
}

func TestCleanIdempotent(t *testing.T) {
	inputs := []string{
		"",
		"<think>hmm</think>Hello\nHello\nWorld",
		"plain text with no artifacts",
		"Let me explain.\nParis.\nParis.",
		"multi\nline\nanswer<|im_end|>",
	}

	for _, in := range inputs {
		once := Clean(in)
		twice := Clean(once)
		if once != twice {
			t.Errorf("Clean not idempotent for %q: first %q, second %q", in, once, twice)
		}
	}
}

func TestIsReasoningMarker(t *testing.T) {
	tests := []struct {
		fragment string
		want     bool
	}{
		{"<think>", true},
		{"</think>", true},
		{" <THINK> ", true},
		{"thinking", false},
		{"hello", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsReasoningMarker(tt.fragment); got != tt.want {
			t.Errorf("IsReasoningMarker(%q) = %v, want %v", tt.fragment, got, tt.want)
		}
	}
}
