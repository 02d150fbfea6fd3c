// Package prompt assembles bounded-size prompts from conversation history,
// a system preamble, and the new user turn.
package prompt

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode"

	"pocketllm/internal/core"
)

// DefaultSystemPrompt is used when the configured preamble source cannot be
// read. Prompt assembly never hard-fails on missing configuration.
const DefaultSystemPrompt = "You are a helpful assistant."

// AssistantCue marks where generation starts in the assembled prompt.
const AssistantCue = "Assistant:"

// DefaultHistoryBudget is the default estimated-token budget for trimmed
// history.
const DefaultHistoryBudget = 1024

// EstimateTokens is a fast, model-agnostic proxy for token count: CJK
// ideographs weigh 2 each, plus the whitespace-delimited word count. This is
// intentionally an approximation so planning never depends on the engine's
// tokenizer.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	cjk := 0
	for _, r := range text {
		if unicode.Is(unicode.Han, r) {
			cjk++
		}
	}
	return cjk*2 + len(strings.Fields(text))
}

// TrimHistory walks messages newest to oldest, accumulating EstimateTokens
// per message, and stops before the running total would exceed budget. The
// result is a contiguous suffix of the input in chronological order; it is
// empty if even the newest message alone exceeds budget.
func TrimHistory(messages []core.Message, budget int) []core.Message {
	total := 0
	start := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		tokens := EstimateTokens(messages[i].Content)
		if total+tokens > budget {
			break
		}
		total += tokens
		start = i
	}
	return messages[start:]
}

// Build concatenates the trimmed system preamble, each history message
// rendered as "<Role>: <content>", the new user message rendered the same
// way, and a bare assistant cue. Deterministic: identical inputs produce
// byte-identical output, which matters because the result is the exact text
// sent to generation.
func Build(systemPrompt string, history []core.Message, userMessage string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(systemPrompt))
	b.WriteString("\n\n")
	for _, msg := range history {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", capitalize(msg.Role), content)
	}
	fmt.Fprintf(&b, "User: %s\n%s", strings.TrimSpace(userMessage), AssistantCue)
	return b.String()
}

// LoadSystemPrompt reads the configured system preamble. Any read failure
// degrades to DefaultSystemPrompt rather than failing the request.
func LoadSystemPrompt(path string) string {
	if path == "" {
		return DefaultSystemPrompt
	}
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("system prompt not readable, using default", "path", path, "error", err)
		return DefaultSystemPrompt
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return DefaultSystemPrompt
	}
	return text
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
