package engine

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"pocketllm/internal/core"
)

// streamChunk is one SSE payload from the completion stream.
type streamChunk struct {
	Content string `json:"content"`
	Stop    bool   `json:"stop"`
}

// sseStream adapts the engine's SSE body to a pull-driven token stream.
// It is lazy (reads one event per Recv), finite, and not restartable.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

func newSSEStream(body io.ReadCloser) *sseStream {
	scanner := bufio.NewScanner(body)
	// Single fragments are small, but allow for occasional large events.
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)
	return &sseStream{body: body, scanner: scanner}
}

// Recv returns the next text fragment. io.EOF signals a completed stream;
// any other error means the engine failed mid-generation.
func (s *sseStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}

		payload := strings.TrimPrefix(line, "data: ")
		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			s.done = true
			return "", core.NewGenerationError("malformed stream event: "+err.Error(), err)
		}

		if chunk.Stop {
			s.done = true
			if chunk.Content != "" {
				return chunk.Content, nil
			}
			return "", io.EOF
		}
		if chunk.Content == "" {
			continue
		}
		return chunk.Content, nil
	}

	s.done = true
	if err := s.scanner.Err(); err != nil {
		return "", core.NewGenerationError("stream interrupted: "+err.Error(), err)
	}
	return "", io.EOF
}

// Close releases the underlying response body. Closing mid-stream cancels
// the engine's producer.
func (s *sseStream) Close() error {
	s.done = true
	return s.body.Close()
}
