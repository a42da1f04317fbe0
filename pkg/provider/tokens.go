package provider

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// encodingName is the tokenizer used for counting. cl100k_base is a close
// approximation for the chat-model families this service targets.
const encodingName = "cl100k_base"

type tokenCounter struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

var (
	counterOnce sync.Once
	counter     *tokenCounter
)

// sharedTokenCounter lazily initializes the process-wide counter. Loading the
// encoding is expensive, so all providers share one instance.
func sharedTokenCounter() *tokenCounter {
	counterOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(encodingName)
		if err != nil {
			slog.Warn("Failed to load token encoding, falling back to byte estimate",
				"encoding", encodingName, "error", err)
			counter = &tokenCounter{}
			return
		}
		counter = &tokenCounter{enc: enc}
	})
	return counter
}

// count returns the token count of text. Without a loaded encoding it falls
// back to the len/4 heuristic.
func (c *tokenCounter) count(text string) int {
	if text == "" {
		return 0
	}
	if c.enc == nil {
		return len(text) / 4
	}
	// Tiktoken encoders are not documented as goroutine-safe.
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.enc.Encode(text, nil, nil))
}
