package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	ai "github.com/sashabaranov/go-openai"
)

// History is the ordered, append-only record of one conversation.
// The system prompt is never stored here; callers prepend it per request.
type History struct {
	mu       sync.RWMutex
	messages []ai.ChatCompletionMessage
	last     time.Time
}

func NewHistory() *History {
	return &History{last: time.Now()}
}

// Append adds messages to the end of the history.
func (h *History) Append(msgs ...ai.ChatCompletionMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msgs...)
	h.last = time.Now()
}

// Messages returns a copy of the history.
func (h *History) Messages() []ai.ChatCompletionMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()

	history := make([]ai.ChatCompletionMessage, len(h.messages))
	copy(history, h.messages)
	return history
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// LastUpdated is when the history last changed.
func (h *History) LastUpdated() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}

// Reset empties the history.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
	h.last = time.Now()
}

// Debug renders the history one message per line.
func (h *History) Debug() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var b strings.Builder
	for _, msg := range h.messages {
		if msg.Role == ai.ChatMessageRoleAssistant {
			b.WriteString("< ")
		} else {
			b.WriteString("> ")
		}
		fmt.Fprintf(&b, "%s:%s", msg.Role, msg.Content)
		for _, tc := range msg.ToolCalls {
			fmt.Fprintf(&b, " [%s %s]", tc.Function.Name, tc.Function.Arguments)
		}
		b.WriteString("\n")
	}
	return b.String()
}
