package conversation

import "sync"

// PromptBuffer is the text currently staged for sending, shared between
// manual typing, quick-prompt insertion, and live transcription. Writes
// are last-writer-wins; arbitration happens at the edges (manual input
// is disabled while a capture session is active).
type PromptBuffer struct {
	mu       sync.Mutex
	value    string
	onChange func(string)
}

// NewPromptBuffer creates an empty prompt buffer.
func NewPromptBuffer() *PromptBuffer {
	return &PromptBuffer{}
}

// Set replaces the staged text and notifies the change callback.
func (b *PromptBuffer) Set(value string) {
	b.mu.Lock()
	b.value = value
	cb := b.onChange
	b.mu.Unlock()

	if cb != nil {
		cb(value)
	}
}

// Value returns the staged text.
func (b *PromptBuffer) Value() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value
}

// OnChange registers a callback invoked after every Set.
func (b *PromptBuffer) OnChange(f func(string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = f
}
