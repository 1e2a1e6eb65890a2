// Package transcript routes live transcription events into the compose
// buffer and decides when the capture session that produced them ends.
package transcript

import (
	"log/slog"

	"github.com/thaya-health/consult/conversation"
	"github.com/thaya-health/consult/internal/types"
)

// Capture is the session the reconciler supervises. *capture.Session
// satisfies it.
type Capture interface {
	Status() types.CaptureState
	Stop()
}

// Reconciler consumes transcript events from the streaming connection.
// Each event carries the full text transcribed so far; the compose
// buffer is overwritten, never appended to.
type Reconciler struct {
	capture Capture
	prompt  *conversation.PromptBuffer
}

// New creates a reconciler bound to one capture session and one prompt
// buffer.
func New(capture Capture, prompt *conversation.PromptBuffer) *Reconciler {
	return &Reconciler{capture: capture, prompt: prompt}
}

// Apply processes one transcript event. An event arriving while no
// session is recording stops the session defensively and is discarded;
// that covers transcripts racing a manual stop. A final transcript ends
// the session after its text lands in the buffer.
func (r *Reconciler) Apply(ev types.TranscriptEvent) {
	if r.capture.Status() != types.CaptureRecording {
		r.capture.Stop()
		slog.Debug("transcript without active capture discarded", "final", ev.IsFinal)
		return
	}

	r.prompt.Set(ev.Text)

	if ev.IsFinal {
		r.capture.Stop()
	}
}
