// Package conversation owns the ordered message list of one chat
// transcript and the compose buffer staging the next message. The
// message list is reconciled against authoritative server snapshots;
// local user inserts are optimistic.
package conversation

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thaya-health/consult/internal/types"
)

// ErrTurnInFlight is returned by AppendUser while the previous turn has
// not terminated. A new user message may only be appended once the
// server finishes the prior assistant reply.
var ErrTurnInFlight = errors.New("conversation: previous turn still awaiting its answer")

// Thread is the ordered message list of one conversation. Only the
// Thread mutates the list; every other component reads through
// Messages. All methods are safe for concurrent use.
type Thread struct {
	mu       sync.Mutex
	messages []types.Message
	awaiting bool
	now      func() time.Time
}

// NewThread creates an empty thread.
func NewThread() *Thread {
	return &Thread{now: time.Now}
}

// Replace swaps in the authoritative message list fetched from the
// conversation service, oldest first. It resets the awaiting flag; a
// fetched transcript never ends mid-turn.
func (t *Thread) Replace(msgs []types.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages[:0:0], msgs...)
	t.awaiting = false
}

// AppendUser optimistically appends a user message with a locally
// generated id and opens a new turn. It fails with ErrTurnInFlight when
// the previous turn has not finished.
func (t *Thread) AppendUser(content string) (types.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.awaiting {
		return types.Message{}, ErrTurnInFlight
	}

	msg := types.Message{
		ID:        fmt.Sprintf("local-%s", uuid.NewString()),
		Role:      types.RoleUser,
		Content:   content,
		CreatedAt: t.now(),
	}
	t.messages = append(t.messages, msg)
	t.awaiting = true
	return msg, nil
}

// ApplySnapshot reconciles one snapshot event into the current turn. If
// no assistant message exists for the turn yet, one is appended; either
// way the last message's content and references are overwritten
// wholesale, because each snapshot carries the full accumulated state of
// the reply. A finished snapshot terminates the turn.
//
// Snapshots carry no sequence number, so the last event applied wins;
// the channel is assumed ordered and non-duplicating.
//
// It reports whether the event was applied. A snapshot arriving into an
// empty thread has no turn to reconcile and is discarded.
func (t *Thread) ApplySnapshot(ev types.SnapshotEvent) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.messages) == 0 {
		return false
	}

	if t.messages[len(t.messages)-1].Role == types.RoleUser {
		t.messages = append(t.messages, types.Message{
			ID:        fmt.Sprintf("packet-%s", uuid.NewString()),
			Role:      types.RoleAssistant,
			CreatedAt: t.now(),
		})
	}

	last := &t.messages[len(t.messages)-1]
	last.Content = ev.TextSnapshot
	last.References = ev.ReferencesSnapshot

	if ev.Finished {
		t.awaiting = false
	}
	return true
}

// Messages returns a copy of the message list, oldest first.
func (t *Thread) Messages() []types.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]types.Message(nil), t.messages...)
}

// AwaitingAnswer reports whether a turn is open: a user message has been
// appended and no finished snapshot has arrived for it yet.
func (t *Thread) AwaitingAnswer() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.awaiting
}

// Len returns the number of messages.
func (t *Thread) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}
