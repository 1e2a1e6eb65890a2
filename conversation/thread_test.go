package conversation

import (
	"errors"
	"fmt"
	"testing"

	"github.com/thaya-health/consult/internal/types"
)

func TestThread_SubmitAndReconcile(t *testing.T) {
	th := NewThread()

	// User submits "Hello": optimistic append, turn opens.
	msg, err := th.AppendUser("Hello")
	if err != nil {
		t.Fatalf("AppendUser: %v", err)
	}
	if msg.Role != types.RoleUser || msg.Content != "Hello" {
		t.Errorf("appended = %+v, want user message %q", msg, "Hello")
	}
	if msg.ID == "" {
		t.Error("local message id should not be empty")
	}
	if !th.AwaitingAnswer() {
		t.Error("AwaitingAnswer should be true after AppendUser")
	}

	// First snapshot creates the assistant placeholder and fills it.
	if !th.ApplySnapshot(types.SnapshotEvent{TextSnapshot: "Hi"}) {
		t.Fatal("snapshot should apply")
	}
	msgs := th.Messages()
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[1].Role != types.RoleAssistant || msgs[1].Content != "Hi" {
		t.Errorf("assistant message = %+v, want content %q", msgs[1], "Hi")
	}
	if !th.AwaitingAnswer() {
		t.Error("turn should remain open until a finished snapshot")
	}

	// Finished snapshot overwrites and terminates the turn.
	th.ApplySnapshot(types.SnapshotEvent{TextSnapshot: "Hi there", Finished: true})
	msgs = th.Messages()
	if len(msgs) != 2 {
		t.Fatalf("messages after second snapshot = %d, want 2", len(msgs))
	}
	if msgs[1].Content != "Hi there" {
		t.Errorf("assistant content = %q, want %q", msgs[1].Content, "Hi there")
	}
	if th.AwaitingAnswer() {
		t.Error("AwaitingAnswer should clear on finished snapshot")
	}
}

func TestThread_SnapshotReplacesNeverAccumulates(t *testing.T) {
	th := NewThread()
	if _, err := th.AppendUser("question"); err != nil {
		t.Fatalf("AppendUser: %v", err)
	}

	snapshots := []string{"T", "Th", "The", "The answer", "The answer."}
	for _, text := range snapshots {
		th.ApplySnapshot(types.SnapshotEvent{TextSnapshot: text})

		msgs := th.Messages()
		got := msgs[len(msgs)-1].Content
		if got != text {
			t.Fatalf("after snapshot %q content = %q, want exactly the snapshot text", text, got)
		}
	}

	if th.Len() != 2 {
		t.Errorf("messages = %d, want 2 (one user, one assistant)", th.Len())
	}
}

func TestThread_ReferencesReplacedWholesale(t *testing.T) {
	th := NewThread()
	if _, err := th.AppendUser("q"); err != nil {
		t.Fatalf("AppendUser: %v", err)
	}

	first := []types.Reference{{ID: "r1", DisplayName: "one"}, {ID: "r2", DisplayName: "two"}}
	th.ApplySnapshot(types.SnapshotEvent{TextSnapshot: "a", ReferencesSnapshot: first})

	second := []types.Reference{{ID: "r3", DisplayName: "three"}}
	th.ApplySnapshot(types.SnapshotEvent{TextSnapshot: "ab", ReferencesSnapshot: second})

	msgs := th.Messages()
	refs := msgs[len(msgs)-1].References
	if len(refs) != 1 || refs[0].ID != "r3" {
		t.Errorf("references = %+v, want exactly the second snapshot's set", refs)
	}
}

func TestThread_AppendWhileAwaiting(t *testing.T) {
	th := NewThread()
	if _, err := th.AppendUser("first"); err != nil {
		t.Fatalf("AppendUser: %v", err)
	}

	if _, err := th.AppendUser("second"); !errors.Is(err, ErrTurnInFlight) {
		t.Errorf("AppendUser during open turn = %v, want ErrTurnInFlight", err)
	}
	if th.Len() != 1 {
		t.Errorf("messages = %d, rejected append must not grow the list", th.Len())
	}

	// Turn terminates; the next append succeeds.
	th.ApplySnapshot(types.SnapshotEvent{TextSnapshot: "done", Finished: true})
	if _, err := th.AppendUser("second"); err != nil {
		t.Errorf("AppendUser after finished turn: %v", err)
	}
}

func TestThread_SnapshotIntoEmptyThreadDiscarded(t *testing.T) {
	th := NewThread()

	if th.ApplySnapshot(types.SnapshotEvent{TextSnapshot: "orphan"}) {
		t.Error("snapshot with no turn active should be discarded")
	}
	if th.Len() != 0 {
		t.Errorf("messages = %d, want 0", th.Len())
	}
}

func TestThread_Replace(t *testing.T) {
	th := NewThread()
	if _, err := th.AppendUser("pending"); err != nil {
		t.Fatalf("AppendUser: %v", err)
	}

	fetched := []types.Message{
		{ID: "m1", Role: types.RoleUser, Content: "older"},
		{ID: "m2", Role: types.RoleAssistant, Content: "reply"},
	}
	th.Replace(fetched)

	msgs := th.Messages()
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Errorf("messages after Replace = %+v, want the fetched list", msgs)
	}
	if th.AwaitingAnswer() {
		t.Error("Replace should reset the awaiting flag")
	}

	// A snapshot after Replace reconciles into the fetched tail.
	th.ApplySnapshot(types.SnapshotEvent{TextSnapshot: "updated reply"})
	msgs = th.Messages()
	if msgs[1].Content != "updated reply" {
		t.Errorf("tail content = %q, want %q", msgs[1].Content, "updated reply")
	}
}

func TestThread_UniqueLocalIDs(t *testing.T) {
	th := NewThread()
	seen := make(map[string]bool)

	for i := 0; i < 5; i++ {
		msg, err := th.AppendUser(fmt.Sprintf("msg %d", i))
		if err != nil {
			t.Fatalf("AppendUser %d: %v", i, err)
		}
		if seen[msg.ID] {
			t.Errorf("duplicate local id %q", msg.ID)
		}
		seen[msg.ID] = true
		th.ApplySnapshot(types.SnapshotEvent{TextSnapshot: "ok", Finished: true})
	}
}

func TestPromptBuffer_LastWriterWins(t *testing.T) {
	b := NewPromptBuffer()

	var notified []string
	b.OnChange(func(v string) { notified = append(notified, v) })

	b.Set("typed")
	b.Set("quick prompt")
	b.Set("hel")
	b.Set("hello")

	if got := b.Value(); got != "hello" {
		t.Errorf("Value = %q, want %q", got, "hello")
	}
	if len(notified) != 4 || notified[3] != "hello" {
		t.Errorf("change notifications = %v, want one per Set ending in %q", notified, "hello")
	}
}
