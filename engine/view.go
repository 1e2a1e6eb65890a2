// Package engine ties the conversation components into one mounted
// view: it owns the streaming connection, the message thread, the
// compose buffer, and the capture session, and wires inbound protocol
// events to their reconcilers. Hosting front-ends render what the view
// exposes and call back into it for user actions.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/thaya-health/consult/capture"
	"github.com/thaya-health/consult/chatapi"
	"github.com/thaya-health/consult/conn"
	"github.com/thaya-health/consult/conversation"
	"github.com/thaya-health/consult/internal/types"
	"github.com/thaya-health/consult/notify"
	"github.com/thaya-health/consult/transcript"
)

// ErrVoiceActive is returned by SetPrompt while a capture session is
// live: manual input is disabled during capture so the transcription is
// the buffer's only writer.
var ErrVoiceActive = errors.New("engine: manual input disabled while capturing")

// Transport is the streaming connection the view rides on.
// *conn.Manager satisfies it.
type Transport interface {
	Open(ctx context.Context, conversationID string) error
	On(event string, h conn.Handler)
	Send(event string, payload any) error
	SendBinary(data []byte) error
	Close() error
	State() types.ConnState
	OnStateChange(func(types.ConnState))
}

// Fetcher loads the existing conversation transcript.
// *chatapi.Client satisfies it.
type Fetcher interface {
	FetchConversation(ctx context.Context, assistantID, userID string) ([]types.Message, error)
}

// Config holds everything a conversation view needs. Transport and
// Fetcher default to the real connection manager and REST client;
// tests inject fakes.
type Config struct {
	ServerURL   string // websocket endpoint
	APIURL      string // REST endpoint
	AssistantID string
	UserID      string
	UserEmail   string

	Device        capture.Device  // nil disables voice capture
	Notifier      notify.Notifier // defaults to the slog sink
	Transport     Transport
	Fetcher       Fetcher
	ChunkInterval time.Duration

	ReconnectDelay    time.Duration
	ReconnectDelayMax time.Duration
}

// outboundMessage is the payload of the outbound "message" event.
type outboundMessage struct {
	UserID  string `json:"userId"`
	Content string `json:"content"`
}

// View is one mounted conversation. Create with New, bring live with
// Mount, tear down with Unmount. A View may be mounted once; remounting
// a conversation means constructing a fresh View, which is what keeps
// one connection per mounted view.
type View struct {
	cfg Config

	transport   Transport
	fetcher     Fetcher
	notifier    notify.Notifier
	thread      *conversation.Thread
	prompt      *conversation.PromptBuffer
	capture     *capture.Session
	transcripts *transcript.Reconciler
}

// New constructs an unmounted view. All state is owned by the returned
// value; independent views never share anything.
func New(cfg Config) *View {
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Default()
	}
	if cfg.Transport == nil {
		cfg.Transport = conn.New(conn.Config{
			URL:               cfg.ServerURL,
			ReconnectDelay:    cfg.ReconnectDelay,
			ReconnectDelayMax: cfg.ReconnectDelayMax,
		})
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = chatapi.NewClient(chatapi.Config{
			BaseURL:   cfg.APIURL,
			UserEmail: cfg.UserEmail,
		})
	}

	v := &View{
		cfg:       cfg,
		transport: cfg.Transport,
		fetcher:   cfg.Fetcher,
		notifier:  cfg.Notifier,
		thread:    conversation.NewThread(),
		prompt:    conversation.NewPromptBuffer(),
	}
	v.capture = capture.NewSession(capture.Config{
		Device:        cfg.Device,
		Sender:        cfg.Transport,
		ChunkInterval: cfg.ChunkInterval,
	})
	v.transcripts = transcript.New(v.capture, v.prompt)
	return v
}

// Mount opens the streaming connection, subscribes the protocol
// handlers, and loads the existing transcript. A fetch failure is
// surfaced through the notifier and leaves the view usable with an
// empty list.
func (v *View) Mount(ctx context.Context) error {
	v.transport.On(conn.EventMessage, v.handleSnapshot)
	v.transport.On(conn.EventTranscript, v.handleTranscript)

	if err := v.transport.Open(ctx, v.cfg.UserID); err != nil {
		return fmt.Errorf("open connection: %w", err)
	}

	msgs, err := v.fetcher.FetchConversation(ctx, v.cfg.AssistantID, v.cfg.UserID)
	if err != nil {
		slog.Error("fetch conversation", "error", err)
		v.notifier.Notify(notify.KindError,
			"Something went wrong while fetching the messages, please try again")
		return nil
	}
	v.thread.Replace(msgs)
	return nil
}

// Unmount stops any live capture session and closes the connection.
// Idempotent; the Close path detaches handlers before the channel goes
// away, so no late event reaches this view.
func (v *View) Unmount() {
	v.capture.Stop()
	if err := v.transport.Close(); err != nil {
		slog.Error("close connection", "error", err)
	}
}

func (v *View) handleSnapshot(data json.RawMessage) {
	var ev types.SnapshotEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		slog.Warn("malformed snapshot event", "error", err)
		return
	}
	if !v.thread.ApplySnapshot(ev) {
		slog.Warn("snapshot with no turn active discarded")
	}
}

func (v *View) handleTranscript(data json.RawMessage) {
	var ev types.TranscriptEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		slog.Warn("malformed transcript event", "error", err)
		return
	}
	v.transcripts.Apply(ev)
}

// Submit sends the given text as a new user message: optimistic append
// first, then the outbound send. A send failure is surfaced through the
// notifier; the server snapshot stream remains authoritative for what
// actually happened. Submitting while the previous turn is open fails
// with conversation.ErrTurnInFlight.
func (v *View) Submit(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if _, err := v.thread.AppendUser(text); err != nil {
		return err
	}
	v.prompt.Set("")

	err := v.transport.Send(conn.EventMessage, outboundMessage{
		UserID:  v.cfg.UserID,
		Content: text,
	})
	if err != nil {
		slog.Error("send message", "error", err)
		v.notifier.Notify(notify.KindError,
			"Something went wrong while sending the message, please try again")
	}
	return nil
}

// StartVoice begins a capture session and clears the compose buffer for
// the incoming transcription. No-op while the assistant is answering
// (the microphone control is disabled during a turn) or while a session
// is already live. Acquisition failures reset to idle, leave the buffer
// untouched, and surface through the notifier.
func (v *View) StartVoice(ctx context.Context) error {
	if v.thread.AwaitingAnswer() {
		return nil
	}
	if v.capture.Status() != types.CaptureIdle {
		return nil
	}

	err := v.capture.Start(ctx)
	switch {
	case err == nil:
		v.prompt.Set("")
		return nil
	case errors.Is(err, capture.ErrPermissionDenied):
		v.notifier.Notify(notify.KindError, "Microphone access was denied")
		return err
	case errors.Is(err, capture.ErrDeviceUnavailable):
		v.notifier.Notify(notify.KindError, "No microphone is available")
		return err
	default:
		slog.Error("start capture", "error", err)
		v.notifier.Notify(notify.KindError, notify.DefaultErrorMessage)
		return err
	}
}

// StopVoice ends the live capture session, if any.
func (v *View) StopVoice() {
	v.capture.Stop()
}

// SetPrompt stages manually typed text. Refused while a capture session
// is active; the transcription owns the buffer until the session ends.
func (v *View) SetPrompt(text string) error {
	if v.capture.Status() != types.CaptureIdle {
		return ErrVoiceActive
	}
	v.prompt.Set(text)
	return nil
}

// InsertQuickPrompt stages a canned prompt, subject to the same
// arbitration as manual typing.
func (v *View) InsertQuickPrompt(text string) error {
	return v.SetPrompt(text)
}

// Prompt returns the staged compose text.
func (v *View) Prompt() string { return v.prompt.Value() }

// OnPromptChange registers a callback for compose buffer writes,
// transcription included.
func (v *View) OnPromptChange(f func(string)) { v.prompt.OnChange(f) }

// Messages returns the transcript, oldest first.
func (v *View) Messages() []types.Message { return v.thread.Messages() }

// AwaitingAnswer reports whether the assistant is currently answering.
func (v *View) AwaitingAnswer() bool { return v.thread.AwaitingAnswer() }

// CaptureStatus returns the capture session state, for the microphone
// indicator.
func (v *View) CaptureStatus() types.CaptureState { return v.capture.Status() }

// ConnState returns the streaming connection state.
func (v *View) ConnState() types.ConnState { return v.transport.State() }

// OnConnStateChange registers a callback for connection transitions,
// for a non-blocking disconnection indicator.
func (v *View) OnConnStateChange(f func(types.ConnState)) { v.transport.OnStateChange(f) }
