// Package types provides shared type definitions for the application.
package types

import "time"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Reference is an opaque attachment descriptor carried by an assistant
// message. References are never mutated in place; each snapshot replaces
// the previous set wholesale.
type Reference struct {
	ID              string `json:"id"`
	DownloadURL     string `json:"downloadURL"`
	DisplayName     string `json:"displayName"`
	PreviewImageURL string `json:"previewImageURL,omitempty"`
}

// Message is one entry in a conversation transcript. Ordering is
// insertion order, oldest first; IDs are unique within a conversation.
type Message struct {
	ID         string      `json:"id"`
	Role       Role        `json:"role"`
	Content    string      `json:"content"`
	CreatedAt  time.Time   `json:"createdAt"`
	References []Reference `json:"references,omitempty"`
}

// SnapshotEvent is the inbound "message" protocol event. TextSnapshot
// carries the full accumulated text for the current assistant turn, not
// a delta; applying it is always a replace, never an append.
type SnapshotEvent struct {
	TextSnapshot       string      `json:"textSnapshot"`
	ReferencesSnapshot []Reference `json:"referencesSnapshot"`
	Finished           bool        `json:"finished"`
}

// TranscriptEvent is the inbound "transcript" protocol event. Text is
// the full text transcribed so far for the active capture session.
type TranscriptEvent struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

// ConnState is the lifecycle state of the streaming connection.
type ConnState int

const (
	ConnConnecting ConnState = iota
	ConnOpen
	ConnReconnecting
	ConnClosed
)

// String returns a human-readable state name.
func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnOpen:
		return "open"
	case ConnReconnecting:
		return "reconnecting"
	case ConnClosed:
		return "closed"
	}
	return "unknown"
}

// CaptureState is the lifecycle state of a voice capture session.
type CaptureState int

const (
	CaptureIdle CaptureState = iota
	CaptureRecording
	CaptureFinalizing
)

// String returns a human-readable state name.
func (s CaptureState) String() string {
	switch s {
	case CaptureIdle:
		return "idle"
	case CaptureRecording:
		return "recording"
	case CaptureFinalizing:
		return "finalizing"
	}
	return "unknown"
}
