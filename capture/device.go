// Package capture owns the voice capture pipeline: microphone
// acquisition, chunked opus encoding, and forwarding of encoded chunks
// over the streaming connection. At most one capture session is active
// at a time.
package capture

import (
	"context"
	"errors"
)

// ErrPermissionDenied is returned when the user refuses microphone
// access. The session stays idle; the condition is transient.
var ErrPermissionDenied = errors.New("capture: microphone permission denied")

// ErrDeviceUnavailable is returned when no microphone backend exists or
// the device cannot be opened.
var ErrDeviceUnavailable = errors.New("capture: audio device unavailable")

// Track is one live media track of an acquired stream. Stop releases
// the underlying resource; Live reports whether it is still held.
type Track interface {
	Stop()
	Live() bool
}

// Stream is an acquired microphone stream. It owns its tracks for the
// lifetime of the session that acquired it.
type Stream interface {
	// Tracks returns every track the stream holds.
	Tracks() []Track
}

// Device abstracts microphone acquisition. Acquire may suspend
// indefinitely on a user permission prompt; it fails with
// ErrPermissionDenied or ErrDeviceUnavailable. onSamples receives PCM
// float32 samples in [-1, 1] at the requested rate until every track of
// the returned stream is stopped.
type Device interface {
	Acquire(ctx context.Context, sampleRate int, onSamples func(samples []float32)) (Stream, error)
}
