// Package notify is the notification sink the engine reports
// recoverable failures through. Hosting views plug in their own sink; a
// slog-backed default exists for headless use.
package notify

import "log/slog"

// Kind classifies a notification.
type Kind int

const (
	KindError Kind = iota
	KindSuccess
)

// Default user-facing messages.
const (
	DefaultErrorMessage = "Something went wrong, please try again"
	SuccessMessage      = "Action completed"
)

// Notifier receives user-facing notifications.
type Notifier interface {
	Notify(kind Kind, message string)
}

// Func adapts a function to the Notifier interface.
type Func func(kind Kind, message string)

// Notify implements Notifier.
func (f Func) Notify(kind Kind, message string) { f(kind, message) }

// Default returns a Notifier that writes through slog.
func Default() Notifier {
	return Func(func(kind Kind, message string) {
		if kind == KindError {
			slog.Error(message)
			return
		}
		slog.Info(message)
	})
}
