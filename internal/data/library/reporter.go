package library

import (
	"fmt"
	"log/slog"
	"semcache/internal/core/ports"
	"semcache/internal/shared/observability"
	"sync"
	"time"
)

// StdLibrary is the name of the standard library. Problems with it turn into
// a download suggestion instead of a plain error.
const StdLibrary = "std"

const (
	NotificationError    = "error"
	NotificationDownload = "download"
)

type Notification struct {
	Kind    string
	Library string
	Message string
	// Action is a command the user can run to fix the problem.
	Action string
	At     time.Time
}

// NotificationReporter logs library problems and keeps them as project
// notifications.
type NotificationReporter struct {
	mu    sync.Mutex
	notes []Notification
}

var _ ports.LibraryErrorReporter = (*NotificationReporter)(nil)

func NewNotificationReporter() *NotificationReporter {
	return &NotificationReporter{}
}

func (r *NotificationReporter) LibraryNotFound(name string) {
	observability.LibraryLoadErrorsTotal.WithLabelValues("not_found").Inc()
	if name == StdLibrary {
		r.download(name, false)
		return
	}
	r.add(Notification{
		Kind:    NotificationError,
		Library: name,
		Message: fmt.Sprintf("library %s not found", name),
	})
}

func (r *NotificationReporter) IncorrectLanguageVersion(name, constraint string) {
	observability.LibraryLoadErrorsTotal.WithLabelValues("version").Inc()
	if name == StdLibrary {
		r.download(name, true)
		return
	}
	r.add(Notification{
		Kind:    NotificationError,
		Library: name,
		Message: fmt.Sprintf("library %s requires language version %s", name, constraint),
	})
}

func (r *NotificationReporter) download(name string, update bool) {
	msg := fmt.Sprintf("standard library %s is not installed", name)
	if update {
		msg = fmt.Sprintf("standard library %s does not support this language version", name)
	}
	r.add(Notification{
		Kind:    NotificationDownload,
		Library: name,
		Message: msg,
		Action:  "semcache fetch " + name,
	})
}

func (r *NotificationReporter) add(n Notification) {
	n.At = time.Now().UTC()
	slog.Warn(n.Message, "library", n.Library, "kind", n.Kind, "action", n.Action)
	r.mu.Lock()
	r.notes = append(r.notes, n)
	r.mu.Unlock()
}

// Notifications returns the notifications in arrival order.
func (r *NotificationReporter) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notes...)
}

func (r *NotificationReporter) Clear() {
	r.mu.Lock()
	r.notes = nil
	r.mu.Unlock()
}
