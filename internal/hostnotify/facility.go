// Package hostnotify surfaces unread pushes outside the application, e.g.
// as desktop notifications.
package hostnotify

import (
	"sync"

	"github.com/rs/zerolog/log"
	"setorin.id/notifclient/internal/domain"
	"setorin.id/notifclient/internal/messages"
	"setorin.id/notifclient/internal/metrics"
)

// Sink displays one host notification.
type Sink interface {
	Show(title, body string, n domain.Notification) error
}

// PermissionFunc asks the host for permission to display notifications.
type PermissionFunc func() bool

// AlwaysAllow grants permission without asking.
func AlwaysAllow() bool { return true }

// Facility is a fire-and-forget notification sink. Permission is requested
// once per process; when denied, Notify does nothing.
type Facility struct {
	sink    Sink
	request PermissionFunc
	metrics *metrics.Metrics

	once    sync.Once
	granted bool
}

func New(sink Sink, request PermissionFunc, m *metrics.Metrics) *Facility {
	if request == nil {
		request = AlwaysAllow
	}
	return &Facility{sink: sink, request: request, metrics: m}
}

// Notify shows n on the host. Errors are logged, never returned.
func (f *Facility) Notify(n domain.Notification) {
	f.once.Do(func() {
		f.granted = f.request()
		log.Info().Bool("granted", f.granted).Msg("hostnotify: permission requested")
	})
	if !f.granted {
		return
	}

	title, body := messages.HostNotification(n)
	if err := f.sink.Show(title, body, n); err != nil {
		log.Warn().Err(err).Str("id", n.ID).Msg("hostnotify: could not show notification")
		return
	}
	f.metrics.IncHostNotification()
}

// LogSink writes host notifications to the log. Used when no desktop
// integration is available.
type LogSink struct{}

func (LogSink) Show(title, body string, n domain.Notification) error {
	log.Info().
		Str("id", n.ID).
		Str("type", string(n.Type)).
		Int("priority", int(n.Priority)).
		Str("title", title).
		Str("body", body).
		Msg("hostnotify: notification")
	return nil
}
