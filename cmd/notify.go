package cmd

import (
	"errors"
	"os"

	"github.com/mdlayher/sdnotify"

	"grimm.is/mptcpd/internal/logging"
)

// notifier reports readiness to systemd when run as a notify unit.
type notifier struct {
	n      *sdnotify.Notifier
	logger *logging.Logger
}

func newNotifier(logger *logging.Logger) *notifier {
	n, err := sdnotify.New()
	switch {
	case errors.Is(err, os.ErrNotExist):
		return &notifier{logger: logger}
	case err != nil:
		logger.Warn("unable to open systemd notification socket", "error", err)
		return &notifier{logger: logger}
	}
	return &notifier{n: n, logger: logger}
}

func (s *notifier) notify(states ...string) {
	if s.n == nil {
		return
	}
	if err := s.n.Notify(states...); err != nil {
		s.logger.Debug("systemd notification failed", "error", err)
	}
}

func (s *notifier) ready(format string, v ...any) {
	s.notify(sdnotify.Ready, sdnotify.Statusf(format, v...))
}

func (s *notifier) reloading() {
	s.notify(sdnotify.Reloading)
}

func (s *notifier) stopping() {
	s.notify(sdnotify.Stopping)
}

func (s *notifier) close() {
	if s.n != nil {
		s.n.Close()
	}
}
