package pm

import (
	"context"
	"errors"
	"time"

	"github.com/mdlayher/genetlink"
	"golang.org/x/sys/unix"
)

// Run processes kernel events, network changes and command completions
// until ctx is canceled or the event socket fails. Plugin callbacks run on
// the calling goroutine.
func (m *PathManager) Run(ctx context.Context) error {
	var timeout <-chan time.Time
	if m.familyTimeout > 0 && !m.Ready() {
		t := time.NewTimer(m.familyTimeout)
		defer t.Stop()
		timeout = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.closing:
			return ErrClosed
		case err := <-m.fatal:
			return err
		case <-timeout:
			timeout = nil
			m.checkFamilyTimeout()
		case fn := <-m.tasks:
			fn()
		}
	}
}

// post queues fn for the event loop. It reports false once the path
// manager is closing.
func (m *PathManager) post(fn func()) bool {
	select {
	case m.tasks <- fn:
		return true
	case <-m.closing:
		return false
	}
}

// receive reads the event socket and routes each message by family.
func (m *PathManager) receive() {
	defer m.wg.Done()
	for {
		msgs, nlmsgs, err := m.events.Receive()
		if err != nil {
			select {
			case <-m.closing:
				return
			default:
			}
			if errors.Is(err, unix.ENOBUFS) {
				m.logger.Warn("kernel event socket overrun, events lost")
				m.metrics.RecordDrop("unknown", "overrun")
				continue
			}
			m.logger.Error("unable to receive kernel events", "error", err)
			select {
			case m.fatal <- err:
			default:
			}
			return
		}

		for i, msg := range msgs {
			if i >= len(nlmsgs) {
				break
			}
			m.route(uint16(nlmsgs[i].Header.Type), msg)
		}
	}
}

func (m *PathManager) route(family uint16, msg genetlink.Message) {
	switch family {
	case m.ctrlID:
		m.post(func() { m.handleControl(msg) })
	default:
		m.post(func() {
			fam := m.family.Load()
			if fam == nil || family != fam.ID {
				m.logger.Debug("ignoring message for unexpected family", "family", family)
				return
			}
			m.handleEvent(msg)
		})
	}
}
