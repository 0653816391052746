package pm

import (
	"github.com/mdlayher/genetlink"

	"grimm.is/mptcpd/internal/mptcp"
)

// eventHandler decodes one event kind from its attributes and dispatches
// it. A non-nil error drops the event.
type eventHandler func(m *PathManager, a *attrSet) error

// Established, removed and priority events are accepted but not yet
// dispatched.
var eventHandlers = map[mptcp.Event]eventHandler{
	mptcp.EventCreated:        (*PathManager).onCreated,
	mptcp.EventClosed:         (*PathManager).onClosed,
	mptcp.EventAnnounced:      (*PathManager).onAnnounced,
	mptcp.EventSubEstablished: (*PathManager).onSubEstablished,
	mptcp.EventSubClosed:      (*PathManager).onSubClosed,
}

// handleEvent runs on the event loop.
func (m *PathManager) handleEvent(msg genetlink.Message) {
	ev := m.variant.Event(msg.Header.Command)
	if ev == mptcp.EventUnknown {
		m.logger.Warn("unhandled MPTCP event", "command", msg.Header.Command)
		m.metrics.RecordDrop(ev.String(), "unknown_event")
		return
	}
	m.metrics.EventsTotal.WithLabelValues(ev.String()).Inc()

	h, ok := eventHandlers[ev]
	if !ok {
		m.logger.Debug("unimplemented MPTCP event", "event", ev)
		return
	}

	a, err := decodeAttrs(m.variant, msg.Data, m.logger)
	if err != nil {
		m.logger.Error("unable to parse MPTCP event", "event", ev, "error", err)
		m.metrics.RecordDrop(ev.String(), dropReason(err))
		return
	}
	if err := h(m, a); err != nil {
		m.logger.Error("dropping MPTCP event", "event", ev, "error", err)
		m.metrics.RecordDrop(ev.String(), dropReason(err))
	}
}

func (m *PathManager) onCreated(a *attrSet) error {
	token := a.token()
	laddr := a.local()
	raddr := a.remote()
	if a.err != nil {
		return a.err
	}
	m.registry.NewConnection(a.pathManager(), token, laddr, raddr, a.backup(), m)
	return nil
}

func (m *PathManager) onClosed(a *attrSet) error {
	token := a.token()
	if a.err != nil {
		return a.err
	}
	m.registry.ConnectionClosed(token, m)
	return nil
}

func (m *PathManager) onAnnounced(a *attrSet) error {
	token := a.token()
	id := a.id(mptcp.AttrRemoteID)
	raddr := a.remote()
	if a.err != nil {
		return a.err
	}
	m.registry.NewAddress(token, id, raddr, m)
	return nil
}

func (m *PathManager) onSubEstablished(a *attrSet) error {
	token := a.token()
	laddrID := a.id(mptcp.AttrLocalID)
	laddr := a.local()
	raddrID := a.id(mptcp.AttrRemoteID)
	raddr := a.remote()
	if a.err != nil {
		return a.err
	}
	m.registry.NewSubflow(token, laddrID, laddr, raddrID, raddr, m)
	return nil
}

func (m *PathManager) onSubClosed(a *attrSet) error {
	token := a.token()
	laddr := a.local()
	raddr := a.remote()
	if a.err != nil {
		return a.err
	}
	m.registry.SubflowClosed(token, laddr, raddr, m)
	return nil
}
