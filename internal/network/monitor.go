package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"sync"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"grimm.is/mptcpd/internal/logging"
	"grimm.is/mptcpd/pkg/mptcpd"
)

// Monitor watches links and addresses and reports changes to a Handler.
type Monitor struct {
	nl      Netlinker
	handler Handler
	logger  *logging.Logger

	mu         sync.RWMutex
	interfaces map[int]*mptcpd.Interface
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewMonitor creates a monitor. It does nothing until Start.
func NewMonitor(nl Netlinker, handler Handler, logger *logging.Logger) *Monitor {
	if nl == nil {
		nl = DefaultNetlinker
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Monitor{
		nl:         nl,
		handler:    handler,
		logger:     logger.WithComponent("monitor"),
		interfaces: make(map[int]*mptcpd.Interface),
	}
}

// Start subscribes to link and address notifications, then enumerates the
// current state and follows updates in a background goroutine. Subscription
// failures are returned.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return errors.New("monitor already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	linkUpdates := make(chan netlink.LinkUpdate, 16)
	if err := m.nl.LinkSubscribe(linkUpdates, ctx.Done()); err != nil {
		cancel()
		close(m.done)
		return fmt.Errorf("subscribe to link updates: %w", err)
	}
	addrUpdates := make(chan netlink.AddrUpdate, 16)
	if err := m.nl.AddrSubscribe(addrUpdates, ctx.Done()); err != nil {
		cancel()
		close(m.done)
		return fmt.Errorf("subscribe to address updates: %w", err)
	}

	go func() {
		defer close(m.done)
		if err := m.enumerate(); err != nil {
			m.logger.Error("initial interface enumeration failed", "error", err)
		}
		m.processUpdates(ctx, linkUpdates, addrUpdates)
	}()

	m.logger.Debug("started interface monitoring")
	return nil
}

// Stop cancels the subscriptions and waits for the update goroutine.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.logger.Debug("stopped interface monitoring")
}

// Interfaces returns a snapshot of the tracked interfaces ordered by index.
func (m *Monitor) Interfaces() []mptcpd.Interface {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]mptcpd.Interface, 0, len(m.interfaces))
	for _, iface := range m.interfaces {
		out = append(out, copyInterface(iface))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func (m *Monitor) enumerate() error {
	links, err := m.nl.LinkList()
	if err != nil {
		return err
	}
	for _, link := range links {
		m.handleLink(link, unix.RTM_NEWLINK, 0)
		if link.Attrs() == nil || link.Attrs().Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := m.nl.AddrList(link, netlink.FAMILY_ALL)
		if err != nil {
			m.logger.Warn("unable to list addresses", "interface", link.Attrs().Name, "error", err)
			continue
		}
		for _, a := range addrs {
			if a.IPNet != nil {
				m.handleAddr(link.Attrs().Index, a.IPNet.IP, true)
			}
		}
	}
	return nil
}

func (m *Monitor) processUpdates(ctx context.Context, links <-chan netlink.LinkUpdate, addrs <-chan netlink.AddrUpdate) {
	for {
		select {
		case <-ctx.Done():
			return

		case u, ok := <-links:
			if !ok {
				m.logger.Warn("link update channel closed")
				links = nil
				continue
			}
			m.handleLink(u.Link, u.Header.Type, u.IfInfomsg.Type)

		case u, ok := <-addrs:
			if !ok {
				m.logger.Warn("address update channel closed")
				addrs = nil
				continue
			}
			m.handleAddr(u.LinkIndex, u.LinkAddress.IP, u.NewAddr)
		}
		if links == nil && addrs == nil {
			return
		}
	}
}

func (m *Monitor) handleLink(link netlink.Link, msgType uint16, arphrd uint16) {
	attrs := link.Attrs()
	if attrs == nil {
		return
	}
	if attrs.Flags&net.FlagLoopback != 0 {
		return
	}
	if arphrd == 0 {
		arphrd = encapType(attrs.EncapType)
	}

	m.mu.Lock()
	cur, known := m.interfaces[attrs.Index]

	if msgType == unix.RTM_DELLINK {
		if !known {
			m.mu.Unlock()
			return
		}
		delete(m.interfaces, attrs.Index)
		snap := copyInterface(cur)
		m.mu.Unlock()
		m.logger.Info("interface removed", "interface", snap.Name, "index", snap.Index)
		m.handler.DeleteInterface(snap)
		return
	}

	if !known {
		iface := &mptcpd.Interface{
			Family: unix.AF_UNSPEC,
			Type:   arphrd,
			Index:  attrs.Index,
			Flags:  attrs.RawFlags,
			Name:   attrs.Name,
		}
		m.interfaces[attrs.Index] = iface
		snap := copyInterface(iface)
		m.mu.Unlock()
		m.logger.Info("interface added", "interface", snap.Name, "index", snap.Index)
		m.handler.NewInterface(snap)
		return
	}

	if cur.Flags == attrs.RawFlags && cur.Name == attrs.Name && cur.Type == arphrd {
		m.mu.Unlock()
		return
	}
	cur.Flags = attrs.RawFlags
	cur.Name = attrs.Name
	cur.Type = arphrd
	snap := copyInterface(cur)
	m.mu.Unlock()
	m.logger.Debug("interface updated", "interface", snap.Name, "flags", fmt.Sprintf("0x%x", snap.Flags))
	m.handler.UpdateInterface(snap)
}

func (m *Monitor) handleAddr(index int, ip net.IP, added bool) {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return
	}
	addr = addr.Unmap()
	if addr.IsLoopback() || (addr.Is6() && addr.IsLinkLocalUnicast()) {
		return
	}

	m.mu.Lock()
	iface, known := m.interfaces[index]
	if !known && added {
		// Address notifications can overtake the link notification.
		m.mu.Unlock()
		link, err := m.nl.LinkByIndex(index)
		if err != nil {
			m.logger.Debug("address on unknown interface", "index", index, "addr", addr.String(), "error", err)
			return
		}
		m.handleLink(link, unix.RTM_NEWLINK, 0)
		m.mu.Lock()
		iface, known = m.interfaces[index]
	}
	if !known {
		m.mu.Unlock()
		return
	}

	has := iface.HasAddr(addr)
	switch {
	case added && !has:
		iface.Addrs = append(iface.Addrs, addr)
	case !added && has:
		kept := iface.Addrs[:0]
		for _, a := range iface.Addrs {
			if a != addr {
				kept = append(kept, a)
			}
		}
		iface.Addrs = kept
	default:
		m.mu.Unlock()
		return
	}
	snap := copyInterface(iface)
	m.mu.Unlock()

	if added {
		m.logger.Debug("address added", "interface", snap.Name, "addr", addr.String())
		m.handler.NewAddress(snap, addr)
	} else {
		m.logger.Debug("address removed", "interface", snap.Name, "addr", addr.String())
		m.handler.DeleteAddress(snap, addr)
	}
}

func copyInterface(iface *mptcpd.Interface) mptcpd.Interface {
	c := *iface
	c.Addrs = append([]netip.Addr(nil), iface.Addrs...)
	return c
}

func encapType(s string) uint16 {
	switch s {
	case "ether":
		return unix.ARPHRD_ETHER
	case "loopback":
		return unix.ARPHRD_LOOPBACK
	case "ppp":
		return unix.ARPHRD_PPP
	case "ipip":
		return unix.ARPHRD_TUNNEL
	case "tunnel6":
		return unix.ARPHRD_TUNNEL6
	case "none":
		return unix.ARPHRD_NONE
	}
	return 0
}
