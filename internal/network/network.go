package network

import (
	"net/netip"

	"github.com/vishvananda/netlink"

	"grimm.is/mptcpd/pkg/mptcpd"
)

// Netlinker is an interface that abstracts netlink interactions.
// This allows for mocking netlink calls during unit testing.
type Netlinker interface {
	LinkList() ([]netlink.Link, error)
	LinkByIndex(index int) (netlink.Link, error)
	AddrList(link netlink.Link, family int) ([]netlink.Addr, error)

	LinkSubscribe(ch chan<- netlink.LinkUpdate, done <-chan struct{}) error
	AddrSubscribe(ch chan<- netlink.AddrUpdate, done <-chan struct{}) error
}

// Handler receives topology changes. Calls are made from the monitor's
// goroutine and never concurrently.
type Handler interface {
	NewInterface(iface mptcpd.Interface)
	UpdateInterface(iface mptcpd.Interface)
	DeleteInterface(iface mptcpd.Interface)
	NewAddress(iface mptcpd.Interface, addr netip.Addr)
	DeleteAddress(iface mptcpd.Interface, addr netip.Addr)
}
