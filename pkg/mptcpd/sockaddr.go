package mptcpd

import (
	"errors"
	"net/netip"

	"golang.org/x/sys/unix"
)

// ErrBadAddress is returned for sockaddrs that are neither IPv4 nor IPv6.
var ErrBadAddress = errors.New("not an IPv4 or IPv6 address")

// ToSockaddr converts ap to a unix.Sockaddr. IPv4-mapped IPv6 addresses are
// kept as IPv6.
func ToSockaddr(ap netip.AddrPort) (unix.Sockaddr, error) {
	addr := ap.Addr()
	switch {
	case addr.Is4():
		return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: addr.As4()}, nil
	case addr.Is6():
		sa := &unix.SockaddrInet6{Port: int(ap.Port()), Addr: addr.As16()}
		if z := addr.Zone(); z != "" {
			if id, err := zoneIndex(z); err == nil {
				sa.ZoneId = id
			}
		}
		return sa, nil
	}
	return nil, ErrBadAddress
}

// FromSockaddr converts an IPv4 or IPv6 unix.Sockaddr to a netip.AddrPort.
func FromSockaddr(sa unix.Sockaddr) (netip.AddrPort, error) {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(s.Addr), uint16(s.Port)), nil
	case *unix.SockaddrInet6:
		addr := netip.AddrFrom16(s.Addr)
		if s.ZoneId != 0 {
			addr = addr.WithZone(zoneName(s.ZoneId))
		}
		return netip.AddrPortFrom(addr, uint16(s.Port)), nil
	}
	return netip.AddrPort{}, ErrBadAddress
}

// AddrFamily returns AF_INET or AF_INET6 for a valid address, zero otherwise.
func AddrFamily(addr netip.Addr) uint16 {
	switch {
	case addr.Is4():
		return unix.AF_INET
	case addr.Is6():
		return unix.AF_INET6
	}
	return 0
}
