package mptcpd

import (
	"fmt"
	"net/netip"
)

// Token is the kernel-assigned identifier of an MPTCP connection.
type Token uint32

func (t Token) String() string {
	return fmt.Sprintf("0x%08x", uint32(t))
}

// AddressID identifies an address within an MPTCP connection.
type AddressID uint8

// AddrFlags are the in-kernel path manager endpoint flags.
type AddrFlags uint32

const (
	AddrFlagSignal  AddrFlags = 1 << 0
	AddrFlagSubflow AddrFlags = 1 << 1
	AddrFlagBackup  AddrFlags = 1 << 2
)

// AddrInfo describes a path manager endpoint as reported by the kernel.
type AddrInfo struct {
	Addr  netip.AddrPort
	ID    AddressID
	Flags AddrFlags
	Index int
}

// LimitType selects which in-kernel path manager limit a Limit refers to.
// Values match the kernel's limit attribute types.
type LimitType uint16

const (
	LimitReceiveAddAddrs LimitType = 2
	LimitSubflows        LimitType = 3
)

func (t LimitType) String() string {
	switch t {
	case LimitReceiveAddAddrs:
		return "rcv_add_addrs"
	case LimitSubflows:
		return "subflows"
	}
	return fmt.Sprintf("limit(%d)", uint16(t))
}

// Limit is a single path manager resource limit.
type Limit struct {
	Type  LimitType
	Limit uint32
}

// Interface is the network monitor's view of a local network interface.
type Interface struct {
	Family uint8
	Type   uint16
	Index  int
	Flags  uint32
	Name   string
	Addrs  []netip.Addr
}

// HasAddr reports whether addr is currently assigned to the interface.
func (i *Interface) HasAddr(addr netip.Addr) bool {
	for _, a := range i.Addrs {
		if a == addr {
			return true
		}
	}
	return false
}
