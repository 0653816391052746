package mptcpd

import (
	"errors"
	"net/netip"
)

var (
	// ErrNotReady is returned when the kernel MPTCP family is not present.
	ErrNotReady = errors.New("mptcp path management family not available")

	// ErrNotSupported is returned for commands the running kernel API
	// does not provide.
	ErrNotSupported = errors.New("operation not supported by kernel MPTCP API")
)

// Done receives the kernel's verdict on a command.
type Done func(err error)

// PathManager is the command surface handed to plugin callbacks.
//
// Every command validates its arguments and returns synchronously with
// ErrNotReady, ErrNotSupported or an encoding error. Otherwise the request
// is queued and the optional completion callback runs later on the event
// loop with the kernel's result. A nil completion means failures are only
// logged.
type PathManager interface {
	// Ready reports whether the kernel MPTCP family is present.
	Ready() bool

	// AddAddr advertises a local address. The token is only meaningful
	// to kernels without an in-kernel endpoint table.
	AddAddr(addr netip.AddrPort, id AddressID, flags AddrFlags, index int, token Token, done Done) error

	// RemoveAddr withdraws a previously advertised address.
	RemoveAddr(id AddressID, token Token, done Done) error

	// AddSubflow asks the kernel to create a new subflow.
	AddSubflow(token Token, localID, remoteID AddressID, laddr, raddr netip.AddrPort, backup bool, done Done) error

	// SetBackup changes the backup priority of an existing subflow.
	SetBackup(token Token, laddr, raddr netip.AddrPort, backup bool, done Done) error

	// RemoveSubflow closes a subflow.
	RemoveSubflow(token Token, laddr, raddr netip.AddrPort, done Done) error

	// GetAddr fetches a single endpoint by id.
	GetAddr(id AddressID, done func(AddrInfo, error)) error

	// DumpAddrs fetches all endpoints.
	DumpAddrs(done func([]AddrInfo, error)) error

	// FlushAddrs removes all endpoints.
	FlushAddrs(done Done) error

	// SetLimits updates the path manager limits.
	SetLimits(limits []Limit, done Done) error

	// GetLimits fetches the path manager limits.
	GetLimits(done func([]Limit, error)) error

	// Interfaces returns a snapshot of the monitored network interfaces.
	Interfaces() []Interface
}
