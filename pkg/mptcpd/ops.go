package mptcpd

import "net/netip"

// Ops is a strategy's table of connection-level callbacks. Any field may be
// nil, in which case the corresponding event is ignored for connections
// owned by this table.
type Ops struct {
	// NewConnection is called when the kernel creates a new MPTCP
	// connection assigned to this strategy.
	NewConnection func(token Token, laddr, raddr netip.AddrPort, backup bool, pm PathManager)

	// ConnectionEstablished is called once the connection handshake
	// completes.
	ConnectionEstablished func(token Token, laddr, raddr netip.AddrPort, pm PathManager)

	// ConnectionClosed is called when the connection as a whole closes.
	// The token is no longer dispatched afterwards.
	ConnectionClosed func(token Token, pm PathManager)

	// NewAddress is called when the peer advertises an address (ADD_ADDR).
	NewAddress func(token Token, id AddressID, addr netip.AddrPort, pm PathManager)

	// AddressRemoved is called when the peer withdraws an address
	// (REMOVE_ADDR).
	AddressRemoved func(token Token, id AddressID, pm PathManager)

	// NewSubflow is called after a peer joins the connection with MP_JOIN.
	NewSubflow func(token Token, laddrID AddressID, laddr netip.AddrPort, raddrID AddressID, raddr netip.AddrPort, pm PathManager)

	// SubflowClosed is called when a single subflow closes.
	SubflowClosed func(token Token, laddr, raddr netip.AddrPort, pm PathManager)

	// SubflowPriority is called when a subflow's backup priority changes.
	SubflowPriority func(token Token, laddr, raddr netip.AddrPort, backup bool, pm PathManager)

	// Network receives local topology changes. Unlike the connection
	// callbacks, these are broadcast to every registered table.
	Network *NetworkOps
}

// NetworkOps receives network monitor notifications.
type NetworkOps struct {
	NewInterface    func(iface *Interface, pm PathManager)
	UpdateInterface func(iface *Interface, pm PathManager)
	DeleteInterface func(iface *Interface, pm PathManager)
	NewAddress      func(iface *Interface, addr netip.Addr, pm PathManager)
	DeleteAddress   func(iface *Interface, addr netip.Addr, pm PathManager)
}

// Empty reports whether none of the connection-level callbacks are set.
func (o *Ops) Empty() bool {
	return o.NewConnection == nil &&
		o.ConnectionEstablished == nil &&
		o.ConnectionClosed == nil &&
		o.NewAddress == nil &&
		o.AddressRemoved == nil &&
		o.NewSubflow == nil &&
		o.SubflowClosed == nil &&
		o.SubflowPriority == nil
}
