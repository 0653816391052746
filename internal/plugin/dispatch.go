package plugin

import (
	"net/netip"

	"grimm.is/mptcpd/pkg/mptcpd"
)

// ResolveByName returns the table registered under name. An empty or
// unknown name yields the default table; the fallback is logged for
// unknown names.
func (r *Registry) ResolveByName(name string) *mptcpd.Ops {
	if name == "" {
		return r.defaultOps
	}
	if ops, ok := r.ops[name]; ok {
		return ops
	}
	r.logger.Error("requested path management strategy does not exist, falling back on default", "plugin", name)
	r.metrics.DispatchMisses.WithLabelValues("name").Inc()
	return r.defaultOps
}

// ResolveByToken returns the table that owns token, or nil.
func (r *Registry) ResolveByToken(token mptcpd.Token) *mptcpd.Ops {
	ops, ok := r.tokens[token]
	if !ok {
		r.logger.Error("unable to match token to plugin", "token", token)
		r.metrics.DispatchMisses.WithLabelValues("token").Inc()
		return nil
	}
	return ops
}

func (r *Registry) bind(token mptcpd.Token, ops *mptcpd.Ops) {
	if _, exists := r.tokens[token]; exists {
		r.logger.Warn("connection token already mapped, rebinding", "token", token)
	}
	r.tokens[token] = ops
	r.metrics.DispatchEntries.Set(float64(len(r.tokens)))
}

func (r *Registry) release(token mptcpd.Token) {
	delete(r.tokens, token)
	r.metrics.DispatchEntries.Set(float64(len(r.tokens)))
}

func (r *Registry) called(ops *mptcpd.Ops, cb string) {
	r.metrics.Callbacks.WithLabelValues(r.nameOf(ops), cb).Inc()
}

// NewConnection binds token to the table named name (or the default) and
// invokes its NewConnection callback.
func (r *Registry) NewConnection(name string, token mptcpd.Token, laddr, raddr netip.AddrPort, backup bool, pm mptcpd.PathManager) {
	ops := r.ResolveByName(name)
	if ops == nil {
		r.logger.Error("no path manager available for new connection", "token", token)
		return
	}
	r.bind(token, ops)
	if ops.NewConnection != nil {
		r.called(ops, "new_connection")
		ops.NewConnection(token, laddr, raddr, backup, pm)
	}
}

// ConnectionEstablished invokes the owning table's callback.
func (r *Registry) ConnectionEstablished(token mptcpd.Token, laddr, raddr netip.AddrPort, pm mptcpd.PathManager) {
	ops := r.ResolveByToken(token)
	if ops != nil && ops.ConnectionEstablished != nil {
		r.called(ops, "connection_established")
		ops.ConnectionEstablished(token, laddr, raddr, pm)
	}
}

// ConnectionClosed invokes the owning table's callback and removes the
// dispatch entry for token.
func (r *Registry) ConnectionClosed(token mptcpd.Token, pm mptcpd.PathManager) {
	ops := r.ResolveByToken(token)
	if ops == nil {
		return
	}
	if ops.ConnectionClosed != nil {
		r.called(ops, "connection_closed")
		ops.ConnectionClosed(token, pm)
	}
	r.release(token)
}

// NewAddress invokes the owning table's callback.
func (r *Registry) NewAddress(token mptcpd.Token, id mptcpd.AddressID, addr netip.AddrPort, pm mptcpd.PathManager) {
	ops := r.ResolveByToken(token)
	if ops != nil && ops.NewAddress != nil {
		r.called(ops, "new_address")
		ops.NewAddress(token, id, addr, pm)
	}
}

// AddressRemoved invokes the owning table's callback.
func (r *Registry) AddressRemoved(token mptcpd.Token, id mptcpd.AddressID, pm mptcpd.PathManager) {
	ops := r.ResolveByToken(token)
	if ops != nil && ops.AddressRemoved != nil {
		r.called(ops, "address_removed")
		ops.AddressRemoved(token, id, pm)
	}
}

// NewSubflow invokes the owning table's callback.
func (r *Registry) NewSubflow(token mptcpd.Token, laddrID mptcpd.AddressID, laddr netip.AddrPort, raddrID mptcpd.AddressID, raddr netip.AddrPort, pm mptcpd.PathManager) {
	ops := r.ResolveByToken(token)
	if ops != nil && ops.NewSubflow != nil {
		r.called(ops, "new_subflow")
		ops.NewSubflow(token, laddrID, laddr, raddrID, raddr, pm)
	}
}

// SubflowClosed invokes the owning table's callback.
func (r *Registry) SubflowClosed(token mptcpd.Token, laddr, raddr netip.AddrPort, pm mptcpd.PathManager) {
	ops := r.ResolveByToken(token)
	if ops != nil && ops.SubflowClosed != nil {
		r.called(ops, "subflow_closed")
		ops.SubflowClosed(token, laddr, raddr, pm)
	}
}

// SubflowPriority invokes the owning table's callback.
func (r *Registry) SubflowPriority(token mptcpd.Token, laddr, raddr netip.AddrPort, backup bool, pm mptcpd.PathManager) {
	ops := r.ResolveByToken(token)
	if ops != nil && ops.SubflowPriority != nil {
		r.called(ops, "subflow_priority")
		ops.SubflowPriority(token, laddr, raddr, backup, pm)
	}
}

// broadcast calls fn once with each distinct table's network operations.
func (r *Registry) broadcast(fn func(n *mptcpd.NetworkOps)) {
	seen := make(map[*mptcpd.NetworkOps]bool, len(r.ops))
	for _, ops := range r.ops {
		if ops.Network != nil && !seen[ops.Network] {
			seen[ops.Network] = true
			fn(ops.Network)
		}
	}
}

// NewInterface notifies every table of a new interface.
func (r *Registry) NewInterface(iface *mptcpd.Interface, pm mptcpd.PathManager) {
	r.broadcast(func(n *mptcpd.NetworkOps) {
		if n.NewInterface != nil {
			n.NewInterface(iface, pm)
		}
	})
}

// UpdateInterface notifies every table of an interface change.
func (r *Registry) UpdateInterface(iface *mptcpd.Interface, pm mptcpd.PathManager) {
	r.broadcast(func(n *mptcpd.NetworkOps) {
		if n.UpdateInterface != nil {
			n.UpdateInterface(iface, pm)
		}
	})
}

// DeleteInterface notifies every table of a removed interface.
func (r *Registry) DeleteInterface(iface *mptcpd.Interface, pm mptcpd.PathManager) {
	r.broadcast(func(n *mptcpd.NetworkOps) {
		if n.DeleteInterface != nil {
			n.DeleteInterface(iface, pm)
		}
	})
}

// NewLocalAddress notifies every table of an address added to iface.
func (r *Registry) NewLocalAddress(iface *mptcpd.Interface, addr netip.Addr, pm mptcpd.PathManager) {
	r.broadcast(func(n *mptcpd.NetworkOps) {
		if n.NewAddress != nil {
			n.NewAddress(iface, addr, pm)
		}
	})
}

// DeleteLocalAddress notifies every table of an address removed from iface.
func (r *Registry) DeleteLocalAddress(iface *mptcpd.Interface, addr netip.Addr, pm mptcpd.PathManager) {
	r.broadcast(func(n *mptcpd.NetworkOps) {
		if n.DeleteAddress != nil {
			n.DeleteAddress(iface, addr, pm)
		}
	})
}
