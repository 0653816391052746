package pm

import (
	"fmt"
	"net/netip"

	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"

	"grimm.is/mptcpd/internal/logging"
	"grimm.is/mptcpd/internal/mptcp"
	"grimm.is/mptcpd/pkg/mptcpd"
)

// orgEncoder speaks the multipath-tcp.org kernel API, where addresses and
// subflows are managed per connection. Ports are sent in network byte
// order.
type orgEncoder struct {
	logger *logging.Logger
}

func (e orgEncoder) addAddr(ap netip.AddrPort, id mptcpd.AddressID, flags mptcpd.AddrFlags, index int, token mptcpd.Token) ([]byte, error) {
	addr, err := commandAddr(ap)
	if err != nil {
		return nil, err
	}
	if flags != 0 || index != 0 {
		e.logger.Warn("address flags and interface index ignored by multipath-tcp.org kernel",
			"flags", uint32(flags), "index", index)
	}

	ae := netlink.NewAttributeEncoder()
	ae.Uint32(mptcp.AttrToken, uint32(token))
	ae.Uint8(mptcp.AttrLocalID, uint8(id))
	ae.Uint16(mptcp.AttrFamily, mptcpd.AddrFamily(addr))
	putAddr(ae, mptcp.AttrSAddr4, mptcp.AttrSAddr6, addr)
	if ap.Port() != 0 {
		putPort(ae, mptcp.AttrSPort, ap.Port())
	}
	return ae.Encode()
}

func (orgEncoder) removeAddr(id mptcpd.AddressID, token mptcpd.Token) ([]byte, error) {
	ae := netlink.NewAttributeEncoder()
	ae.Uint32(mptcp.AttrToken, uint32(token))
	ae.Uint8(mptcp.AttrLocalID, uint8(id))
	return ae.Encode()
}

func (orgEncoder) getAddr(mptcpd.AddressID) ([]byte, error) {
	return nil, mptcpd.ErrNotSupported
}

func (orgEncoder) setLimits([]mptcpd.Limit) ([]byte, error) {
	return nil, mptcpd.ErrNotSupported
}

// addSubflow requires a remote address and port. The local address is
// optional and lets the kernel pick when unset.
func (orgEncoder) addSubflow(token mptcpd.Token, localID, remoteID mptcpd.AddressID, laddr, raddr netip.AddrPort, backup bool) ([]byte, error) {
	remote, err := commandAddr(raddr)
	if err != nil {
		return nil, fmt.Errorf("remote address: %w", err)
	}
	if raddr.Port() == 0 {
		return nil, fmt.Errorf("%w: remote port required", unix.EINVAL)
	}

	ae := netlink.NewAttributeEncoder()
	ae.Uint32(mptcp.AttrToken, uint32(token))
	ae.Uint8(mptcp.AttrLocalID, uint8(localID))
	ae.Uint8(mptcp.AttrRemoteID, uint8(remoteID))

	if laddr.Addr().IsValid() {
		local := laddr.Addr().Unmap()
		if local.Is4() != remote.Is4() {
			return nil, fmt.Errorf("%w: local and remote address families differ", unix.EINVAL)
		}
		putAddr(ae, mptcp.AttrSAddr4, mptcp.AttrSAddr6, local)
		if laddr.Port() != 0 {
			putPort(ae, mptcp.AttrSPort, laddr.Port())
		}
	}

	ae.Uint16(mptcp.AttrFamily, mptcpd.AddrFamily(remote))
	putAddr(ae, mptcp.AttrDAddr4, mptcp.AttrDAddr6, remote)
	putPort(ae, mptcp.AttrDPort, raddr.Port())
	ae.Uint8(mptcp.AttrBackup, boolByte(backup))
	return ae.Encode()
}

func (orgEncoder) removeSubflow(token mptcpd.Token, laddr, raddr netip.AddrPort) ([]byte, error) {
	ae, err := encodeSubflowTuple(token, laddr, raddr)
	if err != nil {
		return nil, err
	}
	return ae.Encode()
}

func (orgEncoder) setBackup(token mptcpd.Token, laddr, raddr netip.AddrPort, backup bool) ([]byte, error) {
	ae, err := encodeSubflowTuple(token, laddr, raddr)
	if err != nil {
		return nil, err
	}
	ae.Uint8(mptcp.AttrBackup, boolByte(backup))
	return ae.Encode()
}

// encodeSubflowTuple writes the token and four-tuple that identify an
// existing subflow.
func encodeSubflowTuple(token mptcpd.Token, laddr, raddr netip.AddrPort) (*netlink.AttributeEncoder, error) {
	local, err := commandAddr(laddr)
	if err != nil {
		return nil, fmt.Errorf("local address: %w", err)
	}
	remote, err := commandAddr(raddr)
	if err != nil {
		return nil, fmt.Errorf("remote address: %w", err)
	}
	if local.Is4() != remote.Is4() {
		return nil, fmt.Errorf("%w: local and remote address families differ", unix.EINVAL)
	}

	ae := netlink.NewAttributeEncoder()
	ae.Uint32(mptcp.AttrToken, uint32(token))
	ae.Uint16(mptcp.AttrFamily, mptcpd.AddrFamily(local))
	putAddr(ae, mptcp.AttrSAddr4, mptcp.AttrSAddr6, local)
	putPort(ae, mptcp.AttrSPort, laddr.Port())
	putAddr(ae, mptcp.AttrDAddr4, mptcp.AttrDAddr6, remote)
	putPort(ae, mptcp.AttrDPort, raddr.Port())
	return ae, nil
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
