package pm

import (
	"fmt"
	"net/netip"

	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"

	"grimm.is/mptcpd/internal/logging"
	"grimm.is/mptcpd/internal/mptcp"
	"grimm.is/mptcpd/pkg/mptcpd"
)

// upstreamEncoder speaks the in-kernel endpoint API of mainline Linux.
// Endpoints are global, so connection tokens are not sent.
type upstreamEncoder struct {
	logger *logging.Logger
}

func (e upstreamEncoder) addAddr(ap netip.AddrPort, id mptcpd.AddressID, flags mptcpd.AddrFlags, index int, token mptcpd.Token) ([]byte, error) {
	addr, err := commandAddr(ap)
	if err != nil {
		return nil, err
	}
	if token != 0 {
		e.logger.Warn("connection token ignored by in-kernel path manager", "token", token)
	}

	ae := netlink.NewAttributeEncoder()
	ae.Nested(mptcp.PMAttrAddr, func(nae *netlink.AttributeEncoder) error {
		nae.Uint16(mptcp.AddrAttrFamily, mptcpd.AddrFamily(addr))
		putAddr(nae, mptcp.AddrAttrAddr4, mptcp.AddrAttrAddr6, addr)
		if ap.Port() != 0 {
			nae.Uint16(mptcp.AddrAttrPort, ap.Port())
		}
		if id != 0 {
			nae.Uint8(mptcp.AddrAttrID, uint8(id))
		}
		if flags != 0 {
			nae.Uint32(mptcp.AddrAttrFlags, uint32(flags))
		}
		if index != 0 {
			nae.Uint32(mptcp.AddrAttrIfIndex, uint32(int32(index)))
		}
		return nil
	})
	return ae.Encode()
}

func (e upstreamEncoder) removeAddr(id mptcpd.AddressID, token mptcpd.Token) ([]byte, error) {
	if token != 0 {
		e.logger.Warn("connection token ignored by in-kernel path manager", "token", token)
	}
	return encodeAddrID(id)
}

func (upstreamEncoder) getAddr(id mptcpd.AddressID) ([]byte, error) {
	return encodeAddrID(id)
}

func encodeAddrID(id mptcpd.AddressID) ([]byte, error) {
	ae := netlink.NewAttributeEncoder()
	ae.Nested(mptcp.PMAttrAddr, func(nae *netlink.AttributeEncoder) error {
		nae.Uint8(mptcp.AddrAttrID, uint8(id))
		return nil
	})
	return ae.Encode()
}

func (upstreamEncoder) setLimits(limits []mptcpd.Limit) ([]byte, error) {
	if len(limits) == 0 {
		return nil, fmt.Errorf("%w: no limits given", unix.EINVAL)
	}
	ae := netlink.NewAttributeEncoder()
	for _, l := range limits {
		switch l.Type {
		case mptcpd.LimitReceiveAddAddrs, mptcpd.LimitSubflows:
			ae.Uint32(uint16(l.Type), l.Limit)
		default:
			return nil, fmt.Errorf("%w: unknown limit type %d", unix.EINVAL, uint16(l.Type))
		}
	}
	return ae.Encode()
}

func (upstreamEncoder) addSubflow(mptcpd.Token, mptcpd.AddressID, mptcpd.AddressID, netip.AddrPort, netip.AddrPort, bool) ([]byte, error) {
	return nil, mptcpd.ErrNotSupported
}

func (upstreamEncoder) removeSubflow(mptcpd.Token, netip.AddrPort, netip.AddrPort) ([]byte, error) {
	return nil, mptcpd.ErrNotSupported
}

func (upstreamEncoder) setBackup(mptcpd.Token, netip.AddrPort, netip.AddrPort, bool) ([]byte, error) {
	return nil, mptcpd.ErrNotSupported
}

// decodeAddrReplies extracts the endpoint carried by each reply message.
func decodeAddrReplies(msgs []genetlink.Message) ([]mptcpd.AddrInfo, error) {
	infos := make([]mptcpd.AddrInfo, 0, len(msgs))
	for _, msg := range msgs {
		ad, err := netlink.NewAttributeDecoder(msg.Data)
		if err != nil {
			return nil, err
		}
		for ad.Next() {
			if ad.Type() != mptcp.PMAttrAddr {
				continue
			}
			var info mptcpd.AddrInfo
			ad.Nested(func(nad *netlink.AttributeDecoder) error {
				info = decodeAddrInfo(nad)
				return nil
			})
			infos = append(infos, info)
		}
		if err := ad.Err(); err != nil {
			return nil, err
		}
	}
	return infos, nil
}

func decodeAddrInfo(ad *netlink.AttributeDecoder) mptcpd.AddrInfo {
	var (
		info mptcpd.AddrInfo
		addr netip.Addr
		port uint16
	)
	for ad.Next() {
		switch ad.Type() {
		case mptcp.AddrAttrID:
			info.ID = mptcpd.AddressID(ad.Uint8())
		case mptcp.AddrAttrAddr4:
			if b := ad.Bytes(); len(b) == 4 {
				addr = netip.AddrFrom4([4]byte(b))
			}
		case mptcp.AddrAttrAddr6:
			if b := ad.Bytes(); len(b) == 16 {
				addr = netip.AddrFrom16([16]byte(b))
			}
		case mptcp.AddrAttrPort:
			port = ad.Uint16()
		case mptcp.AddrAttrFlags:
			info.Flags = mptcpd.AddrFlags(ad.Uint32())
		case mptcp.AddrAttrIfIndex:
			info.Index = int(int32(ad.Uint32()))
		}
	}
	info.Addr = netip.AddrPortFrom(addr, port)
	return info
}

// decodeLimitsReply reads the limits attributes in the order received.
func decodeLimitsReply(msgs []genetlink.Message) ([]mptcpd.Limit, error) {
	var limits []mptcpd.Limit
	for _, msg := range msgs {
		ad, err := netlink.NewAttributeDecoder(msg.Data)
		if err != nil {
			return nil, err
		}
		for ad.Next() {
			switch t := ad.Type(); t {
			case mptcp.PMAttrRcvAddAddrs, mptcp.PMAttrSubflows:
				limits = append(limits, mptcpd.Limit{Type: mptcpd.LimitType(t), Limit: ad.Uint32()})
			}
		}
		if err := ad.Err(); err != nil {
			return nil, err
		}
	}
	return limits, nil
}
