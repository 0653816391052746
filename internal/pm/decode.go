package pm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"

	"grimm.is/mptcpd/internal/logging"
	"grimm.is/mptcpd/internal/mptcp"
	"grimm.is/mptcpd/pkg/mptcpd"
)

var (
	errMissing   = errors.New("missing required attribute")
	errAmbiguous = errors.New("both IPv4 and IPv6 addresses present")
)

// attrError names the attribute a decode failure refers to.
type attrError struct {
	attr uint16
	err  error
}

func (e *attrError) Error() string {
	return fmt.Sprintf("%s: %v", mptcp.AttrName(e.attr), e.err)
}

func (e *attrError) Unwrap() error { return e.err }

// attrSet holds the validated attributes of one event. Accessors record
// the first failure in err so handlers can read every field and check
// once at the end.
type attrSet struct {
	variant *mptcp.Variant
	vals    map[uint16][]byte
	err     error
}

// decodeAttrs walks the full attribute stream of an event. Attributes the
// API does not define are skipped with a warning. Attributes whose payload
// length does not match are treated as absent.
func decodeAttrs(v *mptcp.Variant, data []byte, logger *logging.Logger) (*attrSet, error) {
	ad, err := netlink.NewAttributeDecoder(data)
	if err != nil {
		return nil, err
	}

	s := &attrSet{variant: v, vals: make(map[uint16][]byte)}
	for ad.Next() {
		t := ad.Type()
		size, ok := v.AttrSize(t)
		if !ok {
			logger.Warn("ignoring unknown MPTCP event attribute", "type", t)
			continue
		}
		b := ad.Bytes()
		if size >= 0 && len(b) != size {
			logger.Warn("ignoring MPTCP event attribute with unexpected length",
				"attr", mptcp.AttrName(t), "len", len(b), "want", size)
			continue
		}
		s.vals[t] = b
	}
	if err := ad.Err(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *attrSet) fail(t uint16, err error) {
	if s.err == nil {
		s.err = &attrError{attr: t, err: err}
	}
}

func (s *attrSet) has(t uint16) bool {
	_, ok := s.vals[t]
	return ok
}

func (s *attrSet) token() mptcpd.Token {
	b, ok := s.vals[mptcp.AttrToken]
	if !ok {
		s.fail(mptcp.AttrToken, errMissing)
		return 0
	}
	return mptcpd.Token(nlenc.Uint32(b))
}

func (s *attrSet) id(t uint16) mptcpd.AddressID {
	b, ok := s.vals[t]
	if !ok {
		s.fail(t, errMissing)
		return 0
	}
	return mptcpd.AddressID(nlenc.Uint8(b))
}

// backup defaults to false when absent.
func (s *attrSet) backup() bool {
	b, ok := s.vals[mptcp.AttrBackup]
	if !ok {
		return false
	}
	if size, _ := s.variant.AttrSize(mptcp.AttrBackup); size == mptcp.SizeFlag {
		return true
	}
	return len(b) > 0 && b[0] != 0
}

func (s *attrSet) local() netip.AddrPort {
	return s.addrPort(mptcp.AttrSAddr4, mptcp.AttrSAddr6, mptcp.AttrSPort)
}

func (s *attrSet) remote() netip.AddrPort {
	return s.addrPort(mptcp.AttrDAddr4, mptcp.AttrDAddr6, mptcp.AttrDPort)
}

// addrPort requires exactly one of the v4 and v6 attributes plus the port.
// Event ports are in network byte order.
func (s *attrSet) addrPort(v4, v6, port uint16) netip.AddrPort {
	b4, has4 := s.vals[v4]
	b6, has6 := s.vals[v6]

	var addr netip.Addr
	switch {
	case has4 && has6:
		s.fail(v4, errAmbiguous)
		return netip.AddrPort{}
	case has4:
		addr = netip.AddrFrom4([4]byte(b4))
	case has6:
		addr = netip.AddrFrom16([16]byte(b6))
	default:
		s.fail(v4, errMissing)
		return netip.AddrPort{}
	}

	p, ok := s.vals[port]
	if !ok {
		s.fail(port, errMissing)
		return netip.AddrPort{}
	}
	return netip.AddrPortFrom(addr, binary.BigEndian.Uint16(p))
}

// pathManager returns the requested strategy name, or "" when absent.
func (s *attrSet) pathManager() string {
	if !s.variant.HasPathManagerAttr {
		return ""
	}
	b, ok := s.vals[mptcp.AttrPathManager]
	if !ok {
		return ""
	}
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// dropReason classifies a decode failure for metrics.
func dropReason(err error) string {
	switch {
	case errors.Is(err, errAmbiguous):
		return "ambiguous_address"
	case errors.Is(err, errMissing):
		return "missing_attribute"
	}
	return "malformed"
}
