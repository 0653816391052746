package network

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"grimm.is/mptcpd/internal/logging"
	"grimm.is/mptcpd/pkg/mptcpd"
)

func dummyLink(index int, name string, flags net.Flags) netlink.Link {
	return &netlink.Dummy{LinkAttrs: netlink.LinkAttrs{
		Index:     index,
		Name:      name,
		Flags:     flags,
		RawFlags:  uint32(unix.IFF_UP),
		EncapType: "ether",
	}}
}

func ipnet(cidr string) *net.IPNet {
	ip, n, err := net.ParseCIDR(cidr)
	if err != nil {
		panic(err)
	}
	n.IP = ip
	return n
}

func byName(name string) any {
	return mock.MatchedBy(func(i mptcpd.Interface) bool { return i.Name == name })
}

func TestMonitor_EnumerateAndFollow(t *testing.T) {
	nl := &MockNetlinker{}
	h := &MockHandler{}

	eth0 := dummyLink(2, "eth0", net.FlagUp)
	lo := dummyLink(1, "lo", net.FlagUp|net.FlagLoopback)

	var linkCh chan<- netlink.LinkUpdate
	var addrCh chan<- netlink.AddrUpdate
	nl.On("LinkSubscribe", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		linkCh = args.Get(0).(chan<- netlink.LinkUpdate)
	}).Return(nil)
	nl.On("AddrSubscribe", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		addrCh = args.Get(0).(chan<- netlink.AddrUpdate)
	}).Return(nil)
	nl.On("LinkList").Return([]netlink.Link{lo, eth0}, nil)
	nl.On("AddrList", lo, netlink.FAMILY_ALL).Return([]netlink.Addr{{IPNet: ipnet("127.0.0.1/8")}}, nil)
	nl.On("AddrList", eth0, netlink.FAMILY_ALL).Return([]netlink.Addr{
		{IPNet: ipnet("192.0.2.10/24")},
		{IPNet: ipnet("fe80::1/64")},
	}, nil)

	events := make(chan string, 16)
	h.On("NewInterface", byName("eth0")).Run(func(mock.Arguments) { events <- "new eth0" })
	h.On("NewAddress", byName("eth0"), netip.MustParseAddr("192.0.2.10")).Run(func(mock.Arguments) { events <- "addr 192.0.2.10" })
	h.On("NewAddress", byName("eth0"), netip.MustParseAddr("2001:db8::10")).Run(func(mock.Arguments) { events <- "addr 2001:db8::10" })
	h.On("DeleteAddress", byName("eth0"), netip.MustParseAddr("192.0.2.10")).Run(func(mock.Arguments) { events <- "deladdr 192.0.2.10" })
	h.On("DeleteInterface", byName("eth0")).Run(func(mock.Arguments) { events <- "del eth0" })

	m := NewMonitor(nl, h, logging.Discard())
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	expect := func(want string) {
		t.Helper()
		select {
		case got := <-events:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}

	expect("new eth0")
	expect("addr 192.0.2.10")

	addrCh <- netlink.AddrUpdate{LinkIndex: 2, LinkAddress: *ipnet("2001:db8::10/64"), NewAddr: true}
	expect("addr 2001:db8::10")

	// Duplicate notifications are suppressed.
	addrCh <- netlink.AddrUpdate{LinkIndex: 2, LinkAddress: *ipnet("2001:db8::10/64"), NewAddr: true}
	addrCh <- netlink.AddrUpdate{LinkIndex: 2, LinkAddress: *ipnet("192.0.2.10/24"), NewAddr: false}
	expect("deladdr 192.0.2.10")

	ifaces := m.Interfaces()
	require.Len(t, ifaces, 1)
	assert.Equal(t, "eth0", ifaces[0].Name)
	assert.Equal(t, uint16(unix.ARPHRD_ETHER), ifaces[0].Type)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("2001:db8::10")}, ifaces[0].Addrs)

	del := netlink.LinkUpdate{Link: eth0}
	del.Header.Type = unix.RTM_DELLINK
	linkCh <- del
	expect("del eth0")

	assert.Eventually(t, func() bool { return len(m.Interfaces()) == 0 }, time.Second, 10*time.Millisecond)
}

func TestMonitor_UpdateInterface(t *testing.T) {
	h := &MockHandler{}
	m := NewMonitor(&MockNetlinker{}, h, logging.Discard())

	h.On("NewInterface", byName("wlan0")).Once()
	h.On("UpdateInterface", mock.MatchedBy(func(i mptcpd.Interface) bool {
		return i.Name == "wlan0" && i.Flags&unix.IFF_RUNNING != 0
	})).Once()

	link := dummyLink(3, "wlan0", net.FlagUp)
	m.handleLink(link, unix.RTM_NEWLINK, unix.ARPHRD_ETHER)
	// Same state: no callback.
	m.handleLink(link, unix.RTM_NEWLINK, unix.ARPHRD_ETHER)

	running := dummyLink(3, "wlan0", net.FlagUp|net.FlagRunning)
	running.Attrs().RawFlags = unix.IFF_UP | unix.IFF_RUNNING
	m.handleLink(running, unix.RTM_NEWLINK, unix.ARPHRD_ETHER)

	h.AssertExpectations(t)
}

func TestMonitor_AddressBeforeLink(t *testing.T) {
	nl := &MockNetlinker{}
	h := &MockHandler{}
	m := NewMonitor(nl, h, logging.Discard())

	eth1 := dummyLink(5, "eth1", net.FlagUp)
	nl.On("LinkByIndex", 5).Return(eth1, nil).Once()
	h.On("NewInterface", byName("eth1")).Once()
	h.On("NewAddress", byName("eth1"), netip.MustParseAddr("198.51.100.9")).Once()

	m.handleAddr(5, net.ParseIP("198.51.100.9"), true)
	// The late link notification carries nothing new.
	m.handleLink(eth1, unix.RTM_NEWLINK, 0)

	h.AssertExpectations(t)
	nl.AssertExpectations(t)
	h.AssertNotCalled(t, "UpdateInterface", mock.Anything)

	ifaces := m.Interfaces()
	require.Len(t, ifaces, 1)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("198.51.100.9")}, ifaces[0].Addrs)
}

func TestMonitor_IgnoresUnknownIndex(t *testing.T) {
	nl := &MockNetlinker{}
	h := &MockHandler{}
	m := NewMonitor(nl, h, logging.Discard())

	nl.On("LinkByIndex", 42).Return(nil, errors.New("link not found"))
	m.handleAddr(42, net.ParseIP("192.0.2.99"), true)
	m.handleAddr(43, net.ParseIP("192.0.2.98"), false)
	m.handleLink(dummyLink(42, "ghost", net.FlagUp), unix.RTM_DELLINK, 0)

	h.AssertNotCalled(t, "NewAddress", mock.Anything, mock.Anything)
	h.AssertNotCalled(t, "DeleteInterface", mock.Anything)
	nl.AssertNumberOfCalls(t, "LinkByIndex", 1)
}

func TestMonitor_SubscribeFailure(t *testing.T) {
	nl := &MockNetlinker{}
	nl.On("LinkSubscribe", mock.Anything, mock.Anything).Return(nil)
	nl.On("AddrSubscribe", mock.Anything, mock.Anything).Return(errors.New("EPERM"))

	m := NewMonitor(nl, &MockHandler{}, logging.Discard())
	err := m.Start(context.Background())
	assert.ErrorContains(t, err, "address updates")
	m.Stop()
}
