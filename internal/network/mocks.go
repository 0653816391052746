package network

import (
	"net/netip"

	"github.com/stretchr/testify/mock"
	"github.com/vishvananda/netlink"

	"grimm.is/mptcpd/pkg/mptcpd"
)

// MockNetlinker is a mock implementation of the Netlinker interface.
type MockNetlinker struct {
	mock.Mock
}

func (m *MockNetlinker) LinkList() ([]netlink.Link, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]netlink.Link), args.Error(1)
}

func (m *MockNetlinker) LinkByIndex(index int) (netlink.Link, error) {
	args := m.Called(index)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(netlink.Link), args.Error(1)
}

func (m *MockNetlinker) AddrList(link netlink.Link, family int) ([]netlink.Addr, error) {
	args := m.Called(link, family)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]netlink.Addr), args.Error(1)
}

func (m *MockNetlinker) LinkSubscribe(ch chan<- netlink.LinkUpdate, done <-chan struct{}) error {
	args := m.Called(ch, done)
	return args.Error(0)
}

func (m *MockNetlinker) AddrSubscribe(ch chan<- netlink.AddrUpdate, done <-chan struct{}) error {
	args := m.Called(ch, done)
	return args.Error(0)
}

// MockHandler is a mock implementation of the Handler interface.
type MockHandler struct {
	mock.Mock
}

func (m *MockHandler) NewInterface(iface mptcpd.Interface) {
	m.Called(iface)
}

func (m *MockHandler) UpdateInterface(iface mptcpd.Interface) {
	m.Called(iface)
}

func (m *MockHandler) DeleteInterface(iface mptcpd.Interface) {
	m.Called(iface)
}

func (m *MockHandler) NewAddress(iface mptcpd.Interface, addr netip.Addr) {
	m.Called(iface, addr)
}

func (m *MockHandler) DeleteAddress(iface mptcpd.Interface, addr netip.Addr) {
	m.Called(iface, addr)
}
