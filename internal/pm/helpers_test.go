package pm

import (
	"context"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	vnl "github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"grimm.is/mptcpd/internal/logging"
	"grimm.is/mptcpd/internal/metrics"
	"grimm.is/mptcpd/internal/mptcp"
	"grimm.is/mptcpd/internal/network"
	"grimm.is/mptcpd/internal/plugin"
	"grimm.is/mptcpd/pkg/mptcpd"
)

const (
	testFamilyID    uint16 = 0x1f
	testNotifyGroup uint32 = 0x10
	testEventGroup  uint32 = 0x05

	token1   mptcpd.Token     = 0x12345678
	laddrID1 mptcpd.AddressID = 0x34
	raddrID1 mptcpd.AddressID = 0x56
)

var (
	laddr1 = netip.MustParseAddrPort("192.0.2.1:13398")
	raddr1 = netip.MustParseAddrPort("192.0.2.2:13399")
	laddr6 = netip.MustParseAddrPort("[2001:db8::47]:13400")
	raddr6 = netip.MustParseAddrPort("[2001:db8::48]:13401")
)

type executed struct {
	msg    genetlink.Message
	family uint16
	flags  netlink.HeaderFlags
}

// fakeConn stands in for a generic netlink socket.
type fakeConn struct {
	mu       sync.Mutex
	families map[string]genetlink.Family
	joined   []uint32
	left     []uint32
	sent     []executed
	execute  func(genetlink.Message) ([]genetlink.Message, error)
	closes   int

	recv      chan []genetlink.Message
	fail      chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		families: map[string]genetlink.Family{
			ctrlFamily: {
				ID:     unix.GENL_ID_CTRL,
				Name:   ctrlFamily,
				Groups: []genetlink.MulticastGroup{{ID: testNotifyGroup, Name: ctrlNotifyGroup}},
			},
		},
		recv:   make(chan []genetlink.Message),
		fail:   make(chan error),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) addFamily(v *mptcp.Variant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.families[v.Family] = testFamily(v)
}

func testFamily(v *mptcp.Variant) genetlink.Family {
	return genetlink.Family{
		ID:      testFamilyID,
		Version: 1,
		Name:    v.Family,
		Groups:  []genetlink.MulticastGroup{{ID: testEventGroup, Name: v.EventGroup}},
	}
}

func (c *fakeConn) GetFamily(name string) (genetlink.Family, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.families[name]
	if !ok {
		return genetlink.Family{}, os.ErrNotExist
	}
	return f, nil
}

func (c *fakeConn) JoinGroup(group uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined = append(c.joined, group)
	return nil
}

func (c *fakeConn) LeaveGroup(group uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.left = append(c.left, group)
	return nil
}

func (c *fakeConn) Receive() ([]genetlink.Message, []netlink.Message, error) {
	select {
	case msgs := <-c.recv:
		nlmsgs := make([]netlink.Message, len(msgs))
		for i := range nlmsgs {
			nlmsgs[i].Header.Type = netlink.HeaderType(testFamilyID)
		}
		return msgs, nlmsgs, nil
	case err := <-c.fail:
		return nil, nil, err
	case <-c.closed:
		return nil, nil, net.ErrClosed
	}
}

func (c *fakeConn) Execute(m genetlink.Message, family uint16, flags netlink.HeaderFlags) ([]genetlink.Message, error) {
	c.mu.Lock()
	c.sent = append(c.sent, executed{msg: m, family: family, flags: flags})
	fn := c.execute
	c.mu.Unlock()
	if fn != nil {
		return fn(m)
	}
	return nil, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) lastSent(t *testing.T) executed {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.sent)
	return c.sent[len(c.sent)-1]
}

func (c *fakeConn) groups() (joined, left []uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint32(nil), c.joined...), append([]uint32(nil), c.left...)
}

// recorder captures callbacks made to one plugin.
type recorder struct {
	mu     sync.Mutex
	calls  map[string]int
	token  mptcpd.Token
	laddr  netip.AddrPort
	raddr  netip.AddrPort
	id     mptcpd.AddressID
	backup bool
	ifaces []string
}

func newRecorder() *recorder {
	return &recorder{calls: make(map[string]int)}
}

func (r *recorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[name]
}

func (r *recorder) ops() *mptcpd.Ops {
	return &mptcpd.Ops{
		NewConnection: func(token mptcpd.Token, laddr, raddr netip.AddrPort, backup bool, _ mptcpd.PathManager) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.calls["new_connection"]++
			r.token, r.laddr, r.raddr, r.backup = token, laddr, raddr, backup
		},
		ConnectionClosed: func(token mptcpd.Token, _ mptcpd.PathManager) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.calls["connection_closed"]++
			r.token = token
		},
		NewAddress: func(token mptcpd.Token, id mptcpd.AddressID, addr netip.AddrPort, _ mptcpd.PathManager) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.calls["new_address"]++
			r.token, r.id, r.raddr = token, id, addr
		},
		NewSubflow: func(token mptcpd.Token, lid mptcpd.AddressID, laddr netip.AddrPort, rid mptcpd.AddressID, raddr netip.AddrPort, _ mptcpd.PathManager) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.calls["new_subflow"]++
			r.token, r.id, r.laddr, r.raddr = token, rid, laddr, raddr
		},
		SubflowClosed: func(token mptcpd.Token, laddr, raddr netip.AddrPort, _ mptcpd.PathManager) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.calls["subflow_closed"]++
			r.token, r.laddr, r.raddr = token, laddr, raddr
		},
		Network: &mptcpd.NetworkOps{
			NewInterface: func(iface *mptcpd.Interface, _ mptcpd.PathManager) {
				r.mu.Lock()
				defer r.mu.Unlock()
				r.calls["new_interface"]++
				r.ifaces = append(r.ifaces, iface.Name)
			},
			NewAddress: func(_ *mptcpd.Interface, _ netip.Addr, _ mptcpd.PathManager) {
				r.mu.Lock()
				defer r.mu.Unlock()
				r.calls["new_local_address"]++
			},
		},
	}
}

type harness struct {
	m       *PathManager
	conn    *fakeConn
	metrics *metrics.Registry
	plugins map[string]*recorder
}

type harnessConfig struct {
	variant *mptcp.Variant
	absent  bool
	plugins []string
	links   []vnl.Link
	addrs   []vnl.Addr

	familyTimeout time.Duration
}

// newHarness builds a PathManager over fake sockets with one recorder per
// plugin name. The first plugin is the default.
func newHarness(t *testing.T, hc harnessConfig) *harness {
	t.Helper()
	if hc.variant == nil {
		hc.variant = mptcp.Upstream
	}
	if len(hc.plugins) == 0 {
		hc.plugins = []string{"sspi"}
	}

	h := &harness{
		conn:    newFakeConn(),
		metrics: metrics.NewRegistry(prometheus.NewRegistry()),
		plugins: make(map[string]*recorder),
	}
	if !hc.absent {
		h.conn.addFamily(hc.variant)
	}

	dir := t.TempDir()
	descs := make(map[string]*mptcpd.PluginDescriptor)
	for i, name := range hc.plugins {
		rec := newRecorder()
		h.plugins[name] = rec
		path := filepath.Join(dir, name+".so")
		require.NoError(t, os.WriteFile(path, nil, 0o644))
		descs[path] = &mptcpd.PluginDescriptor{
			ABI:      mptcpd.ABIVersion,
			Name:     name,
			Priority: i,
			Init: func(r mptcpd.Registrar) error {
				return r.Register(name, rec.ops())
			},
		}
	}
	opener := plugin.OpenerFunc(func(path string) (*mptcpd.PluginDescriptor, error) {
		return descs[path], nil
	})

	nl := &network.MockNetlinker{}
	nl.On("LinkSubscribe", mock.Anything, mock.Anything).Return(nil)
	nl.On("AddrSubscribe", mock.Anything, mock.Anything).Return(nil)
	nl.On("LinkList").Return(hc.links, nil)
	for _, l := range hc.links {
		nl.On("AddrList", l, vnl.FAMILY_ALL).Return(hc.addrs, nil)
	}

	m, err := New(Config{
		PluginDir:     dir,
		DefaultPlugin: hc.plugins[0],
		Variant:       hc.variant,
		FamilyTimeout: hc.familyTimeout,
	},
		WithLogger(logging.Discard()),
		WithMetrics(h.metrics),
		WithDialer(func() (Conn, error) { return h.conn, nil }),
		WithNetlinker(nl),
		WithPluginOpener(opener),
	)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	h.m = m
	return h
}

// run starts the event loop until the test ends.
func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// eventMsg encodes an event with attributes added by fn.
func eventMsg(t *testing.T, v *mptcp.Variant, ev mptcp.Event, fn func(ae *netlink.AttributeEncoder)) genetlink.Message {
	t.Helper()
	var cmd uint8
	for c := uint8(1); c < 32; c++ {
		if v.Event(c) == ev {
			cmd = c
			break
		}
	}
	require.NotZero(t, cmd, "no command for %s", ev)

	ae := netlink.NewAttributeEncoder()
	fn(ae)
	b, err := ae.Encode()
	require.NoError(t, err)
	return genetlink.Message{Header: genetlink.Header{Command: cmd, Version: 1}, Data: b}
}

func putToken(ae *netlink.AttributeEncoder, token mptcpd.Token) {
	ae.Uint32(mptcp.AttrToken, uint32(token))
}

func putLocal(ae *netlink.AttributeEncoder, ap netip.AddrPort) {
	putAddr(ae, mptcp.AttrSAddr4, mptcp.AttrSAddr6, ap.Addr())
	putPort(ae, mptcp.AttrSPort, ap.Port())
}

func putRemote(ae *netlink.AttributeEncoder, ap netip.AddrPort) {
	putAddr(ae, mptcp.AttrDAddr4, mptcp.AttrDAddr6, ap.Addr())
	putPort(ae, mptcp.AttrDPort, ap.Port())
}

// attrs decodes a flat attribute payload into a type-keyed map.
func attrs(t *testing.T, b []byte) map[uint16][]byte {
	t.Helper()
	ads, err := netlink.UnmarshalAttributes(b)
	require.NoError(t, err)
	out := make(map[uint16][]byte, len(ads))
	for _, a := range ads {
		out[a.Type&^(unix.NLA_F_NESTED|unix.NLA_F_NET_BYTEORDER)] = a.Data
	}
	return out
}

// onLoop evaluates fn on the event loop and returns its result.
func onLoop[T any](t *testing.T, m *PathManager, fn func() T) T {
	t.Helper()
	ch := make(chan T, 1)
	require.True(t, m.post(func() { ch <- fn() }))
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("event loop did not run task")
	}
	var zero T
	return zero
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}
