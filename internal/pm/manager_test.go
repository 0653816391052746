package pm

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
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

func TestClose_NilAndRepeated(t *testing.T) {
	var m *PathManager
	assert.NoError(t, m.Close())

	h := newHarness(t, harnessConfig{})
	assert.NoError(t, h.m.Close())
	assert.NoError(t, h.m.Close())
	assert.False(t, h.m.Ready())
	assert.Equal(t, 0, h.m.Registry().Len(), "plugins are unloaded")
	assert.ErrorIs(t, h.m.FlushAddrs(nil), mptcpd.ErrNotReady)
}

func TestClose_LeavesGroups(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	require.NoError(t, h.m.Close())

	_, left := h.conn.groups()
	assert.Equal(t, []uint32{testEventGroup}, left)
	assert.Equal(t, 2, h.conn.closes)
}

func TestNew_NoPlugins(t *testing.T) {
	dialed := false
	_, err := New(Config{PluginDir: t.TempDir(), Variant: mptcp.Upstream},
		WithLogger(logging.Discard()),
		WithMetrics(metrics.NewRegistry(prometheus.NewRegistry())),
		WithDialer(func() (Conn, error) {
			dialed = true
			return newFakeConn(), nil
		}),
	)
	assert.ErrorIs(t, err, plugin.ErrNoPlugins)
	assert.False(t, dialed, "plugins are loaded before any socket is opened")
}

// pluginDir returns a directory with one fake module and its opener.
func pluginDir(t *testing.T) (string, plugin.Opener) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/sspi.so", nil, 0o644))
	desc := &mptcpd.PluginDescriptor{
		ABI:  mptcpd.ABIVersion,
		Name: "sspi",
		Init: func(r mptcpd.Registrar) error {
			return r.Register("sspi", newRecorder().ops())
		},
	}
	return dir, plugin.OpenerFunc(func(string) (*mptcpd.PluginDescriptor, error) { return desc, nil })
}

func TestNew_UnwindsOnDialFailure(t *testing.T) {
	dir, opener := pluginDir(t)
	first := newFakeConn()
	calls := 0
	_, err := New(Config{PluginDir: dir, Variant: mptcp.Upstream},
		WithLogger(logging.Discard()),
		WithMetrics(metrics.NewRegistry(prometheus.NewRegistry())),
		WithPluginOpener(opener),
		WithDialer(func() (Conn, error) {
			calls++
			if calls == 1 {
				return first, nil
			}
			return nil, errors.New("socket: permission denied")
		}),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "event socket")
	assert.Equal(t, 1, first.closes)
}

func TestNew_FamilyLookupError(t *testing.T) {
	dir, opener := pluginDir(t)
	conn := newFakeConn()
	conn.families = nil

	_, err := New(Config{PluginDir: dir, Variant: mptcp.Upstream},
		WithLogger(logging.Discard()),
		WithMetrics(metrics.NewRegistry(prometheus.NewRegistry())),
		WithPluginOpener(opener),
		WithDialer(func() (Conn, error) { return conn, nil }),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "controller")
	assert.Equal(t, 2, conn.closes)
}

func TestNew_MonitorFailure(t *testing.T) {
	dir, opener := pluginDir(t)
	conn := newFakeConn()
	conn.addFamily(mptcp.Upstream)

	nl := &network.MockNetlinker{}
	nl.On("LinkSubscribe", mock.Anything, mock.Anything).Return(unix.EPERM)

	_, err := New(Config{PluginDir: dir, Variant: mptcp.Upstream},
		WithLogger(logging.Discard()),
		WithMetrics(metrics.NewRegistry(prometheus.NewRegistry())),
		WithPluginOpener(opener),
		WithDialer(func() (Conn, error) { return conn, nil }),
		WithNetlinker(nl),
	)
	require.ErrorIs(t, err, unix.EPERM)
	_, left := conn.groups()
	assert.Equal(t, []uint32{testEventGroup}, left)
}

func TestRun_StopsOnContext(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.m.Run(ctx) }()
	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRun_ReceiveFailureIsFatal(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	errc := make(chan error, 1)
	go func() { errc <- h.m.Run(context.Background()) }()

	// Overruns lose events but keep the socket.
	h.conn.fail <- unix.ENOBUFS
	h.conn.fail <- unix.EBADF

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, unix.EBADF)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.EventsDropped.WithLabelValues("unknown", "overrun")))
}

func TestNetwork_BroadcastsInterfaces(t *testing.T) {
	lo := &vnl.Dummy{LinkAttrs: vnl.LinkAttrs{Index: 1, Name: "lo", Flags: net.FlagLoopback | net.FlagUp}}
	eth := &vnl.Dummy{LinkAttrs: vnl.LinkAttrs{Index: 2, Name: "eth0", Flags: net.FlagUp}}
	addr := vnl.Addr{IPNet: &net.IPNet{IP: net.ParseIP("192.0.2.10").To4(), Mask: net.CIDRMask(24, 32)}}

	h := newHarness(t, harnessConfig{
		plugins: []string{"sspi", "addr_adv"},
		links:   []vnl.Link{lo, eth},
		addrs:   []vnl.Addr{addr},
	})
	h.run(t)

	for _, name := range []string{"sspi", "addr_adv"} {
		rec := h.plugins[name]
		waitFor(t, func() bool { return rec.count("new_local_address") == 1 })
		assert.Equal(t, 1, rec.count("new_interface"), name)
		assert.Equal(t, []string{"eth0"}, rec.ifaces, name)
	}

	ifaces := h.m.Interfaces()
	require.Len(t, ifaces, 1)
	assert.Equal(t, "eth0", ifaces[0].Name)
	assert.True(t, ifaces[0].HasAddr(netip.MustParseAddr("192.0.2.10")))
}
