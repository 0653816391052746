package pm

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mdlayher/genetlink"

	"grimm.is/mptcpd/internal/logging"
	"grimm.is/mptcpd/internal/metrics"
	"grimm.is/mptcpd/internal/mptcp"
	"grimm.is/mptcpd/internal/network"
	"grimm.is/mptcpd/internal/plugin"
	"grimm.is/mptcpd/pkg/mptcpd"
)

// Config selects the plugins and kernel API the path manager uses.
type Config struct {
	PluginDir     string
	DefaultPlugin string
	Variant       *mptcp.Variant

	// FamilyTimeout is how long Run waits for the kernel family before
	// warning. Zero disables the warning.
	FamilyTimeout time.Duration
}

// PathManager connects the kernel MPTCP API to the plugin registry.
type PathManager struct {
	variant       *mptcp.Variant
	familyTimeout time.Duration
	logger        *logging.Logger
	metrics       *metrics.Registry

	dial      DialFunc
	netlinker network.Netlinker
	opener    plugin.Opener

	registry *plugin.Registry
	enc      encoder
	events   Conn
	cmds     Conn
	monitor  *network.Monitor

	family        atomic.Pointer[genetlink.Family]
	ctrlID        uint16
	groups        []uint32 // loop only
	timeoutWarned bool     // loop only

	tasks   chan func()
	cmdq    chan *request
	fatal   chan error
	closing chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

var _ mptcpd.PathManager = (*PathManager)(nil)

// Option configures a PathManager.
type Option func(*PathManager)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *PathManager) { m.logger = l }
}

// WithMetrics records metrics on r instead of the global registry.
func WithMetrics(r *metrics.Registry) Option {
	return func(m *PathManager) { m.metrics = r }
}

// WithDialer replaces the generic netlink dialer.
func WithDialer(d DialFunc) Option {
	return func(m *PathManager) { m.dial = d }
}

// WithNetlinker replaces the route netlink source of the network monitor.
func WithNetlinker(nl network.Netlinker) Option {
	return func(m *PathManager) { m.netlinker = nl }
}

// WithPluginOpener replaces the plugin module opener.
func WithPluginOpener(o plugin.Opener) Option {
	return func(m *PathManager) { m.opener = o }
}

// New loads plugins, connects to the kernel and starts the network
// monitor. A missing MPTCP family is not an error; the path manager waits
// for it to appear. On failure everything acquired so far is released.
func New(cfg Config, opts ...Option) (*PathManager, error) {
	m := &PathManager{
		variant:       cfg.Variant,
		familyTimeout: cfg.FamilyTimeout,
		dial:          DialGeneric,
		tasks:         make(chan func(), 256),
		cmdq:          make(chan *request, commandQueueLen),
		fatal:         make(chan error, 1),
		closing:       make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	if m.variant == nil {
		m.variant = mptcp.Default
	}
	if m.logger == nil {
		m.logger = logging.Default()
	}
	m.logger = m.logger.WithComponent("pm")
	if m.metrics == nil {
		m.metrics = metrics.Get()
	}
	m.enc = encoderFor(m.variant, m)

	if err := m.start(cfg); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

func (m *PathManager) start(cfg Config) error {
	ropts := []plugin.Option{plugin.WithMetrics(m.metrics)}
	if m.opener != nil {
		ropts = append(ropts, plugin.WithOpener(m.opener))
	}
	m.registry = plugin.NewRegistry(m.logger, ropts...)
	if err := m.registry.Load(cfg.PluginDir, cfg.DefaultPlugin); err != nil {
		return fmt.Errorf("load plugins: %w", err)
	}

	var err error
	if m.cmds, err = m.dial(); err != nil {
		return fmt.Errorf("open generic netlink command socket: %w", err)
	}
	if m.events, err = m.dial(); err != nil {
		return fmt.Errorf("open generic netlink event socket: %w", err)
	}

	ctrl, err := m.cmds.GetFamily(ctrlFamily)
	if err != nil {
		return fmt.Errorf("look up generic netlink controller: %w", err)
	}
	m.ctrlID = ctrl.ID
	notify, ok := findGroup(ctrl, ctrlNotifyGroup)
	if !ok {
		return errors.New("generic netlink controller has no notify group")
	}
	if err := m.events.JoinGroup(notify); err != nil {
		return fmt.Errorf("join generic netlink controller notifications: %w", err)
	}

	fam, err := m.cmds.GetFamily(m.variant.Family)
	switch {
	case err == nil:
		m.familyAppeared(fam)
	case errors.Is(err, os.ErrNotExist):
		m.logger.Info("waiting for MPTCP generic netlink family", "family", m.variant.Family)
		m.metrics.FamilyPresent.Set(0)
	default:
		return fmt.Errorf("look up %s generic netlink family: %w", m.variant.Family, err)
	}

	m.monitor = network.NewMonitor(m.netlinker, netHandler{m}, m.logger)
	if err := m.monitor.Start(context.Background()); err != nil {
		m.monitor = nil
		return fmt.Errorf("start network monitor: %w", err)
	}

	m.wg.Add(2)
	go m.receive()
	go m.worker()
	return nil
}

// Close stops the monitor, leaves multicast groups, closes the sockets and
// unloads plugins. It is safe on a partially constructed or nil
// PathManager and must not run concurrently with Run.
func (m *PathManager) Close() error {
	if m == nil {
		return nil
	}
	m.once.Do(func() {
		close(m.closing)
		if m.monitor != nil {
			m.monitor.Stop()
		}
		if m.events != nil {
			m.leaveGroups()
			m.events.Close()
		}
		if m.cmds != nil {
			m.cmds.Close()
		}
		m.wg.Wait()
		if m.registry != nil {
			m.registry.Unload()
		}
		m.family.Store(nil)
	})
	return nil
}

// Registry exposes the plugin registry.
func (m *PathManager) Registry() *plugin.Registry {
	return m.registry
}

// Variant returns the kernel API in use.
func (m *PathManager) Variant() *mptcp.Variant {
	return m.variant
}

// netHandler forwards network monitor callbacks to the event loop.
type netHandler struct {
	m *PathManager
}

func (h netHandler) NewInterface(iface mptcpd.Interface) {
	h.m.post(func() {
		h.m.metrics.Interfaces.Inc()
		h.m.registry.NewInterface(&iface, h.m)
	})
}

func (h netHandler) UpdateInterface(iface mptcpd.Interface) {
	h.m.post(func() { h.m.registry.UpdateInterface(&iface, h.m) })
}

func (h netHandler) DeleteInterface(iface mptcpd.Interface) {
	h.m.post(func() {
		h.m.metrics.Interfaces.Dec()
		h.m.registry.DeleteInterface(&iface, h.m)
	})
}

func (h netHandler) NewAddress(iface mptcpd.Interface, addr netip.Addr) {
	h.m.post(func() { h.m.registry.NewLocalAddress(&iface, addr, h.m) })
}

func (h netHandler) DeleteAddress(iface mptcpd.Interface, addr netip.Addr) {
	h.m.post(func() { h.m.registry.DeleteLocalAddress(&iface, addr, h.m) })
}
