package plugin

import (
	"errors"
	"fmt"
	"sort"

	"github.com/prometheus/client_golang/prometheus"

	"grimm.is/mptcpd/internal/logging"
	"grimm.is/mptcpd/internal/metrics"
	"grimm.is/mptcpd/pkg/mptcpd"
)

var (
	// ErrEmptyName is returned when registering without a name.
	ErrEmptyName = errors.New("plugin name must not be empty")

	// ErrNilOps is returned when registering a nil operation table.
	ErrNilOps = errors.New("plugin operations must not be nil")

	// ErrNoPlugins is returned when loading registered nothing.
	ErrNoPlugins = errors.New("no path manager plugins registered")
)

// Registry holds registered operation tables and the token dispatch map.
type Registry struct {
	logger  *logging.Logger
	metrics *metrics.Registry
	opener  Opener

	ops         map[string]*mptcpd.Ops
	tokens      map[mptcpd.Token]*mptcpd.Ops
	defaultName string
	defaultOps  *mptcpd.Ops

	loaded  bool
	modules []*module
}

// Option configures a Registry.
type Option func(*Registry)

// WithOpener replaces the module opener, which defaults to GoPluginOpener.
func WithOpener(o Opener) Option {
	return func(r *Registry) { r.opener = o }
}

// WithMetrics records registry gauges on m.
func WithMetrics(m *metrics.Registry) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *logging.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = logging.Default()
	}
	r := &Registry{
		logger: logger.WithComponent("plugin"),
		opener: GoPluginOpener{},
		ops:    make(map[string]*mptcpd.Ops),
		tokens: make(map[mptcpd.Token]*mptcpd.Ops),
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = metrics.NewRegistry(prometheus.NewRegistry())
	}
	return r
}

// Register associates ops with name. Registering an existing name replaces
// its table. The first table registered becomes the default unless a table
// named after the configured default is registered.
func (r *Registry) Register(name string, ops *mptcpd.Ops) error {
	if name == "" {
		return ErrEmptyName
	}
	if ops == nil {
		return ErrNilOps
	}
	if ops.Empty() {
		r.logger.Warn("no plugin operations were set", "plugin", name)
	}

	first := len(r.ops) == 0
	prev, replaced := r.ops[name]
	if replaced {
		r.logger.Warn("replacing registered plugin operations", "plugin", name)
	}
	r.ops[name] = ops

	switch {
	case r.defaultName != "" && name == r.defaultName:
		r.defaultOps = ops
	case first:
		r.defaultOps = ops
	case replaced && r.defaultOps == prev:
		r.defaultOps = ops
	}

	r.metrics.PluginsRegistered.Set(float64(len(r.ops)))
	r.logger.Debug("registered plugin operations", "plugin", name)
	return nil
}

// SetDefaultName sets the name of the preferred default table. It applies
// to subsequent registrations and to an already registered table of that
// name.
func (r *Registry) SetDefaultName(name string) {
	r.defaultName = name
	if ops, ok := r.ops[name]; ok && name != "" {
		r.defaultOps = ops
	}
}

// Default returns the default table, or nil when nothing is registered.
func (r *Registry) Default() *mptcpd.Ops {
	return r.defaultOps
}

// DefaultName returns the name of the default table, or "" when nothing is
// registered.
func (r *Registry) DefaultName() string {
	if r.defaultOps == nil {
		return ""
	}
	return r.nameOf(r.defaultOps)
}

// Lookup returns the table registered under name.
func (r *Registry) Lookup(name string) (*mptcpd.Ops, bool) {
	ops, ok := r.ops[name]
	return ops, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.ops))
	for n := range r.ops {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tables.
func (r *Registry) Len() int {
	return len(r.ops)
}

// nameOf returns the registered name of ops, for logging and metrics.
func (r *Registry) nameOf(ops *mptcpd.Ops) string {
	for n, o := range r.ops {
		if o == ops {
			return n
		}
	}
	return "unknown"
}

// Connections returns the number of tokens currently dispatched.
func (r *Registry) Connections() int {
	return len(r.tokens)
}

// Unload runs module exit hooks in reverse load order and clears all
// registrations, the dispatch map and the default.
func (r *Registry) Unload() {
	for i := len(r.modules) - 1; i >= 0; i-- {
		m := r.modules[i]
		if m.desc.Exit != nil {
			r.logger.Debug("running plugin exit", "module", m.path)
			m.desc.Exit()
		}
	}
	r.modules = nil
	r.ops = make(map[string]*mptcpd.Ops)
	r.tokens = make(map[mptcpd.Token]*mptcpd.Ops)
	r.defaultOps = nil
	r.defaultName = ""
	r.loaded = false

	r.metrics.PluginsRegistered.Set(0)
	r.metrics.DispatchEntries.Set(0)
}

func (r *Registry) String() string {
	return fmt.Sprintf("registry(%d plugins, %d connections)", len(r.ops), len(r.tokens))
}
