package plugin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"grimm.is/mptcpd/pkg/mptcpd"
)

// ErrInsecureDir is returned when the plugin directory fails the
// permission check.
var ErrInsecureDir = errors.New("plugin directory must be a directory that is not world writable")

type module struct {
	path string
	desc *mptcpd.PluginDescriptor
}

// Load discovers *.so modules in dir, initializes them in priority order and
// selects the default table. defaultName prefers the table registered under
// that name; otherwise the first registration wins. Load does nothing when
// the registry is already loaded. It fails when no table was registered.
func (r *Registry) Load(dir, defaultName string) error {
	if dir == "" {
		return errors.New("no plugin directory specified")
	}
	if err := CheckDirectory(dir); err != nil {
		r.logger.Error("refusing plugin directory", "dir", dir, "error", err)
		return err
	}
	if r.loaded {
		return nil
	}

	r.SetDefaultName(defaultName)

	paths, err := filepath.Glob(filepath.Join(dir, "*.so"))
	if err != nil {
		return fmt.Errorf("scan plugin directory: %w", err)
	}
	sort.Strings(paths)

	var mods []*module
	for _, p := range paths {
		desc, err := r.opener.Open(p)
		if err != nil {
			r.logger.Error("unable to load plugin", "module", p, "error", err)
			continue
		}
		if desc.ABI != mptcpd.ABIVersion {
			r.logger.Error("plugin ABI mismatch", "module", p, "abi", desc.ABI, "want", mptcpd.ABIVersion)
			continue
		}
		mods = append(mods, &module{path: p, desc: desc})
	}

	sort.SliceStable(mods, func(i, j int) bool {
		return mods[i].desc.Priority < mods[j].desc.Priority
	})

	for _, m := range mods {
		if m.desc.Init == nil {
			r.logger.Warn("plugin has no init function", "module", m.path)
			continue
		}
		if err := m.desc.Init(r); err != nil {
			r.logger.Error("plugin init failed", "module", m.path, "plugin", m.desc.Name, "error", err)
			continue
		}
		r.modules = append(r.modules, m)
		r.logger.Info("loaded plugin", "plugin", m.desc.Name, "module", filepath.Base(m.path))
	}

	if len(r.ops) == 0 {
		r.Unload()
		return fmt.Errorf("%s: %w", dir, ErrNoPlugins)
	}

	r.loaded = true
	r.logger.Info("default path manager selected", "plugin", r.nameOf(r.defaultOps))
	return nil
}

// CheckDirectory verifies that dir exists, is a directory and is not
// writable by other users.
func CheckDirectory(dir string) error {
	fi, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%s: %w", dir, err)
	}
	if !fi.IsDir() || fi.Mode().Perm()&0o002 != 0 {
		return fmt.Errorf("%s: %w", dir, ErrInsecureDir)
	}
	return nil
}
