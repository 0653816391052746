package plugin

import (
	"fmt"
	goplugin "plugin"

	"grimm.is/mptcpd/pkg/mptcpd"
)

// Opener turns a module path into its plugin descriptor.
type Opener interface {
	Open(path string) (*mptcpd.PluginDescriptor, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(path string) (*mptcpd.PluginDescriptor, error)

func (f OpenerFunc) Open(path string) (*mptcpd.PluginDescriptor, error) {
	return f(path)
}

// GoPluginOpener opens modules built with -buildmode=plugin.
type GoPluginOpener struct{}

func (GoPluginOpener) Open(path string) (*mptcpd.PluginDescriptor, error) {
	p, err := goplugin.Open(path)
	if err != nil {
		return nil, err
	}
	sym, err := p.Lookup(mptcpd.PluginSymbol)
	if err != nil {
		return nil, err
	}
	switch d := sym.(type) {
	case *mptcpd.PluginDescriptor:
		return d, nil
	case **mptcpd.PluginDescriptor:
		if *d == nil {
			return nil, fmt.Errorf("%s: nil %s", path, mptcpd.PluginSymbol)
		}
		return *d, nil
	}
	return nil, fmt.Errorf("%s: %s has type %T, want *mptcpd.PluginDescriptor", path, mptcpd.PluginSymbol, sym)
}
