// Package mptcpd is the contract between the path manager daemon and its
// strategy plugins.
//
// A plugin is a Go plugin (.so) exporting a *PluginDescriptor under the
// symbol named by PluginSymbol. Its Init function receives a Registrar and
// registers one or more named operation tables. The daemon then invokes the
// table's callbacks, always from a single goroutine, as the kernel reports
// MPTCP connection activity. Callbacks receive a PathManager through which
// they may issue commands back to the kernel.
package mptcpd
