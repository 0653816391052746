package mptcpd

// PluginSymbol is the name of the *PluginDescriptor each plugin exports.
const PluginSymbol = "MptcpdPlugin"

// ABIVersion is bumped whenever Ops, PathManager or PluginDescriptor change
// incompatibly. Plugins built against another version are not loaded.
const ABIVersion = 1

// Registrar is handed to plugin initialization to register operation tables.
type Registrar interface {
	// Register associates ops with name. Registering an existing name
	// replaces the previous table.
	Register(name string, ops *Ops) error
}

// PluginDescriptor is the entry point exported by a plugin module.
type PluginDescriptor struct {
	ABI         int
	Name        string
	Description string

	// Priority orders initialization; lower runs first.
	Priority int

	Init func(r Registrar) error
	Exit func()
}
