// Package plugin loads path manager strategy plugins and routes kernel
// events to them.
//
// A Registry maps plugin names to operation tables and connection tokens to
// the table that owns the connection. Connection events are directed to
// exactly one table; network monitor events are broadcast to every table.
// A Registry is not safe for concurrent use; the path manager drives it
// from its event loop.
package plugin
