// Package pm is the core of the daemon. It owns the generic netlink
// sockets used to talk to the kernel MPTCP path management API, decodes
// kernel events and hands them to the plugin registry, and implements the
// command surface plugins use to steer the kernel.
//
// All plugin callbacks and command completions run on a single event loop
// goroutine (see Run). Command replies are awaited by a separate worker so
// the loop never blocks on the kernel.
package pm
