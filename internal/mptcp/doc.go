// Package mptcp describes the two generic netlink MPTCP path management
// APIs the daemon can speak: the upstream Linux "mptcp_pm" family and the
// out-of-tree multipath-tcp.org "mptcp" family.
//
// Both share the event attribute numbering. They differ in family and
// multicast group names, event and command numbering, the set of supported
// commands, and whether connection-created events carry a path manager
// name.
package mptcp
