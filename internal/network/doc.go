// Package network tracks local network interfaces and their addresses via
// rtnetlink and reports changes to a Handler.
//
// The Monitor enumerates existing links and addresses when started and then
// follows kernel link and address notifications. Loopback interfaces and
// IPv6 link-local addresses are ignored since they cannot carry MPTCP
// subflows.
package network
