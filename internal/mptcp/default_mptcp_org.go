//go:build mptcp_org

package mptcp

// Default is the kernel API selected at build time.
var Default = MultipathTCPOrg
