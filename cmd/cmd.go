// Package cmd implements the mptcpd subcommands.
package cmd

import (
	"grimm.is/mptcpd/internal/i18n"
)

// Printer writes user facing command output.
var Printer = i18n.NewCLIPrinter()
