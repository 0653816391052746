package main

import (
	"errors"
	"flag"
	"os"
	"strings"

	"grimm.is/mptcpd/cmd"
	"grimm.is/mptcpd/internal/brand"
)

func main() {
	args := os.Args[1:]

	// Without a subcommand, or with only flags, run the daemon.
	sub := "run"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		sub, args = args[0], args[1:]
	}

	var err error
	switch sub {
	case "run":
		err = cmd.RunDaemon(args)

	case "check":
		err = cmd.RunCheck(args)

	case "version":
		cmd.Printer.Printf("%s\n", brand.VersionString())
		cmd.Printer.Printf("Build: %s\n", brand.BuildTime)

	case "help":
		printUsage()

	default:
		cmd.Printer.Fprintf(os.Stderr, "unknown command %q\n\n", sub)
		printUsage()
		os.Exit(2)
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		cmd.Printer.Fprintf(os.Stderr, "%s: %v\n", brand.BinaryName, err)
		os.Exit(1)
	}
}

func printUsage() {
	cmd.Printer.Printf("%s - %s\n\n", brand.Name, brand.Description)
	cmd.Printer.Printf("Usage: %s [command] [flags]\n\n", brand.BinaryName)
	cmd.Printer.Println("Commands:")
	cmd.Printer.Println("  run       Run the path manager daemon (default)")
	cmd.Printer.Println("  check     Validate the configuration and plugin directory")
	cmd.Printer.Println("  version   Print version information")
	cmd.Printer.Println("  help      Show this help")
	cmd.Printer.Println()
	cmd.Printer.Printf("Run '%s run -h' for daemon flags.\n", brand.BinaryName)
}
