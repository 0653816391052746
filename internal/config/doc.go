// Package config handles the daemon's HCL configuration.
//
// Settings come from three layers, later layers overriding earlier ones:
// built-in defaults, the configuration file (mptcpd.hcl), and command line
// flags. The configuration file must be a regular file that is not writable
// by other users; a missing file is not an error.
//
// Example:
//
//	plugin_dir     = "/usr/lib/mptcpd"
//	path_manager   = "sspi"
//	kernel_api     = "upstream"
//	family_timeout = "10s"
//
//	log {
//	  level       = "info"
//	  destination = "syslog"
//	}
//
//	metrics {
//	  listen = "127.0.0.1:9117"
//	}
//
// String values may reference the process environment through the env
// object, for example plugin_dir = "${env.MPTCPD_PREFIX}/lib".
package config
