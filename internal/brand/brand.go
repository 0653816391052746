// Package brand holds the daemon's identity and default filesystem layout.
//
// Values are loaded from brand.json at compile time via go:embed so that
// packaging scripts can read the same file.
package brand

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
)

//go:embed brand.json
var brandJSON []byte

// Brand holds all branding information
type Brand struct {
	Name               string `json:"name"`
	LowerName          string `json:"lowerName"`
	Description        string `json:"description"`
	Repository         string `json:"repository"`
	ConfigEnvPrefix    string `json:"configEnvPrefix"`
	DefaultConfigDir   string `json:"defaultConfigDir"`
	DefaultPluginDir   string `json:"defaultPluginDir"`
	BinaryName         string `json:"binaryName"`
	ServiceName        string `json:"serviceName"`
	ConfigFileName     string `json:"configFileName"`
	DefaultPathManager string `json:"defaultPathManager"`
	License            string `json:"license"`
}

var b Brand

func init() {
	if err := json.Unmarshal(brandJSON, &b); err != nil {
		panic("failed to parse brand.json: " + err.Error())
	}

	Name = b.Name
	LowerName = b.LowerName
	Description = b.Description
	ConfigEnvPrefix = b.ConfigEnvPrefix
	DefaultConfigDir = b.DefaultConfigDir
	DefaultPluginDir = b.DefaultPluginDir
	BinaryName = b.BinaryName
	ConfigFileName = b.ConfigFileName
	DefaultPathManager = b.DefaultPathManager
}

var (
	Name               string
	LowerName          string
	Description        string
	ConfigEnvPrefix    string
	DefaultConfigDir   string
	DefaultPluginDir   string
	BinaryName         string
	ConfigFileName     string
	DefaultPathManager string

	// Version is set at build time via -ldflags
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Get returns the full Brand struct
func Get() Brand {
	return b
}

// GetConfigDir returns the config directory, checking env vars first.
// Priority: MPTCPD_CONFIG_DIR > MPTCPD_PREFIX/etc > DefaultConfigDir
func GetConfigDir() string {
	if dir := os.Getenv(ConfigEnvPrefix + "_CONFIG_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "etc")
	}
	return DefaultConfigDir
}

// GetPluginDir returns the plugin directory, checking env vars first.
// Priority: MPTCPD_PLUGIN_DIR > MPTCPD_PREFIX/lib > DefaultPluginDir
func GetPluginDir() string {
	if dir := os.Getenv(ConfigEnvPrefix + "_PLUGIN_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "lib")
	}
	return DefaultPluginDir
}

// GetConfigFile returns the default configuration file path.
func GetConfigFile() string {
	return filepath.Join(GetConfigDir(), ConfigFileName)
}

// VersionString returns "name version (commit)".
func VersionString() string {
	return Name + " " + Version + " (" + GitCommit + ")"
}
