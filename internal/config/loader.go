package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// LoadResult contains the loaded config and metadata about the load.
type LoadResult struct {
	Config *Config
	Path   string
	// Found is false when no configuration file existed and defaults
	// were used.
	Found bool
}

// LoadFile loads path on top of the defaults. A missing file yields the
// defaults. An existing file must pass CheckFilePermissions.
func LoadFile(path string) (*LoadResult, error) {
	res := &LoadResult{Config: Default(), Path: path}

	if err := CheckFilePermissions(path); err != nil {
		if IsNotExist(err) {
			return res, nil
		}
		return nil, fmt.Errorf("refusing configuration file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	fileCfg, err := LoadHCL(data, path)
	if err != nil {
		return nil, err
	}
	res.Config.merge(fileCfg)
	res.Found = true
	return res, nil
}

// LoadHCL decodes HCL bytes. Only the values present in data are set.
func LoadHCL(data []byte, filename string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("HCL parse error: %s", diags.Error())
	}

	var cfg Config
	diags = gohcl.DecodeBody(file.Body, evalContext(os.Environ()), &cfg)
	if diags.HasErrors() {
		return nil, fmt.Errorf("HCL decode error: %s", diags.Error())
	}
	return &cfg, nil
}

// evalContext exposes the process environment as the env object.
func evalContext(environ []string) *hcl.EvalContext {
	vars := make(map[string]cty.Value, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" || !hclIdentifier(k) {
			continue
		}
		vars[k] = cty.StringVal(v)
	}
	env := cty.EmptyObjectVal
	if len(vars) > 0 {
		env = cty.ObjectVal(vars)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": env},
	}
}

func hclIdentifier(s string) bool {
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '-'):
		default:
			return false
		}
	}
	return true
}
