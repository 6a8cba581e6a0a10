package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"gopkg.in/yaml.v2"
)

// LoadResult contains the loaded config and metadata about the load.
type LoadResult struct {
	Config   *Config
	Path     string
	Defaults bool
	Warnings []string
}

// Path returns the configuration path, honoring CLOUDNET_CONFIG.
func Path() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads path, falling back to defaults when the file does not exist.
func Load(path string) (*LoadResult, error) {
	cfg, err := LoadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &LoadResult{
			Config:   Default(),
			Path:     path,
			Defaults: true,
			Warnings: []string{fmt.Sprintf("config file %s not found, using defaults", path)},
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return &LoadResult{Config: cfg, Path: path}, nil
}

// LoadFile loads a config file (HCL, YAML or JSON) and validates it.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg *Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl":
		cfg, err = LoadHCL(data, path)
	case ".yaml", ".yml":
		cfg, err = LoadYAML(data)
	case ".json":
		cfg, err = LoadJSON(data)
	default:
		// Try HCL first, fall back to JSON
		cfg, err = LoadHCL(data, path)
		if err != nil {
			cfg, err = LoadJSON(data)
		}
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// hclSections captures each top-level block body so it can be decoded
// over the defaults rather than over a zero value.
type hclSections struct {
	Logging  *hclSection `hcl:"logging,block"`
	Server   *hclSection `hcl:"server,block"`
	Metadata *hclSection `hcl:"metadata,block"`
	Network  *hclSection `hcl:"network,block"`
	Cloud    *hclSection `hcl:"cloud,block"`
	Security *hclSection `hcl:"security,block"`
	State    *hclSection `hcl:"state,block"`
	Features *hclSection `hcl:"features,block"`
}

type hclSection struct {
	Body hcl.Body `hcl:",remain"`
}

// LoadHCL loads config from HCL bytes.
func LoadHCL(data []byte, filename string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("HCL parse error: %s", diags.Error())
	}

	var sections hclSections
	if diags := gohcl.DecodeBody(file.Body, nil, &sections); diags.HasErrors() {
		return nil, fmt.Errorf("HCL decode error: %s", diags.Error())
	}

	cfg := Default()
	targets := []struct {
		section *hclSection
		into    any
	}{
		{sections.Logging, &cfg.Logging},
		{sections.Server, &cfg.Server},
		{sections.Metadata, &cfg.Metadata},
		{sections.Network, &cfg.Network},
		{sections.Cloud, &cfg.Cloud},
		{sections.Security, &cfg.Security},
		{sections.State, &cfg.State},
		{sections.Features, &cfg.Features},
	}
	for _, t := range targets {
		if t.section == nil {
			continue
		}
		if diags := gohcl.DecodeBody(t.section.Body, nil, t.into); diags.HasErrors() {
			return nil, fmt.Errorf("HCL decode error: %s", diags.Error())
		}
	}
	return cfg, nil
}

// LoadYAML loads config from YAML bytes.
func LoadYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("YAML parse error: %w", err)
	}
	return cfg, nil
}

// LoadJSON loads config from JSON bytes.
func LoadJSON(data []byte) (*Config, error) {
	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("JSON parse error: %w", err)
	}
	return cfg, nil
}
