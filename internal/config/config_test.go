package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:5209", cfg.ListenAddr())
	assert.Equal(t, 300*time.Second, cfg.RefreshInterval())
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout())
	assert.Equal(t, 30*time.Second, cfg.WatchdogInterval())
	assert.Equal(t, 9999, cfg.Network.RouteTableBase)
	assert.True(t, cfg.Cloud.AutoDetect)
	assert.True(t, cfg.Features.CleanupStale)
	assert.False(t, cfg.Features.IPv6)
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"30s", 30 * time.Second, false},
		{"5m", 5 * time.Minute, false},
		{"2h", 2 * time.Hour, false},
		{"1d", 24 * time.Hour, false},
		{"1m30s", 90 * time.Second, false},
		{"250ms", 250 * time.Millisecond, false},
		{"", 0, true},
		{"abc", 0, true},
		{"10x", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadHCL_PartialBlocksKeepDefaults(t *testing.T) {
	path := writeFile(t, "cloud-network.hcl", `
logging {
  level = "debug"
}

network {
  supplementary_interfaces = ["eth2", "eth3"]
}

features {
  ipv6 = true
}
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, []string{"eth2", "eth3"}, cfg.Network.SupplementaryInterfaces)
	assert.Equal(t, 9999, cfg.Network.RouteTableBase)
	assert.True(t, cfg.Features.IPv6)
	assert.True(t, cfg.Features.CleanupStale, "unset attribute keeps its default")
	assert.True(t, cfg.Security.Watchdog, "absent block keeps its defaults")
}

func TestLoadHCL_UnknownAttribute(t *testing.T) {
	path := writeFile(t, "bad.hcl", `
server {
  bogus = 1
}
`)
	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "cloud-network.yaml", `
server:
  port: 6000
metadata:
  refresh_interval: 1m
cloud:
  auto_detect: false
  provider: azure
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 6000, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Address)
	assert.Equal(t, time.Minute, cfg.RefreshInterval())
	assert.Equal(t, "azure", cfg.Cloud.Provider)
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "cloud-network.json", `{"state": {"directory": "/tmp/cn"}}`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/cn", cfg.State.Directory)
	assert.True(t, cfg.State.PersistMetadata)
}

func TestLoadFile_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"zero port", "server {\n  port = 0\n}\n"},
		{"bad refresh", "metadata {\n  refresh_interval = \"soon\"\n}\n"},
		{"bad format", "logging {\n  format = \"xml\"\n}\n"},
		{"manual without provider", "cloud {\n  auto_detect = false\n}\n"},
		{"bad supplementary name", "network {\n  supplementary_interfaces = [\"eth 1\"]\n}\n"},
		{"relative state dir", "state {\n  directory = \"run/cloudnet\"\n}\n"},
		{"bad user", "security {\n  user = \"Cloud Network\"\n}\n"},
		{"bad listen address", "server {\n  address = \"not an address\"\n}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeFile(t, "c.hcl", tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	res, err := Load(filepath.Join(t.TempDir(), "absent.hcl"))
	require.NoError(t, err)
	assert.True(t, res.Defaults)
	assert.Len(t, res.Warnings, 1)
	assert.Equal(t, Default(), res.Config)
}

func TestPath_EnvOverride(t *testing.T) {
	t.Setenv(EnvPath, "/tmp/override.hcl")
	assert.Equal(t, "/tmp/override.hcl", Path())

	t.Setenv(EnvPath, "")
	assert.Equal(t, DefaultPath, Path())
}

func TestRender_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Network.SupplementaryInterfaces = []string{"eth4"}
	cfg.Features.GatewayProbe = true

	out := Render(cfg)
	assert.Contains(t, string(out), "route_table_base")

	loaded, err := LoadHCL(out, "rendered.hcl")
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
