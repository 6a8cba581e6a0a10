// Package config loads the daemon configuration.
//
// HCL is the primary format. Files ending in .yaml/.yml or .json are
// accepted too, so an existing cloud-network.yaml keeps working. Every
// setting has a default; a missing file yields Default().
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"grimm.is/cloudnet/internal/validation"
)

const (
	// DefaultPath is where the daemon looks for its configuration.
	DefaultPath = "/etc/cloud-network/cloud-network.hcl"
	// EnvPath overrides DefaultPath.
	EnvPath = "CLOUDNET_CONFIG"
)

// Config is the top-level daemon configuration.
type Config struct {
	Logging  Logging  `json:"logging" yaml:"logging"`
	Server   Server   `json:"server" yaml:"server"`
	Metadata Metadata `json:"metadata" yaml:"metadata"`
	Network  Network  `json:"network" yaml:"network"`
	Cloud    Cloud    `json:"cloud" yaml:"cloud"`
	Security Security `json:"security" yaml:"security"`
	State    State    `json:"state" yaml:"state"`
	Features Features `json:"features" yaml:"features"`
}

type Logging struct {
	Level      string `hcl:"level,optional" json:"level" yaml:"level"`
	Format     string `hcl:"format,optional" json:"format" yaml:"format"`
	Timestamps bool   `hcl:"timestamps,optional" json:"timestamps" yaml:"timestamps"`
}

type Server struct {
	Address string `hcl:"address,optional" json:"address" yaml:"address"`
	Port    int    `hcl:"port,optional" json:"port" yaml:"port"`
}

type Metadata struct {
	RefreshInterval string `hcl:"refresh_interval,optional" json:"refresh_interval" yaml:"refresh_interval"`
	RequestTimeout  string `hcl:"request_timeout,optional" json:"request_timeout" yaml:"request_timeout"`
}

type Network struct {
	// SupplementaryInterfaces are links configured from their kernel
	// addresses rather than from cloud metadata.
	SupplementaryInterfaces []string `hcl:"supplementary_interfaces,optional" json:"supplementary_interfaces" yaml:"supplementary_interfaces"`
	RouteTableBase          int      `hcl:"route_table_base,optional" json:"route_table_base" yaml:"route_table_base"`
}

type Cloud struct {
	AutoDetect      bool   `hcl:"auto_detect,optional" json:"auto_detect" yaml:"auto_detect"`
	Provider        string `hcl:"provider,optional" json:"provider" yaml:"provider"`
	AzureAPIVersion string `hcl:"azure_api_version,optional" json:"azure_api_version" yaml:"azure_api_version"`
	AWSIMDSVersion  int    `hcl:"aws_imds_version,optional" json:"aws_imds_version" yaml:"aws_imds_version"`
}

type Security struct {
	User             string `hcl:"user,optional" json:"user" yaml:"user"`
	Watchdog         bool   `hcl:"watchdog,optional" json:"watchdog" yaml:"watchdog"`
	WatchdogInterval string `hcl:"watchdog_interval,optional" json:"watchdog_interval" yaml:"watchdog_interval"`
}

type State struct {
	Directory       string `hcl:"directory,optional" json:"directory" yaml:"directory"`
	PersistMetadata bool   `hcl:"persist_metadata,optional" json:"persist_metadata" yaml:"persist_metadata"`
}

type Features struct {
	NetworkEvents bool `hcl:"network_events,optional" json:"network_events" yaml:"network_events"`
	CleanupStale  bool `hcl:"cleanup_stale,optional" json:"cleanup_stale" yaml:"cleanup_stale"`
	IPv6          bool `hcl:"ipv6,optional" json:"ipv6" yaml:"ipv6"`
	HealthCheck   bool `hcl:"health_check,optional" json:"health_check" yaml:"health_check"`
	GatewayProbe  bool `hcl:"gateway_probe,optional" json:"gateway_probe" yaml:"gateway_probe"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Logging: Logging{Level: "info", Format: "text"},
		Server:  Server{Address: "127.0.0.1", Port: 5209},
		Metadata: Metadata{
			RefreshInterval: "300s",
			RequestTimeout:  "10s",
		},
		Network: Network{RouteTableBase: 9999},
		Cloud: Cloud{
			AutoDetect:      true,
			AzureAPIVersion: "2021-02-01",
			AWSIMDSVersion:  1,
		},
		Security: Security{
			User:             "cloud-network",
			Watchdog:         true,
			WatchdogInterval: "30s",
		},
		State: State{
			Directory:       "/run/cloud-network",
			PersistMetadata: true,
		},
		Features: Features{
			NetworkEvents: true,
			CleanupStale:  true,
			HealthCheck:   true,
		},
	}
}

// ListenAddr is the HTTP API listen address.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.Address, strconv.Itoa(c.Server.Port))
}

// RefreshInterval is the period between reconciliation passes.
func (c *Config) RefreshInterval() time.Duration {
	return durationOr(c.Metadata.RefreshInterval, 300*time.Second)
}

// RequestTimeout bounds one metadata fetch.
func (c *Config) RequestTimeout() time.Duration {
	return durationOr(c.Metadata.RequestTimeout, 10*time.Second)
}

// WatchdogInterval is the systemd watchdog ping period.
func (c *Config) WatchdogInterval() time.Duration {
	return durationOr(c.Security.WatchdogInterval, 30*time.Second)
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Validate checks the values Default cannot guarantee.
func (c *Config) Validate() error {
	checks := []struct {
		name  string
		value string
	}{
		{"metadata.refresh_interval", c.Metadata.RefreshInterval},
		{"metadata.request_timeout", c.Metadata.RequestTimeout},
		{"security.watchdog_interval", c.Security.WatchdogInterval},
	}
	for _, chk := range checks {
		d, err := ParseDuration(chk.value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", chk.name, err)
		}
		if d <= 0 {
			return fmt.Errorf("invalid %s: must be positive", chk.name)
		}
	}
	if err := validation.ValidatePortNumber(c.Server.Port); err != nil {
		return fmt.Errorf("invalid server port: %w", err)
	}
	if err := validation.ValidateListenAddress(c.Server.Address); err != nil {
		return fmt.Errorf("invalid server.address: %w", err)
	}
	if err := validation.ValidateInterfaceNames(c.Network.SupplementaryInterfaces); err != nil {
		return fmt.Errorf("invalid network.supplementary_interfaces: %w", err)
	}
	if err := validation.ValidateUserName(c.Security.User); err != nil {
		return fmt.Errorf("invalid security.user: %w", err)
	}
	if err := validation.ValidateDirectory(c.State.Directory); err != nil {
		return fmt.Errorf("invalid state.directory: %w", err)
	}
	if c.Network.RouteTableBase <= 0 {
		return fmt.Errorf("invalid network.route_table_base %d", c.Network.RouteTableBase)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging.format %q (want text or json)", c.Logging.Format)
	}
	if !c.Cloud.AutoDetect && c.Cloud.Provider == "" {
		return fmt.Errorf("cloud.provider is required when cloud.auto_detect is false")
	}
	return nil
}
