// Package validation checks the free-form strings in the configuration
// before they reach the kernel, the filesystem or the user database.
package validation

import (
	"fmt"
	"net"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// Kernel interface names: at most IFNAMSIZ-1 bytes, no slash or
	// whitespace. Cloud images only use the portable subset.
	interfaceNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,15}$`)

	// useradd's default NAME_REGEX.
	userNameRegex = regexp.MustCompile(`^[a-z_][a-z0-9_-]*\$?$`)

	hostnameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)
)

// ValidateInterfaceName validates a network interface name.
func ValidateInterfaceName(name string) error {
	if name == "" {
		return fmt.Errorf("interface name cannot be empty")
	}
	if len(name) > 15 {
		return fmt.Errorf("interface name too long (max 15 characters): %s", name)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("invalid interface name: %s", name)
	}
	if !interfaceNameRegex.MatchString(name) {
		return fmt.Errorf("invalid interface name: %q (must be alphanumeric with -_.)", name)
	}
	return nil
}

// ValidateInterfaceNames validates each name and rejects duplicates.
func ValidateInterfaceNames(names []string) error {
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if err := ValidateInterfaceName(name); err != nil {
			return err
		}
		if seen[name] {
			return fmt.Errorf("interface %s listed twice", name)
		}
		seen[name] = true
	}
	return nil
}

// ValidateUserName validates a local account name.
func ValidateUserName(name string) error {
	if name == "" {
		return fmt.Errorf("user name cannot be empty")
	}
	if len(name) > 32 {
		return fmt.Errorf("user name too long (max 32 characters): %s", name)
	}
	if !userNameRegex.MatchString(name) {
		return fmt.Errorf("invalid user name: %q", name)
	}
	return nil
}

// ValidateDirectory requires an absolute, already clean path.
func ValidateDirectory(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if strings.Contains(path, "\x00") {
		return fmt.Errorf("null byte in path")
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("path must be absolute: %s", path)
	}
	for _, part := range strings.Split(path, "/") {
		if part == ".." {
			return fmt.Errorf("path traversal not allowed: %s", path)
		}
	}
	return nil
}

// ValidateListenAddress accepts an IP literal or a DNS hostname.
func ValidateListenAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if net.ParseIP(addr) != nil {
		return nil
	}
	if len(addr) > 253 || !hostnameRegex.MatchString(addr) {
		return fmt.Errorf("invalid listen address: %q", addr)
	}
	return nil
}

// ValidatePortNumber validates a port number.
func ValidatePortNumber(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port number: %d (must be 1-65535)", port)
	}
	return nil
}
