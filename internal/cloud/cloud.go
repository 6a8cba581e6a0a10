// Package cloud identifies the hosting cloud from DMI and hypervisor strings.
package cloud

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Kind names a cloud substrate.
type Kind string

const (
	None         Kind = "none"
	Azure        Kind = "azure"
	AWS          Kind = "aws"
	GCP          Kind = "gcp"
	Alibaba      Kind = "alibaba"
	Oracle       Kind = "oracle"
	DigitalOcean Kind = "digitalocean"
)

const azureChassisTag = "7783-7084-3265-9085-8269-3286-77"

func (k Kind) String() string { return string(k) }

// ParseKind maps a configured provider name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "azure":
		return Azure, nil
	case "aws", "ec2":
		return AWS, nil
	case "gcp", "gce", "google":
		return GCP, nil
	case "alibaba":
		return Alibaba, nil
	case "oracle", "oci":
		return Oracle, nil
	case "digitalocean", "digital ocean", "do":
		return DigitalOcean, nil
	case "", "none":
		return None, nil
	}
	return None, fmt.Errorf("unknown cloud provider %q", s)
}

// Detector probes a sysfs tree. Root is "/" in production.
type Detector struct {
	Root string
}

// Detect probes the running host.
func Detect() Kind {
	return Detector{Root: "/"}.Detect()
}

func (d Detector) read(path string) string {
	data, err := os.ReadFile(filepath.Join(d.Root, path))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (d Detector) dmi(field string) string {
	return d.read(filepath.Join("sys/class/dmi/id", field))
}

// Detect runs the probes in a fixed order; the first match wins.
func (d Detector) Detect() Kind {
	probes := []struct {
		kind  Kind
		match func() bool
	}{
		{Azure, d.isAzure},
		{AWS, d.isAWS},
		{GCP, func() bool { return strings.Contains(d.dmi("product_name"), "Google Compute Engine") }},
		{Alibaba, func() bool { return strings.Contains(d.dmi("product_name"), "Alibaba Cloud") }},
		{Oracle, func() bool { return strings.Contains(d.dmi("chassis_asset_tag"), "OracleCloud") }},
		{DigitalOcean, func() bool { return strings.Contains(d.dmi("sys_vendor"), "DigitalOcean") }},
	}
	for _, p := range probes {
		if p.match() {
			return p.kind
		}
	}
	return None
}

func (d Detector) isAzure() bool {
	return strings.Contains(d.dmi("sys_vendor"), "Microsoft Corporation") ||
		strings.Contains(d.dmi("chassis_asset_tag"), azureChassisTag)
}

func (d Detector) isAWS() bool {
	hasEC2Prefix := func(s string) bool { return strings.HasPrefix(strings.ToLower(s), "ec2") }
	return hasEC2Prefix(d.read("sys/hypervisor/uuid")) ||
		hasEC2Prefix(d.dmi("product_uuid")) ||
		strings.Contains(strings.ToLower(d.dmi("product_version")), "amazon")
}
