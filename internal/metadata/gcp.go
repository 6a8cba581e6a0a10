package metadata

import (
	"context"
	"net"
	"net/http"
	"strings"

	"grimm.is/cloudnet/internal/cloud"
	"grimm.is/cloudnet/internal/network"
)

const gcpEndpoint = "http://metadata.google.internal/computeMetadata/v1/?recursive=true"

type GCPMetadata struct {
	Instance GCPInstance `json:"instance"`
	Project  GCPProject  `json:"project"`
}

type GCPInstance struct {
	ID                uint64                `json:"id"`
	Hostname          string                `json:"hostname"`
	MachineType       string                `json:"machineType"`
	Zone              string                `json:"zone,omitempty"`
	NetworkInterfaces []GCPNetworkInterface `json:"networkInterfaces"`
}

type GCPNetworkInterface struct {
	MAC        string   `json:"mac"`
	IP         string   `json:"ip"`
	SubnetMask string   `json:"subnetmask"`
	Gateway    string   `json:"gateway"`
	MTU        int      `json:"mtu"`
	IPAliases  []string `json:"ipAliases,omitempty"`
}

type GCPProject struct {
	ProjectID        string `json:"projectId"`
	NumericProjectID int64  `json:"numericProjectId"`
}

// GCP reads the Compute Engine metadata server.
type GCP struct {
	client   *http.Client
	endpoint string
}

// NewGCP creates the GCP adapter.
func NewGCP(opts Options) *GCP {
	g := &GCP{client: opts.client(), endpoint: opts.GCPEndpoint}
	if g.endpoint == "" {
		g.endpoint = gcpEndpoint
	}
	return g
}

func (g *GCP) Kind() cloud.Kind { return cloud.GCP }

// Fetch downloads the recursive metadata tree. Unlike the other clouds,
// GCP supplies the gateway and MTU per interface.
func (g *GCP) Fetch(ctx context.Context) (*Snapshot, error) {
	var doc GCPMetadata
	if err := getJSON(ctx, g.client, g.endpoint, http.Header{"Metadata-Flavor": {"Google"}}, &doc); err != nil {
		return nil, err
	}

	snap := newSnapshot(cloud.GCP)
	snap.System = doc.Instance
	for _, ifc := range doc.Instance.NetworkInterfaces {
		mac := NormalizeMAC(ifc.MAC)
		prefix := itoa(MaskToPrefix(ifc.SubnetMask))

		addrs := network.NewAddressSet()
		if ifc.IP != "" {
			addrs[cidr(ifc.IP, prefix)] = true
		}
		for _, alias := range ifc.IPAliases {
			if strings.Contains(alias, "/") {
				addrs[alias] = true
			} else {
				addrs[cidr(alias, prefix)] = true
			}
		}

		out := Interface{MAC: mac, Addresses: addrs, MTU: ifc.MTU, Document: ifc}
		if gw := net.ParseIP(ifc.Gateway); gw != nil {
			out.Gateway = gw.To4()
		}
		snap.Interfaces[mac] = out
	}
	return snap, nil
}
