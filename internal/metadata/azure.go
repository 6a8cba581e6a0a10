package metadata

import (
	"context"
	"net/http"

	"grimm.is/cloudnet/internal/cloud"
	"grimm.is/cloudnet/internal/network"
)

const (
	azureEndpoint   = "http://169.254.169.254/metadata/instance"
	azureAPIVersion = "2021-02-01"
)

// AzureMetadata is the subset of the instance metadata document we use.
type AzureMetadata struct {
	Compute AzureCompute `json:"compute"`
	Network AzureNetwork `json:"network"`
}

type AzureCompute struct {
	Name           string `json:"name"`
	Location       string `json:"location"`
	VMID           string `json:"vmId"`
	VMSize         string `json:"vmSize"`
	Zone           string `json:"zone,omitempty"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
}

type AzureNetwork struct {
	Interface []AzureInterface `json:"interface"`
}

type AzureInterface struct {
	MACAddress string    `json:"macAddress"`
	IPv4       AzureIPv4 `json:"ipv4"`
}

type AzureIPv4 struct {
	IPAddress []AzureIPAddress `json:"ipAddress"`
	Subnet    []AzureSubnet    `json:"subnet"`
}

type AzureIPAddress struct {
	PrivateIPAddress string `json:"privateIpAddress"`
	PublicIPAddress  string `json:"publicIpAddress"`
}

type AzureSubnet struct {
	Address string `json:"address"`
	Prefix  string `json:"prefix"`
}

// Azure reads the Azure Instance Metadata Service.
type Azure struct {
	client     *http.Client
	endpoint   string
	apiVersion string
}

// NewAzure creates the Azure adapter.
func NewAzure(opts Options) *Azure {
	a := &Azure{
		client:     opts.client(),
		endpoint:   opts.AzureEndpoint,
		apiVersion: opts.AzureAPIVersion,
	}
	if a.endpoint == "" {
		a.endpoint = azureEndpoint
	}
	if a.apiVersion == "" {
		a.apiVersion = azureAPIVersion
	}
	return a
}

func (a *Azure) Kind() cloud.Kind { return cloud.Azure }

// Fetch downloads the instance document. Every private address on an
// interface takes the prefix of the interface's first subnet.
func (a *Azure) Fetch(ctx context.Context) (*Snapshot, error) {
	var doc AzureMetadata
	url := a.endpoint + "?api-version=" + a.apiVersion
	if err := getJSON(ctx, a.client, url, http.Header{"Metadata": {"true"}}, &doc); err != nil {
		return nil, err
	}

	snap := newSnapshot(cloud.Azure)
	snap.System = doc.Compute
	for _, ifc := range doc.Network.Interface {
		mac := NormalizeMAC(ifc.MACAddress)
		addrs := network.NewAddressSet()
		if len(ifc.IPv4.Subnet) > 0 {
			prefix := ifc.IPv4.Subnet[0].Prefix
			for _, ip := range ifc.IPv4.IPAddress {
				if ip.PrivateIPAddress == "" {
					continue
				}
				addrs[cidr(ip.PrivateIPAddress, prefix)] = true
			}
		}
		snap.Interfaces[mac] = Interface{
			MAC:       mac,
			Addresses: addrs,
			Document:  ifc,
		}
	}
	return snap, nil
}
