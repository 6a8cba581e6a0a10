// Package metadata fetches per-interface network descriptions from the
// hosting cloud's link-local metadata service and normalizes them by MAC.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"grimm.is/cloudnet/internal/cloud"
	"grimm.is/cloudnet/internal/network"
)

// ErrUnsupportedProvider is returned by New for clouds without an adapter.
var ErrUnsupportedProvider = errors.New("unsupported cloud provider")

// DefaultTimeout bounds a whole metadata round trip.
const DefaultTimeout = 10 * time.Second

// Interface is the desired state for one MAC.
type Interface struct {
	MAC       string             `json:"mac"`
	Addresses network.AddressSet `json:"addresses"`
	Gateway   net.IP             `json:"gateway,omitempty"`
	MTU       int                `json:"mtu,omitempty"`

	// Document is the provider's own description of the interface,
	// persisted as the per-link state file.
	Document any `json:"-"`
}

// Snapshot is the normalized result of one fetch.
type Snapshot struct {
	Provider   cloud.Kind           `json:"provider"`
	System     any                  `json:"system"`
	Interfaces map[string]Interface `json:"interfaces"`
}

func newSnapshot(kind cloud.Kind) *Snapshot {
	return &Snapshot{Provider: kind, Interfaces: make(map[string]Interface)}
}

// Lookup returns the interface description for mac, in any MAC spelling.
func (s *Snapshot) Lookup(mac string) (Interface, bool) {
	if s == nil {
		return Interface{}, false
	}
	iface, ok := s.Interfaces[NormalizeMAC(mac)]
	return iface, ok
}

// Adapter is implemented once per cloud.
type Adapter interface {
	Kind() cloud.Kind
	Fetch(ctx context.Context) (*Snapshot, error)
}

// Options configures the adapters. Zero values select the production
// endpoints.
type Options struct {
	HTTPClient *http.Client
	Timeout    time.Duration

	AzureEndpoint   string
	AzureAPIVersion string

	EC2Endpoint    string
	EC2IMDSVersion int

	GCPEndpoint string
}

func (o Options) client() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// New returns the adapter for kind.
func New(kind cloud.Kind, opts Options) (Adapter, error) {
	switch kind {
	case cloud.Azure:
		return NewAzure(opts), nil
	case cloud.AWS:
		return NewEC2(opts), nil
	case cloud.GCP:
		return NewGCP(opts), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, kind)
}

// NormalizeMAC lowercases a MAC and rewrites it with colon separators.
// Azure reports MACs as bare hex ("000D3A112233") and some tools use dashes.
func NormalizeMAC(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", ":")
	if len(s) == 12 && !strings.Contains(s, ":") {
		var b strings.Builder
		for i := 0; i < 12; i += 2 {
			if i > 0 {
				b.WriteByte(':')
			}
			b.WriteString(s[i : i+2])
		}
		return b.String()
	}
	return s
}

// MaskToPrefix converts a dotted netmask into a prefix length. Malformed
// masks fall back to /24.
func MaskToPrefix(mask string) int {
	ip := net.ParseIP(strings.TrimSpace(mask)).To4()
	if ip == nil {
		return 24
	}
	ones, bits := net.IPMask(ip).Size()
	if bits == 0 {
		// non-contiguous mask: count set bits
		ones = 0
		for _, b := range ip {
			for ; b != 0; b &= b - 1 {
				ones++
			}
		}
	}
	return ones
}

func cidr(ip string, prefix string) string {
	return strings.TrimSpace(ip) + "/" + strings.TrimSpace(prefix)
}

func getJSON(ctx context.Context, client *http.Client, url string, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("metadata request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("metadata service returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode metadata: %w", err)
	}
	return nil
}

func itoa(i int) string { return strconv.Itoa(i) }
