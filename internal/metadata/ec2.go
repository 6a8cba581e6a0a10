package metadata

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"

	"grimm.is/cloudnet/internal/cloud"
	"grimm.is/cloudnet/internal/network"
)

const defaultEC2SubnetCIDR = "10.0.0.0/24"

// EC2System is the instance summary saved as the aggregate state file.
type EC2System struct {
	InstanceID   string `json:"instance_id"`
	InstanceType string `json:"instance_type"`
	LocalIPv4    string `json:"local_ipv4"`
	PublicIPv4   string `json:"public_ipv4,omitempty"`
}

// EC2MacData is the per-interface record saved as the per-link state file.
type EC2MacData struct {
	MAC                 string   `json:"mac"`
	LocalIPv4s          []string `json:"local_ipv4s"`
	SubnetIPv4CIDRBlock string   `json:"subnet_ipv4_cidr_block"`
}

// ec2MetadataAPI is the part of the IMDS client we use.
type ec2MetadataAPI interface {
	GetMetadata(ctx context.Context, params *imds.GetMetadataInput, optFns ...func(*imds.Options)) (*imds.GetMetadataOutput, error)
}

// EC2 reads the EC2 Instance Metadata Service.
type EC2 struct {
	svc ec2MetadataAPI
}

// NewEC2 creates the EC2 adapter. IMDS version 1 allows falling back to
// tokenless requests; anything else requires a session token.
func NewEC2(opts Options) *EC2 {
	fallback := aws.FalseTernary
	if opts.EC2IMDSVersion == 1 {
		fallback = aws.TrueTernary
	}
	client := imds.New(imds.Options{
		Endpoint:       opts.EC2Endpoint,
		EnableFallback: fallback,
		HTTPClient:     opts.client(),
	})
	return &EC2{svc: client}
}

func (e *EC2) Kind() cloud.Kind { return cloud.AWS }

func (e *EC2) get(ctx context.Context, path string) (string, error) {
	out, err := e.svc.GetMetadata(ctx, &imds.GetMetadataInput{Path: path})
	if err != nil {
		return "", fmt.Errorf("imds %s: %w", path, err)
	}
	defer out.Content.Close()

	data, err := io.ReadAll(out.Content)
	if err != nil {
		return "", fmt.Errorf("imds %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func lines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// Fetch walks network/interfaces/macs/. Addresses take the prefix of the
// interface's subnet CIDR block.
func (e *EC2) Fetch(ctx context.Context) (*Snapshot, error) {
	macList, err := e.get(ctx, "network/interfaces/macs/")
	if err != nil {
		return nil, err
	}

	snap := newSnapshot(cloud.AWS)
	sys := EC2System{}
	sys.InstanceID, _ = e.get(ctx, "instance-id")
	sys.InstanceType, _ = e.get(ctx, "instance-type")
	sys.LocalIPv4, _ = e.get(ctx, "local-ipv4")
	sys.PublicIPv4, _ = e.get(ctx, "public-ipv4")
	snap.System = sys

	for _, entry := range lines(macList) {
		mac := strings.TrimSuffix(entry, "/")
		base := "network/interfaces/macs/" + mac + "/"

		// An interface with an unreadable address list is not reported
		// as having none; that would retract every address it carries.
		local, err := e.get(ctx, base+"local-ipv4s")
		if err != nil {
			return nil, fmt.Errorf("interface %s addresses: %w", mac, err)
		}
		block, err := e.get(ctx, base+"subnet-ipv4-cidr-block")
		if err != nil || block == "" {
			block = defaultEC2SubnetCIDR
		}

		prefix := "24"
		if i := strings.IndexByte(block, '/'); i >= 0 {
			prefix = block[i+1:]
		}

		data := EC2MacData{MAC: mac, LocalIPv4s: lines(local), SubnetIPv4CIDRBlock: block}
		addrs := network.NewAddressSet()
		for _, ip := range data.LocalIPv4s {
			addrs[cidr(ip, prefix)] = true
		}

		norm := NormalizeMAC(mac)
		snap.Interfaces[norm] = Interface{MAC: norm, Addresses: addrs, Document: data}
	}
	return snap, nil
}
