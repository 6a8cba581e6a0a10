package config

import (
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

// Render writes cfg as canonical HCL. Every setting is emitted, so two
// renders can be diffed line by line.
func Render(cfg *Config) []byte {
	f := hclwrite.NewEmptyFile()
	root := f.Body()

	block := func(name string) *hclwrite.Body {
		b := root.AppendNewBlock(name, nil).Body()
		return b
	}

	b := block("logging")
	b.SetAttributeValue("level", cty.StringVal(cfg.Logging.Level))
	b.SetAttributeValue("format", cty.StringVal(cfg.Logging.Format))
	b.SetAttributeValue("timestamps", cty.BoolVal(cfg.Logging.Timestamps))
	root.AppendNewline()

	b = block("server")
	b.SetAttributeValue("address", cty.StringVal(cfg.Server.Address))
	b.SetAttributeValue("port", cty.NumberIntVal(int64(cfg.Server.Port)))
	root.AppendNewline()

	b = block("metadata")
	b.SetAttributeValue("refresh_interval", cty.StringVal(cfg.Metadata.RefreshInterval))
	b.SetAttributeValue("request_timeout", cty.StringVal(cfg.Metadata.RequestTimeout))
	root.AppendNewline()

	b = block("network")
	b.SetAttributeValue("supplementary_interfaces", stringList(cfg.Network.SupplementaryInterfaces))
	b.SetAttributeValue("route_table_base", cty.NumberIntVal(int64(cfg.Network.RouteTableBase)))
	root.AppendNewline()

	b = block("cloud")
	b.SetAttributeValue("auto_detect", cty.BoolVal(cfg.Cloud.AutoDetect))
	b.SetAttributeValue("provider", cty.StringVal(cfg.Cloud.Provider))
	b.SetAttributeValue("azure_api_version", cty.StringVal(cfg.Cloud.AzureAPIVersion))
	b.SetAttributeValue("aws_imds_version", cty.NumberIntVal(int64(cfg.Cloud.AWSIMDSVersion)))
	root.AppendNewline()

	b = block("security")
	b.SetAttributeValue("user", cty.StringVal(cfg.Security.User))
	b.SetAttributeValue("watchdog", cty.BoolVal(cfg.Security.Watchdog))
	b.SetAttributeValue("watchdog_interval", cty.StringVal(cfg.Security.WatchdogInterval))
	root.AppendNewline()

	b = block("state")
	b.SetAttributeValue("directory", cty.StringVal(cfg.State.Directory))
	b.SetAttributeValue("persist_metadata", cty.BoolVal(cfg.State.PersistMetadata))
	root.AppendNewline()

	b = block("features")
	b.SetAttributeValue("network_events", cty.BoolVal(cfg.Features.NetworkEvents))
	b.SetAttributeValue("cleanup_stale", cty.BoolVal(cfg.Features.CleanupStale))
	b.SetAttributeValue("ipv6", cty.BoolVal(cfg.Features.IPv6))
	b.SetAttributeValue("health_check", cty.BoolVal(cfg.Features.HealthCheck))
	b.SetAttributeValue("gateway_probe", cty.BoolVal(cfg.Features.GatewayProbe))

	return hclwrite.Format(f.Bytes())
}

func stringList(ss []string) cty.Value {
	if len(ss) == 0 {
		return cty.ListValEmpty(cty.String)
	}
	vals := make([]cty.Value, len(ss))
	for i, s := range ss {
		vals[i] = cty.StringVal(s)
	}
	return cty.ListVal(vals)
}
