package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"grimm.is/cloudnet/internal/api"
	"grimm.is/cloudnet/internal/client"
	"grimm.is/cloudnet/internal/cloud"
	"grimm.is/cloudnet/internal/config"
	"grimm.is/cloudnet/internal/system"
)

// StatusTarget selects what `status` prints.
type StatusTarget string

const (
	StatusSystem  StatusTarget = "system"
	StatusNetwork StatusTarget = "network"
	StatusAll     StatusTarget = "all"
)

// ParseStatusTarget validates the positional argument of `status`.
func ParseStatusTarget(s string) (StatusTarget, error) {
	switch StatusTarget(s) {
	case "", StatusAll:
		return StatusAll, nil
	case StatusSystem, StatusNetwork:
		return StatusTarget(s), nil
	}
	return "", fmt.Errorf("unknown status target %q (want system, network or all)", s)
}

// RunStatus queries the daemon API and prints the selected view. When the
// daemon is unreachable the system view falls back to the saved state files.
func RunStatus(ctx context.Context, out io.Writer, configPath string, target StatusTarget) error {
	res, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg := res.Config
	c := client.NewHTTPClient(cfg.ListenAddr(), client.WithTimeout(cfg.RequestTimeout()))

	st, err := c.Status(ctx)
	if err != nil {
		Printer.Fprintf(out, "Daemon not reachable at %s: %v\n", cfg.ListenAddr(), err)
		if target == StatusNetwork {
			return err
		}
		return printSavedSystem(out, cfg)
	}

	if target == StatusAll {
		printSummary(out, st)
	}
	if target == StatusAll || target == StatusSystem {
		doc, err := c.System(ctx)
		if err != nil {
			return err
		}
		if err := printJSON(out, doc); err != nil {
			return err
		}
	}
	if target == StatusAll || target == StatusNetwork {
		n, err := c.Network(ctx)
		if err != nil {
			return err
		}
		printNetwork(out, n)
	}
	return nil
}

func printSavedSystem(out io.Writer, cfg *config.Config) error {
	kind, err := cloud.ParseKind(cfg.Cloud.Provider)
	if cfg.Cloud.AutoDetect || err != nil || kind == cloud.None {
		kind = cloud.Detect()
	}
	doc, err := system.NewStateWriter(cfg.State.Directory).ReadSystem(kind)
	if err != nil {
		Printer.Fprintf(out, "No state recorded for provider %s yet.\n", kind)
		return nil
	}
	return printJSON(out, doc)
}

func printSummary(out io.Writer, st *api.StatusResponse) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Status", "Provider", "Version", "Uptime", "Passes", "Last Pass", "Duration", "Error"})
	last := "-"
	if st.LastPass != nil {
		last = st.LastPass.Format(time.RFC3339)
	}
	table.Append([]string{
		st.Status,
		string(st.Provider),
		st.Version,
		st.Uptime,
		strconv.FormatUint(st.Passes, 10),
		last,
		st.Duration,
		st.LastError,
	})
	table.Render()
}

func printNetwork(out io.Writer, n *api.NetworkResponse) {
	links := tablewriter.NewWriter(out)
	links.SetHeader([]string{"Link", "Index", "MAC", "MTU", "State", "Driver", "Addresses", "Route Table", "Rule Table"})
	for _, l := range n.Links {
		links.Append([]string{
			l.Name,
			strconv.Itoa(l.Index),
			l.MAC,
			strconv.Itoa(l.MTU),
			l.OperState,
			l.Driver,
			strings.Join(l.Addresses, ", "),
			strconv.Itoa(l.RouteTable),
			strconv.Itoa(l.RuleTable),
		})
	}
	links.Render()

	if len(n.Routes) > 0 {
		routes := tablewriter.NewWriter(out)
		routes.SetHeader([]string{"Table", "Ifindex", "Gateway"})
		for _, r := range n.Routes {
			routes.Append([]string{strconv.Itoa(r.Table), strconv.Itoa(r.LinkIndex), r.Gw.String()})
		}
		routes.Render()
	}

	if len(n.Rules) > 0 {
		rules := tablewriter.NewWriter(out)
		rules.SetHeader([]string{"Rule"})
		for _, r := range n.Rules {
			rules.Append([]string{r.String()})
		}
		rules.Render()
	}
}

func printJSON(out io.Writer, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("failed to format system document: %w", err)
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(out)
	return err
}
