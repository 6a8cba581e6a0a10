package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/natefinch/atomic"
	"github.com/olekukonko/tablewriter"
	"github.com/pmezard/go-difflib/difflib"

	"grimm.is/cloudnet/internal/brand"
	"grimm.is/cloudnet/internal/config"
	"grimm.is/cloudnet/internal/system"
)

// ApplyOptions controls RunApply.
type ApplyOptions struct {
	// Source is the candidate configuration file.
	Source string
	// Target is the active configuration path the daemon reads.
	Target string
	DryRun bool
	// PIDFile of the daemon to signal after installing.
	PIDFile string
}

// RunApply validates a candidate configuration, prints a summary and a
// diff against the active one, then installs it and asks the daemon to
// reload.
func RunApply(out io.Writer, opts ApplyOptions) error {
	next, err := config.LoadFile(opts.Source)
	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	Printer.Fprintf(out, "Configuration is valid: %s\n", opts.Source)
	printConfigSummary(out, next)

	current, err := config.Load(opts.Target)
	if err != nil {
		return fmt.Errorf("failed to load active configuration: %w", err)
	}

	diff, err := configDiff(current.Config, next, opts.Target, opts.Source)
	if err != nil {
		return err
	}
	if diff == "" {
		Printer.Fprintf(out, "No changes.\n")
	} else {
		fmt.Fprint(out, diff)
	}

	if opts.DryRun {
		Printer.Fprintf(out, "Dry run: configuration not installed.\n")
		return nil
	}
	if diff == "" {
		return nil
	}

	data, err := installable(next, opts.Source, opts.Target)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(opts.Target), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(opts.Target), err)
	}
	if err := atomic.WriteFile(opts.Target, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to install configuration: %w", err)
	}
	if err := os.Chmod(opts.Target, 0644); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", opts.Target, err)
	}
	Printer.Fprintf(out, "Configuration installed to %s\n", opts.Target)

	pidFile := opts.PIDFile
	if pidFile == "" {
		pidFile = brand.PIDFile()
	}
	pid, err := system.SignalPIDFile(pidFile, syscall.SIGHUP)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("installed, but failed to signal daemon: %w", err)
	}
	Printer.Fprintf(out, "Reload signal sent to pid %d\n", pid)
	return nil
}

// installable returns the bytes to write at target. Files of the same
// format are copied verbatim; anything else is rendered as HCL, which
// requires an HCL target.
func installable(cfg *config.Config, source, target string) ([]byte, error) {
	srcExt := strings.ToLower(filepath.Ext(source))
	dstExt := strings.ToLower(filepath.Ext(target))
	if srcExt == dstExt {
		return os.ReadFile(source)
	}
	if dstExt == ".hcl" || dstExt == "" {
		return config.Render(cfg), nil
	}
	return nil, fmt.Errorf("cannot install %s configuration as %s", srcExt, target)
}

// configDiff returns a unified diff of the canonical renderings of a and
// b, or "" when they are equivalent.
func configDiff(a, b *config.Config, aName, bName string) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(config.Render(a))),
		B:        difflib.SplitLines(string(config.Render(b))),
		FromFile: aName,
		ToFile:   bName,
		Context:  3,
	})
}

func printConfigSummary(out io.Writer, cfg *config.Config) {
	provider := cfg.Cloud.Provider
	if cfg.Cloud.AutoDetect {
		provider = "auto"
	}
	supplementary := strings.Join(cfg.Network.SupplementaryInterfaces, ", ")
	if supplementary == "" {
		supplementary = "-"
	}

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Setting", "Value"})
	table.AppendBulk([][]string{
		{"provider", provider},
		{"refresh interval", cfg.RefreshInterval().String()},
		{"route table base", strconv.Itoa(cfg.Network.RouteTableBase)},
		{"supplementary interfaces", supplementary},
		{"listen", cfg.ListenAddr()},
		{"state directory", cfg.State.Directory},
		{"cleanup stale", strconv.FormatBool(cfg.Features.CleanupStale)},
		{"gateway probe", strconv.FormatBool(cfg.Features.GatewayProbe)},
	})
	table.Render()
}
