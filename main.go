package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"grimm.is/cloudnet/cmd"
	"grimm.is/cloudnet/internal/brand"
	"grimm.is/cloudnet/internal/config"
)

var printer = cmd.Printer

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "daemon":
		daemonFlags := flag.NewFlagSet("daemon", flag.ExitOnError)
		configFile := daemonFlags.String("config", config.Path(), "Configuration file")
		daemonFlags.StringVar(configFile, "c", config.Path(), "Configuration file (short)")
		daemonFlags.Parse(os.Args[2:])

		if err := cmd.RunDaemon(*configFile); err != nil {
			printer.Fprintf(os.Stderr, "Daemon failed: %v\n", err)
			if errors.Is(err, cmd.ErrUnsupported) {
				os.Exit(1)
			}
			os.Exit(2)
		}

	case "status":
		statusFlags := flag.NewFlagSet("status", flag.ExitOnError)
		configFile := statusFlags.String("config", config.Path(), "Configuration file")
		statusFlags.StringVar(configFile, "c", config.Path(), "Configuration file (short)")
		statusFlags.Parse(os.Args[2:])

		target, err := cmd.ParseStatusTarget(statusFlags.Arg(0))
		if err != nil {
			printer.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		err = cmd.RunStatus(ctx, os.Stdout, *configFile, target)
		stop()
		if err != nil {
			printer.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}

	case "apply":
		applyFlags := flag.NewFlagSet("apply", flag.ExitOnError)
		configFile := applyFlags.String("config", "", "Candidate configuration file")
		applyFlags.StringVar(configFile, "c", "", "Candidate configuration file (short)")
		target := applyFlags.String("target", config.Path(), "Active configuration path")
		dryRun := applyFlags.Bool("dry-run", false, "Validate and diff without installing")
		applyFlags.BoolVar(dryRun, "n", false, "Dry run (short)")
		applyFlags.Parse(os.Args[2:])

		if *configFile == "" {
			printer.Fprintf(os.Stderr, "Apply failed: %v\n", "-c <file> is required")
			os.Exit(1)
		}
		err := cmd.RunApply(os.Stdout, cmd.ApplyOptions{
			Source: *configFile,
			Target: *target,
			DryRun: *dryRun,
		})
		if err != nil {
			printer.Fprintf(os.Stderr, "Apply failed: %v\n", err)
			os.Exit(1)
		}

	case "reload":
		reloadFlags := flag.NewFlagSet("reload", flag.ExitOnError)
		configFile := reloadFlags.String("config", config.Path(), "Configuration file")
		reloadFlags.StringVar(configFile, "c", config.Path(), "Configuration file (short)")
		force := reloadFlags.Bool("force", false, "Signal the daemon without validating")
		reloadFlags.Parse(os.Args[2:])

		if err := cmd.RunReload(os.Stdout, *configFile, brand.PIDFile(), *force); err != nil {
			printer.Fprintf(os.Stderr, "Reload failed: %v\n", err)
			os.Exit(1)
		}

	case "version", "-v", "--version":
		fmt.Printf("%s %s (commit %s, built %s)\n", brand.Name, brand.Version, brand.GitCommit, brand.BuildTime)

	case "help", "-h", "--help":
		printUsage()

	default:
		printer.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printer.Fprintf(os.Stderr, "Usage: %s <command> [options]\n", brand.BinaryName)
	fmt.Fprint(os.Stderr, `
Commands:
  daemon  [-c file]                   Run the reconciler
  status  [-c file] [system|network|all]
                                      Show daemon, metadata and network state
  apply   -c file [--target path] [--dry-run]
                                      Validate, diff and install a configuration
  reload  [-c file] [--force]         Validate and ask the daemon to reload
  version                             Print version information
`)
}
