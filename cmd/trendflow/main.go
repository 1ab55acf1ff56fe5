package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pratik1724/trendflow"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "export":
		err = exportCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("trendflow %s: %v", cmd, err)
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "./config.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := trendflow.LoadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rt, err := trendflow.NewRuntime(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return rt.Run(ctx)
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "./config.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := trendflow.LoadConfig(*cfgPath); err != nil {
		return err
	}
	fmt.Printf("config %s looks good\n", *cfgPath)
	return nil
}

func exportCommand(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	cfgPath := fs.String("config", "./config.yaml", "Path to configuration file")
	out := fs.String("out", "-", "Output file, or - for stdout")
	since := fs.Duration("since", time.Hour, "Export window ending now")
	startStr := fs.String("start", "", "Window start (RFC 3339, overrides -since)")
	endStr := fs.String("end", "", "Window end (RFC 3339, defaults to now)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := trendflow.LoadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	end := time.Now()
	if *endStr != "" {
		if end, err = time.Parse(time.RFC3339, *endStr); err != nil {
			return fmt.Errorf("parse -end: %w", err)
		}
	}
	start := end.Add(-*since)
	if *startStr != "" {
		if start, err = time.Parse(time.RFC3339, *startStr); err != nil {
			return fmt.Errorf("parse -start: %w", err)
		}
	}
	if !start.Before(end) {
		return fmt.Errorf("window start %s is not before end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src, closeSource, err := trendflow.OpenSource(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := closeSource(closeCtx); cerr != nil {
			fmt.Fprintf(os.Stderr, "close source: %v\n", cerr)
		}
	}()

	w := os.Stdout
	if *out != "-" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	return trendflow.ExportCSV(ctx, w, src, cfg, start, end)
}

func printUsage() {
	fmt.Println(`Usage: trendflow <command> [flags]

Commands:
  run       Start the sync engine and HTTP surface
  validate  Check a configuration file without starting anything
  export    Fetch aggregates for the configured metrics and write CSV
  help      Show this message

Run "trendflow <command> -h" for command flags.`)
}
