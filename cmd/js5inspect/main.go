// js5inspect fetches groups from an archive server and prints what they hold.
//
// Usage:
//
//	js5inspect [flags] index <archive>
//	js5inspect [flags] group <archive> <group>
//	js5inspect [flags] model <archive> <group> [file]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/pflag"

	"github.com/meigma/js5"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one command and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if err := execute(ctx, args, stdout, stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var (
		configPath string
		verbose    bool
		flagCfg    Config
		output     string
	)
	flagSet := pflag.NewFlagSet("js5inspect", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&configPath, "config", "c", "", "YAML config file")
	flagSet.StringVar(&flagCfg.BaseURL, "base-url", "", "archive server base URL")
	flagSet.StringVar(&flagCfg.Game, "game", "", "game name")
	flagSet.IntVar(&flagCfg.CacheVersion, "cache-version", 0, "cache version")
	flagSet.StringVar(&flagCfg.CacheDir, "cache-dir", "", "directory for cached groups")
	flagSet.IntVar(&flagCfg.MaxInFlight, "max-in-flight", 0, "maximum concurrent downloads")
	flagSet.BoolVar(&flagCfg.LZMA, "lzma", false, "decode LZMA (tag 3) groups")
	flagSet.StringVarP(&output, "output", "o", "", "write the decoded group payload to this file (group command)")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log requests to stderr")
	flagSet.Usage = func() { printUsage(stderr, flagSet) }

	if err := flagSet.Parse(args); err != nil {
		return err
	}

	cfg := Default()
	if configPath != "" {
		if err := cfg.LoadFile(configPath); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}
	cfg.Merge(flagCfg)

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	client, err := cfg.NewClient(js5.WithLogger(logger))
	if err != nil {
		return err
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		printUsage(stderr, flagSet)
		return errors.New("missing command")
	}
	cmd := command{ctx: ctx, client: client, out: stdout, output: output}
	switch rest[0] {
	case "index":
		return cmd.index(rest[1:])
	case "group":
		return cmd.group(rest[1:])
	case "model":
		return cmd.model(rest[1:])
	default:
		return fmt.Errorf("unknown command %q", rest[0])
	}
}

func printUsage(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprint(w, `js5inspect fetches groups from an archive server and prints what they hold.

Usage:
  js5inspect [flags] index <archive>
  js5inspect [flags] group <archive> <group>
  js5inspect [flags] model <archive> <group> [file]

Flags:
`)
	fmt.Fprint(w, flagSet.FlagUsages())
}
