// levelfs mounts a hierarchical key-value store as a directory tree.
//
// Namespaces appear as directories and keys as regular files. The store is
// a local badger directory, created on first use, or an S3 bucket given as
// s3://bucket/prefix.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/levelfs/levelfs/internal/adapter"
	"github.com/levelfs/levelfs/internal/config"
	"github.com/levelfs/levelfs/pkg/utils"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// shutdownTimeout bounds the flush of open handles after unmount.
const shutdownTimeout = 30 * time.Second

type options struct {
	foreground  bool
	configFile  string
	debug       bool
	mountOpts   []string
	metricsAddr string
	version     bool
	help        bool

	storePath  string
	mountPoint string
}

// usageError marks errors caused by the command line itself.
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, flagSet, err := parseArgs(args)
	if err != nil {
		fmt.Fprintf(stderr, "levelfs: %v\n", err)
		printUsage(stderr, flagSet)
		return exitUsage
	}
	if opts.help {
		printUsage(stdout, flagSet)
		return exitOK
	}
	if opts.version {
		fmt.Fprintf(stdout, "levelfs %s\n", version)
		return exitOK
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "levelfs: %v\n", err)
		var usage usageError
		if errors.As(err, &usage) {
			return exitUsage
		}
		return exitFailure
	}

	logger, closer, err := utils.SetupLogging(cfg.LoggingConfig())
	if err != nil {
		fmt.Fprintf(stderr, "levelfs: failed to set up logging: %v\n", err)
		return exitFailure
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := adapter.New(ctx, opts.storePath, opts.mountPoint, cfg, logger)
	if err != nil {
		logger.Error("invalid startup parameters", "error", err)
		fmt.Fprintf(stderr, "levelfs: %v\n", err)
		return exitFailure
	}
	if err := a.Start(ctx); err != nil {
		logger.Error("failed to start", "error", err)
		fmt.Fprintf(stderr, "levelfs: %v\n", err)
		return exitFailure
	}

	select {
	case <-a.Done():
		logger.Info("filesystem unmounted externally")
	case <-ctx.Done():
		logger.Info("signal received, unmounting")
		if err := a.Unmount(); err != nil {
			logger.Error("unmount failed", "error", err)
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Stop(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
		return exitFailure
	}
	return exitOK
}

func newFlagSet(opts *options) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("levelfs", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.SortFlags = false

	flagSet.BoolVarP(&opts.foreground, "foreground", "f", false, "run in the foreground (levelfs never daemonizes)")
	flagSet.StringVarP(&opts.configFile, "config", "c", "", "YAML configuration file")
	flagSet.BoolVarP(&opts.debug, "debug", "d", false, "log every FUSE request and set the log level to DEBUG")
	flagSet.StringSliceVarP(&opts.mountOpts, "options", "o", nil, "comma separated mount options")
	flagSet.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on host:port")
	flagSet.BoolVarP(&opts.version, "version", "V", false, "print the version and exit")
	flagSet.BoolVarP(&opts.help, "help", "h", false, "show this help")
	return flagSet
}

func parseArgs(args []string) (*options, *pflag.FlagSet, error) {
	opts := &options{}
	flagSet := newFlagSet(opts)
	if err := flagSet.Parse(args); err != nil {
		return nil, flagSet, err
	}
	if opts.help || opts.version {
		return opts, flagSet, nil
	}

	rest := flagSet.Args()
	if len(rest) != 2 {
		return nil, flagSet, fmt.Errorf("expected <store-path> <mount-point>, got %d argument(s)", len(rest))
	}
	opts.storePath, opts.mountPoint = rest[0], rest[1]
	return opts, flagSet, nil
}

// loadConfig applies defaults, the config file, the environment and the
// command line, in that order.
func loadConfig(opts *options) (*config.Configuration, error) {
	cfg := config.NewDefault()
	if opts.configFile != "" {
		if err := cfg.LoadFromFile(opts.configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	for _, o := range opts.mountOpts {
		if err := cfg.ApplyMountOptions(o); err != nil {
			return nil, usageError{err}
		}
	}
	if opts.debug {
		cfg.Mount.Debug = true
		cfg.Global.LogLevel = "DEBUG"
	}
	if opts.metricsAddr != "" {
		cfg.Global.MetricsAddr = opts.metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func printUsage(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `levelfs mounts a key-value store as a directory tree.

Usage:
  levelfs [flags] <store-path> <mount-point>

The store path is a directory holding a badger database, created if
missing, or s3://bucket[/prefix] for an S3 bucket.

Flags:
`)
	if flagSet != nil {
		fmt.Fprint(w, flagSet.FlagUsages())
	}
	fmt.Fprintf(w, `
Mount options (-o):
  ro                 mount read-only
  rw                 mount read-write (default)
  allow_other        allow access by other users
  debug              log every FUSE request
  fsname=NAME        file system name shown in the mount table
  uid=N, gid=N       owner of every file and directory
  other options are passed to the kernel unchanged

Environment variables LEVELFS_* override the configuration file.
`)
}
