/*
anima boots the resource engine from a TOML config, preloads the assets
given as arguments and keeps ticking until it receives a signal.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/spaghettifunk/anima-resources/engine"
	"github.com/spaghettifunk/anima-resources/engine/config"
	"github.com/spaghettifunk/anima-resources/testbed"
)

type options struct {
	configPath string
	logLevel   string
	metrics    string
	mounts     []string
	report     time.Duration
	once       bool
	preload    []string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func parseFlags(errOut io.Writer, args []string) (options, error) {
	flagSet := flag.NewFlagSet("anima", flag.ContinueOnError)
	flagSet.SetOutput(errOut)

	var o options
	flagSet.StringVarP(&o.configPath, "config", "c", "", "Path to a TOML config file")
	flagSet.StringVar(&o.logLevel, "log-level", "", "Override logging.level")
	flagSet.StringVar(&o.metrics, "metrics-listen", "", "Serve Prometheus metrics on this address")
	flagSet.StringArrayVarP(&o.mounts, "mount", "m", nil, "Mount a directory as id=path (repeatable)")
	flagSet.DurationVar(&o.report, "report", 10*time.Second, "Worker status report interval, 0 disables it")
	flagSet.BoolVar(&o.once, "once", false, "Preload and exit instead of running the tick loop")

	if err := flagSet.Parse(args); err != nil {
		return options{}, err
	}
	o.preload = flagSet.Args()
	return o, nil
}

func buildConfig(o options) (*config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return nil, err
		}
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.metrics != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = o.metrics
	}
	for _, m := range o.mounts {
		id, root, ok := strings.Cut(m, "=")
		if !ok {
			return nil, fmt.Errorf("--mount %q: expected id=path", m)
		}
		cfg.Mounts = append(cfg.Mounts, config.MountConfig{ID: id, Kind: config.KindDirectory, Root: root})
	}
	return cfg, cfg.Validate()
}

func run(args []string, errOut io.Writer) int {
	o, err := parseFlags(errOut, args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := buildConfig(o)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	// signal channel to capture system calls
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	e, err := engine.New(ctx, cfg)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	e.RegisterDefaults()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintln(errOut, "error: shutdown:", err)
		}
	}()

	if o.once {
		if err := e.Preload(ctx, o.preload...); err != nil {
			fmt.Fprintln(errOut, "error:", err)
			return 1
		}
		return 0
	}

	tb := testbed.NewTestGame(o.preload, o.report)
	if err := e.Run(ctx, tb.Game); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	return 0
}
