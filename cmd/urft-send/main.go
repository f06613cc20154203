// Command urft-send sends one file to a urft receiver over UDP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/arqfile/urft/metrics"
	"github.com/arqfile/urft/session"
	"github.com/arqfile/urft/transport"
	"github.com/arqfile/urft/urftcfg"
	"github.com/arqfile/urft/urftlog"
	"github.com/arqfile/urft/wire"
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	var debug bool
	var metricsAddr string

	flag.StringVar(&configPath, "config", "", "path to a TOML configuration file")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "bind a Prometheus /metrics exporter at this address")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <file> <host> <port>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 3 {
		flag.Usage()
		return 1
	}
	path := flag.Arg(0)
	host := flag.Arg(1)
	port, err := strconv.Atoi(flag.Arg(2))
	if err != nil {
		fmt.Fprintf(os.Stderr, "urft-send: invalid port %q: %v\n", flag.Arg(2), err)
		return 1
	}

	cfg, err := loadConfig(configPath, debug, metricsAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "urft-send: %v\n", err)
		return 1
	}

	if _, err := os.Stat(path); err != nil {
		fmt.Fprintf(os.Stderr, "urft-send: %v\n", err)
		return 1
	}

	logger := urftlog.New(cfg)

	var reg *metrics.Registry
	if cfg.Metrics.Enable {
		reg = metrics.NewRegistry()
		srv, err := reg.Serve(cfg.Metrics.Address)
		if err != nil {
			fmt.Fprintf(os.Stderr, "urft-send: %v\n", err)
			return 2
		}
		defer metrics.Shutdown(context.Background(), srv)
	}

	sock, err := transport.Dial(host, port, wire.MaxDatagramSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "urft-send: %v\n", err)
		return 2
	}
	defer sock.Close()

	sess := session.NewSenderSession(cfg, sock, path, urftlog.Component(logger, "session"), reg)
	summary, err := sess.Run(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "urft-send: %v\n", err)
		return 2
	}

	fmt.Print(summary.String())
	return 0
}

func loadConfig(path string, debug bool, metricsAddr string) (*urftcfg.Config, error) {
	var cfg *urftcfg.Config
	var err error
	if path != "" {
		cfg, err = urftcfg.Load(path)
	} else {
		cfg = urftcfg.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if debug {
		cfg.Logging.Debug = true
	}
	if metricsAddr != "" {
		cfg.Metrics.Enable = true
		cfg.Metrics.Address = metricsAddr
	}
	return cfg, nil
}
