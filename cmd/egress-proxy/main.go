// Copyright (c) Prism Proxy
// SPDX-License-Identifier: Apache-2.0
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"strings"

	mglog "github.com/absmach/supermq/logger"
	"github.com/caarlos0/env/v11"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/prismproxy/prism/internal/server"
	"github.com/prismproxy/prism/pkg/egress"
	"github.com/prismproxy/prism/pkg/peertls"
)

const svcName = "egress-proxy"

type config struct {
	Level   string `env:"PRISM_LOG_LEVEL"    envDefault:"info"`
	Port    string `env:"PRISM_PROXY_PORT"   envDefault:"3128"`
	Backend string `env:"PRISM_TLS_BACKEND"  envDefault:"std"`
	// OutgoingTLS is a whitespace-separated list of tls- directives for
	// outgoing peer connections, e.g.
	// "cert=/etc/prism/client.pem min-version=1.2 options=NO_TICKET".
	OutgoingTLS string `env:"PRISM_OUTGOING_TLS" envDefault:""`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %s\n", err)
		os.Exit(1)
	}

	var dumpConfig bool

	cmd := &cobra.Command{
		Use:   svcName,
		Short: "Egress proxy with configurable outbound TLS",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg, dumpConfig)
		},
	}

	pflag.StringVar(&cfg.Level, "log-level", cfg.Level, "Log level")
	pflag.StringVar(&cfg.Port, "port", cfg.Port, "Proxy port")
	pflag.StringVar(&cfg.Backend, "tls-backend", cfg.Backend, "TLS backend (std or restricted)")
	pflag.StringVar(&cfg.OutgoingTLS, "outgoing-tls", cfg.OutgoingTLS, "Outgoing TLS directives")
	pflag.BoolVar(&dumpConfig, "dump-config", false, "Print the effective outgoing TLS configuration and exit")
	cmd.Flags().AddFlagSet(pflag.CommandLine)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run(cfg config, dumpConfig bool) error {
	logger, err := mglog.New(os.Stdout, cfg.Level)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	backend, err := peertls.SelectBackend(cfg.Backend)
	if err != nil {
		return fmt.Errorf("failed to select TLS backend: %w", err)
	}

	opts := peertls.NewPeerOptions(logger, backend)
	if err := opts.ParseAll(strings.Fields(cfg.OutgoingTLS)); err != nil {
		return fmt.Errorf("failed to parse outgoing TLS configuration: %w", err)
	}

	if dumpConfig {
		var sb strings.Builder
		opts.DumpCfg(&sb, "tls-")
		color.New(color.FgGreen).Println(strings.TrimSpace(sb.String()))
		return nil
	}

	tlsCtx, err := opts.CreateClientContext(true)
	if err != nil {
		return fmt.Errorf("failed to create outgoing TLS context: %w", err)
	}

	proxy := egress.NewProxy(logger, ":"+cfg.Port, tlsConfig(tlsCtx))
	if tlsCtx != nil {
		logger.Info(fmt.Sprintf("outgoing TLS enabled, backend %s, context %s", backend.Name(), tlsCtx.ID()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return proxy.Start()
	})

	g.Go(func() error {
		return server.StopHandler(ctx, cancel, logger, svcName, proxy)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server exit with error: %w", err)
	}

	return nil
}

func tlsConfig(ctx *peertls.Context) *tls.Config {
	if ctx == nil {
		return nil
	}
	return ctx.Config()
}
