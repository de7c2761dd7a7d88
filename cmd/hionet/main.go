// File: cmd/hionet/main.go
// License: Apache-2.0

// Command hionet exercises the engine from the command line.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/control"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var version = "dev"

type globalFlags struct {
	verbose     bool
	v6          bool
	metricsAddr string
}

func main() {
	var g globalFlags
	rootCmd := &cobra.Command{
		Use:           "hionet",
		Short:         "Single-reactor TCP/UDP engine playground",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.SetHandler(cli.Default)
			if g.verbose {
				log.SetLevel(log.DebugLevel)
			}
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Enable verbose log output")
	rootCmd.PersistentFlags().BoolVarP(&g.v6, "ipv6", "6", false, "Use IPv6 sockets")
	rootCmd.PersistentFlags().StringVar(&g.metricsAddr, "metrics", "", "Expose Prometheus metrics on this address")

	rootCmd.AddCommand(
		serveCmd(&g),
		connectCmd(&g),
		udpCmd(&g),
		resolveCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("hionet")
		os.Exit(1)
	}
}

// baseConfig applies the global flags to the default config.
func (g *globalFlags) baseConfig() api.Config {
	cfg := api.DefaultConfig()
	if g.v6 {
		cfg.Family = api.FamilyIPv6
	}
	return cfg
}

// metrics builds the engine collectors and, when requested, serves them.
func (g *globalFlags) metrics() (*control.Metrics, error) {
	reg := prometheus.NewRegistry()
	m, err := control.NewMetrics(control.WithRegistry(reg))
	if err != nil {
		return nil, err
	}
	if g.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(g.metricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Warn("metrics server")
			}
		}()
		log.Infof("metrics on http://%s/metrics", g.metricsAddr)
	}
	return m, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
