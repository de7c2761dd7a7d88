// File: cmd/hionet/connect.go
// License: Apache-2.0

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/apex/log"
	"github.com/momentics/hioload-net/adapters"
	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/engine"
	"github.com/momentics/hioload-net/resolver"
	"github.com/spf13/cobra"
)

func connectCmd(g *globalFlags) *cobra.Command {
	var (
		data     string
		httpMode bool
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "connect HOST PORT",
		Short: "Connect, send --data and print what comes back",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addrs, err := resolver.Resolve(args[0], args[1], timeout)
			if err != nil {
				return err
			}
			cfg := g.baseConfig()
			cfg.IsHTTP = httpMode
			cfg.Timeout = timeout

			m, err := g.metrics()
			if err != nil {
				return err
			}
			e := engine.New(engine.WithLogger(log.Log), engine.WithMetrics(m))
			if err := e.Launch(cfg, api.KindTCPClient); err != nil {
				return err
			}
			target := pickAddress(addrs, cfg.Family)
			log.Infof("connecting to %s (%s)", target, target.Name())

			payload := []byte(data)
			if httpMode && data == "" {
				payload = []byte("GET / HTTP/1.1\r\nHost: " + args[0] + "\r\nConnection: close\r\n\r\n")
			}
			if _, err := e.Connect(target, payload, timeout); err != nil {
				e.Cancel()
				_ = e.LoopTick(nil)
				return err
			}

			handlers := adapters.Handlers{
				OnRecv: func(ev api.Event) {
					if ev.Response != nil {
						fmt.Fprintf(os.Stdout, "%s\n", ev.Response.Status)
					}
					_, _ = os.Stdout.Write(ev.Payload)
					if httpMode {
						e.Cancel()
					}
				},
				OnDisconnect: func(api.Event) { e.Cancel() },
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return e.Run(ctx, adapters.Chain(handlers, adapters.Logging(log.Log)))
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "Payload to send after connecting")
	cmd.Flags().BoolVar(&httpMode, "http", false, "Send an HTTP GET and frame the response")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Resolve and connect timeout")
	return cmd
}

// pickAddress prefers an address of the engine's family.
func pickAddress(addrs []api.Address, family api.AddrFamily) api.Address {
	for _, a := range addrs {
		if a.Family() == family {
			return a
		}
	}
	return addrs[0]
}
