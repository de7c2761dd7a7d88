// File: cmd/hionet/serve.go
// License: Apache-2.0

package main

import (
	"fmt"

	"github.com/apex/log"
	"github.com/momentics/hioload-net/adapters"
	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/engine"
	"github.com/spf13/cobra"
)

func serveCmd(g *globalFlags) *cobra.Command {
	var (
		port     uint16
		capacity int
		httpMode bool
		cpu      int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an echo server (or a tiny HTTP responder with --http)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := g.baseConfig()
			cfg.Port = port
			cfg.Capacity = capacity
			cfg.IsHTTP = httpMode

			m, err := g.metrics()
			if err != nil {
				return err
			}
			e := engine.New(engine.WithLogger(log.Log), engine.WithMetrics(m), engine.WithCPU(cpu))
			if err := e.Launch(cfg, api.KindTCPServer); err != nil {
				return err
			}
			log.Infof("listening on %s", e.LocalAddr())

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return e.Run(ctx, adapters.Chain(echoHandlers(e, httpMode), adapters.Logging(log.Log)))
		},
	}
	cmd.Flags().Uint16VarP(&port, "port", "p", 7000, "Port to listen on")
	cmd.Flags().IntVar(&capacity, "capacity", 64, "Connection slots")
	cmd.Flags().BoolVar(&httpMode, "http", false, "Frame HTTP requests and answer them")
	cmd.Flags().IntVar(&cpu, "cpu", -1, "Pin the reactor thread to this CPU")
	return cmd
}

// echoHandlers sends every received payload back, or answers HTTP requests
// with their path.
func echoHandlers(e *engine.Engine, httpMode bool) adapters.Handlers {
	return adapters.Handlers{
		OnRecv: func(ev api.Event) {
			if ev.Err != nil {
				return
			}
			reply := ev.Payload
			if httpMode && ev.Request != nil {
				body := ev.Request.Method + " " + ev.Request.URL.Path + "\n"
				reply = []byte(fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: %d\r\n\r\n%s", len(body), body))
			}
			if err := e.Post(ev.ConnID, api.OpSend, reply, nil); err != nil {
				log.WithError(err).Warnf("reply on %d", ev.ConnID)
			}
		},
	}
}
