// File: cmd/hionet/udp.go
// License: Apache-2.0

package main

import (
	"fmt"
	"net/netip"

	"github.com/apex/log"
	"github.com/momentics/hioload-net/adapters"
	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/engine"
	"github.com/spf13/cobra"
)

func udpCmd(g *globalFlags) *cobra.Command {
	var (
		port  uint16
		group string
		to    string
		data  string
	)
	cmd := &cobra.Command{
		Use:   "udp",
		Short: "Bind a UDP socket, optionally join a group and send a datagram",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := g.baseConfig()
			cfg.Port = port

			m, err := g.metrics()
			if err != nil {
				return err
			}
			e := engine.New(engine.WithLogger(log.Log), engine.WithMetrics(m))
			if err := e.Launch(cfg, api.KindUDP); err != nil {
				return err
			}
			log.Infof("bound %s", e.LocalAddr())

			if group != "" {
				ip, err := netip.ParseAddr(group)
				if err != nil {
					return err
				}
				if err := e.JoinGroup(ip, nil); err != nil {
					return err
				}
				log.Infof("joined %s", ip)
			}
			if to != "" {
				target, err := api.ParseAddress(to)
				if err != nil {
					return err
				}
				if err := e.Post(api.NoConn, api.OpSend, []byte(data), &target); err != nil {
					return err
				}
			}

			handlers := adapters.Handlers{
				OnRecv: func(ev api.Event) {
					if ev.Err == nil {
						fmt.Printf("%s: %q\n", ev.Peer, ev.Payload)
					}
				},
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return e.Run(ctx, adapters.Chain(handlers, adapters.Logging(log.Log)))
		},
	}
	cmd.Flags().Uint16VarP(&port, "port", "p", 0, "Port to bind")
	cmd.Flags().StringVar(&group, "join", "", "Multicast group to join")
	cmd.Flags().StringVar(&to, "to", "", "Send --data to this ip:port")
	cmd.Flags().StringVarP(&data, "data", "d", "hello", "Datagram payload")
	return cmd
}
