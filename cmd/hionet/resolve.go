// File: cmd/hionet/resolve.go
// License: Apache-2.0

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/apex/log"
	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/resolver"
	"github.com/spf13/cobra"
)

func resolveCmd() *cobra.Command {
	var (
		server  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "resolve HOST [PORT]",
		Short: "Resolve a name with the system resolver or a given DNS server",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			port := "0"
			if len(args) == 2 {
				port = args[1]
			}
			var (
				addrs []api.Address
				err   error
			)
			if server != "" {
				d := &resolver.DNS{Server: server, Logger: log.Log}
				addrs, err = d.Resolve(context.Background(), args[0], port, timeout)
			} else {
				s := &resolver.System{Logger: log.Log}
				addrs, err = s.Resolve(context.Background(), args[0], port, timeout)
			}
			if err != nil {
				return err
			}
			for _, a := range addrs {
				fmt.Printf("%s\t%s\n", a, a.Name())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "DNS server host:port (default: system resolver)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Resolution timeout")
	return cmd
}
