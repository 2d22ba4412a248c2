//go:build linux

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hewenhao2008/dispatch-ng/internal/discover"
)

func listAddrsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list-addrs",
		Short: "List host addresses usable as <host>@<metric> interface arguments",
		RunE: func(cmd *cobra.Command, args []string) error {
			candidates, err := discover.List()
			if err != nil {
				return err
			}
			for _, c := range candidates {
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %-24s %s\n", c.Interface, c.Address, c.Arg)
			}
			return nil
		},
	}
}
