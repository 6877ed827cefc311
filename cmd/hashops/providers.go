package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/hashops/provider"
)

func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List registered hash providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range provider.DefaultRegistry.Names() {
				p, err := provider.Lookup(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %d bytes\n", name, p.Size())
			}
			return nil
		},
	}
}
