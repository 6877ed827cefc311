package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/hashops/pipeline"
)

var errValidationFailed = errors.New("validation failed")

func newValidateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Run the self-check battery against a fresh pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			p, err := pipeline.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = p.Close(ctx) }()

			report := p.Validate(ctx)
			out := cmd.OutOrStdout()
			for _, r := range report.Results {
				fmt.Fprintf(out, "%-20s %-7s %s\n", r.Scenario, r.Status, r.Message)
				if r.Error != nil {
					fmt.Fprintf(out, "%-20s         %v\n", "", r.Error)
				}
			}

			if !report.Passed {
				return errValidationFailed
			}
			return nil
		},
	}
}
