package main

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/hashops/internal/server"
	"github.com/jonwraymond/hashops/pipeline"
)

var errItemsFailed = errors.New("one or more payloads failed")

func newHashCmd(root *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "hash [payload...]",
		Short: "Hash payloads given as arguments, or one per line on stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}

			payloads, err := readPayloads(cmd, args)
			if err != nil {
				return err
			}
			if len(payloads) == 0 {
				return nil
			}

			ctx := cmd.Context()
			p, err := pipeline.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = p.Close(ctx) }()

			results, err := p.BatchHash(ctx, payloads)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			failed := false
			if asJSON {
				resp := server.HashResponse{Provider: p.ProviderName()}
				for _, r := range results {
					resp.Results = append(resp.Results, server.NewHashResult(r))
					failed = failed || !r.OK()
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(resp); err != nil {
					return err
				}
			} else {
				for i, r := range results {
					if !r.OK() {
						failed = true
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", payloads[i], r.Err)
						continue
					}
					fmt.Fprintf(out, "%s  %s\n", hex.EncodeToString(r.Digest), payloads[i])
				}
			}

			if failed {
				return errItemsFailed
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

func readPayloads(cmd *cobra.Command, args []string) ([][]byte, error) {
	if len(args) > 0 {
		payloads := make([][]byte, len(args))
		for i, a := range args {
			payloads[i] = []byte(a)
		}
		return payloads, nil
	}

	var payloads [][]byte
	sc := bufio.NewScanner(cmd.InOrStdin())
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for sc.Scan() {
		payloads = append(payloads, append([]byte(nil), sc.Bytes()...))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return payloads, nil
}
