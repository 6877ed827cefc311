package main

import (
	"github.com/spf13/cobra"

	"github.com/jonwraymond/hashops/pipeline"
)

type rootOptions struct {
	configPath string
	provider   string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "hashops",
		Short:         "Instrumented hash dispatch",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	flags.StringVarP(&opts.provider, "provider", "p", "", "hash provider (overrides config)")
	flags.StringVar(&opts.logLevel, "log-level", "", "enable JSON logs at debug|info|warn|error")

	cmd.AddCommand(
		newHashCmd(opts),
		newValidateCmd(opts),
		newServeCmd(opts),
		newProvidersCmd(),
	)
	return cmd
}

// loadConfig reads the config file, if any, and applies flag overrides.
func (o *rootOptions) loadConfig() (pipeline.Config, error) {
	cfg := pipeline.DefaultConfig()
	if o.configPath != "" {
		var err error
		cfg, err = pipeline.LoadConfig(o.configPath)
		if err != nil {
			return pipeline.Config{}, err
		}
	}

	if o.provider != "" {
		cfg.Provider = o.provider
	}
	if o.logLevel != "" {
		cfg.Observe.Logging.Enabled = true
		cfg.Observe.Logging.Level = o.logLevel
	}
	return cfg, nil
}
