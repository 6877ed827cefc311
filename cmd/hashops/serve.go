package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/hashops/alertsink"
	"github.com/jonwraymond/hashops/internal/server"
	"github.com/jonwraymond/hashops/observe"
	"github.com/jonwraymond/hashops/pipeline"
)

type serveOptions struct {
	addr            string
	shutdownTimeout time.Duration
	kafkaBrokers    []string
	kafkaTopic      string
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.addr, "addr", ":8080", "listen address")
	flags.DurationVar(&opts.shutdownTimeout, "shutdown-timeout", 10*time.Second, "graceful shutdown limit")
	flags.StringSliceVar(&opts.kafkaBrokers, "kafka-brokers", nil, "forward alerts to these Kafka brokers")
	flags.StringVar(&opts.kafkaTopic, "kafka-topic", "hashops.alerts", "Kafka topic for alerts")
	return cmd
}

func serve(ctx context.Context, cfg pipeline.Config, opts *serveOptions) error {
	// Metrics go to a private Prometheus registry unless another exporter
	// was configured.
	var metricsHandler http.Handler
	if exp := cfg.Observe.Metrics.Exporter; exp == "" || exp == "prometheus" {
		registry := promclient.NewRegistry()
		cfg.Observe.Metrics = observe.MetricsConfig{
			Enabled:    true,
			Exporter:   "prometheus",
			Registerer: registry,
		}
		metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}

	cfg.Observe.Global = true

	p, err := pipeline.New(ctx, cfg)
	if err != nil {
		return err
	}
	logger := p.Logger()

	srv := &http.Server{
		Addr: opts.addr,
		Handler: server.NewRouter(p, server.Config{
			Metrics: metricsHandler,
			Logger:  logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info(gctx, "http server listening", observe.Field{Key: "addr", Value: opts.addr})
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if len(opts.kafkaBrokers) > 0 {
		pub, err := alertsink.NewKafkaPublisher(alertsink.Config{
			Brokers: opts.kafkaBrokers,
			Topic:   opts.kafkaTopic,
			Logger:  logger,
		})
		if err != nil {
			_ = p.Close(ctx)
			return err
		}
		defer pub.Close()

		sub := p.Subscribe(0)
		g.Go(func() error {
			if err := pub.Forward(gctx, sub); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	err = g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), opts.shutdownTimeout)
	defer cancel()
	return errors.Join(err, p.Close(closeCtx))
}
