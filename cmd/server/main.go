package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/armctl/backend/internal/domain/pipeline"
	"github.com/GriffinCanCode/armctl/backend/internal/domain/process"
	"github.com/GriffinCanCode/armctl/backend/internal/infrastructure/broker"
	"github.com/GriffinCanCode/armctl/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/armctl/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/armctl/backend/internal/infrastructure/server"
	"github.com/GriffinCanCode/armctl/backend/internal/pipelines"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := serveCmd()
	root.Use = "server"
	root.Short = "Robot arm pipeline server"
	root.SilenceUsage = true
	root.SilenceErrors = true
	root.AddCommand(serveCmd())
	root.AddCommand(childCmd())
	return root
}

func serveCmd() *cobra.Command {
	var (
		port           string
		host           string
		isolation      string
		initial        string
		initialConfig  string
		dev            bool
		brokerURL      string
		enableBroker   bool
		disableLimiter bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and WebSocket control plane",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("port") {
				cfg.Server.Port = port
			}
			if flags.Changed("host") {
				cfg.Server.Host = host
			}
			if flags.Changed("isolation") {
				cfg.Pipeline.Isolation = isolation
			}
			if flags.Changed("dev") {
				cfg.Logging.Development = dev
				if dev {
					cfg.Logging.Level = "debug"
				}
			}
			if flags.Changed("broker-url") {
				cfg.Broker.URL = brokerURL
			}
			if flags.Changed("broker") {
				cfg.Broker.Enabled = enableBroker
			}
			if disableLimiter {
				cfg.RateLimit.Enabled = false
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			var override pipeline.Config
			if initialConfig != "" {
				if override, err = pipeline.LoadConfigFile(initialConfig); err != nil {
					return err
				}
			}

			srv, err := server.NewServer(cfg, server.Options{
				InitialPipeline: initial,
				InitialConfig:   override,
			})
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx)
		},
	}

	f := cmd.Flags()
	f.StringVar(&port, "port", "8000", "port to listen on (overrides PORT)")
	f.StringVar(&host, "host", "0.0.0.0", "address to bind (overrides HOST)")
	f.StringVar(&isolation, "isolation", config.IsolationProcess, "pipeline isolation: process or goroutine")
	f.StringVar(&initial, "pipeline", "", "pipeline to start on startup")
	f.StringVar(&initialConfig, "pipeline-config", "", "yaml, toml or json override for the startup pipeline")
	f.BoolVar(&dev, "dev", false, "development logging (colored, debug level)")
	f.StringVar(&brokerURL, "broker-url", "", "redis URL for queue feeds (overrides BROKER_URL)")
	f.BoolVar(&enableBroker, "broker", false, "publish queue data through redis (overrides BROKER_ENABLED)")
	f.BoolVar(&disableLimiter, "no-rate-limit", false, "disable per-client rate limiting")
	return cmd
}

// childCmd runs one pipeline on behalf of the server. Flags come from
// process.ChildSpec; stdin and stdout carry the control channel, so all
// logging goes to stderr.
func childCmd() *cobra.Command {
	return &cobra.Command{
		Use:                "child",
		Short:              "Run a single pipeline as a supervised child process",
		Hidden:             true,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := process.ParseChildSpec(args)
			if err != nil {
				return err
			}

			cfg := config.LoadOrDefault()
			logger := logging.NewOrNop(logging.ChildConfig(cfg.Logging.Level, cfg.Logging.Development))
			defer logger.Sync()

			registry, err := pipelines.NewRegistry()
			if err != nil {
				return err
			}

			var publisher pipeline.QueuePublisher
			if cfg.Broker.Enabled {
				rb, err := broker.NewRedis(cfg.Broker.URL, logger.Logger)
				if err != nil {
					return err
				}
				defer rb.Close()
				publisher = broker.NewPublisher(rb, spec.Name, logger.Logger)
			}

			// The parent owns shutdown; a terminal Ctrl-C reaches the whole
			// process group, so only SIGTERM is honoured here.
			signal.Ignore(os.Interrupt)
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
			defer stop()

			err = process.RunChild(ctx, process.ChildOptions{
				Registry:       registry,
				Name:           spec.Name,
				In:             os.Stdin,
				Out:            os.Stdout,
				StatusInterval: spec.StatusInterval,
				Publisher:      publisher,
				Logger:         logger.Logger,
			})
			if err != nil {
				logger.Error("Pipeline child exited with error", zap.Error(err))
			}
			return err
		},
	}
}
