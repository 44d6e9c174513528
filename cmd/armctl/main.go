package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/armctl/backend/internal/client"
	"github.com/GriffinCanCode/armctl/backend/internal/domain/pipeline"
)

const defaultServer = "http://localhost:8000"

type globals struct {
	server  string
	timeout time.Duration
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "armctl",
		Short:         "Control a robot arm pipeline server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	server := os.Getenv("ARMCTL_SERVER")
	if server == "" {
		server = defaultServer
	}
	root.PersistentFlags().StringVar(&g.server, "server", server, "server base URL (env ARMCTL_SERVER)")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 30*time.Second, "per-request timeout")

	root.AddCommand(listCmd(g))
	root.AddCommand(startCmd(g))
	root.AddCommand(stopCmd(g))
	root.AddCommand(signalCmd(g))
	root.AddCommand(statusCmd(g))
	root.AddCommand(watchCmd(g))
	return root
}

func (g *globals) client() (*client.Client, error) {
	opts := client.DefaultOptions()
	opts.Timeout = g.timeout
	return client.New(g.server, opts)
}

func listCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered and running pipelines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			list, err := c.List(cmd.Context())
			if err != nil {
				return err
			}
			return printPipelines(cmd.OutOrStdout(), list)
		},
	}
}

func startCmd(g *globals) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "start <pipeline>",
		Short: "Start a pipeline, replacing a running instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var override pipeline.Config
			if configPath != "" {
				cfg, err := pipeline.LoadConfigFile(configPath)
				if err != nil {
					return err
				}
				override = cfg
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			res, err := c.Start(cmd.Context(), args[0], override)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "yaml, toml or json configuration override")
	return cmd
}

func stopCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <pipeline>",
		Short: "Stop a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			res, err := c.Stop(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func signalCmd(g *globals) *cobra.Command {
	var high bool

	cmd := &cobra.Command{
		Use:   "signal <pipeline> <signal>",
		Short: "Send a signal to a running pipeline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			priority := pipeline.PriorityNormal
			if high {
				priority = pipeline.PriorityHigh
			}
			res, err := c.Signal(cmd.Context(), args[0], args[1], priority.String())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVar(&high, "high", false, "jump ahead of queued normal-priority signals")
	return cmd
}

func statusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status [pipeline]",
		Short: "Show one pipeline's status, or every running pipeline",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				snap, err := c.Status(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), snap)
			}
			all, err := c.StatusAll(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), all)
		},
	}
}

func watchCmd(g *globals) *cobra.Command {
	var (
		queue  string
		frames bool
	)

	cmd := &cobra.Command{
		Use:   "watch <pipeline>",
		Short: "Stream a pipeline's status updates or one of its queues",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			err = c.Watch(ctx, args[0], queue, func(msg client.Message) error {
				if !frames {
					elideFrame(msg)
				}
				line, err := sonic.Marshal(msg)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, string(line))
				return err
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&queue, "queue", "q", "", "queue to watch instead of status updates")
	cmd.Flags().BoolVar(&frames, "frames", false, "print encoded frames instead of their size")
	return cmd
}

// elideFrame replaces an encoded image with its length
func elideFrame(msg client.Message) {
	if frame, ok := msg["frame"].(string); ok {
		msg["frame"] = fmt.Sprintf("<%d bytes>", len(frame))
	}
}

func printPipelines(w io.Writer, list *client.PipelineList) error {
	running := make(map[string]bool, len(list.Running))
	for _, name := range list.Running {
		running[name] = true
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tRUNNING\tSIGNALS\tDESCRIPTION")
	for _, m := range list.Available {
		fmt.Fprintf(tw, "%s\t%t\t%d\t%s\n", m.Name, running[m.Name], len(m.AvailableSignals), m.Description)
	}
	return tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
