package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/taskgraph/internal/config"
	"github.com/aristath/taskgraph/internal/logging"
	"github.com/aristath/taskgraph/internal/mcptools"
	"github.com/aristath/taskgraph/internal/observability"
	"github.com/aristath/taskgraph/internal/orchestrator"
	"github.com/aristath/taskgraph/internal/scheduler"
)

// Version is set at build time via ldflags.
var Version = "dev"

type rootOptions struct {
	configPath string
	session    string
	principal  string
}

func (o *rootOptions) scope() orchestrator.Scope {
	return orchestrator.Scope{SessionID: o.session, PrincipalID: o.principal}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "taskgraph",
		Short:         "Dependency-aware task plans for orchestrating agents",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default: ~/.taskgraph and .taskgraph)")
	root.PersistentFlags().StringVar(&opts.session, "session", "default", "session id")
	root.PersistentFlags().StringVar(&opts.principal, "principal", "local", "principal id")

	root.AddCommand(
		newServeCmd(opts),
		newStatusCmd(opts),
		newCreateCmd(opts),
		newAddCmd(opts),
		newUpdateCmd(opts),
		newCompleteCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load("", path)
	}
	return config.LoadDefault()
}

// withApp wires the application for one command and tears it down after.
func withApp(ctx context.Context, opts *rootOptions, fn func(context.Context, *app) error) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}

	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		ServiceName:    "taskgraph",
		ServiceVersion: Version,
		Exporter:       cfg.Tracing.Exporter,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		OTLPInsecure:   cfg.Tracing.OTLPInsecure,
	})
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		shutdownTracing(context.Background())
		return err
	}

	runErr := fn(ctx, a)
	// Shutdown gets its own context; ctx may already be cancelled by a signal
	if err := a.close(context.Background()); err != nil {
		logger.Error("shutdown", "error", err)
	}
	if err := shutdownTracing(context.Background()); err != nil {
		logger.Warn("flush traces", "error", err)
	}
	return runErr
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the plan tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				return serve(ctx, a, opts.scope())
			})
		},
	}
}

func serve(ctx context.Context, a *app, defaults orchestrator.Scope) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	mcpServer := mcptools.NewServer("taskgraph", Version, mcptools.NewHandlers(a.svc, defaults))
	g.Go(func() error {
		// The client closing stdin ends the process
		defer cancel()
		err := server.NewStdioServer(mcpServer).Listen(gctx, os.Stdin, os.Stdout)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if addr := a.cfg.Metrics.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			a.logger.Info("metrics listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			return srv.Shutdown(shutdownCtx)
		})
	}

	a.logger.Info("serving", "session_id", defaults.SessionID, "store", a.cfg.Store.Driver)
	return g.Wait()
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the plan, its progress and the next task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				res, err := a.svc.GetStatus(ctx, opts.scope())
				return output(cmd, res, res.Result, err)
			})
		},
	}
}

func newCreateCmd(opts *rootOptions) *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "create [title...]",
		Short: "Create the session's plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := readSpecs(from, args)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				res, err := a.svc.CreatePlan(ctx, opts.scope(), specs)
				return output(cmd, res, res.Result, err)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "JSON file with a list of task specs (- for stdin)")
	return cmd
}

func newAddCmd(opts *rootOptions) *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "add [title...]",
		Short: "Append tasks to the session's plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := readSpecs(from, args)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				res, err := a.svc.AddTasks(ctx, opts.scope(), specs)
				return output(cmd, res, res.Result, err)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "JSON file with a list of task specs (- for stdin)")
	return cmd
}

func newUpdateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "update <task-id> <status>",
		Short: "Set the status of a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				res, err := a.svc.UpdateTask(ctx, opts.scope(), args[0], scheduler.Status(args[1]))
				return output(cmd, res, res.Result, err)
			})
		},
	}
}

func newCompleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Mark a task completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				res, err := a.svc.CompleteTask(ctx, opts.scope(), args[0])
				return output(cmd, res, res.Result, err)
			})
		},
	}
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or write configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init <path>",
		Short: "Write the default configuration to a .json or .yaml file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Save(config.DefaultConfig(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
			return nil
		},
	})

	return cmd
}

// readSpecs builds task specs from a JSON file or from bare titles.
func readSpecs(from string, titles []string) ([]scheduler.Spec, error) {
	if from == "" {
		specs := make([]scheduler.Spec, len(titles))
		for i, title := range titles {
			specs[i] = scheduler.Spec{Title: title}
		}
		return specs, nil
	}

	var (
		data []byte
		err  error
	)
	if from == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(from)
	}
	if err != nil {
		return nil, fmt.Errorf("read task specs: %w", err)
	}

	var specs []scheduler.Spec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("parse task specs: %w", err)
	}
	return specs, nil
}

// output prints a result as JSON. Rejected operations exit non-zero with
// their error code.
func output(cmd *cobra.Command, payload any, res orchestrator.Result, opErr error) error {
	if opErr != nil {
		return fmt.Errorf("%s: %w", res.Error, opErr)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		return err
	}
	if !res.Success {
		return errors.New(res.Error)
	}
	return nil
}
