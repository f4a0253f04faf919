package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/metasync/internal/jobs"
	"github.com/ajitpratap0/metasync/internal/pipeline"
	"github.com/ajitpratap0/metasync/internal/server"
	"github.com/ajitpratap0/metasync/pkg/config"
	jsonpool "github.com/ajitpratap0/metasync/pkg/json"
	"github.com/ajitpratap0/metasync/pkg/logger"
	"github.com/ajitpratap0/metasync/pkg/metaads"
	"github.com/ajitpratap0/metasync/pkg/observability"
	"github.com/ajitpratap0/metasync/pkg/retry"
	"github.com/ajitpratap0/metasync/pkg/warehouse"
)

var version = "0.1.0"

// app holds what every command needs once flags are parsed.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	shutdown func(context.Context) error
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	var configFile string
	a := &app{}

	root := &cobra.Command{
		Use:   "metasync",
		Short: "metasync - Meta Ads to warehouse sync",
		Long: `metasync extracts campaigns, ad sets, ads, creatives and insights from the
Meta Marketing (Graph) API and loads them into BigQuery or a SQL warehouse.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(configFile)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to YAML configuration file")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("metasync v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "drivers",
		Short: "List available warehouse drivers",
		Run: func(cmd *cobra.Command, args []string) {
			for _, d := range warehouse.Drivers() {
				fmt.Printf("  - %s\n", d)
			}
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.Dump(a.cfg)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve the job endpoints over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runner := jobs.NewRunner(a.cfg, jobs.WithLogger(a.log))
			return server.New(a.cfg, runner, a.log).Run(ctx)
		},
	})

	root.AddCommand(a.loadCommand(), a.updateCommand(), a.accountsCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (a *app) init(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	shutdown, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: version,
		Enabled:        cfg.Observability.Tracing,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	a.cfg = cfg
	a.log = logger.Get().With(zap.String("component", "metasync-cli"))
	a.shutdown = shutdown
	return nil
}

func (a *app) close() error {
	if a.shutdown != nil {
		if err := a.shutdown(context.Background()); err != nil {
			a.log.Warn("failed to flush traces", zap.Error(err))
		}
	}
	_ = logger.Sync()
	return nil
}

// jobContext bounds a CLI job by the configured job timeout and stops it
// on interrupt.
func (a *app) jobContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	if a.cfg.Server.JobTimeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Server.JobTimeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func (a *app) loadCommand() *cobra.Command {
	var p jobs.Params
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Backfill a date window",
		Long: `Extract the requested tables for every account over [start, end] and replace
the matching warehouse rows. Defaults to the first of the month through yesterday.

Example:
  metasync load --accounts 123,456 --start 2025-01-01 --end 2025-01-31 --tables insights_ads`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.jobContext(cmd.Context())
			defer cancel()
			report, err := jobs.NewRunner(a.cfg, jobs.WithLogger(a.log)).Load(ctx, p)
			if err != nil {
				return err
			}
			return printReport(report)
		},
	}
	addWarehouseFlags(cmd, &p)
	cmd.Flags().StringVar(&p.Start, "start", "", "First day of the window (YYYY-MM-DD)")
	cmd.Flags().StringVar(&p.End, "end", "", "Last day of the window (YYYY-MM-DD)")
	cmd.Flags().StringSliceVar(&p.Tables, "tables", nil, "Tables to load (default from sync.tables)")
	cmd.Flags().StringVar(&p.WriteMode, "write-mode", "", "append or truncate (default from sync.write_mode)")
	return cmd
}

func (a *app) updateCommand() *cobra.Command {
	var p jobs.Params
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Catch up from the insights watermark to yesterday",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.jobContext(cmd.Context())
			defer cancel()
			report, err := jobs.NewRunner(a.cfg, jobs.WithLogger(a.log)).Update(ctx, p)
			if err != nil {
				return err
			}
			return printReport(report)
		},
	}
	addWarehouseFlags(cmd, &p)
	return cmd
}

func (a *app) accountsCommand() *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List the ad accounts visible to the access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = a.cfg.Meta.AccessToken
			}
			client, err := metaads.NewClient(token, a.cfg.Meta, retry.FromConfig(a.cfg.Retry), metaads.WithLogger(a.log))
			if err != nil {
				return err
			}
			ctx, cancel := a.jobContext(cmd.Context())
			defer cancel()

			accounts, err := client.AdAccounts(ctx)
			if err != nil {
				return err
			}
			for _, acc := range accounts {
				fmt.Printf("%s\t%s\n", acc.AccountID, acc.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "Meta access token (default from meta.access_token)")
	return cmd
}

func addWarehouseFlags(cmd *cobra.Command, p *jobs.Params) {
	cmd.Flags().StringSliceVar(&p.AccountIDs, "accounts", nil, "Ad account ids (default from sync.account_ids)")
	cmd.Flags().StringVar(&p.Token, "token", "", "Meta access token (default from meta.access_token)")
	cmd.Flags().StringVar(&p.ProjectID, "project", "", "BigQuery project (default from warehouse.project_id)")
	cmd.Flags().StringVar(&p.Dataset, "dataset", "", "Warehouse dataset (default from warehouse.dataset)")
}

func printReport(report *pipeline.Report) error {
	data, err := jsonpool.Marshal(report)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
