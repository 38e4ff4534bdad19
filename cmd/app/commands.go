package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"FinOracle/internal/domain/models"
	"FinOracle/internal/service/rag"
	"FinOracle/internal/usecase"
	"FinOracle/pkg/config"
	"FinOracle/pkg/logger"
	"FinOracle/pkg/server"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"
)

var errNoLedger = errors.New("ledger.key_file is not configured")

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, queue workers, streams and the scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, app *server.App) error {
				return app.Serve(ctx)
			})
		},
	}
}

func runCmd() *cobra.Command {
	var skipFeed bool
	cmd := &cobra.Command{
		Use:   "run <symbol> [symbol...]",
		Short: "Run the pipeline once for each symbol",
		Example: `  finoracle run BTC ETH
  finoracle run --skip-feed AAPL`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var overrides []config.Override
			if cmd.Flags().Changed("skip-feed") {
				overrides = append(overrides, config.WithSkipFeed(skipFeed))
			}
			return withApp(cmd, func(ctx context.Context, app *server.App) error {
				var opts []usecase.RunOption
				if cmd.Flags().Changed("skip-feed") {
					opts = append(opts, usecase.SkipFeed(skipFeed))
				}
				reports, runErr := app.Pipeline.RunMany(ctx, args, opts...)
				if err := printJSON(reports); err != nil {
					return err
				}
				return runErr
			}, overrides...)
		},
	}
	cmd.Flags().BoolVar(&skipFeed, "skip-feed", false, "analyze without writing to the ledger")
	return cmd
}

func queryCmd() *cobra.Command {
	var provider string
	cmd := &cobra.Command{
		Use:   "query <symbol>",
		Short: "Fetch a price through the coordinator or from one provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *server.App) error {
				var (
					rec models.MarketRecord
					err error
				)
				if provider != "" {
					rec, err = app.Coordinator.Query(ctx, args[0], provider)
				} else {
					rec, err = app.Coordinator.Fetch(ctx, args[0])
				}
				if err != nil {
					return err
				}
				return printJSON(rec)
			})
		},
	}
	cmd.Flags().StringVarP(&provider, "provider", "p", "", "query a single provider by id")
	return cmd
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <glob>",
		Short: "Index historical documents from JSON files",
		Example: `  finoracle ingest 'data/**/*.json'`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *server.App) error {
				if app.Retriever == nil {
					return errors.New("rag is disabled")
				}
				matches, err := doublestar.FilepathGlob(args[0])
				if err != nil {
					return fmt.Errorf("bad pattern %q: %w", args[0], err)
				}
				if len(matches) == 0 {
					return fmt.Errorf("no files match %q", args[0])
				}
				if err := app.Retriever.EnsureCollection(ctx); err != nil {
					return err
				}
				var total rag.IngestResult
				for _, path := range matches {
					res, err := ingestFile(ctx, app.Retriever, path)
					if err != nil {
						app.Logger.Error("ingest failed", logger.String("file", path), logger.Error(err))
						continue
					}
					app.Logger.Info("ingested", logger.String("file", filepath.Base(path)),
						logger.Int("indexed", res.Indexed), logger.Int("failed", res.Failed))
					total.Indexed += res.Indexed
					total.Failed += res.Failed
				}
				return printJSON(total)
			})
		},
	}
}

func ingestFile(ctx context.Context, a *rag.Augmenter, path string) (rag.IngestResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return rag.IngestResult{}, err
	}
	defer f.Close()
	docs, err := rag.LoadDocuments(f)
	if err != nil {
		return rag.IngestResult{}, err
	}
	return a.Ingest(ctx, docs)
}

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect or initialize the oracle account",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the oracle account for this authority",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, app *server.App) error {
				if app.Submitter == nil {
					return errNoLedger
				}
				receipt, err := app.Submitter.Initialize(ctx)
				if err != nil {
					return err
				}
				return printJSON(receipt)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "balance",
		Short: "Print the authority balance in lamports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, app *server.App) error {
				if app.Submitter == nil {
					return errNoLedger
				}
				lamports, err := app.Submitter.Balance(ctx)
				if err != nil {
					return err
				}
				return printJSON(map[string]interface{}{
					"authority": app.Submitter.Authority().String(),
					"lamports":  lamports,
				})
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "pda",
		Short: "Print the oracle account address and its current value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, app *server.App) error {
				if app.Submitter == nil {
					return errNoLedger
				}
				info, err := app.Submitter.Info(ctx)
				if err != nil {
					return err
				}
				return printJSON(info)
			})
		},
	})
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print provider, cache and queue health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, app *server.App) error {
				return printJSON(app.Status.Snapshot(ctx))
			})
		},
	}
}
