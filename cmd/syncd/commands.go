package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teleregnet/syncbridge"
	"github.com/teleregnet/syncbridge/config"
	"github.com/teleregnet/syncbridge/conflict"
	"github.com/teleregnet/syncbridge/fetch"
	"github.com/teleregnet/syncbridge/httpapi"
	"github.com/teleregnet/syncbridge/logging"
	"github.com/teleregnet/syncbridge/storage/sqlite"
)

// runtime bundles everything a command needs after bootstrapping.
type runtime struct {
	cfg    *config.Config
	store  *sqlite.Store
	engine *syncbridge.Engine
}

func (rt *runtime) close() {
	if err := rt.store.Close(); err != nil {
		logging.Default().Error("closing database", "error", err)
	}
}

// bootstrap loads configuration, initializes logging, opens the database and
// assembles the engine.
func bootstrap(opts *rootOptions) (*runtime, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		cfg.Logging.Level = "debug"
	}
	logging.Init(cfg.Logging)

	store, err := sqlite.New(&sqlite.Config{
		DataSourceName: cfg.Database.Path,
		EnableWAL:      cfg.Database.EnableWAL,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	engine := syncbridge.New(
		store.Sessions(),
		store.Records(),
		store.Conflicts(),
		fetch.NewHTTPFetcher(nil),
		syncbridge.WithLogger(logging.Default().Logger),
		syncbridge.WithFetchTimeout(cfg.Sync.FetchTimeout),
		syncbridge.WithBatchSize(cfg.Sync.BatchSize),
	)

	return &runtime{cfg: cfg, store: store, engine: engine}, nil
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	var agencies string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the portal sync API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(opts)
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if agencies != "" {
				ids := strings.Split(agencies, ",")
				if err := rt.engine.Restore(ctx, ids); err != nil {
					return fmt.Errorf("restore session guard: %w", err)
				}
			}

			handler := httpapi.NewHandler(rt.engine, logging.Default().Logger)
			srv := &http.Server{
				Addr:    rt.cfg.Server.ListenAddr,
				Handler: handler,
			}

			errCh := make(chan error, 1)
			go func() {
				logging.Default().Info("http api listening", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logging.Default().Info("shutting down")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), rt.cfg.Server.ShutdownTimeout)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&agencies, "agencies", "", "comma-separated agency ids to restore the session guard for")

	return cmd
}

func newSyncCommand(opts *rootOptions) *cobra.Command {
	var (
		agencyID string
		source   string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one synchronization session for an agency",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(opts)
			if err != nil {
				return err
			}
			defer rt.close()

			if source == "" {
				source = rt.cfg.Sync.SourceURL
			}
			if source == "" {
				return fmt.Errorf("a snapshot source is required (--source or sync.source_url)")
			}

			result, err := rt.engine.StartSync(cmd.Context(), agencyID, fetch.Config{
				Source:  source,
				Timeout: timeout,
			})
			if err != nil {
				return err
			}

			printJSON(cmd, result)
			if !result.Success {
				return fmt.Errorf("sync did not complete")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&agencyID, "agency", "", "agency id to synchronize (required)")
	cmd.Flags().StringVar(&source, "source", "", "snapshot source endpoint (defaults to sync.source_url)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "fetch timeout (defaults to sync.fetch_timeout)")
	_ = cmd.MarkFlagRequired("agency")

	return cmd
}

func newConflictsCommand(opts *rootOptions) *cobra.Command {
	var (
		agencyID string
		history  bool
		stats    bool
	)

	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List pending conflicts for an agency",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(opts)
			if err != nil {
				return err
			}
			defer rt.close()

			ctx := cmd.Context()
			switch {
			case stats:
				s, err := rt.engine.GetResolutionStats(ctx, agencyID)
				if err != nil {
					return err
				}
				printJSON(cmd, s)
			case history:
				rows, err := rt.engine.GetConflictHistory(ctx, agencyID)
				if err != nil {
					return err
				}
				printJSON(cmd, rows)
			default:
				rows, err := rt.engine.GetUnresolvedConflicts(ctx, agencyID)
				if err != nil {
					return err
				}
				printJSON(cmd, rows)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&agencyID, "agency", "", "agency id (required)")
	cmd.Flags().BoolVar(&history, "history", false, "show all conflicts regardless of status")
	cmd.Flags().BoolVar(&stats, "stats", false, "show the resolution aggregate instead of rows")
	_ = cmd.MarkFlagRequired("agency")

	return cmd
}

func newResolveCommand(opts *rootOptions) *cobra.Command {
	var (
		conflictID string
		strategy   string
		value      string
		resolvedBy string
		agencyID   string
		all        bool
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a conflict, or auto-resolve all pending conflicts for an agency",
		RunE: func(cmd *cobra.Command, args []string) error {
			strat := conflict.Strategy(strategy)
			if !strat.Valid() {
				return fmt.Errorf("unknown strategy %q", strategy)
			}

			rt, err := bootstrap(opts)
			if err != nil {
				return err
			}
			defer rt.close()

			ctx := cmd.Context()
			if all {
				if agencyID == "" {
					return fmt.Errorf("--agency is required with --all")
				}
				result, err := rt.engine.AutoResolveConflicts(ctx, agencyID, strat)
				if err != nil {
					return err
				}
				printJSON(cmd, result)
				return nil
			}

			if conflictID == "" {
				return fmt.Errorf("--conflict is required without --all")
			}
			var resolvedValue any = value
			resolved, err := rt.engine.ResolveConflict(ctx, conflictID, resolvedValue, strat, resolvedBy)
			if err != nil {
				return err
			}
			printJSON(cmd, map[string]bool{"resolved": resolved})
			return nil
		},
	}

	cmd.Flags().StringVar(&conflictID, "conflict", "", "conflict id to resolve")
	cmd.Flags().StringVar(&strategy, "strategy", string(conflict.StrategyNewestWins), "resolution strategy")
	cmd.Flags().StringVar(&value, "value", "", "resolved value for manual resolution")
	cmd.Flags().StringVar(&resolvedBy, "by", "", "who resolves (defaults to system)")
	cmd.Flags().StringVar(&agencyID, "agency", "", "agency id for --all")
	cmd.Flags().BoolVar(&all, "all", false, "auto-resolve every pending conflict for the agency")

	return cmd
}

func newDeleteRecordCommand(opts *rootOptions) *cobra.Command {
	var recordID string

	cmd := &cobra.Command{
		Use:   "delete-record",
		Short: "Delete one canonical record (deletions never propagate through sync)",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(opts)
			if err != nil {
				return err
			}
			defer rt.close()

			deleted, err := rt.engine.DeleteRecord(cmd.Context(), recordID)
			if err != nil {
				return err
			}
			if !deleted {
				return fmt.Errorf("record %q not found", recordID)
			}
			printJSON(cmd, map[string]bool{"deleted": true})
			return nil
		},
	}

	cmd.Flags().StringVar(&recordID, "record", "", "record id to delete (required)")
	_ = cmd.MarkFlagRequired("record")

	return cmd
}

func printJSON(cmd *cobra.Command, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "marshal output:", err)
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
}
