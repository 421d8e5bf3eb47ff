package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"taskhistory/internal/app/taskhistory"
	"taskhistory/internal/domain/history"

	"github.com/spf13/cobra"
)

const dateLayout = "2006-01-02"

func (c *CLI) newSearchCommand() *cobra.Command {
	var (
		workspace string
		sortFlag  string
		limit     int
		from      string
		to        string
	)
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search task history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sortOption, err := history.ParseSortOption(sortFlag)
			if err != nil {
				return err
			}
			query := history.SearchQuery{Workspace: workspace, Sort: sortOption}
			if len(args) == 1 {
				query.Query = args[0]
			}
			if limit >= 0 {
				query.Limit = history.Limit(limit)
			}
			query.DateRange, err = parseDateRange(from, to, c.container.Store.Location())
			if err != nil {
				return err
			}

			result, err := c.container.Service.Search(commandContext(cmd), query)
			if err != nil {
				return err
			}
			if c.jsonOutput() {
				return writeJSON(c.out, result)
			}
			renderSearch(c.out, result, terminalWidth(c.out), c.now())
			return nil
		},
	}
	cmd.Flags().StringVarP(&workspace, "workspace", "w", "", "Workspace path, \"all\" or \"current\" (default current)")
	cmd.Flags().StringVarP(&sortFlag, "sort", "s", string(history.SortNewest), "newest, oldest, mostExpensive, mostTokens or mostRelevant")
	cmd.Flags().IntVarP(&limit, "limit", "n", -1, "Maximum items to return (-1 for no limit, 0 for workspaces only)")
	cmd.Flags().StringVar(&from, "from", "", "Earliest day to include (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "Latest day to include (YYYY-MM-DD)")
	return cmd
}

// parseDateRange turns day bounds into an inclusive millisecond range in loc.
func parseDateRange(from, to string, loc *time.Location) (*history.DateRange, error) {
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if from == "" && to == "" {
		return nil, nil
	}
	var r history.DateRange
	if from != "" {
		day, err := time.ParseInLocation(dateLayout, from, loc)
		if err != nil {
			return nil, fmt.Errorf("--from: %w", err)
		}
		r.From = day.UnixMilli()
	}
	if to != "" {
		day, err := time.ParseInLocation(dateLayout, to, loc)
		if err != nil {
			return nil, fmt.Errorf("--to: %w", err)
		}
		r.To = day.AddDate(0, 0, 1).UnixMilli() - 1
	}
	if r.From > 0 && r.To > 0 && r.From > r.To {
		return nil, errors.New("--from is after --to")
	}
	return &r, nil
}

func (c *CLI) newMonthsCommand() *cobra.Command {
	var sortFlag string
	cmd := &cobra.Command{
		Use:   "months",
		Short: "List months that have a shard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sortOption, err := history.ParseSortOption(sortFlag)
			if err != nil {
				return err
			}
			months, err := c.container.Store.AvailableMonths(sortOption)
			if err != nil {
				return err
			}
			if c.jsonOutput() {
				return writeJSON(c.out, months)
			}
			renderMonths(c.out, months)
			return nil
		},
	}
	cmd.Flags().StringVarP(&sortFlag, "sort", "s", string(history.SortNewest), "newest or oldest")
	return cmd
}

func (c *CLI) newGetCommand() *cobra.Command {
	var noCache bool
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Print one history item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := history.ValidateID(args[0]); err != nil {
				return err
			}
			item, ok := c.container.Store.GetHistoryItem(commandContext(cmd), args[0], !noCache)
			if !ok {
				return fmt.Errorf("task %s: %w", args[0], history.ErrNotFound)
			}
			if c.jsonOutput() {
				return writeJSON(c.out, item)
			}
			renderItem(c.out, item, c.now())
			return nil
		},
	}
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Read the item file even when cached")
	return cmd
}

func (c *CLI) newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task directory and its index entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.container.Store.DeleteHistoryItem(commandContext(cmd), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(c.out, successStyle("Deleted "+args[0]))
			return nil
		},
	}
}

func (c *CLI) newScanCommand() *cobra.Command {
	var scanFilesystem bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Reconcile the index, the legacy array and the task directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := c.container.Service.Scan(commandContext(cmd), scanFilesystem, c.progress())
			if err != nil {
				return err
			}
			if c.jsonOutput() {
				return writeJSON(c.out, result)
			}
			renderScan(c.out, result)
			return nil
		},
	}
	cmd.Flags().BoolVar(&scanFilesystem, "filesystem", false, "Also reconstruct unindexed task directories")
	return cmd
}

func (c *CLI) newReindexCommand() *cobra.Command {
	var (
		mode   string
		opts   history.ReindexOptions
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Scan and rebuild the month and workspace indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := history.ParseRebuildMode(mode)
			if err != nil {
				return err
			}
			opts.Mode = parsed
			opts.Logs = c.progress()
			ctx := commandContext(cmd)

			if dryRun {
				scan, err := c.container.Service.Scan(ctx, opts.ScanFilesystem, opts.Logs)
				if err != nil {
					return err
				}
				items := taskhistory.SelectRebuildItems(scan, opts.RebuildOptions)
				if c.jsonOutput() {
					return writeJSON(c.out, items)
				}
				renderItemList(c.out, items, c.now())
				return nil
			}
			report, err := c.container.Service.Reindex(ctx, opts)
			if err != nil {
				return err
			}
			if c.jsonOutput() {
				return writeJSON(c.out, report)
			}
			renderReindex(c.out, report)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(history.RebuildMerge), "merge or replace")
	cmd.Flags().BoolVar(&opts.MergeFromGlobal, "global", false, "Include items only present in the legacy array")
	cmd.Flags().BoolVar(&opts.ReconstructOrphans, "orphans", false, "Include items reconstructed from unindexed task directories")
	cmd.Flags().BoolVar(&opts.ScanFilesystem, "filesystem", false, "Scan task directories for orphans")
	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "Scan again after rebuilding and report gaps")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the items a rebuild would write and stop")
	// Orphans come from the filesystem scan.
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		if opts.ReconstructOrphans {
			opts.ScanFilesystem = true
		}
	}
	return cmd
}

func (c *CLI) newMigrateCommand() *cobra.Command {
	var (
		clearLegacy bool
		force       bool
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy the legacy history array into the sharded store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			needed, err := c.container.Service.IsMigrationNeeded(ctx)
			if err != nil {
				return err
			}
			if !needed && !force {
				fmt.Fprintln(c.out, statusStyle("Index already exists; nothing to migrate"))
			} else {
				report, err := c.container.Service.Migrate(ctx, c.progress())
				if err != nil {
					return err
				}
				if c.jsonOutput() {
					if err := writeJSON(c.out, report); err != nil {
						return err
					}
				} else {
					fmt.Fprintln(c.out, successStyle(fmt.Sprintf("Migrated %d items", report.Written)))
				}
			}
			if !clearLegacy {
				return nil
			}
			if err := c.container.Service.ClearLegacy(ctx); err != nil {
				if errors.Is(err, taskhistory.ErrLegacyNotMigrated) {
					return fmt.Errorf("%w; rerun with --force to migrate them first", err)
				}
				return err
			}
			if !c.jsonOutput() {
				fmt.Fprintln(c.out, statusStyle("Cleared legacy history array"))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&clearLegacy, "clear-legacy", false, "Remove the legacy array afterwards")
	cmd.Flags().BoolVar(&force, "force", false, "Migrate even when the index directory exists")
	return cmd
}

func (c *CLI) newReconstructCommand() *cobra.Command {
	var save bool
	cmd := &cobra.Command{
		Use:   "reconstruct <id>",
		Short: "Rebuild a history item from its task transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			item, err := c.container.Service.ReconstructTask(ctx, args[0])
			if err != nil {
				return err
			}
			if save {
				if _, err := c.container.Store.SetHistoryItems(ctx, []history.HistoryItem{item}); err != nil {
					return err
				}
			}
			if c.jsonOutput() {
				return writeJSON(c.out, item)
			}
			renderItem(c.out, item, c.now())
			return nil
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "Write the reconstructed item and index it")
	return cmd
}
