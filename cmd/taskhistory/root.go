package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"taskhistory/internal/domain/history"
	"taskhistory/internal/shared/config"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "TASKHISTORY"

// Persistent flag keys. Each is also read from TASKHISTORY_<KEY> with dashes
// replaced by underscores.
const (
	keyConfig           = "config"
	keyDataDir          = "data-dir"
	keyTasksDir         = "tasks-dir"
	keyIndexDir         = "index-dir"
	keyLegacyState      = "legacy-state"
	keyCurrentWorkspace = "current-workspace"
	keyTimeZone         = "time-zone"
	keyLogDir           = "log-dir"
	keyLockTimeout      = "lock-timeout"
	keyWriteConcurrency = "write-concurrency"
	keyCacheMaxItems    = "cache-max-items"
	keyMaxIndexBackups  = "max-index-backups"
	keyJSON             = "json"
	keyNoColor          = "no-color"
	keyStats            = "stats"
)

// CLI carries the state shared by every subcommand.
type CLI struct {
	v         *viper.Viper
	out       io.Writer
	errOut    io.Writer
	container *Container
	now       func() time.Time
}

// NewRootCommand builds the taskhistory command tree writing to out and errOut.
func NewRootCommand(out, errOut io.Writer) *cobra.Command {
	cli := &CLI{v: viper.New(), out: out, errOut: errOut, now: time.Now}

	rootCmd := &cobra.Command{
		Use:   "taskhistory",
		Short: "Inspect and maintain the sharded task history index",
		Long: fmt.Sprintf(`%s

Task items live in <tasks-dir>/<id>/history_item.json. Month shards and the
workspace index under <index-dir> make searches cheap.

%s
  taskhistory search "refactor" --workspace all --sort mostRelevant
  taskhistory months
  taskhistory reindex --mode replace --global --orphans --verify
  taskhistory migrate --clear-legacy`,
			bold("taskhistory"),
			bold("EXAMPLES:")),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cli.initialize()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if cli.v.GetBool(keyStats) && cli.container != nil {
				printMetrics(cli.errOut, cli.container.Registry)
			}
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	flags := rootCmd.PersistentFlags()
	flags.String(keyConfig, "", "Config file (default $TASKHISTORY_CONFIG_PATH or ~/.taskhistory/config.yaml)")
	flags.String(keyDataDir, "", "Base directory for tasks, indexes and legacy state")
	flags.String(keyTasksDir, "", "Task directory root")
	flags.String(keyIndexDir, "", "Index directory root")
	flags.String(keyLegacyState, "", "Legacy global-state file")
	flags.String(keyCurrentWorkspace, "", "Workspace that the \"current\" selector resolves to")
	flags.String(keyTimeZone, "", "IANA time zone used to bucket items into months")
	flags.String(keyLogDir, "", "Directory for the rotating service log")
	flags.Duration(keyLockTimeout, 0, "How long to wait for a contended file lock")
	flags.Int(keyWriteConcurrency, 0, "Maximum in-flight item writes")
	flags.Int(keyCacheMaxItems, 0, "Bound on cached items (0 keeps every item)")
	flags.Int(keyMaxIndexBackups, 0, "Index backups kept after a replace rebuild (-1 keeps all)")
	flags.Bool(keyJSON, false, "Emit JSON instead of formatted text")
	flags.Bool(keyNoColor, false, "Disable colored output")
	flags.Bool(keyStats, false, "Print operation metrics after the command")

	cli.v.SetEnvPrefix(envPrefix)
	cli.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	cli.v.AutomaticEnv()
	_ = cli.v.BindPFlags(flags)

	rootCmd.AddCommand(
		cli.newSearchCommand(),
		cli.newMonthsCommand(),
		cli.newGetCommand(),
		cli.newDeleteCommand(),
		cli.newScanCommand(),
		cli.newReindexCommand(),
		cli.newMigrateCommand(),
		cli.newReconstructCommand(),
	)
	return rootCmd
}

func (c *CLI) initialize() error {
	if c.v.GetBool(keyNoColor) || !isTTY(c.out) {
		color.NoColor = true
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	container, err := buildContainer(cfg)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	c.container = container
	return nil
}

// loadConfig layers set flags and TASKHISTORY_* variables over the config file.
func (c *CLI) loadConfig() (config.Config, error) {
	var opts []config.Option
	if path := strings.TrimSpace(c.v.GetString(keyConfig)); path != "" {
		opts = append(opts, config.WithConfigPath(path))
	}
	var overrides config.Overrides
	overrides.DataDir = c.stringOverride(keyDataDir)
	overrides.TasksDir = c.stringOverride(keyTasksDir)
	overrides.IndexDir = c.stringOverride(keyIndexDir)
	overrides.LegacyStatePath = c.stringOverride(keyLegacyState)
	overrides.CurrentWorkspace = c.stringOverride(keyCurrentWorkspace)
	overrides.TimeZone = c.stringOverride(keyTimeZone)
	overrides.LogDir = c.stringOverride(keyLogDir)
	overrides.WriteConcurrency = c.intOverride(keyWriteConcurrency)
	overrides.CacheMaxItems = c.intOverride(keyCacheMaxItems)
	overrides.MaxIndexBackups = c.intOverride(keyMaxIndexBackups)
	if c.v.IsSet(keyLockTimeout) {
		timeout := c.v.GetDuration(keyLockTimeout)
		overrides.LockTimeout = &timeout
	}
	opts = append(opts, config.WithOverrides(overrides))

	cfg, _, err := config.Load(opts...)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func (c *CLI) stringOverride(key string) *string {
	if !c.v.IsSet(key) {
		return nil
	}
	value := c.v.GetString(key)
	return &value
}

func (c *CLI) intOverride(key string) *int {
	if !c.v.IsSet(key) {
		return nil
	}
	value := c.v.GetInt(key)
	return &value
}

func (c *CLI) jsonOutput() bool {
	return c.v.GetBool(keyJSON)
}

// progress returns a sink that echoes operation progress to errOut.
func (c *CLI) progress() history.LogSink {
	return func(line string) {
		fmt.Fprintln(c.errOut, gray(line))
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
