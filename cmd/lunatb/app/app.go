// Package app implements the lunatb command-line application.
package app

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lunalabs/testbench/internal/ingest"
	"github.com/lunalabs/testbench/internal/labels"
	"github.com/lunalabs/testbench/internal/registry"
	"github.com/lunalabs/testbench/internal/storage"
)

type application struct {
	logger   *slog.Logger
	logLevel *slog.LevelVar
	config   *Config

	configPath string
	logLevelS  string
	jsonLogs   bool

	dbPath string
}

// New creates the root lunatb command with all subcommands attached.
func New() *cobra.Command {
	a := &application{
		logLevel: new(slog.LevelVar),
		config:   &Config{},
	}

	root := &cobra.Command{
		Use:           "lunatb",
		Short:         "Lab test-bench artifact ingestion",
		Long:          "lunatb imports run registry sheets, device sensor logs and label events into a SQLite database.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a YAML or TOML configuration file")
	root.PersistentFlags().StringVar(&a.logLevelS, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&a.jsonLogs, "json-logs", false, "emit logs as JSON")
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "path to the SQLite database file")

	root.AddCommand(a.dbInitCmd())
	root.AddCommand(a.registryCmd())
	root.AddCommand(a.ingestCmd())
	root.AddCommand(a.labelCmd())

	return root
}

// setup loads the configuration file (if given), reconciles it with the
// command-line flags and initialises logging. Flags that were set on the
// command line always win over configuration values.
func (a *application) setup(cmd *cobra.Command) error {
	if a.configPath != "" {
		config, err := LoadConfig(a.configPath)
		if err != nil {
			return err
		}
		a.config = config
	}

	if !cmd.Flags().Changed("log-level") && a.config.Settings.LogLevel != "" {
		a.logLevelS = a.config.Settings.LogLevel
	}
	if !cmd.Flags().Changed("json-logs") && a.config.Settings.JSONLogs {
		a.jsonLogs = true
	}
	if a.dbPath == "" {
		a.dbPath = a.config.Database.Path
	}

	if err := a.logLevel.UnmarshalText([]byte(a.logLevelS)); err != nil {
		return fmt.Errorf("invalid log level %q", a.logLevelS)
	}

	opts := &slog.HandlerOptions{Level: a.logLevel}
	var handler slog.Handler
	if a.jsonLogs {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	a.logger = slog.New(handler)

	return nil
}

// openStore validates the database path and opens the storage layer.
func (a *application) openStore() (*storage.Store, error) {
	if a.dbPath == "" {
		return nil, fmt.Errorf("database path is required: use --db or set database.path in the config file")
	}
	return storage.Open(a.dbPath), nil
}

func (a *application) dbInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "db-init",
		Short: "Create the database and apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if a.dbPath == "" {
				return fmt.Errorf("database path is required: use --db or set database.path in the config file")
			}
			if dir := filepath.Dir(a.dbPath); dir != "." {
				if err = os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("creating database directory: %w", err)
				}
			}

			store := storage.Open(a.dbPath)
			defer closeWithError(&err, store)

			if err = store.Migrate(cmd.Context()); err != nil {
				return err
			}

			a.logger.Info("database initialised", "path", a.dbPath)
			return nil
		},
	}
}

func (a *application) registryCmd() *cobra.Command {
	registryRoot := &cobra.Command{
		Use:   "registry",
		Short: "Manage the run registry",
	}

	var (
		file      string
		sheet     string
		defaultTZ string
	)

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import or update run registry entries from a CSV or XLSX sheet",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeWithError(&err, store)

			opts := []registry.Option{registry.WithLogger(a.logger)}
			if sheet == "" {
				sheet = a.config.Import.SheetName
			}
			if sheet != "" {
				opts = append(opts, registry.WithSheetName(sheet))
			}
			if defaultTZ == "" {
				defaultTZ = a.config.Import.DefaultTimezone
			}
			if defaultTZ != "" {
				opts = append(opts, registry.WithDefaultTimezone(defaultTZ))
			}

			_, err = registry.Import(cmd.Context(), store, file, opts...)
			return err
		},
	}

	importCmd.Flags().StringVarP(&file, "file", "f", "", "path to the registry CSV or XLSX file")
	importCmd.Flags().StringVar(&sheet, "sheet", "", "worksheet name for XLSX files")
	importCmd.Flags().StringVar(&defaultTZ, "default-tz", "", "IANA timezone for naive timestamps")
	cobra.CheckErr(importCmd.MarkFlagRequired("file"))

	registryRoot.AddCommand(importCmd)
	return registryRoot
}

func (a *application) ingestCmd() *cobra.Command {
	var (
		deviceID     string
		diaperType   string
		sensorLayout string
		runNotes     string
		defaultTZ    string
	)

	cmd := &cobra.Command{
		Use:   "ingest <log-file>...",
		Short: "Parse device logs and ingest them as runs with readings",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeWithError(&err, store)

			if defaultTZ == "" {
				defaultTZ = a.config.Import.DefaultTimezone
			}

			params := ingest.Params{
				DeviceID:     deviceID,
				DiaperType:   diaperType,
				SensorLayout: sensorLayout,
				DefaultTZ:    defaultTZ,
				Logger:       a.logger,
			}
			if runNotes != "" {
				params.RunNotes = &runNotes
			}

			_, err = ingest.Logs(cmd.Context(), store, args, params)
			return err
		},
	}

	cmd.Flags().StringVar(&deviceID, "device-id", "", "identifier of the logging device")
	cmd.Flags().StringVar(&diaperType, "diaper-type", "", "product type under test")
	cmd.Flags().StringVar(&sensorLayout, "sensor-layout", "", "sensor placement description")
	cmd.Flags().StringVar(&runNotes, "run-notes", "", "free-form notes stored with each run")
	cmd.Flags().StringVar(&defaultTZ, "default-tz", "", "IANA timezone for naive timestamps")

	return cmd
}

func (a *application) labelCmd() *cobra.Command {
	labelRoot := &cobra.Command{
		Use:   "label",
		Short: "Manage label events",
	}

	var (
		file  string
		runID int64
	)

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import label events from a CSV file",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeWithError(&err, store)

			var defaultRunID *int64
			if cmd.Flags().Changed("run-id") {
				defaultRunID = &runID
			}

			_, err = labels.ImportCSV(cmd.Context(), store, file, defaultRunID, a.logger)
			return err
		},
	}

	importCmd.Flags().StringVarP(&file, "file", "f", "", "path to the label CSV file")
	importCmd.Flags().Int64Var(&runID, "run-id", 0, "run id for rows without a run_id column")
	cobra.CheckErr(importCmd.MarkFlagRequired("file"))

	labelRoot.AddCommand(importCmd)
	return labelRoot
}

func closeWithError(err *error, c interface{ Close() error }) {
	if cerr := c.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}
