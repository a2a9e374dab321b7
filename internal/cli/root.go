// Package cli implements syncctl, the admin tool for a sqlite-backed queue.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"

	"offlinesync/internal/config"
	"offlinesync/internal/database"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{FormatText, FormatJSON}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	DBPath     string
	Format     string
	Verbose    bool

	cfg    *config.Config
	logger zerolog.Logger
}

// NewRootCommand creates the syncctl root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "syncctl",
		Short:         "Inspect and manage the offline mutation queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}

			level := zerolog.WarnLevel
			if opts.Verbose {
				level = zerolog.DebugLevel
			}
			opts.logger = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), NoColor: true}).
				Level(level).With().Timestamp().Logger()

			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if opts.DBPath != "" {
				cfg.Database.Path = opts.DBPath
			}
			if cfg.Storage.Backend != config.BackendSQLite && opts.DBPath == "" {
				return fmt.Errorf("syncctl works on the sqlite store, config selects %q", cfg.Storage.Backend)
			}
			opts.cfg = cfg
			return nil
		},
	}

	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "configs/config.yaml"
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", defaultConfig, "config file")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "sqlite database path, overrides the config")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", FormatText, "output format (text|json)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewDeadLetterCommand(opts))

	return cmd
}

func (o *RootOptions) openDB() (*database.DB, error) {
	db, err := database.NewDB(o.cfg.Database.Path, &o.logger)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", o.cfg.Database.Path, err)
	}
	return db, nil
}

func (o *RootOptions) historyLimit() int {
	return o.cfg.Sync.HistoryLimit
}

func (o *RootOptions) asJSON() bool {
	return o.Format == FormatJSON
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
