package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Config is a tenant YAML config file. Empty uses the defaults.
	Config string
	// DB is the SQLite database path.
	DB string
	// Schema lists CUE class files registered before the command runs.
	Schema []string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// DefaultDB is the database used when --db is not given.
const DefaultDB = "restcore.db"

// NewRootCommand creates the root command for the restcore CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "restcore",
		Short: "restcore - object queries and writes with cloud triggers",
		Long: `Run queries and writes against a restcore document store.

Objects live in a SQLite database. Reads enforce ACLs and class
permissions unless --master is given; writes run the full save pipeline
including user, session and installation rules.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			slog.SetDefault(newLogger(cmd.ErrOrStderr(), opts.Verbose))
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "tenant config file (YAML)")
	cmd.PersistentFlags().StringVar(&opts.DB, "db", DefaultDB, "SQLite database path")
	cmd.PersistentFlags().StringSliceVar(&opts.Schema, "schema", nil, "CUE class schema files to register")

	cmd.AddCommand(NewSchemaCommand(opts))
	cmd.AddCommand(NewFindCommand(opts))
	cmd.AddCommand(NewSaveCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// newLogger returns a text logger on w. Verbose enables debug records.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
