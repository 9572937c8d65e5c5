package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/restcore/internal/schema"
)

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema <file.cue>",
		Short: "Compile class definitions and print their JSON Schema",
		Long: `Compile a CUE file of class definitions and print the JSON Schema
each class validates objects against.

The file declares classes under a top-level "classes" struct:

  classes: Post: {
    fields: title: {type: "String", required: true}
  }

Examples:
  restcore schema ./blog.cue
  restcore schema ./blog.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printSchema(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func printSchema(opts *RootOptions, path string, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	classes, err := schema.LoadFile(path)
	if err != nil {
		if outErr := out.Error("INVALID_SCHEMA", err.Error(), nil); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitCommandError, "failed to load schema", err)
	}

	schemas := make(map[string]any, len(classes))
	for _, c := range classes {
		schemas[c.Name] = c.JSONSchema()
	}
	return out.Success(schemas)
}
