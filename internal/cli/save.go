package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/restcore/internal/write"
)

// SaveOptions holds flags for the save command.
type SaveOptions struct {
	*RootOptions
	CallerOptions
	Data string
	ID   string
}

// NewSaveCommand creates the save command.
func NewSaveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SaveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "save <class>",
		Short: "Create or update an object",
		Long: `Create an object, or update one with --id.

The data may contain field operations such as
{"views":{"__op":"Increment","amount":1}}. Creating a _User signs up and
returns a session token usable with --session.

Examples:
  restcore save _User --data '{"username":"bob","password":"secret"}'
  restcore save Post --session r:abc --data '{"title":"hello"}'
  restcore save Post --id xWMyZ4YEGZ --master --data '{"views":0}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSave(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Data, "data", "", "object fields as JSON (required)")
	cmd.Flags().StringVar(&opts.ID, "id", "", "objectId to update")
	cmd.Flags().BoolVar(&opts.Master, "master", false, "run with the master key")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session token of the caller")
	_ = cmd.MarkFlagRequired("data")

	return cmd
}

func runSave(opts *SaveOptions, className string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	data, err := parseObjectFlag("data", opts.Data)
	if err != nil {
		return err
	}

	rt, st, err := openTenant(ctx, opts.RootOptions, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	defer rt.Wait()

	a, err := callerAuth(ctx, rt, st, opts.CallerOptions)
	if err != nil {
		return out.Rejected(err)
	}

	var res *write.Result
	if opts.ID != "" {
		res, err = write.Update(ctx, rt, a, className, opts.ID, data)
	} else {
		res, err = write.Create(ctx, rt, a, className, data)
	}
	if err != nil {
		return out.Rejected(err)
	}
	logger.Debug("save done", "class_name", className, "status", res.Status, "location", res.Location)
	return out.Success(res)
}
