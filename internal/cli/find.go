package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/restcore/internal/query"
)

// FindOptions holds flags for the find command.
type FindOptions struct {
	*RootOptions
	CallerOptions
	Where   string
	Keys    string
	Include string
	Order   string
	Limit   int
	Skip    int
	Count   bool
}

// FindOutput is the find command payload.
type FindOutput struct {
	Results []map[string]any `json:"results"`
	Count   *int             `json:"count,omitempty"`
}

// NewFindCommand creates the find command.
func NewFindCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FindOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "find <class>",
		Short: "Query objects of a class",
		Long: `Query objects of a class.

Results are filtered by ACLs and class permissions of the caller:
anonymous by default, the user of --session, or master with --master.

Examples:
  restcore find Post --where '{"views":{"$gt":10}}' --order -views --limit 5
  restcore find Post --include author --keys title,author.username
  restcore find _User --master --count --limit 0`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFind(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Where, "where", "{}", "query constraint as JSON")
	cmd.Flags().StringVar(&opts.Keys, "keys", "", "comma-separated keys to select")
	cmd.Flags().StringVar(&opts.Include, "include", "", "comma-separated pointer paths to include")
	cmd.Flags().StringVar(&opts.Order, "order", "", "comma-separated sort keys, '-' for descending")
	cmd.Flags().IntVar(&opts.Limit, "limit", -1, "maximum number of results (-1 for the default)")
	cmd.Flags().IntVar(&opts.Skip, "skip", 0, "number of results to skip")
	cmd.Flags().BoolVar(&opts.Count, "count", false, "also return the total count")
	cmd.Flags().BoolVar(&opts.Master, "master", false, "run with the master key")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session token of the caller")

	return cmd
}

func runFind(opts *FindOptions, className string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	where, err := parseObjectFlag("where", opts.Where)
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

	qo := query.Options{
		Keys:    opts.Keys,
		Include: opts.Include,
		Order:   opts.Order,
		Skip:    opts.Skip,
		Count:   opts.Count,
	}
	if opts.Limit >= 0 {
		limit := opts.Limit
		qo.Limit = &limit
	}

	res, err := query.Find(ctx, rt, a, className, where, qo)
	if err != nil {
		return out.Rejected(err)
	}
	logger.Debug("find done", "class_name", className, "results", len(res.Results))

	output := FindOutput{Results: make([]map[string]any, len(res.Results)), Count: res.Count}
	for i, obj := range res.Results {
		output.Results[i] = obj
	}
	return out.Success(output)
}
