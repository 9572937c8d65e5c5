package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/roach88/restcore/internal/auth"
	"github.com/roach88/restcore/internal/ir"
	"github.com/roach88/restcore/internal/schema"
	"github.com/roach88/restcore/internal/store"
	"github.com/roach88/restcore/internal/tenant"
)

// CallerOptions select who a read or write runs as.
type CallerOptions struct {
	Master  bool
	Session string
}

// openTenant loads the config, opens the database, registers the schema
// files and builds the tenant runtime. The caller closes the store after
// waiting on the runtime.
func openTenant(ctx context.Context, opts *RootOptions, logger *slog.Logger) (*tenant.Runtime, *store.Store, error) {
	cfg := tenant.DefaultConfig()
	if opts.Config != "" {
		var err error
		cfg, err = tenant.LoadConfig(opts.Config)
		if err != nil {
			return nil, nil, WrapExitError(ExitCommandError, "failed to load config", err)
		}
	}

	dbPath := opts.DB
	if dbPath == "" {
		dbPath = DefaultDB
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	for _, path := range opts.Schema {
		classes, err := schema.LoadFile(path)
		if err != nil {
			st.Close()
			return nil, nil, WrapExitError(ExitCommandError, "failed to load schema", err)
		}
		if err := st.RegisterClasses(ctx, classes...); err != nil {
			st.Close()
			return nil, nil, WrapExitError(ExitCommandError, "failed to register classes", err)
		}
		logger.Debug("registered schema file", "path", path, "classes", len(classes))
	}

	return tenant.New(cfg, st, tenant.WithLogger(logger)), st, nil
}

// callerAuth resolves the caller of a command. A session token wins over
// anonymous access; --master wins over both.
func callerAuth(ctx context.Context, rt *tenant.Runtime, st *store.Store, caller CallerOptions) (*auth.Auth, error) {
	switch {
	case caller.Master:
		return auth.Master(), nil
	case caller.Session != "":
		return auth.FromSessionToken(ctx, st, rt.Cache, caller.Session, "", rt.Now())
	default:
		return auth.Nobody(), nil
	}
}

// parseObjectFlag decodes a JSON object flag value.
func parseObjectFlag(name, value string) (ir.Object, error) {
	if value == "" {
		return ir.Object{}, nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(value), &obj); err != nil {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid --%s JSON: %v", name, err))
	}
	if obj == nil {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("--%s must be a JSON object", name))
	}
	return obj, nil
}
