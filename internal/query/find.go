package query

import (
	"context"

	"github.com/roach88/restcore/internal/apierr"
	"github.com/roach88/restcore/internal/auth"
	"github.com/roach88/restcore/internal/ir"
	"github.com/roach88/restcore/internal/tenant"
	"github.com/roach88/restcore/internal/triggers"
)

// Find runs the beforeFind trigger of className, then the query it leaves.
// A trigger that answers with objects short-circuits the read.
func Find(ctx context.Context, rt *tenant.Runtime, a *auth.Auth, className string, where ir.Object, opts Options) (*Result, error) {
	return find(ctx, rt, a, className, where, opts, false)
}

// Get returns one object by objectId. Missing and hidden objects are both
// reported as OBJECT_NOT_FOUND.
func Get(ctx context.Context, rt *tenant.Runtime, a *auth.Auth, className, objectID string, opts Options) (ir.Object, error) {
	res, err := find(ctx, rt, a, className, ir.Object{ir.FieldObjectID: objectID}, opts, true)
	if err != nil {
		return nil, err
	}
	if len(res.Results) == 0 {
		return nil, apierr.New(apierr.ObjectNotFound, "Object not found.")
	}
	return res.Results[0], nil
}

func find(ctx context.Context, rt *tenant.Runtime, a *auth.Auth, className string, where ir.Object, opts Options, isGet bool) (*Result, error) {
	if a == nil {
		a = auth.Nobody()
	}
	if rt.Triggers.TriggerExists(rt.TenantID, triggers.BeforeFind, className) {
		resp, err := rt.Triggers.Dispatch(ctx, rt.TenantID, &triggers.BeforeFindRequest{
			Common:    rt.HookCommon(a),
			ClassName: className,
			Query: &triggers.QueryView{
				Where:       where,
				Keys:        opts.Keys,
				ExcludeKeys: opts.ExcludeKeys,
				Include:     opts.Include,
				Order:       opts.Order,
				Limit:       opts.Limit,
				Skip:        opts.Skip,
				Count:       opts.Count,
			},
			IsGet: isGet,
		})
		if err != nil {
			return nil, err
		}
		if resp.Objects != nil {
			return &Result{Results: resp.Objects}, nil
		}
		if v := resp.Query; v != nil {
			where = v.Where
			opts.Keys = v.Keys
			opts.ExcludeKeys = v.ExcludeKeys
			opts.Include = v.Include
			opts.Order = v.Order
			opts.Limit = v.Limit
			opts.Skip = v.Skip
			opts.Count = v.Count
		}
	}

	q, err := New(rt, a, className, where, opts)
	if err != nil {
		return nil, err
	}
	return q.Execute(ctx)
}
