package triggers

import (
	"context"
	"fmt"

	"github.com/roach88/restcore/internal/apierr"
	"github.com/roach88/restcore/internal/ir"
)

// Dispatch runs the trigger registered for req's phase and class. It returns
// (nil, nil) when no trigger is registered.
//
// The hook sees copies: objects are cloned and save-phase context maps are
// copied, then merged back into req.Context only on success. The response
// is normalized per phase:
//
//	beforeSave  Object is the hook's replacement, or the (possibly edited) copy
//	afterSave   empty
//	beforeFind  Query is the (possibly edited) copy; Objects if the hook answered
//	afterFind   Objects is the replacement set, or the original set when nil
func (r *Registry) Dispatch(ctx context.Context, tenantID string, req Request) (*Response, error) {
	key := req.key()
	if key.Category != CategoryTrigger {
		return nil, fmt.Errorf("dispatch: %T is not a trigger request", req)
	}
	h, ok := r.Lookup(tenantID, key)
	if !ok {
		return nil, nil
	}
	fn := h.(TriggerFunc)
	log := loggerFor(req.common())

	var view Request
	var hookCtx map[string]any
	switch rq := req.(type) {
	case *BeforeSaveRequest:
		cp := *rq
		cp.Object = ir.CloneObject(rq.Object)
		cp.Original = ir.CloneObject(rq.Original)
		cp.Context = cloneContext(rq.Context)
		hookCtx = cp.Context
		view = &cp
	case *AfterSaveRequest:
		cp := *rq
		cp.Object = ir.CloneObject(rq.Object)
		cp.Original = ir.CloneObject(rq.Original)
		cp.Context = cloneContext(rq.Context)
		hookCtx = cp.Context
		view = &cp
	case *BeforeFindRequest:
		cp := *rq
		cp.Query = rq.Query.Clone()
		if cp.Query == nil {
			cp.Query = &QueryView{Where: ir.Object{}}
		}
		view = &cp
	case *AfterFindRequest:
		cp := *rq
		cp.Query = rq.Query.Clone()
		cp.Objects = cloneObjects(rq.Objects)
		view = &cp
	}

	resp, err := call(func() (*Response, error) { return fn(ctx, view) })
	if err != nil {
		err = scriptError(err)
		log.Warn("trigger failed", "trigger", key.String(), "user_id", userID(req), "error", err)
		return nil, err
	}
	log.Debug("trigger succeeded", "trigger", key.String(), "user_id", userID(req))

	out := &Response{}
	switch v := view.(type) {
	case *BeforeSaveRequest:
		mergeContext(req.(*BeforeSaveRequest).Context, hookCtx)
		out.Object = v.Object
		if resp != nil && resp.Object != nil {
			out.Object = resp.Object
		}
	case *AfterSaveRequest:
		mergeContext(req.(*AfterSaveRequest).Context, hookCtx)
	case *BeforeFindRequest:
		out.Query = v.Query
		if resp != nil {
			if resp.Query != nil {
				out.Query = resp.Query
			}
			out.Objects = resp.Objects
		}
	case *AfterFindRequest:
		out.Objects = req.(*AfterFindRequest).Objects
		if resp != nil && resp.Objects != nil {
			out.Objects = resp.Objects
		}
	}
	return out, nil
}

// RunFunction runs the named cloud function, after its validator if one is
// registered. Validator failures without a code become ValidationError;
// function failures become ScriptFailed.
func (r *Registry) RunFunction(ctx context.Context, tenantID string, req *FunctionRequest) (any, error) {
	h, ok := r.Lookup(tenantID, FunctionKey(req.FunctionName))
	if !ok {
		return nil, apierr.New(apierr.ScriptFailed, "Invalid function: %q", req.FunctionName)
	}
	cp := *req
	cp.Params = ir.CloneObject(req.Params)
	log := loggerFor(&cp.Common)

	if v, ok := r.Lookup(tenantID, ValidatorKey(req.FunctionName)); ok {
		_, err := call(func() (struct{}, error) { return struct{}{}, v.(ValidatorFunc)(ctx, &cp) })
		if err != nil {
			if _, coded := apierr.As(err); !coded {
				err = apierr.Wrap(apierr.ValidationError, err, "%s", err.Error())
			}
			log.Warn("validator failed", "function", req.FunctionName, "error", err)
			return nil, err
		}
	}

	result, err := call(func() (any, error) { return h.(FunctionFunc)(ctx, &cp) })
	if err != nil {
		err = scriptError(err)
		log.Warn("function failed", "function", req.FunctionName, "error", err)
		return nil, err
	}
	log.Debug("function succeeded", "function", req.FunctionName)
	return result, nil
}

// RunJob runs the named job.
func (r *Registry) RunJob(ctx context.Context, tenantID string, req *FunctionRequest) (any, error) {
	h, ok := r.Lookup(tenantID, JobKey(req.FunctionName))
	if !ok {
		return nil, apierr.New(apierr.ScriptFailed, "Invalid job: %q", req.FunctionName)
	}
	cp := *req
	cp.Params = ir.CloneObject(req.Params)
	result, err := call(func() (any, error) { return h.(FunctionFunc)(ctx, &cp) })
	if err != nil {
		return nil, scriptError(err)
	}
	return result, nil
}

func userID(req Request) string {
	if u := req.common().User; u != nil {
		return ir.ObjectID(u)
	}
	return ""
}
