package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/restcore/internal/apierr"
	"github.com/roach88/restcore/internal/auth"
	"github.com/roach88/restcore/internal/ir"
	"github.com/roach88/restcore/internal/query"
	"github.com/roach88/restcore/internal/schema"
	"github.com/roach88/restcore/internal/storage"
	"github.com/roach88/restcore/internal/store"
	"github.com/roach88/restcore/internal/tenant"
	"github.com/roach88/restcore/internal/testutil"
	"github.com/roach88/restcore/internal/triggers"
	"github.com/roach88/restcore/internal/write"
)

// Harness executes the steps of one scenario against one tenant.
type Harness struct {
	rt    *tenant.Runtime
	store *store.Store

	// saved holds step responses by alias.
	saved map[string]ir.Object
}

// Option configures a run.
type Option func(*runOptions)

type runOptions struct {
	hooks      []func(rt *tenant.Runtime) error
	logger     *slog.Logger
	tenantOpts []tenant.Option
}

// WithHooks registers triggers and functions on the tenant before the
// scenario runs.
func WithHooks(fn func(rt *tenant.Runtime) error) Option {
	return func(o *runOptions) { o.hooks = append(o.hooks, fn) }
}

// WithLogger sets the tenant logger. Logs are discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(o *runOptions) { o.logger = l }
}

// WithTenantOptions passes extra options to the tenant runtime.
func WithTenantOptions(opts ...tenant.Option) Option {
	return func(o *runOptions) { o.tenantOpts = append(o.tenantOpts, opts...) }
}

// Run executes a scenario and returns the result.
//
// Each scenario runs on a fresh in-memory store with a deterministic clock
// and sequential objectIds, so traces are reproducible. Background work
// started by a step completes before the next step runs.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	o := &runOptions{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(o)
	}

	cfg, err := buildConfig(scenario.Config)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	for _, path := range scenario.Schema {
		classes, err := schema.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load schema: %w", err)
		}
		if err := st.RegisterClasses(ctx, classes...); err != nil {
			return nil, fmt.Errorf("failed to register classes: %w", err)
		}
	}

	clock := testutil.NewDeterministicClock()
	base := []tenant.Option{
		tenant.WithClock(clock.Now),
		tenant.WithIDs(testutil.NewSequentialIDs("")),
		tenant.WithLogger(o.logger),
	}
	rt := tenant.New(cfg, st, append(base, o.tenantOpts...)...)
	defer rt.Wait()

	for _, hook := range o.hooks {
		if err := hook(rt); err != nil {
			return nil, fmt.Errorf("failed to register hooks: %w", err)
		}
	}

	h := &Harness{
		rt:    rt,
		store: st,
		saved: make(map[string]ir.Object),
	}

	for i, step := range scenario.Setup {
		if _, err := h.runStep(ctx, step, "master"); err != nil {
			return nil, fmt.Errorf("failed to execute setup[%d]: %w", i, err)
		}
	}

	result := NewResult()
	for i, step := range scenario.Flow {
		out, err := h.runStep(ctx, step, "anonymous")
		ev := TraceEvent{Action: stepAction(step), ID: out.id, Status: out.status, Response: out.response}
		if err != nil {
			ev.Error = apierr.CodeOf(err).String()
		}
		result.addTrace(ev)

		for _, msg := range h.checkExpect(step, out, err) {
			result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, ev.Action, msg))
		}
	}

	actx := &AssertionContext{Store: st, Ctx: ctx, resolve: h.resolve}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// buildConfig applies scenario overrides over the default configuration
// through the strict config decoder.
func buildConfig(overrides map[string]any) (tenant.Config, error) {
	if len(overrides) == 0 {
		return tenant.DefaultConfig(), nil
	}
	data, err := yaml.Marshal(overrides)
	if err != nil {
		return tenant.Config{}, fmt.Errorf("failed to encode config overrides: %w", err)
	}
	cfg, err := tenant.ParseConfig(data)
	if err != nil {
		return tenant.Config{}, fmt.Errorf("scenario config: %w", err)
	}
	return cfg, nil
}

// stepOutcome is what a step produced.
type stepOutcome struct {
	id       string
	status   int
	response any
	results  []ir.Object
	count    *int
}

func stepAction(step Step) string {
	if step.Op == OpCall {
		return OpCall + ":" + step.Function
	}
	return step.Op + ":" + step.Class
}

func (h *Harness) runStep(ctx context.Context, step Step, defaultAs string) (stepOutcome, error) {
	var out stepOutcome
	as := step.As
	if as == "" {
		as = defaultAs
	}
	a, err := h.authFor(ctx, as, step.Installation)
	if err != nil {
		return out, err
	}
	data, err := h.resolveObject(step.Data)
	if err != nil {
		return out, err
	}
	out.id, err = h.resolveString(step.ID)
	if err != nil {
		return out, err
	}

	switch step.Op {
	case OpCreate, OpUpdate:
		var res *write.Result
		if step.Op == OpCreate {
			res, err = write.Create(ctx, h.rt, a, step.Class, data)
		} else {
			res, err = write.Update(ctx, h.rt, a, step.Class, out.id, data)
		}
		h.rt.Wait()
		if err != nil {
			return out, err
		}
		out.status = res.Status
		out.response = res.Response
		saved := ir.CloneObject(res.Response)
		if out.id != "" {
			saved[ir.FieldObjectID] = out.id
		}
		h.save(step.SaveAs, saved)

	case OpFind:
		where, err := h.resolveObject(step.Where)
		if err != nil {
			return out, err
		}
		res, err := query.Find(ctx, h.rt, a, step.Class, where, readOptions(step.Options))
		if err != nil {
			return out, err
		}
		out.results = res.Results
		out.count = res.Count
		response := ir.Object{"results": objectsToAny(res.Results)}
		if res.Count != nil {
			response["count"] = float64(*res.Count)
		}
		if res.Values != nil {
			response["values"] = res.Values
		}
		out.response = response
		if len(res.Results) > 0 {
			h.save(step.SaveAs, res.Results[0])
		}

	case OpGet:
		obj, err := query.Get(ctx, h.rt, a, step.Class, out.id, readOptions(step.Options))
		if err != nil {
			return out, err
		}
		out.response = obj
		h.save(step.SaveAs, obj)

	case OpCall:
		res, err := h.rt.Triggers.RunFunction(ctx, h.rt.TenantID, &triggers.FunctionRequest{
			Common:       h.rt.HookCommon(a),
			FunctionName: step.Function,
			Params:       data,
		})
		h.rt.Wait()
		if err != nil {
			return out, err
		}
		normalized, err := ir.Normalize(res)
		if err != nil {
			return out, fmt.Errorf("function result: %w", err)
		}
		out.response = normalized
		if m, ok := normalized.(map[string]any); ok {
			h.save(step.SaveAs, m)
		}

	default:
		return out, fmt.Errorf("unknown op %q", step.Op)
	}
	return out, nil
}

func (h *Harness) save(alias string, obj ir.Object) {
	if alias != "" {
		h.saved[alias] = ir.CloneObject(obj)
	}
}

// authFor resolves a step caller. A saved user with a session token is
// authenticated through its session, like a client would be.
func (h *Harness) authFor(ctx context.Context, as, installationID string) (*auth.Auth, error) {
	var a *auth.Auth
	switch as {
	case "master":
		a = auth.Master()
	case "readonly":
		a = auth.ReadOnlyMaster()
	case "anonymous":
		a = auth.Nobody()
	default:
		user, ok := h.saved[as]
		if !ok {
			return nil, fmt.Errorf("unknown caller %q", as)
		}
		if token, ok := user["sessionToken"].(string); ok && token != "" {
			return auth.FromSessionToken(ctx, h.store, h.rt.Cache, token, installationID, h.rt.Now())
		}
		res, err := h.store.Find(ctx, ir.ClassUser, ir.Object{ir.FieldObjectID: ir.ObjectID(user)}, storage.FindOptions{})
		if err != nil {
			return nil, err
		}
		if len(res.Results) != 1 {
			return nil, fmt.Errorf("caller %q is not a stored user", as)
		}
		return auth.ForUser(res.Results[0], installationID), nil
	}
	a.InstallationID = installationID
	return a, nil
}

// resolve replaces "$alias" and "$alias.path" strings with saved values.
// Strings naming no saved alias are kept.
func (h *Harness) resolve(v any) (any, error) {
	switch val := v.(type) {
	case string:
		if !strings.HasPrefix(val, "$") {
			return val, nil
		}
		name, path, _ := strings.Cut(val[1:], ".")
		saved, ok := h.saved[name]
		if !ok {
			return val, nil
		}
		if path == "" {
			return ir.ObjectID(saved), nil
		}
		found, ok := ir.Lookup(saved, path)
		if !ok {
			return nil, fmt.Errorf("%s: no such field", val)
		}
		return ir.Clone(found), nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			r, err := h.resolve(elem)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			r, err := h.resolve(elem)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return val, nil
	}
}

func (h *Harness) resolveObject(m map[string]any) (ir.Object, error) {
	if m == nil {
		return nil, nil
	}
	normalized, err := ir.Normalize(m)
	if err != nil {
		return nil, err
	}
	r, err := h.resolve(normalized)
	if err != nil {
		return nil, err
	}
	return r.(map[string]any), nil
}

func (h *Harness) resolveString(s string) (string, error) {
	r, err := h.resolve(s)
	if err != nil {
		return "", err
	}
	str, ok := r.(string)
	if !ok {
		return "", fmt.Errorf("%s does not resolve to a string", s)
	}
	return str, nil
}

// checkExpect validates a step outcome and returns the mismatches.
func (h *Harness) checkExpect(step Step, out stepOutcome, err error) []string {
	exp := step.Expect
	if exp == nil {
		if err != nil {
			return []string{fmt.Sprintf("unexpected error: %v", err)}
		}
		return nil
	}
	if exp.Error != "" {
		if err == nil {
			return []string{fmt.Sprintf("expected error %s, got success", exp.Error)}
		}
		if got := apierr.CodeOf(err).String(); got != exp.Error {
			return []string{fmt.Sprintf("expected error %s, got %s: %v", exp.Error, got, err)}
		}
		return nil
	}
	if err != nil {
		return []string{fmt.Sprintf("unexpected error: %v", err)}
	}

	var errs []string
	if exp.Status != 0 && exp.Status != out.status {
		errs = append(errs, fmt.Sprintf("status: expected %d, got %d", exp.Status, out.status))
	}
	if exp.Response != nil {
		if msg := h.mismatch(out.response, exp.Response); msg != "" {
			errs = append(errs, "response: "+msg)
		}
	}
	if len(exp.Absent) > 0 {
		resp, _ := out.response.(map[string]any)
		for _, key := range exp.Absent {
			if _, ok := resp[key]; ok {
				errs = append(errs, fmt.Sprintf("response: %q should be absent", key))
			}
		}
	}
	if exp.Results != nil {
		if len(exp.Results) != len(out.results) {
			errs = append(errs, fmt.Sprintf("results: expected %d rows, got %d", len(exp.Results), len(out.results)))
		} else {
			for i, row := range exp.Results {
				if msg := h.mismatch(out.results[i], row); msg != "" {
					errs = append(errs, fmt.Sprintf("results[%d]: %s", i, msg))
				}
			}
		}
	}
	if exp.Count != nil {
		if out.count == nil {
			errs = append(errs, "count: not returned")
		} else if *out.count != *exp.Count {
			errs = append(errs, fmt.Sprintf("count: expected %d, got %d", *exp.Count, *out.count))
		}
	}
	return errs
}

// mismatch resolves aliases in expected and subset-matches actual.
func (h *Harness) mismatch(actual any, expected map[string]any) string {
	want, err := h.resolveObject(expected)
	if err != nil {
		return err.Error()
	}
	return subsetMismatch("", actual, want)
}

func readOptions(o *ReadOptions) query.Options {
	if o == nil {
		return query.Options{}
	}
	return query.Options{
		Keys:        o.Keys,
		ExcludeKeys: o.ExcludeKeys,
		Include:     o.Include,
		Order:       o.Order,
		Limit:       o.Limit,
		Skip:        o.Skip,
		Count:       o.Count,
		Distinct:    o.Distinct,
	}
}

func objectsToAny(objs []ir.Object) []any {
	out := make([]any, len(objs))
	for i, o := range objs {
		out[i] = o
	}
	return out
}
