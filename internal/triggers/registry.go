package triggers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/restcore/internal/apierr"
	"github.com/roach88/restcore/internal/ir"
)

// ErrFrozen is returned when registering into a frozen tenant.
var ErrFrozen = errors.New("trigger registry is frozen")

// tenantStore holds the registrations of one tenant.
type tenantStore struct {
	frozen     bool
	functions  map[string]FunctionFunc
	jobs       map[string]FunctionFunc
	validators map[string]ValidatorFunc
	triggers   map[Key]TriggerFunc
	liveQuery  []LiveQueryHandler
}

func newTenantStore() *tenantStore {
	return &tenantStore{
		functions:  make(map[string]FunctionFunc),
		jobs:       make(map[string]FunctionFunc),
		validators: make(map[string]ValidatorFunc),
		triggers:   make(map[Key]TriggerFunc),
	}
}

// Registry stores hooks per tenant. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	tenants map[string]*tenantStore
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{tenants: make(map[string]*tenantStore)}
}

// tenantLocked returns the store of tenantID, creating it. Caller holds r.mu.
func (r *Registry) tenantLocked(tenantID string) *tenantStore {
	ts, ok := r.tenants[tenantID]
	if !ok {
		ts = newTenantStore()
		r.tenants[tenantID] = ts
	}
	return ts
}

// Register adds handler under key. The handler type must match the
// category: FunctionFunc for functions and jobs, ValidatorFunc for
// validators, TriggerFunc for triggers.
func (r *Registry) Register(tenantID string, key Key, handler any) error {
	if err := key.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := r.tenantLocked(tenantID)
	if ts.frozen {
		return fmt.Errorf("register %s: %w", key, ErrFrozen)
	}

	switch key.Category {
	case CategoryFunction, CategoryJob:
		fn := asFunctionFunc(handler)
		if fn == nil {
			return fmt.Errorf("register %s: handler must be a non-nil FunctionFunc, got %T", key, handler)
		}
		if key.Category == CategoryFunction {
			ts.functions[key.Name] = fn
		} else {
			ts.jobs[key.Name] = fn
		}
	case CategoryValidator:
		fn := asValidatorFunc(handler)
		if fn == nil {
			return fmt.Errorf("register %s: handler must be a non-nil ValidatorFunc, got %T", key, handler)
		}
		ts.validators[key.Name] = fn
	case CategoryTrigger:
		fn := asTriggerFunc(handler)
		if fn == nil {
			return fmt.Errorf("register %s: handler must be a non-nil TriggerFunc, got %T", key, handler)
		}
		ts.triggers[TriggerKey(key.Phase, key.ClassName)] = fn
	}
	slog.Debug("registered hook", "tenant_id", tenantID, "key", key.String())
	return nil
}

// asFunctionFunc accepts a FunctionFunc or a func literal of the same
// signature. Nil handlers yield nil.
func asFunctionFunc(handler any) FunctionFunc {
	switch fn := handler.(type) {
	case FunctionFunc:
		return fn
	case func(context.Context, *FunctionRequest) (any, error):
		return fn
	}
	return nil
}

func asValidatorFunc(handler any) ValidatorFunc {
	switch fn := handler.(type) {
	case ValidatorFunc:
		return fn
	case func(context.Context, *FunctionRequest) error:
		return fn
	}
	return nil
}

func asTriggerFunc(handler any) TriggerFunc {
	switch fn := handler.(type) {
	case TriggerFunc:
		return fn
	case func(context.Context, Request) (*Response, error):
		return fn
	}
	return nil
}

// RegisterFunction registers a cloud function and, if validator is non-nil,
// its validator.
func (r *Registry) RegisterFunction(tenantID, name string, fn FunctionFunc, validator ValidatorFunc) error {
	if err := r.Register(tenantID, FunctionKey(name), fn); err != nil {
		return err
	}
	if validator != nil {
		return r.Register(tenantID, ValidatorKey(name), validator)
	}
	return nil
}

// RegisterJob registers a background job.
func (r *Registry) RegisterJob(tenantID, name string, fn FunctionFunc) error {
	return r.Register(tenantID, JobKey(name), fn)
}

// RegisterTrigger registers a class trigger.
func (r *Registry) RegisterTrigger(tenantID string, phase Phase, className string, fn TriggerFunc) error {
	return r.Register(tenantID, TriggerKey(phase, className), fn)
}

// Lookup returns the handler registered under key.
func (r *Registry) Lookup(tenantID string, key Key) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ts, ok := r.tenants[tenantID]
	if !ok {
		return nil, false
	}
	switch key.Category {
	case CategoryFunction:
		fn, ok := ts.functions[key.Name]
		return fn, ok
	case CategoryJob:
		fn, ok := ts.jobs[key.Name]
		return fn, ok
	case CategoryValidator:
		fn, ok := ts.validators[key.Name]
		return fn, ok
	case CategoryTrigger:
		fn, ok := ts.triggers[TriggerKey(key.Phase, key.ClassName)]
		return fn, ok
	}
	return nil, false
}

// TriggerExists reports whether a trigger is registered for phase and class.
func (r *Registry) TriggerExists(tenantID string, phase Phase, className string) bool {
	_, ok := r.Lookup(tenantID, TriggerKey(phase, className))
	return ok
}

// Remove deletes the registration under key.
func (r *Registry) Remove(tenantID string, key Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts, ok := r.tenants[tenantID]
	if !ok {
		return nil
	}
	if ts.frozen {
		return fmt.Errorf("remove %s: %w", key, ErrFrozen)
	}
	switch key.Category {
	case CategoryFunction:
		delete(ts.functions, key.Name)
	case CategoryJob:
		delete(ts.jobs, key.Name)
	case CategoryValidator:
		delete(ts.validators, key.Name)
	case CategoryTrigger:
		delete(ts.triggers, TriggerKey(key.Phase, key.ClassName))
	}
	return nil
}

// Freeze seals the registrations of tenantID.
func (r *Registry) Freeze(tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenantLocked(tenantID).frozen = true
}

// UnregisterAll drops every registration of every tenant, frozen or not.
func (r *Registry) UnregisterAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants = make(map[string]*tenantStore)
}

// RegisterLiveQueryHandler appends a live query event handler.
func (r *Registry) RegisterLiveQueryHandler(tenantID string, h LiveQueryHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts := r.tenantLocked(tenantID)
	if ts.frozen {
		return fmt.Errorf("register live query handler: %w", ErrFrozen)
	}
	ts.liveQuery = append(ts.liveQuery, h)
	return nil
}

// RunLiveQueryHandlers calls every live query handler of tenantID in
// registration order.
func (r *Registry) RunLiveQueryHandlers(tenantID string, data any) {
	r.mu.RLock()
	var handlers []LiveQueryHandler
	if ts, ok := r.tenants[tenantID]; ok {
		handlers = append(handlers, ts.liveQuery...)
	}
	r.mu.RUnlock()
	for _, h := range handlers {
		h(data)
	}
}

// scriptError normalizes a hook failure into an *apierr.Error.
func scriptError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apierr.As(err); ok {
		return err
	}
	return apierr.Wrap(apierr.ScriptFailed, err, "%s", err.Error())
}

// call runs fn, converting panics into ScriptFailed errors.
func call[T any](fn func() (T, error)) (out T, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = apierr.New(apierr.ScriptFailed, "%v", p)
		}
	}()
	return fn()
}

func loggerFor(c *Common) *slog.Logger {
	if c.Log != nil {
		return c.Log
	}
	return slog.Default()
}

// cloneContext returns a shallow copy of a hook context map.
func cloneContext(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// mergeContext writes the hook's view back into the caller's map.
func mergeContext(dst, src map[string]any) {
	if dst == nil {
		return
	}
	for k := range dst {
		if _, ok := src[k]; !ok {
			delete(dst, k)
		}
	}
	for k, v := range src {
		dst[k] = v
	}
}

func cloneObjects(objs []ir.Object) []ir.Object {
	out := make([]ir.Object, len(objs))
	for i, o := range objs {
		out[i] = ir.CloneObject(o)
	}
	return out
}
