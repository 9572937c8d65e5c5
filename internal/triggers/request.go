package triggers

import (
	"context"
	"log/slog"

	"github.com/roach88/restcore/internal/ir"
)

// Common carries the fields every hook request exposes.
type Common struct {
	Master         bool
	User           ir.Object
	InstallationID string
	Log            *slog.Logger
	Headers        map[string]string
	IP             string
}

// Request is one of *BeforeSaveRequest, *AfterSaveRequest,
// *BeforeFindRequest, *AfterFindRequest or *FunctionRequest.
type Request interface {
	common() *Common
	key() Key
}

// BeforeSaveRequest is passed to beforeSave hooks. Object is the full row as
// it will be saved; the hook may mutate it or return a replacement.
type BeforeSaveRequest struct {
	Common
	ClassName string
	Object    ir.Object
	// Original is the stored row on update, nil on create.
	Original ir.Object
	// Context is shared with the afterSave hook of the same write.
	Context map[string]any
}

// AfterSaveRequest is passed to afterSave hooks.
type AfterSaveRequest struct {
	Common
	ClassName string
	Object    ir.Object
	Original  ir.Object
	Context   map[string]any
}

// QueryView is the hook-facing form of a query.
type QueryView struct {
	Where       ir.Object
	Keys        string
	ExcludeKeys string
	Include     string
	Order       string
	Limit       *int
	Skip        int
	Count       bool
}

// Clone returns a deep copy of q.
func (q *QueryView) Clone() *QueryView {
	if q == nil {
		return nil
	}
	out := *q
	out.Where = ir.CloneObject(q.Where)
	if out.Where == nil {
		out.Where = ir.Object{}
	}
	if q.Limit != nil {
		n := *q.Limit
		out.Limit = &n
	}
	return &out
}

// BeforeFindRequest is passed to beforeFind hooks. The hook may edit Query,
// or answer directly by returning objects.
type BeforeFindRequest struct {
	Common
	ClassName string
	Query     *QueryView
	IsGet     bool
}

// AfterFindRequest is passed to afterFind hooks. Objects are copies in wire
// format; the hook may return a replacement set.
type AfterFindRequest struct {
	Common
	ClassName string
	Query     *QueryView
	Objects   []ir.Object
}

// FunctionRequest is passed to functions, jobs and validators.
type FunctionRequest struct {
	Common
	FunctionName string
	Params       ir.Object
	// JobID is set when running as a job.
	JobID string
}

func (r *BeforeSaveRequest) common() *Common { return &r.Common }
func (r *AfterSaveRequest) common() *Common  { return &r.Common }
func (r *BeforeFindRequest) common() *Common { return &r.Common }
func (r *AfterFindRequest) common() *Common  { return &r.Common }
func (r *FunctionRequest) common() *Common   { return &r.Common }

func (r *BeforeSaveRequest) key() Key { return TriggerKey(BeforeSave, r.ClassName) }
func (r *AfterSaveRequest) key() Key  { return TriggerKey(AfterSave, r.ClassName) }
func (r *BeforeFindRequest) key() Key { return TriggerKey(BeforeFind, r.ClassName) }
func (r *AfterFindRequest) key() Key  { return TriggerKey(AfterFind, r.ClassName) }
func (r *FunctionRequest) key() Key   { return FunctionKey(r.FunctionName) }

// Response is what a hook hands back. Which fields are meaningful depends
// on the phase: Object for beforeSave, Query or Objects for beforeFind,
// Objects for afterFind.
type Response struct {
	Object  ir.Object
	Objects []ir.Object
	Query   *QueryView
}

// TriggerFunc handles a class trigger.
type TriggerFunc func(ctx context.Context, req Request) (*Response, error)

// FunctionFunc handles a cloud function or job.
type FunctionFunc func(ctx context.Context, req *FunctionRequest) (any, error)

// ValidatorFunc checks a function request before the function runs.
type ValidatorFunc func(ctx context.Context, req *FunctionRequest) error

// LiveQueryHandler observes live query events.
type LiveQueryHandler func(data any)
