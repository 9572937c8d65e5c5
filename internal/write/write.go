package write

import (
	"context"

	"github.com/roach88/restcore/internal/apierr"
	"github.com/roach88/restcore/internal/auth"
	"github.com/roach88/restcore/internal/ir"
	"github.com/roach88/restcore/internal/storage"
	"github.com/roach88/restcore/internal/tenant"
)

// Result is the response of a write.
type Result struct {
	Response ir.Object `json:"response"`
	// Status is 201 for creates, 0 otherwise.
	Status   int    `json:"status,omitempty"`
	Location string `json:"location,omitempty"`
	// Object is the row as persisted. Nil when the write short-circuited.
	Object ir.Object `json:"-"`
}

// Write is one create or update in flight. A Write is single-use and not
// safe for concurrent use.
type Write struct {
	rt        *tenant.Runtime
	auth      *auth.Auth
	className string

	// query selects the row on update; nil on create.
	query ir.Object
	// queryID is the objectId the update targets. It survives rewrites of
	// query such as the session user scope.
	queryID string

	data         ir.Object
	clientData   ir.Object
	originalData ir.Object

	runOptions storage.WriteOptions
	updatedAt  string

	hookContext map[string]any
	// fieldsChangedByTrigger lists data keys set by beforeSave or defaults.
	fieldsChangedByTrigger []string

	authProvider string
	followups    []followup
	response     *Result
	stored       ir.Object
}

// New validates the shape of a write and returns its descriptor. query is
// nil on create; originalData is the stored row on update.
func New(rt *tenant.Runtime, a *auth.Auth, className string, q ir.Object, data ir.Object, originalData ir.Object) (*Write, error) {
	if a == nil {
		a = auth.Nobody()
	}
	if a.IsReadOnly {
		return nil, apierr.New(apierr.OperationForbidden, "Cannot perform a write operation when using readOnlyMasterKey")
	}
	if data == nil {
		data = ir.Object{}
	}
	if _, ok := data["id"]; ok {
		return nil, apierr.New(apierr.InvalidKeyName, "id is an invalid field name.")
	}

	normalized, err := ir.Normalize(data)
	if err != nil {
		return nil, apierr.Wrap(apierr.InvalidJSON, err, "invalid object: %v", err)
	}
	data = normalized.(ir.Object)

	w := &Write{
		rt:           rt,
		auth:         a,
		className:    className,
		data:         data,
		clientData:   ir.CloneObject(data),
		originalData: ir.CloneObject(originalData),
		updatedAt:    ir.FormatTime(rt.Now()),
		hookContext:  make(map[string]any),
	}

	if q != nil {
		w.query = ir.CloneObject(q)
		w.queryID, _ = q[ir.FieldObjectID].(string)
		if id, ok := data[ir.FieldObjectID]; ok && id != w.queryID {
			return nil, apierr.New(apierr.InvalidKeyName, "objectId is an invalid field name.")
		}
	} else if id, ok := data[ir.FieldObjectID]; ok {
		if !rt.Config.AllowCustomObjectID {
			return nil, apierr.New(apierr.InvalidKeyName, "objectId is an invalid field name.")
		}
		if s, _ := id.(string); s == "" {
			return nil, apierr.New(apierr.MissingObjectID, "objectId must not be empty, null or undefined")
		}
	}
	return w, nil
}

// Context returns the map shared by the beforeSave and afterSave hooks of
// this write. Callers may seed it before Execute.
func (w *Write) Context() map[string]any {
	return w.hookContext
}

// ClassName returns the class being written.
func (w *Write) ClassName() string {
	return w.className
}

// Data returns the pending patch.
func (w *Write) Data() ir.Object {
	return w.data
}

// objectID returns the id of the row being written, once known.
func (w *Write) objectID() string {
	if id, ok := w.data[ir.FieldObjectID].(string); ok && id != "" {
		return id
	}
	return w.queryID
}

func (w *Write) isUpdate() bool {
	return w.query != nil
}

// Create runs a create of className.
func Create(ctx context.Context, rt *tenant.Runtime, a *auth.Auth, className string, data ir.Object) (*Result, error) {
	w, err := New(rt, a, className, nil, data, nil)
	if err != nil {
		return nil, err
	}
	return w.Execute(ctx)
}

// Update loads the current row of objectID and runs an update of it.
// The row is read from storage directly, so read hooks never shape the
// original. Access is checked against a when the row is written.
func Update(ctx context.Context, rt *tenant.Runtime, a *auth.Auth, className, objectID string, data ir.Object) (*Result, error) {
	res, err := rt.Storage.Find(ctx, className, ir.Object{ir.FieldObjectID: objectID}, storage.FindOptions{Limit: storage.Limit(1)})
	if err != nil {
		return nil, err
	}
	if len(res.Results) == 0 {
		return nil, apierr.New(apierr.ObjectNotFound, "Object not found.")
	}
	w, err := New(rt, a, className, ir.Object{ir.FieldObjectID: objectID}, data, res.Results[0])
	if err != nil {
		return nil, err
	}
	return w.Execute(ctx)
}
