package write

import (
	"context"
	"sort"
	"strings"

	"github.com/roach88/restcore/internal/apierr"
	"github.com/roach88/restcore/internal/auth"
	"github.com/roach88/restcore/internal/ir"
	"github.com/roach88/restcore/internal/services"
	"github.com/roach88/restcore/internal/storage"
	"github.com/roach88/restcore/internal/triggers"
)

// hiddenResponseFields never leave the server in a write response.
var hiddenResponseFields = map[string]bool{
	services.EmailVerifyTokenField:          true,
	services.EmailVerifyTokenExpiresAtField: true,
	auth.PasswordHistoryField:               true,
}

func isReservedField(key string) bool {
	switch key {
	case ir.FieldObjectID, ir.FieldCreatedAt, ir.FieldUpdatedAt:
		return true
	}
	return false
}

// updatedObject is the row as it will look after the write: the original
// row with the pending patch applied.
func (w *Write) updatedObject() (ir.Object, error) {
	obj := ir.CloneObject(w.originalData)
	if obj == nil {
		obj = ir.Object{}
	}
	if w.queryID != "" {
		obj[ir.FieldObjectID] = w.queryID
	}
	if err := ir.ApplyPatch(obj, w.data); err != nil {
		return nil, apierr.Wrap(apierr.InvalidJSON, err, "invalid update: %v", err)
	}
	return obj, nil
}

func (w *Write) originalObject() ir.Object {
	if w.queryID == "" {
		return nil
	}
	return ir.CloneObject(w.originalData)
}

func (w *Write) runBeforeSaveTrigger(ctx context.Context) (Outcome, error) {
	if w.runOptions.Many || !w.rt.Triggers.TriggerExists(w.rt.TenantID, triggers.BeforeSave, w.className) {
		return Continue(), nil
	}
	before, err := w.updatedObject()
	if err != nil {
		return Continue(), err
	}
	resp, err := w.rt.Triggers.Dispatch(ctx, w.rt.TenantID, &triggers.BeforeSaveRequest{
		Common:    w.rt.HookCommon(w.auth),
		ClassName: w.className,
		Object:    before,
		Original:  w.originalObject(),
		Context:   w.hookContext,
	})
	if err != nil {
		return Continue(), err
	}
	if resp == nil || resp.Object == nil {
		return Continue(), nil
	}
	w.applyHookObject(before, resp.Object)
	return Continue(), nil
}

// applyHookObject folds the object a beforeSave hook handed back into the
// pending patch. Fields the hook left as they were keep their original
// patch entry, so update operations survive.
func (w *Write) applyHookObject(before, after ir.Object) {
	next := ir.CloneObject(w.data)
	for key, v := range after {
		if isReservedField(key) {
			continue
		}
		if old, ok := before[key]; ok && ir.Equal(old, v) {
			continue
		}
		dropNested(next, key)
		next[key] = ir.Clone(v)
	}
	for key := range before {
		if isReservedField(key) {
			continue
		}
		if _, ok := after[key]; ok {
			continue
		}
		dropNested(next, key)
		if _, stored := w.originalData[key]; stored {
			next[key] = ir.Object{"__op": ir.OpDelete}
		} else {
			delete(next, key)
		}
	}

	var changed []string
	for key, v := range next {
		if old, ok := w.data[key]; !ok || !ir.Equal(old, v) {
			changed = append(changed, key)
		}
	}
	sort.Strings(changed)
	w.data = next
	w.fieldsChangedByTrigger = changed
}

func dropNested(obj ir.Object, root string) {
	for key := range obj {
		if strings.HasPrefix(key, root+".") {
			delete(obj, key)
		}
	}
}

func (w *Write) validateSchema(ctx context.Context) (Outcome, error) {
	var q ir.Object
	if w.isUpdate() {
		q = w.query
	}
	return Continue(), w.rt.Storage.ValidateObject(ctx, w.className, w.data, q)
}

// setRequiredFields stamps updatedAt, and on create createdAt, objectId and
// schema defaults. Running it again changes nothing.
func (w *Write) setRequiredFields(ctx context.Context) (Outcome, error) {
	sch, err := w.rt.Storage.LoadSchema(ctx)
	if err != nil {
		return Continue(), err
	}
	class, _ := sch.GetOneSchema(w.className)

	w.data[ir.FieldUpdatedAt] = w.updatedAt
	if !w.isUpdate() {
		w.data[ir.FieldCreatedAt] = w.updatedAt
		if id, _ := w.data[ir.FieldObjectID].(string); id == "" {
			w.data[ir.FieldObjectID] = w.rt.NewObjectID()
		}
	}
	if class == nil {
		return Continue(), nil
	}

	names := class.FieldNames()
	if w.isUpdate() {
		names = ir.SortedKeys(w.data)
	}
	for _, name := range names {
		f, ok := class.Field(name)
		if !ok {
			continue
		}
		v, present := w.data[name]
		deleted := ir.OpName(v) == ir.OpDelete
		if present && v != nil && v != "" && !deleted {
			continue
		}
		if !w.isUpdate() && f.DefaultValue != nil && (!present || deleted) {
			w.data[name] = ir.Clone(f.DefaultValue)
			w.markChangedByTrigger(name)
			continue
		}
		if f.Required {
			return Continue(), apierr.New(apierr.ValidationError, "%s is required", name)
		}
	}
	return Continue(), nil
}

func (w *Write) markChangedByTrigger(key string) {
	for _, k := range w.fieldsChangedByTrigger {
		if k == key {
			return
		}
	}
	w.fieldsChangedByTrigger = append(w.fieldsChangedByTrigger, key)
}

func (w *Write) runDatabaseOperation(ctx context.Context) (Outcome, error) {
	if w.className == ir.ClassRole {
		w.rt.Cache.ClearRoles()
	}
	if w.className == ir.ClassUser && w.isUpdate() && w.auth.IsUnauthenticated() {
		return Continue(), apierr.New(apierr.SessionMissing, "Cannot modify user %s.", w.queryID)
	}
	if w.isUpdate() {
		return Continue(), w.runUpdate(ctx)
	}
	return Continue(), w.runCreate(ctx)
}

func (w *Write) runUpdate(ctx context.Context) error {
	if _, ok := w.data[ir.FieldACL]; ok && !w.auth.IsMaster {
		// Nobody locks themselves out of their own row.
		w.data[ir.FieldACL] = ir.GrantOwner(w.data[ir.FieldACL], w.queryID)
	}
	if w.className == ir.ClassUser {
		if err := w.stampPasswordChange(ctx); err != nil {
			return err
		}
	}
	delete(w.data, ir.FieldCreatedAt)

	stored, err := w.rt.Storage.Update(ctx, w.className, w.query, w.data, w.runOptions)
	if err != nil {
		return err
	}
	w.stored = stored
	resp := ir.Object{ir.FieldUpdatedAt: w.data[ir.FieldUpdatedAt]}
	w.deriveResponse(resp, stored)
	w.response = &Result{Response: resp, Object: ir.CloneObject(stored)}
	return nil
}

// stampPasswordChange records when the password changed and pushes the old
// hash into the history, as the password policy requires.
func (w *Write) stampPasswordChange(ctx context.Context) error {
	if _, ok := w.data[auth.HashedPasswordField]; !ok {
		return nil
	}
	policy := w.rt.Config.PasswordPolicy
	if policy.MaxPasswordAge > 0 {
		w.data[auth.PasswordChangedAtField] = ir.NewDate(w.rt.Now())
	}
	if policy.MaxPasswordHistory <= 0 {
		return nil
	}
	res, err := w.rt.Storage.Find(ctx, ir.ClassUser, ir.Object{ir.FieldObjectID: w.queryID}, storage.FindOptions{
		Keys: []string{auth.PasswordHistoryField, auth.HashedPasswordField},
	})
	if err != nil {
		return err
	}
	if len(res.Results) != 1 {
		return apierr.New(apierr.ObjectNotFound, "Object not found.")
	}
	user := res.Results[0]
	var history []any
	if h, ok := user[auth.PasswordHistoryField].([]any); ok {
		history = append(history, h...)
	}
	for len(history) > max(0, policy.MaxPasswordHistory-2) {
		history = history[1:]
	}
	if old, ok := user[auth.HashedPasswordField].(string); ok {
		history = append(history, old)
	}
	w.data[auth.PasswordHistoryField] = history
	return nil
}

func (w *Write) runCreate(ctx context.Context) error {
	objectID := w.objectID()
	if w.className == ir.ClassUser {
		if _, ok := w.data[ir.FieldACL]; !ok {
			w.data[ir.FieldACL] = ir.Object{"*": map[string]any{"read": true, "write": false}}
		}
		w.data[ir.FieldACL] = ir.GrantOwner(w.data[ir.FieldACL], objectID)
		if w.rt.Config.PasswordPolicy.MaxPasswordAge > 0 {
			w.data[auth.PasswordChangedAtField] = ir.NewDate(w.rt.Now())
		}
	}

	row := ir.Object{}
	if err := ir.ApplyPatch(row, w.data); err != nil {
		return apierr.Wrap(apierr.InvalidJSON, err, "invalid object: %v", err)
	}
	if err := w.rt.Storage.Create(ctx, w.className, row); err != nil {
		return w.resolveDuplicate(ctx, err)
	}
	w.stored = row

	resp := ir.Object{
		ir.FieldObjectID:  objectID,
		ir.FieldCreatedAt: w.data[ir.FieldCreatedAt],
	}
	w.deriveResponse(resp, row)
	w.response = &Result{
		Response: resp,
		Status:   201,
		Location: w.location(),
		Object:   ir.CloneObject(row),
	}
	return nil
}

// resolveDuplicate turns a unique index collision on _User into the error
// naming the taken field.
func (w *Write) resolveDuplicate(ctx context.Context, err error) error {
	e, ok := apierr.As(err)
	if !ok || e.Code != apierr.DuplicateValue || w.className != ir.ClassUser {
		return err
	}
	switch e.Field {
	case "username":
		return errUsernameTaken()
	case "email":
		return errEmailTaken()
	}
	for _, field := range []string{"username", "email"} {
		v, ok := w.data[field].(string)
		if !ok {
			continue
		}
		res, ferr := w.rt.Storage.Find(ctx, ir.ClassUser, ir.Object{field: v}, storage.FindOptions{Limit: storage.Limit(1)})
		if ferr != nil {
			return ferr
		}
		if len(res.Results) > 0 {
			if field == "username" {
				return errUsernameTaken()
			}
			return errEmailTaken()
		}
	}
	return err
}

func errUsernameTaken() error {
	return apierr.New(apierr.UsernameTaken, "Account already exists for this username.")
}

func errEmailTaken() error {
	return apierr.New(apierr.EmailTaken, "Account already exists for this email address.")
}

// deriveResponse adds to resp the stored fields the client did not send as
// they were: server-set values, operation results and beforeSave edits.
func (w *Write) deriveResponse(resp ir.Object, stored ir.Object) {
	for key, v := range stored {
		if isReservedField(key) || hiddenResponseFields[key] || v == nil {
			continue
		}
		client, sent := w.clientData[key]
		switch {
		case sent && ir.OpName(client) == "" && ir.Equal(client, v):
			continue
		case !sent && w.isUpdate() && ir.Equal(w.originalData[key], v):
			continue
		}
		resp[key] = ir.Clone(v)
	}
	for _, key := range w.fieldsChangedByTrigger {
		v := w.data[key]
		if ir.OpName(v) == ir.OpDelete {
			resp[key] = ir.Clone(v)
			continue
		}
		if _, ok := resp[key]; !ok && v != nil && ir.OpName(v) == "" && !isReservedField(key) {
			resp[key] = ir.Clone(v)
		}
	}
}

// location is the URL of the written object.
func (w *Write) location() string {
	base := strings.TrimSuffix(w.rt.Config.ServerURL, "/")
	if w.className == ir.ClassUser {
		return base + "/users/" + w.objectID()
	}
	return base + "/classes/" + w.className + "/" + w.objectID()
}
