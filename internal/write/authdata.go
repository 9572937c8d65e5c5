package write

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/restcore/internal/apierr"
	"github.com/roach88/restcore/internal/auth"
	"github.com/roach88/restcore/internal/ir"
	"github.com/roach88/restcore/internal/storage"
)

// validateAuthData enforces the signup requirements of _User and resolves
// third-party auth data. Auth data matching an existing user logs that user
// in and answers the write.
func (w *Write) validateAuthData(ctx context.Context) (Outcome, error) {
	if w.className != ir.ClassUser {
		return Continue(), nil
	}
	rawAuthData, hasAuthData := w.data["authData"]
	authData, _ := rawAuthData.(map[string]any)

	if !w.isUpdate() && authData == nil {
		if s, _ := w.data["username"].(string); s == "" {
			return Continue(), apierr.New(apierr.UsernameMissing, "bad or missing username")
		}
		if s, _ := w.data["password"].(string); s == "" {
			return Continue(), apierr.New(apierr.PasswordMissing, "password is required")
		}
	}
	if !hasAuthData || (authData != nil && len(authData) == 0) {
		return Continue(), nil
	}
	if authData == nil {
		return Continue(), apierr.New(apierr.UnsupportedService, "This authentication method is unsupported.")
	}

	_, hasUsername := w.data["username"].(string)
	_, hasPassword := w.data["password"].(string)
	canHandle := false
	for _, v := range authData {
		if m, ok := v.(map[string]any); ok && len(m) > 0 {
			canHandle = true
			break
		}
	}
	if !canHandle && !(hasUsername && hasPassword) && !w.auth.IsMaster && w.userID() == "" {
		return Continue(), apierr.New(apierr.UnsupportedService, "This authentication method is unsupported.")
	}
	return w.handleAuthData(ctx, authData)
}

// userID is the user the write acts for: the updated user, or the caller.
func (w *Write) userID() string {
	if w.className == ir.ClassUser && w.queryID != "" {
		return w.queryID
	}
	return w.auth.UserID()
}

func (w *Write) handleAuthData(ctx context.Context, authData ir.Object) (Outcome, error) {
	users, err := w.findUsersWithAuthData(ctx, authData)
	if err != nil {
		return Continue(), err
	}
	userID := w.userID()
	if len(users) > 1 || (userID != "" && len(users) == 1 && ir.ObjectID(users[0]) != userID) {
		if err := w.validateProviders(ctx, authData); err != nil {
			return Continue(), err
		}
		return Continue(), apierr.New(apierr.AccountAlreadyLinked, "this auth is already used")
	}
	if len(users) == 0 {
		return Continue(), w.validateProviders(ctx, authData)
	}

	user := users[0]
	w.authProvider = strings.Join(sortedKeys(authData), ",")
	mutated := mutatedAuthData(authData, user["authData"])
	isLogin := userID == ""
	isCurrentUserOrMaster := w.auth.IsMaster || w.auth.UserID() == ir.ObjectID(user)
	if !isLogin && !isCurrentUserOrMaster {
		return Continue(), nil
	}

	w.data[ir.FieldObjectID] = ir.ObjectID(user)
	var login *Result
	if w.queryID == "" {
		login = &Result{Response: loginResponse(user), Location: w.location()}
	}
	if len(mutated) == 0 && isCurrentUserOrMaster {
		return w.loginOutcome(login), nil
	}
	toValidate := mutated
	if isLogin {
		toValidate = authData
	}
	if err := w.validateProviders(ctx, toValidate); err != nil {
		return Continue(), err
	}

	if login != nil && len(mutated) > 0 {
		linked, _ := login.Response["authData"].(map[string]any)
		if linked == nil {
			linked = ir.Object{}
			login.Response["authData"] = linked
		}
		patch := ir.Object{}
		for provider, v := range mutated {
			linked[provider] = ir.Clone(v)
			if v == nil {
				patch["authData."+provider] = ir.Object{"__op": ir.OpDelete}
			} else {
				patch["authData."+provider] = v
			}
		}
		where := ir.Object{ir.FieldObjectID: ir.ObjectID(user)}
		if _, err := w.rt.Storage.Update(ctx, ir.ClassUser, where, patch, storage.WriteOptions{}); err != nil {
			return Continue(), err
		}
	}
	return w.loginOutcome(login), nil
}

func (w *Write) loginOutcome(login *Result) Outcome {
	if login == nil {
		return Continue()
	}
	return ShortCircuit(login)
}

// findUsersWithAuthData returns the users linked to any provider id in
// authData. Non-master callers never see users locked out by an empty ACL.
func (w *Write) findUsersWithAuthData(ctx context.Context, authData ir.Object) ([]ir.Object, error) {
	var or []any
	for _, provider := range sortedKeys(authData) {
		data, ok := authData[provider].(map[string]any)
		if !ok {
			continue
		}
		id, ok := data["id"]
		if !ok || id == nil {
			continue
		}
		or = append(or, ir.Object{fmt.Sprintf("authData.%s.id", provider): id})
	}
	if len(or) == 0 {
		return nil, nil
	}
	where := ir.Object{"$or": or}
	if len(or) == 1 {
		where = or[0].(ir.Object)
	}
	res, err := w.rt.Storage.Find(ctx, ir.ClassUser, where, storage.FindOptions{})
	if err != nil {
		return nil, err
	}
	if w.auth.IsMaster {
		return res.Results, nil
	}
	var out []ir.Object
	for _, u := range res.Results {
		if acl, ok := u[ir.FieldACL].(map[string]any); ok && len(acl) == 0 {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

// validateProviders runs the registered validator of every linked
// provider and requires an id in each entry. Null entries unlink a
// provider and are not validated.
func (w *Write) validateProviders(ctx context.Context, authData ir.Object) error {
	for _, provider := range sortedKeys(authData) {
		data, ok := authData[provider].(map[string]any)
		if !ok {
			continue
		}
		if err := w.rt.AuthProviders.Validate(ctx, provider, data); err != nil {
			return err
		}
		if data["id"] == nil {
			return apierr.New(apierr.ObjectNotFound, "%s auth is invalid for this user.", provider)
		}
	}
	return nil
}

// mutatedAuthData returns the providers of incoming that differ from the
// stored auth data. The anonymous provider never counts as mutated.
func mutatedAuthData(incoming ir.Object, stored any) ir.Object {
	current, _ := stored.(map[string]any)
	out := ir.Object{}
	for provider, v := range incoming {
		if current == nil {
			out[provider] = v
			continue
		}
		if provider == auth.AnonymousProvider {
			continue
		}
		if !ir.Equal(v, current[provider]) {
			out[provider] = v
		}
	}
	return out
}

// loginResponse is the user row as returned to the client logging in.
func loginResponse(user ir.Object) ir.Object {
	out := ir.CloneObject(user)
	delete(out, "password")
	for k := range out {
		if strings.HasPrefix(k, "_") {
			delete(out, k)
		}
	}
	return out
}
