package write

import (
	"context"
	"sort"
	"strings"

	"github.com/roach88/restcore/internal/apierr"
	"github.com/roach88/restcore/internal/auth"
	"github.com/roach88/restcore/internal/ir"
	"github.com/roach88/restcore/internal/storage"
)

// cloudInstallationID marks writes made by server-side code, which never
// receive session tokens.
const cloudInstallationID = "cloud"

// handleSession guards writes to _Session. A client creating a session gets
// one built for it and the pipeline answers immediately.
func (w *Write) handleSession(ctx context.Context) (Outcome, error) {
	if w.className != ir.ClassSession {
		return Continue(), nil
	}
	if w.auth.UserID() == "" && !w.auth.IsMaster {
		return Continue(), apierr.New(apierr.InvalidSessionToken, "Session token required.")
	}
	if _, ok := w.data[ir.FieldACL]; ok {
		return Continue(), apierr.New(apierr.InvalidKeyName, "Cannot set ACL on a Session.")
	}

	if w.isUpdate() {
		if ptr, ok := ir.AsPointer(w.data["user"]); ok && !w.auth.IsMaster && ptr.ObjectID != w.auth.UserID() {
			return Continue(), apierr.New(apierr.InvalidKeyName, "Cannot set the user of a Session to another user.")
		}
		if _, ok := w.data["installationId"]; ok {
			return Continue(), apierr.New(apierr.InvalidKeyName, "Cannot change the installationId of a Session.")
		}
		if _, ok := w.data["sessionToken"]; ok {
			return Continue(), apierr.New(apierr.InvalidKeyName, "Cannot change the sessionToken of a Session.")
		}
		if !w.auth.IsMaster {
			w.query = ir.Object{"$and": []any{w.query, ir.Object{"user": w.auth.UserPointer()}}}
		}
		return Continue(), nil
	}
	if w.auth.IsMaster {
		return Continue(), nil
	}

	extra := ir.Object{}
	for k, v := range w.data {
		if k == ir.FieldObjectID || k == "user" {
			continue
		}
		extra[k] = v
	}
	session, res, err := w.createSession(ctx, w.auth.UserID(), ir.Object{"action": "create"}, w.auth.InstallationID, extra)
	if err != nil {
		return Continue(), err
	}
	if res == nil || res.Response == nil {
		return Continue(), apierr.New(apierr.InternalServerError, "Error creating session.")
	}
	session[ir.FieldObjectID] = res.Response[ir.FieldObjectID]
	return ShortCircuit(&Result{Response: session, Status: 201, Location: res.Location}), nil
}

// createSession persists a new session for userID through a master write
// and returns the session row.
func (w *Write) createSession(ctx context.Context, userID string, createdWith ir.Object, installationID string, extra ir.Object) (ir.Object, *Result, error) {
	session := auth.NewSession(auth.SessionParams{
		UserID:         userID,
		CreatedWith:    createdWith,
		InstallationID: installationID,
		ExpiresAt:      w.rt.Now().Add(w.rt.Config.SessionLength),
		Extra:          extra,
	})
	nested, err := New(w.rt, auth.Master(), ir.ClassSession, nil, ir.CloneObject(session), nil)
	if err != nil {
		return nil, nil, err
	}
	res, err := nested.Execute(ctx)
	if err != nil {
		return nil, nil, err
	}
	return session, res, nil
}

// destroyDuplicatedSessions revokes, in the background, the other sessions
// of the same user and installation when a session is created.
func (w *Write) destroyDuplicatedSessions(ctx context.Context) (Outcome, error) {
	if w.className != ir.ClassSession || w.isUpdate() {
		return Continue(), nil
	}
	user, ok := ir.AsPointer(w.data["user"])
	installationID, _ := w.data["installationId"].(string)
	if !ok || user.ObjectID == "" || installationID == "" {
		return Continue(), nil
	}
	where := ir.Object{
		"user":           user.Value(),
		"installationId": installationID,
		"sessionToken":   ir.Object{"$ne": w.data["sessionToken"]},
	}
	adapter := w.rt.Storage
	w.rt.Go("destroy_duplicated_sessions", func(ctx context.Context) error {
		err := adapter.Destroy(ctx, ir.ClassSession, where, storage.WriteOptions{Many: true})
		if apierr.IsNotFound(err) {
			return nil
		}
		return err
	})
	return Continue(), nil
}

// createSessionTokenIfNeeded logs in a user that just signed up or
// authenticated with third-party auth data.
func (w *Write) createSessionTokenIfNeeded(ctx context.Context) (Outcome, error) {
	if w.className != ir.ClassUser || w.response == nil {
		return Continue(), nil
	}
	_, hasAuthData := w.data["authData"]
	if w.isUpdate() && !hasAuthData {
		return Continue(), nil
	}
	// Linking auth data to the caller's own account keeps its session.
	if w.auth.UserID() != "" && hasAuthData {
		return Continue(), nil
	}
	// Signups wait for email verification when login requires it.
	if w.authProvider == "" && w.rt.Config.VerifyUserEmails && w.rt.Config.PreventLoginWithUnverifiedEmail {
		return Continue(), nil
	}
	return Continue(), w.createSessionToken(ctx)
}

// createSessionToken creates a session for the written user and puts its
// token in the response.
func (w *Write) createSessionToken(ctx context.Context) error {
	if w.auth.InstallationID == cloudInstallationID {
		return nil
	}
	if w.authProvider == "" {
		if authData, ok := w.data["authData"].(map[string]any); ok {
			w.authProvider = strings.Join(sortedKeys(authData), ",")
		}
	}
	createdWith := ir.Object{"action": "signup", "authProvider": "password"}
	if w.authProvider != "" {
		createdWith = ir.Object{"action": "login", "authProvider": w.authProvider}
	}
	session, _, err := w.createSession(ctx, w.objectID(), createdWith, w.auth.InstallationID, nil)
	if err != nil {
		return err
	}
	if w.response != nil && w.response.Response != nil {
		w.response.Response["sessionToken"] = session["sessionToken"]
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
