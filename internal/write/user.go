package write

import (
	"context"
	"regexp"
	"strings"

	"github.com/roach88/restcore/internal/apierr"
	"github.com/roach88/restcore/internal/auth"
	"github.com/roach88/restcore/internal/ir"
	"github.com/roach88/restcore/internal/query"
	"github.com/roach88/restcore/internal/storage"
)

// generatedUsernameLength is the length of usernames synthesized for users
// signing up with auth data only.
const generatedUsernameLength = 25

var emailPattern = regexp.MustCompile(`^.+@.+$`)

func (w *Write) transformUser(ctx context.Context) (Outcome, error) {
	if w.className != ir.ClassUser {
		return Continue(), nil
	}
	if _, ok := w.data["emailVerified"]; ok && !w.auth.IsMaster {
		return Continue(), apierr.New(apierr.OperationForbidden, "Clients aren't allowed to manually update email verification.")
	}
	if w.isUpdate() && w.objectID() != "" {
		if err := w.clearCachedSessions(ctx); err != nil {
			return Continue(), err
		}
	}

	if password, ok := w.data["password"].(string); ok {
		if w.isUpdate() {
			w.queue(followupClearSessions)
			if !w.auth.IsMaster {
				w.queue(followupGenerateSession)
			}
		}
		if err := w.validatePasswordPolicy(ctx, password); err != nil {
			return Continue(), err
		}
		hash, err := auth.HashPassword(password, w.rt.Config.BcryptCost)
		if err != nil {
			return Continue(), err
		}
		w.data[auth.HashedPasswordField] = hash
		delete(w.data, "password")
	}

	if err := w.validateUsername(ctx); err != nil {
		return Continue(), err
	}
	return Continue(), w.validateEmail(ctx)
}

// clearCachedSessions drops the cached users of every session of the
// updated user.
func (w *Write) clearCachedSessions(ctx context.Context) error {
	q, err := query.New(w.rt, auth.Master(), ir.ClassSession,
		ir.Object{"user": ir.NewPointer(ir.ClassUser, w.objectID())}, query.Options{})
	if err != nil {
		return err
	}
	res, err := q.Execute(ctx)
	if err != nil {
		return err
	}
	for _, session := range res.Results {
		if token, ok := session["sessionToken"].(string); ok {
			w.rt.Cache.DelUser(token)
		}
	}
	return nil
}

func (w *Write) validatePasswordPolicy(ctx context.Context, password string) error {
	policy := w.rt.Config.PasswordPolicy
	if !policy.Enabled() {
		return nil
	}
	policyError := policy.ValidationError
	if policyError == "" {
		policyError = "Password does not meet the Password Policy requirements."
	}
	if policy.ValidatorPattern != "" {
		re, err := regexp.Compile(policy.ValidatorPattern)
		if err != nil {
			return apierr.Wrap(apierr.InternalServerError, err, "invalid password validator pattern")
		}
		if !re.MatchString(password) {
			return apierr.New(apierr.ValidationError, "%s", policyError)
		}
	}

	if policy.DoNotAllowUsername {
		username, _ := w.data["username"].(string)
		if username == "" && w.isUpdate() {
			user, err := w.loadUser(ctx, "username")
			if err != nil {
				return err
			}
			username, _ = user["username"].(string)
		}
		if username != "" && strings.Contains(password, username) {
			return apierr.New(apierr.ValidationError, "Password cannot contain your username.")
		}
	}

	if w.isUpdate() && policy.MaxPasswordHistory > 0 {
		user, err := w.loadUser(ctx, auth.PasswordHistoryField, auth.HashedPasswordField)
		if err != nil {
			return err
		}
		var old []string
		if h, ok := user[auth.PasswordHistoryField].([]any); ok {
			for i, v := range h {
				if i >= policy.MaxPasswordHistory-1 {
					break
				}
				if s, ok := v.(string); ok {
					old = append(old, s)
				}
			}
		}
		if s, ok := user[auth.HashedPasswordField].(string); ok {
			old = append(old, s)
		}
		for _, hash := range old {
			same, err := auth.ComparePassword(password, hash)
			if err != nil {
				return err
			}
			if same {
				return apierr.New(apierr.ValidationError,
					"New password should not be the same as last %d passwords.", policy.MaxPasswordHistory)
			}
		}
	}
	return nil
}

func (w *Write) loadUser(ctx context.Context, keys ...string) (ir.Object, error) {
	res, err := w.rt.Storage.Find(ctx, ir.ClassUser, ir.Object{ir.FieldObjectID: w.objectID()}, storage.FindOptions{Keys: keys})
	if err != nil {
		return nil, err
	}
	if len(res.Results) != 1 {
		return nil, apierr.New(apierr.ObjectNotFound, "Object not found.")
	}
	return res.Results[0], nil
}

// validateUsername enforces case-insensitive username uniqueness. A user
// created without one gets a random username.
func (w *Write) validateUsername(ctx context.Context) error {
	username, _ := w.data["username"].(string)
	if username == "" {
		if !w.isUpdate() {
			w.data["username"] = ir.RandomString(generatedUsernameLength)
		}
		return nil
	}
	taken, err := w.fieldTaken(ctx, "username", username)
	if err != nil {
		return err
	}
	if taken {
		return errUsernameTaken()
	}
	return nil
}

// validateEmail checks the format and case-insensitive uniqueness of a new
// email, then stamps a verification token when verification is on.
func (w *Write) validateEmail(ctx context.Context) error {
	email, ok := w.data["email"].(string)
	if !ok || email == "" {
		return nil
	}
	if !emailPattern.MatchString(email) {
		return apierr.New(apierr.InvalidEmailAddress, "Email address format is invalid.")
	}
	taken, err := w.fieldTaken(ctx, "email", email)
	if err != nil {
		return err
	}
	if taken {
		return errEmailTaken()
	}

	authData, _ := w.data["authData"].(map[string]any)
	_, anonymousOnly := authData[auth.AnonymousProvider]
	anonymousOnly = anonymousOnly && len(authData) == 1
	if len(authData) == 0 || anonymousOnly {
		w.rt.Users.SetEmailVerifyToken(w.data)
		if w.rt.Users.VerifyEmails {
			w.queue(followupSendVerificationEmail)
		}
	}
	return nil
}

func (w *Write) fieldTaken(ctx context.Context, field, value string) (bool, error) {
	where := ir.Object{
		field:            value,
		ir.FieldObjectID: ir.Object{"$ne": w.objectID()},
	}
	res, err := w.rt.Storage.Find(ctx, ir.ClassUser, where, storage.FindOptions{
		Limit:           storage.Limit(1),
		CaseInsensitive: true,
	})
	if err != nil {
		return false, err
	}
	return len(res.Results) > 0, nil
}
