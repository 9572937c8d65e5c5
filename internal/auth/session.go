package auth

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/restcore/internal/apierr"
	"github.com/roach88/restcore/internal/ir"
	"github.com/roach88/restcore/internal/storage"
)

// SessionTokenPrefix marks revocable session tokens.
const SessionTokenPrefix = "r:"

// UserCache caches users by session token.
type UserCache interface {
	GetUser(sessionToken string) (ir.Object, bool)
	PutUser(sessionToken string, user ir.Object)
}

// NewToken returns 32 random hex characters.
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// SessionParams describes a session to create.
type SessionParams struct {
	UserID         string
	CreatedWith    ir.Object
	InstallationID string
	ExpiresAt      time.Time
	// Extra fields are merged into the session row.
	Extra ir.Object
}

// NewSession builds the row of a new session. Persisting it is up to the
// caller.
func NewSession(p SessionParams) ir.Object {
	session := ir.Object{
		"sessionToken": SessionTokenPrefix + NewToken(),
		"user":         ir.NewPointer(ir.ClassUser, p.UserID),
		"createdWith":  ir.CloneObject(p.CreatedWith),
		"expiresAt":    ir.NewDate(p.ExpiresAt),
	}
	if p.InstallationID != "" {
		session["installationId"] = p.InstallationID
	}
	for k, v := range p.Extra {
		session[k] = ir.Clone(v)
	}
	return session
}

// FromSessionToken resolves a session token to a user auth context.
func FromSessionToken(ctx context.Context, adapter storage.Adapter, cache UserCache, token, installationID string, now time.Time) (*Auth, error) {
	if cache != nil {
		if user, ok := cache.GetUser(token); ok {
			return ForUser(user, installationID), nil
		}
	}

	res, err := adapter.Find(ctx, ir.ClassSession, ir.Object{"sessionToken": token}, storage.FindOptions{Limit: storage.Limit(1)})
	if err != nil {
		return nil, err
	}
	if len(res.Results) == 0 {
		return nil, apierr.New(apierr.InvalidSessionToken, "Invalid session token")
	}
	session := res.Results[0]
	if iso, ok := ir.AsDate(session["expiresAt"]); ok {
		expiresAt, err := time.Parse(ir.TimeLayout, iso)
		if err == nil && !expiresAt.After(now) {
			return nil, apierr.New(apierr.InvalidSessionToken, "Session token is expired.")
		}
	}
	ptr, ok := ir.AsPointer(session["user"])
	if !ok {
		return nil, apierr.New(apierr.InvalidSessionToken, "Invalid session token")
	}

	users, err := adapter.Find(ctx, ir.ClassUser, ir.Object{ir.FieldObjectID: ptr.ObjectID}, storage.FindOptions{})
	if err != nil {
		return nil, err
	}
	if len(users.Results) == 0 {
		return nil, apierr.New(apierr.InvalidSessionToken, "Invalid session token")
	}
	user := ir.CloneObject(users.Results[0])
	delete(user, "password")
	delete(user, HashedPasswordField)
	user["sessionToken"] = token
	if cache != nil {
		cache.PutUser(token, user)
	}
	return ForUser(user, installationID), nil
}
