package write

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/restcore/internal/apierr"
	"github.com/roach88/restcore/internal/auth"
	"github.com/roach88/restcore/internal/ir"
	"github.com/roach88/restcore/internal/store"
	"github.com/roach88/restcore/internal/tenant"
	"github.com/roach88/restcore/internal/triggers"
)

// newAuthRuntime registers a github provider accepting tokens prefixed
// with "good" and a twitter provider accepting anything.
func newAuthRuntime(t *testing.T) (*tenant.Runtime, *store.Store) {
	t.Helper()
	rt, st := newRuntime(t)
	rt.AuthProviders.Register("github", func(ctx context.Context, authData ir.Object) error {
		token, _ := authData["token"].(string)
		if !strings.HasPrefix(token, "good") {
			return errors.New("bad token")
		}
		return nil
	})
	rt.AuthProviders.Register("twitter", func(ctx context.Context, authData ir.Object) error {
		return nil
	})
	return rt, st
}

func githubAuth(id, token string) ir.Object {
	return ir.Object{"github": ir.Object{"id": id, "token": token}}
}

func TestAuthDataSignup(t *testing.T) {
	rt, st := newAuthRuntime(t)

	res := signup(t, rt, ir.Object{"authData": githubAuth("1", "good1")})
	assert.Equal(t, 201, res.Status)

	username, _ := res.Response["username"].(string)
	assert.Len(t, username, generatedUsernameLength)
	require.Contains(t, res.Response, "sessionToken")

	sessions := findAll(t, st, ir.ClassSession, nil)
	require.Len(t, sessions, 1)
	assert.Equal(t, ir.Object{"action": "login", "authProvider": "github"}, sessions[0]["createdWith"])

	stored := getRow(t, st, ir.ClassUser, ir.ObjectID(res.Response))
	assert.Equal(t, ir.Object{"github": map[string]any{"id": "1", "token": "good1"}}, stored["authData"])
}

func TestAuthDataLogin(t *testing.T) {
	rt, st := newAuthRuntime(t)
	ctx := context.Background()
	id := ir.ObjectID(signup(t, rt, ir.Object{"authData": githubAuth("1", "good1")}).Response)

	hookCalls := 0
	require.NoError(t, rt.Triggers.RegisterTrigger(rt.TenantID, triggers.BeforeSave, ir.ClassUser,
		func(ctx context.Context, req triggers.Request) (*triggers.Response, error) {
			hookCalls++
			return nil, nil
		}))

	res, err := Create(ctx, rt, auth.Nobody(), ir.ClassUser, ir.Object{"authData": githubAuth("1", "good1")})
	require.NoError(t, err)

	assert.Equal(t, 0, hookCalls)
	assert.Equal(t, 0, res.Status)
	assert.Equal(t, id, ir.ObjectID(res.Response))
	assert.Equal(t, "http://localhost:1337/parse/users/"+id, res.Location)
	token, _ := res.Response["sessionToken"].(string)
	assert.True(t, strings.HasPrefix(token, auth.SessionTokenPrefix))
	assert.Len(t, findAll(t, st, ir.ClassUser, nil), 1)
	assert.Len(t, findAll(t, st, ir.ClassSession, nil), 2)
}

func TestAuthDataLogin_UpdatesChangedProviders(t *testing.T) {
	rt, st := newAuthRuntime(t)
	ctx := context.Background()
	id := ir.ObjectID(signup(t, rt, ir.Object{"authData": ir.Object{
		"github":  ir.Object{"id": "1", "token": "good1"},
		"twitter": ir.Object{"id": "t1"},
	}}).Response)

	res, err := Create(ctx, rt, auth.Nobody(), ir.ClassUser, ir.Object{"authData": ir.Object{
		"github":  ir.Object{"id": "1", "token": "good2"},
		"twitter": nil,
	}})
	require.NoError(t, err)

	assert.Equal(t, ir.Object{"github": map[string]any{"id": "1", "token": "good2"}}, res.Response["authData"])

	stored := getRow(t, st, ir.ClassUser, id)
	assert.Equal(t, ir.Object{"github": map[string]any{"id": "1", "token": "good2"}}, stored["authData"])
}

func TestAuthData_Rejections(t *testing.T) {
	rt, _ := newAuthRuntime(t)
	ctx := context.Background()

	_, err := Create(ctx, rt, auth.Nobody(), ir.ClassUser, ir.Object{"authData": githubAuth("2", "bad")})
	requireCode(t, err, apierr.ObjectNotFound)

	_, err = Create(ctx, rt, auth.Nobody(), ir.ClassUser, ir.Object{
		"authData": ir.Object{"github": ir.Object{"token": "good"}},
	})
	requireCode(t, err, apierr.ObjectNotFound)

	_, err = Create(ctx, rt, auth.Nobody(), ir.ClassUser, ir.Object{
		"authData": ir.Object{"anonymous": ir.Object{"foo": "bar"}},
	})
	requireCode(t, err, apierr.ObjectNotFound)

	_, err = Create(ctx, rt, auth.Nobody(), ir.ClassUser, ir.Object{
		"authData": ir.Object{"myspace": ir.Object{"id": "7"}},
	})
	requireCode(t, err, apierr.UnsupportedService)

	_, err = Create(ctx, rt, auth.Nobody(), ir.ClassUser, ir.Object{
		"username": "bob", "password": "pw", "authData": nil,
	})
	requireCode(t, err, apierr.UnsupportedService)
}

func TestAuthData_AlreadyLinked(t *testing.T) {
	rt, _ := newAuthRuntime(t)
	ctx := context.Background()
	signup(t, rt, ir.Object{"authData": githubAuth("1", "good1")})
	bob := ir.ObjectID(signup(t, rt, ir.Object{"username": "bob", "password": "pw"}).Response)

	_, err := Update(ctx, rt, userAuth(t, rt, bob), ir.ClassUser, bob, ir.Object{
		"authData": githubAuth("1", "good1"),
	})
	requireCode(t, err, apierr.AccountAlreadyLinked)
}

func TestAuthData_LinkToOwnAccountKeepsSession(t *testing.T) {
	rt, st := newAuthRuntime(t)
	ctx := context.Background()
	bob := ir.ObjectID(signup(t, rt, ir.Object{"username": "bob", "password": "pw"}).Response)

	res, err := Update(ctx, rt, userAuth(t, rt, bob), ir.ClassUser, bob, ir.Object{
		"authData": githubAuth("9", "good9"),
	})
	require.NoError(t, err)
	assert.NotContains(t, res.Response, "sessionToken")

	stored := getRow(t, st, ir.ClassUser, bob)
	assert.Equal(t, ir.Object{"github": map[string]any{"id": "9", "token": "good9"}}, stored["authData"])
	assert.Len(t, findAll(t, st, ir.ClassSession, nil), 1)
}
