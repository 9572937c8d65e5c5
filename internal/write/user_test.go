package write

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/restcore/internal/apierr"
	"github.com/roach88/restcore/internal/auth"
	"github.com/roach88/restcore/internal/ir"
	"github.com/roach88/restcore/internal/services"
	"github.com/roach88/restcore/internal/storage"
	"github.com/roach88/restcore/internal/tenant"
	"github.com/roach88/restcore/internal/testutil"
)

type recordingMail struct {
	mu   sync.Mutex
	sent []services.VerificationEmail
}

func (m *recordingMail) SendVerificationEmail(ctx context.Context, msg services.VerificationEmail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMail) messages() []services.VerificationEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]services.VerificationEmail(nil), m.sent...)
}

// userAuth returns the auth of a stored user, as a session lookup would.
func userAuth(t *testing.T, rt *tenant.Runtime, objectID string) *auth.Auth {
	t.Helper()
	res, err := rt.Storage.Find(context.Background(), ir.ClassUser, ir.Object{"objectId": objectID}, storage.FindOptions{})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	return auth.ForUser(res.Results[0], "")
}

func TestSignup(t *testing.T) {
	rt, st := newRuntime(t)

	res := signup(t, rt, ir.Object{"username": "bob", "password": "secret"})

	assert.Equal(t, 201, res.Status)
	assert.Equal(t, "http://localhost:1337/parse/users/id0001", res.Location)
	assert.Equal(t, "id0001", res.Response["objectId"])
	assert.NotContains(t, res.Response, "password")
	assert.Contains(t, res.Response, auth.HashedPasswordField)
	assert.Equal(t, ir.Object{
		"*":      map[string]any{"read": true, "write": false},
		"id0001": map[string]any{"read": true, "write": true},
	}, res.Response["ACL"])

	token, _ := res.Response["sessionToken"].(string)
	assert.True(t, strings.HasPrefix(token, auth.SessionTokenPrefix), "token %q", token)

	stored := getRow(t, st, ir.ClassUser, "id0001")
	assert.NotContains(t, stored, "password")
	ok, err := auth.ComparePassword("secret", stored[auth.HashedPasswordField].(string))
	require.NoError(t, err)
	assert.True(t, ok)

	sessions := findAll(t, st, ir.ClassSession, nil)
	require.Len(t, sessions, 1)
	assert.Equal(t, token, sessions[0]["sessionToken"])
	assert.Equal(t, ir.Object{"action": "signup", "authProvider": "password"}, sessions[0]["createdWith"])
	assert.Equal(t, ir.NewPointer(ir.ClassUser, "id0001"), sessions[0]["user"])
}

func TestSignup_RequiresUsernameAndPassword(t *testing.T) {
	rt, _ := newRuntime(t)
	ctx := context.Background()

	_, err := Create(ctx, rt, auth.Nobody(), ir.ClassUser, ir.Object{"password": "secret"})
	requireCode(t, err, apierr.UsernameMissing)

	_, err = Create(ctx, rt, auth.Nobody(), ir.ClassUser, ir.Object{"username": "bob", "password": ""})
	requireCode(t, err, apierr.PasswordMissing)
}

func TestSignup_UniqueUsernameAndEmail(t *testing.T) {
	rt, _ := newRuntime(t)
	ctx := context.Background()
	signup(t, rt, ir.Object{"username": "bob", "password": "pw", "email": "bob@example.com"})

	_, err := Create(ctx, rt, auth.Nobody(), ir.ClassUser, ir.Object{"username": "BOB", "password": "pw"})
	requireCode(t, err, apierr.UsernameTaken)

	_, err = Create(ctx, rt, auth.Nobody(), ir.ClassUser, ir.Object{"username": "alice", "password": "pw", "email": "Bob@Example.com"})
	requireCode(t, err, apierr.EmailTaken)

	// Username wins when both collide.
	_, err = Create(ctx, rt, auth.Nobody(), ir.ClassUser, ir.Object{"username": "bob", "password": "pw", "email": "bob@example.com"})
	requireCode(t, err, apierr.UsernameTaken)

	_, err = Create(ctx, rt, auth.Nobody(), ir.ClassUser, ir.Object{"username": "carol", "password": "pw", "email": "not-an-email"})
	requireCode(t, err, apierr.InvalidEmailAddress)
}

func TestSignup_ConcurrentDuplicateUsername(t *testing.T) {
	rt, st := newRuntime(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = Create(ctx, rt, auth.Nobody(), ir.ClassUser, ir.Object{"username": "bob", "password": "pw"})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.Equal(t, apierr.UsernameTaken, apierr.CodeOf(err), "error: %v", err)
	}
	assert.Equal(t, 1, wins)
	assert.Len(t, findAll(t, st, ir.ClassUser, nil), 1)
}

func TestSignup_ClientCannotVerifyEmail(t *testing.T) {
	rt, _ := newRuntime(t)

	_, err := Create(context.Background(), rt, auth.Nobody(), ir.ClassUser, ir.Object{
		"username": "bob", "password": "pw", "emailVerified": true,
	})
	requireCode(t, err, apierr.OperationForbidden)
}

func TestSignup_EmailVerification(t *testing.T) {
	cfg := testConfig()
	cfg.VerifyUserEmails = true
	mail := &recordingMail{}
	rt, st := testutil.NewRuntime(t, cfg, tenant.WithMail(mail))

	res := signup(t, rt, ir.Object{"username": "bob", "password": "pw", "email": "bob@example.com"})
	rt.Wait()

	assert.Equal(t, false, res.Response["emailVerified"])
	assert.NotContains(t, res.Response, services.EmailVerifyTokenField)
	assert.Contains(t, res.Response, "sessionToken")

	stored := getRow(t, st, ir.ClassUser, ir.ObjectID(res.Response))
	token, _ := stored[services.EmailVerifyTokenField].(string)
	require.NotEmpty(t, token)

	sent := mail.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "bob@example.com", sent[0].Email)
	assert.Equal(t, "bob", sent[0].Username)
	assert.Contains(t, sent[0].Link, "token="+token)
}

func TestSignup_PreventLoginWithUnverifiedEmail(t *testing.T) {
	cfg := testConfig()
	cfg.VerifyUserEmails = true
	cfg.PreventLoginWithUnverifiedEmail = true
	rt, st := testutil.NewRuntime(t, cfg, tenant.WithMail(&recordingMail{}))

	res := signup(t, rt, ir.Object{"username": "bob", "password": "pw", "email": "bob@example.com"})
	assert.NotContains(t, res.Response, "sessionToken")
	assert.Empty(t, findAll(t, st, ir.ClassSession, nil))
}

func TestUpdateUser_SelfLockoutGuard(t *testing.T) {
	rt, st := newRuntime(t)
	ctx := context.Background()
	id := ir.ObjectID(signup(t, rt, ir.Object{"username": "bob", "password": "pw"}).Response)

	_, err := Update(ctx, rt, userAuth(t, rt, id), ir.ClassUser, id, ir.Object{
		"ACL": ir.Object{"*": ir.Object{"read": true}},
	})
	require.NoError(t, err)

	acl := ir.ParseACL(getRow(t, st, ir.ClassUser, id)["ACL"])
	assert.True(t, acl.CanRead([]string{id}))
	assert.True(t, acl.CanWrite([]string{id}))
	assert.False(t, acl.CanWrite([]string{"*"}))
}

func TestUpdateUser_RequiresSession(t *testing.T) {
	rt, _ := newRuntime(t)
	id := ir.ObjectID(signup(t, rt, ir.Object{"username": "bob", "password": "pw"}).Response)

	_, err := Update(context.Background(), rt, auth.Nobody(), ir.ClassUser, id, ir.Object{"email": "bob@example.com"})
	requireCode(t, err, apierr.SessionMissing)
}

func TestUpdateUser_PasswordChangeRevokesSessions(t *testing.T) {
	rt, st := newRuntime(t)
	ctx := context.Background()
	signed := signup(t, rt, ir.Object{"username": "bob", "password": "pw"})
	id := ir.ObjectID(signed.Response)
	oldToken := signed.Response["sessionToken"]

	rt.Cache.PutUser(oldToken.(string), ir.Object{"objectId": id})

	res, err := Update(ctx, rt, userAuth(t, rt, id), ir.ClassUser, id, ir.Object{"password": "new-pw"})
	require.NoError(t, err)

	newToken, _ := res.Response["sessionToken"].(string)
	require.NotEmpty(t, newToken)
	assert.NotEqual(t, oldToken, newToken)

	sessions := findAll(t, st, ir.ClassSession, nil)
	require.Len(t, sessions, 1)
	assert.Equal(t, newToken, sessions[0]["sessionToken"])

	_, cached := rt.Cache.GetUser(oldToken.(string))
	assert.False(t, cached)

	ok, err := auth.ComparePassword("new-pw", getRow(t, st, ir.ClassUser, id)[auth.HashedPasswordField].(string))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUpdateUser_PasswordChangeAtFollowupFloor(t *testing.T) {
	cfg := testConfig()
	cfg.MaxFollowups = tenant.MinFollowups
	require.NoError(t, cfg.Validate())
	rt, _ := testutil.NewRuntime(t, cfg)
	ctx := context.Background()
	id := ir.ObjectID(signup(t, rt, ir.Object{"username": "bob", "password": "pw", "email": "bob@example.com"}).Response)

	res, err := Update(ctx, rt, userAuth(t, rt, id), ir.ClassUser, id, ir.Object{"password": "new-pw", "email": "bob@example.org"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Response["sessionToken"])
}

func TestPasswordPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.PasswordPolicy = tenant.PasswordPolicy{
		ValidatorPattern:   `[0-9]`,
		DoNotAllowUsername: true,
		MaxPasswordAge:     24 * time.Hour,
		MaxPasswordHistory: 2,
	}
	rt, st := testutil.NewRuntime(t, cfg)
	ctx := context.Background()

	_, err := Create(ctx, rt, auth.Nobody(), ir.ClassUser, ir.Object{"username": "bob", "password": "nodigits"})
	requireCode(t, err, apierr.ValidationError)
	assert.Contains(t, err.Error(), "Password does not meet the Password Policy requirements.")

	_, err = Create(ctx, rt, auth.Nobody(), ir.ClassUser, ir.Object{"username": "bob", "password": "bob123"})
	requireCode(t, err, apierr.ValidationError)
	assert.Contains(t, err.Error(), "Password cannot contain your username.")

	id := ir.ObjectID(signup(t, rt, ir.Object{"username": "bob", "password": "first1"}).Response)
	assert.Contains(t, getRow(t, st, ir.ClassUser, id), auth.PasswordChangedAtField)

	_, err = Update(ctx, rt, auth.Master(), ir.ClassUser, id, ir.Object{"password": "second2"})
	require.NoError(t, err)
	history, _ := getRow(t, st, ir.ClassUser, id)[auth.PasswordHistoryField].([]any)
	assert.Len(t, history, 1)

	_, err = Update(ctx, rt, auth.Master(), ir.ClassUser, id, ir.Object{"password": "first1"})
	requireCode(t, err, apierr.ValidationError)
	assert.Contains(t, err.Error(), "New password should not be the same as last 2 passwords.")

	// Username containment is checked against the stored username on update.
	_, err = Update(ctx, rt, auth.Master(), ir.ClassUser, id, ir.Object{"password": "xbob9"})
	requireCode(t, err, apierr.ValidationError)
}
