package tenant

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/restcore/internal/ir"
	"github.com/roach88/restcore/internal/services"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, DefaultMaxSubqueryDepth, cfg.MaxSubqueryDepth)
	assert.True(t, cfg.AllowClientClassCreation)
}

func TestParseConfig_Overrides(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
app_id: blog
allow_client_class_creation: false
session_length: 2h
max_limit: 50
password_policy:
  validator_pattern: "^.{8,}$"
  max_password_history: 3
live_query_classes: [Post]
`))
	require.NoError(t, err)
	assert.Equal(t, "blog", cfg.AppID)
	assert.False(t, cfg.AllowClientClassCreation)
	assert.Equal(t, 2*time.Hour, cfg.SessionLength)
	assert.Equal(t, 50, cfg.MaxLimit)
	assert.True(t, cfg.PasswordPolicy.Enabled())
	assert.Equal(t, 3, cfg.PasswordPolicy.MaxPasswordHistory)
	assert.Equal(t, []string{"Post"}, cfg.LiveQueryClasses)
	// Untouched keys keep their defaults.
	assert.Equal(t, ir.DefaultObjectIDSize, cfg.ObjectIDSize)
}

func TestParseConfig_RejectsUnknownKeys(t *testing.T) {
	_, err := ParseConfig([]byte("app_idd: x\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "app_idd")
}

func TestParseConfig_RejectsInvalidValues(t *testing.T) {
	tests := []string{
		"app_id: \"\"\n",
		"object_id_size: 0\n",
		"max_subquery_depth: 0\n",
		"max_followups: 2\n",
		"password_policy:\n  validator_pattern: \"(\"\n",
	}
	for _, src := range tests {
		_, err := ParseConfig([]byte(src))
		assert.Error(t, err, src)
	}
}

func TestParseConfig_MaxFollowupsFloor(t *testing.T) {
	_, err := ParseConfig([]byte("max_followups: 1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_followups must be at least 3")

	cfg, err := ParseConfig([]byte("max_followups: 3\n"))
	require.NoError(t, err)
	assert.Equal(t, MinFollowups, cfg.MaxFollowups)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app_id: files\n"), 0o644))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "files", cfg.AppID)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

type fixedIDs struct{}

func (fixedIDs) NewObjectID(size int) string { return "fixed" }

func TestNew_AppliesOptions(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC)
	rt := New(DefaultConfig(), nil, WithClock(func() time.Time { return now }), WithIDs(fixedIDs{}))

	assert.Equal(t, "restcore", rt.TenantID)
	assert.Equal(t, "fixed", rt.NewObjectID())
	assert.Equal(t, now.Truncate(time.Millisecond), rt.Now())
	assert.NotNil(t, rt.Users.Mail)
	assert.Equal(t, now, rt.Users.Now())
}

func TestNew_LiveQueryReachesHandlers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LiveQueryClasses = []string{"Post"}
	rt := New(cfg, nil)

	var got []services.LiveQueryEvent
	require.NoError(t, rt.Triggers.RegisterLiveQueryHandler(rt.TenantID, func(data any) {
		got = append(got, data.(services.LiveQueryEvent))
	}))

	rt.LiveQuery.OnAfterSave(services.LiveQueryEvent{ClassName: "Post", Object: ir.Object{"objectId": "a"}})
	rt.LiveQuery.OnAfterSave(services.LiveQueryEvent{ClassName: "Comment", Object: ir.Object{"objectId": "b"}})

	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Object["objectId"])
}

func TestGoAndWait(t *testing.T) {
	rt := New(DefaultConfig(), nil)
	var ran atomic.Int32
	for i := 0; i < 4; i++ {
		rt.Go("task", func(ctx context.Context) error {
			ran.Add(1)
			return nil
		})
	}
	rt.Go("failing", func(ctx context.Context) error {
		ran.Add(1)
		return errors.New("ignored")
	})
	rt.Wait()
	assert.Equal(t, int32(5), ran.Load())
}
