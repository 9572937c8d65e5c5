package write

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/restcore/internal/apierr"
	"github.com/roach88/restcore/internal/auth"
	"github.com/roach88/restcore/internal/ir"
)

func TestInstallationCreate_RequiredFields(t *testing.T) {
	rt, _ := newRuntime(t)
	ctx := context.Background()

	_, err := Create(ctx, rt, auth.Master(), ir.ClassInstallation, ir.Object{"deviceType": "ios"})
	requireCode(t, err, apierr.MissingRequiredField)

	_, err = Create(ctx, rt, auth.Master(), ir.ClassInstallation, ir.Object{"installationId": "abc"})
	requireCode(t, err, apierr.MissingRequiredField)
}

func TestInstallationCreate_Lowercases(t *testing.T) {
	rt, st := newRuntime(t)
	token := strings.Repeat("AB", 32)

	res, err := Create(context.Background(), rt, auth.Master(), ir.ClassInstallation, ir.Object{
		"installationId": "ABC-123",
		"deviceToken":    token,
		"deviceType":     "ios",
	})
	require.NoError(t, err)

	stored := getRow(t, st, ir.ClassInstallation, ir.ObjectID(res.Response))
	assert.Equal(t, "abc-123", stored["installationId"])
	assert.Equal(t, strings.ToLower(token), stored["deviceToken"])
}

func TestInstallationCreate_UsesCallerInstallationID(t *testing.T) {
	rt, st := newRuntime(t)
	a := auth.Nobody()
	a.InstallationID = "DEVICE-X"

	res, err := Create(context.Background(), rt, a, ir.ClassInstallation, ir.Object{"deviceType": "android"})
	require.NoError(t, err)

	stored := getRow(t, st, ir.ClassInstallation, ir.ObjectID(res.Response))
	assert.Equal(t, "device-x", stored["installationId"])
}

func TestInstallationCreate_SameInstallationIDUpdates(t *testing.T) {
	rt, st := newRuntime(t)
	ctx := context.Background()

	first, err := Create(ctx, rt, auth.Master(), ir.ClassInstallation, ir.Object{
		"installationId": "abc-123",
		"deviceType":     "ios",
		"badge":          1,
	})
	require.NoError(t, err)
	id := ir.ObjectID(first.Response)

	second, err := Create(ctx, rt, auth.Master(), ir.ClassInstallation, ir.Object{
		"installationId": "ABC-123",
		"deviceType":     "ios",
		"badge":          3,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Status)
	assert.Contains(t, second.Response, "updatedAt")

	rows := findAll(t, st, ir.ClassInstallation, nil)
	require.Len(t, rows, 1)
	assert.Equal(t, id, ir.ObjectID(rows[0]))
	assert.Equal(t, float64(3), rows[0]["badge"])
}

func TestInstallationCreate_MergesIntoDeviceTokenRow(t *testing.T) {
	rt, st := newRuntime(t)
	ctx := context.Background()

	tokenOnly, err := Create(ctx, rt, auth.Master(), ir.ClassInstallation, ir.Object{
		"deviceToken": "tok-1",
		"deviceType":  "android",
	})
	require.NoError(t, err)

	_, err = Create(ctx, rt, auth.Master(), ir.ClassInstallation, ir.Object{
		"installationId": "inst-9",
		"deviceToken":    "tok-1",
		"deviceType":     "android",
	})
	require.NoError(t, err)

	rows := findAll(t, st, ir.ClassInstallation, nil)
	require.Len(t, rows, 1)
	assert.Equal(t, ir.ObjectID(tokenOnly.Response), ir.ObjectID(rows[0]))
	assert.Equal(t, "inst-9", rows[0]["installationId"])
	assert.Equal(t, "tok-1", rows[0]["deviceToken"])
}

func TestInstallationCreate_TokenMovesToNewInstallation(t *testing.T) {
	rt, st := newRuntime(t)
	ctx := context.Background()

	_, err := Create(ctx, rt, auth.Master(), ir.ClassInstallation, ir.Object{
		"installationId": "old-device",
		"deviceToken":    "tok-1",
		"deviceType":     "android",
	})
	require.NoError(t, err)

	_, err = Create(ctx, rt, auth.Master(), ir.ClassInstallation, ir.Object{
		"installationId": "new-device",
		"deviceToken":    "tok-1",
		"deviceType":     "android",
	})
	require.NoError(t, err)

	rows := findAll(t, st, ir.ClassInstallation, nil)
	require.Len(t, rows, 1)
	assert.Equal(t, "new-device", rows[0]["installationId"])
}

func TestInstallationUpdate_ImmutableFields(t *testing.T) {
	rt, _ := newRuntime(t)
	ctx := context.Background()

	res, err := Create(ctx, rt, auth.Master(), ir.ClassInstallation, ir.Object{
		"installationId": "abc-123",
		"deviceType":     "ios",
	})
	require.NoError(t, err)
	id := ir.ObjectID(res.Response)

	_, err = Update(ctx, rt, auth.Master(), ir.ClassInstallation, id, ir.Object{"deviceType": "android"})
	requireCode(t, err, apierr.ChangedImmutableField)

	_, err = Update(ctx, rt, auth.Master(), ir.ClassInstallation, id, ir.Object{"installationId": "other"})
	requireCode(t, err, apierr.ChangedImmutableField)

	_, err = Update(ctx, rt, auth.Master(), ir.ClassInstallation, id, ir.Object{"channels": []any{"news"}})
	require.NoError(t, err)
}
