package apierr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := New(InvalidQuery, "bad %s", "thing")
	assert.Equal(t, "INVALID_QUERY: bad thing", err.Error())

	dup := Duplicate("username")
	assert.Contains(t, dup.Error(), "field=username")
	assert.Equal(t, "CODE_999", Code(999).String())
}

func TestIsUnwrapsChains(t *testing.T) {
	base := New(ObjectNotFound, "Object not found.")
	wrapped := fmt.Errorf("get: %w", base)

	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsDuplicate(wrapped))
	assert.Equal(t, ObjectNotFound, CodeOf(wrapped))
	assert.Equal(t, InternalServerError, CodeOf(errors.New("boom")))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(InternalServerError, cause, "write failed")
	assert.ErrorIs(t, err, cause)

	e, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, "write failed", e.Message)
}

func TestPayload(t *testing.T) {
	assert.Equal(t, map[string]any{"code": float64(202), "error": "taken"}, Payload(New(UsernameTaken, "taken")))
	assert.Equal(t, float64(1), Payload(errors.New("x"))["code"])
}
