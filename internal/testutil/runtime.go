package testutil

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/restcore/internal/store"
	"github.com/roach88/restcore/internal/tenant"
)

// NewStore opens a store in a temporary directory, closed on cleanup.
func NewStore(t testing.TB) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "restcore.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// NewRuntime returns a tenant runtime over a fresh store with a
// deterministic clock, sequential ids and a discarding logger. The runtime
// waits for its background tasks on cleanup.
func NewRuntime(t testing.TB, cfg tenant.Config, opts ...tenant.Option) (*tenant.Runtime, *store.Store) {
	t.Helper()
	st := NewStore(t)
	clock := NewDeterministicClock()
	base := []tenant.Option{
		tenant.WithClock(clock.Now),
		tenant.WithIDs(NewSequentialIDs("")),
		tenant.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	rt := tenant.New(cfg, st, append(base, opts...)...)
	t.Cleanup(rt.Wait)
	return rt, st
}
