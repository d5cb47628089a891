package store

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestStore opens an in-memory database with migrations applied.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := Open(":memory:", logger)
	require.NoError(t, err)

	t.Cleanup(func() { st.Close() })

	return st
}
