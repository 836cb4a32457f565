package parallel

import (
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nibzard/fanout/internal/backend"
	"github.com/nibzard/fanout/internal/comm"
)

func discardLogger() *log.Logger {
	return log.New(io.Discard)
}

func clearLauncherEnv(t *testing.T) {
	t.Helper()
	t.Setenv(comm.EnvWorldSize, "")
	t.Setenv(comm.EnvRank, "")
	t.Setenv(comm.EnvCoordAddr, "")
}

func TestResolve(t *testing.T) {
	t.Run("unknown backend name fails before any task runs", func(t *testing.T) {
		_, err := Resolve(backend.Detect(), "quantum", 0, "", discardLogger())
		assert.ErrorIs(t, err, backend.ErrUnknownBackend)
	})

	t.Run("sequential always resolves to one worker", func(t *testing.T) {
		r, err := Resolve(backend.Detect(), "sequential", 8, "", discardLogger())
		require.NoError(t, err)
		assert.Equal(t, backend.Sequential, r.Backend)
		assert.Equal(t, 1, r.Workers)
		assert.Equal(t, 0, r.Rank)
	})

	t.Run("requested pool backend uses the hint", func(t *testing.T) {
		r, err := Resolve(backend.Detect(), "threads", 4, "", discardLogger())
		require.NoError(t, err)
		assert.Equal(t, backend.Threads, r.Backend)
		assert.Equal(t, 4, r.Workers)
	})

	t.Run("fewer than two workers degrades to sequential", func(t *testing.T) {
		clearLauncherEnv(t)
		r, err := Resolve(backend.Detect(), "threads", 1, "", discardLogger())
		require.NoError(t, err)
		assert.Equal(t, backend.Sequential, r.Backend)
		assert.Equal(t, 1, r.Workers)
	})

	t.Run("worker count falls back to the environment variable", func(t *testing.T) {
		t.Setenv("FANOUT_TEST_PROCS", "3")
		r, err := Resolve(backend.Detect(), "threads", 0, "FANOUT_TEST_PROCS", discardLogger())
		require.NoError(t, err)
		assert.Equal(t, backend.Threads, r.Backend)
		assert.Equal(t, 3, r.Workers)
	})

	t.Run("non-integer environment value is silently ignored", func(t *testing.T) {
		t.Setenv("FANOUT_TEST_PROCS", "lots")
		r, err := Resolve(backend.Detect(), "", 0, "FANOUT_TEST_PROCS", discardLogger())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, r.Workers, 1)
	})

	t.Run("unavailable requested backend is replaced, not fatal", func(t *testing.T) {
		clearLauncherEnv(t)
		caps := backend.Detect().WithAvailability(backend.Distributed, false)
		r, err := Resolve(caps, "distributed", 4, "", discardLogger())
		require.NoError(t, err)
		assert.NotEqual(t, backend.Distributed, r.Backend)
	})

	t.Run("distributed without a real world is skipped", func(t *testing.T) {
		clearLauncherEnv(t)
		caps := backend.Detect().WithAvailability(backend.Distributed, true)
		r, err := Resolve(caps, "distributed", 4, "", discardLogger())
		require.NoError(t, err)
		// World size from the environment is zero, so the candidate is
		// rejected and the next usable backend takes over with the hint.
		assert.NotEqual(t, backend.Distributed, r.Backend)
		assert.NotEqual(t, backend.Sequential, r.Backend)
		assert.Equal(t, 4, r.Workers)
	})

	t.Run("distributed takes its size and rank from the launcher", func(t *testing.T) {
		t.Setenv(comm.EnvWorldSize, "4")
		t.Setenv(comm.EnvRank, "2")
		t.Setenv(comm.EnvCoordAddr, "127.0.0.1:9999")
		caps := backend.Detect()
		r, err := Resolve(caps, "distributed", 99, "", discardLogger())
		require.NoError(t, err)
		assert.Equal(t, backend.Distributed, r.Backend)
		assert.Equal(t, 4, r.Workers) // hint ignored
		assert.Equal(t, 2, r.Rank)
	})
}
