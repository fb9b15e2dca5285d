package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossyoak/genfetch/internal/model"
)

func testStore(t *testing.T) *BatchStore {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "genfetch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStartRunCreatesAndResumes(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	id, err := store.StartRun(ctx, "census-2026", "[Cc]ensus")
	require.NoError(t, err)

	again, err := store.StartRun(ctx, "census-2026", "[Cc]ensus")
	require.NoError(t, err)
	assert.Equal(t, id, again, "same name resumes the same run")

	_, err = store.StartRun(ctx, "census-2026", "[Dd]eath")
	assert.ErrorIs(t, err, ErrPatternMismatch)
}

func TestSaveAndLoadResults(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	id, err := store.StartRun(ctx, "run", "[Cc]ensus")
	require.NoError(t, err)

	rows := []model.Row{
		{
			PID:     "LHKL-JLF",
			ArkID:   "ABCD-123",
			Score:   1.0,
			Subject: true,
			Fields:  map[string]string{"name": "John Doe", "event_date": "1900"},
		},
		{
			PID:    "LHKL-JLF",
			Score:  1.0,
			Fields: map[string]string{"name": "Mary Doe"},
		},
	}
	require.NoError(t, store.SaveResult(ctx, id, "LHKL-JLF", rows))
	require.NoError(t, store.SaveResult(ctx, id, "XXXX-XXX", nil))

	done, err := store.CompletedResults(ctx, id)
	require.NoError(t, err)

	require.Len(t, done, 2)
	assert.Equal(t, rows, done["LHKL-JLF"])
	assert.Empty(t, done["XXXX-XXX"], "empty results are remembered too")

	// Re-saving a pid replaces its rows.
	require.NoError(t, store.SaveResult(ctx, id, "LHKL-JLF", rows[:1]))
	done, err = store.CompletedResults(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, rows[:1], done["LHKL-JLF"])
}

func TestResultsScopedToRun(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	censusRun, err := store.StartRun(ctx, "census", "[Cc]ensus")
	require.NoError(t, err)
	deathRun, err := store.StartRun(ctx, "deaths", "[Dd]eath")
	require.NoError(t, err)

	require.NoError(t, store.SaveResult(ctx, censusRun, "P1", nil))

	done, err := store.CompletedResults(ctx, deathRun)
	require.NoError(t, err)
	assert.Empty(t, done)
}
