package batch

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossyoak/genfetch/internal/api"
	"github.com/mossyoak/genfetch/internal/common"
	"github.com/mossyoak/genfetch/internal/condense"
	"github.com/mossyoak/genfetch/internal/fetch"
	"github.com/mossyoak/genfetch/internal/storage"
)

var censusPattern = regexp.MustCompile(`[Cc]ensus`)

const censusRecord = `{
	"description": "#sd:PP-1",
	"persons": [
		{"id": "PP-1", "facts": [
			{"labelId": "NAME", "text": "John Doe"},
			{"labelId": "EVENT_DATE", "text": "1900"}
		]}
	]
}`

func censusMock() *fetch.MockAPI {
	mock := fetch.NewMockAPI()
	mock.Attached["LHKL-JLF"] = []api.SourceDescription{{
		About:  "https://example.org/ark:/61903/1:1:ABCD-123",
		Titles: []api.TitleValue{{Value: "1900 United States Census"}},
	}}
	mock.Records["ABCD-123"] = []byte(censusRecord)
	return mock
}

func TestDriverRunEndToEnd(t *testing.T) {
	driver := &Driver{Fetcher: fetch.New(censusMock())}

	table, err := driver.Run(context.Background(), []string{"LHKL-JLF", "NONE-000"}, Options{
		Pattern: censusPattern,
	})
	require.NoError(t, err)

	require.Equal(t, 1, table.Len(), "identifier without sources contributes nothing")
	row := table.Rows[0]
	assert.Equal(t, "LHKL-JLF", row.PID)
	assert.Equal(t, 1.0, row.Score)
	assert.Equal(t, "John Doe", row.Fields["name"])
	assert.Equal(t, "ABCD-123", row.ArkID)
}

func TestDriverRunRequiresInput(t *testing.T) {
	driver := &Driver{Fetcher: fetch.New(fetch.NewMockAPI())}

	_, err := driver.Run(context.Background(), nil, Options{Pattern: censusPattern})
	assert.ErrorIs(t, err, common.ErrNoIdentifiers)
}

func TestDriverRunResumes(t *testing.T) {
	store, err := storage.Open(filepath.Join(t.TempDir(), "genfetch.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	mock := censusMock()
	driver := &Driver{Fetcher: fetch.New(mock), Store: store}
	opts := Options{Pattern: censusPattern, RunName: "census-test"}

	first, err := driver.Run(context.Background(), []string{"LHKL-JLF"}, opts)
	require.NoError(t, err)
	require.Equal(t, 1, first.Len())
	callsAfterFirst := len(mock.RecordCalls)

	// Second run with the same run name reuses stored rows.
	second, err := driver.Run(context.Background(), []string{"LHKL-JLF"}, opts)
	require.NoError(t, err)
	assert.Equal(t, first.Rows, second.Rows)
	assert.Equal(t, callsAfterFirst, len(mock.RecordCalls), "no refetch on resume")
}

func TestDriverRunCondensedOutput(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "census.csv")

	mapping := &condense.Mapping{
		Columns: []string{"pid", "name", "year"},
		Aliases: map[string][]string{
			"pid":  {"PID"},
			"name": {"name"},
			"year": {"event_date"},
		},
	}

	driver := &Driver{Fetcher: fetch.New(censusMock())}
	_, err := driver.Run(context.Background(), []string{"LHKL-JLF"}, Options{
		Pattern:         censusPattern,
		Mapping:         mapping,
		Filter:          condense.FilterCensus,
		Dedup:           true,
		OutputPath:      out,
		SaveUncondensed: true,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "pid,name,year\nLHKL-JLF,John Doe,1900\n", string(data))

	side, err := os.ReadFile(UncondensedPath(out))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(side), "John Doe"), "raw rows kept beside condensed output")
}
