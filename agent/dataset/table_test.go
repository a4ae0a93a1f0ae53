package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
)

const salesCSV = `date,region,units,revenue,promo
2024-01-01,north,10,100.5,true
2024-02-01,south,12,120.0,false
2024-03-01,north,9,95.25,false
2024-04-01,east,15,150.75,true
2024-05-01,south,,130.0,false
2024-06-01,north,20,210.0,true
`

func writeCSV(t *testing.T, name, content string) *contractx.DatasetRef {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return &contractx.DatasetRef{ID: "d1", Name: name, Path: path}
}

func TestLoadInfersColumnTypes(t *testing.T) {
	t.Parallel()

	table, err := Load(writeCSV(t, "sales.csv", salesCSV), 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"date", "region", "units", "revenue", "promo"}, table.Columns)
	assert.Equal(t, []ColumnType{TypeDatetime, TypeString, TypeInteger, TypeFloat, TypeBool}, table.Types)
	assert.Len(t, table.Rows, 6)
	assert.True(t, table.IsNumeric("Revenue"))
	assert.Len(t, table.Floats("units"), 5)
}

func TestLoadRejectsNonCSV(t *testing.T) {
	t.Parallel()

	_, err := Load(writeCSV(t, "sales.xlsx", salesCSV), 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
	assert.True(t, errors.Is(err, contractx.ErrDataset))
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(&contractx.DatasetRef{ID: "x", Path: filepath.Join(t.TempDir(), "nope.csv")}, 0)
	assert.True(t, errors.Is(err, contractx.ErrDataset))
}

func TestReadTruncatesAtMaxRows(t *testing.T) {
	t.Parallel()

	table, err := Read(strings.NewReader(salesCSV), "sales.csv", 2)
	require.NoError(t, err)
	assert.Len(t, table.Rows, 2)
	assert.True(t, table.Truncated)
}

func TestProfileDescribesNumericColumns(t *testing.T) {
	t.Parallel()

	table, err := Read(strings.NewReader(salesCSV), "sales.csv", 0)
	require.NoError(t, err)

	profile := table.Profile()
	assert.Equal(t, 6, profile.Rows)
	assert.Equal(t, 5, profile.Cols)
	assert.Len(t, profile.Head, 5)

	units := profile.Columns[2]
	require.NotNil(t, units.Stats)
	assert.Equal(t, 5, units.Stats.Count)
	assert.Equal(t, 5, units.NonNull)
	assert.InDelta(t, 13.2, units.Stats.Mean, 1e-9)
	assert.Equal(t, 9.0, units.Stats.Min)
	assert.Equal(t, 20.0, units.Stats.Max)
	assert.Nil(t, profile.Columns[1].Stats)
	assert.Equal(t, 3, profile.Columns[1].Unique)

	text := profile.Text()
	assert.Contains(t, text, "Shape: (6, 5)")
	assert.Contains(t, text, "- units: int64")
	assert.Contains(t, text, "Descriptive statistics:")

	fields := profile.Fields()
	assert.Equal(t, "datetime", fields["dtypes"].(map[string]any)["date"])
}

func TestCacheReloadsChangedFiles(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n1,2\n"), 0o600))
	ref := &contractx.DatasetRef{ID: "d", Path: path}

	cache := NewCache(0)
	first, err := cache.Load(ref)
	require.NoError(t, err)
	again, err := cache.Load(ref)
	require.NoError(t, err)
	assert.Same(t, first, again)

	require.NoError(t, os.WriteFile(path, []byte("a,b\n1,2\n3,4\n"), 0o600))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))

	reloaded, err := cache.Load(ref)
	require.NoError(t, err)
	assert.Len(t, reloaded.Rows, 2)

	_, err = cache.Load(&contractx.DatasetRef{ID: "x", Path: filepath.Join(t.TempDir(), "missing.csv")})
	assert.ErrorIs(t, err, contractx.ErrDataset)
}
