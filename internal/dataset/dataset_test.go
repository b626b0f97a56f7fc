package dataset

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const sampleCSV = `ZMass,ZPt,Njets
91.2,10.5,2
88.0,3.25,0
95.5,40,x
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func waitField(t *testing.T, ds *Dataset, label string) *Field {
	t.Helper()
	f, err := ds.Field(label)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ds.WaitLoaded(ctx, f))
	return f
}

func TestOpen_CSV(t *testing.T) {
	ds, err := Open(Config{Path: writeFile(t, "simdata.csv", sampleCSV), Workers: 2})
	require.NoError(t, err)
	defer ds.Close()

	var labels []string
	for _, f := range ds.Fields() {
		labels = append(labels, f.Label)
	}
	assert.Equal(t, []string{"ZMass", "ZPt", "Njets"}, labels)

	f, err := ds.Field("ZPt")
	require.NoError(t, err)
	assert.False(t, f.Loaded(), "fields load lazily")

	f = waitField(t, ds, "ZPt")
	assert.Equal(t, []float32{10.5, 3.25, 40}, f.Values())
	lo, hi := f.Range()
	assert.Equal(t, 3.25, lo)
	assert.Equal(t, 40.0, hi)
	assert.NotZero(t, f.Stamp())

	// Unparsable cells read as 0.
	n := waitField(t, ds, "Njets")
	assert.Equal(t, []float32{2, 0, 0}, n.Values())
}

func TestOpen_FieldSubset(t *testing.T) {
	path := writeFile(t, "simdata.csv", sampleCSV)
	ds, err := Open(Config{Path: path, Fields: []string{"Njets", "ZMass"}})
	require.NoError(t, err)
	defer ds.Close()

	fields := ds.Fields()
	require.Len(t, fields, 2)
	assert.Equal(t, "Njets", fields[0].Label)
	assert.Equal(t, 2, fields[0].Index)

	_, err = ds.Field("ZPt")
	assert.True(t, errors.Is(err, ErrUnknownField))

	_, err = Open(Config{Path: path, Fields: []string{"Missing"}})
	assert.True(t, errors.Is(err, ErrUnknownField))
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(Config{Path: filepath.Join(t.TempDir(), "nope.csv")})
	assert.Error(t, err)
}

func TestOpen_CSVZstd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simdata.csv.zst")
	out, err := os.Create(path)
	require.NoError(t, err)
	enc, err := zstd.NewWriter(out)
	require.NoError(t, err)
	_, err = enc.Write([]byte(sampleCSV))
	require.NoError(t, err)
	require.NoError(t, enc.Close())
	require.NoError(t, out.Close())

	assert.Equal(t, FormatCSVZstd, DetectFormat(path))
	ds, err := Open(Config{Path: path})
	require.NoError(t, err)
	defer ds.Close()

	f := waitField(t, ds, "ZMass")
	assert.Equal(t, []float32{91.2, 88.0, 95.5}, f.Values())
}

func TestOpen_XLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simdata.xlsx")
	wb := excelize.NewFile()
	sheet := wb.GetSheetName(0)
	rows := [][]any{{"Met", "MDr"}, {1.5, 0.25}, {2.5, 0.75}}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, wb.SetSheetRow(sheet, cell, &row))
	}
	require.NoError(t, wb.SaveAs(path))
	require.NoError(t, wb.Close())

	ds, err := Open(Config{Path: path})
	require.NoError(t, err)
	defer ds.Close()

	f := waitField(t, ds, "MDr")
	assert.Equal(t, []float32{0.25, 0.75}, f.Values())
}

func TestOpen_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simdata.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE events (M1Pt REAL, M2Pt REAL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO events VALUES (1, 10), (2, 20), (3, NULL)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(Config{Path: path})
	assert.Error(t, err, "table is required")

	ds, err := Open(Config{Path: path, Table: "events"})
	require.NoError(t, err)
	defer ds.Close()

	f := waitField(t, ds, "M2Pt")
	assert.Equal(t, []float32{10, 20, 0}, f.Values())
	lo, hi := f.Range()
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 20.0, hi)
}

func TestDataset_LoadAfterClose(t *testing.T) {
	ds, err := Open(Config{Path: writeFile(t, "simdata.csv", sampleCSV)})
	require.NoError(t, err)
	require.NoError(t, ds.Close())

	f, err := ds.Field("ZMass")
	require.NoError(t, err)
	err = ds.WaitLoaded(context.Background(), f)
	assert.ErrorIs(t, err, errPoolStopped)
}

func TestNextStamp(t *testing.T) {
	a := NextStamp()
	b := NextStamp()
	assert.Greater(t, b, a)
}
