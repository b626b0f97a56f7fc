package dataset

import (
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/xuri/excelize/v2"
	_ "modernc.org/sqlite"
)

// Supported source formats.
const (
	FormatCSV     = "csv"
	FormatCSVZstd = "csv.zst"
	FormatXLSX    = "xlsx"
	FormatSQLite  = "sqlite"
)

// Loader reads columns of a tabular source. Column reads may run concurrently.
type Loader interface {
	// Columns returns the column names in source order.
	Columns() ([]string, error)
	// Column reads every value of column index.
	Column(index int) ([]float32, error)
	Close() error
}

// DetectFormat guesses the format from the file extension.
func DetectFormat(path string) string {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".csv.zst"):
		return FormatCSVZstd
	case strings.HasSuffix(lower, ".xlsx"):
		return FormatXLSX
	case strings.HasSuffix(lower, ".db"), strings.HasSuffix(lower, ".sqlite"), strings.HasSuffix(lower, ".sqlite3"):
		return FormatSQLite
	default:
		return FormatCSV
	}
}

// NewLoader opens a loader for path. An empty format is detected from the extension.
func NewLoader(path, format, table string) (Loader, error) {
	if format == "" {
		format = DetectFormat(path)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to open dataset %s: %w", path, err)
	}
	switch format {
	case FormatCSV:
		return &csvLoader{path: path}, nil
	case FormatCSVZstd:
		return &csvLoader{path: path, zstd: true}, nil
	case FormatXLSX:
		return openXLSX(path)
	case FormatSQLite:
		return openSQLite(path, table)
	default:
		return nil, fmt.Errorf("unsupported dataset format %q", format)
	}
}

// parseValue converts a cell to float32. Unparsable cells read as 0.
func parseValue(s string) float32 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 32)
	if err != nil {
		return 0
	}
	return float32(v)
}

// csvLoader reads comma-separated files with a header row, optionally zstd-compressed.
type csvLoader struct {
	path string
	zstd bool
}

func (l *csvLoader) open() (*csv.Reader, func(), error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open csv: %w", err)
	}
	var r io.Reader = f
	closeFn := func() { f.Close() }
	if l.zstd {
		dec, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		r = dec
		closeFn = func() {
			dec.Close()
			f.Close()
		}
	}
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1
	return cr, closeFn, nil
}

func (l *csvLoader) Columns() ([]string, error) {
	cr, closeFn, err := l.open()
	if err != nil {
		return nil, err
	}
	defer closeFn()
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	cols := make([]string, len(header))
	for i, h := range header {
		cols[i] = strings.TrimSpace(h)
	}
	return cols, nil
}

func (l *csvLoader) Column(index int) ([]float32, error) {
	cr, closeFn, err := l.open()
	if err != nil {
		return nil, err
	}
	defer closeFn()

	if _, err := cr.Read(); err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	var values []float32
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row %d: %w", len(values)+1, err)
		}
		if index < len(rec) {
			values = append(values, parseValue(rec[index]))
		} else {
			values = append(values, 0)
		}
	}
	return values, nil
}

func (l *csvLoader) Close() error { return nil }

// xlsxLoader reads the first sheet of a workbook; the first row is the header.
type xlsxLoader struct {
	header []string
	rows   [][]string
}

func openXLSX(path string) (*xlsxLoader, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook %s has no sheets", filepath.Base(path))
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %s is empty", sheets[0])
	}
	return &xlsxLoader{header: rows[0], rows: rows[1:]}, nil
}

func (l *xlsxLoader) Columns() ([]string, error) {
	cols := make([]string, len(l.header))
	for i, h := range l.header {
		cols[i] = strings.TrimSpace(h)
	}
	return cols, nil
}

func (l *xlsxLoader) Column(index int) ([]float32, error) {
	values := make([]float32, len(l.rows))
	for i, row := range l.rows {
		if index < len(row) {
			values[i] = parseValue(row[index])
		}
	}
	return values, nil
}

func (l *xlsxLoader) Close() error { return nil }

// sqliteLoader reads the columns of one table.
type sqliteLoader struct {
	db      *sql.DB
	table   string
	columns []string
}

func openSQLite(path, table string) (*sqliteLoader, error) {
	if table == "" {
		return nil, errors.New("sqlite dataset requires a table name")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	rows, err := db.Query(fmt.Sprintf("SELECT * FROM %s LIMIT 0", quoteIdent(table)))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to query table %s: %w", table, err)
	}
	cols, err := rows.Columns()
	rows.Close()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}
	return &sqliteLoader{db: db, table: table, columns: cols}, nil
}

func (l *sqliteLoader) Columns() ([]string, error) {
	return append([]string(nil), l.columns...), nil
}

func (l *sqliteLoader) Column(index int) ([]float32, error) {
	if index < 0 || index >= len(l.columns) {
		return nil, fmt.Errorf("column %d out of range", index)
	}
	rows, err := l.db.Query(fmt.Sprintf("SELECT %s FROM %s ORDER BY rowid",
		quoteIdent(l.columns[index]), quoteIdent(l.table)))
	if err != nil {
		return nil, fmt.Errorf("failed to query column %s: %w", l.columns[index], err)
	}
	defer rows.Close()

	var values []float32
	for rows.Next() {
		var v sql.NullFloat64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan column %s: %w", l.columns[index], err)
		}
		values = append(values, float32(v.Float64))
	}
	return values, rows.Err()
}

func (l *sqliteLoader) Close() error {
	return l.db.Close()
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
