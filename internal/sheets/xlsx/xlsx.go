// Package xlsx reads spreadsheet workbooks (and plain CSV exports) into
// sheets.Table values.
package xlsx

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"orti/internal/sheets"
)

// Reader reads one workbook. The source is opened on every ReadTables call.
type Reader struct {
	name   string
	open   func() (io.ReadCloser, error)
	csv    bool
	sheets []string
}

var _ sheets.TableReader = (*Reader)(nil)

// NewFile reads the workbook at path. A .csv file becomes a single table
// named after the file. When sheetNames is empty every sheet is read.
func NewFile(path string, sheetNames ...string) *Reader {
	ext := strings.ToLower(filepath.Ext(path))
	return &Reader{
		name:   strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		open:   func() (io.ReadCloser, error) { return os.Open(path) },
		csv:    ext == ".csv",
		sheets: sheetNames,
	}
}

// NewBytes reads an in-memory workbook, typically an upload.
func NewBytes(name string, data []byte, sheetNames ...string) *Reader {
	ext := strings.ToLower(filepath.Ext(name))
	return &Reader{
		name:   strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)),
		open:   func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
		csv:    ext == ".csv",
		sheets: sheetNames,
	}
}

func (r *Reader) ReadTables(ctx context.Context) ([]sheets.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rc, err := r.open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", sheets.ErrUnreadableSource, r.name, err)
	}
	defer rc.Close()

	if r.csv {
		cr := csv.NewReader(rc)
		cr.FieldsPerRecord = -1
		rows, err := cr.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", sheets.ErrUnreadableSource, r.name, err)
		}
		return []sheets.Table{{Name: r.name, Rows: rows}}, nil
	}

	f, err := excelize.OpenReader(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook %s: %v", sheets.ErrUnreadableSource, r.name, err)
	}
	defer f.Close()

	names := r.sheets
	if len(names) == 0 {
		names = f.GetSheetList()
	}

	tables := make([]sheets.Table, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if idx, err := f.GetSheetIndex(name); err != nil || idx < 0 {
			return nil, fmt.Errorf("%w: sheet %q not found in %s", sheets.ErrUnreadableSource, name, r.name)
		}
		// Raw values keep full precision and skip number formats.
		rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("%w: read sheet %q: %v", sheets.ErrUnreadableSource, name, err)
		}
		tables = append(tables, sheets.Table{Name: name, Rows: rows})
	}
	return tables, nil
}
