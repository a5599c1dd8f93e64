package xlsx

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"orti/internal/sheets"
)

func workbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	require.NoError(t, f.SetSheetName("Sheet1", "2025"))
	require.NoError(t, f.SetSheetRow("2025", "A1", &[]any{"Voce", "Gennaio", "Febbraio"}))
	require.NoError(t, f.SetSheetRow("2025", "A2", &[]any{"Entrate Hotel", 601975, 802060.58}))
	require.NoError(t, f.SetSheetRow("2025", "A3", &[]any{"Utenze", -1234.5}))

	_, err := f.NewSheet("Note")
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue("Note", "A1", "ignored"))

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestReadAllSheets(t *testing.T) {
	r := NewBytes("orti.xlsx", workbook(t))

	tables, err := r.ReadTables(context.Background())
	require.NoError(t, err)
	require.Len(t, tables, 2)

	assert.Equal(t, "2025", tables[0].Name)
	assert.Equal(t, "Entrate Hotel", tables[0].Cell(1, 0))
	assert.Equal(t, "601975", tables[0].Cell(1, 1))
	assert.Equal(t, "802060.58", tables[0].Cell(1, 2))
	assert.Equal(t, "-1234.5", tables[0].Cell(2, 1))
}

func TestReadSelectedSheet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orti.xlsx")
	require.NoError(t, os.WriteFile(path, workbook(t), 0o600))

	tables, err := NewFile(path, "2025").ReadTables(context.Background())
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "2025", tables[0].Name)

	_, err = NewFile(path, "2030").ReadTables(context.Background())
	assert.ErrorIs(t, err, sheets.ErrUnreadableSource)
}

func TestUnreadableSource(t *testing.T) {
	_, err := NewFile(filepath.Join(t.TempDir(), "missing.xlsx")).ReadTables(context.Background())
	assert.ErrorIs(t, err, sheets.ErrUnreadableSource)

	_, err = NewBytes("garbage.xlsx", []byte("not a zip")).ReadTables(context.Background())
	assert.ErrorIs(t, err, sheets.ErrUnreadableSource)
}

func TestCSV(t *testing.T) {
	data := []byte("Voce,Gennaio\nEntrate Hotel,\"1.234,56\"\nUtenze\n")
	tables, err := NewBytes("export-2025.csv", data).ReadTables(context.Background())
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "export-2025", tables[0].Name)
	assert.Equal(t, "1.234,56", tables[0].Cell(1, 1))
	assert.Equal(t, "", tables[0].Cell(2, 1))
}
