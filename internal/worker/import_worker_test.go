package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orti/internal/amqp"
	"orti/internal/core"
	"orti/internal/importer"
	"orti/internal/ledger"
	applog "orti/internal/log"
	"orti/internal/sheets"
	sheetsmem "orti/internal/sheets/memory"
	"orti/internal/storage/memory"
	"orti/internal/taxonomy"
)

type recordingInvalidator struct{ companies []string }

func (r *recordingInvalidator) Invalidate(companyID string) {
	r.companies = append(r.companies, companyID)
}

type fixture struct {
	worker      *ImportWorker
	store       *memory.Store
	invalidated *recordingInvalidator
	companyID   string
}

func setup(t *testing.T, opener SheetsOpener) fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	company, err := store.GetOrCreateCompany(ctx, "ORTI", "")
	require.NoError(t, err)

	logger := applog.Discard()
	tree := taxonomy.NewTree(store, logger)
	_, err = tree.SeedDefaultHierarchy(ctx, company.ID, taxonomy.DefaultHierarchy())
	require.NoError(t, err)

	inv := &recordingInvalidator{}
	imp := importer.New(tree, ledger.NewService(store, 2, logger), logger)
	w := NewImportWorker(store, imp, inv, opener, Config{DefaultSpreadsheetID: "default-sheet"}, logger)
	w.now = func() time.Time { return time.Date(2025, time.July, 10, 0, 0, 0, 0, time.UTC) }
	return fixture{worker: w, store: store, invalidated: inv, companyID: company.ID}
}

func hotelSheet() sheets.Table {
	return sheets.Table{Name: "2025", Rows: [][]string{
		{"Voce", "Giugno", "Luglio"},
		{"Entrate Hotel", "601975", "802060.58"},
	}}
}

func sheetsJob() *amqp.ImportJobMessage {
	msg := amqp.NewImportJobMessage("ORTI", amqp.SourceSheets)
	msg.Year = 2025
	return msg
}

func TestHandleSheetsJob(t *testing.T) {
	var gotID string
	f := setup(t, func(_ context.Context, id string, _ []string) (sheets.TableReader, error) {
		gotID = id
		return sheetsmem.New(hotelSheet()), nil
	})

	require.NoError(t, f.worker.HandleImportJob(context.Background(), sheetsJob()))
	assert.Equal(t, "default-sheet", gotID)
	assert.Equal(t, []string{f.companyID}, f.invalidated.companies)

	actual := false
	lines, err := f.store.QueryLines(context.Background(), core.EntryFilter{CompanyID: &f.companyID, IsProjection: &actual})
	require.NoError(t, err)
	require.Len(t, lines, 1, "July is projected under the current-month policy")
	assert.Equal(t, 6, lines[0].Month)
}

func TestHandleExplicitCutoff(t *testing.T) {
	f := setup(t, func(context.Context, string, []string) (sheets.TableReader, error) {
		return sheetsmem.New(hotelSheet()), nil
	})
	msg := sheetsJob()
	msg.SpreadsheetID = "other"
	msg.CutoffYear, msg.CutoffMonth = 2025, 8

	require.NoError(t, f.worker.HandleImportJob(context.Background(), msg))

	actual := false
	lines, err := f.store.QueryLines(context.Background(), core.EntryFilter{CompanyID: &f.companyID, IsProjection: &actual})
	require.NoError(t, err)
	assert.Len(t, lines, 2)
}

func TestHandleXLSXMissingFileIsDiscarded(t *testing.T) {
	f := setup(t, nil)
	msg := amqp.NewImportJobMessage("ORTI", amqp.SourceXLSX)
	msg.Path = filepath.Join(t.TempDir(), "missing.xlsx")

	err := f.worker.HandleImportJob(context.Background(), msg)
	require.Error(t, err)
	assert.ErrorIs(t, err, amqp.ErrDiscard)
	assert.ErrorIs(t, err, sheets.ErrUnreadableSource)
	assert.Empty(t, f.invalidated.companies)
}

func TestHandleXLSXCSVFile(t *testing.T) {
	f := setup(t, nil)
	path := filepath.Join(t.TempDir(), "2025.csv")
	require.NoError(t, os.WriteFile(path, []byte("Voce,Gennaio,Febbraio\nUtenze,-120.40,-98\n"), 0o600))

	msg := amqp.NewImportJobMessage("ORTI", amqp.SourceXLSX)
	msg.Path = path
	msg.Year = 2025
	require.NoError(t, f.worker.HandleImportJob(context.Background(), msg))
	assert.Len(t, f.invalidated.companies, 1)
}

func TestHandleInvalidMessageIsDiscarded(t *testing.T) {
	f := setup(t, nil)
	err := f.worker.HandleImportJob(context.Background(), &amqp.ImportJobMessage{Source: "ftp"})
	assert.ErrorIs(t, err, amqp.ErrDiscard)
}

func TestHandleSheetsNotConfigured(t *testing.T) {
	f := setup(t, nil)
	err := f.worker.HandleImportJob(context.Background(), sheetsJob())
	assert.ErrorIs(t, err, amqp.ErrDiscard)
}

func TestHandleStoreOutageIsRequeued(t *testing.T) {
	outage := errors.Join(core.ErrBackingStoreUnavailable, errors.New("connection refused"))
	f := setup(t, func(context.Context, string, []string) (sheets.TableReader, error) {
		return sheetsmem.New(hotelSheet()), nil
	})
	f.worker.importer = failingImporter{err: outage}

	err := f.worker.HandleImportJob(context.Background(), sheetsJob())
	require.Error(t, err)
	assert.NotErrorIs(t, err, amqp.ErrDiscard)
	assert.ErrorIs(t, err, core.ErrBackingStoreUnavailable)
}

type unreachableEntries struct{ *memory.Store }

func (unreachableEntries) UpsertEntry(context.Context, core.Entry) (core.Entry, error) {
	return core.Entry{}, fmt.Errorf("upsert entry: %w", core.ErrBackingStoreUnavailable)
}

func TestHandleLedgerOutageIsRequeued(t *testing.T) {
	f := setup(t, func(context.Context, string, []string) (sheets.TableReader, error) {
		return sheetsmem.New(hotelSheet()), nil
	})
	logger := applog.Discard()
	f.worker.importer = importer.New(taxonomy.NewTree(f.store, logger),
		ledger.NewService(unreachableEntries{f.store}, 2, logger), logger)

	err := f.worker.HandleImportJob(context.Background(), sheetsJob())
	require.Error(t, err)
	assert.NotErrorIs(t, err, amqp.ErrDiscard)
	assert.ErrorIs(t, err, core.ErrBackingStoreUnavailable)
	assert.Empty(t, f.invalidated.companies)
}

type failingImporter struct{ err error }

func (f failingImporter) Import(context.Context, sheets.TableReader, importer.Options) (importer.Report, error) {
	return importer.Report{}, f.err
}
