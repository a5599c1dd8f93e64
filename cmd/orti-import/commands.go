package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"orti/internal/core"
	"orti/internal/importer"
	"orti/internal/ledger"
	applog "orti/internal/log"
	"orti/internal/report"
	"orti/internal/sheets"
	"orti/internal/sheets/xlsx"
	"orti/internal/storage"
	"orti/internal/taxonomy"
)

var errUsage = errors.New("usage: orti-import [-company NAME] seed|xlsx|sheets|summary|variance|consolidate|reset [flags]")

type app struct {
	store      storage.Store
	taxonomy   *taxonomy.Tree
	ledger     *ledger.Service
	importer   *importer.Importer
	reports    *report.Service
	company    string
	cutoff     *core.Period
	threshold  decimal.Decimal
	ranges     []string
	sheetID    string
	openSheets func(ctx context.Context, spreadsheetID string, ranges []string) (sheets.TableReader, error)
	now        func() time.Time
	out        io.Writer
	logger     *applog.Logger
}

// listFlag collects a repeatable flag; comma separated values are split.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			*l = append(*l, item)
		}
	}
	return nil
}

// policyFlags are shared by the import commands.
type policyFlags struct {
	year       int
	cutoff     string
	projection string
}

func (p *policyFlags) register(fs *flag.FlagSet) {
	fs.IntVar(&p.year, "year", 0, "year of month-name headers")
	fs.StringVar(&p.cutoff, "cutoff", "", "first projected month, YYYY-MM")
	fs.StringVar(&p.projection, "projection", "", "mark every value as projection (true) or actual (false)")
}

func (p *policyFlags) options(a *app, companyID, notes string) (importer.Options, error) {
	var explicit *bool
	if p.projection != "" {
		b, err := strconv.ParseBool(p.projection)
		if err != nil {
			return importer.Options{}, fmt.Errorf("%w: -projection %q is not a boolean", errUsage, p.projection)
		}
		explicit = &b
	}
	cutoff := a.cutoff
	if p.cutoff != "" {
		c, err := core.ParsePeriod(p.cutoff)
		if err != nil {
			return importer.Options{}, err
		}
		cutoff = &c
	}
	return importer.Options{
		CompanyID: companyID,
		Layout:    importer.DetectHeader(p.year),
		Policy:    importer.ChoosePolicy(explicit, cutoff, a.clock()),
		Notes:     notes,
	}, nil
}

func (a *app) clock() time.Time {
	if a.now != nil {
		return a.now()
	}
	return time.Now()
}

func (a *app) run(ctx context.Context, args []string) error {
	global := flag.NewFlagSet("orti-import", flag.ContinueOnError)
	global.SetOutput(io.Discard)
	global.StringVar(&a.company, "company", a.company, "company name")
	if err := global.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if global.NArg() == 0 {
		return errUsage
	}

	cmd, rest := global.Arg(0), global.Args()[1:]
	switch cmd {
	case "seed":
		return a.seed(ctx)
	case "xlsx":
		return a.importXLSX(ctx, rest)
	case "sheets":
		return a.importSheets(ctx, rest)
	case "summary":
		return a.summary(ctx, rest)
	case "variance":
		return a.variance(ctx, rest)
	case "consolidate":
		return a.consolidate(ctx, rest)
	case "reset":
		return a.reset(ctx)
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

func (a *app) parse(name string, fs *flag.FlagSet, args []string) error {
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %v", errUsage, name, err)
	}
	return nil
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) seed(ctx context.Context) error {
	c, err := a.store.GetOrCreateCompany(ctx, a.company, "")
	if err != nil {
		return err
	}
	rep, err := a.taxonomy.SeedDefaultHierarchy(ctx, c.ID, taxonomy.DefaultHierarchy())
	if err != nil {
		return err
	}
	return a.print(rep)
}

func (a *app) importXLSX(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("xlsx", flag.ContinueOnError)
	file := fs.String("file", "", "workbook (.xlsx) or CSV export to import")
	var sheetNames listFlag
	fs.Var(&sheetNames, "sheet", "sheet to read, repeatable; default all")
	var p policyFlags
	p.register(fs)
	if err := a.parse("xlsx", fs, args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("%w: xlsx: -file is required", errUsage)
	}

	c, err := a.store.GetOrCreateCompany(ctx, a.company, "")
	if err != nil {
		return err
	}
	opts, err := p.options(a, c.ID, "import "+*file)
	if err != nil {
		return err
	}
	rep, err := a.importer.Import(ctx, xlsx.NewFile(*file, sheetNames...), opts)
	if err != nil {
		return err
	}
	return a.print(rep)
}

func (a *app) importSheets(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sheets", flag.ContinueOnError)
	spreadsheet := fs.String("spreadsheet", a.sheetID, "spreadsheet id")
	var ranges listFlag
	fs.Var(&ranges, "ranges", "A1 ranges to read, repeatable or comma separated; default all sheets")
	var p policyFlags
	p.register(fs)
	if err := a.parse("sheets", fs, args); err != nil {
		return err
	}
	if *spreadsheet == "" {
		return fmt.Errorf("%w: sheets: -spreadsheet or GOOGLE_SPREADSHEET_ID is required", errUsage)
	}
	if len(ranges) == 0 {
		ranges = a.ranges
	}

	src, err := a.openSheets(ctx, *spreadsheet, ranges)
	if err != nil {
		return fmt.Errorf("open spreadsheet: %w", err)
	}
	c, err := a.store.GetOrCreateCompany(ctx, a.company, "")
	if err != nil {
		return err
	}
	opts, err := p.options(a, c.ID, "import sheet "+*spreadsheet)
	if err != nil {
		return err
	}
	rep, err := a.importer.Import(ctx, src, opts)
	if err != nil {
		return err
	}
	return a.print(rep)
}

func (a *app) summary(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("summary", flag.ContinueOnError)
	year := fs.Int("year", 0, "year to summarize")
	projections := fs.Bool("projections", true, "include projections")
	if err := a.parse("summary", fs, args); err != nil {
		return err
	}
	if *year == 0 {
		return fmt.Errorf("%w: summary: -year is required", errUsage)
	}

	c, err := a.store.GetCompanyByName(ctx, a.company)
	if err != nil {
		return err
	}
	sum, err := a.reports.Summarize(ctx, c.ID, *year, *projections)
	if err != nil {
		return err
	}
	return a.print(sum)
}

func (a *app) variance(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("variance", flag.ContinueOnError)
	year := fs.Int("year", 0, "year")
	month := fs.Int("month", 0, "month, 1-12")
	threshold := fs.String("threshold", "", "relative variance to flag; default VARIANCE_THRESHOLD")
	if err := a.parse("variance", fs, args); err != nil {
		return err
	}
	if *year == 0 || *month == 0 {
		return fmt.Errorf("%w: variance: -year and -month are required", errUsage)
	}
	th := a.threshold
	if *threshold != "" {
		d, err := decimal.NewFromString(*threshold)
		if err != nil {
			return fmt.Errorf("%w: -threshold %q is not a number", errUsage, *threshold)
		}
		th = d
	}

	c, err := a.store.GetCompanyByName(ctx, a.company)
	if err != nil {
		return err
	}
	v, err := a.reports.AnalyzeVariance(ctx, c.ID, *year, *month, th)
	if err != nil {
		return err
	}
	return a.print(struct {
		core.VarianceReport
		Ranked []report.RankedVariance `json:"ranked"`
	}{v, report.Ranked(v)})
}

func (a *app) consolidate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("consolidate", flag.ContinueOnError)
	year := fs.Int("year", 0, "year")
	month := fs.Int("month", 0, "month, 1-12")
	notes := fs.String("notes", "", "notes for the promoted entries")
	if err := a.parse("consolidate", fs, args); err != nil {
		return err
	}
	if *year == 0 || *month == 0 {
		return fmt.Errorf("%w: consolidate: -year and -month are required", errUsage)
	}

	c, err := a.store.GetCompanyByName(ctx, a.company)
	if err != nil {
		return err
	}
	res, err := a.ledger.ConsolidateMonth(ctx, c.ID, *year, *month, *notes)
	if err != nil {
		return err
	}
	return a.print(res)
}

func (a *app) reset(ctx context.Context) error {
	c, err := a.store.GetCompanyByName(ctx, a.company)
	if err != nil {
		return err
	}
	n, err := a.ledger.ResetCompany(ctx, c.ID)
	if err != nil {
		return err
	}
	a.logger.Warn("Company ledger reset", applog.FieldCompany, c.Name, applog.FieldCount, n)
	return a.print(map[string]int64{"deleted": n})
}
