// Package google reads monthly financial tables from a Google Sheets
// spreadsheet through the Sheets API v4.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	applog "orti/internal/log"
	ports "orti/internal/sheets"
)

// Config selects the spreadsheet and how to reach it.
type Config struct {
	SpreadsheetID   string
	Ranges          []string // empty means every sheet
	CredentialsJSON []byte
	RetryMax        int
	Timeout         time.Duration

	// Endpoint and HTTPClient replace the API host and the authenticated
	// client; tests point them at an httptest server.
	Endpoint   string
	HTTPClient *http.Client

	Logger *applog.Logger
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	ranges        []string
	logger        *applog.Logger
}

var _ ports.TableReader = (*Client)(nil)

// NewFromEnv builds a client from GOOGLE_SPREADSHEET_ID and service account
// credentials in GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or
// GOOGLE_APPLICATION_CREDENTIALS.
func NewFromEnv(ctx context.Context, ranges []string, logger *applog.Logger) (*Client, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	creds, err := CredentialsFromEnv()
	if err != nil {
		return nil, err
	}
	return New(ctx, Config{
		SpreadsheetID:   spreadsheetID,
		Ranges:          ranges,
		CredentialsJSON: creds,
		Logger:          logger,
	})
}

// CredentialsFromEnv returns the service account JSON from the environment.
func CredentialsFromEnv() ([]byte, error) {
	if inline := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON")); inline != "" {
		return []byte(inline), nil
	}
	path := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if path == "" {
		path = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if path == "" {
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service account file: %w", err)
	}
	return data, nil
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	logger = logger.WithComponent(applog.ComponentSheets)

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		var err error
		httpClient, err = newAuthenticatedClient(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	opts := []goption.ClientOption{goption.WithHTTPClient(httpClient)}
	if cfg.Endpoint != "" {
		opts = append(opts, goption.WithEndpoint(cfg.Endpoint))
	}
	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	logger.InfoContext(ctx, "Google Sheets reader ready",
		"spreadsheet_id", cfg.SpreadsheetID,
		"ranges", len(cfg.Ranges))
	return &Client{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		ranges:        cfg.Ranges,
		logger:        logger,
	}, nil
}

// newAuthenticatedClient layers the service account token source over a
// retrying transport, so 429s and 5xx from the API are retried with backoff.
func newAuthenticatedClient(ctx context.Context, cfg Config, logger *applog.Logger) (*http.Client, error) {
	if len(cfg.CredentialsJSON) == 0 {
		return nil, errors.New("missing service account credentials")
	}

	retry := retryablehttp.NewClient()
	retry.RetryMax = cfg.RetryMax
	if retry.RetryMax <= 0 {
		retry.RetryMax = 4
	}
	retry.RetryWaitMin = 500 * time.Millisecond
	retry.RetryWaitMax = 10 * time.Second
	retry.Logger = logger.Logger
	base := retry.StandardClient()
	base.Timeout = cfg.Timeout
	if base.Timeout == 0 {
		base.Timeout = 60 * time.Second
	}

	// token requests go through the same retrying client
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	creds, err := googleoauth.CredentialsFromJSON(ctx, cfg.CredentialsJSON, gsheet.SpreadsheetsReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parse service account credentials: %w", err)
	}
	client := oauth2.NewClient(ctx, creds.TokenSource)
	client.Timeout = base.Timeout
	return client, nil
}

// ReadTables reads the configured ranges, or every sheet when none are set.
// Cells come back unformatted so amounts keep full precision.
func (c *Client) ReadTables(ctx context.Context) ([]ports.Table, error) {
	ranges := c.ranges
	if len(ranges) == 0 {
		titles, err := c.sheetTitles(ctx)
		if err != nil {
			return nil, err
		}
		ranges = make([]string, len(titles))
		for i, t := range titles {
			ranges[i] = quoteSheet(t)
		}
	}
	if len(ranges) == 0 {
		return nil, nil
	}

	resp, err := c.svc.Spreadsheets.Values.BatchGet(c.spreadsheetID).
		Ranges(ranges...).
		ValueRenderOption("UNFORMATTED_VALUE").
		DateTimeRenderOption("FORMATTED_STRING").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("%w: batch get %v: %v", ports.ErrUnreadableSource, ranges, err)
	}

	tables := make([]ports.Table, 0, len(resp.ValueRanges))
	for i, vr := range resp.ValueRanges {
		name := sheetName(vr.Range)
		if name == "" && i < len(ranges) {
			name = sheetName(ranges[i])
		}
		rows := make([][]string, len(vr.Values))
		for j, row := range vr.Values {
			rows[j] = toStrings(row)
		}
		tables = append(tables, ports.Table{Name: name, Rows: rows})
	}

	c.logger.DebugContext(ctx, "Sheets ranges read",
		applog.FieldOperation, applog.OpRead,
		applog.FieldCount, len(tables))
	return tables, nil
}

func (c *Client) sheetTitles(ctx context.Context) ([]string, error) {
	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).
		Fields("sheets.properties.title").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("%w: list sheets: %v", ports.ErrUnreadableSource, err)
	}
	titles := make([]string, 0, len(ss.Sheets))
	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title != "" {
			titles = append(titles, s.Properties.Title)
		}
	}
	return titles, nil
}
