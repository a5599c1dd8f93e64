// Package http serves the ledger, its reports and the importers as a JSON
// API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"orti/internal/amqp"
	"orti/internal/cache"
	"orti/internal/core"
	"orti/internal/importer"
	"orti/internal/ledger"
	applog "orti/internal/log"
	"orti/internal/middleware/ratelimit"
	"orti/internal/middleware/recovery"
	"orti/internal/middleware/security"
	"orti/internal/middleware/trace"
	"orti/internal/report"
	"orti/internal/storage"
	"orti/internal/taxonomy"
)

// JobPublisher queues import jobs for the worker.
type JobPublisher interface {
	PublishImportJob(ctx context.Context, msg *amqp.ImportJobMessage) error
}

// Services are the domain services the handlers call. Jobs may be nil, in
// which case the jobs endpoint answers 503.
type Services struct {
	Store    storage.Store
	Taxonomy *taxonomy.Tree
	Ledger   *ledger.Service
	Importer *importer.Importer
	Reports  *report.Service
	Jobs     JobPublisher
}

type Options struct {
	Addr    string
	Version string
	Backend string

	RateLimitPerMinute int
	SummaryCacheSize   int
	SummaryCacheTTL    time.Duration
	MaxUploadBytes     int64
	// TrustedProxies are CIDRs, besides loopback and private ranges, whose
	// X-Forwarded-For header names the client.
	TrustedProxies []string

	// VarianceThreshold is used when a request sets none.
	VarianceThreshold decimal.Decimal
	// ProjectionCutoff is the default first projected month of synchronous
	// imports. Nil means the current month.
	ProjectionCutoff *core.Period

	Logger *applog.Logger
}

const (
	defaultUploadBytes = 32 << 20
	defaultCacheSize   = 100
	defaultCacheTTL    = 5 * time.Minute
	cacheSweepInterval = 10 * time.Minute
	maxJSONBodyBytes   = 8 << 20
	readinessTimeout   = 5 * time.Second
	writeTimeout       = 2 * time.Minute
	readHeaderTimeout  = 10 * time.Second
	idleTimeout        = 2 * time.Minute
)

type appMetrics struct {
	entriesWritten int64
	importsRun     int64
	jobsQueued     int64
	uptime         time.Time
}

type Server struct {
	http.Server
	svc      Services
	opts     Options
	logger   *applog.Logger
	validate *validator.Validate

	summaries        *cache.LRUCache[core.Summary]
	caches           *cache.Manager
	rateLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware

	appMetrics   appMetrics
	now          func() time.Time
	shutdownOnce sync.Once
}

// NewServer wires routes and middleware, returning a ready-to-run server.
func NewServer(svc Services, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	logger = logger.WithComponent(applog.ComponentHTTP)

	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultUploadBytes
	}
	if opts.SummaryCacheSize <= 0 {
		opts.SummaryCacheSize = defaultCacheSize
	}
	if opts.SummaryCacheTTL <= 0 {
		opts.SummaryCacheTTL = defaultCacheTTL
	}
	if opts.VarianceThreshold.IsZero() {
		opts.VarianceThreshold = report.DefaultThreshold
	}

	rlConfig := ratelimit.DefaultConfig()
	if opts.RateLimitPerMinute > 0 {
		rlConfig.RequestsPerMinute = opts.RateLimitPerMinute
	}

	s := &Server{
		svc:              svc,
		opts:             opts,
		logger:           logger,
		validate:         validator.New(validator.WithRequiredStructEnabled()),
		summaries:        cache.NewLRUCache[core.Summary](opts.SummaryCacheSize, opts.SummaryCacheTTL),
		caches:           cache.NewManager(logger),
		rateLimiter:      ratelimit.NewLimiter(rlConfig, logger),
		securityDetector: security.NewDetector(logger),
		appMetrics:       appMetrics{uptime: time.Now()},
		now:              time.Now,
	}
	for _, cidr := range opts.TrustedProxies {
		if err := s.securityDetector.AddTrustedProxy(cidr); err != nil {
			logger.Warn("Ignoring trusted proxy", applog.FieldError, err)
		}
	}
	s.traceMiddleware = trace.NewMiddleware(s.securityDetector.ExtractClientIP, logger)

	if svc.Reports != nil {
		svc.Reports.WithCache(s.summaries)
	}
	s.caches.Register(s.summaries)
	s.caches.StartCleanup(cacheSweepInterval)

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("GET /companies/{company}/categories", s.handleListCategories)
	mux.HandleFunc("POST /companies/{company}/categories", s.handleCreateCategory)
	mux.HandleFunc("POST /companies/{company}/categories/seed", s.handleSeedCategories)
	mux.HandleFunc("PUT /categories/{id}", s.handleUpdateCategory)
	mux.HandleFunc("DELETE /categories/{id}", s.handleDeleteCategory)
	mux.HandleFunc("POST /categories/{id}/subcategories", s.handleCreateSubcategory)
	mux.HandleFunc("DELETE /subcategories/{id}", s.handleDeleteSubcategory)

	mux.HandleFunc("POST /entries", s.handleUpsertEntry)
	mux.HandleFunc("POST /entries/batch", s.handleBatchUpsert)
	mux.HandleFunc("GET /entries", s.handleQueryEntries)
	mux.HandleFunc("GET /entries/{id}", s.handleGetEntry)
	mux.HandleFunc("PUT /entries/{id}", s.handleUpdateEntry)
	mux.HandleFunc("DELETE /entries/{id}", s.handleDeleteEntry)

	mux.HandleFunc("GET /companies/{company}/summary/{year}", s.handleSummary)
	mux.HandleFunc("GET /companies/{company}/variance/{year}/{month}", s.handleVariance)
	mux.HandleFunc("GET /companies/{company}/data/{year}/{month}", s.handleMonthlyData)
	mux.HandleFunc("GET /companies/{company}/data-summary", s.handleDataSummary)

	mux.HandleFunc("POST /companies/{company}/import/xlsx", s.handleImportXLSX)
	mux.HandleFunc("POST /companies/{company}/import/bulk", s.handleImportBulk)
	mux.HandleFunc("POST /companies/{company}/import/jobs", s.handleEnqueueImport)
	mux.HandleFunc("POST /companies/{company}/consolidate/{year}/{month}", s.handleConsolidateMonth)
	mux.HandleFunc("POST /companies/{company}/cleanup", s.handleCleanup)
	mux.HandleFunc("POST /companies/{company}/reset", s.handleReset)
	mux.HandleFunc("DELETE /companies/{company}/entries/{year}", s.handleDeleteYear)

	// Reads are not rate limited.
	limited := s.rateLimiter.Middleware(s.securityDetector.ExtractClientIP, s.writeRateLimited)(mux)
	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			mux.ServeHTTP(w, r)
			return
		}
		limited.ServeHTTP(w, r)
	})
	h = s.securityDetector.Middleware(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = recovery.Middleware(s.writePanic)(h)
	h = s.traceMiddleware.Middleware(h)
	return h
}

// Shutdown stops the background sweepers and then the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.caches.Stop()
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
