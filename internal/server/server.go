package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rezonia/fiscal-ingest/internal/model"
	"github.com/rezonia/fiscal-ingest/internal/parser"
	"github.com/rezonia/fiscal-ingest/internal/store"
)

// Config holds server configuration
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Debug           bool
}

// IngestionRunner triggers an ingestion run
type IngestionRunner interface {
	RunIngestion(ctx context.Context, taxpayerID string) *model.RunSummary
}

// InvoiceProcessor applies review actions to invoices
type InvoiceProcessor interface {
	Process(ctx context.Context, invoiceID int64) (*model.PayableBill, error)
	Ignore(ctx context.Context, invoiceID int64, reason string) (*model.IncomingInvoice, error)
	Reprocess(ctx context.Context, invoiceID int64) (*model.IncomingInvoice, error)
	ProcessAllPending(ctx context.Context) (int, error)
}

// DocumentParser parses a single fiscal document
type DocumentParser interface {
	Parse(ctx context.Context, raw []byte, schemaHint string) (*model.ParsedInvoice, error)
}

// Deps are the collaborators behind the API
type Deps struct {
	Store     *store.Store
	Ingestion IngestionRunner
	Processor InvoiceProcessor
	Parser    DocumentParser
	Gatherer  prometheus.Gatherer
	Log       *zap.Logger
}

// Server represents the HTTP API server
type Server struct {
	config *Config
	router *gin.Engine
	deps   Deps
	log    *zap.Logger
}

// NewServer creates a new API server
func NewServer(config *Config, deps Deps) *Server {
	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http")

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))

	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		config: config,
		router: router,
		deps:   deps,
		log:    log,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/ingestions/:taxpayerId", s.handleRunIngestion)

		v1.GET("/invoices", s.handleListInvoices)
		v1.GET("/invoices/stats", s.handleStats)
		v1.POST("/invoices/process-pending", s.handleProcessPending)
		v1.GET("/invoices/:id", s.handleGetInvoice)
		v1.GET("/invoices/:id/bills", s.handleInvoiceBills)
		v1.POST("/invoices/:id/process", s.handleProcess)
		v1.POST("/invoices/:id/ignore", s.handleIgnore)
		v1.POST("/invoices/:id/reprocess", s.handleReprocess)

		v1.POST("/documents/parse", s.handleParseDocument)
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Address,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("address", s.config.Address))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	s.log.Info("http server shutting down")
	return srv.Shutdown(shutdownCtx)
}

// Handler returns the http.Handler for use with custom servers
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	if err := s.deps.Store.Ping(ctx); err != nil {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleRunIngestion(c *gin.Context) {
	taxpayerID := c.Param("taxpayerId")

	// the orchestrator enforces its own run budget
	summary := s.deps.Ingestion.RunIngestion(c.Request.Context(), taxpayerID)
	c.JSON(runStatusCode(summary.Status), summary)
}

func (s *Server) handleListInvoices(c *gin.Context) {
	var q ListInvoicesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid query", Details: err.Error()})
		return
	}

	filter := store.InvoiceFilter{Page: q.Page, PageSize: q.PageSize}
	if q.Status != "" {
		status, err := model.ParseInvoiceStatus(q.Status)
		if err != nil {
			s.writeError(c, err)
			return
		}
		filter.Status = status
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	page, err := s.deps.Store.Invoices.List(ctx, filter)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) handleGetInvoice(c *gin.Context) {
	id, ok := s.invoiceID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	inv, err := s.deps.Store.Invoices.Get(ctx, id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (s *Server) handleInvoiceBills(c *gin.Context) {
	id, ok := s.invoiceID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	inv, err := s.deps.Store.Invoices.Get(ctx, id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	bills, err := s.deps.Store.Bills.ListByDocumentRef(ctx, inv.AccessKey)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if bills == nil {
		bills = []model.PayableBill{}
	}
	c.JSON(http.StatusOK, BillsResponse{InvoiceID: inv.ID, AccessKey: inv.AccessKey, Bills: bills})
}

func (s *Server) handleStats(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	counts, err := s.deps.Store.Invoices.CountByStatus(ctx)
	if err != nil {
		s.writeError(c, err)
		return
	}

	resp := StatsResponse{Counts: make(map[string]int64, len(counts))}
	for status, n := range counts {
		resp.Counts[string(status)] = n
		resp.Total += n
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleProcess(c *gin.Context) {
	id, ok := s.invoiceID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	bill, err := s.deps.Processor.Process(ctx, id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, bill)
}

func (s *Server) handleIgnore(c *gin.Context) {
	id, ok := s.invoiceID(c)
	if !ok {
		return
	}

	var req IgnoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "reason is required", Details: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	inv, err := s.deps.Processor.Ignore(ctx, id, req.Reason)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (s *Server) handleReprocess(c *gin.Context) {
	id, ok := s.invoiceID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	inv, err := s.deps.Processor.Reprocess(ctx, id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (s *Server) handleProcessPending(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Minute)
	defer cancel()

	n, err := s.deps.Processor.ProcessAllPending(ctx)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ProcessPendingResponse{Processed: n})
}

func (s *Server) handleParseDocument(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, parser.MaxDocumentSize)
	body, err := c.GetRawData()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "document too large", Details: err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "failed to read request body"})
		return
	}

	if len(body) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "empty request body"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	parsed, err := s.deps.Parser.Parse(ctx, body, c.Query("schema"))
	switch {
	case err == nil:
	case errors.Is(err, model.ErrNotInvoice):
		c.JSON(http.StatusOK, ErrorResponse{Error: "document not imported", Details: err.Error()})
		return
	case parser.IsUnparseable(err):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: "document not imported", Details: err.Error()})
		return
	default:
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, ParseResponse{
		Invoice:  parsed,
		Strategy: parsed.Strategy,
		Missing:  parsed.Missing,
	})
}

// Helper functions

func (s *Server) invoiceID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid invoice id", Details: c.Param("id")})
		return 0, false
	}
	return id, true
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(status, ErrorResponse{Error: err.Error()})
}

func errorStatus(err error) int {
	var validationErr *model.ValidationError
	switch {
	case errors.Is(err, model.ErrInvoiceNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrAlreadyProcessed), errors.Is(err, model.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, model.ErrIncompleteInvoice):
		return http.StatusUnprocessableEntity
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func runStatusCode(status model.RunStatus) int {
	switch status {
	case model.RunStatusNotConfigured:
		return http.StatusNotFound
	case model.RunStatusLocked:
		return http.StatusConflict
	case model.RunStatusBadCredential:
		return http.StatusUnprocessableEntity
	case model.RunStatusTransportError:
		return http.StatusBadGateway
	case model.RunStatusStorageError:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}
