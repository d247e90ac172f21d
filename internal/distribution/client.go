package distribution

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/rezonia/fiscal-ingest/internal/credential"
	"github.com/rezonia/fiscal-ingest/internal/model"
)

// Default endpoints per environment
const (
	ProductionEndpoint = "https://www1.nfe.fazenda.gov.br/NFeDistribuicaoDFe/NFeDistribuicaoDFe.asmx"
	StagingEndpoint    = "https://hom1.nfe.fazenda.gov.br/NFeDistribuicaoDFe/NFeDistribuicaoDFe.asmx"
)

const (
	DefaultTimeout  = 60 * time.Second
	DefaultRetryMax = 2

	maxResponseSize = 64 << 20
)

// CertificateLoader yields the client certificate for a credential reference
type CertificateLoader interface {
	Load(ctx context.Context, ref string) (*credential.Certificate, error)
}

// Fetcher is the contract the ingestion orchestrator depends on
type Fetcher interface {
	FetchPage(ctx context.Context, cfg *model.IntegrationConfig, cursor string) (*PageResult, error)
}

// Document is one distributed document, base64 already removed.
// Err is set when the entry could not be decoded; the rest of the page stays usable.
type Document struct {
	SequenceNumber string
	Schema         string
	Payload        []byte
	Err            error
}

// PageResult is one answer of the distribution service
type PageResult struct {
	Status            string
	Reason            string
	Documents         []Document
	PageCursor        string
	ReportedMaxCursor string
}

// HasMore reports whether the authority knows of documents past this page
func (p *PageResult) HasMore() bool {
	return model.CompareCursor(p.ReportedMaxCursor, p.PageCursor) > 0
}

// Client talks to the NFeDistribuicaoDFe web service
type Client struct {
	certs     CertificateLoader
	log       *zap.Logger
	endpoints map[model.Environment]string
	timeout   time.Duration
	retryMax  int
	waitMin   time.Duration
	waitMax   time.Duration
	transport func() *http.Transport

	mu      sync.Mutex
	clients map[string]*retryablehttp.Client
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the client logger
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithEndpoint overrides the service URL for one environment
func WithEndpoint(env model.Environment, url string) Option {
	return func(c *Client) {
		if url != "" {
			c.endpoints[env] = url
		}
	}
}

// WithTimeout sets the per-attempt HTTP timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetry sets how many times a failed attempt is retried and the backoff bounds
func WithRetry(max int, waitMin, waitMax time.Duration) Option {
	return func(c *Client) {
		if max >= 0 {
			c.retryMax = max
		}
		c.waitMin = waitMin
		c.waitMax = waitMax
	}
}

// WithTransport sets the base transport; the client certificate is added to a clone of it
func WithTransport(base *http.Transport) Option {
	return func(c *Client) {
		if base != nil {
			c.transport = base.Clone
		}
	}
}

// NewClient creates a distribution client
func NewClient(certs CertificateLoader, opts ...Option) *Client {
	c := &Client{
		certs: certs,
		log:   zap.NewNop(),
		endpoints: map[model.Environment]string{
			model.EnvironmentProduction: ProductionEndpoint,
			model.EnvironmentStaging:    StagingEndpoint,
		},
		timeout:  DefaultTimeout,
		retryMax: DefaultRetryMax,
		waitMin:  time.Second,
		waitMax:  10 * time.Second,
		transport: func() *http.Transport {
			return http.DefaultTransport.(*http.Transport).Clone()
		},
		clients: make(map[string]*retryablehttp.Client),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("distribution")
	return c
}

// Endpoint returns the service URL used for env
func (c *Client) Endpoint(env model.Environment) string {
	return c.endpoints[env]
}

// FetchPage asks for the documents following cursor.
// A "no new documents" answer is a result, not an error.
func (c *Client) FetchPage(ctx context.Context, cfg *model.IntegrationConfig, cursor string) (*PageResult, error) {
	if cfg == nil {
		return nil, errors.New("distribution: nil integration config")
	}
	if !model.ValidCursor(cursor) {
		return nil, fmt.Errorf("distribution: invalid cursor %q", cursor)
	}

	cert, err := c.certs.Load(ctx, cfg.CredentialRef)
	if err != nil {
		return nil, err
	}

	endpoint := c.Endpoint(cfg.Environment)
	if endpoint == "" {
		return nil, fmt.Errorf("distribution: no endpoint for environment %q", cfg.Environment)
	}

	body, err := buildEnvelope(queryFor(cfg, cursor))
	if err != nil {
		return nil, &TransportError{Op: "encode", Cause: err}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, &TransportError{Op: "request", Cause: err}
	}
	req.Header.Set("Content-Type", `application/soap+xml; charset=utf-8; action="`+soapAction+`"`)
	req.Header.Set("Accept", "application/soap+xml, text/xml")

	started := time.Now()
	resp, err := c.httpClient(cert).Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &TransportError{Op: "post", Cause: ctxErr}
		}
		return nil, &TransportError{Op: "post", Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &TransportError{Op: "read", StatusCode: resp.StatusCode, Cause: err}
	}

	page, err := decodeResponse(resp.StatusCode, raw)
	if err != nil {
		c.log.Warn("distribution request failed",
			zap.String("taxpayer_id", cfg.TaxpayerID),
			zap.String("cursor", model.NormalizeCursor(cursor)),
			zap.Int("http_status", resp.StatusCode),
			zap.Error(err),
		)
		return nil, err
	}

	c.log.Debug("distribution page received",
		zap.String("taxpayer_id", cfg.TaxpayerID),
		zap.String("cursor", model.NormalizeCursor(cursor)),
		zap.String("status", page.Status),
		zap.Int("documents", len(page.Documents)),
		zap.String("page_cursor", page.PageCursor),
		zap.String("max_cursor", page.ReportedMaxCursor),
		zap.Duration("elapsed", time.Since(started)),
	)
	return page, nil
}

func queryFor(cfg *model.IntegrationConfig, cursor string) distDFeInt {
	msg := distDFeInt{
		TpAmb:    cfg.Environment.WireCode(),
		CUFAutor: cfg.Jurisdiction,
		DistNSU:  &distNSU{UltNSU: PadCursor(cursor)},
	}
	if len(cfg.TaxpayerID) == 11 {
		msg.CPF = cfg.TaxpayerID
	} else {
		msg.CNPJ = cfg.TaxpayerID
	}
	return msg
}

func decodeResponse(statusCode int, raw []byte) (*PageResult, error) {
	var env soapEnvelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		if statusCode >= http.StatusBadRequest {
			return nil, &TransportError{Op: "post", StatusCode: statusCode, Cause: errors.New(snippet(raw))}
		}
		return nil, &TransportError{Op: "decode", StatusCode: statusCode, Cause: err}
	}

	if fault := env.Body.Fault; fault != nil {
		return nil, &ProtocolError{Code: fault.code(), Reason: strings.TrimSpace(fault.reason())}
	}

	ret := env.Body.Response.Result.Ret
	if ret == nil {
		return nil, &TransportError{Op: "decode", StatusCode: statusCode, Cause: errors.New("response carries no retDistDFeInt")}
	}

	status := strings.TrimSpace(ret.CStat)
	if status == StatusNoDocuments || status == StatusDocumentsFound {
		if !model.ValidCursor(ret.UltNSU) || !model.ValidCursor(ret.MaxNSU) {
			return nil, &TransportError{
				Op:         "decode",
				StatusCode: statusCode,
				Cause:      fmt.Errorf("non numeric cursor ultNSU=%q maxNSU=%q", ret.UltNSU, ret.MaxNSU),
			}
		}
	}

	page := &PageResult{
		Status:            status,
		Reason:            strings.TrimSpace(ret.XMotivo),
		PageCursor:        model.NormalizeCursor(ret.UltNSU),
		ReportedMaxCursor: model.NormalizeCursor(ret.MaxNSU),
	}

	switch page.Status {
	case StatusNoDocuments:
		// nothing pending: the page cursor is the authority's maximum
		page.ReportedMaxCursor = page.PageCursor
		return page, nil
	case StatusDocumentsFound:
		page.Documents = make([]Document, 0, len(ret.Lote.Docs))
		for _, d := range ret.Lote.Docs {
			page.Documents = append(page.Documents, decodeDocument(d))
		}
		return page, nil
	default:
		return nil, &ProtocolError{Code: page.Status, Reason: page.Reason}
	}
}

func decodeDocument(d docZip) Document {
	doc := Document{
		SequenceNumber: model.NormalizeCursor(d.NSU),
		Schema:         strings.TrimSpace(d.Schema),
	}
	payload, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(d.Content), ""))
	if err != nil {
		doc.Err = fmt.Errorf("decode docZip %s: %w", doc.SequenceNumber, err)
		return doc
	}
	doc.Payload = payload
	return doc
}

func snippet(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		return "empty response body"
	}
	return s
}

// httpClient returns a retrying client bound to cert, reusing it across pages
func (c *Client) httpClient(cert *credential.Certificate) *retryablehttp.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rc, ok := c.clients[cert.Fingerprint]; ok {
		return rc
	}

	transport := c.transport()
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if transport.TLSClientConfig != nil {
		tlsCfg = transport.TLSClientConfig.Clone()
	}
	tlsCfg.Certificates = []tls.Certificate{cert.TLS}
	transport.TLSClientConfig = tlsCfg

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Transport: transport, Timeout: c.timeout}
	rc.RetryMax = c.retryMax
	rc.RetryWaitMin = c.waitMin
	rc.RetryWaitMax = c.waitMax
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = leveledLogger{c.log.Sugar()}

	c.clients[cert.Fingerprint] = rc
	return rc
}

// checkRetry retries network errors and 5xx answers, except SOAP faults
// which the authority returns as 500 and which will not change on retry
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.StatusCode == http.StatusInternalServerError && isSOAP(resp.Header.Get("Content-Type")) {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func isSOAP(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "soap+xml") || strings.Contains(ct, "text/xml")
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }

var _ retryablehttp.LeveledLogger = leveledLogger{}

// Compile time check
var _ Fetcher = (*Client)(nil)

// DecodeResponse interprets a captured service response body
func DecodeResponse(raw []byte) (*PageResult, error) {
	return decodeResponse(http.StatusOK, bytes.TrimSpace(raw))
}
