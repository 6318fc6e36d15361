// Package web exposes the bank client over HTTP: state, a status event stream and actions.
package web

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/bankdapp/internal/domain"
	"github.com/vadiminshakov/bankdapp/internal/events"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"
)

const (
	journalPollInterval = 500 * time.Millisecond
	heartbeatInterval   = 20 * time.Second
	maxBodyBytes        = 4 << 10
	shutdownTimeout     = 5 * time.Second
)

// path segments of POST /actions/{action}
var actionKinds = map[string]domain.OperationKind{
	"deposit":       domain.OperationDeposit,
	"withdraw":      domain.OperationWithdraw,
	"transfer":      domain.OperationTransfer,
	"fixed-deposit": domain.OperationCreateFixedDeposit,
	"withdraw-fd":   domain.OperationWithdrawFixedDeposit,
}

type bank interface {
	Account() (common.Address, bool)
	Snapshot() (domain.BalanceSnapshot, bool)
	Execute(ctx context.Context, req domain.OperationRequest) (domain.TransactionOutcome, error)
}

type statusJournal interface {
	EventsAfter(index uint64) []events.StatusRecord
}

// Server exposes HTTP endpoints serving the UI, the state, an SSE stream and actions.
type Server struct {
	Addr    string
	Bank    bank
	Journal statusJournal
	Metrics http.Handler
	logger  *zap.Logger
}

// NewServer creates a new web server instance.
func NewServer(addr string, b bank, journal statusJournal, metrics http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		Addr:    addr,
		Bank:    b,
		Journal: journal,
		Metrics: metrics,
		logger:  logger.With(zap.String("component", "web")),
	}
}

type stateResponse struct {
	Account   string                  `json:"account,omitempty"`
	Connected bool                    `json:"connected"`
	Snapshot  *domain.BalanceSnapshot `json:"snapshot,omitempty"`
}

type actionRequest struct {
	Amount    string `json:"amount"`
	Recipient string `json:"recipient"`
}

type errorResponse struct {
	Category domain.ErrorCategory `json:"category"`
	Message  string               `json:"message"`
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("GET /events/stream", s.handleEventStream)
	mux.HandleFunc("POST /actions/{action}", s.handleAction)
	if s.Metrics != nil {
		mux.Handle("GET /metrics", s.Metrics)
	}
	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := newHTTPServer(s.Addr, s.Handler())
	go s.shutdownOnDone(ctx, srv)

	s.logger.Info("http server listening", zap.String("addr", s.Addr))
	return ignoreClosed(srv.ListenAndServe())
}

// StartWithAutoTLS serves HTTPS with certificates obtained via ACME for domains.
// A plain listener on :80 answers HTTP-01 challenges and redirects to HTTPS.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if len(domains) == 0 {
		return errors.New("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	challenges := newHTTPServer(":80", manager.HTTPHandler(nil))
	secure := newHTTPServer(s.Addr, s.Handler())
	secure.TLSConfig = manager.TLSConfig()
	secure.TLSConfig.MinVersion = tls.VersionTLS12

	go s.shutdownOnDone(ctx, challenges, secure)
	go func() {
		if err := ignoreClosed(challenges.ListenAndServe()); err != nil {
			s.logger.Error("acme challenge listener failed", zap.Error(err))
		}
	}()

	s.logger.Info("https server listening", zap.String("addr", s.Addr), zap.Strings("domains", domains))
	return ignoreClosed(secure.ListenAndServeTLS("", ""))
}

func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func (s *Server) shutdownOnDone(ctx context.Context, servers ...*http.Server) {
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, srv := range servers {
		if err := ignoreClosed(srv.Shutdown(shutdownCtx)); err != nil {
			s.logger.Warn("server shutdown", zap.String("addr", srv.Addr), zap.Error(err))
		}
	}
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	var resp stateResponse
	if account, ok := s.Bank.Account(); ok {
		resp.Account = account.Hex()
		resp.Connected = true
	}
	if snap, ok := s.Bank.Snapshot(); ok {
		resp.Snapshot = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	kind, ok := actionKinds[r.PathValue("action")]
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Category: domain.CategoryInvalidRequest, Message: "unknown action"})
		return
	}

	var body actionRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, errors.Wrapf(domain.ErrInvalidRequest, "decode body: %v", err))
		return
	}

	// the run outlives a dropped client, the transaction may already be signed
	ctx := context.WithoutCancel(r.Context())
	out, err := s.Bank.Execute(ctx, domain.OperationRequest{
		Kind:      kind,
		Amount:    body.Amount,
		Recipient: body.Recipient,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, events.NewOutcomeView(out))
}

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.Journal == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "status journal not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(journalPollInterval)
	defer pollTicker.Stop()

	lastIndex := parseLastEventID(r.Header.Get("Last-Event-ID"), r.URL.Query().Get("last_event_id"))
	sendEvents := func() error {
		for _, record := range s.Journal.EventsAfter(lastIndex) {
			payload, err := json.Marshal(record.Event)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "id: %d\n", record.Index)
			fmt.Fprintf(w, "event: %s\n", record.Event.Type)
			fmt.Fprintf(w, "data: %s\n\n", payload)
			lastIndex = record.Index
		}
		flusher.Flush()
		return nil
	}

	if err := sendEvents(); err != nil {
		s.logger.Warn("event stream initial load", zap.Error(err))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendEvents(); err != nil {
				s.logger.Warn("event stream poll", zap.Error(err))
			}
		}
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch domain.Category(err) {
	case domain.CategoryInvalidRequest:
		status = http.StatusBadRequest
		if errors.Is(err, domain.ErrActionInFlight) {
			status = http.StatusConflict
		}
	case domain.CategoryProviderUnavailable:
		status = http.StatusServiceUnavailable
	case domain.CategoryUserRejected:
		status = http.StatusForbidden
	}

	writeJSON(w, status, errorResponse{Category: domain.Category(err), Message: domain.Describe(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseLastEventID(headerVal, queryVal string) uint64 {
	idStr := strings.TrimSpace(headerVal)
	if idStr == "" {
		idStr = strings.TrimSpace(queryVal)
	}
	if idStr == "" {
		return 0
	}

	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
