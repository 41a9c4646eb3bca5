package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/matzehuels/vectorprint/pkg/errors"
	"github.com/matzehuels/vectorprint/pkg/export"
	"github.com/matzehuels/vectorprint/pkg/ledger"
	"github.com/matzehuels/vectorprint/pkg/observability"
	"github.com/matzehuels/vectorprint/pkg/raster"
	"github.com/matzehuels/vectorprint/pkg/sizing"
	"github.com/matzehuels/vectorprint/pkg/style"
)

// Header names.
const (
	HeaderUserID         = "X-User-ID"
	HeaderGuestID        = "X-Guest-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// MaxBodyBytes limits export request bodies.
const MaxBodyBytes = 1 << 20

// Server serves the export API.
type Server struct {
	runner *export.Runner
	logger *log.Logger

	// Hooks receive request events. Defaults to observability.HTTP().
	Hooks observability.HTTPHooks

	// NewKey generates idempotency keys for requests without one.
	NewKey func() string
}

// NewServer creates a server over runner. A nil logger discards output.
func NewServer(runner *export.Runner, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Server{
		runner: runner,
		logger: logger,
		Hooks:  observability.HTTP(),
		NewKey: uuid.NewString,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/v1/products/{productID}", func(r chi.Router) {
		r.Post("/exports", s.handleExport)
		r.Get("/entitlements/summary", s.handleSummary)
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.logger.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// exportBody is the JSON body of an export request.
type exportBody struct {
	Style          style.Payload     `json:"style"`
	Format         string            `json:"format"`
	Size           sizing.Request    `json:"size"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Extras         map[string]string `json:"extras,omitempty"`
}

func identityFrom(r *http.Request) ledger.Identity {
	return ledger.Identity{
		UserID:  r.Header.Get(HeaderUserID),
		GuestID: r.Header.Get(HeaderGuestID),
	}.Normalize()
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var body exportBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err := dec.Decode(&body); err != nil && !stderrors.Is(err, io.EOF) {
		writeError(w, errors.Wrap(errors.ErrCodeInvalidInput, err, "invalid request body"))
		return
	}
	if body.Format == "" {
		body.Format = string(raster.FormatPNG)
	}

	key := body.IdempotencyKey
	if key == "" {
		key = strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	}
	if key == "" {
		key = s.NewKey()
	}
	w.Header().Set(HeaderIdempotencyKey, key)

	art, err := s.runner.Export(r.Context(), export.Request{
		ProductID:      chi.URLParam(r, "productID"),
		Identity:       identityFrom(r),
		Style:          body.Style,
		Format:         raster.Format(body.Format),
		Size:           body.Size,
		IdempotencyKey: key,
		Extras:         body.Extras,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", art.MediaType)
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": art.Filename}))
	h.Set("Content-Length", fmt.Sprint(len(art.Data)))
	h.Set("X-Export-Status", string(art.Outcome.Status))
	if art.Target.Width > 0 {
		h.Set("X-Export-Size", fmt.Sprintf("%dx%d", art.Target.Width, art.Target.Height))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(art.Data)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.runner.Summarize(r.Context(), identityFrom(r), chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
