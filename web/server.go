package web

// This file describes the web server for this project: the workspace webhook and a
// few read-only JSON endpoints over the staging table.
//
// Each endpoint handler is set out as a HandlerFunc returned by a method, allowing
// per-endpoint setup to happen once when the routes are built, as discussed in Mat
// Ryer's post at
//
//	https://grafana.com/blog/how-i-write-http-services-in-go-after-13-years/
//
// The webhook always answers 200 with a plain text body; the body, not the status,
// tells the caller what happened.
//
// Helper functions, such as `ServerError` and `clientError` are at the end of the file.

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"clientsync/config"
	"clientsync/db"
	"clientsync/reconcile"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// maxWebhookBody caps the size of a webhook payload.
const maxWebhookBody = 1 << 20

//go:embed schemas
var schemasFS embed.FS

// Store is the part of the staging table served read-only.
type Store interface {
	Clients(ctx context.Context, status string, limit, offset int) ([]db.ClientListing, error)
	Logs(ctx context.Context, limit int) ([]db.LogEntry, error)
}

// Ingester reconciles a webhook payload into the staging table.
type Ingester interface {
	Ingest(ctx context.Context, body []byte) reconcile.WebhookResult
}

// WebApp is the configuration object for the web server.
type WebApp struct {
	log       *slog.Logger
	accessLog io.Writer
	cfg       config.WebConfig
	store     Store
	ingester  Ingester
	schema    *jsonschema.Schema
	server    *http.Server
}

// New initialises a WebApp. Access logs are written to accessLog in Apache Common Log
// Format.
func New(logger *slog.Logger, accessLog io.Writer, cfg config.WebConfig, store Store, ingester Ingester) (*WebApp, error) {

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if accessLog == nil {
		accessLog = io.Discard
	}

	sch, err := compileSchema("schemas/notion_webhook.json")
	if err != nil {
		return nil, err
	}

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		ReadHeaderTimeout: time.Duration(30 * time.Second),
		WriteTimeout:      time.Duration(60 * time.Second),
		MaxHeaderBytes:    1 << 19, // 100k ish
	}

	webApp := &WebApp{
		log:       logger,
		accessLog: accessLog,
		cfg:       cfg,
		store:     store,
		ingester:  ingester,
		schema:    sch,
		server:    server,
	}
	return webApp, nil
}

// compileSchema compiles an embedded JSON schema file.
func compileSchema(path string) (*jsonschema.Schema, error) {
	raw, err := schemasFS.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read schema %q: %w", path, err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("could not parse schema %q: %w", path, err)
	}
	// resources are registered under a fixed url so the working directory never matters
	url := "https://clientsync.invalid/" + path
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("could not add schema %q: %w", path, err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("could not compile schema %q: %w", path, err)
	}
	return sch, nil
}

// Serve runs the server until ctx is done, then shuts it down gracefully.
func (web *WebApp) Serve(ctx context.Context) error {
	web.server.Handler = web.routes()
	web.log.Info(fmt.Sprintf("Starting server on %s", web.cfg.ListenAddress))

	errCh := make(chan error, 1)
	go func() {
		errCh <- web.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := web.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

// routes connects all of the endpoints and provides middleware.
func (web *WebApp) routes() http.Handler {

	r := mux.NewRouter()

	r.Handle(
		web.cfg.WebhookPath,
		web.handleWebhook(),
	).Methods(http.MethodPost)

	r.Handle(
		"/healthz",
		web.handleHealth(),
	).Methods(http.MethodGet)

	// Read-only listings.
	r.Handle(
		"/clients",
		web.handleClients(),
	).Methods(http.MethodGet)
	r.Handle(
		"/logs",
		web.handleLogs(),
	).Methods(http.MethodGet)

	return handlers.LoggingHandler(web.accessLog, r)
}

// handleWebhook ingests a workspace change notification. Payloads that do not match
// the notification schema are ignored without reaching the staging table.
func (web *WebApp) handleWebhook() http.Handler {

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			web.log.Error("webhook body read error", "err", err)
			web.plainText(w, reconcile.WebhookError)
			return
		}

		inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
		if err != nil {
			web.log.Debug("webhook body is not json", "err", err)
			web.plainText(w, reconcile.WebhookIgnored)
			return
		}
		if err := web.schema.Validate(inst); err != nil {
			web.log.Debug("webhook body does not match schema", "err", err)
			web.plainText(w, reconcile.WebhookIgnored)
			return
		}

		web.plainText(w, web.ingester.Ingest(r.Context(), body))
	})
}

// handleHealth reports that the server is up.
func (web *WebApp) handleHealth() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok")
	})
}

// handleClients serves the /clients listing.
func (web *WebApp) handleClients() http.Handler {

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		ctx := r.Context()

		form := NewClientsForm()
		if err := DecodeURLParams(r, form); err != nil {
			web.clientError(w, err.Error(), http.StatusBadRequest)
			return
		}
		validator := NewValidator()
		form.Validate(validator)
		if !validator.Valid() {
			web.renderJSON(w, r, http.StatusBadRequest, validator)
			return
		}

		clients, err := web.store.Clients(ctx, form.Status, form.Limit, form.Offset)
		if err != nil {
			web.ServerError(w, r, err)
			return
		}

		// Each listing row carries the count of the whole result set.
		var total int
		if len(clients) > 0 {
			total = clients[0].RowCount
		}
		pagination, err := NewPagination(form.Limit, form.Offset, total, r.URL.Query())
		if err != nil {
			web.clientError(w, err.Error(), http.StatusBadRequest)
			return
		}

		data := struct {
			Clients    []viewClient `json:"clients"`
			Pagination *Pagination  `json:"pagination"`
			NextURL    string       `json:"next,omitempty"`
			Previous   string       `json:"previous,omitempty"`
		}{
			Clients:    newViewClients(clients),
			Pagination: pagination,
			NextURL:    pagination.NextURL(),
			Previous:   pagination.PreviousURL(),
		}
		web.renderJSON(w, r, http.StatusOK, data)
	})
}

// handleLogs serves the most recent log entries.
func (web *WebApp) handleLogs() http.Handler {

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		form := NewLogsForm()
		if err := DecodeURLParams(r, form); err != nil {
			web.clientError(w, err.Error(), http.StatusBadRequest)
			return
		}
		validator := NewValidator()
		form.Validate(validator)
		if !validator.Valid() {
			web.renderJSON(w, r, http.StatusBadRequest, validator)
			return
		}

		entries, err := web.store.Logs(r.Context(), form.Limit)
		if err != nil {
			web.ServerError(w, r, err)
			return
		}
		data := struct {
			Logs []viewLogEntry `json:"logs"`
		}{newViewLogEntries(entries)}
		web.renderJSON(w, r, http.StatusOK, data)
	})
}

// ------------------------------------------------------------------------------
// Helpers
// ------------------------------------------------------------------------------

// plainText writes a webhook result with status 200.
func (web *WebApp) plainText(w http.ResponseWriter, result reconcile.WebhookResult) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, string(result))
}

// renderJSON encodes data into a buffer before writing so that an encoding error can
// still be reported as a server error.
func (web *WebApp) renderJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		web.log.Error("json rendering error", "err", err)
		web.ServerError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// ServerError logs and return an internal server error. The error should contain the
// information needed for logging.
func (web *WebApp) ServerError(w http.ResponseWriter, r *http.Request, errs ...error) {
	err := errors.Join(errs...)
	web.log.Error(err.Error(), "method", r.Method, "uri", r.URL.RequestURI())
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

// clientError returns a client error.
func (web *WebApp) clientError(w http.ResponseWriter, message string, status int) {
	if message == "" {
		message = http.StatusText(status)
	}
	http.Error(w, message, status)
}
