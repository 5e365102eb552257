package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/endure/endure-sdk-go/pkg/execution"
	"github.com/endure/endure-sdk-go/pkg/telemetry"
)

const maxRequestBytes = 10 << 20

// ExecutionMarker tells the engine an execution is running.
type ExecutionMarker interface {
	MarkRunning(ctx context.Context, executionID string) error
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLogger sets the logger.
func WithLogger(l *telemetry.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithTracer sets the tracer used for execution spans.
func WithTracer(t trace.Tracer) HandlerOption {
	return func(h *Handler) {
		if t != nil {
			h.tracer = t
		}
	}
}

// WithMarker marks every execution as running before its workflow starts.
func WithMarker(m ExecutionMarker) HandlerOption {
	return func(h *Handler) { h.marker = m }
}

// Handler serves the hosted workflows to the engine:
//
//	POST /execute/{service}/{workflow}  {"execution_id": ..., "input": ...}
//	GET  /discover
//
// Responses carry their payload under "output".
type Handler struct {
	registry *Registry
	mux      *http.ServeMux
	logger   *telemetry.Logger
	tracer   trace.Tracer
	marker   ExecutionMarker
}

// NewHandler creates the HTTP handler of registry.
func NewHandler(registry *Registry, opts ...HandlerOption) *Handler {
	h := &Handler{
		registry: registry,
		mux:      http.NewServeMux(),
		logger:   telemetry.FromContext(context.Background()),
		tracer:   noop.NewTracerProvider().Tracer("endure/service"),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.mux.HandleFunc("POST /execute/{service}/{workflow}", h.execute)
	h.mux.HandleFunc("GET /discover", h.discover)
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type executeRequest struct {
	ExecutionID string          `json:"execution_id" validate:"required"`
	Input       json.RawMessage `json:"input" validate:"required"`
}

type response struct {
	Output any `json:"output"`
}

type errorOutput struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Details any    `json:"details,omitempty"`
}

func (h *Handler) execute(w http.ResponseWriter, r *http.Request) {
	serviceName := r.PathValue("service")
	workflowName := r.PathValue("workflow")

	wf, ok := h.registry.Lookup(serviceName, workflowName)
	if !ok {
		writeJSON(w, http.StatusNotFound, response{Output: errorOutput{
			Error:   "Workflow not found",
			Details: fmt.Sprintf("%s/%s", serviceName, workflowName),
		}})
		return
	}

	var req executeRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, response{Output: errorOutput{
			Error:   "Validation error",
			Details: validationDetails(err),
		}})
		return
	}

	logger := h.logger.WithExecutionID(req.ExecutionID)
	zl := logger.Zerolog().With().Str("service", serviceName).Str("workflow", workflowName).Logger()
	ctx, span := h.tracer.Start(logger.WithContext(r.Context()), "service.execute", trace.WithAttributes(
		telemetry.AttrExecutionID.String(req.ExecutionID),
		telemetry.AttrWorkflow.String(workflowName),
		attribute.String("endure.service", serviceName),
	))
	defer span.End()

	if h.marker != nil {
		if err := h.marker.MarkRunning(ctx, req.ExecutionID); err != nil {
			zl.Error().Err(err).Msg("Failed to mark execution running")
			span.RecordError(err)
			span.SetStatus(codes.Error, "mark running failed")
			writeJSON(w, http.StatusInternalServerError, response{Output: errorOutput{
				Error:   "Internal server error",
				Details: err.Error(),
			}})
			return
		}
	}

	started := time.Now()
	zl.Info().Msg("Executing workflow")
	result, err := wf.Run(ctx, req.ExecutionID, req.Input)
	if err != nil {
		status, out := errorResponse(err)
		zl.Error().Err(err).Int("status", status).Dur("duration", time.Since(started)).Msg("Workflow failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, out.Error)
		writeJSON(w, status, response{Output: out})
		return
	}

	zl.Info().Dur("duration", time.Since(started)).Msg("Workflow completed")
	span.SetStatus(codes.Ok, "")
	writeJSON(w, http.StatusOK, response{Output: result})
}

func (h *Handler) discover(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Services []ServiceInfo `json:"services"`
	}{Services: h.registry.Services()})
}

func decodeRequest(w http.ResponseWriter, r *http.Request, req *executeRequest) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, req); err != nil {
		return err
	}
	return validate.Struct(req)
}

// errorResponse maps a workflow error to its HTTP status and output.
func errorResponse(err error) (int, errorOutput) {
	if errors.Is(err, ErrInvalidInput) {
		return http.StatusBadRequest, errorOutput{Error: "Validation error", Details: validationDetails(err)}
	}
	out := errorOutput{
		Error:   "Internal server error",
		Kind:    string(execution.KindOf(err)),
		Details: err.Error(),
	}
	return http.StatusInternalServerError, out
}

func validationDetails(err error) any {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	details := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		details = append(details, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
	}
	return details
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
