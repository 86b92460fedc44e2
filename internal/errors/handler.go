package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"runtime/debug"

	"github.com/go-chi/render"

	"kpiledger/internal/infrastructure"
	"kpiledger/internal/stagelog"
)

// Common error types following RFC 7807
const (
	TypeValidation       = "/errors/validation"
	TypeNotFound         = "/errors/not-found"
	TypeMethodNotAllowed = "/errors/method-not-allowed"
	TypeRateLimit        = "/errors/rate-limit"
	TypeInternal         = "/errors/internal"
	TypeServiceDown      = "/errors/service-unavailable"
	TypeTimeout          = "/errors/timeout"
	TypeConflict         = "/errors/conflict"
	TypePayloadTooLarge  = "/errors/payload-too-large"
)

// Domain-specific error types
const (
	TypeSchema           = "/errors/upload/schema"
	TypeUnknownJob       = "/errors/job/not-found"
	TypeUnknownWell      = "/errors/job/unknown-well"
	TypeJobExists        = "/errors/job/exists"
	TypeInvalidName      = "/errors/job/invalid-name"
	TypeStoreDown        = "/errors/store/unavailable"
	TypeWebSocketUpgrade = "/errors/websocket/upgrade-failed"
)

// retryAfterSeconds is sent with every retryable problem
const retryAfterSeconds = 5

// ErrorHandler provides centralized error handling
type ErrorHandler struct {
	logger       *slog.Logger
	includeStack bool
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *slog.Logger, includeStack bool) *ErrorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorHandler{
		logger:       logger.With(slog.String("component", "error_handler")),
		includeStack: includeStack,
	}
}

// HandleError converts any error to RFC 7807 format and responds
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	ctx := r.Context()
	problem := h.ErrorToProblem(err, r)

	level := slog.LevelWarn
	if problem.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, "request failed",
		slog.String("error", err.Error()),
		slog.Int("status", problem.Status),
		slog.String("type", problem.Type),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
	)

	h.decorate(ctx, problem)
	if h.includeStack && problem.Status >= http.StatusInternalServerError {
		problem.WithExtension("stack", getStackTrace())
	}
	if retryable, _ := problem.Extensions["retryable"].(bool); retryable {
		w.Header().Set("Retry-After", fmt.Sprint(retryAfterSeconds))
	}

	render.Render(w, r, problem)
}

// decorate adds the correlation IDs of ctx to problem
func (h *ErrorHandler) decorate(ctx context.Context, problem *ProblemDetails) {
	if id := infrastructure.GetRequestID(ctx); id != "" {
		problem.WithExtension("request_id", id)
	}
	if id := infrastructure.TraceIDFromContext(ctx); id != "" {
		problem.WithExtension("trace_id", id)
	}
}

// ErrorToProblem converts an error to RFC 7807 Problem Details
func (h *ErrorHandler) ErrorToProblem(err error, r *http.Request) *ProblemDetails {
	path := requestPath(r)

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return h.apiErrorToProblem(apiErr, r)
	}

	var schemaErr *stagelog.SchemaError
	if errors.As(err, &schemaErr) {
		p := NewProblemDetails(
			http.StatusUnprocessableEntity,
			TypeSchema,
			"Workbook Rejected",
			schemaErr.Error(),
			path,
		).WithExtension("sheet", schemaErr.Sheet)
		if schemaErr.SheetMissing {
			p.WithExtension("sheet_missing", true)
		}
		if len(schemaErr.Missing) > 0 {
			p.WithExtension("missing_columns", schemaErr.Missing)
		}
		return p
	}

	var recErr *stagelog.ReconcileError
	if errors.As(err, &recErr) {
		return reconcileProblem(recErr, path)
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return NewProblemDetails(
			http.StatusRequestEntityTooLarge,
			TypePayloadTooLarge,
			"Payload Too Large",
			fmt.Sprintf("The upload exceeds the limit of %d bytes", tooLarge.Limit),
			path,
		).WithExtension("max_bytes", tooLarge.Limit)
	}

	switch {
	case errors.Is(err, stagelog.ErrJobNotFound):
		return NewProblemDetails(http.StatusNotFound, TypeUnknownJob, "Job Not Found", err.Error(), path)

	case errors.Is(err, stagelog.ErrJobExists):
		return NewProblemDetails(http.StatusConflict, TypeJobExists, "Job Already Exists", err.Error(), path)

	case errors.Is(err, stagelog.ErrInvalidName):
		return NewProblemDetails(http.StatusBadRequest, TypeInvalidName, "Invalid Name", err.Error(), path)

	case errors.Is(err, stagelog.ErrStoreUnavailable):
		return NewProblemDetails(
			http.StatusServiceUnavailable,
			TypeStoreDown,
			"Store Unavailable",
			"The job store could not be reached. Retry the request.",
			path,
		).WithExtension("retryable", true)

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return NewProblemDetails(
			http.StatusGatewayTimeout,
			TypeTimeout,
			"Request Timeout",
			"The request took too long to process and was cancelled",
			path,
		)
	}

	return NewProblemDetails(
		http.StatusInternalServerError,
		TypeInternal,
		"Internal Server Error",
		"An unexpected error occurred while processing your request",
		path,
	)
}

func reconcileProblem(err *stagelog.ReconcileError, path string) *ProblemDetails {
	if err.Kind == stagelog.UnknownJobOrWell {
		problemType, title := TypeUnknownWell, "Unknown Well"
		if errors.Is(err, stagelog.ErrJobNotFound) {
			problemType, title = TypeUnknownJob, "Job Not Found"
		}
		p := NewProblemDetails(http.StatusNotFound, problemType, title, err.Error(), path).
			WithExtension("job_id", err.JobID)
		if err.Well != "" {
			p.WithExtension("well", err.Well)
		}
		return p
	}

	return NewProblemDetails(
		http.StatusServiceUnavailable,
		TypeStoreDown,
		"Store Unavailable",
		"The upload was not merged because the job store could not be reached. Retry the upload.",
		path,
	).WithExtension("job_id", err.JobID).
		WithExtension("retryable", err.Retryable())
}

// ToProblem maps err without a request, for callers outside HTTP
func ToProblem(err error) *ProblemDetails {
	return (&ErrorHandler{}).ErrorToProblem(err, nil)
}

func requestPath(r *http.Request) string {
	if r == nil || r.URL == nil {
		return ""
	}
	return r.URL.Path
}

// apiErrorToProblem converts APIError to ProblemDetails
func (h *ErrorHandler) apiErrorToProblem(apiErr *APIError, r *http.Request) *ProblemDetails {
	problemType := TypeInternal
	switch apiErr.StatusCode {
	case http.StatusBadRequest, http.StatusUnsupportedMediaType:
		problemType = TypeValidation
	case http.StatusNotFound:
		problemType = TypeNotFound
	case http.StatusConflict:
		problemType = TypeConflict
	case http.StatusRequestEntityTooLarge:
		problemType = TypePayloadTooLarge
	case http.StatusTooManyRequests:
		problemType = TypeRateLimit
	case http.StatusServiceUnavailable:
		problemType = TypeServiceDown
	}
	if apiErr.ErrorCode == ErrWebSocketUpgrade.ErrorCode {
		problemType = TypeWebSocketUpgrade
	}

	problem := NewProblemDetails(
		apiErr.StatusCode,
		problemType,
		http.StatusText(apiErr.StatusCode),
		apiErr.Message,
		requestPath(r),
	).WithExtension("error_code", apiErr.ErrorCode)

	if ve, ok := apiErr.Details.(ValidationErrors); ok {
		problem.WithExtension("errors", ve.Errors)
	} else if apiErr.Details != nil {
		problem.WithExtension("details", apiErr.Details)
	}

	return problem
}

// HandlePanic responds with a 500 problem for a recovered panic
func (h *ErrorHandler) HandlePanic(w http.ResponseWriter, r *http.Request, recovered any) {
	h.logger.ErrorContext(r.Context(), "panic recovered",
		slog.Any("panic", recovered),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("stack", string(debug.Stack())),
	)

	problem := NewProblemDetails(
		http.StatusInternalServerError,
		TypeInternal,
		"Internal Server Error",
		"An unexpected error occurred",
		r.URL.Path,
	)
	h.decorate(r.Context(), problem)

	if h.includeStack {
		problem.WithExtension("panic", fmt.Sprintf("%v", recovered))
		problem.WithExtension("stack", getStackTrace())
	}

	render.Render(w, r, problem)
}

// NotFound returns a standard 404 error
func (h *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	problem := NewProblemDetails(
		http.StatusNotFound,
		TypeNotFound,
		"Not Found",
		"The requested resource was not found",
		r.URL.Path,
	)
	h.decorate(r.Context(), problem)
	render.Render(w, r, problem)
}

// MethodNotAllowed returns a standard 405 error
func (h *ErrorHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	problem := NewProblemDetails(
		http.StatusMethodNotAllowed,
		TypeMethodNotAllowed,
		"Method Not Allowed",
		fmt.Sprintf("Method %s is not allowed for this endpoint", r.Method),
		r.URL.Path,
	)
	h.decorate(r.Context(), problem)
	render.Render(w, r, problem)
}

// getStackTrace returns the current goroutine's stack trace
func getStackTrace() string {
	buf := make([]byte, 1024*8)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// Recoverer returns a middleware that turns panics into 500 problems
func (h *ErrorHandler) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				h.HandlePanic(w, r, rec)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// JSON writes v with the given status
func (h *ErrorHandler) JSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}
