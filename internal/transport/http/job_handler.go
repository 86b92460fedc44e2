package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "kpiledger/internal/errors"
	"kpiledger/internal/middleware"
	"kpiledger/internal/services"
	"kpiledger/internal/stagelog"
)

// multipartMemory is how much of a multipart upload is held in memory
// before spilling to disk
const multipartMemory = 8 << 20

// JobHandler handles job, upload, progress and timeline requests
type JobHandler struct {
	service      JobServiceInterface
	validator    *middleware.Validator
	errorHandler *apierrors.ErrorHandler
	maxUpload    int64
	logger       *slog.Logger
}

// NewJobHandler creates a new job handler. maxUpload caps workbook size in
// bytes; zero disables the cap.
func NewJobHandler(service JobServiceInterface, validator *middleware.Validator, errorHandler *apierrors.ErrorHandler, maxUpload int64, logger *slog.Logger) *JobHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobHandler{
		service:      service,
		validator:    validator,
		errorHandler: errorHandler,
		maxUpload:    maxUpload,
		logger:       logger.With(slog.String("component", "job_handler")),
	}
}

// Routes returns the job routes, mounted under /api/jobs
func (h *JobHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListJobs)
	r.With(middleware.ContentTypeValidator(h.errorHandler, "application/json")).Post("/", h.CreateJob)

	r.Route("/{jobID}", func(r chi.Router) {
		r.Use(h.JobCtx)
		r.Get("/", h.GetJob)
		r.Get("/progress", h.GetProgress)
		r.Get("/timeline", h.GetTimeline)
		r.Get("/timeline.csv", h.ExportTimeline)
		r.Post("/wells/{well}/uploads", h.Upload)
	})

	return r
}

// JobCtx rejects job IDs that can never name a job
func (h *JobHandler) JobCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := stagelog.ValidateName(chi.URLParam(r, "jobID")); err != nil {
			h.errorHandler.HandleError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ListJobs handles GET /api/jobs
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.ListJobs(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"jobs": jobs, "count": len(jobs)})
}

// CreateJob handles POST /api/jobs
func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req services.CreateJobRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.errorHandler.HandleError(w, r, err)
			return
		}
		h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	job, err := h.service.CreateJob(r.Context(), req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	w.Header().Set("Location", path.Join("/api/jobs", job.ID))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, job.Summary())
}

// GetJob handles GET /api/jobs/{jobID}
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	details, err := h.service.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, details)
}

// GetProgress handles GET /api/jobs/{jobID}/progress
func (h *JobHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := h.service.Progress(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{
		"job_id":    chi.URLParam(r, "jobID"),
		"wells":     progress.OrderedWells(),
		"pad":       progress.Pad,
		"job_start": progress.JobStart,
		"warnings":  progress.Warnings,
	})
}

// GetTimeline handles GET /api/jobs/{jobID}/timeline?order=well|chronological
func (h *JobHandler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	timeline, err := h.service.Timeline(r.Context(), chi.URLParam(r, "jobID"), r.URL.Query().Get("order"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, timeline)
}

// ExportTimeline handles GET /api/jobs/{jobID}/timeline.csv
func (h *JobHandler) ExportTimeline(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	var buf bytes.Buffer
	if err := h.service.WriteTimelineCSV(r.Context(), &buf, jobID, r.URL.Query().Get("order")); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": jobID + "-timeline.csv",
	}))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.WarnContext(r.Context(), "timeline export interrupted", slog.String("error", err.Error()))
	}
}

// Upload handles POST /api/jobs/{jobID}/wells/{well}/uploads. The workbook
// is read from the multipart field "file" or, failing that, the raw body.
func (h *JobHandler) Upload(w http.ResponseWriter, r *http.Request) {
	well := chi.URLParam(r, "well")
	if err := stagelog.ValidateName(well); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	}

	data, filename, err := h.readWorkbook(r)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	resp, err := h.service.Upload(r.Context(), services.UploadRequest{
		JobID:    chi.URLParam(r, "jobID"),
		Well:     well,
		Filename: filename,
		Body:     bytes.NewReader(data),
	})
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, resp)
}

func (h *JobHandler) readWorkbook(r *http.Request) ([]byte, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, "", uploadReadError(err)
		}
		if len(data) == 0 {
			return nil, "", apierrors.ErrMissingUpload
		}
		return data, r.Header.Get("X-Filename"), nil
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, "", uploadReadError(err)
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, "", apierrors.ErrMissingUpload
		}
		return nil, "", apierrors.InvalidRequestWithError(err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", uploadReadError(err)
	}
	if len(data) == 0 {
		return nil, "", apierrors.ErrMissingUpload
	}
	return data, header.Filename, nil
}

func uploadReadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apierrors.PayloadTooLarge(tooLarge.Limit)
	}
	return apierrors.InvalidRequestWithError(fmt.Errorf("read upload: %w", err))
}
