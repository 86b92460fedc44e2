package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apierrors "kpiledger/internal/errors"
	"kpiledger/internal/middleware"
	"kpiledger/internal/services"
	"kpiledger/internal/shared/testutil"
	"kpiledger/internal/stagelog"
	"kpiledger/internal/storage"
	"kpiledger/pkg/contracts/domain"
)

// MockJobService is a mock for JobServiceInterface
type MockJobService struct {
	mock.Mock
}

func (m *MockJobService) CreateJob(ctx context.Context, req services.CreateJobRequest) (*domain.Job, error) {
	args := m.Called(ctx, req)
	job, _ := args.Get(0).(*domain.Job)
	return job, args.Error(1)
}

func (m *MockJobService) ListJobs(ctx context.Context) ([]domain.JobSummary, error) {
	args := m.Called(ctx)
	jobs, _ := args.Get(0).([]domain.JobSummary)
	return jobs, args.Error(1)
}

func (m *MockJobService) GetJob(ctx context.Context, jobID string) (*services.JobDetails, error) {
	args := m.Called(ctx, jobID)
	details, _ := args.Get(0).(*services.JobDetails)
	return details, args.Error(1)
}

func (m *MockJobService) Upload(ctx context.Context, req services.UploadRequest) (*services.UploadResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*services.UploadResponse)
	return resp, args.Error(1)
}

func (m *MockJobService) Progress(ctx context.Context, jobID string) (stagelog.Progress, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(stagelog.Progress), args.Error(1)
}

func (m *MockJobService) Timeline(ctx context.Context, jobID, order string) (stagelog.Timeline, error) {
	args := m.Called(ctx, jobID, order)
	return args.Get(0).(stagelog.Timeline), args.Error(1)
}

func (m *MockJobService) WriteTimelineCSV(ctx context.Context, w io.Writer, jobID, order string) error {
	return m.Called(ctx, w, jobID, order).Error(0)
}

func newRouter(t *testing.T, svc JobServiceInterface, maxUpload int64) http.Handler {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	errs := apierrors.NewErrorHandler(logger, false)

	r := chi.NewRouter()
	r.Mount("/api/jobs", NewJobHandler(svc, middleware.NewValidator(), errs, maxUpload, logger).Routes())
	return r
}

func newRealRouter(t *testing.T, jobs ...*domain.Job) http.Handler {
	t.Helper()
	store := storage.NewMemoryStore()
	for _, job := range jobs {
		require.NoError(t, store.CreateJob(context.Background(), job))
	}
	logger, _ := testutil.NewTestLogger(t)
	svc := services.NewJobService(store, services.JobServiceOptions{
		Validator: middleware.NewValidator(),
		Logger:    logger,
	})
	return newRouter(t, svc, 1<<20)
}

func do(h http.Handler, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, target, body)
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestJobHandler_CreateAndList(t *testing.T) {
	h := newRealRouter(t)

	w := do(h, http.MethodPost, "/api/jobs",
		strings.NewReader(`{"id":"job-1","operator":"Acme","pad":"North","wells":{"A1":3,"A2":2}}`),
		"application/json")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "/api/jobs/job-1", w.Header().Get("Location"))
	assert.EqualValues(t, 5, decodeBody(t, w)["total_stages"])

	w = do(h, http.MethodPost, "/api/jobs",
		strings.NewReader(`{"id":"job-1","operator":"Acme","pad":"North","wells":{"A1":3}}`),
		"application/json")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apierrors.TypeJobExists, decodeBody(t, w)["type"])

	w = do(h, http.MethodGet, "/api/jobs", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.EqualValues(t, 1, body["count"])
}

func TestJobHandler_CreateRejects(t *testing.T) {
	h := newRealRouter(t)

	tests := []struct {
		name        string
		body        string
		contentType string
		wantStatus  int
	}{
		{name: "malformed json", body: `{"id":`, contentType: "application/json", wantStatus: http.StatusBadRequest},
		{name: "unknown field", body: `{"id":"j","colour":"red"}`, contentType: "application/json", wantStatus: http.StatusBadRequest},
		{name: "separator in well", body: `{"id":"j","operator":"o","pad":"p","wells":{"A|1":1}}`, contentType: "application/json", wantStatus: http.StatusBadRequest},
		{name: "no wells", body: `{"id":"j","operator":"o","pad":"p","wells":{}}`, contentType: "application/json", wantStatus: http.StatusBadRequest},
		{name: "wrong content type", body: `{}`, contentType: "text/plain", wantStatus: http.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(h, http.MethodPost, "/api/jobs", strings.NewReader(tt.body), tt.contentType)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.Contains(t, w.Header().Get("Content-Type"), "json")
		})
	}
}

func TestJobHandler_UploadRawBody(t *testing.T) {
	h := newRealRouter(t, testutil.PadJob("job-1"))
	wb := testutil.KPIWorkbook(t,
		[]any{1, "2024-03-01 06:00", "2024-03-01 08:00", 2.0},
		[]any{2, "2024-03-01 09:00", "2024-03-01 11:00", 2.0},
	)

	w := do(h, http.MethodPost, "/api/jobs/job-1/wells/A1/uploads", bytes.NewReader(wb),
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.EqualValues(t, 2, body["inserted"])
	assert.EqualValues(t, 2, body["rows"])
	assert.NotEmpty(t, body["upload_id"])
	assert.InDelta(t, 0.4, body["pad"].(map[string]any)["ratio"], 1e-9)

	w = do(h, http.MethodGet, "/api/jobs/job-1/progress", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	wells := decodeBody(t, w)["wells"].([]any)
	require.Len(t, wells, 2)
	assert.Equal(t, "A1", wells[0].(map[string]any)["well"])
	assert.EqualValues(t, 2, wells[0].(map[string]any)["completed"])

	w = do(h, http.MethodGet, "/api/jobs/job-1/timeline?order=chronological", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	timeline := decodeBody(t, w)
	assert.Equal(t, false, timeline["empty"])
	assert.Len(t, timeline["entries"], 2)

	w = do(h, http.MethodGet, "/api/jobs/job-1/timeline.csv", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "job-1-timeline.csv")
	assert.Contains(t, w.Body.String(), "A1,2,2024-03-01 09:00,2024-03-01 11:00,2.00")
}

func TestJobHandler_UploadMultipart(t *testing.T) {
	h := newRealRouter(t, testutil.PadJob("job-1"))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "a2.xlsx")
	require.NoError(t, err)
	_, err = part.Write(testutil.KPIWorkbook(t, []any{1, "2024-03-01 06:00", "2024-03-01 08:00", 2.0}))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	w := do(h, http.MethodPost, "/api/jobs/job-1/wells/A2/uploads", &body, mw.FormDataContentType())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 1, decodeBody(t, w)["inserted"])
}

func TestJobHandler_UploadErrors(t *testing.T) {
	xlsx := "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	good := testutil.KPIWorkbook(t, []any{1, "2024-03-01 06:00", "2024-03-01 08:00", 2.0})

	tests := []struct {
		name       string
		target     string
		body       []byte
		wantStatus int
		wantType   string
		wantCode   string
	}{
		{
			name:       "missing columns",
			target:     "/api/jobs/job-1/wells/A1/uploads",
			body:       testutil.Workbook(t, "KPI", []any{"Stage"}, []any{1}),
			wantStatus: http.StatusUnprocessableEntity,
			wantType:   apierrors.TypeSchema,
		},
		{
			name:       "unknown job",
			target:     "/api/jobs/job-9/wells/A1/uploads",
			body:       good,
			wantStatus: http.StatusNotFound,
			wantType:   apierrors.TypeUnknownJob,
		},
		{
			name:       "unknown well",
			target:     "/api/jobs/job-1/wells/B7/uploads",
			body:       good,
			wantStatus: http.StatusNotFound,
			wantType:   apierrors.TypeUnknownWell,
		},
		{
			name:       "empty body",
			target:     "/api/jobs/job-1/wells/A1/uploads",
			wantStatus: http.StatusBadRequest,
			wantType:   apierrors.TypeValidation,
		},
		{
			name:       "too large",
			target:     "/api/jobs/job-1/wells/A1/uploads",
			body:       bytes.Repeat([]byte("x"), 2<<20),
			wantStatus: http.StatusRequestEntityTooLarge,
			wantType:   apierrors.TypePayloadTooLarge,
			wantCode:   "PAYLOAD_TOO_LARGE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newRealRouter(t, testutil.PadJob("job-1"))
			w := do(h, http.MethodPost, tt.target, bytes.NewReader(tt.body), xlsx)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			body := decodeBody(t, w)
			assert.Equal(t, tt.wantType, body["type"])
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, body["error_code"])
			}

			w = do(h, http.MethodGet, "/api/jobs/job-1", nil, "")
			require.Equal(t, http.StatusOK, w.Code)
			assert.EqualValues(t, 0, decodeBody(t, w)["recorded_stages"])
		})
	}
}

func TestJobHandler_StoreUnavailable(t *testing.T) {
	svc := new(MockJobService)
	svc.On("Upload", mock.Anything, mock.MatchedBy(func(req services.UploadRequest) bool {
		return req.JobID == "job-1" && req.Well == "A1"
	})).Return(nil, &stagelog.ReconcileError{
		Kind:  stagelog.StoreUnavailable,
		JobID: "job-1",
		Well:  "A1",
		Err:   stagelog.ErrStoreUnavailable,
	})
	h := newRouter(t, svc, 0)

	w := do(h, http.MethodPost, "/api/jobs/job-1/wells/A1/uploads", strings.NewReader("wb"), "application/octet-stream")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "5", w.Header().Get("Retry-After"))
	assert.Equal(t, true, decodeBody(t, w)["retryable"])
	svc.AssertExpectations(t)
}

func TestJobHandler_InvalidNames(t *testing.T) {
	svc := new(MockJobService)
	h := newRouter(t, svc, 0)

	w := do(h, http.MethodGet, "/api/jobs/job%7C1", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apierrors.TypeInvalidName, decodeBody(t, w)["type"])

	w = do(h, http.MethodPost, "/api/jobs/job-1/wells/A%7C1/uploads", strings.NewReader("wb"), "application/octet-stream")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	svc.AssertNotCalled(t, "GetJob", mock.Anything, mock.Anything)
	svc.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything)
}

func TestJobHandler_TimelineErrors(t *testing.T) {
	h := newRealRouter(t, testutil.PadJob("job-1"))

	w := do(h, http.MethodGet, "/api/jobs/job-1/timeline?order=sideways", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(h, http.MethodGet, "/api/jobs/missing/timeline.csv", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotContains(t, w.Header().Get("Content-Type"), "csv")

	w = do(h, http.MethodGet, "/api/jobs/job-1/timeline", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["empty"])
}
