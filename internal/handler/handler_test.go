package handler_test

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"fieldscan/internal/answer"
	"fieldscan/internal/csvexport"
	"fieldscan/internal/detector"
	"fieldscan/internal/domain"
	"fieldscan/internal/handler"
	"fieldscan/internal/router"
	"fieldscan/internal/service"
	"fieldscan/internal/templatefile"
	"fieldscan/mocks"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter() (*gin.Engine, *mocks.MockExtractionService) {
	svc := new(mocks.MockExtractionService)
	r := router.Setup(nil, []string{"http://localhost:3000"},
		handler.NewExtractionHandler(svc, []domain.FieldRequest{{Label: "total"}}),
		handler.NewTemplateHandler(svc),
		handler.NewHealthHandler(nil),
	)
	return r, svc
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) handler.APIResponse {
	t.Helper()
	var resp handler.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func events(results ...domain.BatchResult) iter.Seq[domain.BatchResult] {
	return func(yield func(domain.BatchResult) bool) {
		for _, r := range results {
			if !yield(r) {
				return
			}
		}
	}
}

var (
	field1 = domain.ExtractedField{Label: "invoice_number", Value: "INV-1", Confidence: 0.9, Source: domain.SourceAnswerOnly,
		BBox: domain.BBox{X1: 10, Y1: 10, X2: 90, Y2: 30}}
	field2 = domain.ExtractedField{Label: "total", Value: "12.00", Confidence: 0.4, Source: domain.SourceAnswerTemplate,
		BBox: domain.BBox{X1: 700, Y1: 900, X2: 800, Y2: 920}}
)

const extractBody = `{"page": {"document_id": "doc-1", "page_index": 0, "key": "doc-1/0.png"},
	"fields": [{"label": "invoice_number", "required": true}, {"label": "total"}]}`

func partialRun() *service.ExtractionRun {
	tmplID := uuid.MustParse("5b1f0a52-8f5e-4c39-9d7a-0f6b2c9e1a11")
	return &service.ExtractionRun{
		TotalBatches:  2,
		TotalFields:   2,
		TemplateID:    &tmplID,
		TemplateScore: 0.7,
		Events: events(
			domain.BatchResult{Progress: &domain.BatchProgress{
				BatchIndex: 0, TotalBatches: 2, FieldsProcessed: 1, TotalFields: 2, IsPriorityBatch: true,
				Fields: []domain.ExtractedField{field1},
			}},
			domain.BatchResult{Failure: &domain.BatchFailure{
				FailedBatchIndex: 1,
				FieldsSoFar:      []domain.ExtractedField{field1},
				Err:              domain.ErrExternalService,
			}},
		),
	}
}

func TestExtract_StreamsEvents(t *testing.T) {
	r, svc := newRouter()
	svc.On("Start", mock.Anything, mock.MatchedBy(func(in *service.ExtractInput) bool {
		return in.Page.Key == "doc-1/0.png" && len(in.Requests) == 2 && in.Requests[0].Required
	})).Return(partialRun(), nil)

	w := do(r, http.MethodPost, "/api/v1/extractions", extractBody)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")
	body := w.Body.String()

	plan := strings.Index(body, "event:plan")
	progress := strings.Index(body, "event:progress")
	failure := strings.Index(body, "event:failure")
	done := strings.Index(body, "event:done")
	require.True(t, plan >= 0 && progress > plan && failure > progress && done > failure, body)

	assert.Contains(t, body, `"template_id":"5b1f0a52-8f5e-4c39-9d7a-0f6b2c9e1a11"`)
	assert.Contains(t, body, `"is_priority_batch":true`)
	assert.Contains(t, body, `"failed_batch_index":1`)
	assert.Contains(t, body, `"code":"EXTERNAL_SERVICE_FAILURE"`)
	assert.Contains(t, body, `"failed":true`)
	svc.AssertExpectations(t)
}

func TestExtract_CSV(t *testing.T) {
	r, svc := newRouter()
	run := &service.ExtractionRun{TotalBatches: 1, TotalFields: 2, Events: events(
		domain.BatchResult{Progress: &domain.BatchProgress{BatchIndex: 0, Fields: []domain.ExtractedField{field1, field2}}},
	)}
	svc.On("Start", mock.Anything, mock.Anything).Return(run, nil)

	w := do(r, http.MethodPost, "/api/v1/extractions?format=csv", extractBody)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "doc-1_")
	assert.Empty(t, w.Header().Get("X-Failed-Batch"))

	body := w.Body.Bytes()
	require.True(t, bytes.HasPrefix(body, csvexport.BOM))
	rows, err := csv.NewReader(bytes.NewReader(body[len(csvexport.BOM):])).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "invoice_number", rows[1][0])
	assert.Equal(t, "answer+template", rows[2][3])
}

func TestExtract_CSVPartialMarksFailedBatch(t *testing.T) {
	r, svc := newRouter()
	svc.On("Start", mock.Anything, mock.Anything).Return(partialRun(), nil)

	w := do(r, http.MethodPost, "/api/v1/extractions?format=csv", extractBody)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-Failed-Batch"))
}

func TestExtract_Errors(t *testing.T) {
	r, svc := newRouter()
	svc.On("Start", mock.Anything, mock.Anything).Return(nil, domain.ErrNoFieldRequests)

	w := do(r, http.MethodPost, "/api/v1/extractions", `{"page": {}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", decodeResponse(t, w).Error.Code)

	w = do(r, http.MethodPost, "/api/v1/extractions", `{"page": {"key": "p.png"}, "fields": [{"label": "a"}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "NO_FIELD_REQUESTS", decodeResponse(t, w).Error.Code)
}

func TestExtract_DefaultFields(t *testing.T) {
	r, svc := newRouter()
	svc.On("Start", mock.Anything, mock.MatchedBy(func(in *service.ExtractInput) bool {
		return len(in.Requests) == 1 && in.Requests[0].Label == "total"
	})).Return(nil, domain.ErrExternalService)

	w := do(r, http.MethodPost, "/api/v1/extractions", `{"page": {"key": "p.png"}}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	svc.AssertExpectations(t)
}

func TestResume_PassesResumeState(t *testing.T) {
	r, svc := newRouter()
	svc.On("Resume", mock.Anything, mock.MatchedBy(func(in *service.ExtractInput) bool {
		return in.StartBatch == 1 && len(in.Completed) == 1 && in.Completed[0].Label == "invoice_number"
	})).Return(nil, domain.ErrBatchOutOfRange)

	body := `{"page": {"key": "p.png"}, "fields": [{"label": "a"}], "start_batch": 1,
		"completed": [{"label": "invoice_number", "value": "INV-1", "bbox": [1, 2, 3, 4], "confidence": 0.9, "source": "answer_only"}]}`
	w := do(r, http.MethodPost, "/api/v1/extractions/resume", body)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "BATCH_OUT_OF_RANGE", decodeResponse(t, w).Error.Code)
	svc.AssertExpectations(t)
}

func TestResume_CSVIncludesCompletedFields(t *testing.T) {
	r, svc := newRouter()
	run := &service.ExtractionRun{
		TotalBatches: 2,
		TotalFields:  2,
		Completed:    []domain.ExtractedField{field1},
		Events: events(
			domain.BatchResult{Progress: &domain.BatchProgress{
				BatchIndex: 1, TotalBatches: 2, FieldsProcessed: 2, TotalFields: 2,
				Fields: []domain.ExtractedField{field2},
			}},
		),
	}
	svc.On("Resume", mock.Anything, mock.Anything).Return(run, nil)

	body := `{"page": {"document_id": "doc-1", "key": "doc-1/0.png"}, "fields": [{"label": "invoice_number"}, {"label": "total"}],
		"start_batch": 1, "completed": [{"label": "invoice_number", "value": "INV-1", "confidence": 0.9, "source": "answer_only"}]}`
	w := do(r, http.MethodPost, "/api/v1/extractions/resume?format=csv", body)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-Failed-Batch"))
	rows, err := csv.NewReader(bytes.NewReader(w.Body.Bytes()[len(csvexport.BOM):])).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"invoice_number", "INV-1"}, rows[1][:2])
	assert.Equal(t, []string{"total", "12.00"}, rows[2][:2])
}

func TestDetect(t *testing.T) {
	r, svc := newRouter()
	svc.On("DetectColumns", mock.Anything, mock.MatchedBy(func(in *service.DetectInput) bool {
		return len(in.Column) == 1 && in.Candidates[0] == "qty"
	})).Return(&detector.Result{Tabular: true, Fields: []domain.ExtractedField{field2}}, nil)

	w := do(r, http.MethodPost, "/api/v1/detections",
		`{"page": {"key": "p.png"}, "column": [{"label": "amount_1", "bbox": [100, 300, 150, 320], "confidence": 0.9}], "candidates": ["qty"]}`)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	data := resp.Data.(map[string]any)
	assert.Equal(t, true, data["tabular"])
}

func TestTemplates_Confirm(t *testing.T) {
	r, svc := newRouter()
	tmpl := &domain.Template{ID: uuid.New(), VendorSignature: "acme"}
	svc.On("ConfirmTemplate", mock.Anything, mock.MatchedBy(func(in *service.ConfirmTemplateInput) bool {
		return in.VendorSignature == "acme" && len(in.Fields) == 1
	})).Return(tmpl, nil)

	w := do(r, http.MethodPost, "/api/v1/templates",
		`{"vendor_signature": "acme", "fields": [{"label": "total", "bbox": [1, 2, 3, 4], "confidence": 0.9}]}`)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = do(r, http.MethodPost, "/api/v1/templates", `{"vendor_signature": "acme", "fields": []}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/v1/templates", `{"fields": [{"label": "total", "bbox": [1, 2, 3, 4]}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTemplates_ListAndExport(t *testing.T) {
	r, svc := newRouter()
	svc.On("ListTemplates", mock.Anything).Return([]domain.Template{{
		ID:              uuid.New(),
		VendorSignature: "acme",
		Fields:          []domain.TemplateField{{Label: "total", BBox: domain.BBox{X1: 1, Y1: 2, X2: 3, Y2: 4}, Confidence: 0.5}},
	}}, nil)

	w := do(r, http.MethodGet, "/api/v1/templates", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeResponse(t, w).Data, 1)

	w = do(r, http.MethodGet, "/api/v1/templates/export", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "templates_")
	res, err := templatefile.Decode(w.Body)
	require.NoError(t, err)
	assert.Len(t, res.Templates, 1)
}

func TestTemplates_Import(t *testing.T) {
	r, svc := newRouter()
	svc.On("ImportTemplates", mock.Anything, mock.Anything).Return(&service.ImportResult{
		Imported: 2,
		Rejected: []templatefile.Rejection{{Index: 3, ID: "x", Err: domain.ErrMalformedTemplate}},
	}, nil)

	w := do(r, http.MethodPost, "/api/v1/templates/import", `[]`)
	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeResponse(t, w).Data.(map[string]any)
	assert.EqualValues(t, 2, data["imported"])
	rejected := data["rejected"].([]any)
	require.Len(t, rejected, 1)
	assert.EqualValues(t, 3, rejected[0].(map[string]any)["index"])
}

func TestMapDomainError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{domain.ErrInvalidInput, http.StatusBadRequest, "INVALID_REQUEST"},
		{domain.ErrInvalidBBox, http.StatusBadRequest, "INVALID_BBOX"},
		{domain.ErrDuplicateTemplate, http.StatusConflict, "DUPLICATE_TEMPLATE"},
		{domain.ErrAnswerCountMismatch, http.StatusBadGateway, "ANSWER_COUNT_MISMATCH"},
		{answer.NewRateLimitError("all", domain.ErrExternalService, 0), http.StatusTooManyRequests, "RATE_LIMITED"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			status, code, _ := handler.MapDomainError(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestHealthAndCORS(t *testing.T) {
	r, _ := newRouter()

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/readyz", "").Code)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/templates", http.NoBody)
	req.Header.Set("Origin", "http://localhost:3000")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
