package handler

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"fieldscan/internal/csvexport"
	"fieldscan/internal/domain"
	"fieldscan/internal/service"
)

// ExtractionHandler streams extraction runs and serves column detection.
type ExtractionHandler struct {
	svc      service.ExtractionService
	defaults []domain.FieldRequest
}

// NewExtractionHandler creates a new ExtractionHandler. defaults are used
// for requests that name no fields and may be nil.
func NewExtractionHandler(svc service.ExtractionService, defaults []domain.FieldRequest) *ExtractionHandler {
	return &ExtractionHandler{svc: svc, defaults: defaults}
}

func (h *ExtractionHandler) fields(requested []domain.FieldRequest) []domain.FieldRequest {
	if len(requested) == 0 {
		return h.defaults
	}
	return requested
}

type extractRequest struct {
	Page   domain.PageRef        `json:"page"`
	Fields []domain.FieldRequest `json:"fields"`
}

type resumeRequest struct {
	extractRequest
	StartBatch int                     `json:"start_batch"`
	Completed  []domain.ExtractedField `json:"completed"`
}

// planEvent opens every stream.
type planEvent struct {
	TotalBatches  int     `json:"total_batches"`
	TotalFields   int     `json:"total_fields"`
	TemplateID    string  `json:"template_id,omitempty"`
	TemplateScore float64 `json:"template_score,omitempty"`
}

type failureEvent struct {
	FailedBatchIndex int                     `json:"failed_batch_index"`
	FieldsSoFar      []domain.ExtractedField `json:"fields_so_far"`
	Code             string                  `json:"code"`
	Message          string                  `json:"message"`
}

// doneEvent closes a stream that was not cut short by the client.
type doneEvent struct {
	FieldsProcessed int  `json:"fields_processed"`
	Failed          bool `json:"failed"`
}

// Extract handles POST /api/v1/extractions.
// The response is a server-sent event stream of plan, progress, failure and
// done events, or a CSV of every extracted field when ?format=csv is given.
// @Summary Extract fields from a page
// @Description Run batched field extraction, required fields first, streaming progress as server-sent events
// @Tags extractions
// @Accept json
// @Produce text/event-stream,text/csv
// @Param request body extractRequest true "Page reference and field requests"
// @Param format query string false "Set to csv for a CSV download instead of an event stream"
// @Success 200 {string} string "Event stream or CSV of extracted fields"
// @Failure 400 {object} APIResponse "Invalid request or no field requests"
// @Failure 502 {object} APIResponse "Answer service failure"
// @Router /extractions [post]
func (h *ExtractionHandler) Extract(c *gin.Context) {
	var req extractRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Page.Key == "" {
		RespondError(c, http.StatusBadRequest, "INVALID_REQUEST", "page.key is required")
		return
	}

	run, err := h.svc.Start(c.Request.Context(), &service.ExtractInput{
		Page:     req.Page,
		Requests: h.fields(req.Fields),
	})
	if err != nil {
		HandleError(c, err)
		return
	}
	h.respond(c, req.Page, run)
}

// Resume handles POST /api/v1/extractions/resume.
// @Summary Resume an extraction
// @Description Re-enter an extraction run at a batch index, carrying the fields already extracted
// @Tags extractions
// @Accept json
// @Produce text/event-stream,text/csv
// @Param request body resumeRequest true "Page, field requests, start batch and completed fields"
// @Param format query string false "Set to csv for a CSV download instead of an event stream"
// @Success 200 {string} string "Event stream or CSV of extracted fields"
// @Failure 400 {object} APIResponse "Invalid request or batch out of range"
// @Router /extractions/resume [post]
func (h *ExtractionHandler) Resume(c *gin.Context) {
	var req resumeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Page.Key == "" {
		RespondError(c, http.StatusBadRequest, "INVALID_REQUEST", "page.key is required")
		return
	}

	run, err := h.svc.Resume(c.Request.Context(), &service.ExtractInput{
		Page:       req.Page,
		Requests:   h.fields(req.Fields),
		StartBatch: req.StartBatch,
		Completed:  req.Completed,
	})
	if err != nil {
		HandleError(c, err)
		return
	}
	h.respond(c, req.Page, run)
}

func (h *ExtractionHandler) respond(c *gin.Context, page domain.PageRef, run *service.ExtractionRun) {
	if strings.EqualFold(c.Query("format"), "csv") {
		h.writeCSV(c, page, run)
		return
	}
	h.stream(c, run)
}

func (h *ExtractionHandler) stream(c *gin.Context, run *service.ExtractionRun) {
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	plan := planEvent{TotalBatches: run.TotalBatches, TotalFields: run.TotalFields, TemplateScore: run.TemplateScore}
	if run.TemplateID != nil {
		plan.TemplateID = run.TemplateID.String()
	}
	c.SSEvent("plan", plan)
	c.Writer.Flush()

	done := doneEvent{}
	for ev := range run.Events {
		switch {
		case ev.Progress != nil:
			done.FieldsProcessed = ev.Progress.FieldsProcessed
			c.SSEvent("progress", ev.Progress)
		case ev.Failure != nil:
			done.Failed = true
			_, code, msg := MapDomainError(ev.Failure.Err)
			c.SSEvent("failure", failureEvent{
				FailedBatchIndex: ev.Failure.FailedBatchIndex,
				FieldsSoFar:      ev.Failure.FieldsSoFar,
				Code:             code,
				Message:          msg,
			})
		}
		c.Writer.Flush()
	}

	if c.Request.Context().Err() != nil {
		return
	}
	c.SSEvent("done", done)
	c.Writer.Flush()
}

// writeCSV drains the run and writes every extracted field, including those
// carried into a resumed run. A failed batch still yields the fields gathered
// before it, flagged in X-Failed-Batch.
func (h *ExtractionHandler) writeCSV(c *gin.Context, page domain.PageRef, run *service.ExtractionRun) {
	fields := append([]domain.ExtractedField(nil), run.Completed...)
	failed := -1
	for ev := range run.Events {
		switch {
		case ev.Progress != nil:
			fields = append(fields, ev.Progress.Fields...)
		case ev.Failure != nil:
			fields = ev.Failure.FieldsSoFar
			failed = ev.Failure.FailedBatchIndex
		}
	}

	name := page.DocumentID
	if name == "" {
		name = page.Key
	}
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, csvexport.BuildFilename(name, time.Now())))
	if failed >= 0 {
		c.Header("X-Failed-Batch", fmt.Sprint(failed))
	}
	c.Status(http.StatusOK)

	_, _ = c.Writer.Write(csvexport.BOM)
	w := csvexport.NewWriter(c.Writer)
	if err := w.WriteHeader(); err != nil {
		return
	}
	if err := w.WriteFields(fields); err != nil {
		return
	}
	w.Flush()
}

type detectRequest struct {
	Page       domain.PageRef         `json:"page"`
	Column     []domain.TemplateField `json:"column"`
	Candidates []string               `json:"candidates"`
}

// Detect handles POST /api/v1/detections.
// @Summary Detect table columns
// @Description Recover the values that line up with a known template column and name their columns
// @Tags detections
// @Accept json
// @Produce json
// @Param request body detectRequest true "Page, known column cells and candidate field names"
// @Success 200 {object} APIResponse{data=detector.Result} "Detected columns and fields"
// @Failure 400 {object} APIResponse "Invalid request or invalid bbox"
// @Failure 502 {object} APIResponse "Token service failure"
// @Router /detections [post]
func (h *ExtractionHandler) Detect(c *gin.Context) {
	var req detectRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Page.Key == "" {
		RespondError(c, http.StatusBadRequest, "INVALID_REQUEST", "page.key is required")
		return
	}

	res, err := h.svc.DetectColumns(c.Request.Context(), &service.DetectInput{
		Page:       req.Page,
		Column:     req.Column,
		Candidates: req.Candidates,
	})
	if err != nil {
		HandleError(c, err)
		return
	}
	RespondOK(c, res)
}
