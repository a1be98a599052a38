package handler

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fieldscan/internal/domain"
	"fieldscan/internal/service"
	"fieldscan/internal/templatefile"
)

// maxImportBytes bounds the size of an uploaded template file.
const maxImportBytes = 16 << 20

// TemplateHandler serves the confirmed template store.
type TemplateHandler struct {
	svc service.ExtractionService
}

// NewTemplateHandler creates a new TemplateHandler.
func NewTemplateHandler(svc service.ExtractionService) *TemplateHandler {
	return &TemplateHandler{svc: svc}
}

type confirmTemplateRequest struct {
	Page            *domain.PageRef        `json:"page"`
	VendorSignature string                 `json:"vendor_signature"`
	Fields          []domain.TemplateField `json:"fields" binding:"required,min=1"`
}

// Confirm handles POST /api/v1/templates.
// @Summary Confirm a template
// @Description Save a reviewed field set as a reusable template
// @Tags templates
// @Accept json
// @Produce json
// @Param request body confirmTemplateRequest true "Fields with bboxes and a vendor signature or page"
// @Success 201 {object} APIResponse{data=domain.Template} "Template saved"
// @Failure 400 {object} APIResponse "Invalid request or invalid bbox"
// @Failure 409 {object} APIResponse "Template already exists"
// @Router /templates [post]
func (h *TemplateHandler) Confirm(c *gin.Context) {
	var req confirmTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_REQUEST", "at least one field is required")
		return
	}
	if req.VendorSignature == "" && req.Page == nil {
		RespondError(c, http.StatusBadRequest, "INVALID_REQUEST", "vendor_signature or page is required")
		return
	}

	tmpl, err := h.svc.ConfirmTemplate(c.Request.Context(), &service.ConfirmTemplateInput{
		Page:            req.Page,
		VendorSignature: req.VendorSignature,
		Fields:          req.Fields,
	})
	if err != nil {
		HandleError(c, err)
		return
	}
	RespondCreated(c, tmpl)
}

// List handles GET /api/v1/templates.
// @Summary List templates
// @Description List every stored template, oldest first
// @Tags templates
// @Produce json
// @Success 200 {object} APIResponse{data=[]domain.Template} "Stored templates"
// @Router /templates [get]
func (h *TemplateHandler) List(c *gin.Context) {
	templates, err := h.svc.ListTemplates(c.Request.Context())
	if err != nil {
		HandleError(c, err)
		return
	}
	if templates == nil {
		templates = []domain.Template{}
	}
	RespondOK(c, templates)
}

type rejectionResponse struct {
	Index   int    `json:"index"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
}

type importResponse struct {
	Imported int                 `json:"imported"`
	Rejected []rejectionResponse `json:"rejected"`
}

// Import handles POST /api/v1/templates/import. The template file is either
// the request body or a multipart form part named "file".
// @Summary Import templates
// @Description Import a template file; invalid records are skipped and reported
// @Tags templates
// @Accept json,mpfd
// @Produce json
// @Param file formData file false "Template file"
// @Success 200 {object} APIResponse{data=importResponse} "Imported and rejected records"
// @Failure 400 {object} APIResponse "File is not a template array"
// @Router /templates/import [post]
func (h *TemplateHandler) Import(c *gin.Context) {
	body, closeBody, err := importBody(c)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_REQUEST", "template file is required")
		return
	}
	defer closeBody()

	res, err := h.svc.ImportTemplates(c.Request.Context(), io.LimitReader(body, maxImportBytes))
	if err != nil {
		HandleError(c, err)
		return
	}

	out := importResponse{Imported: res.Imported, Rejected: make([]rejectionResponse, 0, len(res.Rejected))}
	for _, r := range res.Rejected {
		out.Rejected = append(out.Rejected, rejectionResponse{Index: r.Index, ID: r.ID, Message: r.Err.Error()})
	}
	RespondOK(c, out)
}

func importBody(c *gin.Context) (io.Reader, func(), error) {
	if c.ContentType() != "multipart/form-data" {
		return c.Request.Body, func() {}, nil
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return nil, nil, err
	}
	f, err := fh.Open()
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

// Export handles GET /api/v1/templates/export.
// @Summary Export templates
// @Description Download every stored template as a template file
// @Tags templates
// @Produce json
// @Success 200 {file} file "Template file"
// @Router /templates/export [get]
func (h *TemplateHandler) Export(c *gin.Context) {
	templates, err := h.svc.ListTemplates(c.Request.Context())
	if err != nil {
		HandleError(c, err)
		return
	}
	c.Header("Content-Type", "application/json; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="templates_%s.json"`, time.Now().Format("2006-01-02")))
	c.Status(http.StatusOK)
	_ = templatefile.Encode(c.Writer, templates)
}
