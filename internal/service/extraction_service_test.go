package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"fieldscan/internal/detector"
	"fieldscan/internal/domain"
	"fieldscan/internal/extraction"
	"fieldscan/internal/matcher"
	"fieldscan/internal/port"
	"fieldscan/internal/repository/memory"
	"fieldscan/internal/service"
	"fieldscan/mocks"
)

var page = domain.PageRef{DocumentID: "doc-1", PageIndex: 0, Key: "doc-1/page-0.png"}

type fixture struct {
	svc     service.ExtractionService
	tokens  *mocks.MockTokenService
	answers *mocks.MockAnswerService
	repo    *memory.TemplateRepo
}

func newFixture() *fixture {
	tokens := new(mocks.MockTokenService)
	answers := new(mocks.MockAnswerService)
	repo := memory.NewTemplateRepo()

	cfg := extraction.DefaultConfig()
	cfg.Cooldown = 0
	svc := service.NewExtractionService(
		tokens,
		repo,
		extraction.NewOrchestrator(answers, cfg, nil),
		matcher.New(repo, matcher.DefaultConfig(), nil),
		detector.New(answers, detector.DefaultConfig(), nil),
		10,
		nil,
	)
	return &fixture{svc: svc, tokens: tokens, answers: answers, repo: repo}
}

func token(text string, x1, y1, x2, y2, conf float64) domain.RawToken {
	return domain.RawToken{
		Text:       text,
		Quad:       [4]domain.RawPoint{{X: x1, Y: y1}, {X: x2, Y: y1}, {X: x2, Y: y2}, {X: x1, Y: y2}},
		Confidence: conf,
	}
}

func invoicePage() *domain.RawPage {
	return &domain.RawPage{
		Width:  1000,
		Height: 1000,
		Tokens: []domain.RawToken{
			token("ACME", 50, 20, 120, 40, 0.99),
			token("Corp", 130, 20, 200, 40, 0.99),
			token("Invoice", 210, 20, 300, 40, 0.99),
			token("INV-7", 110, 100, 190, 118, 0.95),
		},
	}
}

func invoiceTemplate() *domain.Template {
	return &domain.Template{
		ID:              uuid.New(),
		VendorSignature: "acme corp invoice",
		Fields: []domain.TemplateField{
			{Label: "invoice_number", Value: "INV-1", BBox: domain.BBox{X1: 100, Y1: 100, X2: 200, Y2: 120}, Confidence: 0.9},
			{Label: "total", Value: "10.00", BBox: domain.BBox{X1: 700, Y1: 900, X2: 800, Y2: 920}, Confidence: 0.8},
		},
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func requests(labels ...string) []domain.FieldRequest {
	out := make([]domain.FieldRequest, len(labels))
	for i, l := range labels {
		out[i] = domain.FieldRequest{Label: l}
	}
	return out
}

func collect(run *service.ExtractionRun) []domain.BatchResult {
	var out []domain.BatchResult
	for r := range run.Events {
		out = append(out, r)
	}
	return out
}

func TestStart_AppliesTemplateHints(t *testing.T) {
	f := newFixture()
	tmpl := invoiceTemplate()
	require.NoError(t, f.repo.Append(context.Background(), tmpl))

	f.tokens.On("Tokens", mock.Anything, page).Return(invoicePage(), nil)
	f.answers.On("Answer", mock.Anything, port.AnswerRequest{
		Page:      page,
		Questions: []string{"What is the invoice number?", "What is the total?"},
	}).Return([]domain.AnswerResult{
		{Answer: "INV-7", Confidence: 0.5},
		{Answer: "", Confidence: 0.1},
	}, nil).Once()

	run, err := f.svc.Start(context.Background(), &service.ExtractInput{
		Page:     page,
		Requests: requests("invoice_number", "total"),
	})
	require.NoError(t, err)
	require.NotNil(t, run.TemplateID)
	assert.Equal(t, tmpl.ID, *run.TemplateID)
	assert.InDelta(t, 1.0, run.TemplateScore, 1e-9)
	assert.Equal(t, 1, run.TotalBatches)
	assert.Equal(t, 2, run.TotalFields)

	events := collect(run)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Progress)
	fields := events[0].Progress.Fields
	require.Len(t, fields, 2)

	assert.Equal(t, "INV-7", fields[0].Value)
	assert.Equal(t, domain.SourceAnswerTemplate, fields[0].Source)
	assert.Equal(t, tmpl.Fields[0].BBox, fields[0].BBox)
	assert.InDelta(t, 0.85, fields[0].Confidence, 1e-9)

	assert.Equal(t, domain.SourceAnswerTemplate, fields[1].Source)
	assert.InDelta(t, 0.8, fields[1].Confidence, 1e-9)
	f.answers.AssertExpectations(t)
}

func TestStart_TokenFailureRunsWithoutHints(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.repo.Append(context.Background(), invoiceTemplate()))

	f.tokens.On("Tokens", mock.Anything, page).Return(nil, fmt.Errorf("ocr down: %w", domain.ErrExternalService))
	f.answers.On("Answer", mock.Anything, mock.Anything).Return([]domain.AnswerResult{
		{Answer: "INV-7", Confidence: 0.5},
	}, nil)

	run, err := f.svc.Start(context.Background(), &service.ExtractInput{Page: page, Requests: requests("invoice_number")})
	require.NoError(t, err)
	assert.Nil(t, run.TemplateID)

	events := collect(run)
	require.Len(t, events, 1)
	field := events[0].Progress.Fields[0]
	assert.Equal(t, domain.SourceAnswerOnly, field.Source)
	assert.True(t, field.BBox.IsZero())
}

func TestStart_InvalidInput(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Start(context.Background(), &service.ExtractInput{Page: page})
	assert.ErrorIs(t, err, domain.ErrNoFieldRequests)

	_, err = f.svc.Start(context.Background(), &service.ExtractInput{Page: page, Requests: requests("a"), StartBatch: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	f.tokens.AssertNotCalled(t, "Tokens", mock.Anything, mock.Anything)
}

func TestResume_ContinuesFromBatch(t *testing.T) {
	f := newFixture()
	f.tokens.On("Tokens", mock.Anything, page).Return(invoicePage(), nil)

	labels := make([]string, 7)
	for i := range labels {
		labels[i] = fmt.Sprintf("field_%d", i)
	}
	completed := make([]domain.ExtractedField, 5)
	for i := range completed {
		completed[i] = domain.ExtractedField{Label: labels[i], Value: "done", Source: domain.SourceAnswerOnly}
	}
	f.answers.On("Answer", mock.Anything, mock.Anything).Return([]domain.AnswerResult{
		{Answer: "x", Confidence: 0.9},
		{Answer: "y", Confidence: 0.9},
	}, nil).Once()

	run, err := f.svc.Resume(context.Background(), &service.ExtractInput{
		Page:       page,
		Requests:   requests(labels...),
		StartBatch: 1,
		Completed:  completed,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, run.TotalBatches)
	assert.Equal(t, completed, run.Completed)

	events := collect(run)
	require.Len(t, events, 1)
	p := events[0].Progress
	require.NotNil(t, p)
	assert.Equal(t, 1, p.BatchIndex)
	assert.Equal(t, 7, p.FieldsProcessed)
	assert.Len(t, p.Fields, 2)
	f.answers.AssertExpectations(t)
}

func TestResume_OutOfRange(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Resume(context.Background(), &service.ExtractInput{Page: page, Requests: requests("a"), StartBatch: 3})
	assert.ErrorIs(t, err, domain.ErrBatchOutOfRange)
}

func TestConfirmTemplate_DerivesVendorSignature(t *testing.T) {
	f := newFixture()
	f.tokens.On("Tokens", mock.Anything, page).Return(invoicePage(), nil)

	p := page
	tmpl, err := f.svc.ConfirmTemplate(context.Background(), &service.ConfirmTemplateInput{
		Page:   &p,
		Fields: invoiceTemplate().Fields,
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, tmpl.ID)
	assert.Equal(t, "acme corp invoice", tmpl.VendorSignature)
	assert.False(t, tmpl.CreatedAt.IsZero())

	stored, err := f.svc.ListTemplates(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, tmpl.ID, stored[0].ID)
}

func TestConfirmTemplate_RejectsInvalidFields(t *testing.T) {
	f := newFixture()

	_, err := f.svc.ConfirmTemplate(context.Background(), &service.ConfirmTemplateInput{
		VendorSignature: "acme",
		Fields: []domain.TemplateField{
			{Label: "total", BBox: domain.BBox{X1: 500, Y1: 10, X2: 100, Y2: 20}, Confidence: 0.5},
		},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.ErrorIs(t, err, domain.ErrInvalidBBox)

	stored, err := f.svc.ListTemplates(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestConfirmTemplate_RepoError(t *testing.T) {
	tokens := new(mocks.MockTokenService)
	repo := new(mocks.MockTemplateRepo)
	repo.On("Append", mock.Anything, mock.Anything).Return(errors.New("disk full"))
	svc := service.NewExtractionService(tokens, repo, extraction.NewOrchestrator(nil, extraction.DefaultConfig(), nil),
		matcher.New(repo, matcher.DefaultConfig(), nil), detector.New(nil, detector.DefaultConfig(), nil), 10, nil)

	_, err := svc.ConfirmTemplate(context.Background(), &service.ConfirmTemplateInput{
		VendorSignature: "acme",
		Fields:          invoiceTemplate().Fields,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestImportTemplates(t *testing.T) {
	f := newFixture()
	file := `[
  {"id": "5b1f0a52-8f5e-4c39-9d7a-0f6b2c9e1a11", "vendor_signature": "acme", "created_at": "2026-01-10T09:30:00Z",
   "fields": [{"label": "total", "value": "1", "bbox": [10, 10, 20, 20], "confidence": 0.9}]},
  {"id": "bad", "vendor_signature": "x", "created_at": "2026-01-10T09:30:00Z", "fields": []}
]`

	res, err := f.svc.ImportTemplates(context.Background(), strings.NewReader(file))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, 1, res.Rejected[0].Index)

	res, err = f.svc.ImportTemplates(context.Background(), strings.NewReader(file))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Imported)
	require.Len(t, res.Rejected, 2)
	assert.Equal(t, -1, res.Rejected[1].Index)
	assert.ErrorIs(t, res.Rejected[1], domain.ErrDuplicateTemplate)

	_, err = f.svc.ImportTemplates(context.Background(), strings.NewReader(`{}`))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestDetectColumns(t *testing.T) {
	f := newFixture()
	f.tokens.On("Tokens", mock.Anything, page).Return(&domain.RawPage{
		Width:  1000,
		Height: 1000,
		Tokens: []domain.RawToken{
			token("Acme Ltd", 100, 210, 200, 230, 0.9),
			token("99.50", 600, 610, 680, 630, 0.8),
		},
	}, nil)

	res, err := f.svc.DetectColumns(context.Background(), &service.DetectInput{
		Page: page,
		Column: []domain.TemplateField{
			{Label: "vendor", BBox: domain.BBox{X1: 100, Y1: 200, X2: 200, Y2: 220}, Confidence: 0.9},
			{Label: "amount", BBox: domain.BBox{X1: 600, Y1: 600, X2: 680, Y2: 620}, Confidence: 0.9},
		},
	})
	require.NoError(t, err)
	assert.False(t, res.Tabular)
	require.Len(t, res.Fields, 2)
	assert.Equal(t, "vendor", res.Fields[0].Label)
	assert.Equal(t, "Acme Ltd", res.Fields[0].Value)
	assert.Equal(t, "amount", res.Fields[1].Label)
	assert.Equal(t, "99.50", res.Fields[1].Value)
	f.answers.AssertNotCalled(t, "Answer", mock.Anything, mock.Anything)
}

func TestDetectColumns_TokenFailure(t *testing.T) {
	f := newFixture()
	f.tokens.On("Tokens", mock.Anything, page).Return(nil, domain.ErrExternalService)

	_, err := f.svc.DetectColumns(context.Background(), &service.DetectInput{Page: page})
	assert.ErrorIs(t, err, domain.ErrExternalService)
}
