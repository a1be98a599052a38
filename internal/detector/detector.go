// Package detector recovers tabular field values next to a known template
// column and names the recovered columns from nearby header text.
package detector

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"fieldscan/internal/cluster"
	"fieldscan/internal/domain"
	"fieldscan/internal/port"
)

// Config holds the detection tolerances. Distances are fractions of the page
// width or height, NeighborRadius is a fraction of the page diagonal.
type Config struct {
	HeaderMargin float64
	// HeaderBand limits header candidates to this far above the header line. Zero means unbounded.
	HeaderBand           float64
	RowTol               float64
	MergeGap             float64
	XTol                 float64
	ExclusionRadius      float64
	MinScore             float64
	MaxEscalations       int
	YTol                 float64
	DispersionThreshold  float64
	NeighborRadius       float64
	MaxTargetedQuestions int
	SemanticThreshold    float64
}

// DefaultConfig returns the stock tolerances.
func DefaultConfig() Config {
	return Config{
		HeaderMargin:         0.02,
		RowTol:               0.01,
		MergeGap:             0.03,
		XTol:                 0.06,
		ExclusionRadius:      0.06,
		MinScore:             0.3,
		MaxEscalations:       1,
		YTol:                 0.06,
		DispersionThreshold:  0.05,
		NeighborRadius:       0.20,
		MaxTargetedQuestions: 5,
		SemanticThreshold:    0.6,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	for _, f := range []struct{ v, d *float64 }{
		{&c.HeaderMargin, &def.HeaderMargin},
		{&c.RowTol, &def.RowTol},
		{&c.MergeGap, &def.MergeGap},
		{&c.XTol, &def.XTol},
		{&c.ExclusionRadius, &def.ExclusionRadius},
		{&c.MinScore, &def.MinScore},
		{&c.YTol, &def.YTol},
		{&c.DispersionThreshold, &def.DispersionThreshold},
		{&c.NeighborRadius, &def.NeighborRadius},
		{&c.SemanticThreshold, &def.SemanticThreshold},
	} {
		if *f.v <= 0 {
			*f.v = *f.d
		}
	}
	if c.HeaderBand < 0 {
		c.HeaderBand = 0
	}
	c.MaxEscalations = capOrDefault(c.MaxEscalations, def.MaxEscalations)
	c.MaxTargetedQuestions = capOrDefault(c.MaxTargetedQuestions, def.MaxTargetedQuestions)
	return c
}

func capOrDefault(v, def int) int {
	switch {
	case v == 0:
		return def
	case v < 0:
		return 0
	}
	return v
}

// Input is one detection call.
type Input struct {
	Page domain.PageRef
	// Column holds the cells of the caller's known column, one per row.
	Column     []domain.TemplateField
	Tokens     []domain.OCRToken
	Candidates []string
}

// Header is a logical header: one or more merged tokens, or a name returned by escalation.
type Header struct {
	Text      string      `json:"text"`
	BBox      domain.BBox `json:"bbox"`
	Synthetic bool        `json:"synthetic"`
}

// Column is a detected data column and the name it was given.
type Column struct {
	Name   string            `json:"name"`
	Center float64           `json:"center"`
	Header *Header           `json:"header,omitempty"`
	Tokens []domain.OCRToken `json:"-"`
}

// Result is the outcome of a detection call.
type Result struct {
	Tabular     bool                    `json:"tabular"`
	Fields      []domain.ExtractedField `json:"fields"`
	Columns     []Column                `json:"columns"`
	Headers     []Header                `json:"headers"`
	Escalations int                     `json:"escalations"`
	Questions   int                     `json:"questions"`
}

// Detector runs the header/column state machine for one page at a time.
// It holds no per-call state and is safe for concurrent use.
type Detector struct {
	answers port.AnswerService
	cfg     Config
	logger  *slog.Logger
}

// New creates a Detector. answers may be nil, which disables escalation and
// targeted questions. Zero settings take the defaults; a negative question cap
// disables that kind of question.
func New(answers port.AnswerService, cfg Config, logger *slog.Logger) *Detector {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{answers: answers, cfg: cfg, logger: logger}
}

// Detect extracts the values that line up with the template column.
// Answer service failures never fail the call; affected columns keep
// position-derived names and affected fields are left out.
func (d *Detector) Detect(ctx context.Context, in Input) (*Result, error) {
	if len(in.Column) == 0 {
		return nil, fmt.Errorf("detect: template column has no cells: %w", domain.ErrInvalidInput)
	}
	for _, c := range in.Column {
		if !c.BBox.Valid() {
			return nil, fmt.Errorf("detect: cell %q: %w", c.Label, domain.ErrInvalidBBox)
		}
	}

	xs := make([]float64, len(in.Column))
	for i, c := range in.Column {
		xs[i] = c.BBox.CenterX()
	}
	if cluster.StdDev(xs) > d.scale(d.cfg.DispersionThreshold) {
		return d.nonTabular(ctx, in), nil
	}
	return d.tabular(ctx, in, cluster.Mean(xs)), nil
}

func (d *Detector) tabular(ctx context.Context, in Input, columnX float64) *Result {
	minY := math.Inf(1)
	for _, c := range in.Column {
		minY = math.Min(minY, c.BBox.Y1)
	}

	headerTokens, dataTokens := d.separate(in.Tokens, minY)
	headers := d.mergeHeaders(headerTokens)
	columns := d.clusterColumns(dataTokens, columnX)

	res := &Result{Tabular: true}
	assigned := d.assign(columns, headers, in.Candidates)
	if len(headers) < len(columns) {
		extra, calls := d.escalate(ctx, in, headers, columns, columnX, minY)
		res.Escalations = calls
		if len(extra) > 0 {
			headers = append(headers, extra...)
			assigned = d.assign(columns, headers, in.Candidates)
		}
	}

	d.name(columns, assigned, headers, in.Candidates)
	res.Headers = headers
	res.Columns = columns
	res.Fields = d.matchRows(in.Column, columns)

	d.logger.Debug("detector.Detect: tabular",
		"document_id", in.Page.DocumentID, "headers", len(headers), "columns", len(columns),
		"escalations", res.Escalations, "fields", len(res.Fields))
	return res
}

// scale converts a page fraction into normalized coordinates.
func (d *Detector) scale(frac float64) float64 {
	return frac * domain.CoordSpace
}
