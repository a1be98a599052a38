package sqlstore

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"fieldscan/internal/domain"
	"fieldscan/internal/port"
)

type templateRepo struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewTemplateRepo creates a SQL-backed TemplateRepository.
func NewTemplateRepo(db *sqlx.DB, logger *slog.Logger) port.TemplateRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &templateRepo{db: db, logger: logger}
}

// templateRow is a templates row as stored; fields stay raw until decoded.
type templateRow struct {
	ID              string    `db:"id"`
	VendorSignature string    `db:"vendor_signature"`
	Fields          []byte    `db:"fields"`
	CreatedAt       timestamp `db:"created_at"`
}

func (r *templateRepo) Append(ctx context.Context, t *domain.Template) error {
	if t == nil {
		return domain.ErrInvalidInput
	}
	fields, err := json.Marshal(t.Fields)
	if err != nil {
		return fmt.Errorf("encoding template fields: %w", err)
	}
	query := r.db.Rebind(`INSERT INTO templates (id, vendor_signature, fields, created_at) VALUES (?, ?, ?, ?)`)
	_, err = r.db.ExecContext(ctx, query, t.ID.String(), t.VendorSignature, string(fields), t.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateTemplate
		}
		return fmt.Errorf("inserting template: %w", err)
	}
	return nil
}

// Query loads every template in insertion order. Rows that cannot be decoded
// are logged and left out.
func (r *templateRepo) Query(ctx context.Context) ([]domain.Template, error) {
	var rows []templateRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT id, vendor_signature, fields, created_at FROM templates ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("querying templates: %w", err)
	}

	out := make([]domain.Template, 0, len(rows))
	for _, row := range rows {
		t, err := row.toDomain()
		if err != nil {
			r.logger.Warn("sqlstore.Query: skipping unreadable template", "template_id", row.ID, "error", err)
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (row templateRow) toDomain() (domain.Template, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return domain.Template{}, fmt.Errorf("id: %w: %w", domain.ErrMalformedTemplate, err)
	}
	var fields []domain.TemplateField
	if err := json.Unmarshal(row.Fields, &fields); err != nil {
		return domain.Template{}, fmt.Errorf("fields: %w: %w", domain.ErrMalformedTemplate, err)
	}
	return domain.Template{
		ID:              id,
		VendorSignature: row.VendorSignature,
		Fields:          fields,
		CreatedAt:       time.Time(row.CreatedAt),
	}, nil
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}

// timestamp scans time values that drivers return either as time.Time or as text.
type timestamp time.Time

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (ts *timestamp) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*ts = timestamp(v)
		return nil
	case string:
		return ts.parse(v)
	case []byte:
		return ts.parse(string(v))
	case nil:
		*ts = timestamp(time.Time{})
		return nil
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
}

func (ts *timestamp) parse(s string) error {
	s = strings.TrimSpace(s)
	// Go's time.Time.String adds a monotonic clock suffix and zone name
	if i := strings.Index(s, " m="); i >= 0 {
		s = s[:i]
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			*ts = timestamp(t)
			return nil
		}
	}
	return errors.New("unrecognized timestamp " + s)
}

// Value lets timestamp be used as a query argument.
func (ts timestamp) Value() (driver.Value, error) {
	return time.Time(ts), nil
}
