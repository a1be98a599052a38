// Package templatefile reads and writes JSON files of template records.
package templatefile

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"fieldscan/internal/domain"
)

//go:embed schema.json
var schemaJSON []byte

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource("template.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("template.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
})

// Rejection describes a record that was left out of an import. Index is the
// record's position in the file, or -1 when the record was refused later by the store.
type Rejection struct {
	Index int    `json:"index"`
	ID    string `json:"id,omitempty"`
	Err   error  `json:"-"`
}

func (r Rejection) Error() string {
	if r.ID != "" {
		return fmt.Sprintf("record %d (%s): %v", r.Index, r.ID, r.Err)
	}
	return fmt.Sprintf("record %d: %v", r.Index, r.Err)
}

func (r Rejection) Unwrap() error { return r.Err }

// Result holds the accepted templates of a file and the records that were skipped.
type Result struct {
	Templates []domain.Template
	Rejected  []Rejection
}

// Decode reads a JSON array of template records. Each record is checked against
// the record schema and the template invariants on its own; a bad record is
// reported in Result.Rejected instead of failing the whole file. Only a file
// that is not a JSON array returns an error.
func Decode(r io.Reader) (*Result, error) {
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}

	var raw []json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("template file is not a JSON array: %w: %w", domain.ErrInvalidInput, err)
	}

	res := &Result{Templates: make([]domain.Template, 0, len(raw))}
	for i, rec := range raw {
		t, err := decodeRecord(schema, rec)
		if err != nil {
			res.Rejected = append(res.Rejected, Rejection{Index: i, ID: recordID(rec), Err: err})
			continue
		}
		res.Templates = append(res.Templates, t)
	}
	return res, nil
}

func decodeRecord(schema *jsonschema.Schema, rec json.RawMessage) (domain.Template, error) {
	var doc any
	if err := json.Unmarshal(rec, &doc); err != nil {
		return domain.Template{}, fmt.Errorf("%w: %w", domain.ErrMalformedTemplate, err)
	}
	if err := schema.Validate(doc); err != nil {
		return domain.Template{}, fmt.Errorf("%w: %w", domain.ErrMalformedTemplate, err)
	}

	var t domain.Template
	if err := json.Unmarshal(rec, &t); err != nil {
		return domain.Template{}, fmt.Errorf("%w: %w", domain.ErrMalformedTemplate, err)
	}
	if err := t.Validate(); err != nil {
		return domain.Template{}, err
	}
	return t, nil
}

// recordID pulls the id out of a record for error reporting, if it has one.
func recordID(rec json.RawMessage) string {
	var head struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(rec, &head)
	return head.ID
}

// Encode writes templates as an indented JSON array.
func Encode(w io.Writer, templates []domain.Template) error {
	if templates == nil {
		templates = []domain.Template{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(templates); err != nil {
		return fmt.Errorf("encoding templates: %w", err)
	}
	return nil
}
