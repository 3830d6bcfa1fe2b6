// Package schema validates session documents against the closed-world session
// schema and the cross-reference invariants JSON Schema cannot express.
package schema

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tatianab/trainer-tales/internal/models"
)

//go:embed session.schema.json
var sessionSchema []byte

const schemaURL = "session.schema.json"

// Violation is a single failed constraint at a JSON pointer path.
type Violation struct {
	Path       string `json:"path"`
	Constraint string `json:"constraint"`
}

func (v Violation) String() string {
	return v.Path + ": " + v.Constraint
}

// Violations is the structured failure returned by Validate.
type Violations []Violation

func (vs Violations) Error() string {
	if len(vs) == 0 {
		return "schema: no violations"
	}
	parts := make([]string, 0, len(vs))
	for _, v := range vs {
		parts = append(parts, v.String())
	}
	return fmt.Sprintf("schema: %d violation(s): %s", len(vs), strings.Join(parts, "; "))
}

// AsViolations extracts Violations from an error chain.
func AsViolations(err error) (Violations, bool) {
	var vs Violations
	if errors.As(err, &vs) {
		return vs, true
	}
	return nil, false
}

// Validator checks session documents. It is safe for concurrent use.
type Validator struct {
	schema *jsonschema.Schema
}

// New compiles the embedded session schema.
func New() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true
	if err := c.AddResource(schemaURL, bytes.NewReader(sessionSchema)); err != nil {
		return nil, fmt.Errorf("add session schema: %w", err)
	}
	s, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile session schema: %w", err)
	}
	return &Validator{schema: s}, nil
}

var defaultValidator = sync.OnceValues(New)

// Default returns a process-wide compiled validator.
func Default() (*Validator, error) {
	return defaultValidator()
}

// Validate checks a generic JSON document and returns its typed form. The
// input is not modified; nulls are dropped from a copy before validation.
func (v *Validator) Validate(doc map[string]any) (*models.Session, error) {
	cleaned, _ := NormalizeNulls(doc).(map[string]any)
	if cleaned == nil {
		return nil, Violations{{Path: "/", Constraint: "document must be an object"}}
	}
	if err := v.schema.Validate(cleaned); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return nil, flatten(ve)
		}
		return nil, fmt.Errorf("validate session: %w", err)
	}
	s, err := models.FromMap(cleaned)
	if err != nil {
		return nil, Violations{{Path: "/", Constraint: err.Error()}}
	}
	if vs := CheckReferences(s); len(vs) > 0 {
		return nil, vs
	}
	return s, nil
}

// ValidateSession validates a typed document.
func (v *Validator) ValidateSession(s *models.Session) error {
	m, err := models.ToMap(s)
	if err != nil {
		return err
	}
	_, err = v.Validate(m)
	return err
}

// NormalizeNulls returns a copy of v with every null object member removed,
// so an explicit null for an optional field reads as absent.
func NormalizeNulls(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if val == nil {
				continue
			}
			out[k] = NormalizeNulls(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = NormalizeNulls(val)
		}
		return out
	}
	return v
}

func flatten(ve *jsonschema.ValidationError) Violations {
	var out Violations
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			path := e.InstanceLocation
			if path == "" {
				path = "/"
			}
			out = append(out, Violation{Path: path, Constraint: e.Message})
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
