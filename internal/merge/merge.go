// Package merge applies partial update documents to session documents.
//
// Objects merge key by key; arrays, scalars and type mismatches replace the
// current value wholesale. An agent that wants to append to a list submits the
// full new list.
package merge

import (
	"fmt"

	"github.com/tatianab/trainer-tales/internal/models"
	"github.com/tatianab/trainer-tales/internal/schema"
)

// Merge returns current with update applied. Neither argument is modified;
// subtrees of current that the update does not touch are shared with the result.
func Merge(current, update map[string]any) map[string]any {
	out := make(map[string]any, len(current)+len(update))
	for k, v := range current {
		out[k] = v
	}
	for k, uv := range update {
		um, uIsMap := uv.(map[string]any)
		cm, cIsMap := out[k].(map[string]any)
		if uIsMap && cIsMap {
			out[k] = Merge(cm, um)
			continue
		}
		out[k] = clone(uv)
	}
	return out
}

func clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = clone(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = clone(val)
		}
		return out
	}
	return v
}

// Rejected wraps the validation failure of a merge result. The document the
// caller passed in is still the one to use.
type Rejected struct {
	Err error
}

func (r *Rejected) Error() string {
	return fmt.Sprintf("merge rejected: %v", r.Err)
}

func (r *Rejected) Unwrap() error {
	return r.Err
}

// Apply merges update into doc and validates the result. On any failure it
// returns doc itself alongside the error, so callers can keep using the
// pre-merge state.
func Apply(v *schema.Validator, doc *models.Session, update map[string]any) (*models.Session, error) {
	if len(update) == 0 {
		return doc, nil
	}
	current, err := models.ToMap(doc)
	if err != nil {
		return doc, err
	}
	merged := Merge(current, update)
	next, err := v.Validate(merged)
	if err != nil {
		return doc, &Rejected{Err: err}
	}
	return next, nil
}
