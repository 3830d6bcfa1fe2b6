package models

import (
	"fmt"
	"regexp"
	"strings"
)

// RefKind distinguishes built-in reference data from user-created content.
type RefKind int

const (
	RefCanon RefKind = iota + 1
	RefCustom
)

func (k RefKind) String() string {
	switch k {
	case RefCanon:
		return "canon"
	case RefCustom:
		return "custom"
	}
	return "unknown"
}

// CustomIDPrefix is the reserved namespace for custom ids.
const CustomIDPrefix = "cstm_"

var (
	canonSlug = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)
	customID  = regexp.MustCompile(`^cstm_[a-z0-9_]+$`)
)

// IsCustomID reports whether id is in the reserved custom namespace.
func IsCustomID(id string) bool {
	return customID.MatchString(id)
}

// SpeciesRef is either Canon(slug) or Custom(cstm_id). It serializes as
// "canon:<slug>" or "custom:<cstm_id>".
type SpeciesRef struct {
	Kind RefKind
	ID   string
}

// Canon returns a canon species reference.
func Canon(slug string) SpeciesRef {
	return SpeciesRef{Kind: RefCanon, ID: slug}
}

// Custom returns a custom species reference.
func Custom(id string) SpeciesRef {
	return SpeciesRef{Kind: RefCustom, ID: id}
}

// ParseSpeciesRef parses the "canon:" / "custom:" form.
func ParseSpeciesRef(s string) (SpeciesRef, error) {
	prefix, id, ok := strings.Cut(s, ":")
	if !ok {
		return SpeciesRef{}, fmt.Errorf("species ref %q: missing kind prefix", s)
	}
	switch prefix {
	case "canon":
		if !canonSlug.MatchString(id) {
			return SpeciesRef{}, fmt.Errorf("species ref %q: invalid canon slug", s)
		}
		return Canon(id), nil
	case "custom":
		if !customID.MatchString(id) {
			return SpeciesRef{}, fmt.Errorf("species ref %q: custom id must start with %s", s, CustomIDPrefix)
		}
		return Custom(id), nil
	}
	return SpeciesRef{}, fmt.Errorf("species ref %q: unknown kind %q", s, prefix)
}

func (r SpeciesRef) String() string {
	if r.Kind == 0 {
		return ""
	}
	return r.Kind.String() + ":" + r.ID
}

// IsZero reports whether the ref is unset.
func (r SpeciesRef) IsZero() bool {
	return r.Kind == 0 && r.ID == ""
}

// MarshalText implements encoding.TextMarshaler.
func (r SpeciesRef) MarshalText() ([]byte, error) {
	if r.IsZero() {
		return nil, fmt.Errorf("species ref is empty")
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *SpeciesRef) UnmarshalText(b []byte) error {
	parsed, err := ParseSpeciesRef(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// FormKind is the variant tag of a FormRef.
type FormKind string

const (
	FormBase       FormKind = "base"
	FormRegional   FormKind = "regional"
	FormMega       FormKind = "mega"
	FormGigantamax FormKind = "gigantamax"
	FormAlternate  FormKind = "alternate"
	FormCustom     FormKind = "custom"
)

// FormRef is a tagged union over six form variants. Only the field belonging
// to Kind is set: Region for regional, Variant for mega, Form for alternate,
// CustomID for custom.
type FormRef struct {
	Kind     FormKind `json:"kind"`
	Region   string   `json:"region,omitempty"`
	Variant  string   `json:"variant,omitempty"`
	Form     string   `json:"form,omitempty"`
	CustomID string   `json:"custom_id,omitempty"`
}

func BaseForm() FormRef                  { return FormRef{Kind: FormBase} }
func RegionalForm(region string) FormRef { return FormRef{Kind: FormRegional, Region: region} }
func MegaForm(variant string) FormRef    { return FormRef{Kind: FormMega, Variant: variant} }
func GigantamaxForm() FormRef            { return FormRef{Kind: FormGigantamax} }
func AlternateForm(form string) FormRef  { return FormRef{Kind: FormAlternate, Form: form} }
func CustomForm(id string) FormRef       { return FormRef{Kind: FormCustom, CustomID: id} }
