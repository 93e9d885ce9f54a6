// Package analytics implements the declarative analytics definition
// model and its validator: a JSON document mapping domain fields to
// dimensions and measures.
package analytics

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/pulsegrid/aggregator/apperr"
	"github.com/pulsegrid/aggregator/dimension"
	"github.com/pulsegrid/aggregator/measure"
)

// Condition is a single conditional-measure filter: exactly one of
// Equals or NotEquals must be set.
type Condition struct {
	Field     string `json:"field"`
	Equals    *any   `json:"equals,omitempty"`
	NotEquals *any   `json:"not_equals,omitempty"`
}

// MappingEntry is one value of the definition's "mapping" object. It
// is a discriminated union in spirit: dimension entries use Type+Field;
// measure entries add Resource, optional Field, and optional Conditions.
// Keeping a single struct (rather than two) mirrors the source's single
// "mapping" dict while still being a validated, typed Go structure —
// per-entry role (dimension vs measure) is recovered from which of
// Measures/QueryDimensions/SliceDimensions names the key.
type MappingEntry struct {
	Type       string      `json:"type"`
	Field      string      `json:"field,omitempty"`
	Resource   string      `json:"resource,omitempty"`
	Conditions []Condition `json:"conditions,omitempty"`
}

// Definition is the validated, typed form of an Analytics Definition.
// Construct it with Parse; a zero-value Definition is not valid.
type Definition struct {
	Name             string                  `json:"name"`
	Description      string                  `json:"description,omitempty"`
	QueryDimensions  []string                `json:"query_dimensions"`
	SliceDimensions  []string                `json:"slice_dimensions"`
	Measures         []string                `json:"measures"`
	DataDB           int                     `json:"data_db,omitempty"`
	Mapping          map[string]MappingEntry `json:"mapping"`
	raw              []byte
}

var topLevelKeys = map[string]bool{
	"name": true, "description": true, "query_dimensions": true,
	"slice_dimensions": true, "data_db": true, "measures": true, "mapping": true,
}

// docShape is used only to detect unexpected top-level keys, since
// Definition's own json tags would silently swallow them.
type docShape map[string]json.RawMessage

// Parse deserializes and validates an analytics definition document.
func Parse(raw []byte) (*Definition, error) {
	var shape docShape
	if err := json.Unmarshal(raw, &shape); err != nil {
		return nil, apperr.New(apperr.ErrInvalidDefinition, "json parse error: %v", err)
	}
	for k := range shape {
		if !topLevelKeys[k] {
			return nil, apperr.New(apperr.ErrInvalidDefinition, "definition has unexpected key %q", k)
		}
	}

	var def Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, apperr.New(apperr.ErrInvalidDefinition, "json parse error: %v", err)
	}
	def.raw = append([]byte(nil), raw...)

	if err := def.validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

func (d *Definition) validate() error {
	if d.Name == "" {
		return apperr.New(apperr.ErrInvalidDefinition, "definition doesn't have 'name'")
	}
	if strings.Contains(d.Name, ":") {
		return apperr.New(apperr.ErrInvalidDefinition, "analytics name cannot contain ':'")
	}
	if d.Mapping == nil {
		return apperr.New(apperr.ErrInvalidDefinition, "definition doesn't contain 'mapping' dictionary")
	}
	if d.QueryDimensions == nil {
		return apperr.New(apperr.ErrInvalidDefinition, "definition doesn't contain 'query_dimensions'")
	}
	if d.SliceDimensions == nil {
		return apperr.New(apperr.ErrInvalidDefinition, "definition doesn't contain 'slice_dimensions'")
	}
	if len(d.Measures) == 0 {
		return apperr.New(apperr.ErrInvalidDefinition, "definition should contain at least one measure")
	}

	mappedMeasures := map[string]bool{}
	mappedDimensions := map[string]bool{}

	for _, m := range d.Measures {
		entry, ok := d.Mapping[m]
		if !ok {
			return apperr.New(apperr.ErrInvalidDefinition, "measure %q doesn't have a mapping", m)
		}
		mappedMeasures[m] = true

		if entry.Resource == "" {
			return apperr.New(apperr.ErrInvalidDefinition, "measure %q is missing 'resource'", m)
		}
		if entry.Type == "" {
			return apperr.New(apperr.ErrInvalidDefinition, "measure %q is missing 'type'", m)
		}
		mt := measure.Type(entry.Type)
		if !mt.Valid() {
			return apperr.New(apperr.ErrInvalidDefinition, "measure %q type %q is not a valid measure type", m, entry.Type)
		}
		if (mt == measure.TypeScore || mt == measure.TypeScoreFloat || mt == measure.TypeUnique) && entry.Field == "" {
			return apperr.New(apperr.ErrInvalidDefinition, "measure %q has type %q but missing 'field'", m, entry.Type)
		}
		for _, cond := range entry.Conditions {
			if cond.Field == "" {
				return apperr.New(apperr.ErrInvalidDefinition, "conditional measure %q missing 'field' in one of the conditions", m)
			}
			count := 0
			if cond.Equals != nil {
				count++
			}
			if cond.NotEquals != nil {
				count++
			}
			if count == 0 {
				return apperr.New(apperr.ErrInvalidDefinition, "conditional measure %q field %q has no conditions", m, cond.Field)
			}
			if count > 1 {
				return apperr.New(apperr.ErrInvalidDefinition, "conditional measure %q field %q has > 1 conditions", m, cond.Field)
			}
		}
	}

	for _, dname := range append(append([]string{}, d.QueryDimensions...), d.SliceDimensions...) {
		entry, ok := d.Mapping[dname]
		if !ok {
			return apperr.New(apperr.ErrInvalidDefinition, "dimension %q doesn't have a mapping", dname)
		}
		mappedDimensions[dname] = true

		if entry.Type == "" {
			return apperr.New(apperr.ErrInvalidDefinition, "dimension %q is missing 'type'", dname)
		}
		dt := dimension.Type(entry.Type)
		if !dt.Valid() {
			return apperr.New(apperr.ErrInvalidDefinition, "dimension %q type %q is not a valid dimension type", dname, entry.Type)
		}
		if entry.Field == "" {
			return apperr.New(apperr.ErrInvalidDefinition, "dimension %q is missing 'field'", dname)
		}
	}

	for k := range d.Mapping {
		if !mappedMeasures[k] && !mappedDimensions[k] {
			return apperr.New(apperr.ErrInvalidDefinition, "unmapped key in mapping: %q", k)
		}
	}
	return nil
}

// SetDataDB overrides the logical store database index, mirroring the
// admin load command's optional "-<db>" flag.
func (d *Definition) SetDataDB(db int) { d.DataDB = db }

// JSON serializes the definition back to JSON with a 2-space indent,
// matching the admin dump command's output. Top-level fields appear in
// Definition's declaration order; mapping keys are sorted.
func (d *Definition) JSON() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// QnosDimensions returns query_dimensions \ slice_dimensions.
func (d *Definition) QnosDimensions() []string {
	return setDifference(d.QueryDimensions, d.SliceDimensions)
}

// SnoqDimensions returns slice_dimensions \ query_dimensions.
func (d *Definition) SnoqDimensions() []string {
	return setDifference(d.SliceDimensions, d.QueryDimensions)
}

func setDifference(a, b []string) []string {
	exclude := make(map[string]bool, len(b))
	for _, x := range b {
		exclude[x] = true
	}
	out := make([]string, 0, len(a))
	for _, x := range a {
		if !exclude[x] {
			out = append(out, x)
		}
	}
	sort.Strings(out)
	return out
}
