// Package entity defines the recognized spans produced by the extraction
// service and the schema its raw response items must satisfy.
package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Category is the lower-cased entity type, e.g. "equipment". The label set is
// open; the constants below are the ones the bundled service emits.
type Category string

const (
	CategoryEquipment   Category = "equipment"
	CategoryVariable    Category = "variable"
	CategoryParameter   Category = "parameter"
	CategoryMeasurement Category = "measurement"
	// CategoryOutside is the "O" label for tokens outside any span.
	CategoryOutside Category = "o"
)

// Entity is a recognized span of text with its category.
type Entity struct {
	Phrase     string   `json:"phrase" yaml:"phrase"`
	Type       Category `json:"type" yaml:"type"`
	Confidence float64  `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	BBox       []int    `json:"bbox,omitempty" yaml:"bbox,omitempty"`
}

func (e Entity) String() string {
	return fmt.Sprintf("%s (%s)", e.Phrase, strings.ToUpper(string(e.Type)))
}

// ErrMalformedItem marks a response item that does not match the schema.
var ErrMalformedItem = errors.New("entity: malformed item")

// RawItem is one element of the extraction service response. Token and Label
// are pointers so that absent fields can be told apart from empty strings.
type RawItem struct {
	Token      *string  `json:"token"`
	Label      *string  `json:"label"`
	BBox       []int    `json:"bbox,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Validate checks the required fields are present.
func (r RawItem) Validate() error {
	if r.Token == nil {
		return fmt.Errorf("%w: token is required", ErrMalformedItem)
	}
	if r.Label == nil {
		return fmt.Errorf("%w: label is required", ErrMalformedItem)
	}
	if strings.TrimSpace(*r.Label) == "" {
		return fmt.Errorf("%w: label is empty", ErrMalformedItem)
	}
	if len(r.BBox) != 0 && len(r.BBox) != 4 {
		return fmt.Errorf("%w: bbox must have 4 coordinates, got %d", ErrMalformedItem, len(r.BBox))
	}
	return nil
}

// DecodeItems parses a response body into raw items. The body must be a JSON
// array; a wrongly typed field in any element fails the whole body.
func DecodeItems(data []byte) ([]RawItem, error) {
	var items []RawItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedItem, err)
	}
	if items == nil {
		return nil, fmt.Errorf("%w: response is not an array", ErrMalformedItem)
	}
	return items, nil
}

// Normalize validates every item and converts them to entities in order.
// Nothing is converted unless every item is valid.
func Normalize(items []RawItem) ([]Entity, error) {
	for i, item := range items {
		if err := item.Validate(); err != nil {
			return nil, fmt.Errorf("item[%d]: %w", i, err)
		}
	}
	out := make([]Entity, 0, len(items))
	for _, item := range items {
		ent := Entity{
			Phrase: *item.Token,
			Type:   NormalizeLabel(*item.Label),
		}
		if item.Confidence != nil {
			ent.Confidence = *item.Confidence
		}
		if len(item.BBox) == 4 {
			ent.BBox = append([]int(nil), item.BBox...)
		}
		out = append(out, ent)
	}
	return out, nil
}

// NormalizeLabel strips a B-/I- span prefix and lower-cases the type:
// "B-EQUIPMENT" → "equipment", "O" → "o".
func NormalizeLabel(label string) Category {
	label = strings.TrimSpace(label)
	for _, prefix := range []string{"B-", "I-"} {
		if strings.HasPrefix(label, prefix) {
			label = strings.TrimPrefix(label, prefix)
			break
		}
	}
	return Category(strings.ToLower(label))
}

// Clone returns a deep copy of the slice.
func Clone(entities []Entity) []Entity {
	if entities == nil {
		return nil
	}
	out := make([]Entity, len(entities))
	for i, e := range entities {
		out[i] = e
		if e.BBox != nil {
			out[i].BBox = append([]int(nil), e.BBox...)
		}
	}
	return out
}
