package entity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLabel(t *testing.T) {
	cases := map[string]Category{
		"B-EQUIPMENT":   CategoryEquipment,
		"I-EQUIPMENT":   CategoryEquipment,
		"B-PARAMETER":   CategoryParameter,
		"MEASUREMENT":   CategoryMeasurement,
		"O":             CategoryOutside,
		" I-VARIABLE ":  CategoryVariable,
		"B-I-NESTED":    Category("i-nested"),
		"b-lowercase":   Category("b-lowercase"),
	}
	for label, want := range cases {
		assert.Equal(t, want, NormalizeLabel(label), "label %q", label)
	}
}

func TestDecodeAndNormalize(t *testing.T) {
	body := []byte(`[
		{"token": "SUSV", "label": "B-EQUIPMENT", "bbox": [1, 2, 3, 4], "confidence": 0.99},
		{"token": "Outgoing", "label": "B-VARIABLE"},
		{"token": "Flow", "label": "I-VARIABLE"}
	]`)
	items, err := DecodeItems(body)
	require.NoError(t, err)
	entities, err := Normalize(items)
	require.NoError(t, err)
	require.Len(t, entities, 3)

	assert.Equal(t, Entity{Phrase: "SUSV", Type: CategoryEquipment, Confidence: 0.99, BBox: []int{1, 2, 3, 4}}, entities[0])
	assert.Equal(t, "Outgoing", entities[1].Phrase)
	assert.Equal(t, CategoryVariable, entities[2].Type)
}

func TestDecodeRejectsNonArray(t *testing.T) {
	for _, body := range []string{`{"token": "a"}`, `null`, `"text"`, `not json`} {
		_, err := DecodeItems([]byte(body))
		require.Error(t, err, body)
		assert.True(t, errors.Is(err, ErrMalformedItem), body)
	}
}

func TestDecodeRejectsWronglyTypedField(t *testing.T) {
	_, err := DecodeItems([]byte(`[{"token": 7, "label": "O"}]`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedItem))
}

func TestNormalizeRejectsMissingFields(t *testing.T) {
	items, err := DecodeItems([]byte(`[{"token": "ok", "label": "O"}, {"label": "B-EQUIPMENT"}]`))
	require.NoError(t, err)
	entities, err := Normalize(items)
	require.Error(t, err)
	assert.Nil(t, entities)
	assert.Contains(t, err.Error(), "item[1]")
	assert.True(t, errors.Is(err, ErrMalformedItem))
}

func TestNormalizeEmptyArray(t *testing.T) {
	items, err := DecodeItems([]byte(`[]`))
	require.NoError(t, err)
	entities, err := Normalize(items)
	require.NoError(t, err)
	assert.Empty(t, entities)
}

func TestCloneIsDeep(t *testing.T) {
	src := []Entity{{Phrase: "a", BBox: []int{1, 2, 3, 4}}}
	dup := Clone(src)
	dup[0].BBox[0] = 99
	assert.Equal(t, 1, src[0].BBox[0])
	assert.Nil(t, Clone(nil))
}
