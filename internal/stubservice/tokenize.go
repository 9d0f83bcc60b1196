package stubservice

import (
	"strings"
	"unicode"
)

// Item is one token of a response, in the shape the real service returns.
type Item struct {
	Token      string  `json:"token"`
	Label      string  `json:"label"`
	BBox       []int   `json:"bbox"`
	Confidence float64 `json:"confidence"`
}

const confidence = 0.99

// lexicon assigns an entity type to known words. Anything else is O.
var lexicon = map[string]string{
	"susv":       "EQUIPMENT",
	"tank":       "EQUIPMENT",
	"vessel":     "EQUIPMENT",
	"valve":      "EQUIPMENT",
	"pump":       "EQUIPMENT",
	"v-110":      "EQUIPMENT",
	"ft-201":     "EQUIPMENT",
	"flow":       "MEASUREMENT",
	"outgoing":   "MEASUREMENT",
	"incoming":   "MEASUREMENT",
	"weight":     "MEASUREMENT",
	"level":      "MEASUREMENT",
	"deviation":  "MEASUREMENT",
	"time":       "PARAMETER",
	"delay":      "PARAMETER",
	"tolerance":  "PARAMETER",
	"setpoint":   "PARAMETER",
	"state":      "VARIABLE",
	"feed":       "VARIABLE",
	"alarm":      "VARIABLE",
	"mode":       "VARIABLE",
	"running":    "VARIABLE",
	"threshold":  "PARAMETER",
	"difference": "MEASUREMENT",
}

// sample is returned for uploads that are not text, standing in for what
// the layout model finds in the reference narrative.
var sample = []Item{
	{Token: "SUSV", Label: "B-EQUIPMENT"},
	{Token: "Outgoing", Label: "B-MEASUREMENT"},
	{Token: "Flow", Label: "I-MEASUREMENT"},
	{Token: "tank", Label: "B-EQUIPMENT"},
	{Token: "weight", Label: "B-MEASUREMENT"},
	{Token: "feed", Label: "B-VARIABLE"},
	{Token: "time", Label: "B-PARAMETER"},
}

// Tokenize labels the words of text with B-/I- tags. Adjacent words of the
// same type form one span. O tokens are dropped unless includeOutside.
func Tokenize(text string, includeOutside bool) []Item {
	var items []Item
	prev := ""
	for lineNo, line := range strings.Split(text, "\n") {
		col := 0
		for _, raw := range strings.Fields(line) {
			word := strings.TrimFunc(raw, func(r rune) bool {
				return unicode.IsPunct(r) && r != '-'
			})
			x := col
			col += len([]rune(raw)) + 1
			if word == "" {
				prev = ""
				continue
			}
			kind, ok := lexicon[strings.ToLower(word)]
			if !ok {
				prev = ""
				if includeOutside {
					items = append(items, newItem(word, "O", x, lineNo))
				}
				continue
			}
			label := "B-" + kind
			if prev == kind {
				label = "I-" + kind
			}
			prev = kind
			items = append(items, newItem(word, label, x, lineNo))
		}
		prev = ""
	}
	return items
}

// Sample returns a copy of the fixed response used for binary uploads.
func Sample() []Item {
	out := make([]Item, len(sample))
	for i, item := range sample {
		out[i] = newItem(item.Token, item.Label, i*8, 0)
	}
	return out
}

func newItem(token, label string, col, line int) Item {
	width := len([]rune(token))
	return Item{
		Token:      token,
		Label:      label,
		BBox:       []int{col * 10, line * 20, (col + width) * 10, line*20 + 16},
		Confidence: confidence,
	}
}
