// Package tally reconciles extracted entities against a user symbol table.
//
// Every entity yields exactly one Record, in entity order. An entity is
// Matched when some symbol name and the phrase contain one another (ignoring
// case); the first such name in table order wins, not the closest one. When
// no name matches, an ordered rule table is consulted to infer a tag, and an
// entity no rule recognises is Unresolved.
package tally

import (
	"fmt"
	"strings"

	"github.com/kingrea/tally/internal/entity"
	"github.com/kingrea/tally/internal/symbols"
)

// Kind classifies how a record's tag was obtained.
type Kind int

const (
	KindMatched Kind = iota + 1
	KindInferred
	KindUnresolved
)

func (k Kind) String() string {
	switch k {
	case KindMatched:
		return "matched"
	case KindInferred:
		return "inferred"
	case KindUnresolved:
		return "unresolved"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText renders the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnknownTag is the target tag of an unresolved record.
const UnknownTag = "???"

// Display statuses. Inferred and unresolved records share a status.
const (
	StatusMatch    = "MATCH FOUND"
	StatusInferred = "INFERRED"
)

// Record is the reconciliation outcome for one entity.
type Record struct {
	Entity        entity.Entity `json:"entity"`
	Kind          Kind          `json:"kind"`
	TargetTag     string        `json:"target_tag"`
	DisplayStatus string        `json:"status"`
	// MatchedKey is the symbol name that matched, for Matched records.
	MatchedKey string `json:"matched_key,omitempty"`
	// Rule is the inference pattern that fired, for Inferred records.
	Rule string `json:"rule,omitempty"`
}

// Resolved reports whether the record carries a real tag.
func (r Record) Resolved() bool { return r.Kind != KindUnresolved }

// Rule maps a phrase substring to a canonical tag. Matching is case
// sensitive.
type Rule struct {
	Contains string `yaml:"contains" json:"contains"`
	Tag      string `yaml:"tag" json:"tag"`
}

// DefaultRules is the placeholder inference table.
func DefaultRules() []Rule {
	return []Rule{
		{Contains: "Outgoing", Tag: "FT-201.OUT"},
		{Contains: "weight", Tag: "V-110.dWT"},
		{Contains: "time", Tag: "P-TIME_ALARM"},
	}
}

// ValidateRules rejects rules that would fire on everything or yield no tag.
func ValidateRules(rules []Rule) error {
	for i, rule := range rules {
		if rule.Contains == "" {
			return fmt.Errorf("tally: rule[%d]: contains is required", i)
		}
		if strings.TrimSpace(rule.Tag) == "" {
			return fmt.Errorf("tally: rule[%d]: tag is required", i)
		}
	}
	return nil
}

// Engine holds the inference rules. It has no other state; Reconcile is a
// pure function of its inputs.
type Engine struct {
	rules []Rule
}

// NewEngine builds an engine. A nil slice selects DefaultRules; an empty
// non-nil slice disables inference.
func NewEngine(rules []Rule) *Engine {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Engine{rules: append([]Rule(nil), rules...)}
}

// Rules returns a copy of the engine's inference rules.
func (e *Engine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Reconcile produces one record per entity, preserving order.
func (e *Engine) Reconcile(entities []entity.Entity, table symbols.Table) []Record {
	records := make([]Record, 0, len(entities))
	for _, ent := range entities {
		records = append(records, e.Resolve(ent, table))
	}
	return records
}

// Resolve reconciles a single entity.
func (e *Engine) Resolve(ent entity.Entity, table symbols.Table) Record {
	if key, tag, ok := match(ent.Phrase, table); ok {
		return Record{
			Entity:        ent,
			Kind:          KindMatched,
			TargetTag:     tag,
			DisplayStatus: StatusMatch,
			MatchedKey:    key,
		}
	}
	for _, rule := range e.rules {
		if strings.Contains(ent.Phrase, rule.Contains) {
			return Record{
				Entity:        ent,
				Kind:          KindInferred,
				TargetTag:     rule.Tag,
				DisplayStatus: StatusInferred,
				Rule:          rule.Contains,
			}
		}
	}
	return Record{
		Entity:        ent,
		Kind:          KindUnresolved,
		TargetTag:     UnknownTag,
		DisplayStatus: StatusInferred,
	}
}

func match(phrase string, table symbols.Table) (string, string, bool) {
	folded := symbols.Fold(phrase)
	for i := 0; i < table.Len(); i++ {
		entry, key := table.At(i)
		if strings.Contains(key, folded) || strings.Contains(folded, key) {
			return entry.Name, entry.Tag, true
		}
	}
	return "", "", false
}

// Summary counts records per kind.
type Summary struct {
	Matched    int `json:"matched"`
	Inferred   int `json:"inferred"`
	Unresolved int `json:"unresolved"`
}

// Total is the number of records summarised.
func (s Summary) Total() int { return s.Matched + s.Inferred + s.Unresolved }

func (s Summary) String() string {
	return fmt.Sprintf("%d matched · %d inferred · %d unresolved", s.Matched, s.Inferred, s.Unresolved)
}

// Summarize counts records by kind.
func Summarize(records []Record) Summary {
	var s Summary
	for _, r := range records {
		switch r.Kind {
		case KindMatched:
			s.Matched++
		case KindInferred:
			s.Inferred++
		case KindUnresolved:
			s.Unresolved++
		}
	}
	return s
}
