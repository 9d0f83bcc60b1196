// Package symbols parses the user supplied symbol list: a mapping from
// descriptive names ("Outgoing Flow") to canonical control-system tags
// ("FT-201.OUT").
//
// Tables keep the order in which names appear in the source document. The
// reconciliation engine relies on that order to break ties, so a Table is an
// ordered slice rather than a map.
package symbols

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Entry is one name → tag row of a symbol table.
type Entry struct {
	Name string `json:"name" yaml:"name"`
	Tag  string `json:"tag" yaml:"tag"`
}

// Table is an immutable, ordered symbol table. The zero value is an empty
// table and is ready to use.
type Table struct {
	entries []Entry
	folded  []string
}

// New builds a table from entries in the given order. A repeated name keeps
// its first position and takes the last tag, matching how JSON object
// decoding treats duplicate keys.
func New(entries ...Entry) Table {
	t := Table{}
	index := make(map[string]int, len(entries))
	for _, e := range entries {
		if pos, ok := index[e.Name]; ok {
			t.entries[pos].Tag = e.Tag
			continue
		}
		index[e.Name] = len(t.entries)
		t.entries = append(t.entries, e)
		t.folded = append(t.folded, Fold(e.Name))
	}
	return t
}

// Len reports the number of names in the table.
func (t Table) Len() int { return len(t.entries) }

// Empty reports whether the table has no names.
func (t Table) Empty() bool { return len(t.entries) == 0 }

// At returns the i-th entry and its case-folded name.
func (t Table) At(i int) (Entry, string) {
	return t.entries[i], t.folded[i]
}

// Entries returns a copy of the rows in table order.
func (t Table) Entries() []Entry {
	if len(t.entries) == 0 {
		return nil
	}
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Lookup finds the tag for a name, ignoring case.
func (t Table) Lookup(name string) (string, bool) {
	target := Fold(name)
	for i, folded := range t.folded {
		if folded == target {
			return t.entries[i].Tag, true
		}
	}
	return "", false
}

// Fold returns the lower-cased form of s used for every case-insensitive
// comparison against symbol names. It is a per-rune lower mapping with no
// locale tailoring and no full folding, so "Straße" and "STRASSE" differ.
func Fold(s string) string {
	// A Caser carries state and must not be shared across goroutines.
	return cases.Lower(language.Und).String(s)
}
