// Package reveal implements the character-by-character code reveal.
//
// A Reveal is a lazy sequence of growing prefixes of a text, one rune per
// step at a fixed rate. Starting a new reveal on a slot bumps the slot's
// generation, and drivers drop ticks whose generation is no longer current.
package reveal

import (
	"iter"
	"sync"
	"time"
)

// DefaultRate is the delay between two revealed characters.
const DefaultRate = 10 * time.Millisecond

// Slot names an output area that hosts one reveal at a time.
type Slot string

const (
	SlotInitial Slot = "initial"
	SlotFinal   Slot = "final"
)

// Reveal is one run of the effect over a text.
type Reveal struct {
	Slot       Slot
	Generation uint64
	Rate       time.Duration
	runes      []rune
}

// Len is the number of steps the reveal takes.
func (r Reveal) Len() int { return len(r.runes) }

// Text returns the full text being revealed.
func (r Reveal) Text() string { return string(r.runes) }

// Frame returns the first n runes and whether that is the full text.
func (r Reveal) Frame(n int) (string, bool) {
	if n < 0 {
		n = 0
	}
	if n >= len(r.runes) {
		return string(r.runes), true
	}
	return string(r.runes[:n]), false
}

// Frames yields each growing prefix, ending with the full text. The sequence
// is computed on demand and can be ranged over again from the start.
func (r Reveal) Frames() iter.Seq[string] {
	return func(yield func(string) bool) {
		for n := 1; n <= len(r.runes); n++ {
			if !yield(string(r.runes[:n])) {
				return
			}
		}
	}
}

// Duration is the time the whole reveal takes at its rate.
func (r Reveal) Duration() time.Duration {
	return time.Duration(len(r.runes)) * r.Rate
}

// Typewriter hands out reveals and tracks the live generation per slot.
type Typewriter struct {
	rate time.Duration

	mu   sync.Mutex
	gens map[Slot]uint64
}

// New creates a typewriter. A negative rate is treated as zero.
func New(rate time.Duration) *Typewriter {
	if rate < 0 {
		rate = 0
	}
	return &Typewriter{rate: rate, gens: map[Slot]uint64{}}
}

// Rate returns the per-character delay.
func (t *Typewriter) Rate() time.Duration { return t.rate }

// Start begins a reveal of text on slot, cancelling any earlier reveal there.
func (t *Typewriter) Start(slot Slot, text string) Reveal {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gens[slot]++
	return Reveal{
		Slot:       slot,
		Generation: t.gens[slot],
		Rate:       t.rate,
		runes:      []rune(text),
	}
}

// Cancel invalidates whatever reveal is running on slot.
func (t *Typewriter) Cancel(slot Slot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gens[slot]++
}

// IsCurrent reports whether gen is still the live reveal on slot.
func (t *Typewriter) IsCurrent(slot Slot, gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gens[slot] == gen
}
