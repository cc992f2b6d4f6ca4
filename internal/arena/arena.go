// Package arena implements the word-aligned, mode-switched bump
// allocator of spec §4.D: a single fixed-size scratch region, carved up
// at runtime between two mutually exclusive operating modes, with
// all-at-once deallocation when a mode leaves.
//
// A word is 4 bytes, matching the target's natural alignment; callers
// size their requests in words (roundUpWords handles byte-sized asks).
package arena

const wordSize = 4

// Arena is a linear buffer with a single bump pointer. At most one mode
// is active at a time (enforced by the caller — see internal/orchestrator,
// which owns the tagged-union-over-the-arena design note); Arena itself
// only accounts for words in use.
type Arena struct {
	data        []byte
	capWords    int
	freeOffset  int // in words
}

// New returns an arena with capWords words of backing storage.
func New(capWords int) *Arena {
	if capWords < 0 {
		capWords = 0
	}
	return &Arena{data: make([]byte, capWords*wordSize), capWords: capWords}
}

// RoundUpWords converts a byte count to the number of words it occupies.
func RoundUpWords(bytes int) int {
	if bytes <= 0 {
		return 0
	}
	return (bytes + wordSize - 1) / wordSize
}

// CapWords returns the arena's total capacity in words.
func (a *Arena) CapWords() int { return a.capWords }

// FreeOffsetWords returns the current bump-pointer offset in words.
func (a *Arena) FreeOffsetWords() int { return a.freeOffset }

// AvailableWords returns capacity not yet allocated.
func (a *Arena) AvailableWords() int { return a.capWords - a.freeOffset }

// Activate bumps the free offset by words and returns a byte slice view
// over the newly reserved region. Returns ok=false (and leaves the
// offset unchanged) if the request would exceed capacity.
func (a *Arena) Activate(words int) (region []byte, ok bool) {
	if words < 0 || words > a.AvailableWords() {
		return nil, false
	}
	start := a.freeOffset * wordSize
	a.freeOffset += words
	return a.data[start : start+words*wordSize], true
}

// Deactivate gives back exactly `words` from the top of the bump
// pointer — callers must deactivate in the reverse order they
// activated (single-mode-at-a-time usage never needs more than one
// outstanding activation, so this is simply "subtract back to 0").
// Returns false if words exceeds the current offset (a memory-leak
// condition the orchestrator surfaces as status.MemoryLeak).
func (a *Arena) Deactivate(words int) bool {
	if words < 0 || words > a.freeOffset {
		return false
	}
	a.freeOffset -= words
	return true
}

// Reset drains the arena unconditionally, used on a fault path where
// precise deactivation accounting is moot.
func (a *Arena) Reset() { a.freeOffset = 0 }
