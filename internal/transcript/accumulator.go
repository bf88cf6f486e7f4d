package transcript

import (
	"strings"
	"time"

	"github.com/therassist/session-coordinator/internal/domain"
)

// Accumulator is the ordered transcript log of one session. Final entries
// are never modified; only a single trailing interim entry may be replaced.
// It is owned by the session loop and is not safe for concurrent use.
type Accumulator struct {
	entries []domain.TranscriptEntry
}

// NewAccumulator creates an empty accumulator
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Append merges one transcript event in arrival order. It returns the entry
// as stored and the number of words a final entry added. Blank interim
// events are ignored; a blank final still retires the trailing interim.
func (a *Accumulator) Append(event domain.TranscriptEvent, now time.Time) (domain.TranscriptEntry, int, bool) {
	text := strings.TrimSpace(event.Text)

	stamp := event.Timestamp
	if stamp.IsZero() {
		stamp = now
	}

	entry := domain.TranscriptEntry{
		Text:       text,
		Speaker:    event.Speaker,
		Confidence: event.Confidence,
		Timestamp:  stamp,
		IsInterim:  !event.IsFinal,
		ReceivedAt: now,
	}

	if entry.IsInterim {
		if text == "" {
			return domain.TranscriptEntry{}, 0, false
		}
		if a.hasTrailingInterim() {
			a.entries[len(a.entries)-1] = entry
		} else {
			a.entries = append(a.entries, entry)
		}
		return entry, 0, true
	}

	if a.hasTrailingInterim() {
		a.entries = a.entries[:len(a.entries)-1]
	}
	if text == "" {
		return domain.TranscriptEntry{}, 0, false
	}
	a.entries = append(a.entries, entry)
	return entry, CountWords(text), true
}

func (a *Accumulator) hasTrailingInterim() bool {
	return len(a.entries) > 0 && a.entries[len(a.entries)-1].IsInterim
}

// Entries returns a copy of the whole log, including any trailing interim
func (a *Accumulator) Entries() []domain.TranscriptEntry {
	out := make([]domain.TranscriptEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Finals returns every final entry in order
func (a *Accumulator) Finals() []domain.TranscriptEntry {
	return a.Window(0, time.Time{})
}

// Window returns the final entries that arrived within d before now, in
// order. Backend timestamps are display only: their zone and clock are not
// ours. A non-positive d returns all finals.
func (a *Accumulator) Window(d time.Duration, now time.Time) []domain.TranscriptEntry {
	var cutoff time.Time
	if d > 0 {
		cutoff = now.Add(-d)
	}

	var out []domain.TranscriptEntry
	for _, entry := range a.entries {
		if entry.IsInterim {
			continue
		}
		if d > 0 && entry.ReceivedAt.Before(cutoff) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// HasFinal reports whether any final entry exists
func (a *Accumulator) HasFinal() bool {
	for _, entry := range a.entries {
		if !entry.IsInterim {
			return true
		}
	}
	return false
}

// Len returns the number of entries, interim included
func (a *Accumulator) Len() int {
	return len(a.entries)
}

// Reset empties the log
func (a *Accumulator) Reset() {
	a.entries = nil
}

// CountWords counts whitespace-separated words
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// Lines converts entries to the analysis wire shape
func Lines(entries []domain.TranscriptEntry) []domain.TranscriptLine {
	lines := make([]domain.TranscriptLine, 0, len(entries))
	for _, entry := range entries {
		speaker := entry.Speaker
		if speaker == "" {
			speaker = "conversation"
		}
		lines = append(lines, domain.TranscriptLine{
			Speaker:   speaker,
			Text:      entry.Text,
			Timestamp: entry.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	return lines
}
