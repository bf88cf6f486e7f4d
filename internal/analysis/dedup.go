package analysis

import (
	"strings"
	"time"
	"unicode"

	"github.com/therassist/session-coordinator/internal/domain"
)

// DedupConfig controls alert retention
type DedupConfig struct {
	MaxVisible int           // visible list cap
	Recency    time.Duration // how long a shown alert suppresses similar ones
	Similarity float64       // word-set Jaccard threshold on title or message
}

// DefaultDedupConfig returns the standard alert policy
func DefaultDedupConfig() DedupConfig {
	return DedupConfig{
		MaxVisible: 8,
		Recency:    60 * time.Second,
		Similarity: 0.6,
	}
}

// Deduplicator holds the visible alert list, newest first. It is owned by
// the session loop.
type Deduplicator struct {
	cfg    DedupConfig
	alerts []domain.Alert
}

// NewDeduplicator creates an empty alert list
func NewDeduplicator(cfg DedupConfig) *Deduplicator {
	def := DefaultDedupConfig()
	if cfg.MaxVisible <= 0 {
		cfg.MaxVisible = def.MaxVisible
	}
	if cfg.Recency <= 0 {
		cfg.Recency = def.Recency
	}
	if cfg.Similarity <= 0 || cfg.Similarity > 1 {
		cfg.Similarity = def.Similarity
	}
	return &Deduplicator{cfg: cfg}
}

// Offer evaluates a candidate. An accepted alert is prepended and the list
// truncated to the cap; a suppressed one leaves the list unchanged.
func (d *Deduplicator) Offer(alert domain.Alert, now time.Time) bool {
	if d.IsDuplicate(alert, now) {
		return false
	}

	d.alerts = append([]domain.Alert{alert}, d.alerts...)
	if len(d.alerts) > d.cfg.MaxVisible {
		d.alerts = d.alerts[:d.cfg.MaxVisible]
	}
	return true
}

// IsDuplicate reports whether alert would be suppressed
func (d *Deduplicator) IsDuplicate(alert domain.Alert, now time.Time) bool {
	for _, shown := range d.alerts {
		if shown.Category != alert.Category {
			continue
		}
		if now.Sub(shown.CreatedAt) > d.cfg.Recency {
			continue
		}
		if d.similar(shown.Title, alert.Title) || d.similar(shown.Message, alert.Message) {
			return true
		}
	}
	return false
}

// similar ignores empty fields, which carry no signal
func (d *Deduplicator) similar(a, b string) bool {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return false
	}
	return Similarity(a, b) >= d.cfg.Similarity
}

// Visible returns a copy of the list, newest first
func (d *Deduplicator) Visible() []domain.Alert {
	out := make([]domain.Alert, len(d.alerts))
	copy(out, d.alerts)
	return out
}

// Latest is the most recently accepted alert still visible
func (d *Deduplicator) Latest() *domain.Alert {
	if len(d.alerts) == 0 {
		return nil
	}
	latest := d.alerts[0]
	return &latest
}

// Reset clears the list
func (d *Deduplicator) Reset() {
	d.alerts = nil
}

// Similarity is the Jaccard index of the lowercase word sets of a and b.
// Two empty strings are identical.
func Similarity(a, b string) float64 {
	wa, wb := wordSet(a), wordSet(b)
	if len(wa) == 0 && len(wb) == 0 {
		return 1
	}

	shared := 0
	for w := range wa {
		if wb[w] {
			shared++
		}
	}
	union := len(wa) + len(wb) - shared
	return float64(shared) / float64(union)
}

func wordSet(s string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
