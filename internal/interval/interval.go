// Package interval provides the shared interval-overlap primitive and the
// keyed span index used for unavailability lookups.
package interval

import "time"

// Span is a half-open [Start, End) time interval.
type Span struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two intervals overlap under the closed-open
// convention: intervals that merely touch at an endpoint do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// Overlaps reports whether s overlaps o.
func (s Span) Overlaps(o Span) bool {
	return Overlaps(s.Start, s.End, o.Start, o.End)
}

// Index maps an identity (item ID or category ID) to its list of spans.
type Index struct {
	spans map[string][]Span
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{spans: make(map[string][]Span)}
}

// Add appends a span under the given key.
func (ix *Index) Add(key string, s Span) {
	ix.spans[key] = append(ix.spans[key], s)
}

// Spans returns the spans stored under key.
func (ix *Index) Spans(key string) []Span {
	return ix.spans[key]
}

// AnyOverlap reports whether any span under key overlaps s.
func (ix *Index) AnyOverlap(key string, s Span) bool {
	for _, u := range ix.spans[key] {
		if u.Overlaps(s) {
			return true
		}
	}
	return false
}

// Len returns the number of keys in the index.
func (ix *Index) Len() int {
	return len(ix.spans)
}
