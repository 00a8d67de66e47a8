// Package routing maps slot tags to target calendars.
package routing

import "bookmirror/internal/config"

// Table resolves which calendars a slot should land on, by intersecting the
// slot's tags with each configured target's tag list. Targets keep their
// configuration order; slots matching nothing fall back to the default
// calendar.
type Table struct {
	targets   []config.CalendarTarget
	defaultID string
}

// NewTable builds a routing table from calendar configuration.
func NewTable(cfg config.Calendar) *Table {
	return &Table{targets: cfg.Targets, defaultID: cfg.DefaultCalendarID}
}

// Resolve returns the calendar IDs for the given tags, in configuration
// order, deduplicated. With no tag match it returns the default calendar,
// or nothing when no default is configured.
func (t *Table) Resolve(tags []string) []string {
	tagSet := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tagSet[tag] = struct{}{}
	}

	var out []string
	seen := make(map[string]struct{})
	for _, target := range t.targets {
		if target.CalendarID == "" {
			continue
		}
		for _, tag := range target.Tags {
			if _, ok := tagSet[tag]; !ok {
				continue
			}
			if _, dup := seen[target.CalendarID]; !dup {
				seen[target.CalendarID] = struct{}{}
				out = append(out, target.CalendarID)
			}
			break
		}
	}
	if len(out) == 0 && t.defaultID != "" {
		out = append(out, t.defaultID)
	}
	return out
}
