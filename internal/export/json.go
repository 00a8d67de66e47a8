// Package export renders slot projections as artifacts.
package export

import (
	"encoding/json"
	"io"

	"bookmirror/internal/aggregate"
)

// WriteJSON streams the projections as an indented JSON array, preserving
// their order.
func WriteJSON(w io.Writer, records []aggregate.Projection) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}
