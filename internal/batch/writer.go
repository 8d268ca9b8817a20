package batch

import (
	"encoding/json"
	"fmt"
	"io"
)

// WriteResults writes one JSON object per successful result and returns
// how many were written
func WriteResults(w io.Writer, results []Result) (int, error) {
	enc := json.NewEncoder(w)

	written := 0
	for _, r := range results {
		if r.Err != nil || r.Decision == nil {
			continue
		}
		if err := enc.Encode(r); err != nil {
			return written, fmt.Errorf("failed to write result for line %d: %w", r.Line, err)
		}
		written++
	}

	return written, nil
}
