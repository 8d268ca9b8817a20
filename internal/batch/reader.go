package batch

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/samijaber1/inquisitor-gate/internal/gate"
)

const maxLineBytes = 1 << 20

// Item is a draft read from a JSONL stream, with its 1-based line number
type Item struct {
	Line  int
	Draft gate.Draft
}

// ReadDrafts reads one JSON draft per line. Blank, oversized and undecodable
// lines are skipped with a warning.
func ReadDrafts(r io.Reader, logger zerolog.Logger) ([]Item, error) {
	reader := bufio.NewReader(r)

	items := []Item{}
	line := 0
	for {
		data, tooLong, err := readLine(reader, maxLineBytes)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read drafts: %w", err)
		}
		line++

		if tooLong {
			logger.Warn().Int("line", line).Int("limit", maxLineBytes).Msg("skipping oversized draft")
			continue
		}

		raw := bytes.TrimSpace(data)
		if len(raw) == 0 {
			continue
		}

		var draft gate.Draft
		if err := json.Unmarshal(raw, &draft); err != nil {
			logger.Warn().Int("line", line).Err(err).Msg("skipping undecodable draft")
			continue
		}

		if draft.Scope == "" {
			draft.Scope = gate.DefaultScope
		}

		items = append(items, Item{Line: line, Draft: draft})
	}

	return items, nil
}

// readLine returns the next line without its terminator. A line longer than
// limit is consumed to its end and reported as too long with no data.
func readLine(r *bufio.Reader, limit int) ([]byte, bool, error) {
	var buf []byte
	tooLong := false
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) && (tooLong || len(buf) > 0) {
				return buf, tooLong, nil
			}
			return nil, false, err
		}

		if !tooLong {
			if len(buf)+len(chunk) > limit {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}

		if !isPrefix {
			return buf, tooLong, nil
		}
	}
}
