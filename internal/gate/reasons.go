package gate

import (
	"fmt"
	"strings"
)

const noMatchReason = "No policy flags matched; allow."

// reasonsFor builds the human-readable summary. IDs appear in rule order.
func reasonsFor(d *Decision) string {
	flags := strings.Join(d.Flags, ", ")

	if len(d.Blocks) > 0 {
		msg := fmt.Sprintf("Blocking checks present (%s); content blocked.", strings.Join(d.Blocks, ", "))
		if len(d.Flags) > 0 {
			msg += fmt.Sprintf(" Flags present (%s).", flags)
		}
		return msg
	}

	if len(d.Flags) > 0 {
		return fmt.Sprintf("Flags present (%s); allow with flags.", flags)
	}

	return noMatchReason
}

// Explainer produces a free-form explanation for a set of hits. A model-backed
// implementation can be plugged in; the default never leaves the process.
type Explainer interface {
	Explain(draft Draft, hits []Hit) string
}

// CategoryExplainer counts hits per category
type CategoryExplainer struct{}

func (CategoryExplainer) Explain(_ Draft, hits []Hit) string {
	if len(hits) == 0 {
		return "No policy checks triggered; content appears compliant per current regex rules."
	}

	var order []string
	counts := make(map[string]int)
	for _, h := range hits {
		if _, seen := counts[h.Category]; !seen {
			order = append(order, h.Category)
		}
		counts[h.Category]++
	}

	parts := make([]string, len(order))
	for i, c := range order {
		parts[i] = fmt.Sprintf("%s×%d", c, counts[c])
	}

	return fmt.Sprintf("%d check(s) triggered. Categories: %s", len(hits), strings.Join(parts, ", "))
}
