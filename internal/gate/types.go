package gate

import (
	"time"

	"github.com/samijaber1/inquisitor-gate/internal/rules"
)

// Verdict summarises a decision in one word
type Verdict string

const (
	VerdictAllow Verdict = "allow"
	VerdictFlag  Verdict = "flag"
	VerdictBlock Verdict = "block"
)

// DefaultScope is used for drafts submitted without one
const DefaultScope = "fixture_draft"

// Draft is candidate outbound text submitted for evaluation
type Draft struct {
	Scope string `json:"scope"`
	Text  string `json:"text"`
}

// Hit describes one matched rule
type Hit struct {
	RuleID    string       `json:"id"`
	Name      string       `json:"name"`
	Category  string       `json:"category"`
	Action    rules.Action `json:"action"`
	Weight    float64      `json:"weight"`
	Escalated bool         `json:"escalated,omitempty"`
	Matches   []string     `json:"matches"`
}

// Warning records an evaluation anomaly. The affected rule was treated as
// non-matching for this draft.
type Warning struct {
	RuleID  string `json:"rule_id"`
	Message string `json:"message"`
}

// Decision is the auditable result of evaluating one draft. It is built
// fresh per evaluation and not modified after Evaluate returns.
type Decision struct {
	Allow         bool                `json:"allow"`
	Verdict       Verdict             `json:"verdict"`
	Flags         []string            `json:"flags"`
	Blocks        []string            `json:"blocks"`
	FlagScore     float64             `json:"flag_score"`
	RawMatch      map[string][]string `json:"raw_match"`
	Hits          []Hit               `json:"hits"`
	Reasons       string              `json:"reasons"`
	Explanation   string              `json:"explanation,omitempty"`
	Warnings      []Warning           `json:"warnings,omitempty"`
	RuleSetDigest string              `json:"ruleset_digest"`
	CreatedAt     time.Time           `json:"created_at"`
}
