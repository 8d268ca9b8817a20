package api

import (
	"time"

	"github.com/samijaber1/inquisitor-gate/internal/gate"
)

// CheckRequest represents a draft submitted for a gate check
type CheckRequest struct {
	Scope string `json:"scope"`
	Text  string `json:"text"`
}

// CheckResponse represents the persisted decision for a draft
type CheckResponse struct {
	CheckID  int64          `json:"check_id"`
	Decision *gate.Decision `json:"decision"`
}

// RuleListResponse represents the active rule set
type RuleListResponse struct {
	Digest  string        `json:"ruleset_digest"`
	Sources []string      `json:"sources"`
	Rules   []RuleSummary `json:"rules"`
}

// RuleSummary contains summary information about a rule
type RuleSummary struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Action    string  `json:"action"`
	Category  string  `json:"category"`
	Weight    float64 `json:"weight"`
	Escalated bool    `json:"escalated,omitempty"`
}

// RuleDetail contains the full definition of a rule
type RuleDetail struct {
	RuleSummary
	Pattern       string `json:"pattern"`
	CaseSensitive bool   `json:"case_sensitive"`
}

// CheckRecordResponse represents a stored check
type CheckRecordResponse struct {
	ID            int64               `json:"id"`
	Scope         string              `json:"scope"`
	Text          string              `json:"text"`
	Allow         bool                `json:"allow"`
	Verdict       string              `json:"verdict"`
	Flags         []string            `json:"flags"`
	Blocks        []string            `json:"blocks"`
	Reasons       string              `json:"reasons"`
	Explanation   string              `json:"explanation,omitempty"`
	RawMatch      map[string][]string `json:"raw_match"`
	Warnings      []gate.Warning      `json:"warnings,omitempty"`
	RuleSetDigest string              `json:"ruleset_digest"`
	EvaluatedAt   time.Time           `json:"evaluated_at"`
	CreatedAt     time.Time           `json:"created_at"`
}

// CheckListResponse represents a page of stored checks
type CheckListResponse struct {
	Records []CheckRecordResponse `json:"records"`
	Total   int                   `json:"total"`
}

// StateResponse represents the latest decision for a scope
type StateResponse struct {
	Scope     string    `json:"scope"`
	CheckID   int64     `json:"check_id"`
	Allow     bool      `json:"allow"`
	Verdict   string    `json:"verdict"`
	Flags     []string  `json:"flags"`
	Blocks    []string  `json:"blocks"`
	Reasons   string    `json:"reasons"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StateListResponse lists the latest decision of every scope this process has checked
type StateListResponse struct {
	States []StateResponse `json:"states"`
	Total  int             `json:"total"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadyResponse represents readiness check response
type ReadyResponse struct {
	Ready        bool     `json:"ready"`
	RulesLoaded  int      `json:"rules_loaded"`
	Digest       string   `json:"ruleset_digest,omitempty"`
	ScopesCached int      `json:"scopes_cached"`
	Reasons      []string `json:"reasons,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}
