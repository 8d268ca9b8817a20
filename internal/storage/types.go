package storage

import (
	"errors"
	"time"

	"github.com/samijaber1/inquisitor-gate/internal/gate"
	"github.com/samijaber1/inquisitor-gate/internal/rules"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// CheckStorage defines the interface for persisting policy gate decisions
type CheckStorage interface {
	// StoreRuleSet persists a snapshot of the active rule definitions
	StoreRuleSet(rs *rules.RuleSet) error

	// StoreCheck persists a decision with its draft and returns the new check ID
	StoreCheck(draft gate.Draft, decision *gate.Decision) (int64, error)

	// UpdateLatestState records the decision as the most recent for its scope
	UpdateLatestState(checkID int64, draft gate.Draft, decision *gate.Decision) error

	// GetCheck retrieves a single check by ID
	GetCheck(id int64) (*CheckRecord, error)

	// QueryChecks retrieves check records with optional filtering
	QueryChecks(filter CheckFilter) ([]CheckRecord, error)

	// GetLatestState retrieves the latest decision for a scope
	GetLatestState(scope string) (*LatestState, error)

	// Close closes the storage connection
	Close() error
}

// CheckFilter defines filtering options for check queries
type CheckFilter struct {
	Scope     string
	Verdict   string // allow, flag, block
	Allow     *bool
	RuleID    string // matched rule, flag or block
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// CheckRecord represents a single stored policy check
type CheckRecord struct {
	ID            int64
	Scope         string
	Text          string
	Allow         bool
	Verdict       string
	Flags         []string
	Blocks        []string
	Reasons       string
	Explanation   string
	RawMatch      map[string][]string
	Warnings      []gate.Warning
	RuleSetDigest string
	EvaluatedAt   time.Time
	CreatedAt     time.Time
}

// LatestState represents the most recent decision for a scope
type LatestState struct {
	Scope     string
	CheckID   int64
	Allow     bool
	Verdict   string
	Flags     []string
	Blocks    []string
	Reasons   string
	UpdatedAt time.Time
}
