package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/samijaber1/inquisitor-gate/internal/gate"
	"github.com/samijaber1/inquisitor-gate/internal/rules"
	"github.com/samijaber1/inquisitor-gate/internal/storage"
)

const defaultQueryLimit = 100

// Store implements CheckStorage using SQLite
type Store struct {
	db *sql.DB
}

var _ storage.CheckStorage = (*Store)(nil)

// NewStore creates a new SQLite storage with the given database path
func NewStore(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	// Run migrations
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// StoreRuleSet records a snapshot of the rule set keyed by its digest.
// Snapshots of earlier rule sets are kept so past checks can be traced back
// to the exact rules they were evaluated with.
func (s *Store) StoreRuleSet(rs *rules.RuleSet) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT OR IGNORE INTO rule_definitions (id, name, action, category, weight, pattern, escalated, ruleset_digest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	for i := 0; i < rs.Len(); i++ {
		r := rs.At(i)
		_, err := tx.Exec(query,
			r.ID,
			r.Name,
			string(r.Action),
			r.Category,
			r.Weight,
			r.Pattern,
			r.Escalated,
			rs.Digest(),
		)
		if err != nil {
			return fmt.Errorf("failed to store rule %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rule definitions: %w", err)
	}

	return nil
}

// StoreCheck persists a decision with its draft
func (s *Store) StoreCheck(draft gate.Draft, decision *gate.Decision) (int64, error) {
	flagsJSON, err := json.Marshal(decision.Flags)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal flags: %w", err)
	}

	blocksJSON, err := json.Marshal(decision.Blocks)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal blocks: %w", err)
	}

	rawJSON, err := json.Marshal(decision.RawMatch)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal raw match: %w", err)
	}

	warnings := decision.Warnings
	if warnings == nil {
		warnings = []gate.Warning{}
	}
	warningsJSON, err := json.Marshal(warnings)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal warnings: %w", err)
	}

	query := `
		INSERT INTO policy_checks (
			draft_scope, draft_text, allow, verdict, flags, blocks, reasons, explanation,
			raw_match, warnings, ruleset_digest, evaluated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := s.db.Exec(query,
		draft.Scope,
		draft.Text,
		decision.Allow,
		string(decision.Verdict),
		string(flagsJSON),
		string(blocksJSON),
		decision.Reasons,
		decision.Explanation,
		string(rawJSON),
		string(warningsJSON),
		decision.RuleSetDigest,
		decision.CreatedAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to store policy check: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read check ID: %w", err)
	}

	return id, nil
}

// UpdateLatestState updates the latest decision for the draft's scope.
// A decision older than the stored one is ignored.
func (s *Store) UpdateLatestState(checkID int64, draft gate.Draft, decision *gate.Decision) error {
	flagsJSON, err := json.Marshal(decision.Flags)
	if err != nil {
		return fmt.Errorf("failed to marshal flags: %w", err)
	}

	blocksJSON, err := json.Marshal(decision.Blocks)
	if err != nil {
		return fmt.Errorf("failed to marshal blocks: %w", err)
	}

	query := `
		INSERT INTO latest_state (draft_scope, check_id, allow, verdict, flags, blocks, reasons, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(draft_scope) DO UPDATE SET
			check_id = excluded.check_id,
			allow = excluded.allow,
			verdict = excluded.verdict,
			flags = excluded.flags,
			blocks = excluded.blocks,
			reasons = excluded.reasons,
			updated_at = excluded.updated_at
		WHERE excluded.updated_at > latest_state.updated_at
			OR (excluded.updated_at = latest_state.updated_at AND excluded.check_id >= latest_state.check_id)
	`

	_, err = s.db.Exec(query,
		draft.Scope,
		checkID,
		decision.Allow,
		string(decision.Verdict),
		string(flagsJSON),
		string(blocksJSON),
		decision.Reasons,
		decision.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update latest state: %w", err)
	}

	return nil
}

const checkColumns = `
	id, draft_scope, draft_text, allow, verdict, flags, blocks, reasons, explanation,
	raw_match, warnings, ruleset_digest, evaluated_at, created_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheck(row rowScanner) (*storage.CheckRecord, error) {
	var record storage.CheckRecord
	var flagsJSON, blocksJSON, rawJSON, warningsJSON string

	err := row.Scan(
		&record.ID,
		&record.Scope,
		&record.Text,
		&record.Allow,
		&record.Verdict,
		&flagsJSON,
		&blocksJSON,
		&record.Reasons,
		&record.Explanation,
		&rawJSON,
		&warningsJSON,
		&record.RuleSetDigest,
		&record.EvaluatedAt,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(flagsJSON), &record.Flags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal flags: %w", err)
	}
	if err := json.Unmarshal([]byte(blocksJSON), &record.Blocks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal blocks: %w", err)
	}
	if err := json.Unmarshal([]byte(rawJSON), &record.RawMatch); err != nil {
		return nil, fmt.Errorf("failed to unmarshal raw match: %w", err)
	}
	if err := json.Unmarshal([]byte(warningsJSON), &record.Warnings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal warnings: %w", err)
	}

	return &record, nil
}

// GetCheck retrieves a single check by ID
func (s *Store) GetCheck(id int64) (*storage.CheckRecord, error) {
	row := s.db.QueryRow("SELECT "+checkColumns+" FROM policy_checks WHERE id = ?", id)

	record, err := scanCheck(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get policy check: %w", err)
	}

	return record, nil
}

// QueryChecks retrieves check records with optional filtering, newest first
func (s *Store) QueryChecks(filter storage.CheckFilter) ([]storage.CheckRecord, error) {
	query := "SELECT " + checkColumns + " FROM policy_checks WHERE 1=1"
	args := []interface{}{}

	if filter.Scope != "" {
		query += " AND draft_scope = ?"
		args = append(args, filter.Scope)
	}

	if filter.Verdict != "" {
		query += " AND verdict = ?"
		args = append(args, filter.Verdict)
	}

	if filter.Allow != nil {
		query += " AND allow = ?"
		args = append(args, *filter.Allow)
	}

	if filter.RuleID != "" {
		query += " AND EXISTS (SELECT 1 FROM json_each(policy_checks.raw_match) WHERE json_each.key = ?)"
		args = append(args, filter.RuleID)
	}

	if filter.StartTime != nil {
		query += " AND evaluated_at >= ?"
		args = append(args, filter.StartTime.UTC())
	}

	if filter.EndTime != nil {
		query += " AND evaluated_at <= ?"
		args = append(args, filter.EndTime.UTC())
	}

	query += " ORDER BY evaluated_at DESC, id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	} else {
		query += " LIMIT ?"
		args = append(args, defaultQueryLimit)
	}

	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query policy checks: %w", err)
	}
	defer rows.Close()

	records := []storage.CheckRecord{}
	for rows.Next() {
		record, err := scanCheck(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return records, nil
}

// GetLatestState retrieves the latest decision for a scope
func (s *Store) GetLatestState(scope string) (*storage.LatestState, error) {
	query := `
		SELECT draft_scope, check_id, allow, verdict, flags, blocks, reasons, updated_at
		FROM latest_state
		WHERE draft_scope = ?
	`

	var state storage.LatestState
	var flagsJSON, blocksJSON string

	err := s.db.QueryRow(query, scope).Scan(
		&state.Scope,
		&state.CheckID,
		&state.Allow,
		&state.Verdict,
		&flagsJSON,
		&blocksJSON,
		&state.Reasons,
		&state.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest state: %w", err)
	}

	if err := json.Unmarshal([]byte(flagsJSON), &state.Flags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal flags: %w", err)
	}
	if err := json.Unmarshal([]byte(blocksJSON), &state.Blocks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal blocks: %w", err)
	}

	return &state, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
