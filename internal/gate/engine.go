package gate

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/samijaber1/inquisitor-gate/internal/rules"
)

// ErrMatchBudgetExceeded is reported when a rule does not finish matching in time
var ErrMatchBudgetExceeded = errors.New("match budget exceeded")

const DefaultMatchTimeout = 250 * time.Millisecond

// FlagThreshold is the summed weight of matched flag rules at which an
// allowed draft is given the flag verdict
const FlagThreshold = 1.0

// Engine evaluates drafts against rule sets. It holds configuration only, so
// one Engine can serve any number of concurrent evaluations.
type Engine struct {
	now          func() time.Time
	logger       zerolog.Logger
	matchTimeout time.Duration
	maxMatches   int
	explainer    Explainer

	find func(rule rules.CompiledRule, text string, n int) []string
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the time source used for CreatedAt
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger used for evaluation anomalies
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMatchTimeout bounds the time a single rule may spend matching. Zero disables the budget.
func WithMatchTimeout(d time.Duration) Option {
	return func(e *Engine) { e.matchTimeout = d }
}

// WithMaxMatchesPerRule caps the matches recorded per rule. Zero or less means unlimited.
func WithMaxMatchesPerRule(n int) Option {
	return func(e *Engine) { e.maxMatches = n }
}

// WithExplainer replaces the default category explainer
func WithExplainer(x Explainer) Option {
	return func(e *Engine) { e.explainer = x }
}

// NewEngine creates a new policy gate engine
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		now:          time.Now,
		logger:       zerolog.Nop(),
		matchTimeout: DefaultMatchTimeout,
		explainer:    CategoryExplainer{},
		find:         rules.CompiledRule.FindAll,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs every rule against the draft. Any matching block rule
// disallows the draft, but all rules are still evaluated so the decision
// records every flag and match. A nil rule set allows everything.
func (e *Engine) Evaluate(rs *rules.RuleSet, draft Draft) *Decision {
	start := time.Now()

	d := &Decision{
		Allow:         true,
		Flags:         []string{},
		Blocks:        []string{},
		RawMatch:      map[string][]string{},
		Hits:          []Hit{},
		RuleSetDigest: rs.Digest(),
	}

	for i := 0; i < rs.Len(); i++ {
		rule := rs.At(i)

		matches, err := e.match(rule, draft.Text)
		if err != nil {
			d.Warnings = append(d.Warnings, Warning{
				RuleID:  rule.ID,
				Message: err.Error(),
			})
			budgetExceededCount.WithLabelValues(rule.ID).Inc()
			e.logger.Warn().
				Err(err).
				Str("rule_id", rule.ID).
				Str("scope", draft.Scope).
				Int("text_len", len(draft.Text)).
				Dur("budget", e.matchTimeout).
				Msg("rule treated as non-matching")
			continue
		}

		if len(matches) == 0 {
			continue
		}

		d.RawMatch[rule.ID] = matches
		d.Hits = append(d.Hits, Hit{
			RuleID:    rule.ID,
			Name:      rule.Name,
			Category:  rule.Category,
			Action:    rule.Action,
			Weight:    rule.Weight,
			Escalated: rule.Escalated,
			Matches:   matches,
		})
		ruleMatchCount.WithLabelValues(rule.ID, string(rule.Action)).Inc()

		switch rule.Action {
		case rules.ActionBlock:
			d.Allow = false
			d.Blocks = append(d.Blocks, rule.ID)
		case rules.ActionFlag:
			d.Flags = append(d.Flags, rule.ID)
			d.FlagScore += rule.Weight
		}
	}

	d.Verdict = verdictFor(d)
	d.Reasons = reasonsFor(d)
	if e.explainer != nil {
		d.Explanation = e.explainer.Explain(draft, d.Hits)
	}
	d.CreatedAt = e.now()

	decisionCount.WithLabelValues(string(d.Verdict)).Inc()
	evaluationDuration.Observe(time.Since(start).Seconds())

	return d
}

// match finds the rule's matches within the configured budget
func (e *Engine) match(rule rules.CompiledRule, text string) ([]string, error) {
	n := -1
	if e.maxMatches > 0 {
		n = e.maxMatches
	}

	if text == "" {
		return nil, nil
	}

	if e.matchTimeout <= 0 {
		return e.find(rule, text, n), nil
	}

	// RE2 always terminates, so an abandoned goroutine finishes on its own
	done := make(chan []string, 1)
	go func() {
		done <- e.find(rule, text, n)
	}()

	timer := time.NewTimer(e.matchTimeout)
	defer timer.Stop()

	select {
	case m := <-done:
		return m, nil
	case <-timer.C:
		return nil, fmt.Errorf("rule %s: %w (%s)", rule.ID, ErrMatchBudgetExceeded, e.matchTimeout)
	}
}

func verdictFor(d *Decision) Verdict {
	switch {
	case !d.Allow:
		return VerdictBlock
	case d.FlagScore >= FlagThreshold:
		return VerdictFlag
	default:
		return VerdictAllow
	}
}

var defaultEngine = NewEngine()

// Evaluate runs the draft through a default engine
func Evaluate(rs *rules.RuleSet, draft Draft) *Decision {
	return defaultEngine.Evaluate(rs, draft)
}
