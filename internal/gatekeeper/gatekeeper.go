package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/samijaber1/inquisitor-gate/internal/gate"
	"github.com/samijaber1/inquisitor-gate/internal/rules"
	"github.com/samijaber1/inquisitor-gate/internal/storage"
)

// ErrNoRuleSet is returned when a draft is checked before any rules are loaded
var ErrNoRuleSet = errors.New("no rule set loaded")

// Gatekeeper owns the active rule set, evaluates drafts against it and
// persists every decision.
type Gatekeeper struct {
	engine    *gate.Engine
	rulesPath string
	logger    zerolog.Logger
	cache     *ScopeCache

	current atomic.Pointer[rules.RuleSet]

	store   storage.CheckStorage
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
}

// New creates a gatekeeper for the rule file or directory at rulesPath
func New(engine *gate.Engine, rulesPath string, logger zerolog.Logger) *Gatekeeper {
	return &Gatekeeper{
		engine:    engine,
		rulesPath: rulesPath,
		logger:    logger.With().Str("component", "gatekeeper").Logger(),
		cache:     NewScopeCache(),
	}
}

// SetStorage sets the storage backend decisions are persisted to
func (g *Gatekeeper) SetStorage(store storage.CheckStorage) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.store = store
}

// Storage returns the storage backend, or nil when none is set
func (g *Gatekeeper) Storage() storage.CheckStorage {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store
}

// Cache returns the latest-decision-per-scope cache
func (g *Gatekeeper) Cache() *ScopeCache {
	return g.cache
}

// RuleSet returns the active rule set, or nil before the first successful load
func (g *Gatekeeper) RuleSet() *rules.RuleSet {
	return g.current.Load()
}

// Ready reports whether a rule set is active
func (g *Gatekeeper) Ready() bool {
	return g.current.Load() != nil
}

// LoadRules loads and activates the rule set from the configured path. On
// failure the previously active rule set stays in place.
func (g *Gatekeeper) LoadRules() error {
	rs, err := rules.Load(g.rulesPath)
	if err != nil {
		reloadsTotal.WithLabelValues("error").Inc()
		return err
	}

	if prev := g.current.Load(); prev != nil && prev.Digest() == rs.Digest() {
		reloadsTotal.WithLabelValues("unchanged").Inc()
		return nil
	}

	g.current.Store(rs)
	reloadsTotal.WithLabelValues("loaded").Inc()
	activeRules.Set(float64(rs.Len()))

	if store := g.Storage(); store != nil {
		if err := store.StoreRuleSet(rs); err != nil {
			g.logger.Warn().Err(err).Str("digest", rs.Digest()).Msg("failed to store rule definitions")
		}
	}

	g.logger.Info().
		Int("rules", rs.Len()).
		Str("digest", rs.Digest()).
		Strs("sources", rs.Sources()).
		Msg("loaded rule set")
	return nil
}

// SetRuleSet activates an already compiled rule set
func (g *Gatekeeper) SetRuleSet(rs *rules.RuleSet) {
	g.current.Store(rs)
	activeRules.Set(float64(rs.Len()))
}

// Check evaluates a draft against the active rule set and persists the
// decision. A persistence failure is returned as an error and the decision
// must not be acted upon.
func (g *Gatekeeper) Check(draft gate.Draft) (int64, *gate.Decision, error) {
	rs := g.current.Load()
	if rs == nil {
		return 0, nil, ErrNoRuleSet
	}

	decision := g.engine.Evaluate(rs, draft)

	var checkID int64
	if store := g.Storage(); store != nil {
		id, err := store.StoreCheck(draft, decision)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to persist decision: %w", err)
		}
		checkID = id

		if err := store.UpdateLatestState(checkID, draft, decision); err != nil {
			g.logger.Warn().Err(err).Str("scope", draft.Scope).Msg("failed to update latest state")
		}
	}

	g.cache.Set(draft.Scope, &ScopeState{
		CheckID:   checkID,
		Decision:  decision,
		UpdatedAt: decision.CreatedAt,
	})

	g.logger.Debug().
		Int64("check_id", checkID).
		Str("scope", draft.Scope).
		Int("text_len", len(draft.Text)).
		Str("verdict", string(decision.Verdict)).
		Strs("flags", decision.Flags).
		Strs("blocks", decision.Blocks).
		Msg("checked draft")

	return checkID, decision, nil
}

// Start begins reloading the rule set every interval
func (g *Gatekeeper) Start(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("reload interval must be positive, got %s", interval)
	}

	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return fmt.Errorf("gatekeeper already running")
	}

	if g.current.Load() == nil {
		g.mu.Unlock()
		return fmt.Errorf("no rule set loaded, call LoadRules() first")
	}

	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.running = true
	g.mu.Unlock()

	g.wg.Add(1)
	go g.reloadLoop(ctx, interval)

	g.logger.Info().Dur("interval", interval).Msg("started rule reloader")
	return nil
}

// Stop stops the reload loop and waits for it to exit
func (g *Gatekeeper) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}

	g.cancel()
	g.running = false
	g.mu.Unlock()

	g.wg.Wait()
	g.logger.Info().Msg("rule reloader stopped")
}

func (g *Gatekeeper) reloadLoop(ctx context.Context, interval time.Duration) {
	defer g.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.LoadRules(); err != nil {
				g.logger.Error().Err(err).Str("path", g.rulesPath).Msg("rule reload failed, keeping previous rule set")
			}
		}
	}
}
