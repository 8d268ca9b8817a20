package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/samijaber1/inquisitor-gate/internal/gate"
)

// Checker evaluates and persists a single draft
type Checker interface {
	Check(draft gate.Draft) (int64, *gate.Decision, error)
}

// Result is the outcome for one input item
type Result struct {
	Line     int            `json:"line"`
	Scope    string         `json:"scope"`
	CheckID  int64          `json:"check_id"`
	Decision *gate.Decision `json:"decision,omitempty"`
	Err      error          `json:"-"`
}

// Processor checks batches of drafts with bounded concurrency
type Processor struct {
	checker     Checker
	concurrency int
	logger      zerolog.Logger
}

// NewProcessor creates a processor. A concurrency of zero or less uses GOMAXPROCS.
func NewProcessor(checker Checker, concurrency int, logger zerolog.Logger) *Processor {
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}
	return &Processor{
		checker:     checker,
		concurrency: concurrency,
		logger:      logger.With().Str("component", "batch").Logger(),
	}
}

// Process checks every item and returns results in input order. Failed items
// carry their error and are also reported in the joined error.
func (p *Processor) Process(ctx context.Context, items []Item) ([]Result, error) {
	results := make([]Result, len(items))
	sem := semaphore.NewWeighted(int64(p.concurrency))
	var wg sync.WaitGroup

	for i, item := range items {
		results[i] = Result{Line: item.Line, Scope: item.Draft.Scope}

		if err := sem.Acquire(ctx, 1); err != nil {
			results[i].Err = err
			continue
		}

		wg.Add(1)
		go func(i int, item Item) {
			defer wg.Done()
			defer sem.Release(1)

			id, decision, err := p.checker.Check(item.Draft)
			if err != nil {
				results[i].Err = fmt.Errorf("line %d: %w", item.Line, err)
				p.logger.Error().Err(err).Int("line", item.Line).Str("scope", item.Draft.Scope).Msg("failed to check draft")
				return
			}

			results[i].CheckID = id
			results[i].Decision = decision
		}(i, item)
	}

	wg.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}

	return results, errors.Join(errs...)
}

// Run reads drafts from in, checks them, and writes the successful results to out.
// It returns the number of drafts processed.
func (p *Processor) Run(ctx context.Context, in io.Reader, out io.Writer) (int, error) {
	items, err := ReadDrafts(in, p.logger)
	if err != nil {
		return 0, err
	}

	results, procErr := p.Process(ctx, items)

	processed, err := WriteResults(out, results)
	if err != nil {
		return processed, err
	}

	p.logger.Info().Int("read", len(items)).Int("processed", processed).Msg("batch complete")
	return processed, procErr
}
