// internal/resolve/resolver.go
package resolve

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Agent is the minimal interactive surface the resolver drives. The concrete
// implementation is a browser tab; tests substitute a fake.
type Agent interface {
	// Type fills the element matched by the selector with text.
	Type(ctx context.Context, selector, text string) error
	// Click activates the element matched by the selector.
	Click(ctx context.Context, selector string) error
}

// Action identifies what to do with a resolved element.
type Action int

const (
	// ActionType fills the target with the candidate's Text.
	ActionType Action = iota
	// ActionClick activates the target.
	ActionClick
)

// Candidate pairs a locator with the action to perform once it resolves.
// The concrete structure of the target UI is not known in advance, so callers
// supply an ordered list: specific selectors first, generic ones last.
type Candidate struct {
	Selector string
	Action   Action
	Text     string
}

// ErrNoCandidate reports that no candidate in the list could be acted on.
var ErrNoCandidate = errors.New("no candidate selector matched")

// Resolver attempts candidates in order against an interactive agent.
type Resolver struct {
	agent Agent
	log   *zap.Logger
}

// New creates a Resolver bound to the given agent.
func New(agent Agent, logger *zap.Logger) *Resolver {
	return &Resolver{agent: agent, log: logger.Named("resolve")}
}

// First performs the first candidate whose action succeeds and returns it.
// Each candidate is attempted at most once; after a success no further
// candidates are touched, so exactly one action lands on the page (or zero on
// total failure). If the page state changes afterwards, call again with a
// fresh list.
func (r *Resolver) First(ctx context.Context, candidates []Candidate) (Candidate, error) {
	if len(candidates) == 0 {
		return Candidate{}, fmt.Errorf("empty candidate list: %w", ErrNoCandidate)
	}

	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return Candidate{}, err
		}

		var err error
		switch c.Action {
		case ActionClick:
			err = r.agent.Click(ctx, c.Selector)
		default:
			err = r.agent.Type(ctx, c.Selector, c.Text)
		}

		if err == nil {
			r.log.Debug("Candidate resolved",
				zap.String("selector", c.Selector),
				zap.Int("attempt", i+1))
			return c, nil
		}
		r.log.Debug("Candidate failed, trying next",
			zap.String("selector", c.Selector),
			zap.Error(err))
	}

	return Candidate{}, fmt.Errorf("tried %d candidates: %w", len(candidates), ErrNoCandidate)
}

// TypeInto tries each selector in order until one accepts the text.
func (r *Resolver) TypeInto(ctx context.Context, selectors []string, text string) (Candidate, error) {
	candidates := make([]Candidate, len(selectors))
	for i, sel := range selectors {
		candidates[i] = Candidate{Selector: sel, Action: ActionType, Text: text}
	}
	return r.First(ctx, candidates)
}

// ClickAny tries each selector in order until one accepts the click.
func (r *Resolver) ClickAny(ctx context.Context, selectors []string) (Candidate, error) {
	candidates := make([]Candidate, len(selectors))
	for i, sel := range selectors {
		candidates[i] = Candidate{Selector: sel, Action: ActionClick}
	}
	return r.First(ctx, candidates)
}
