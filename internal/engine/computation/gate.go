// Package computation serializes typechecking runs and lets editors cancel
// the one that is in flight.
package computation

import (
	"context"
	"errors"
	"fmt"
	"semcache/internal/engine/naming"
	"semcache/internal/shared/observability"
	"sync"
)

// ErrCancelled is returned by Token.Checkpoint once the run was cancelled.
var ErrCancelled = errors.New("computation cancelled")

// CancelledError records what triggered a cancellation.
type CancelledError struct {
	Reason string
}

func (e *CancelledError) Error() string {
	if e.Reason == "" {
		return ErrCancelled.Error()
	}
	return fmt.Sprintf("%s by %s", ErrCancelled.Error(), e.Reason)
}

func (e *CancelledError) Is(target error) bool {
	return target == ErrCancelled
}

// Token is the cancellation handle of one running check.
type Token struct {
	target naming.RefID
	ctx    context.Context
	cancel context.CancelCauseFunc

	mu     sync.Mutex
	reason string
	done   bool
}

func (t *Token) Target() naming.RefID { return t.target }

// Context is cancelled with a *CancelledError cause when the token is.
func (t *Token) Context() context.Context { return t.ctx }

func (t *Token) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

func (t *Token) Reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// Checkpoint is polled by the elaborator at safe points.
func (t *Token) Checkpoint() error {
	t.mu.Lock()
	done, reason := t.done, t.reason
	t.mu.Unlock()
	if done {
		return &CancelledError{Reason: reason}
	}
	if err := context.Cause(t.ctx); err != nil {
		if errors.Is(err, ErrCancelled) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	return nil
}

// markCancelled reports whether this call did the cancelling. A later reason
// overwrites an earlier one.
func (t *Token) markCancelled(reason string) bool {
	t.mu.Lock()
	first := !t.done
	t.done = true
	t.reason = reason
	t.mu.Unlock()
	t.cancel(&CancelledError{Reason: reason})
	return first
}

// Gate holds at most one active token. Begin blocks until the previous run
// ended or was cancelled; the check-cancel-reset sequence runs under one lock.
type Gate struct {
	mu     sync.Mutex
	cond   *sync.Cond
	active *Token
}

func NewGate() *Gate {
	g := &Gate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Begin waits until no token is active and installs a fresh one for target.
// The token's context derives from ctx.
func (g *Gate) Begin(ctx context.Context, target naming.RefID) (*Token, error) {
	stop := context.AfterFunc(ctx, func() {
		g.mu.Lock()
		g.cond.Broadcast()
		g.mu.Unlock()
	})
	defer stop()

	g.mu.Lock()
	defer g.mu.Unlock()
	for g.active != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		g.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tctx, cancel := context.WithCancelCause(ctx)
	tok := &Token{target: target, ctx: tctx, cancel: cancel}
	g.active = tok
	return tok, nil
}

// End releases tok if it is still the active token.
func (g *Gate) End(tok *Token) {
	if tok == nil {
		return
	}
	g.mu.Lock()
	if g.active == tok {
		g.active = nil
		g.cond.Broadcast()
	}
	g.mu.Unlock()
	tok.cancel(nil)
}

func (g *Gate) IsSet() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active != nil
}

// Get returns the active token or nil.
func (g *Gate) Get() *Token {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// Reset drops the active token without cancelling it.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = nil
	g.cond.Broadcast()
}

// Cancel cancels the active token, records reason on it and resets the gate.
// It reports whether a token was active.
func (g *Gate) Cancel(reason string) bool {
	return g.CancelIf(nil, reason)
}

// CancelIf is Cancel restricted to an active token whose target satisfies
// match. A nil match cancels unconditionally.
func (g *Gate) CancelIf(match func(target naming.RefID) bool, reason string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	tok := g.active
	if tok == nil {
		return false
	}
	if match != nil && !match(tok.target) {
		return false
	}
	tok.markCancelled(reason)
	g.active = nil
	g.cond.Broadcast()
	observability.CancellationsTotal.Inc()
	return true
}
