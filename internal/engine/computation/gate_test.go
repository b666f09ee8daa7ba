package computation

import (
	"context"
	"errors"
	"semcache/internal/engine/naming"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGate_BeginEnd(t *testing.T) {
	g := NewGate()
	if g.IsSet() {
		t.Fatal("new gate must be empty")
	}
	tok, err := g.Begin(context.Background(), 7)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if !g.IsSet() || g.Get() != tok || tok.Target() != 7 {
		t.Fatal("expected token to be active")
	}
	if err := tok.Checkpoint(); err != nil {
		t.Fatalf("unexpected checkpoint error: %v", err)
	}
	g.End(tok)
	if g.IsSet() {
		t.Fatal("expected gate to be empty after End")
	}
}

func TestGate_CancelRecordsReasonAndResets(t *testing.T) {
	g := NewGate()
	tok, _ := g.Begin(context.Background(), 1)

	if !g.Cancel("Data.List.map") {
		t.Fatal("expected cancel to hit the active token")
	}
	if g.IsSet() {
		t.Fatal("cancel must reset the gate")
	}
	if !tok.Cancelled() || tok.Reason() != "Data.List.map" {
		t.Fatalf("unexpected token state cancelled=%v reason=%q", tok.Cancelled(), tok.Reason())
	}
	err := tok.Checkpoint()
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	var ce *CancelledError
	if !errors.As(context.Cause(tok.Context()), &ce) || ce.Reason != "Data.List.map" {
		t.Fatalf("expected cancel cause on the context, got %v", context.Cause(tok.Context()))
	}
	if g.Cancel("again") {
		t.Fatal("nothing is active, cancel must report false")
	}
}

func TestGate_CancelIfMatchesTarget(t *testing.T) {
	g := NewGate()
	tok, _ := g.Begin(context.Background(), 5)

	if g.CancelIf(func(target naming.RefID) bool { return target == 6 }, "other") {
		t.Fatal("non-matching target must not be cancelled")
	}
	if tok.Cancelled() {
		t.Fatal("token cancelled by a non-matching request")
	}
	if !g.CancelIf(func(target naming.RefID) bool { return target == 5 }, "edit") {
		t.Fatal("expected matching target to be cancelled")
	}
}

func TestGate_BeginWaitsForActiveToken(t *testing.T) {
	g := NewGate()
	first, _ := g.Begin(context.Background(), 1)

	started := make(chan struct{})
	var second *Token
	go func() {
		second, _ = g.Begin(context.Background(), 2)
		close(started)
	}()

	select {
	case <-started:
		t.Fatal("second Begin must wait for the first token")
	case <-time.After(50 * time.Millisecond):
	}
	g.End(first)
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("second Begin did not proceed after End")
	}
	if second == nil || second.Target() != 2 {
		t.Fatal("expected second token to be installed")
	}
}

func TestGate_BeginHonoursContext(t *testing.T) {
	g := NewGate()
	g.Begin(context.Background(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := g.Begin(ctx, 2); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestGate_ConcurrentCancellersLastWriterWins(t *testing.T) {
	g := NewGate()
	tok, _ := g.Begin(context.Background(), 1)

	var hits atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Cancel("edit") {
				hits.Add(1)
			}
		}()
	}
	wg.Wait()

	if hits.Load() != 1 {
		t.Fatalf("exactly one canceller must observe the active token, got %d", hits.Load())
	}
	if !tok.Cancelled() {
		t.Fatal("expected token to be cancelled")
	}
}
