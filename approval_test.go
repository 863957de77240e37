package jimi

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

// resolveApprovals answers every approval request on the bus with d and
// returns a counter of how many were seen.
func resolveApprovals(t *testing.T, bus *Wire, d ApprovalDecision) func() int {
	t.Helper()
	sub := bus.Subscribe()
	var n atomic.Int32
	go func() {
		for ev := range sub.C {
			if ev.Type == EventApprovalRequest {
				n.Add(1)
				ev.Approval.Resolve(d)
			}
		}
	}()
	t.Cleanup(sub.Close)
	return func() int { return int(n.Load()) }
}

func TestApprovalYoloShortCircuits(t *testing.T) {
	bus := NewWire()
	defer bus.Close()
	a := NewApproval(bus, ApprovalYolo(true))
	// No resolver attached: would hang if an event were published.
	if d := a.Request(context.Background(), "Bash", ActionExec, "rm file"); d != Approve {
		t.Fatalf("got %v", d)
	}
}

func TestApprovalRejectFlowsThrough(t *testing.T) {
	bus := NewWire()
	defer bus.Close()
	a := NewApproval(bus)
	resolveApprovals(t, bus, Reject)
	if d := a.Request(context.Background(), "Bash", ActionExec, "rm file"); d != Reject {
		t.Fatalf("got %v", d)
	}
}

// Session-approval memoization: after ApproveForSession, identical
// requests approve without publishing another event.
func TestApprovalSessionMemoization(t *testing.T) {
	bus := NewWire()
	defer bus.Close()
	a := NewApproval(bus)
	seen := resolveApprovals(t, bus, ApproveForSession)

	if d := a.Request(context.Background(), "WriteFile", ActionEdit, "write a.txt"); d != Approve {
		t.Fatalf("first request: got %v", d)
	}
	for i := 0; i < 3; i++ {
		if d := a.Request(context.Background(), "WriteFile", ActionEdit, "write b.txt"); d != Approve {
			t.Fatalf("memoized request: got %v", d)
		}
	}
	if n := seen(); n != 1 {
		t.Fatalf("published %d approval events, want 1", n)
	}

	// A different (scope, action) pair prompts again.
	if d := a.Request(context.Background(), "Bash", ActionExec, "ls"); d != Approve {
		t.Fatalf("new scope: got %v", d)
	}
	waitFor(t, time.Second, func() bool { return seen() == 2 }, "second approval event")
}

func TestApprovalCancelledContextRejects(t *testing.T) {
	bus := NewWire()
	defer bus.Close()
	a := NewApproval(bus)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if d := a.Request(ctx, "Bash", ActionExec, "sleep"); d != Reject {
		t.Fatalf("got %v", d)
	}
}

func TestApprovalResolveIsOneShot(t *testing.T) {
	req := &ApprovalRequest{ch: make(chan ApprovalDecision, 1)}
	req.Resolve(Approve)
	req.Resolve(Reject) // ignored
	if d := <-req.ch; d != Approve {
		t.Fatalf("got %v", d)
	}
}
