package delegation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fluxorch/engine/internal/enginerr"
	"github.com/fluxorch/engine/internal/events"
	"github.com/fluxorch/engine/pkg/models"
)

func TestCoordinator_Delegate_SpawnsAndResolves(t *testing.T) {
	var spawnCalls int32
	c := New(func(ctx context.Context, req SpawnRequest) (string, error) {
		atomic.AddInt32(&spawnCalls, 1)
		return "child-1", nil
	}, nil, nil)

	var key models.DelegationKey
	go func() {
		time.Sleep(10 * time.Millisecond)
		key = models.DelegationKey{
			ParentExecutionID:      "parent-1",
			SourceAgentID:          "supervisor",
			TargetAgentCanonicalID: "specialist",
			TaskHash:               models.HashTask("do the thing"),
		}
		c.Resolve(key, &models.ExecutionResult{ExecutionID: "child-1", Status: models.StatusCompleted})
	}()

	result, err := c.Delegate(context.Background(), "parent-1", "supervisor", "specialist", "do the thing", 0)
	if err != nil {
		t.Fatalf("Delegate() error = %v", err)
	}
	if result == nil || result.Status != models.StatusCompleted {
		t.Fatalf("result = %+v, want completed", result)
	}
	if atomic.LoadInt32(&spawnCalls) != 1 {
		t.Fatalf("spawnCalls = %d, want 1", spawnCalls)
	}
}

func TestCoordinator_Delegate_SingleFlightDedup(t *testing.T) {
	var spawnCalls int32
	spawned := make(chan struct{})
	c := New(func(ctx context.Context, req SpawnRequest) (string, error) {
		atomic.AddInt32(&spawnCalls, 1)
		close(spawned)
		return "child-1", nil
	}, nil, nil)

	var wg sync.WaitGroup
	results := make([]*models.ExecutionResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			r, err := c.Delegate(context.Background(), "parent-1", "supervisor", "specialist", "same task", 0)
			results[idx] = r
			errs[idx] = err
		}(i)
	}

	<-spawned
	// Give the second caller a chance to arrive and dedupe onto the same
	// pending entry before resolving.
	time.Sleep(10 * time.Millisecond)
	c.Resolve(models.DelegationKey{
		ParentExecutionID:      "parent-1",
		SourceAgentID:          "supervisor",
		TargetAgentCanonicalID: "specialist",
		TaskHash:               models.HashTask("same task"),
	}, &models.ExecutionResult{ExecutionID: "child-1", Status: models.StatusCompleted})

	wg.Wait()

	if atomic.LoadInt32(&spawnCalls) != 1 {
		t.Fatalf("spawnCalls = %d, want exactly 1 (single-flight)", spawnCalls)
	}
	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d error = %v", i, err)
		}
	}
	for i, r := range results {
		if r == nil || r.ExecutionID != "child-1" {
			t.Errorf("caller %d result = %+v, want child-1", i, r)
		}
	}
}

func TestCoordinator_Delegate_DepthExceeded(t *testing.T) {
	c := New(func(ctx context.Context, req SpawnRequest) (string, error) {
		t.Fatal("spawn should not be called when depth is already at the limit")
		return "", nil
	}, nil, nil)

	_, err := c.Delegate(context.Background(), "parent-1", "supervisor", "specialist", "task", DefaultMaxDepth)
	if enginerr.KindOf(err) != models.ErrorKindDelegationDepth {
		t.Fatalf("KindOf(err) = %v, want delegation_depth_exceeded", enginerr.KindOf(err))
	}
}

func TestCoordinator_Canonicalize_ResolvesAlias(t *testing.T) {
	c := New(nil, map[string]string{"ami": "ami-creative"}, nil)

	if got := c.Canonicalize("ami"); got != "ami-creative" {
		t.Errorf("Canonicalize(ami) = %q, want ami-creative", got)
	}
	if got := c.Canonicalize("unaliased"); got != "unaliased" {
		t.Errorf("Canonicalize(unaliased) = %q, want unaliased", got)
	}
}

func TestCoordinator_Delegate_SpawnFailurePropagates(t *testing.T) {
	wantErr := enginerr.Classify(models.ErrorKindProviderUnavailable, "no capacity", nil)
	c := New(func(ctx context.Context, req SpawnRequest) (string, error) {
		return "", wantErr
	}, nil, nil)

	_, err := c.Delegate(context.Background(), "parent-1", "supervisor", "specialist", "task", 0)
	if err != wantErr {
		t.Fatalf("Delegate() error = %v, want %v", err, wantErr)
	}
	if c.InFlightCount() != 0 {
		t.Error("expected the in-flight entry to be cleaned up after a spawn failure")
	}
}

func TestCoordinator_Delegate_CtxCancelledWhileWaiting(t *testing.T) {
	c := New(func(ctx context.Context, req SpawnRequest) (string, error) {
		return "child-1", nil
	}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Delegate(ctx, "parent-1", "supervisor", "specialist", "task", 0)
	if enginerr.KindOf(err) != models.ErrorKindTimeout {
		t.Fatalf("KindOf(err) = %v, want timeout", enginerr.KindOf(err))
	}
}

func TestCoordinator_RelayProgress_EmitsOnParentStream(t *testing.T) {
	bus := events.New(nil)
	c := New(nil, nil, bus)

	sub := bus.Subscribe(events.Filter{EventKinds: []models.EventType{models.EventDelegationProgress}})
	defer sub.Close()

	c.RelayProgress(context.Background(), "parent-1", "specialist", "child-1", 42)

	select {
	case e := <-sub.Events():
		if e.Delegation == nil || e.Delegation.Progress != 42 || e.Delegation.ChildExecID != "child-1" {
			t.Errorf("event = %+v, want progress=42 child=child-1", e)
		}
		if e.ExecutionID != "parent-1" {
			t.Errorf("ExecutionID = %q, want parent-1 (relayed onto the parent's stream)", e.ExecutionID)
		}
	default:
		t.Fatal("expected a delegation.progress event")
	}
}
