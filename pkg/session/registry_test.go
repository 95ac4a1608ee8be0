package session

import (
	"context"
	"errors"
	"testing"
	"time"

	tmock "github.com/harunnryd/callbridge/pkg/transports/mock"
)

func testFactory(id Identity) (*Orchestrator, error) {
	return New(id, Config{ChunkDelay: -1}, Deps{Sender: tmock.New()}), nil
}

func TestRegistryGetOrCreate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := NewRegistry(testFactory)

	a, created, err := r.GetOrCreate(ctx, Identity{StreamID: "MZ1", CallSID: "CA1"})
	if err != nil || !created {
		t.Fatalf("expected creation, created=%v err=%v", created, err)
	}
	b, created, err := r.GetOrCreate(ctx, Identity{StreamID: "MZ1"})
	if err != nil || created || a != b {
		t.Fatalf("expected existing orchestrator")
	}
	if r.Count() != 1 {
		t.Fatalf("expected 1 session, got %d", r.Count())
	}
	if got, ok := r.Get("MZ1"); !ok || got != a {
		t.Fatalf("expected Get to find the session")
	}
	if a.Identity().CallSID != "CA1" {
		t.Fatalf("expected identity to be kept")
	}

	r.Remove("MZ1")
	waitFor(t, "removal", func() bool { return r.Count() == 0 })
	if _, ok := r.Get("MZ1"); ok {
		t.Fatalf("expected session to be gone")
	}
}

func TestRegistryRejectsMissingStreamID(t *testing.T) {
	r := NewRegistry(testFactory)
	if _, _, err := r.GetOrCreate(context.Background(), Identity{}); !errors.Is(err, ErrMissingStreamID) {
		t.Fatalf("expected ErrMissingStreamID, got %v", err)
	}
}

func TestRegistryDrainingRefusesNewCalls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := NewRegistry(testFactory)
	if _, _, err := r.GetOrCreate(ctx, Identity{StreamID: "MZ1"}); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	r.SetDraining(true)
	if _, _, err := r.GetOrCreate(ctx, Identity{StreamID: "MZ2"}); !errors.Is(err, ErrDraining) {
		t.Fatalf("expected ErrDraining, got %v", err)
	}
	if _, created, err := r.GetOrCreate(ctx, Identity{StreamID: "MZ1"}); err != nil || created {
		t.Fatalf("existing calls stay reachable while draining")
	}

	wctx, wcancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer wcancel()
	if r.WaitForEmpty(wctx, 10*time.Millisecond) {
		t.Fatalf("expected wait to time out with a live call")
	}
	r.CloseAll()
	wctx2, wcancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer wcancel2()
	if !r.WaitForEmpty(wctx2, 10*time.Millisecond) {
		t.Fatalf("expected registry to empty after CloseAll")
	}
}

func TestRegistryFactoryError(t *testing.T) {
	boom := errors.New("boom")
	r := NewRegistry(func(Identity) (*Orchestrator, error) { return nil, boom })
	if _, _, err := r.GetOrCreate(context.Background(), Identity{StreamID: "MZ1"}); !errors.Is(err, boom) {
		t.Fatalf("expected factory error, got %v", err)
	}
	if r.Count() != 0 {
		t.Fatalf("expected no session")
	}
}
