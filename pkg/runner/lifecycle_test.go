package runner

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestLifecycleRunsHooksAndDrains(t *testing.T) {
	var started, stopped, drained atomic.Int32
	r := NewLifecycleRunner(DrainerFunc(func() error {
		drained.Add(1)
		return nil
	}), Hooks{
		OnStart: func() { started.Add(1) },
		OnStop:  func() { stopped.Add(1) },
	}, time.Second)
	r.SetBanner(false)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for r.State() != StateRunning {
		if time.Now().After(deadline) {
			t.Fatalf("runner never reached running, state %s", r.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if started.Load() != 1 || stopped.Load() != 1 || drained.Load() != 1 {
		t.Fatalf("unexpected hook counts start=%d stop=%d drain=%d", started.Load(), stopped.Load(), drained.Load())
	}
	if r.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", r.State())
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if drained.Load() != 1 {
		t.Fatalf("drain must run once")
	}
}

func TestLifecycleStopWakesRun(t *testing.T) {
	r := NewLifecycleRunner(nil, Hooks{}, time.Second)
	r.SetBanner(false)
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-errCh:
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after Stop")
	}
	if err := r.Run(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestLifecycleDrainTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	r := NewLifecycleRunner(DrainerFunc(func() error {
		<-block
		return nil
	}), Hooks{}, 20*time.Millisecond)
	r.SetBanner(false)
	if err := r.Stop(); !errors.Is(err, ErrDrainTimeout) {
		t.Fatalf("expected drain timeout, got %v", err)
	}
}

func TestBannerCarriesVersion(t *testing.T) {
	var buf bytes.Buffer
	printBanner(&buf)
	if !strings.Contains(buf.String(), "Version: "+Version) {
		t.Fatalf("banner missing version: %q", buf.String())
	}
}
