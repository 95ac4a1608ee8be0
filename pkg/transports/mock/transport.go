package mock

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/harunnryd/callbridge/pkg/frames"
	"github.com/harunnryd/callbridge/pkg/transports"
)

// Transport is an in-memory transport for local testing and integration.
// It implements transports.Transport without any network dependency.
type Transport struct {
	recvCh chan frames.Frame
	closed atomic.Bool
	mu     sync.Mutex
	sent   []frames.Frame
	notify chan struct{}
	// SendErr, when set, is returned from every Send.
	SendErr error
}

func New() *Transport {
	return &Transport{
		recvCh: make(chan frames.Frame, 256),
		notify: make(chan struct{}, 1),
	}
}

func (t *Transport) Name() string { return "mock" }

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	return nil
}

func (t *Transport) Stop() error {
	if t.closed.CompareAndSwap(false, true) {
		t.mu.Lock()
		close(t.recvCh)
		t.mu.Unlock()
	}
	return nil
}

func (t *Transport) Recv() <-chan frames.Frame { return t.recvCh }

func (t *Transport) Send(f frames.Frame) error {
	if t.closed.Load() {
		return nil
	}
	t.mu.Lock()
	t.sent = append(t.sent, f)
	t.mu.Unlock()
	select {
	case t.notify <- struct{}{}:
	default:
	}
	return t.SendErr
}

// Push injects an inbound frame into the transport.
func (t *Transport) Push(f frames.Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.Load() {
		return
	}
	select {
	case t.recvCh <- f:
	default:
	}
}

// Sent returns every outbound frame so far, in send order.
func (t *Transport) Sent() []frames.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]frames.Frame(nil), t.sent...)
}

// Updated is signalled after each Send.
func (t *Transport) Updated() <-chan struct{} { return t.notify }

var _ transports.Transport = (*Transport)(nil)
