package transports

import (
	"context"
	"net/http"

	"github.com/harunnryd/callbridge/pkg/frames"
)

// Sender delivers outbound frames (media, clear, mark) to one call's stream.
type Sender interface {
	Send(frames.Frame) error
}

// Transport defines a vendor-agnostic I/O boundary for audio and control frames.
// Implementations are responsible for their own network lifecycle.
type Transport interface {
	Sender
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Recv() <-chan frames.Frame
}

// OutboundDialer allows transports to initiate outbound calls.
type OutboundDialer interface {
	Dial(ctx context.Context, to, from, url string) (callSID string, err error)
}

// DialOptions carries optional outbound dial settings.
type DialOptions struct {
	SendDigits     string
	StatusCallback string
}

// OutboundDialerWithOptions extends dialing with optional parameters.
type OutboundDialerWithOptions interface {
	DialWithOptions(ctx context.Context, to, from, url string, opts DialOptions) (callSID string, err error)
}

// RouteMounter lets the engine attach extra HTTP handlers (metrics) to the
// transport's server. Must be called before Start.
type RouteMounter interface {
	Handle(pattern string, h http.Handler)
}

// ReadyReporter allows transports to expose readiness metadata (e.g., webhook URLs).
// Implementations are optional and used for informational logging only.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
