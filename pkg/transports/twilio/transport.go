// Package twilio implements the Twilio Media Streams transport: the TwiML
// webhook that connects a call, the bidirectional media websocket and the
// status callback.
package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/harunnryd/callbridge/pkg/audio"
	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/frames"
	"github.com/harunnryd/callbridge/pkg/logging"
	"github.com/harunnryd/callbridge/pkg/metrics"
	"github.com/harunnryd/callbridge/pkg/transports"
)

var (
	errSendBufferFull = errors.New("twilio: send buffer full")
	errStreamClosed   = errors.New("twilio: stream closed")
)

type route struct {
	pattern string
	handler http.Handler
}

type Transport struct {
	cfg      Config
	server   *http.Server
	upgrader websocket.Upgrader
	logger   *slog.Logger
	obs      metrics.Observer
	routes   []route

	recvMu sync.RWMutex
	recvCh chan frames.Frame
	done   chan struct{}
	closed bool

	mu          sync.Mutex
	streams     map[string]*stream
	callStreams map[string]string

	draining atomic.Bool
	stopOnce sync.Once
}

func New(cfg Config) *Transport {
	cfg = cfg.withDefaults()
	t := &Transport{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger:      logging.NewComponentLogger(slog.Default(), "twilio"),
		obs:         metrics.NoopObserver{},
		recvCh:      make(chan frames.Frame, 512),
		done:        make(chan struct{}),
		streams:     make(map[string]*stream),
		callStreams: make(map[string]string),
	}
	t.upgrader.CheckOrigin = t.checkOrigin
	return t
}

func (t *Transport) Name() string { return "twilio" }

func (t *Transport) Recv() <-chan frames.Frame { return t.recvCh }

// SetObserver records transport-level events such as malformed frames.
func (t *Transport) SetObserver(obs metrics.Observer) {
	if obs != nil {
		t.obs = obs
	}
}

// SetLogger replaces the component logger.
func (t *Transport) SetLogger(l *slog.Logger) {
	if l != nil {
		t.logger = logging.NewComponentLogger(l, "twilio")
	}
}

// Handle mounts an extra handler on the transport's server. Call before Start.
func (t *Transport) Handle(pattern string, h http.Handler) {
	t.routes = append(t.routes, route{pattern: pattern, handler: h})
}

func (t *Transport) ReadyFields() map[string]any {
	return map[string]any{
		"webhook_url":         t.cfg.httpURL(t.cfg.VoicePath),
		"status_callback_url": t.cfg.httpURL(t.cfg.StatusCallbackPath),
		"stream_url":          t.streamURL(nil),
	}
}

// Handler returns the transport's routes without starting a server.
func (t *Transport) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(t.cfg.VoicePath, t.handleVoice)
	mux.Handle(t.cfg.WebsocketPath, t)
	mux.HandleFunc(t.cfg.StatusCallbackPath, t.handleStatusCallback)
	mux.HandleFunc(t.cfg.HealthPath, t.handleHealth)
	for _, r := range t.routes {
		mux.Handle(r.pattern, r.handler)
	}
	return mux
}

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	t.server = &http.Server{
		Addr:              t.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           t.Handler(),
	}
	go func() {
		<-ctx.Done()
		_ = t.server.Close()
	}()
	go func() {
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("twilio_transport_server_error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

func (t *Transport) Stop() error {
	t.stopOnce.Do(func() {
		t.draining.Store(true)
		if t.server != nil {
			_ = t.server.Close()
		}
		t.mu.Lock()
		for _, s := range t.streams {
			s.close()
		}
		t.streams = make(map[string]*stream)
		t.callStreams = make(map[string]string)
		t.mu.Unlock()

		close(t.done)
		t.recvMu.Lock()
		t.closed = true
		close(t.recvCh)
		t.recvMu.Unlock()
	})
	return nil
}

// SetDraining refuses new media connections while existing calls finish.
func (t *Transport) SetDraining(v bool) { t.draining.Store(v) }

// Send writes an outbound frame to its stream. Frames for unknown or closed
// streams are discarded.
func (t *Transport) Send(f frames.Frame) error {
	streamID := frames.StreamID(f)
	s := t.stream(streamID)
	if s == nil {
		return nil
	}
	switch v := f.(type) {
	case frames.AudioFrame:
		data := v.RawPayload()
		if len(data) == 0 {
			return nil
		}
		return s.enqueue(outboundMedia{Event: "media", StreamID: streamID, Media: mediaPayload{Payload: audio.EncodePayload(data)}})
	case frames.ControlFrame:
		switch v.Code() {
		case frames.ControlClear:
			return s.enqueue(outboundClear{Event: "clear", StreamID: streamID})
		case frames.ControlMark:
			name := v.Meta()[frames.MetaMarkName]
			if name == "" {
				return nil
			}
			return s.enqueue(outboundMark{Event: "mark", StreamID: streamID, Mark: StreamMark{Name: name}})
		}
	}
	return nil
}

// ServeHTTP upgrades the media websocket and turns stream events into frames.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var cur *stream
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var evt StreamEvent
		if err := json.Unmarshal(msg, &evt); err != nil {
			t.malformed("decode", err)
			continue
		}
		switch evt.Event {
		case "connected":
			t.logger.Debug("twilio_stream_connected", slog.String("protocol", evt.Protocol))
		case "start":
			if evt.Start == nil || evt.Start.StreamID == "" {
				t.malformed("start", errors.New("missing start payload"))
				continue
			}
			cur = t.handleStart(evt.Start, conn)
		case "media":
			if cur == nil {
				t.malformed("media", errors.New("media before start"))
				continue
			}
			if evt.Media == nil {
				t.malformed("media", errors.New("missing media payload"))
				continue
			}
			payload, err := audio.DecodePayload(evt.Media.Payload)
			if err != nil {
				t.malformed("media", err)
				continue
			}
			if evt.Media.Track != "" && evt.Media.Track != "inbound" {
				continue
			}
			af := frames.NewAudioFrame(cur.id, time.Now().UnixNano(), payload, cur.sampleRate, 1, cur.meta())
			t.emit(af, false)
		case "mark":
			if cur == nil || evt.Mark == nil {
				t.malformed("mark", errors.New("missing mark payload"))
				continue
			}
			meta := cur.meta()
			meta[frames.MetaMarkName] = evt.Mark.Name
			t.emit(frames.NewControlFrame(cur.id, time.Now().UnixNano(), frames.ControlMark, meta), true)
		case "stop":
			if cur == nil {
				return
			}
			t.endCall(cur.id, "completed")
			return
		case "dtmf":
			// not used by the bridge
		default:
			t.logger.Debug("twilio_unknown_event", slog.String("event", evt.Event))
		}
	}
	if cur != nil {
		t.endCall(cur.id, "transport_closed")
	}
}

func (t *Transport) handleStart(st *StreamStart, conn *websocket.Conn) *stream {
	rate := st.MediaFormat.SampleRate
	if rate <= 0 {
		rate = audio.TransportSampleRate
	}
	s := newStream(st.StreamID, st.CallSID, uuid.NewString(), st.CustomParameters["from"], rate, conn, t.cfg.SendBuffer)
	if old := t.attach(s); old != nil {
		t.logger.Info("twilio_stream_replaced", slog.String("old_stream_id", old.id), slog.String("stream_id", s.id))
		t.emit(frames.NewSystemFrame(old.id, time.Now().UnixNano(), frames.SystemCallEnd, withReason(old.meta(), "replaced")), true)
		old.close()
	}
	meta := s.meta()
	meta[frames.MetaEncoding] = encodingName(st.MediaFormat.Encoding)
	meta[frames.MetaSampleRate] = strconv.Itoa(rate)
	meta[frames.MetaSource] = "transport"
	if to := st.CustomParameters["to"]; to != "" {
		meta[frames.MetaToNumber] = to
	}
	logging.WithCall(t.logger, s.id, s.callSID, s.traceID).Info("twilio_stream_started",
		slog.String("encoding", meta[frames.MetaEncoding]),
		slog.Int("sample_rate", rate))
	t.emit(frames.NewSystemFrame(s.id, time.Now().UnixNano(), frames.SystemCallStart, meta), true)
	return s
}

// endCall emits call_end once per stream and releases it.
func (t *Transport) endCall(streamID, reason string) {
	s := t.detach(streamID)
	if s == nil {
		return
	}
	t.emit(frames.NewSystemFrame(streamID, time.Now().UnixNano(), frames.SystemCallEnd, withReason(s.meta(), normalizeCallEndReason(reason))), true)
	s.close()
}

func withReason(meta map[string]string, reason string) map[string]string {
	if reason == "" {
		reason = "completed"
	}
	meta[frames.MetaCallEndReason] = reason
	return meta
}

func (t *Transport) malformed(event string, err error) {
	t.logger.Warn("transport_malformed",
		slog.String("event", event),
		slog.String("reason_code", string(errorsx.ReasonTransportMalformed)),
		slog.String("error", err.Error()))
	metrics.Record(t.obs, metrics.EventTransportMalformed, 1, map[string]string{"event": event})
}

// emit forwards a frame to Recv. Audio is dropped when the channel is full;
// control and system frames wait until the transport stops.
func (t *Transport) emit(f frames.Frame, wait bool) {
	t.recvMu.RLock()
	defer t.recvMu.RUnlock()
	if t.closed {
		return
	}
	if !wait {
		select {
		case t.recvCh <- f:
		default:
		}
		return
	}
	select {
	case t.recvCh <- f:
	case <-t.done:
	}
}

func (t *Transport) attach(s *stream) *stream {
	t.mu.Lock()
	var old *stream
	if s.callSID != "" {
		if existing := t.callStreams[s.callSID]; existing != "" && existing != s.id {
			old = t.streams[existing]
			delete(t.streams, existing)
		}
		t.callStreams[s.callSID] = s.id
	}
	t.streams[s.id] = s
	t.mu.Unlock()
	go s.loop(t.logger)
	return old
}

func (t *Transport) detach(streamID string) *stream {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.streams[streamID]
	if s == nil {
		return nil
	}
	delete(t.streams, streamID)
	if s.callSID != "" && t.callStreams[s.callSID] == streamID {
		delete(t.callStreams, s.callSID)
	}
	return s
}

func (t *Transport) stream(streamID string) *stream {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.streams[streamID]
}

func (t *Transport) streamForCall(callSID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.callStreams[callSID]
}

// ActiveStreams reports the number of connected media streams.
func (t *Transport) ActiveStreams() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.streams)
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range t.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

func encodingName(raw string) string {
	switch strings.ToLower(raw) {
	case "", "audio/x-mulaw":
		return string(audio.EncodingMuLaw)
	default:
		return raw
	}
}

func normalizeCallEndReason(raw string) string {
	r := strings.ToLower(strings.TrimSpace(raw))
	if r == "" {
		return ""
	}
	switch r {
	case "queued", "ringing", "in-progress", "inprogress":
		return ""
	case "completed", "call_ended", "call-ended", "completed_by_user", "hangup":
		return "completed"
	case "busy":
		return "busy"
	case "no_answer", "noanswer", "no-answer":
		return "no_answer"
	case "failed", "error", "canceled", "cancelled":
		return "failed"
	case "transport_closed":
		return "transport_closed"
	case "replaced":
		return "replaced"
	default:
		return "unknown"
	}
}

var _ transports.Transport = (*Transport)(nil)
var _ transports.RouteMounter = (*Transport)(nil)
