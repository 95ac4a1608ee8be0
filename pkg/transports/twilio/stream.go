package twilio

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/callbridge/pkg/frames"
)

const writeTimeout = 5 * time.Second

// stream is one media websocket. Writes go through a single writer goroutine.
type stream struct {
	id         string
	callSID    string
	traceID    string
	from       string
	sampleRate int

	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
}

func newStream(id, callSID, traceID, from string, sampleRate int, conn *websocket.Conn, buffer int) *stream {
	return &stream{
		id:         id,
		callSID:    callSID,
		traceID:    traceID,
		from:       from,
		sampleRate: sampleRate,
		conn:       conn,
		sendCh:     make(chan []byte, buffer),
		done:       make(chan struct{}),
	}
}

func (s *stream) meta() map[string]string {
	m := map[string]string{frames.MetaStreamID: s.id}
	if s.callSID != "" {
		m[frames.MetaCallSID] = s.callSID
	}
	if s.traceID != "" {
		m[frames.MetaTraceID] = s.traceID
	}
	if s.from != "" {
		m[frames.MetaFromNumber] = s.from
	}
	return m
}

func (s *stream) enqueue(msg any) error {
	select {
	case <-s.done:
		return errStreamClosed
	default:
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case s.sendCh <- b:
		return nil
	case <-s.done:
		return errStreamClosed
	default:
		return errSendBufferFull
	}
}

func (s *stream) loop(logger *slog.Logger) {
	for {
		select {
		case <-s.done:
			return
		case b := <-s.sendCh:
			if s.conn == nil {
				continue
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				logger.Debug("twilio_write_failed", slog.String("stream_id", s.id), slog.String("error", err.Error()))
				s.close()
				return
			}
		}
	}
}

func (s *stream) close() {
	s.once.Do(func() {
		close(s.done)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}
