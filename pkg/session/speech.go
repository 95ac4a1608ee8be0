package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/harunnryd/callbridge/pkg/audio"
	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/frames"
)

// speak is the call's single speech worker. Utterances are played one at a
// time, so outbound audio for one call is never interleaved.
func (o *Orchestrator) speak(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-o.speech:
			o.play(job)
		}
	}
}

// play clears the caller's playback buffer, streams the utterance and ends
// with the end-of-speech mark. The synthesis channel is always drained; once
// the job is cancelled nothing more reaches the transport.
func (o *Orchestrator) play(job speechJob) {
	start := time.Now()
	o.send(job.ctx, frames.NewControlFrame(o.id.StreamID, o.pts.Next(o.id.StreamID), frames.ControlClear, o.meta(nil)))

	if o.deps.Synthesizer == nil {
		o.logger.Error("speech_unavailable")
		o.send(job.ctx, o.markFrame())
		return
	}

	sent := 0
	marked := false
	for c := range o.deps.Synthesizer.Synthesize(job.ctx, job.text) {
		if job.ctx.Err() != nil {
			continue
		}
		if c.EndOfSpeech {
			if !marked {
				marked = true
				o.send(job.ctx, o.markFrame())
			}
			continue
		}
		o.send(job.ctx, frames.NewAudioFrame(o.id.StreamID, o.pts.Next(o.id.StreamID), c.Data, audio.TransportSampleRate, 1, o.meta(nil)))
		sent++
		o.pace(job.ctx)
	}

	if job.ctx.Err() != nil {
		o.logger.Debug("speech_superseded", slog.Int("chunks_sent", sent))
		return
	}
	o.logger.Info("speech_finished",
		slog.Int("chunks_sent", sent),
		slog.Int("text_chars", len([]rune(job.text))),
		slog.Duration("elapsed", time.Since(start)))
}

func (o *Orchestrator) pace(ctx context.Context) {
	if o.cfg.ChunkDelay <= 0 {
		return
	}
	t := time.NewTimer(o.cfg.ChunkDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (o *Orchestrator) markFrame() frames.ControlFrame {
	return frames.NewControlFrame(o.id.StreamID, o.pts.Next(o.id.StreamID), frames.ControlMark,
		o.meta(map[string]string{frames.MetaMarkName: o.cfg.EndOfSpeechMark}))
}

func (o *Orchestrator) meta(extra map[string]string) map[string]string {
	m := map[string]string{
		frames.MetaSource: "session",
	}
	if o.id.CallSID != "" {
		m[frames.MetaCallSID] = o.id.CallSID
	}
	if o.id.TraceID != "" {
		m[frames.MetaTraceID] = o.id.TraceID
	}
	for k, v := range extra {
		m[k] = v
	}
	return m
}

// send checks the call is still alive before every write.
func (o *Orchestrator) send(ctx context.Context, f frames.Frame) {
	if ctx.Err() != nil || o.deps.Sender == nil {
		return
	}
	if err := o.deps.Sender.Send(f); err != nil {
		o.logger.Warn("transport_send_failed",
			slog.String("reason", string(errorsx.ReasonTransportSend)),
			slog.String("error", err.Error()))
	}
}
