package twilio

import (
	"bytes"
	"encoding/xml"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/redact"
	twilioclient "github.com/twilio/twilio-go/client"
)

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlSay struct {
	Language string `xml:"language,attr,omitempty"`
	Text     string `xml:",chardata"`
}

type twimlResponse struct {
	XMLName xml.Name    `xml:"Response"`
	Say     *twimlSay   `xml:"Say,omitempty"`
	Stream  twimlStream `xml:"Connect>Stream"`
}

// handleVoice answers the incoming-call webhook with TwiML that connects the
// call to the media websocket.
func (t *Transport) handleVoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if t.cfg.AuthToken != "" && !t.validateTwilioRequest(r) {
		t.logger.Warn("twilio_invalid_signature", slog.String("reason_code", string(errorsx.ReasonTransportInvalidSignature)))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	_ = r.ParseForm()
	from := r.FormValue("From")
	to := r.FormValue("To")
	t.logger.Info("twilio_incoming_call",
		slog.String("call_sid", r.FormValue("CallSid")),
		slog.String("from", redact.Phone(from)))

	body, err := t.buildTwiML(r, from, to)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write(body)
}

func (t *Transport) buildTwiML(r *http.Request, from, to string) ([]byte, error) {
	resp := twimlResponse{Stream: twimlStream{URL: t.streamURL(r)}}
	if greeting := strings.TrimSpace(t.cfg.VoiceGreeting); greeting != "" {
		resp.Say = &twimlSay{Language: t.cfg.VoiceLanguage, Text: greeting}
	}
	if from != "" {
		resp.Stream.Parameters = append(resp.Stream.Parameters, twimlParameter{Name: "from", Value: from})
	}
	if to != "" {
		resp.Stream.Parameters = append(resp.Stream.Parameters, twimlParameter{Name: "to", Value: to})
	}
	out, err := xml.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

// handleStatusCallback maps terminal call statuses onto call_end.
func (t *Transport) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if t.cfg.AuthToken != "" && !t.validateTwilioRequest(r) {
		t.logger.Warn("twilio_status_invalid_signature", slog.String("reason_code", string(errorsx.ReasonTransportInvalidSignature)))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	callSID := r.FormValue("CallSid")
	reason := normalizeCallEndReason(r.FormValue("CallStatus"))
	if reason == "" || callSID == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	if streamID := t.streamForCall(callSID); streamID != "" {
		t.endCall(streamID, reason)
	}
	w.WriteHeader(http.StatusOK)
}

func (t *Transport) handleHealth(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("draining"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (t *Transport) streamURL(r *http.Request) string {
	if t.cfg.PublicURL != "" {
		return "wss://" + t.cfg.publicHost() + t.cfg.WebsocketPath
	}
	host := ""
	if r != nil {
		host = r.Host
	}
	if host == "" {
		host = strings.TrimPrefix(t.cfg.localBase(), "http://")
	}
	return "wss://" + host + t.cfg.WebsocketPath
}

func (t *Transport) validateTwilioRequest(r *http.Request) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" || t.cfg.AuthToken == "" {
		return false
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return false
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	validator := twilioclient.NewRequestValidator(t.cfg.AuthToken)
	return validator.ValidateBody(t.requestURL(r), body, signature)
}

func (t *Transport) requestURL(r *http.Request) string {
	if t.cfg.PublicURL != "" {
		return "https://" + t.cfg.publicHost() + r.URL.RequestURI()
	}
	scheme := r.URL.Scheme
	if scheme == "" {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		} else {
			scheme = "https"
		}
	}
	host := r.Host
	if host == "" {
		host = strings.TrimPrefix(t.cfg.ServerAddr, ":")
	}
	return scheme + "://" + host + r.URL.RequestURI()
}
