package twilio

// Inbound media stream messages. Only the fields the bridge uses are decoded.

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type StreamStart struct {
	AccountSID       string            `json:"accountSid"`
	CallSID          string            `json:"callSid"`
	StreamID         string            `json:"streamSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
}

type StreamMedia struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"`
}

type StreamMark struct {
	Name string `json:"name"`
}

type StreamStop struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

type StreamEvent struct {
	Event          string       `json:"event"`
	SequenceNumber string       `json:"sequenceNumber,omitempty"`
	StreamID       string       `json:"streamSid,omitempty"`
	Protocol       string       `json:"protocol,omitempty"`
	Version        string       `json:"version,omitempty"`
	Start          *StreamStart `json:"start,omitempty"`
	Media          *StreamMedia `json:"media,omitempty"`
	Mark           *StreamMark  `json:"mark,omitempty"`
	Stop           *StreamStop  `json:"stop,omitempty"`
}

// Outbound messages.

type outboundMedia struct {
	Event    string       `json:"event"`
	StreamID string       `json:"streamSid"`
	Media    mediaPayload `json:"media"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

type outboundClear struct {
	Event    string `json:"event"`
	StreamID string `json:"streamSid"`
}

type outboundMark struct {
	Event    string     `json:"event"`
	StreamID string     `json:"streamSid"`
	Mark     StreamMark `json:"mark"`
}
