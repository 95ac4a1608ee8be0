package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonTransportMalformed        ReasonCode = "transport_malformed"
	ReasonTransportSend             ReasonCode = "transport_send"
	ReasonTransportInvalidSignature ReasonCode = "webhook_invalid_signature"
	ReasonTransportDial             ReasonCode = "transport_dial"

	ReasonSTTConnect  ReasonCode = "stt_connect"
	ReasonSTTSend     ReasonCode = "stt_send"
	ReasonSTTStream   ReasonCode = "stt_stream"
	ReasonSTTReopen   ReasonCode = "stt_reopen"
	ReasonSTTDisabled ReasonCode = "stt_disabled"

	ReasonLLMGenerate    ReasonCode = "llm_generate"
	ReasonLLMTimeout     ReasonCode = "llm_timeout"
	ReasonLLMEmpty       ReasonCode = "llm_empty"
	ReasonLLMRateLimit   ReasonCode = "llm_rate_limit"
	ReasonLLMCircuitOpen ReasonCode = "llm_circuit_open"

	ReasonTTSConnect   ReasonCode = "tts_connect"
	ReasonTTSStream    ReasonCode = "tts_stream"
	ReasonTTSRateLimit ReasonCode = "tts_rate_limit"
	ReasonTTSExhausted ReasonCode = "tts_exhausted"
)
