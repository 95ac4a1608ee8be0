package frames

// Metadata keys shared by transports and the session layer.
const (
	MetaStreamID      = "stream_id"
	MetaCallSID       = "call_sid"
	MetaTraceID       = "trace_id"
	MetaSource        = "source"
	MetaFromNumber    = "from_number"
	MetaToNumber      = "to_number"
	MetaEncoding      = "encoding"
	MetaSampleRate    = "sample_rate"
	MetaMarkName      = "mark_name"
	MetaCallEndReason = "call_end_reason"
)
