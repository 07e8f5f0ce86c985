package protocol

import "time"

// BeepRequest asks a node to play or render a tone, Morse text or a line
// of music notation.
type BeepRequest struct {
	SessionID  string  `json:"session_id"`
	Mode       string  `json:"mode"` // tone, morse, music
	Text       string  `json:"text,omitempty"`
	Frequency  float64 `json:"frequency,omitempty"`
	DurationMS float64 `json:"duration_ms,omitempty"`
	GapMS      float64 `json:"gap_ms,omitempty"`
	Repeats    int     `json:"repeats,omitempty"`
	Output     string  `json:"output,omitempty"` // device (default) or wav
}

// AudioChunk carries part of a rendered WAV file.
type AudioChunk struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	WAV        []byte `json:"wav"`
	Final      bool   `json:"final"`
}

// BeepStatus reports the outcome of a request.
type BeepStatus struct {
	SessionID  string    `json:"session_id"`
	Completed  bool      `json:"completed"`
	Error      string    `json:"error,omitempty"`
	Samples    int       `json:"samples,omitempty"`
	DurationMS float64   `json:"duration_ms,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	OutputDevice = "device"
	OutputWAV    = "wav"
)

const (
	SubjectBeepRequest = "beep.request"
	SubjectBeepAudio   = "beep.audio"
	SubjectBeepDone    = "beep.done"

	SubjectNodeAnnounce        = "ctrl.node.announce"
	SubjectNodeHeartbeatPrefix = "ctrl.node.heartbeat"
)
