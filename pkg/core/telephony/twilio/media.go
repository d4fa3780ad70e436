package twilio

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Media Streams event names.
const (
	StreamConnected = "connected"
	StreamStart     = "start"
	StreamMedia     = "media"
	StreamMark      = "mark"
	StreamStop      = "stop"
	StreamDTMF      = "dtmf"
	StreamClear     = "clear"
)

// StreamFrame is a Media Streams WebSocket message in either direction.
type StreamFrame struct {
	Event          string           `json:"event"`
	SequenceNumber string           `json:"sequenceNumber,omitempty"`
	StreamSID      string           `json:"streamSid,omitempty"`
	Start          *StreamStartInfo `json:"start,omitempty"`
	Media          *StreamMediaInfo `json:"media,omitempty"`
	Mark           *StreamMarkInfo  `json:"mark,omitempty"`
	Stop           *StreamStopInfo  `json:"stop,omitempty"`
	DTMF           *StreamDTMFInfo  `json:"dtmf,omitempty"`
}

type StreamStartInfo struct {
	StreamSID        string            `json:"streamSid"`
	AccountSID       string            `json:"accountSid"`
	CallSID          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type StreamMediaInfo struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	// Payload is base64 μ-law 8 kHz mono audio.
	Payload string `json:"payload"`
}

type StreamMarkInfo struct {
	Name string `json:"name"`
}

type StreamStopInfo struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

type StreamDTMFInfo struct {
	Track string `json:"track"`
	Digit string `json:"digit"`
}

func DecodeStreamFrame(data []byte) (StreamFrame, error) {
	var f StreamFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return StreamFrame{}, fmt.Errorf("decode stream frame: %w", err)
	}
	if f.Event == "" {
		return StreamFrame{}, fmt.Errorf("decode stream frame: missing event")
	}
	switch f.Event {
	case StreamStart:
		if f.Start == nil {
			return StreamFrame{}, fmt.Errorf("decode stream frame: start without payload")
		}
		if f.StreamSID == "" {
			f.StreamSID = f.Start.StreamSID
		}
	case StreamMedia:
		if f.Media == nil {
			return StreamFrame{}, fmt.Errorf("decode stream frame: media without payload")
		}
	}
	return f, nil
}

// Audio decodes the μ-law payload.
func (m *StreamMediaInfo) Audio() ([]byte, error) {
	if m == nil || m.Payload == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(m.Payload)
}

func MediaFrame(streamSID string, ulaw []byte) StreamFrame {
	return StreamFrame{
		Event:     StreamMedia,
		StreamSID: streamSID,
		Media:     &StreamMediaInfo{Payload: base64.StdEncoding.EncodeToString(ulaw)},
	}
}

// ClearFrame flushes audio Twilio has buffered but not yet played.
func ClearFrame(streamSID string) StreamFrame {
	return StreamFrame{Event: StreamClear, StreamSID: streamSID}
}

func MarkFrame(streamSID, name string) StreamFrame {
	return StreamFrame{Event: StreamMark, StreamSID: streamSID, Mark: &StreamMarkInfo{Name: name}}
}
