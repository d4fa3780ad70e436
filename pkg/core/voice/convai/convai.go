// Package convai is a client for the ElevenLabs Conversational AI WebSocket.
package convai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const DefaultWSURL = "wss://api.elevenlabs.io/v1/convai/conversation"

// Server message types.
const (
	TypeInitiationMetadata      = "conversation_initiation_metadata"
	TypeAudio                   = "audio"
	TypeUserTranscript          = "user_transcript"
	TypeAgentResponse           = "agent_response"
	TypeAgentResponseCorrection = "agent_response_correction"
	TypeInterruption            = "interruption"
	TypePing                    = "ping"
)

type Config struct {
	APIKey  string
	AgentID string
	// WSURL overrides DefaultWSURL; agent_id is added as a query parameter.
	WSURL string

	WriteTimeout    time.Duration
	MaxMessageBytes int64
	// EventBuffer sizes the Events channel.
	EventBuffer int
	Dialer      *websocket.Dialer
}

// InitData is sent as conversation_initiation_client_data right after dialing.
type InitData struct {
	// AgentID overrides Config.AgentID for this conversation.
	AgentID          string
	DynamicVariables map[string]string
	FirstMessage     string
	Prompt           string
	VoiceID          string
}

// Event is a decoded server message. Pings are answered internally and never
// surface here.
type Event struct {
	Type string

	// conversation_initiation_metadata
	ConversationID    string
	AgentAudioFormat  string
	CallerAudioFormat string

	// audio
	Audio   []byte
	EventID int64

	// user_transcript, agent_response, agent_response_correction (corrected text)
	Text     string
	Original string
}

type Conn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex
	errMu   sync.Mutex

	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once

	err error
}

func Dial(ctx context.Context, cfg Config, init InitData) (*Conn, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("elevenlabs api key is required")
	}
	agentID := cfg.AgentID
	if strings.TrimSpace(init.AgentID) != "" {
		agentID = init.AgentID
	}
	if strings.TrimSpace(agentID) == "" {
		return nil, errors.New("elevenlabs agent id is required")
	}
	wsURL, err := buildURL(cfg.WSURL, agentID)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("xi-api-key", strings.TrimSpace(cfg.APIKey))

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial elevenlabs (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial elevenlabs: %w", err)
	}
	if cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(cfg.MaxMessageBytes)
	}

	buf := cfg.EventBuffer
	if buf <= 0 {
		buf = 256
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	c := &Conn{
		conn:         conn,
		writeTimeout: writeTimeout,
		events:       make(chan Event, buf),
		closed:       make(chan struct{}),
	}

	if err := c.writeJSON(ctx, initMessage(init)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send conversation init: %w", err)
	}

	go c.readLoop()
	return c, nil
}

func initMessage(init InitData) map[string]any {
	msg := map[string]any{"type": "conversation_initiation_client_data"}
	if len(init.DynamicVariables) > 0 {
		msg["dynamic_variables"] = init.DynamicVariables
	}
	override := map[string]any{}
	agent := map[string]any{}
	if strings.TrimSpace(init.FirstMessage) != "" {
		agent["first_message"] = init.FirstMessage
	}
	if strings.TrimSpace(init.Prompt) != "" {
		agent["prompt"] = map[string]any{"prompt": init.Prompt}
	}
	if len(agent) > 0 {
		override["agent"] = agent
	}
	if strings.TrimSpace(init.VoiceID) != "" {
		override["tts"] = map[string]any{"voice_id": init.VoiceID}
	}
	if len(override) > 0 {
		msg["conversation_config_override"] = override
	}
	return msg
}

// SendAudio forwards caller audio in the agent's configured input format.
func (c *Conn) SendAudio(ctx context.Context, audio []byte) error {
	if len(audio) == 0 {
		return nil
	}
	return c.writeJSON(ctx, map[string]any{
		"user_audio_chunk": base64.StdEncoding.EncodeToString(audio),
	})
}

// SendContextualUpdate gives the agent background information without
// interrupting the conversation.
func (c *Conn) SendContextualUpdate(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return c.writeJSON(ctx, map[string]any{
		"type": "contextual_update",
		"text": text,
	})
}

// Events is closed when the connection ends; Err reports why.
func (c *Conn) Events() <-chan Event {
	return c.events
}

func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Conn) Close() error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	return nil
}

func (c *Conn) setErr(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
}

type serverMessage struct {
	Type string `json:"type"`

	Metadata *struct {
		ConversationID         string `json:"conversation_id"`
		AgentOutputAudioFormat string `json:"agent_output_audio_format"`
		UserInputAudioFormat   string `json:"user_input_audio_format"`
	} `json:"conversation_initiation_metadata_event"`

	Audio *struct {
		AudioBase64 string `json:"audio_base_64"`
		EventID     int64  `json:"event_id"`
	} `json:"audio_event"`

	UserTranscript *struct {
		Text string `json:"user_transcript"`
	} `json:"user_transcription_event"`

	AgentResponse *struct {
		Text string `json:"agent_response"`
	} `json:"agent_response_event"`

	Correction *struct {
		Original  string `json:"original_agent_response"`
		Corrected string `json:"corrected_agent_response"`
	} `json:"agent_response_correction_event"`

	Interruption *struct {
		EventID int64 `json:"event_id"`
	} `json:"interruption_event"`

	Ping *struct {
		EventID int64 `json:"event_id"`
		PingMS  int64 `json:"ping_ms"`
	} `json:"ping_event"`
}

func (c *Conn) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.setErr(err)
			}
			return
		}

		ev, ok, err := c.decode(data)
		if err != nil {
			// Unknown or malformed frames are skipped; the stream stays usable.
			continue
		}
		if !ok {
			continue
		}
		select {
		case c.events <- ev:
		case <-c.closed:
			return
		}
	}
}

// decode returns ok=false for frames handled internally or ignored.
func (c *Conn) decode(data []byte) (Event, bool, error) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Event{}, false, err
	}
	switch msg.Type {
	case TypePing:
		if msg.Ping == nil {
			return Event{}, false, nil
		}
		if msg.Ping.PingMS > 0 {
			// The server asks for the pong to be delayed by ping_ms.
			delay := time.Duration(msg.Ping.PingMS) * time.Millisecond
			id := msg.Ping.EventID
			time.AfterFunc(delay, func() { _ = c.pong(id) })
			return Event{}, false, nil
		}
		return Event{}, false, c.pong(msg.Ping.EventID)
	case TypeInitiationMetadata:
		if msg.Metadata == nil {
			return Event{}, false, errors.New("metadata frame without payload")
		}
		return Event{
			Type:              msg.Type,
			ConversationID:    msg.Metadata.ConversationID,
			AgentAudioFormat:  msg.Metadata.AgentOutputAudioFormat,
			CallerAudioFormat: msg.Metadata.UserInputAudioFormat,
		}, true, nil
	case TypeAudio:
		if msg.Audio == nil {
			return Event{}, false, errors.New("audio frame without payload")
		}
		audio, err := base64.StdEncoding.DecodeString(msg.Audio.AudioBase64)
		if err != nil {
			return Event{}, false, fmt.Errorf("decode audio: %w", err)
		}
		return Event{Type: msg.Type, Audio: audio, EventID: msg.Audio.EventID}, true, nil
	case TypeUserTranscript:
		if msg.UserTranscript == nil {
			return Event{}, false, nil
		}
		return Event{Type: msg.Type, Text: strings.TrimSpace(msg.UserTranscript.Text)}, true, nil
	case TypeAgentResponse:
		if msg.AgentResponse == nil {
			return Event{}, false, nil
		}
		return Event{Type: msg.Type, Text: strings.TrimSpace(msg.AgentResponse.Text)}, true, nil
	case TypeAgentResponseCorrection:
		if msg.Correction == nil {
			return Event{}, false, nil
		}
		return Event{
			Type:     msg.Type,
			Text:     strings.TrimSpace(msg.Correction.Corrected),
			Original: strings.TrimSpace(msg.Correction.Original),
		}, true, nil
	case TypeInterruption:
		ev := Event{Type: msg.Type}
		if msg.Interruption != nil {
			ev.EventID = msg.Interruption.EventID
		}
		return ev, true, nil
	default:
		return Event{}, false, nil
	}
}

func (c *Conn) pong(eventID int64) error {
	select {
	case <-c.closed:
		return nil
	default:
	}
	return c.writeJSON(context.Background(), map[string]any{
		"type":     "pong",
		"event_id": eventID,
	})
}

func (c *Conn) writeJSON(ctx context.Context, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(payload); err != nil {
		return fmt.Errorf("elevenlabs write: %w", err)
	}
	return nil
}

func buildURL(base, agentID string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		base = DefaultWSURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid elevenlabs ws url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https", "":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid elevenlabs ws url scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("agent_id", strings.TrimSpace(agentID))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
