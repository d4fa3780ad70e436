package broadcast

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mohit-ai/mohit/pkg/core/types"
)

// Event names delivered to browser clients.
const (
	EventCallUpdated     = types.EventCallUpdated
	EventCallStatus      = types.EventCallStatus
	EventCallEnded       = types.EventCallEnded
	EventTranscriptNew   = types.EventTranscriptNew
	EventAIPaused        = types.EventAIPaused
	EventAIResumed       = types.EventAIResumed
	EventCallInsights    = types.EventCallInsights
	EventCalendarUpdated = types.EventCalendarUpdated
	EventLeadUpdated     = types.EventLeadUpdated
	EventServerDraining  = types.EventServerDraining
)

// Frame types.
const (
	FrameSubscribe    = "subscribe"
	FrameUnsubscribe  = "unsubscribe"
	FramePing         = "ping"
	FramePong         = "pong"
	FrameEvent        = "event"
	FrameSubscribed   = "subscribed"
	FrameUnsubscribed = "unsubscribed"
	FrameError        = "error"
)

func UserRoom(id uuid.UUID) string { return "user:" + id.String() }

func CallRoom(id uuid.UUID) string { return "call:" + id.String() }

// ParseRoom splits "kind:uuid".
func ParseRoom(room string) (kind string, id uuid.UUID, err error) {
	kind, rawID, ok := strings.Cut(strings.TrimSpace(room), ":")
	if !ok || (kind != "user" && kind != "call") {
		return "", uuid.Nil, fmt.Errorf("unknown room %q", room)
	}
	id, err = uuid.Parse(rawID)
	if err != nil {
		return "", uuid.Nil, fmt.Errorf("invalid room id %q", rawID)
	}
	return kind, id, nil
}

type ClientFrame struct {
	Type string `json:"type"`
	Room string `json:"room,omitempty"`
}

type ServerFrame struct {
	Type    string    `json:"type"`
	Event   string    `json:"event,omitempty"`
	Room    string    `json:"room,omitempty"`
	Data    any       `json:"data,omitempty"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
	TS      time.Time `json:"ts"`
}

func encodeFrame(f ServerFrame) ([]byte, error) {
	if f.TS.IsZero() {
		f.TS = time.Now().UTC()
	}
	return json.Marshal(f)
}
