package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/mohit-ai/mohit/pkg/core"
	"github.com/mohit-ai/mohit/pkg/core/calls"
	"github.com/mohit-ai/mohit/pkg/store"
)

type SettingsHandler struct {
	Store store.SettingsStore
}

type settingsInput struct {
	AgentID            *string `json:"agent_id"`
	VoiceID            *string `json:"voice_id"`
	Greeting           *string `json:"greeting"`
	HumanForwardNumber *string `json:"human_forward_number"`
	RecordCalls        *bool   `json:"record_calls"`
	AutoInsights       *bool   `json:"auto_insights"`
	Timezone           *string `json:"timezone"`
}

const maxGreetingLength = 500

func (h SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.Store.Get(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Put merges the supplied fields into the stored settings.
func (h SettingsHandler) Put(w http.ResponseWriter, r *http.Request) {
	var in settingsInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.Store.Get(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if in.AgentID != nil {
		s.AgentID = strings.TrimSpace(*in.AgentID)
	}
	if in.VoiceID != nil {
		s.VoiceID = strings.TrimSpace(*in.VoiceID)
	}
	if in.Greeting != nil {
		s.Greeting = strings.TrimSpace(*in.Greeting)
		if len(s.Greeting) > maxGreetingLength {
			writeError(w, r, core.NewInvalidRequestErrorWithParam("greeting is too long", "greeting"))
			return
		}
	}
	if in.HumanForwardNumber != nil {
		s.HumanForwardNumber = ""
		if raw := strings.TrimSpace(*in.HumanForwardNumber); raw != "" {
			number, err := calls.NormalizePhone(raw)
			if err != nil {
				writeError(w, r, core.NewInvalidRequestErrorWithParam(err.Error(), "human_forward_number"))
				return
			}
			s.HumanForwardNumber = number
		}
	}
	if in.RecordCalls != nil {
		s.RecordCalls = *in.RecordCalls
	}
	if in.AutoInsights != nil {
		s.AutoInsights = *in.AutoInsights
	}
	if in.Timezone != nil {
		tz := strings.TrimSpace(*in.Timezone)
		if _, err := time.LoadLocation(tz); err != nil || tz == "" {
			writeError(w, r, core.NewInvalidRequestErrorWithParam("unknown timezone", "timezone"))
			return
		}
		s.Timezone = tz
	}
	s.UserID = userID(r)
	if err := h.Store.Put(r.Context(), &s); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
