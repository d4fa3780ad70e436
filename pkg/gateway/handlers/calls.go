package handlers

import (
	"net/http"
	"strings"

	"github.com/mohit-ai/mohit/pkg/core"
	"github.com/mohit-ai/mohit/pkg/core/calls"
	"github.com/mohit-ai/mohit/pkg/core/types"
	"github.com/mohit-ai/mohit/pkg/store"
)

type CallsHandler struct {
	Calls *calls.Service
}

type initiateCallRequest struct {
	LeadID    *string `json:"lead_id"`
	ContactID *string `json:"contact_id"`
	To        string  `json:"to"`
	Mode      string  `json:"mode"`
}

type transcriptRequest struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

func (h CallsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, r, err)
		return
	}
	leadID, err := queryUUID(r, "lead_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	f := store.CallFilter{LeadID: leadID, Limit: store.ClampLimit(limit), Offset: offset}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		st, err := types.ParseTwilioCallStatus(raw)
		if err != nil {
			writeError(w, r, core.NewInvalidRequestErrorWithParam(err.Error(), "status"))
			return
		}
		f.Status = st
	}
	out, err := h.Calls.List(r.Context(), userID(r), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[types.Call]{Data: out, Limit: f.Limit, Offset: f.Offset})
}

func (h CallsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.Calls.Get(r.Context(), userID(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h CallsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in initiateCallRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	req := calls.InitiateRequest{To: in.To}
	var err error
	if req.LeadID, _, err = optionalID(in.LeadID, "lead_id"); err != nil {
		writeError(w, r, err)
		return
	}
	if req.ContactID, _, err = optionalID(in.ContactID, "contact_id"); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(in.Mode) != "" {
		if req.Mode, err = types.ParseCallMode(in.Mode); err != nil {
			writeError(w, r, core.NewInvalidRequestErrorWithParam(err.Error(), "mode"))
			return
		}
	}
	c, err := h.Calls.Initiate(r.Context(), userID(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h CallsHandler) Takeover(w http.ResponseWriter, r *http.Request) {
	h.setMode(w, r, types.CallModeHuman)
}

func (h CallsHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.setMode(w, r, types.CallModeAI)
}

// SetMode accepts {"mode": "AI"|"HUMAN"|"HYBRID"}.
func (h CallsHandler) SetMode(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Mode string `json:"mode"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	mode, err := types.ParseCallMode(in.Mode)
	if err != nil {
		writeError(w, r, core.NewInvalidRequestErrorWithParam(err.Error(), "mode"))
		return
	}
	h.setMode(w, r, mode)
}

func (h CallsHandler) setMode(w http.ResponseWriter, r *http.Request, mode types.CallMode) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.Calls.SetMode(r.Context(), userID(r), id, mode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h CallsHandler) End(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.Calls.End(r.Context(), userID(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h CallsHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	lines, err := h.Calls.Transcript(r.Context(), userID(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": lines})
}

// AppendTranscript records a note from the sales rep. Only agent and system
// lines may be added by hand.
func (h CallsHandler) AppendTranscript(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in transcriptRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	speaker := types.SpeakerAgent
	if in.Speaker != "" {
		speaker = types.Speaker(strings.ToLower(strings.TrimSpace(in.Speaker)))
	}
	if speaker != types.SpeakerAgent && speaker != types.SpeakerSystem {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("speaker must be agent or system", "speaker"))
		return
	}
	c, err := h.Calls.Get(r.Context(), userID(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	entry, err := h.Calls.AppendTranscript(r.Context(), c, speaker, in.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h CallsHandler) Insights(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := h.Calls.GenerateInsightsFor(r.Context(), userID(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
