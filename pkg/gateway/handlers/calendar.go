package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mohit-ai/mohit/pkg/core"
	"github.com/mohit-ai/mohit/pkg/core/types"
	"github.com/mohit-ai/mohit/pkg/store"
)

type CalendarHandler struct {
	Store    store.CalendarStore
	Leads    store.LeadStore
	Contacts store.ContactStore
	Calls    store.CallStore
	Notifier UserNotifier
}

type calendarInput struct {
	Title         *string    `json:"title"`
	Type          *string    `json:"type"`
	Start         *time.Time `json:"start"`
	End           *time.Time `json:"end"`
	LeadID        *string    `json:"lead_id"`
	ContactID     *string    `json:"contact_id"`
	CallID        *string    `json:"call_id"`
	Location      *string    `json:"location"`
	Notes         *string    `json:"notes"`
	AllowConflict bool       `json:"allow_conflict"`
}

const maxEventLength = 7 * 24 * time.Hour

func (in calendarInput) apply(e *types.CalendarEvent) error {
	if in.Title != nil {
		e.Title = strings.TrimSpace(*in.Title)
	}
	if in.Type != nil {
		e.Type = types.CalendarEventType(strings.ToLower(strings.TrimSpace(*in.Type)))
	}
	if in.Start != nil {
		e.Start = in.Start.UTC()
	}
	if in.End != nil {
		e.End = in.End.UTC()
	}
	for _, ref := range []struct {
		raw   *string
		param string
		dst   **uuid.UUID
	}{
		{in.LeadID, "lead_id", &e.LeadID},
		{in.ContactID, "contact_id", &e.ContactID},
		{in.CallID, "call_id", &e.CallID},
	} {
		id, set, err := optionalID(ref.raw, ref.param)
		if err != nil {
			return err
		}
		if set {
			*ref.dst = id
		}
	}
	if in.Location != nil {
		e.Location = strings.TrimSpace(*in.Location)
	}
	if in.Notes != nil {
		e.Notes = *in.Notes
	}

	if e.Type == "" {
		e.Type = types.CalendarEventMeeting
	}
	if e.Title == "" {
		return core.NewInvalidRequestErrorWithParam("title is required", "title")
	}
	if !e.Type.Valid() {
		return core.NewInvalidRequestErrorWithParam("unknown event type", "type")
	}
	if e.Start.IsZero() {
		return core.NewInvalidRequestErrorWithParam("start is required", "start")
	}
	if e.End.IsZero() {
		return core.NewInvalidRequestErrorWithParam("end is required", "end")
	}
	if !e.End.After(e.Start) {
		return core.NewInvalidRequestErrorWithParam("end must be after start", "end")
	}
	if e.End.Sub(e.Start) > maxEventLength {
		return core.NewInvalidRequestErrorWithParam("events may not be longer than 7 days", "end")
	}
	return nil
}

// checkLinks rejects references, set by this request, to records the caller
// does not own.
func (h CalendarHandler) checkLinks(r *http.Request, in calendarInput, e *types.CalendarEvent) error {
	ctx := r.Context()
	if in.LeadID != nil && e.LeadID != nil {
		if _, err := h.Leads.Get(ctx, e.OwnerID, *e.LeadID); err != nil {
			return linkError(err, "lead", "lead_id")
		}
	}
	if in.ContactID != nil && e.ContactID != nil {
		if _, err := h.Contacts.Get(ctx, e.OwnerID, *e.ContactID); err != nil {
			return linkError(err, "contact", "contact_id")
		}
	}
	if in.CallID != nil && e.CallID != nil {
		c, err := h.Calls.Get(ctx, *e.CallID)
		if err == nil && c.OwnerID != e.OwnerID {
			err = store.ErrNotFound
		}
		if err != nil {
			return linkError(err, "call", "call_id")
		}
	}
	return nil
}

func linkError(err error, kind, param string) error {
	if errors.Is(err, store.ErrNotFound) {
		return core.NewInvalidRequestErrorWithParam(kind+" not found", param)
	}
	return err
}

func calendarStoreError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return core.NewNotFoundError("calendar event not found")
	}
	return err
}

func allowConflict(r *http.Request, in calendarInput) bool {
	return in.AllowConflict || r.URL.Query().Get("allow_conflict") == "true"
}

// checkConflicts returns a 409 listing the overlapping events.
func (h CalendarHandler) checkConflicts(r *http.Request, e *types.CalendarEvent) error {
	overlapping, err := h.Store.Overlapping(r.Context(), e.OwnerID, e.Start, e.End, e.ID)
	if err != nil {
		return err
	}
	if len(overlapping) == 0 {
		return nil
	}
	ce := core.NewConflictError("event overlaps existing events", map[string]any{"conflicts": overlapping})
	ce.Code = "calendar_conflict"
	return ce
}

func (h CalendarHandler) List(w http.ResponseWriter, r *http.Request) {
	from, err := queryTime(r, "from")
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !from.IsZero() && !to.IsZero() && !to.After(from) {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("to must be after from", "to"))
		return
	}
	out, err := h.Store.List(r.Context(), userID(r), from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if out == nil {
		out = []types.CalendarEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h CalendarHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in calendarInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	e := &types.CalendarEvent{ID: uuid.New(), OwnerID: userID(r)}
	if err := in.apply(e); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.checkLinks(r, in, e); err != nil {
		writeError(w, r, err)
		return
	}
	if !allowConflict(r, in) {
		if err := h.checkConflicts(r, e); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if err := h.Store.Create(r.Context(), e); err != nil {
		writeError(w, r, err)
		return
	}
	h.notify(r, e)
	writeJSON(w, http.StatusCreated, e)
}

func (h CalendarHandler) Get(w http.ResponseWriter, r *http.Request) {
	e, err := h.load(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h CalendarHandler) Update(w http.ResponseWriter, r *http.Request) {
	e, err := h.load(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in calendarInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	moved := in.Start != nil || in.End != nil
	if err := in.apply(e); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.checkLinks(r, in, e); err != nil {
		writeError(w, r, err)
		return
	}
	if moved && !allowConflict(r, in) {
		if err := h.checkConflicts(r, e); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if err := h.Store.Update(r.Context(), e); err != nil {
		writeError(w, r, calendarStoreError(err))
		return
	}
	h.notify(r, e)
	writeJSON(w, http.StatusOK, e)
}

func (h CalendarHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Store.Delete(r.Context(), userID(r), id); err != nil {
		writeError(w, r, calendarStoreError(err))
		return
	}
	h.notify(r, map[string]any{"id": id, "deleted": true})
	w.WriteHeader(http.StatusNoContent)
}

func (h CalendarHandler) load(r *http.Request) (*types.CalendarEvent, error) {
	id, err := pathID(r)
	if err != nil {
		return nil, err
	}
	e, err := h.Store.Get(r.Context(), userID(r), id)
	if err != nil {
		return nil, calendarStoreError(err)
	}
	return e, nil
}

func (h CalendarHandler) notify(r *http.Request, data any) {
	if h.Notifier != nil {
		h.Notifier.NotifyUser(r.Context(), userID(r), types.EventCalendarUpdated, data)
	}
}
