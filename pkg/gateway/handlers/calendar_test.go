package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"

	"github.com/mohit-ai/mohit/pkg/core/types"
	"github.com/mohit-ai/mohit/pkg/store/memory"
)

func newCalendarHandler() (CalendarHandler, *fakeUserNotifier) {
	h, n, _ := newCalendarHandlerWithStore()
	return h, n
}

func newCalendarHandlerWithStore() (CalendarHandler, *fakeUserNotifier, *memory.Store) {
	n := &fakeUserNotifier{}
	st := memory.New()
	return CalendarHandler{
		Store:    st.Calendar(),
		Leads:    st.Leads(),
		Contacts: st.Contacts(),
		Calls:    st.Calls(),
		Notifier: n,
	}, n, st
}

func TestCalendar_CreateDetectsConflicts(t *testing.T) {
	h, notifier := newCalendarHandler()
	owner := uuid.New()

	rr := serve(h.Create, newRequest(http.MethodPost, "/api/calendar",
		`{"title":"Demo","start":"2026-03-10T15:00:00Z","end":"2026-03-10T16:00:00Z"}`, owner))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%q", rr.Code, rr.Body.String())
	}
	first := decodeBody[types.CalendarEvent](t, rr)
	if first.Type != types.CalendarEventMeeting {
		t.Fatalf("type=%q, want default meeting", first.Type)
	}

	overlap := `{"title":"Call","type":"call","start":"2026-03-10T15:30:00Z","end":"2026-03-10T16:30:00Z"}`
	rr = serve(h.Create, newRequest(http.MethodPost, "/api/calendar", overlap, owner))
	body := expectError(t, rr, http.StatusConflict, "conflict_error")
	if body.Error.Code != "calendar_conflict" {
		t.Fatalf("code=%q", body.Error.Code)
	}
	details, _ := body.Error.Details.(map[string]any)
	conflicts, _ := details["conflicts"].([]any)
	if len(conflicts) != 1 {
		t.Fatalf("details=%v", body.Error.Details)
	}

	// Touching intervals do not overlap.
	rr = serve(h.Create, newRequest(http.MethodPost, "/api/calendar",
		`{"title":"Next","start":"2026-03-10T16:00:00Z","end":"2026-03-10T16:30:00Z"}`, owner))
	if rr.Code != http.StatusCreated {
		t.Fatalf("adjacent status=%d body=%q", rr.Code, rr.Body.String())
	}

	rr = serve(h.Create, newRequest(http.MethodPost, "/api/calendar?allow_conflict=true", overlap, owner))
	if rr.Code != http.StatusCreated {
		t.Fatalf("allow_conflict status=%d body=%q", rr.Code, rr.Body.String())
	}

	// Another owner's calendar is independent.
	rr = serve(h.Create, newRequest(http.MethodPost, "/api/calendar", overlap, uuid.New()))
	if rr.Code != http.StatusCreated {
		t.Fatalf("other owner status=%d body=%q", rr.Code, rr.Body.String())
	}
	if n := notifier.count(types.EventCalendarUpdated); n != 4 {
		t.Fatalf("calendar:updated sent %d times, want 4", n)
	}
}

func TestCalendar_UpdateAndRange(t *testing.T) {
	h, _ := newCalendarHandler()
	owner := uuid.New()

	rr := serve(h.Create, newRequest(http.MethodPost, "/api/calendar",
		`{"title":"A","start":"2026-03-10T09:00:00Z","end":"2026-03-10T10:00:00Z"}`, owner))
	a := decodeBody[types.CalendarEvent](t, rr)
	rr = serve(h.Create, newRequest(http.MethodPost, "/api/calendar",
		`{"title":"B","start":"2026-03-11T09:00:00Z","end":"2026-03-11T10:00:00Z"}`, owner))
	b := decodeBody[types.CalendarEvent](t, rr)

	// Moving B onto A conflicts, but editing B in place does not conflict with itself.
	rr = serve(h.Update, newRequest(http.MethodPatch, "/api/calendar/"+b.ID.String(),
		`{"start":"2026-03-10T09:30:00Z","end":"2026-03-10T10:30:00Z"}`, owner, "id", b.ID.String()))
	expectError(t, rr, http.StatusConflict, "conflict_error")
	rr = serve(h.Update, newRequest(http.MethodPatch, "/api/calendar/"+b.ID.String(),
		`{"end":"2026-03-11T11:00:00Z","notes":"bring deck"}`, owner, "id", b.ID.String()))
	if rr.Code != http.StatusOK {
		t.Fatalf("update status=%d body=%q", rr.Code, rr.Body.String())
	}

	rr = serve(h.List, newRequest(http.MethodGet, "/api/calendar?from=2026-03-10T00:00:00Z&to=2026-03-11T00:00:00Z", "", owner))
	list := decodeBody[struct {
		Data []types.CalendarEvent `json:"data"`
	}](t, rr)
	if len(list.Data) != 1 || list.Data[0].ID != a.ID {
		t.Fatalf("range=%+v", list.Data)
	}

	rr = serve(h.Delete, newRequest(http.MethodDelete, "/api/calendar/"+a.ID.String(), "", owner, "id", a.ID.String()))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", rr.Code)
	}
	rr = serve(h.Get, newRequest(http.MethodGet, "/api/calendar/"+a.ID.String(), "", owner, "id", a.ID.String()))
	expectError(t, rr, http.StatusNotFound, "not_found_error")
}

func TestCalendar_LinksMustBelongToCaller(t *testing.T) {
	h, _, st := newCalendarHandlerWithStore()
	ctx := context.Background()
	owner, other := uuid.New(), uuid.New()

	mine := &types.Lead{OwnerID: owner, Name: "Initech", Status: types.LeadStatusNew}
	theirs := &types.Lead{OwnerID: other, Name: "Umbrella", Status: types.LeadStatusNew}
	theirContact := &types.Contact{OwnerID: other, Name: "Alice"}
	theirCall := &types.Call{OwnerID: other, To: "+14155550100", From: "+15550001111", Direction: types.CallDirectionOutbound, Status: types.CallStatusQueued, Mode: types.CallModeAI}
	if err := st.Leads().Create(ctx, mine); err != nil {
		t.Fatalf("create lead: %v", err)
	}
	if err := st.Leads().Create(ctx, theirs); err != nil {
		t.Fatalf("create lead: %v", err)
	}
	if err := st.Contacts().Create(ctx, theirContact); err != nil {
		t.Fatalf("create contact: %v", err)
	}
	if err := st.Calls().Create(ctx, theirCall); err != nil {
		t.Fatalf("create call: %v", err)
	}

	window := `"start":"2026-03-10T09:00:00Z","end":"2026-03-10T10:00:00Z"`
	tests := []struct {
		name  string
		body  string
		param string
	}{
		{"foreign lead", `{"title":"A",` + window + `,"lead_id":"` + theirs.ID.String() + `"}`, "lead_id"},
		{"foreign contact", `{"title":"A",` + window + `,"contact_id":"` + theirContact.ID.String() + `"}`, "contact_id"},
		{"foreign call", `{"title":"A",` + window + `,"call_id":"` + theirCall.ID.String() + `"}`, "call_id"},
		{"missing call", `{"title":"A",` + window + `,"call_id":"` + uuid.NewString() + `"}`, "call_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(h.Create, newRequest(http.MethodPost, "/api/calendar", tt.body, owner))
			body := expectError(t, rr, http.StatusBadRequest, "invalid_request_error")
			if body.Error.Param != tt.param {
				t.Fatalf("param=%q, want %q", body.Error.Param, tt.param)
			}
		})
	}

	rr := serve(h.Create, newRequest(http.MethodPost, "/api/calendar",
		`{"title":"Follow up",`+window+`,"lead_id":"`+mine.ID.String()+`"}`, owner))
	if rr.Code != http.StatusCreated {
		t.Fatalf("own lead status=%d body=%q", rr.Code, rr.Body.String())
	}
	e := decodeBody[types.CalendarEvent](t, rr)

	rr = serve(h.Update, newRequest(http.MethodPatch, "/api/calendar/"+e.ID.String(),
		`{"lead_id":"`+theirs.ID.String()+`"}`, owner, "id", e.ID.String()))
	expectError(t, rr, http.StatusBadRequest, "invalid_request_error")
}

func TestCalendar_Validation(t *testing.T) {
	h, _ := newCalendarHandler()
	owner := uuid.New()
	tests := []struct {
		name  string
		body  string
		param string
	}{
		{"end before start", `{"title":"A","start":"2026-03-10T10:00:00Z","end":"2026-03-10T09:00:00Z"}`, "end"},
		{"missing title", `{"start":"2026-03-10T09:00:00Z","end":"2026-03-10T10:00:00Z"}`, "title"},
		{"unknown type", `{"title":"A","type":"party","start":"2026-03-10T09:00:00Z","end":"2026-03-10T10:00:00Z"}`, "type"},
		{"missing start", `{"title":"A","end":"2026-03-10T10:00:00Z"}`, "start"},
		{"too long", `{"title":"A","start":"2026-03-01T09:00:00Z","end":"2026-03-20T10:00:00Z"}`, "end"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(h.Create, newRequest(http.MethodPost, "/api/calendar", tt.body, owner))
			body := expectError(t, rr, http.StatusBadRequest, "invalid_request_error")
			if body.Error.Param != tt.param {
				t.Fatalf("param=%q, want %q", body.Error.Param, tt.param)
			}
		})
	}

	rr := serve(h.List, newRequest(http.MethodGet, "/api/calendar?from=yesterday", "", owner))
	expectError(t, rr, http.StatusBadRequest, "invalid_request_error")
}
