package handlers

import (
	"net/http"
	"time"

	"github.com/mohit-ai/mohit/pkg/store"
)

type DashboardHandler struct {
	Store store.Store
	Now   func() time.Time
}

const upcomingWindow = 7 * 24 * time.Hour

// Stats counts "today" in the user's configured timezone.
func (h DashboardHandler) Stats(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	if h.Now != nil {
		now = h.Now()
	}
	uid := userID(r)
	settings, err := h.Store.Settings().Get(r.Context(), uid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	loc, err := time.LoadLocation(settings.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	stats, err := h.Store.Stats(r.Context(), uid, store.StatsWindow{
		DayStart:      dayStart.UTC(),
		Now:           now.UTC(),
		UpcomingUntil: now.Add(upcomingWindow).UTC(),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
