package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/mohit-ai/mohit/pkg/core"
	"github.com/mohit-ai/mohit/pkg/core/types"
	"github.com/mohit-ai/mohit/pkg/store"
)

// UserNotifier pushes an event to every session of one user.
type UserNotifier interface {
	NotifyUser(ctx context.Context, userID uuid.UUID, event string, data any)
}

type LeadsHandler struct {
	Store    store.LeadStore
	Contacts store.ContactStore
	Notifier UserNotifier
}

type leadInput struct {
	ContactID *string `json:"contact_id"`
	Name      *string `json:"name"`
	Email     *string `json:"email"`
	Phone     *string `json:"phone"`
	Company   *string `json:"company"`
	Source    *string `json:"source"`
	Status    *string `json:"status"`
	Score     *int    `json:"score"`
	Notes     *string `json:"notes"`
}

func (h LeadsHandler) apply(r *http.Request, in leadInput, l *types.Lead) error {
	contactID, set, err := optionalID(in.ContactID, "contact_id")
	if err != nil {
		return err
	}
	if set {
		if contactID != nil {
			if _, err := h.Contacts.Get(r.Context(), l.OwnerID, *contactID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return core.NewInvalidRequestErrorWithParam("contact not found", "contact_id")
				}
				return err
			}
		}
		l.ContactID = contactID
	}
	if in.Name != nil {
		l.Name = strings.TrimSpace(*in.Name)
	}
	if in.Email != nil {
		l.Email = types.NormalizeEmail(*in.Email)
	}
	if in.Phone != nil {
		l.Phone = strings.TrimSpace(*in.Phone)
	}
	if in.Company != nil {
		l.Company = strings.TrimSpace(*in.Company)
	}
	if in.Source != nil {
		l.Source = strings.TrimSpace(*in.Source)
	}
	if in.Status != nil {
		l.Status = types.LeadStatus(strings.ToLower(strings.TrimSpace(*in.Status)))
	}
	if in.Score != nil {
		l.Score = *in.Score
	}
	if in.Notes != nil {
		l.Notes = *in.Notes
	}

	if l.Status == "" {
		l.Status = types.LeadStatusNew
	}
	if l.Name == "" {
		return core.NewInvalidRequestErrorWithParam("name is required", "name")
	}
	if err := types.ValidateEmail(l.Email); err != nil {
		return core.NewInvalidRequestErrorWithParam(err.Error(), "email")
	}
	if !l.Status.Valid() {
		return core.NewInvalidRequestErrorWithParam("unknown lead status", "status")
	}
	if err := types.ValidateScore(l.Score); err != nil {
		return core.NewInvalidRequestErrorWithParam(err.Error(), "score")
	}
	return nil
}

func leadStoreError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return core.NewNotFoundError("lead not found")
	}
	return err
}

func (h LeadsHandler) List(w http.ResponseWriter, r *http.Request) {
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
	f := store.LeadFilter{
		Query:  strings.TrimSpace(r.URL.Query().Get("q")),
		Limit:  store.ClampLimit(limit),
		Offset: offset,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		f.Status = types.LeadStatus(strings.ToLower(raw))
		if !f.Status.Valid() {
			writeError(w, r, core.NewInvalidRequestErrorWithParam("unknown lead status", "status"))
			return
		}
	}
	out, err := h.Store.List(r.Context(), userID(r), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[types.Lead]{Data: out, Limit: f.Limit, Offset: f.Offset})
}

func (h LeadsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in leadInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	l := &types.Lead{OwnerID: userID(r)}
	if err := h.apply(r, in, l); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Store.Create(r.Context(), l); err != nil {
		writeError(w, r, err)
		return
	}
	h.notify(r, l)
	writeJSON(w, http.StatusCreated, l)
}

func (h LeadsHandler) Get(w http.ResponseWriter, r *http.Request) {
	l, err := h.load(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (h LeadsHandler) Update(w http.ResponseWriter, r *http.Request) {
	l, err := h.load(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in leadInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.apply(r, in, l); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Store.Update(r.Context(), l); err != nil {
		writeError(w, r, leadStoreError(err))
		return
	}
	h.notify(r, l)
	writeJSON(w, http.StatusOK, l)
}

func (h LeadsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Store.Delete(r.Context(), userID(r), id); err != nil {
		writeError(w, r, leadStoreError(err))
		return
	}
	h.notify(r, map[string]any{"id": id, "deleted": true})
	w.WriteHeader(http.StatusNoContent)
}

func (h LeadsHandler) load(r *http.Request) (*types.Lead, error) {
	id, err := pathID(r)
	if err != nil {
		return nil, err
	}
	l, err := h.Store.Get(r.Context(), userID(r), id)
	if err != nil {
		return nil, leadStoreError(err)
	}
	return l, nil
}

func (h LeadsHandler) notify(r *http.Request, data any) {
	if h.Notifier != nil {
		h.Notifier.NotifyUser(r.Context(), userID(r), types.EventLeadUpdated, data)
	}
}
