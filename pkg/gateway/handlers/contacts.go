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

type ContactsHandler struct {
	Store store.ContactStore
}

type contactInput struct {
	Name            *string    `json:"name"`
	Email           *string    `json:"email"`
	Phone           *string    `json:"phone"`
	Company         *string    `json:"company"`
	Title           *string    `json:"title"`
	LeadScore       *int       `json:"lead_score"`
	Tags            []string   `json:"tags"`
	Notes           *string    `json:"notes"`
	LastContactedAt *time.Time `json:"last_contacted_at"`
}

// apply merges the fields present in in onto c.
func (in contactInput) apply(c *types.Contact) error {
	if in.Name != nil {
		c.Name = strings.TrimSpace(*in.Name)
	}
	if in.Email != nil {
		c.Email = types.NormalizeEmail(*in.Email)
	}
	if in.Phone != nil {
		c.Phone = strings.TrimSpace(*in.Phone)
	}
	if in.Company != nil {
		c.Company = strings.TrimSpace(*in.Company)
	}
	if in.Title != nil {
		c.Title = strings.TrimSpace(*in.Title)
	}
	if in.LeadScore != nil {
		c.LeadScore = *in.LeadScore
	}
	if in.Tags != nil {
		c.Tags = types.NormalizeTags(in.Tags)
	}
	if in.Notes != nil {
		c.Notes = *in.Notes
	}
	if in.LastContactedAt != nil {
		t := in.LastContactedAt.UTC()
		c.LastContactedAt = &t
	}

	if c.Name == "" {
		return core.NewInvalidRequestErrorWithParam("name is required", "name")
	}
	if err := types.ValidateEmail(c.Email); err != nil {
		return core.NewInvalidRequestErrorWithParam(err.Error(), "email")
	}
	if err := types.ValidateScore(c.LeadScore); err != nil {
		return core.NewInvalidRequestErrorWithParam(err.Error(), "lead_score")
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	return nil
}

func contactStoreError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return core.NewNotFoundError("contact not found")
	case errors.Is(err, store.ErrConflict):
		return core.NewConflictError("a contact with this email already exists", nil)
	default:
		return err
	}
}

func (h ContactsHandler) List(w http.ResponseWriter, r *http.Request) {
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
	f := store.ContactFilter{
		Query:  strings.TrimSpace(r.URL.Query().Get("q")),
		Tag:    strings.ToLower(strings.TrimSpace(r.URL.Query().Get("tag"))),
		Limit:  store.ClampLimit(limit),
		Offset: offset,
	}
	out, err := h.Store.List(r.Context(), userID(r), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[types.Contact]{Data: out, Limit: f.Limit, Offset: f.Offset})
}

func (h ContactsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in contactInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	c := &types.Contact{OwnerID: userID(r)}
	if err := in.apply(c); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Store.Create(r.Context(), c); err != nil {
		writeError(w, r, contactStoreError(err))
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h ContactsHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.load(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h ContactsHandler) Update(w http.ResponseWriter, r *http.Request) {
	c, err := h.load(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in contactInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if err := in.apply(c); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Store.Update(r.Context(), c); err != nil {
		writeError(w, r, contactStoreError(err))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h ContactsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Store.Delete(r.Context(), userID(r), id); err != nil {
		writeError(w, r, contactStoreError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h ContactsHandler) load(r *http.Request) (*types.Contact, error) {
	id, err := pathID(r)
	if err != nil {
		return nil, err
	}
	c, err := h.Store.Get(r.Context(), userID(r), id)
	if err != nil {
		return nil, contactStoreError(err)
	}
	return c, nil
}

// optionalID parses an optional reference field; "" clears it.
func optionalID(raw *string, param string) (*uuid.UUID, bool, error) {
	if raw == nil {
		return nil, false, nil
	}
	if strings.TrimSpace(*raw) == "" {
		return nil, true, nil
	}
	id, err := uuid.Parse(strings.TrimSpace(*raw))
	if err != nil {
		return nil, false, core.NewInvalidRequestErrorWithParam("invalid "+param, param)
	}
	return &id, true, nil
}
