// Package memory is an in-process store backend for development and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mohit-ai/mohit/pkg/core/types"
	"github.com/mohit-ai/mohit/pkg/store"
)

// Store keeps every record in mutex-guarded maps and hands out copies.
type Store struct {
	mu sync.RWMutex

	users       map[uuid.UUID]*types.User
	userByEmail map[string]uuid.UUID
	contacts    map[uuid.UUID]*types.Contact
	leads       map[uuid.UUID]*types.Lead
	calls       map[uuid.UUID]*types.Call
	callBySID   map[string]uuid.UUID
	transcripts map[uuid.UUID][]types.TranscriptEntry
	events      map[uuid.UUID]*types.CalendarEvent
	settings    map[uuid.UUID]types.UserSettings
	now         func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users:       make(map[uuid.UUID]*types.User),
		userByEmail: make(map[string]uuid.UUID),
		contacts:    make(map[uuid.UUID]*types.Contact),
		leads:       make(map[uuid.UUID]*types.Lead),
		calls:       make(map[uuid.UUID]*types.Call),
		callBySID:   make(map[string]uuid.UUID),
		transcripts: make(map[uuid.UUID][]types.TranscriptEntry),
		events:      make(map[uuid.UUID]*types.CalendarEvent),
		settings:    make(map[uuid.UUID]types.UserSettings),
		now:         time.Now,
	}
}

func (s *Store) Users() store.UserStore             { return userStore{s} }
func (s *Store) Contacts() store.ContactStore       { return contactStore{s} }
func (s *Store) Leads() store.LeadStore             { return leadStore{s} }
func (s *Store) Calls() store.CallStore             { return callStore{s} }
func (s *Store) Transcripts() store.TranscriptStore { return transcriptStore{s} }
func (s *Store) Calendar() store.CalendarStore      { return calendarStore{s} }
func (s *Store) Settings() store.SettingsStore      { return settingsStore{s} }

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }
func (s *Store) Close() error                   { return nil }

func (s *Store) Stats(ctx context.Context, ownerID uuid.UUID, w store.StatsWindow) (store.DashboardStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := store.DashboardStats{LeadsByStatus: make(map[types.LeadStatus]int)}
	for _, st := range types.LeadStatuses {
		out.LeadsByStatus[st] = 0
	}
	for _, c := range s.contacts {
		if c.OwnerID == ownerID {
			out.Contacts++
		}
	}
	for _, l := range s.leads {
		if l.OwnerID == ownerID {
			out.LeadsByStatus[l.Status]++
		}
	}
	var totalDuration, completed int
	for _, c := range s.calls {
		if c.OwnerID != ownerID {
			continue
		}
		if !c.CreatedAt.Before(w.DayStart) {
			out.CallsToday++
		}
		if c.Status.Active() {
			out.ActiveCalls++
		}
		if c.Status == types.CallStatusCompleted {
			completed++
			totalDuration += c.DurationSeconds
		}
	}
	if completed > 0 {
		out.AvgCallDurationSeconds = float64(totalDuration) / float64(completed)
	}
	for _, e := range s.events {
		if e.OwnerID == ownerID && !e.Start.Before(w.Now) && e.Start.Before(w.UpcomingUntil) {
			out.UpcomingEvents++
		}
	}
	return out, nil
}

type userStore struct{ s *Store }

func (u userStore) Create(ctx context.Context, user *types.User) error {
	s := u.s
	s.mu.Lock()
	defer s.mu.Unlock()

	email := types.NormalizeEmail(user.Email)
	if _, ok := s.userByEmail[email]; ok {
		return store.ErrConflict
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now().UTC()
	}
	user.Email = email
	cp := *user
	s.users[user.ID] = &cp
	s.userByEmail[email] = user.ID
	return nil
}

func (u userStore) Get(ctx context.Context, id uuid.UUID) (*types.User, error) {
	s := u.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *user
	return &cp, nil
}

func (u userStore) GetByEmail(ctx context.Context, email string) (*types.User, error) {
	s := u.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.userByEmail[types.NormalizeEmail(email)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

type contactStore struct{ s *Store }

func (cs contactStore) emailTaken(c *types.Contact) bool {
	if c.Email == "" {
		return false
	}
	for _, other := range cs.s.contacts {
		if other.OwnerID == c.OwnerID && other.ID != c.ID && strings.EqualFold(other.Email, c.Email) {
			return true
		}
	}
	return false
}

func (cs contactStore) Create(ctx context.Context, c *types.Contact) error {
	s := cs.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if cs.emailTaken(c) {
		return store.ErrConflict
	}
	now := s.now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.contacts[c.ID] = cloneContact(c)
	return nil
}

func (cs contactStore) Get(ctx context.Context, ownerID, id uuid.UUID) (*types.Contact, error) {
	s := cs.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[id]
	if !ok || c.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	return cloneContact(c), nil
}

func (cs contactStore) Update(ctx context.Context, c *types.Contact) error {
	s := cs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.contacts[c.ID]
	if !ok || existing.OwnerID != c.OwnerID {
		return store.ErrNotFound
	}
	if cs.emailTaken(c) {
		return store.ErrConflict
	}
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = s.now().UTC()
	s.contacts[c.ID] = cloneContact(c)
	return nil
}

func (cs contactStore) Modify(ctx context.Context, ownerID, id uuid.UUID, fn func(c *types.Contact) error) (*types.Contact, error) {
	s := cs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.contacts[id]
	if !ok || existing.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	working := cloneContact(existing)
	if err := fn(working); err != nil {
		return nil, err
	}
	working.ID = existing.ID
	working.OwnerID = existing.OwnerID
	working.CreatedAt = existing.CreatedAt
	if cs.emailTaken(working) {
		return nil, store.ErrConflict
	}
	working.UpdatedAt = s.now().UTC()
	s.contacts[id] = working
	return cloneContact(working), nil
}

func (cs contactStore) Delete(ctx context.Context, ownerID, id uuid.UUID) error {
	s := cs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok || c.OwnerID != ownerID {
		return store.ErrNotFound
	}
	delete(s.contacts, id)
	return nil
}

func (cs contactStore) List(ctx context.Context, ownerID uuid.UUID, f store.ContactFilter) ([]types.Contact, error) {
	s := cs.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(f.Query))
	tag := strings.ToLower(strings.TrimSpace(f.Tag))
	var out []types.Contact
	for _, c := range s.contacts {
		if c.OwnerID != ownerID {
			continue
		}
		if q != "" && !containsAny(q, c.Name, c.Email, c.Company, c.Phone) {
			continue
		}
		if tag != "" && !hasTag(c.Tags, tag) {
			continue
		}
		out = append(out, *cloneContact(c))
	}
	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return page(out, f.Limit, f.Offset), nil
}

type leadStore struct{ s *Store }

func (ls leadStore) Create(ctx context.Context, l *types.Lead) error {
	s := ls.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	now := s.now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now
	s.leads[l.ID] = cloneLead(l)
	return nil
}

func (ls leadStore) Get(ctx context.Context, ownerID, id uuid.UUID) (*types.Lead, error) {
	s := ls.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.leads[id]
	if !ok || l.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	return cloneLead(l), nil
}

func (ls leadStore) Update(ctx context.Context, l *types.Lead) error {
	s := ls.s
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.leads[l.ID]
	if !ok || existing.OwnerID != l.OwnerID {
		return store.ErrNotFound
	}
	l.CreatedAt = existing.CreatedAt
	l.UpdatedAt = s.now().UTC()
	s.leads[l.ID] = cloneLead(l)
	return nil
}

func (ls leadStore) Modify(ctx context.Context, ownerID, id uuid.UUID, fn func(l *types.Lead) error) (*types.Lead, error) {
	s := ls.s
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.leads[id]
	if !ok || existing.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	working := cloneLead(existing)
	if err := fn(working); err != nil {
		return nil, err
	}
	working.ID = existing.ID
	working.OwnerID = existing.OwnerID
	working.CreatedAt = existing.CreatedAt
	working.UpdatedAt = s.now().UTC()
	s.leads[id] = working
	return cloneLead(working), nil
}

func (ls leadStore) Delete(ctx context.Context, ownerID, id uuid.UUID) error {
	s := ls.s
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok || l.OwnerID != ownerID {
		return store.ErrNotFound
	}
	delete(s.leads, id)
	return nil
}

func (ls leadStore) List(ctx context.Context, ownerID uuid.UUID, f store.LeadFilter) ([]types.Lead, error) {
	s := ls.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(f.Query))
	var out []types.Lead
	for _, l := range s.leads {
		if l.OwnerID != ownerID {
			continue
		}
		if f.Status != "" && l.Status != f.Status {
			continue
		}
		if q != "" && !containsAny(q, l.Name, l.Email, l.Company, l.Phone) {
			continue
		}
		out = append(out, *cloneLead(l))
	}
	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return page(out, f.Limit, f.Offset), nil
}

type callStore struct{ s *Store }

func (cs callStore) Create(ctx context.Context, c *types.Call) error {
	s := cs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.TwilioSID != "" {
		if _, ok := s.callBySID[c.TwilioSID]; ok {
			return store.ErrConflict
		}
	}
	now := s.now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.calls[c.ID] = c.Clone()
	if c.TwilioSID != "" {
		s.callBySID[c.TwilioSID] = c.ID
	}
	return nil
}

func (cs callStore) Get(ctx context.Context, id uuid.UUID) (*types.Call, error) {
	s := cs.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.calls[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c.Clone(), nil
}

func (cs callStore) GetByTwilioSID(ctx context.Context, sid string) (*types.Call, error) {
	s := cs.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.callBySID[sid]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.calls[id].Clone(), nil
}

func (cs callStore) List(ctx context.Context, ownerID uuid.UUID, f store.CallFilter) ([]types.Call, error) {
	s := cs.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Call
	for _, c := range s.calls {
		if c.OwnerID != ownerID {
			continue
		}
		if f.LeadID != nil && (c.LeadID == nil || *c.LeadID != *f.LeadID) {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		out = append(out, *c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return page(out, f.Limit, f.Offset), nil
}

func (cs callStore) Update(ctx context.Context, id uuid.UUID, fn func(c *types.Call) error) (*types.Call, error) {
	s := cs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.calls[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	working := existing.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	working.ID = existing.ID
	working.OwnerID = existing.OwnerID
	working.CreatedAt = existing.CreatedAt
	if working.TwilioSID != existing.TwilioSID {
		if other, taken := s.callBySID[working.TwilioSID]; taken && other != id {
			return nil, store.ErrConflict
		}
		delete(s.callBySID, existing.TwilioSID)
		if working.TwilioSID != "" {
			s.callBySID[working.TwilioSID] = id
		}
	}
	working.UpdatedAt = s.now().UTC()
	s.calls[id] = working
	return working.Clone(), nil
}

type transcriptStore struct{ s *Store }

func (ts transcriptStore) Append(ctx context.Context, e *types.TranscriptEntry, limit int) error {
	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calls[e.CallID]; !ok {
		return store.ErrNotFound
	}
	entries := s.transcripts[e.CallID]
	if limit > 0 && len(entries) >= limit {
		return store.ErrLimit
	}
	if e.At.IsZero() {
		e.At = s.now().UTC()
	}
	if e.ID == "" {
		e.ID = types.NewEventID(e.At)
	}
	cp := *e
	if e.Confidence != nil {
		v := *e.Confidence
		cp.Confidence = &v
	}
	s.transcripts[e.CallID] = append(entries, cp)
	return nil
}

func (ts transcriptStore) List(ctx context.Context, callID uuid.UUID) ([]types.TranscriptEntry, error) {
	s := ts.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.transcripts[callID]
	out := make([]types.TranscriptEntry, len(entries))
	copy(out, entries)
	return out, nil
}

type calendarStore struct{ s *Store }

func (cs calendarStore) Create(ctx context.Context, e *types.CalendarEvent) error {
	s := cs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := s.now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now
	s.events[e.ID] = cloneEvent(e)
	return nil
}

func (cs calendarStore) Get(ctx context.Context, ownerID, id uuid.UUID) (*types.CalendarEvent, error) {
	s := cs.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok || e.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	return cloneEvent(e), nil
}

func (cs calendarStore) Update(ctx context.Context, e *types.CalendarEvent) error {
	s := cs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.events[e.ID]
	if !ok || existing.OwnerID != e.OwnerID {
		return store.ErrNotFound
	}
	e.CreatedAt = existing.CreatedAt
	e.UpdatedAt = s.now().UTC()
	s.events[e.ID] = cloneEvent(e)
	return nil
}

func (cs calendarStore) Delete(ctx context.Context, ownerID, id uuid.UUID) error {
	s := cs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok || e.OwnerID != ownerID {
		return store.ErrNotFound
	}
	delete(s.events, id)
	return nil
}

func (cs calendarStore) List(ctx context.Context, ownerID uuid.UUID, from, to time.Time) ([]types.CalendarEvent, error) {
	s := cs.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.CalendarEvent
	for _, e := range s.events {
		if e.OwnerID != ownerID {
			continue
		}
		if !from.IsZero() && !e.End.After(from) {
			continue
		}
		if !to.IsZero() && !e.Start.Before(to) {
			continue
		}
		out = append(out, *cloneEvent(e))
	}
	sortByStart(out)
	return out, nil
}

func (cs calendarStore) Overlapping(ctx context.Context, ownerID uuid.UUID, start, end time.Time, excludeID uuid.UUID) ([]types.CalendarEvent, error) {
	s := cs.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.CalendarEvent
	for _, e := range s.events {
		if e.OwnerID != ownerID || e.ID == excludeID {
			continue
		}
		if e.Overlaps(start, end) {
			out = append(out, *cloneEvent(e))
		}
	}
	sortByStart(out)
	return out, nil
}

type settingsStore struct{ s *Store }

func (ss settingsStore) Get(ctx context.Context, userID uuid.UUID) (types.UserSettings, error) {
	s := ss.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.settings[userID]; ok {
		return v, nil
	}
	return types.DefaultUserSettings(userID), nil
}

func (ss settingsStore) Put(ctx context.Context, v *types.UserSettings) error {
	s := ss.s
	s.mu.Lock()
	defer s.mu.Unlock()
	v.UpdatedAt = s.now().UTC()
	s.settings[v.UserID] = *v
	return nil
}

func containsAny(q string, fields ...string) bool {
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func newerFirst(a, b time.Time, aid, bid uuid.UUID) bool {
	if !a.Equal(b) {
		return a.After(b)
	}
	return aid.String() < bid.String()
}

func sortByStart(events []types.CalendarEvent) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].Start.Equal(events[j].Start) {
			return events[i].Start.Before(events[j].Start)
		}
		return events[i].ID.String() < events[j].ID.String()
	})
}

func page[T any](items []T, limit, offset int) []T {
	limit = store.ClampLimit(limit)
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func cloneContact(c *types.Contact) *types.Contact {
	cp := *c
	cp.Tags = append([]string{}, c.Tags...)
	if c.LastContactedAt != nil {
		t := *c.LastContactedAt
		cp.LastContactedAt = &t
	}
	return &cp
}

func cloneLead(l *types.Lead) *types.Lead {
	cp := *l
	if l.ContactID != nil {
		id := *l.ContactID
		cp.ContactID = &id
	}
	return &cp
}

func cloneEvent(e *types.CalendarEvent) *types.CalendarEvent {
	cp := *e
	for _, p := range []**uuid.UUID{&cp.LeadID, &cp.ContactID, &cp.CallID} {
		if *p != nil {
			id := **p
			*p = &id
		}
	}
	return &cp
}
