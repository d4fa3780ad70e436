// Package storetest is the behavioural suite every store backend must pass.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohit-ai/mohit/pkg/core/types"
	"github.com/mohit-ai/mohit/pkg/store"
)

// Run exercises s. The store must start empty or hold only unrelated owners' data.
func Run(t *testing.T, s store.Store) {
	t.Helper()
	t.Run("Users", func(t *testing.T) { testUsers(t, s) })
	t.Run("Contacts", func(t *testing.T) { testContacts(t, s) })
	t.Run("Leads", func(t *testing.T) { testLeads(t, s) })
	t.Run("Calls", func(t *testing.T) { testCalls(t, s) })
	t.Run("CallUpdateIsAtomic", func(t *testing.T) { testCallUpdateAtomic(t, s) })
	t.Run("RecordModify", func(t *testing.T) { testRecordModify(t, s) })
	t.Run("Transcripts", func(t *testing.T) { testTranscripts(t, s) })
	t.Run("Calendar", func(t *testing.T) { testCalendar(t, s) })
	t.Run("Settings", func(t *testing.T) { testSettings(t, s) })
	t.Run("Stats", func(t *testing.T) { testStats(t, s) })
}

func newOwner(t *testing.T, s store.Store) uuid.UUID {
	t.Helper()
	u := &types.User{Email: uuid.NewString() + "@example.com", Name: "Owner", PasswordHash: "x"}
	require.NoError(t, s.Users().Create(context.Background(), u))
	return u.ID
}

func testUsers(t *testing.T, s store.Store) {
	ctx := context.Background()
	email := uuid.NewString() + "@Example.com"
	u := &types.User{Email: email, Name: "Ada", PasswordHash: "hash"}
	require.NoError(t, s.Users().Create(ctx, u))
	require.NotEqual(t, uuid.Nil, u.ID)

	dup := &types.User{Email: types.NormalizeEmail(email), Name: "Other", PasswordHash: "hash"}
	require.ErrorIs(t, s.Users().Create(ctx, dup), store.ErrConflict)

	got, err := s.Users().GetByEmail(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "hash", got.PasswordHash)

	_, err = s.Users().Get(ctx, uuid.New())
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testContacts(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := newOwner(t, s)
	other := newOwner(t, s)

	c := &types.Contact{OwnerID: owner, Name: "Jane Doe", Email: "jane@acme.io", Company: "Acme", Tags: []string{"vip"}}
	require.NoError(t, s.Contacts().Create(ctx, c))

	dup := &types.Contact{OwnerID: owner, Name: "Jane Again", Email: "JANE@acme.io"}
	require.ErrorIs(t, s.Contacts().Create(ctx, dup), store.ErrConflict)

	// Same email under another owner is fine.
	require.NoError(t, s.Contacts().Create(ctx, &types.Contact{OwnerID: other, Name: "Jane", Email: "jane@acme.io"}))

	_, err := s.Contacts().Get(ctx, other, c.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	got, err := s.Contacts().Get(ctx, owner, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"vip"}, got.Tags)

	require.NoError(t, s.Contacts().Create(ctx, &types.Contact{OwnerID: owner, Name: "Bob", Company: "Globex"}))

	list, err := s.Contacts().List(ctx, owner, store.ContactFilter{Query: "acme"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, c.ID, list[0].ID)

	list, err = s.Contacts().List(ctx, owner, store.ContactFilter{Tag: "vip"})
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, err = s.Contacts().List(ctx, owner, store.ContactFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)

	got.Notes = "called twice"
	require.NoError(t, s.Contacts().Update(ctx, got))
	again, err := s.Contacts().Get(ctx, owner, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "called twice", again.Notes)

	require.NoError(t, s.Contacts().Delete(ctx, owner, c.ID))
	require.ErrorIs(t, s.Contacts().Delete(ctx, owner, c.ID), store.ErrNotFound)
}

func testLeads(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := newOwner(t, s)

	a := &types.Lead{OwnerID: owner, Name: "Initech", Status: types.LeadStatusNew, Score: 10}
	b := &types.Lead{OwnerID: owner, Name: "Umbrella", Status: types.LeadStatusQualified, Score: 80}
	require.NoError(t, s.Leads().Create(ctx, a))
	require.NoError(t, s.Leads().Create(ctx, b))

	list, err := s.Leads().List(ctx, owner, store.LeadFilter{Status: types.LeadStatusQualified})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, b.ID, list[0].ID)

	a.Status = types.LeadStatusContacted
	require.NoError(t, s.Leads().Update(ctx, a))
	got, err := s.Leads().Get(ctx, owner, a.ID)
	require.NoError(t, err)
	assert.Equal(t, types.LeadStatusContacted, got.Status)

	require.ErrorIs(t, s.Leads().Delete(ctx, uuid.New(), a.ID), store.ErrNotFound)
	require.NoError(t, s.Leads().Delete(ctx, owner, a.ID))
}

func testCalls(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := newOwner(t, s)
	lead := &types.Lead{OwnerID: owner, Name: "Lead", Status: types.LeadStatusNew}
	require.NoError(t, s.Leads().Create(ctx, lead))

	c := &types.Call{
		OwnerID:   owner,
		LeadID:    &lead.ID,
		To:        "+15550001111",
		From:      "+15550002222",
		Direction: types.CallDirectionOutbound,
		Status:    types.CallStatusQueued,
		Mode:      types.CallModeAI,
	}
	require.NoError(t, s.Calls().Create(ctx, c))

	sid := "CA" + uuid.NewString()
	updated, err := s.Calls().Update(ctx, c.ID, func(call *types.Call) error {
		call.TwilioSID = sid
		call.Status = types.CallStatusRinging
		call.AppendEvent(types.NewCallEvent(types.CallEventStatus, time.Now(), map[string]any{"status": "ringing"}), 10)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, types.CallStatusRinging, updated.Status)

	bySID, err := s.Calls().GetByTwilioSID(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, c.ID, bySID.ID)
	require.Len(t, bySID.Events, 1)
	assert.Equal(t, types.CallEventStatus, bySID.Events[0].Type)

	sentinel := errors.New("abort")
	_, err = s.Calls().Update(ctx, c.ID, func(call *types.Call) error {
		call.Status = types.CallStatusFailed
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	got, err := s.Calls().Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CallStatusRinging, got.Status)

	list, err := s.Calls().List(ctx, owner, store.CallFilter{LeadID: &lead.ID})
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, err = s.Calls().List(ctx, owner, store.CallFilter{Status: types.CallStatusCompleted})
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = s.Calls().Update(ctx, uuid.New(), func(*types.Call) error { return nil })
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testCallUpdateAtomic(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := newOwner(t, s)
	c := &types.Call{OwnerID: owner, To: "+1", From: "+2", Direction: types.CallDirectionOutbound, Status: types.CallStatusInProgress, Mode: types.CallModeAI}
	require.NoError(t, s.Calls().Create(ctx, c))

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Calls().Update(ctx, c.ID, func(call *types.Call) error {
				call.DurationSeconds++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Calls().Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, n, got.DurationSeconds)
}

func testRecordModify(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := newOwner(t, s)

	lead := &types.Lead{OwnerID: owner, Name: "Hooli", Status: types.LeadStatusNew, Notes: "first"}
	require.NoError(t, s.Leads().Create(ctx, lead))

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Leads().Modify(ctx, owner, lead.ID, func(l *types.Lead) error {
				l.Score++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Leads().Get(ctx, owner, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, n, got.Score)
	assert.Equal(t, "first", got.Notes)

	sentinel := errors.New("abort")
	_, err = s.Leads().Modify(ctx, owner, lead.ID, func(l *types.Lead) error {
		l.Status = types.LeadStatusLost
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	_, err = s.Leads().Modify(ctx, uuid.New(), lead.ID, func(*types.Lead) error { return nil })
	require.ErrorIs(t, err, store.ErrNotFound)

	c := &types.Contact{OwnerID: owner, Name: "Gavin", Email: "gavin@hooli.example", Company: "Hooli"}
	require.NoError(t, s.Contacts().Create(ctx, c))
	other := &types.Contact{OwnerID: owner, Name: "Richard", Email: "richard@piedpiper.example"}
	require.NoError(t, s.Contacts().Create(ctx, other))

	at := time.Now().UTC().Truncate(time.Second)
	updated, err := s.Contacts().Modify(ctx, owner, c.ID, func(c *types.Contact) error {
		c.LastContactedAt = &at
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, updated.LastContactedAt)
	assert.True(t, at.Equal(*updated.LastContactedAt))
	assert.Equal(t, "Hooli", updated.Company)

	_, err = s.Contacts().Modify(ctx, owner, other.ID, func(c *types.Contact) error {
		c.Email = "gavin@hooli.example"
		return nil
	})
	require.ErrorIs(t, err, store.ErrConflict)
}

func testTranscripts(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := newOwner(t, s)
	c := &types.Call{OwnerID: owner, To: "+1", From: "+2", Direction: types.CallDirectionOutbound, Status: types.CallStatusInProgress, Mode: types.CallModeAI}
	require.NoError(t, s.Calls().Create(ctx, c))

	for i, text := range []string{"hello", "hi there"} {
		speaker := types.SpeakerCaller
		if i == 1 {
			speaker = types.SpeakerAI
		}
		require.NoError(t, s.Transcripts().Append(ctx, &types.TranscriptEntry{CallID: c.ID, Speaker: speaker, Text: text}, 2))
	}
	err := s.Transcripts().Append(ctx, &types.TranscriptEntry{CallID: c.ID, Speaker: types.SpeakerCaller, Text: "third"}, 2)
	require.ErrorIs(t, err, store.ErrLimit)

	entries, err := s.Transcripts().List(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "hello", entries[0].Text)
	assert.Equal(t, types.SpeakerAI, entries[1].Speaker)
	assert.NotEmpty(t, entries[0].ID)
}

func testCalendar(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := newOwner(t, s)
	base := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

	morning := &types.CalendarEvent{OwnerID: owner, Title: "Demo", Type: types.CalendarEventMeeting, Start: base, End: base.Add(time.Hour)}
	afternoon := &types.CalendarEvent{OwnerID: owner, Title: "Follow up", Type: types.CalendarEventFollowUp, Start: base.Add(5 * time.Hour), End: base.Add(6 * time.Hour)}
	require.NoError(t, s.Calendar().Create(ctx, morning))
	require.NoError(t, s.Calendar().Create(ctx, afternoon))

	hits, err := s.Calendar().Overlapping(ctx, owner, base.Add(30*time.Minute), base.Add(2*time.Hour), uuid.Nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, morning.ID, hits[0].ID)

	hits, err = s.Calendar().Overlapping(ctx, owner, base.Add(30*time.Minute), base.Add(2*time.Hour), morning.ID)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = s.Calendar().Overlapping(ctx, owner, base.Add(time.Hour), base.Add(2*time.Hour), uuid.Nil)
	require.NoError(t, err)
	assert.Empty(t, hits, "back-to-back events do not overlap")

	all, err := s.Calendar().List(ctx, owner, base, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, morning.ID, all[0].ID)

	afternoon.Title = "Follow up call"
	require.NoError(t, s.Calendar().Update(ctx, afternoon))
	got, err := s.Calendar().Get(ctx, owner, afternoon.ID)
	require.NoError(t, err)
	assert.Equal(t, "Follow up call", got.Title)

	require.NoError(t, s.Calendar().Delete(ctx, owner, morning.ID))
	_, err = s.Calendar().Get(ctx, owner, morning.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testSettings(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := newOwner(t, s)

	got, err := s.Settings().Get(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, types.DefaultUserSettings(owner).Timezone, got.Timezone)
	assert.True(t, got.AutoInsights)

	got.AgentID = "agent_123"
	got.AutoInsights = false
	require.NoError(t, s.Settings().Put(ctx, &got))

	again, err := s.Settings().Get(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, "agent_123", again.AgentID)
	assert.False(t, again.AutoInsights)
}

func testStats(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := newOwner(t, s)
	now := time.Now().UTC()

	require.NoError(t, s.Contacts().Create(ctx, &types.Contact{OwnerID: owner, Name: "A"}))
	require.NoError(t, s.Leads().Create(ctx, &types.Lead{OwnerID: owner, Name: "L", Status: types.LeadStatusQualified}))

	done := &types.Call{OwnerID: owner, To: "+1", From: "+2", Direction: types.CallDirectionOutbound, Status: types.CallStatusQueued, Mode: types.CallModeAI}
	live := &types.Call{OwnerID: owner, To: "+1", From: "+2", Direction: types.CallDirectionOutbound, Status: types.CallStatusRinging, Mode: types.CallModeAI}
	require.NoError(t, s.Calls().Create(ctx, done))
	require.NoError(t, s.Calls().Create(ctx, live))
	_, err := s.Calls().Update(ctx, done.ID, func(c *types.Call) error {
		c.Status = types.CallStatusCompleted
		c.DurationSeconds = 90
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.Calendar().Create(ctx, &types.CalendarEvent{
		OwnerID: owner, Title: "Soon", Type: types.CalendarEventCall,
		Start: now.Add(24 * time.Hour), End: now.Add(25 * time.Hour),
	}))

	stats, err := s.Stats(ctx, owner, store.StatsWindow{
		DayStart:      now.Add(-time.Hour),
		Now:           now,
		UpcomingUntil: now.Add(7 * 24 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Contacts)
	assert.Equal(t, 1, stats.LeadsByStatus[types.LeadStatusQualified])
	assert.Equal(t, 0, stats.LeadsByStatus[types.LeadStatusLost])
	assert.Equal(t, 2, stats.CallsToday)
	assert.Equal(t, 1, stats.ActiveCalls)
	assert.InDelta(t, 90.0, stats.AvgCallDurationSeconds, 0.001)
	assert.Equal(t, 1, stats.UpcomingEvents)
}
