package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mohit-ai/mohit/pkg/core/types"
	"github.com/mohit-ai/mohit/pkg/store"
)

type callStore struct{ s *Store }

const callColumns = `id, owner_id, COALESCE(twilio_sid, ''), lead_id, contact_id, to_number, from_number,
	direction, status, mode, conversation_id, created_at, updated_at, started_at, answered_at, ended_at,
	duration_seconds, events, recording, transcription_text, insights`

func scanCall(row pgx.Row) (*types.Call, error) {
	c := &types.Call{}
	var direction, status, mode string
	err := row.Scan(&c.ID, &c.OwnerID, &c.TwilioSID, &c.LeadID, &c.ContactID, &c.To, &c.From,
		&direction, &status, &mode, &c.ConversationID, &c.CreatedAt, &c.UpdatedAt, &c.StartedAt,
		&c.AnsweredAt, &c.EndedAt, &c.DurationSeconds, &c.Events, &c.Recording, &c.TranscriptionText,
		&c.Insights)
	if err != nil {
		return nil, translate(err)
	}
	c.Direction = types.CallDirection(direction)
	c.Status = types.CallStatus(status)
	c.Mode = types.CallMode(mode)
	if c.Events == nil {
		c.Events = []types.CallEvent{}
	}
	return c, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (cs callStore) Create(ctx context.Context, c *types.Call) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := cs.s.now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Events == nil {
		c.Events = []types.CallEvent{}
	}
	_, err := cs.s.pool.Exec(ctx, `
		INSERT INTO calls (id, owner_id, twilio_sid, lead_id, contact_id, to_number, from_number,
			direction, status, mode, conversation_id, created_at, updated_at, started_at, answered_at,
			ended_at, duration_seconds, events, recording, transcription_text, insights)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`, c.ID, c.OwnerID, nullable(c.TwilioSID), c.LeadID, c.ContactID, c.To, c.From,
		string(c.Direction), string(c.Status), string(c.Mode), c.ConversationID, c.CreatedAt, c.UpdatedAt,
		c.StartedAt, c.AnsweredAt, c.EndedAt, c.DurationSeconds, c.Events, c.Recording,
		c.TranscriptionText, c.Insights)
	return translate(err)
}

func (cs callStore) Get(ctx context.Context, id uuid.UUID) (*types.Call, error) {
	return scanCall(cs.s.pool.QueryRow(ctx, `SELECT `+callColumns+` FROM calls WHERE id = $1`, id))
}

func (cs callStore) GetByTwilioSID(ctx context.Context, sid string) (*types.Call, error) {
	if sid == "" {
		return nil, store.ErrNotFound
	}
	return scanCall(cs.s.pool.QueryRow(ctx, `SELECT `+callColumns+` FROM calls WHERE twilio_sid = $1`, sid))
}

func (cs callStore) List(ctx context.Context, ownerID uuid.UUID, f store.CallFilter) ([]types.Call, error) {
	q := newQuery(`SELECT `+callColumns+` FROM calls WHERE owner_id = $1`, ownerID)
	if f.LeadID != nil {
		q.where("lead_id = " + q.arg(*f.LeadID))
	}
	if f.Status != "" {
		q.where("status = " + q.arg(string(f.Status)))
	}
	q.page("created_at DESC, id", f.Limit, f.Offset)

	rows, err := cs.s.pool.Query(ctx, q.sql(), q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []types.Call{}
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

type fnError struct{ err error }

func (e fnError) Error() string { return e.err.Error() }
func (e fnError) Unwrap() error { return e.err }

// Update row-locks the call for the duration of fn.
func (cs callStore) Update(ctx context.Context, id uuid.UUID, fn func(c *types.Call) error) (*types.Call, error) {
	var out *types.Call
	err := pgx.BeginFunc(ctx, cs.s.pool, func(tx pgx.Tx) error {
		existing, err := scanCall(tx.QueryRow(ctx, `SELECT `+callColumns+` FROM calls WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		working := existing.Clone()
		if err := fn(working); err != nil {
			return fnError{err}
		}
		working.ID = existing.ID
		working.OwnerID = existing.OwnerID
		working.CreatedAt = existing.CreatedAt
		working.UpdatedAt = cs.s.now().UTC()
		if working.Events == nil {
			working.Events = []types.CallEvent{}
		}
		_, err = tx.Exec(ctx, `
			UPDATE calls SET twilio_sid = $2, lead_id = $3, contact_id = $4, to_number = $5,
				from_number = $6, direction = $7, status = $8, mode = $9, conversation_id = $10,
				updated_at = $11, started_at = $12, answered_at = $13, ended_at = $14,
				duration_seconds = $15, events = $16, recording = $17, transcription_text = $18,
				insights = $19
			WHERE id = $1
		`, id, nullable(working.TwilioSID), working.LeadID, working.ContactID, working.To, working.From,
			string(working.Direction), string(working.Status), string(working.Mode), working.ConversationID,
			working.UpdatedAt, working.StartedAt, working.AnsweredAt, working.EndedAt,
			working.DurationSeconds, working.Events, working.Recording, working.TranscriptionText,
			working.Insights)
		if err != nil {
			return translate(err)
		}
		out = working
		return nil
	})
	if err != nil {
		var fe fnError
		if errors.As(err, &fe) {
			return nil, fe.err
		}
		return nil, err
	}
	return out, nil
}

type transcriptStore struct{ s *Store }

func (ts transcriptStore) Append(ctx context.Context, e *types.TranscriptEntry, limit int) error {
	if e.At.IsZero() {
		e.At = ts.s.now().UTC()
	}
	if e.ID == "" {
		e.ID = types.NewEventID(e.At)
	}
	return pgx.BeginFunc(ctx, ts.s.pool, func(tx pgx.Tx) error {
		// Locking the parent call serialises appends so the cap holds.
		var one int
		if err := tx.QueryRow(ctx, `SELECT 1 FROM calls WHERE id = $1 FOR UPDATE`, e.CallID).Scan(&one); err != nil {
			return translate(err)
		}
		if limit > 0 {
			var n int
			if err := tx.QueryRow(ctx, `SELECT count(*) FROM transcript_entries WHERE call_id = $1`, e.CallID).Scan(&n); err != nil {
				return fmt.Errorf("count transcript: %w", err)
			}
			if n >= limit {
				return store.ErrLimit
			}
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO transcript_entries (id, call_id, speaker, text, at, confidence, sentiment)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, e.ID, e.CallID, string(e.Speaker), e.Text, e.At, e.Confidence, e.Sentiment)
		return translate(err)
	})
}

func (ts transcriptStore) List(ctx context.Context, callID uuid.UUID) ([]types.TranscriptEntry, error) {
	rows, err := ts.s.pool.Query(ctx, `
		SELECT id, call_id, speaker, text, at, confidence, sentiment
		FROM transcript_entries WHERE call_id = $1 ORDER BY at, id
	`, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []types.TranscriptEntry{}
	for rows.Next() {
		var e types.TranscriptEntry
		var speaker string
		if err := rows.Scan(&e.ID, &e.CallID, &speaker, &e.Text, &e.At, &e.Confidence, &e.Sentiment); err != nil {
			return nil, err
		}
		e.Speaker = types.Speaker(speaker)
		out = append(out, e)
	}
	return out, rows.Err()
}
