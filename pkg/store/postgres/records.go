package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mohit-ai/mohit/pkg/core/types"
	"github.com/mohit-ai/mohit/pkg/store"
)

type userStore struct{ s *Store }

func (u userStore) Create(ctx context.Context, user *types.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = u.s.now().UTC()
	}
	user.Email = types.NormalizeEmail(user.Email)
	_, err := u.s.pool.Exec(ctx, `
		INSERT INTO users (id, email, name, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.Email, user.Name, user.PasswordHash, user.CreatedAt)
	return translate(err)
}

func (u userStore) Get(ctx context.Context, id uuid.UUID) (*types.User, error) {
	return u.scanOne(ctx, `SELECT id, email, name, password_hash, created_at FROM users WHERE id = $1`, id)
}

func (u userStore) GetByEmail(ctx context.Context, email string) (*types.User, error) {
	return u.scanOne(ctx, `SELECT id, email, name, password_hash, created_at FROM users WHERE email = $1`, types.NormalizeEmail(email))
}

func (u userStore) scanOne(ctx context.Context, query string, arg any) (*types.User, error) {
	user := &types.User{}
	err := u.s.pool.QueryRow(ctx, query, arg).Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return user, nil
}

type contactStore struct{ s *Store }

const contactColumns = `id, owner_id, name, email, phone, company, title, lead_score, tags, notes, last_contacted_at, created_at, updated_at`

func scanContact(row pgx.Row) (*types.Contact, error) {
	c := &types.Contact{}
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Email, &c.Phone, &c.Company, &c.Title,
		&c.LeadScore, &c.Tags, &c.Notes, &c.LastContactedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, translate(err)
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	return c, nil
}

func (cs contactStore) Create(ctx context.Context, c *types.Contact) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := cs.s.now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Tags == nil {
		c.Tags = []string{}
	}
	_, err := cs.s.pool.Exec(ctx, `
		INSERT INTO contacts (`+contactColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, c.ID, c.OwnerID, c.Name, c.Email, c.Phone, c.Company, c.Title, c.LeadScore, c.Tags, c.Notes,
		c.LastContactedAt, c.CreatedAt, c.UpdatedAt)
	return translate(err)
}

func (cs contactStore) Get(ctx context.Context, ownerID, id uuid.UUID) (*types.Contact, error) {
	return scanContact(cs.s.pool.QueryRow(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE owner_id = $1 AND id = $2`, ownerID, id))
}

// rowQuerier is satisfied by both the pool and a transaction.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (cs contactStore) Update(ctx context.Context, c *types.Contact) error {
	return cs.write(ctx, cs.s.pool, c)
}

// Modify row-locks the contact for the duration of fn.
func (cs contactStore) Modify(ctx context.Context, ownerID, id uuid.UUID, fn func(c *types.Contact) error) (*types.Contact, error) {
	var out *types.Contact
	err := pgx.BeginFunc(ctx, cs.s.pool, func(tx pgx.Tx) error {
		existing, err := scanContact(tx.QueryRow(ctx,
			`SELECT `+contactColumns+` FROM contacts WHERE owner_id = $1 AND id = $2 FOR UPDATE`, ownerID, id))
		if err != nil {
			return err
		}
		working := *existing
		if err := fn(&working); err != nil {
			return fnError{err}
		}
		working.ID = existing.ID
		working.OwnerID = existing.OwnerID
		if err := cs.write(ctx, tx, &working); err != nil {
			return err
		}
		out = &working
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

func (cs contactStore) write(ctx context.Context, q rowQuerier, c *types.Contact) error {
	c.UpdatedAt = cs.s.now().UTC()
	if c.Tags == nil {
		c.Tags = []string{}
	}
	err := q.QueryRow(ctx, `
		UPDATE contacts SET name = $3, email = $4, phone = $5, company = $6, title = $7,
			lead_score = $8, tags = $9, notes = $10, last_contacted_at = $11, updated_at = $12
		WHERE owner_id = $1 AND id = $2
		RETURNING created_at
	`, c.OwnerID, c.ID, c.Name, c.Email, c.Phone, c.Company, c.Title, c.LeadScore, c.Tags, c.Notes,
		c.LastContactedAt, c.UpdatedAt).Scan(&c.CreatedAt)
	return translate(err)
}

func (cs contactStore) Delete(ctx context.Context, ownerID, id uuid.UUID) error {
	return requireRow(cs.s.pool.Exec(ctx, `DELETE FROM contacts WHERE owner_id = $1 AND id = $2`, ownerID, id))
}

func (cs contactStore) List(ctx context.Context, ownerID uuid.UUID, f store.ContactFilter) ([]types.Contact, error) {
	q := newQuery(`SELECT `+contactColumns+` FROM contacts WHERE owner_id = $1`, ownerID)
	if needle := strings.TrimSpace(f.Query); needle != "" {
		p := q.arg("%" + escapeLike(needle) + "%")
		q.where(fmt.Sprintf("(name ILIKE %[1]s OR email ILIKE %[1]s OR company ILIKE %[1]s OR phone ILIKE %[1]s)", p))
	}
	if tag := strings.ToLower(strings.TrimSpace(f.Tag)); tag != "" {
		q.where(q.arg(tag) + " = ANY(tags)")
	}
	q.page("created_at DESC, id", f.Limit, f.Offset)

	rows, err := cs.s.pool.Query(ctx, q.sql(), q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []types.Contact{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

type leadStore struct{ s *Store }

const leadColumns = `id, owner_id, contact_id, name, email, phone, company, source, status, score, notes, created_at, updated_at`

func scanLead(row pgx.Row) (*types.Lead, error) {
	l := &types.Lead{}
	var status string
	err := row.Scan(&l.ID, &l.OwnerID, &l.ContactID, &l.Name, &l.Email, &l.Phone, &l.Company,
		&l.Source, &status, &l.Score, &l.Notes, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, translate(err)
	}
	l.Status = types.LeadStatus(status)
	return l, nil
}

func (ls leadStore) Create(ctx context.Context, l *types.Lead) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	now := ls.s.now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now
	_, err := ls.s.pool.Exec(ctx, `
		INSERT INTO leads (`+leadColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, l.ID, l.OwnerID, l.ContactID, l.Name, l.Email, l.Phone, l.Company, l.Source, string(l.Status),
		l.Score, l.Notes, l.CreatedAt, l.UpdatedAt)
	return translate(err)
}

func (ls leadStore) Get(ctx context.Context, ownerID, id uuid.UUID) (*types.Lead, error) {
	return scanLead(ls.s.pool.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE owner_id = $1 AND id = $2`, ownerID, id))
}

func (ls leadStore) Update(ctx context.Context, l *types.Lead) error {
	return ls.write(ctx, ls.s.pool, l)
}

// Modify row-locks the lead for the duration of fn.
func (ls leadStore) Modify(ctx context.Context, ownerID, id uuid.UUID, fn func(l *types.Lead) error) (*types.Lead, error) {
	var out *types.Lead
	err := pgx.BeginFunc(ctx, ls.s.pool, func(tx pgx.Tx) error {
		existing, err := scanLead(tx.QueryRow(ctx,
			`SELECT `+leadColumns+` FROM leads WHERE owner_id = $1 AND id = $2 FOR UPDATE`, ownerID, id))
		if err != nil {
			return err
		}
		working := *existing
		if err := fn(&working); err != nil {
			return fnError{err}
		}
		working.ID = existing.ID
		working.OwnerID = existing.OwnerID
		if err := ls.write(ctx, tx, &working); err != nil {
			return err
		}
		out = &working
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

func (ls leadStore) write(ctx context.Context, q rowQuerier, l *types.Lead) error {
	l.UpdatedAt = ls.s.now().UTC()
	err := q.QueryRow(ctx, `
		UPDATE leads SET contact_id = $3, name = $4, email = $5, phone = $6, company = $7,
			source = $8, status = $9, score = $10, notes = $11, updated_at = $12
		WHERE owner_id = $1 AND id = $2
		RETURNING created_at
	`, l.OwnerID, l.ID, l.ContactID, l.Name, l.Email, l.Phone, l.Company, l.Source, string(l.Status),
		l.Score, l.Notes, l.UpdatedAt).Scan(&l.CreatedAt)
	return translate(err)
}

func (ls leadStore) Delete(ctx context.Context, ownerID, id uuid.UUID) error {
	return requireRow(ls.s.pool.Exec(ctx, `DELETE FROM leads WHERE owner_id = $1 AND id = $2`, ownerID, id))
}

func (ls leadStore) List(ctx context.Context, ownerID uuid.UUID, f store.LeadFilter) ([]types.Lead, error) {
	q := newQuery(`SELECT `+leadColumns+` FROM leads WHERE owner_id = $1`, ownerID)
	if f.Status != "" {
		q.where("status = " + q.arg(string(f.Status)))
	}
	if needle := strings.TrimSpace(f.Query); needle != "" {
		p := q.arg("%" + escapeLike(needle) + "%")
		q.where(fmt.Sprintf("(name ILIKE %[1]s OR email ILIKE %[1]s OR company ILIKE %[1]s OR phone ILIKE %[1]s)", p))
	}
	q.page("created_at DESC, id", f.Limit, f.Offset)

	rows, err := ls.s.pool.Query(ctx, q.sql(), q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []types.Lead{}
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

type calendarStore struct{ s *Store }

const eventColumns = `id, owner_id, title, type, start_at, end_at, lead_id, contact_id, call_id, location, notes, created_at, updated_at`

func scanEvent(row pgx.Row) (*types.CalendarEvent, error) {
	e := &types.CalendarEvent{}
	var typ string
	err := row.Scan(&e.ID, &e.OwnerID, &e.Title, &typ, &e.Start, &e.End, &e.LeadID, &e.ContactID,
		&e.CallID, &e.Location, &e.Notes, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, translate(err)
	}
	e.Type = types.CalendarEventType(typ)
	return e, nil
}

func (cs calendarStore) Create(ctx context.Context, e *types.CalendarEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := cs.s.now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now
	_, err := cs.s.pool.Exec(ctx, `
		INSERT INTO calendar_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, e.ID, e.OwnerID, e.Title, string(e.Type), e.Start, e.End, e.LeadID, e.ContactID, e.CallID,
		e.Location, e.Notes, e.CreatedAt, e.UpdatedAt)
	return translate(err)
}

func (cs calendarStore) Get(ctx context.Context, ownerID, id uuid.UUID) (*types.CalendarEvent, error) {
	return scanEvent(cs.s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM calendar_events WHERE owner_id = $1 AND id = $2`, ownerID, id))
}

func (cs calendarStore) Update(ctx context.Context, e *types.CalendarEvent) error {
	e.UpdatedAt = cs.s.now().UTC()
	err := cs.s.pool.QueryRow(ctx, `
		UPDATE calendar_events SET title = $3, type = $4, start_at = $5, end_at = $6, lead_id = $7,
			contact_id = $8, call_id = $9, location = $10, notes = $11, updated_at = $12
		WHERE owner_id = $1 AND id = $2
		RETURNING created_at
	`, e.OwnerID, e.ID, e.Title, string(e.Type), e.Start, e.End, e.LeadID, e.ContactID, e.CallID,
		e.Location, e.Notes, e.UpdatedAt).Scan(&e.CreatedAt)
	return translate(err)
}

func (cs calendarStore) Delete(ctx context.Context, ownerID, id uuid.UUID) error {
	return requireRow(cs.s.pool.Exec(ctx, `DELETE FROM calendar_events WHERE owner_id = $1 AND id = $2`, ownerID, id))
}

func (cs calendarStore) List(ctx context.Context, ownerID uuid.UUID, from, to time.Time) ([]types.CalendarEvent, error) {
	q := newQuery(`SELECT `+eventColumns+` FROM calendar_events WHERE owner_id = $1`, ownerID)
	if !from.IsZero() {
		q.where("end_at > " + q.arg(from))
	}
	if !to.IsZero() {
		q.where("start_at < " + q.arg(to))
	}
	q.order("start_at, id")
	return cs.collect(ctx, q)
}

func (cs calendarStore) Overlapping(ctx context.Context, ownerID uuid.UUID, start, end time.Time, excludeID uuid.UUID) ([]types.CalendarEvent, error) {
	q := newQuery(`SELECT `+eventColumns+` FROM calendar_events WHERE owner_id = $1`, ownerID)
	q.where("start_at < " + q.arg(end))
	q.where("end_at > " + q.arg(start))
	if excludeID != uuid.Nil {
		q.where("id <> " + q.arg(excludeID))
	}
	q.order("start_at, id")
	return cs.collect(ctx, q)
}

func (cs calendarStore) collect(ctx context.Context, q *query) ([]types.CalendarEvent, error) {
	rows, err := cs.s.pool.Query(ctx, q.sql(), q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []types.CalendarEvent{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

type settingsStore struct{ s *Store }

func (ss settingsStore) Get(ctx context.Context, userID uuid.UUID) (types.UserSettings, error) {
	v := types.UserSettings{UserID: userID}
	err := ss.s.pool.QueryRow(ctx, `
		SELECT agent_id, voice_id, greeting, human_forward_number, record_calls, auto_insights, timezone, updated_at
		FROM user_settings WHERE user_id = $1
	`, userID).Scan(&v.AgentID, &v.VoiceID, &v.Greeting, &v.HumanForwardNumber, &v.RecordCalls,
		&v.AutoInsights, &v.Timezone, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.DefaultUserSettings(userID), nil
	}
	if err != nil {
		return types.UserSettings{}, err
	}
	return v, nil
}

func (ss settingsStore) Put(ctx context.Context, v *types.UserSettings) error {
	v.UpdatedAt = ss.s.now().UTC()
	_, err := ss.s.pool.Exec(ctx, `
		INSERT INTO user_settings (user_id, agent_id, voice_id, greeting, human_forward_number, record_calls, auto_insights, timezone, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			agent_id = EXCLUDED.agent_id,
			voice_id = EXCLUDED.voice_id,
			greeting = EXCLUDED.greeting,
			human_forward_number = EXCLUDED.human_forward_number,
			record_calls = EXCLUDED.record_calls,
			auto_insights = EXCLUDED.auto_insights,
			timezone = EXCLUDED.timezone,
			updated_at = EXCLUDED.updated_at
	`, v.UserID, v.AgentID, v.VoiceID, v.Greeting, v.HumanForwardNumber, v.RecordCalls, v.AutoInsights,
		v.Timezone, v.UpdatedAt)
	return translate(err)
}

// query accumulates WHERE clauses and positional args.
type query struct {
	base    string
	clauses []string
	args    []any
	tail    string
}

func newQuery(base string, args ...any) *query {
	return &query{base: base, args: args}
}

func (q *query) arg(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

func (q *query) where(clause string) { q.clauses = append(q.clauses, clause) }

func (q *query) order(by string) { q.tail = " ORDER BY " + by }

func (q *query) page(by string, limit, offset int) {
	if offset < 0 {
		offset = 0
	}
	q.order(by)
	q.tail += fmt.Sprintf(" LIMIT %d OFFSET %d", store.ClampLimit(limit), offset)
}

func (q *query) sql() string {
	var b strings.Builder
	b.WriteString(q.base)
	for _, c := range q.clauses {
		b.WriteString(" AND ")
		b.WriteString(c)
	}
	b.WriteString(q.tail)
	return b.String()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
