// Package postgres is the PostgreSQL store backend.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mohit-ai/mohit/pkg/core/types"
	"github.com/mohit-ai/mohit/pkg/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store implements store.Store on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ store.Store = (*Store)(nil)

type Options struct {
	MaxConns        int32
	ConnMaxLifetime time.Duration
}

// Open connects and pings. Schema is not touched; run Migrate for that.
func Open(ctx context.Context, dsn string, opts Options) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.ConnMaxLifetime > 0 {
		cfg.MaxConnLifetime = opts.ConnMaxLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool, now: time.Now}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Users() store.UserStore             { return userStore{s} }
func (s *Store) Contacts() store.ContactStore       { return contactStore{s} }
func (s *Store) Leads() store.LeadStore             { return leadStore{s} }
func (s *Store) Calls() store.CallStore             { return callStore{s} }
func (s *Store) Transcripts() store.TranscriptStore { return transcriptStore{s} }
func (s *Store) Calendar() store.CalendarStore      { return calendarStore{s} }
func (s *Store) Settings() store.SettingsStore      { return settingsStore{s} }

// MigrationCommand selects what Migrate does.
type MigrationCommand string

const (
	MigrateUp     MigrationCommand = "up"
	MigrateDown   MigrationCommand = "down"
	MigrateStatus MigrationCommand = "status"
)

// MigrationLine is one row of migrate output.
type MigrationLine struct {
	Version int64
	Path    string
	State   string
}

// Migrate runs the embedded goose migrations against the pool.
func (s *Store) Migrate(ctx context.Context, cmd MigrationCommand) ([]MigrationLine, error) {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return nil, err
	}
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}

	var out []MigrationLine
	switch cmd {
	case MigrateUp:
		results, err := provider.Up(ctx)
		if err != nil {
			return nil, fmt.Errorf("migrate up: %w", err)
		}
		for _, r := range results {
			out = append(out, MigrationLine{Version: r.Source.Version, Path: r.Source.Path, State: "applied"})
		}
	case MigrateDown:
		r, err := provider.Down(ctx)
		if err != nil {
			return nil, fmt.Errorf("migrate down: %w", err)
		}
		if r != nil {
			out = append(out, MigrationLine{Version: r.Source.Version, Path: r.Source.Path, State: "rolled back"})
		}
	case MigrateStatus:
		statuses, err := provider.Status(ctx)
		if err != nil {
			return nil, fmt.Errorf("migrate status: %w", err)
		}
		for _, st := range statuses {
			out = append(out, MigrationLine{Version: st.Source.Version, Path: st.Source.Path, State: string(st.State)})
		}
	default:
		return nil, fmt.Errorf("unknown migrate command %q", cmd)
	}
	return out, nil
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return store.ErrConflict
	}
	return err
}

func requireRow(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Stats(ctx context.Context, ownerID uuid.UUID, w store.StatsWindow) (store.DashboardStats, error) {
	out := store.DashboardStats{LeadsByStatus: make(map[types.LeadStatus]int)}
	for _, st := range types.LeadStatuses {
		out.LeadsByStatus[st] = 0
	}

	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM contacts WHERE owner_id = $1`, ownerID).Scan(&out.Contacts); err != nil {
		return out, fmt.Errorf("count contacts: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM leads WHERE owner_id = $1 GROUP BY status`, ownerID)
	if err != nil {
		return out, fmt.Errorf("count leads: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return out, err
		}
		out.LeadsByStatus[types.LeadStatus(status)] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return out, err
	}

	var avg *float64
	err = s.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE created_at >= $2),
			count(*) FILTER (WHERE status IN ('queued', 'initiated', 'ringing', 'in_progress')),
			(avg(duration_seconds) FILTER (WHERE status = 'completed'))::float8
		FROM calls WHERE owner_id = $1
	`, ownerID, w.DayStart).Scan(&out.CallsToday, &out.ActiveCalls, &avg)
	if err != nil {
		return out, fmt.Errorf("call stats: %w", err)
	}
	if avg != nil {
		out.AvgCallDurationSeconds = *avg
	}

	err = s.pool.QueryRow(ctx, `
		SELECT count(*) FROM calendar_events
		WHERE owner_id = $1 AND start_at >= $2 AND start_at < $3
	`, ownerID, w.Now, w.UpcomingUntil).Scan(&out.UpcomingEvents)
	if err != nil {
		return out, fmt.Errorf("count upcoming events: %w", err)
	}
	return out, nil
}
