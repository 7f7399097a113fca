package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/erichli1/acamafia/internal/domain/model"
	"github.com/erichli1/acamafia/pkg/metrics"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS compers (
	identity        TEXT PRIMARY KEY,
	preferred_name  TEXT NOT NULL,
	ranked_groups   TEXT[] NOT NULL,
	unranked_groups TEXT[] NOT NULL DEFAULT '{}',
	statuses        TEXT[] NOT NULL,
	matched         BOOLEAN NOT NULL DEFAULT FALSE,
	matched_group   TEXT NOT NULL DEFAULT '',
	match_scheduled BOOLEAN NOT NULL DEFAULT FALSE,
	announcement_id TEXT NOT NULL DEFAULT '',
	announce_at     TIMESTAMPTZ,
	version         BIGINT NOT NULL DEFAULT 1,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS updates (
	seq             BIGSERIAL PRIMARY KEY,
	id              TEXT NOT NULL UNIQUE,
	name            TEXT NOT NULL,
	email           TEXT NOT NULL,
	group_name      TEXT NOT NULL,
	relevant_groups TEXT[] NOT NULL DEFAULT '{}',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS group_affiliations (
	email      TEXT PRIMARY KEY,
	group_name TEXT NOT NULL,
	admin      BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS delay_config (
	id          SMALLINT PRIMARY KEY CHECK (id = 1),
	baseline_ms BIGINT NOT NULL,
	range_ms    BIGINT NOT NULL
);
`

const comperColumns = `identity, preferred_name, ranked_groups, unranked_groups, statuses,
	matched, matched_group, match_scheduled, announcement_id, announce_at, version, created_at`

// PostgresStore is a Store backed by PostgreSQL. Comper updates lock the row
// with SELECT ... FOR UPDATE for the duration of the mutate callback.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to dsn and applies the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := NewPostgresStoreFromDB(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreFromDB wraps an existing connection pool.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates missing tables.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) CreateComper(ctx context.Context, c *model.Comper) error {
	defer observe("create", time.Now())

	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	query := `
		INSERT INTO compers (identity, preferred_name, ranked_groups, unranked_groups, statuses, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		c.Identity,
		c.PreferredName,
		pq.Array(c.RankedGroups),
		pq.Array(nonNil(c.UnrankedGroups)),
		pq.Array(statusStrings(c.Statuses)),
		createdAt,
	)
	if err != nil {
		metrics.RecordStoreError("create")
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("comper %s: %w", c.Identity, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create comper: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetComper(ctx context.Context, id string) (*model.Comper, error) {
	defer observe("get", time.Now())

	query := `SELECT ` + comperColumns + ` FROM compers WHERE identity = $1`
	c, err := scanComper(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("comper %s: %w", id, ErrNotFound)
		}
		metrics.RecordStoreError("get")
		return nil, fmt.Errorf("failed to get comper: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListCompers(ctx context.Context) ([]*model.Comper, error) {
	defer observe("list", time.Now())

	query := `SELECT ` + comperColumns + ` FROM compers ORDER BY created_at, identity`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		metrics.RecordStoreError("list")
		return nil, fmt.Errorf("failed to list compers: %w", err)
	}
	defer rows.Close()

	var out []*model.Comper
	for rows.Next() {
		c, err := scanComper(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan comper: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate compers: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateComper(ctx context.Context, id string, fn MutateFunc) (*model.Comper, *model.UpdateEntry, error) {
	defer observe("update", time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		metrics.RecordStoreError("update")
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `SELECT ` + comperColumns + ` FROM compers WHERE identity = $1 FOR UPDATE`
	c, err := scanComper(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("comper %s: %w", id, ErrNotFound)
		}
		metrics.RecordStoreError("update")
		return nil, nil, fmt.Errorf("failed to lock comper: %w", err)
	}

	entry, err := fn(c)
	if err != nil {
		return nil, nil, err
	}
	c.Identity = id
	c.Version++

	update := `
		UPDATE compers
		SET statuses = $2, matched = $3, matched_group = $4, match_scheduled = $5,
			announcement_id = $6, announce_at = $7, version = $8
		WHERE identity = $1
	`
	if _, err := tx.ExecContext(ctx, update,
		id,
		pq.Array(statusStrings(c.Statuses)),
		c.Matched,
		c.MatchedGroup,
		c.MatchScheduled,
		c.AnnouncementID,
		nullTime(c.AnnounceAt),
		c.Version,
	); err != nil {
		metrics.RecordStoreError("update")
		return nil, nil, fmt.Errorf("failed to update comper: %w", err)
	}

	var committed *model.UpdateEntry
	if entry != nil {
		e := *entry
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		insert := `
			INSERT INTO updates (id, name, email, group_name, relevant_groups)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING seq, created_at
		`
		if err := tx.QueryRowContext(ctx, insert,
			e.ID, e.Name, e.Email, e.Group, pq.Array(nonNil(e.RelevantGroups)),
		).Scan(&e.Seq, &e.CreatedAt); err != nil {
			metrics.RecordStoreError("update")
			return nil, nil, fmt.Errorf("failed to append update: %w", err)
		}
		committed = &e
	}

	if err := tx.Commit(); err != nil {
		metrics.RecordStoreError("update")
		return nil, nil, fmt.Errorf("failed to commit comper update: %w", err)
	}
	return c, committed, nil
}

func (s *PostgresStore) ListUpdates(ctx context.Context) ([]model.UpdateEntry, error) {
	defer observe("list_updates", time.Now())

	query := `
		SELECT seq, id, name, email, group_name, relevant_groups, created_at
		FROM updates
		ORDER BY seq
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		metrics.RecordStoreError("list_updates")
		return nil, fmt.Errorf("failed to list updates: %w", err)
	}
	defer rows.Close()

	var out []model.UpdateEntry
	for rows.Next() {
		var e model.UpdateEntry
		if err := rows.Scan(&e.Seq, &e.ID, &e.Name, &e.Email, &e.Group, pq.Array(&e.RelevantGroups), &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan update: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate updates: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) PutAffiliation(ctx context.Context, a model.Affiliation) error {
	query := `
		INSERT INTO group_affiliations (email, group_name, admin)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET group_name = EXCLUDED.group_name, admin = EXCLUDED.admin
	`
	if _, err := s.db.ExecContext(ctx, query, a.Email, a.Group, a.Admin); err != nil {
		metrics.RecordStoreError("put_affiliation")
		return fmt.Errorf("failed to put affiliation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAffiliation(ctx context.Context, email string) (model.Affiliation, error) {
	query := `SELECT email, group_name, admin FROM group_affiliations WHERE email = $1`
	var a model.Affiliation
	if err := s.db.QueryRowContext(ctx, query, email).Scan(&a.Email, &a.Group, &a.Admin); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Affiliation{}, fmt.Errorf("affiliation %s: %w", email, ErrNotFound)
		}
		metrics.RecordStoreError("get_affiliation")
		return model.Affiliation{}, fmt.Errorf("failed to get affiliation: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) GetDelayConfig(ctx context.Context) (model.DelayConfig, bool, error) {
	query := `SELECT baseline_ms, range_ms FROM delay_config WHERE id = 1`
	var cfg model.DelayConfig
	if err := s.db.QueryRowContext(ctx, query).Scan(&cfg.BaselineMS, &cfg.RangeMS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.DelayConfig{}, false, nil
		}
		metrics.RecordStoreError("get_delay")
		return model.DelayConfig{}, false, fmt.Errorf("failed to get delay config: %w", err)
	}
	return cfg, true, nil
}

func (s *PostgresStore) SetDelayConfig(ctx context.Context, cfg model.DelayConfig) error {
	query := `
		INSERT INTO delay_config (id, baseline_ms, range_ms)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET baseline_ms = EXCLUDED.baseline_ms, range_ms = EXCLUDED.range_ms
	`
	if _, err := s.db.ExecContext(ctx, query, cfg.BaselineMS, cfg.RangeMS); err != nil {
		metrics.RecordStoreError("set_delay")
		return fmt.Errorf("failed to set delay config: %w", err)
	}
	return nil
}

func (s *PostgresStore) ResetRound(ctx context.Context) (int, error) {
	defer observe("reset", time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	reset := `
		UPDATE compers
		SET statuses = array_fill('undecided'::text, ARRAY[cardinality(ranked_groups)]),
			matched = FALSE, matched_group = '', match_scheduled = FALSE,
			announcement_id = '', announce_at = NULL, version = version + 1
	`
	res, err := tx.ExecContext(ctx, reset)
	if err != nil {
		metrics.RecordStoreError("reset")
		return 0, fmt.Errorf("failed to reset compers: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count reset compers: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM updates`); err != nil {
		metrics.RecordStoreError("reset")
		return 0, fmt.Errorf("failed to purge updates: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit reset: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE NOT matched AND NOT match_scheduled),
			COUNT(*) FILTER (WHERE NOT matched AND match_scheduled),
			COUNT(*) FILTER (WHERE matched),
			(SELECT COUNT(*) FROM updates)
		FROM compers
	`
	var st Stats
	if err := s.db.QueryRowContext(ctx, query).Scan(&st.Compers, &st.Pending, &st.Scheduled, &st.Matched, &st.Updates); err != nil {
		return Stats{}, fmt.Errorf("failed to read stats: %w", err)
	}
	return st, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanComper(row rowScanner) (*model.Comper, error) {
	var (
		c          model.Comper
		statuses   []string
		announceAt sql.NullTime
	)
	err := row.Scan(
		&c.Identity,
		&c.PreferredName,
		pq.Array(&c.RankedGroups),
		pq.Array(&c.UnrankedGroups),
		pq.Array(&statuses),
		&c.Matched,
		&c.MatchedGroup,
		&c.MatchScheduled,
		&c.AnnouncementID,
		&announceAt,
		&c.Version,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Statuses = make([]model.Status, len(statuses))
	for i, st := range statuses {
		c.Statuses[i] = model.Status(st)
	}
	if c.UnrankedGroups == nil {
		c.UnrankedGroups = []string{}
	}
	if announceAt.Valid {
		c.AnnounceAt = announceAt.Time
	}
	return &c, nil
}

func statusStrings(in []model.Status) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
