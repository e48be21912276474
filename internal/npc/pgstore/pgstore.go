// Package pgstore provides a PostgreSQL-backed [npc.Store].
//
// Records live in a single npcs table. The personality triple and the label
// lists are stored as JSONB columns; insertion order is kept through a
// BIGSERIAL sequence column so that List matches the in-memory store.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/npcforge/internal/npc"
)

// Schema is the SQL DDL for the npcs table. Execute it via [Store.Migrate]
// or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS npcs (
    seq               BIGSERIAL,
    id                TEXT PRIMARY KEY,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
    name              TEXT NOT NULL,
    background        TEXT NOT NULL DEFAULT '',
    appearance        TEXT NOT NULL DEFAULT '',
    profile_image_url TEXT,
    personality       JSONB NOT NULL DEFAULT '{}',
    core_values       JSONB NOT NULL DEFAULT '[]',
    primary_aims      JSONB NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_npcs_seq ON npcs(seq);
`

// maxIDAttempts bounds ID regeneration on a unique-key collision.
const maxIDAttempts = 3

const selectColumns = `id, created_at, name, background, appearance, profile_image_url,
		       personality, core_values, primary_aims`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is an [npc.Store] backed by PostgreSQL.
type Store struct {
	db    DB
	newID func() string
	close func()
}

// Compile-time interface check.
var _ npc.Store = (*Store)(nil)

// New creates a [Store] on top of an existing connection or pool. The
// caller is responsible for calling [Store.Migrate] before issuing queries.
func New(db DB) *Store {
	return &Store{db: db, newID: uuid.NewString}
}

// Open creates a connection pool for dsn, pings it and applies [Schema].
// Close releases the pool.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	s := New(pool)
	s.close = pool.Close
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool created by [Open]. It is a no-op for stores built
// with [New].
func (s *Store) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}

// Migrate executes the [Schema] DDL against the database.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("pgstore: migrate: %w", err)
	}
	return nil
}

// Ping checks database reachability with a trivial query.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("pgstore: ping: %w", err)
	}
	return nil
}

// List implements [npc.Store.List].
func (s *Store) List(ctx context.Context) ([]npc.NPC, error) {
	rows, err := s.db.Query(ctx, `SELECT `+selectColumns+` FROM npcs ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list: %w", err)
	}
	defer rows.Close()

	out := []npc.NPC{}
	for rows.Next() {
		n, err := scanNPC(rows)
		if err != nil {
			return nil, fmt.Errorf("pgstore: list scan: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: list: %w", err)
	}
	return out, nil
}

// Get implements [npc.Store.Get].
func (s *Store) Get(ctx context.Context, id string) (npc.NPC, error) {
	row := s.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM npcs WHERE id = $1`, id)
	n, err := scanNPC(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return npc.NPC{}, npc.ErrNotFound
		}
		return npc.NPC{}, fmt.Errorf("pgstore: get %q: %w", id, err)
	}
	return n, nil
}

// Create implements [npc.Store.Create].
func (s *Store) Create(ctx context.Context, f npc.Fields) (npc.NPC, error) {
	personality, coreValues, primaryAims, err := marshalJSONColumns(f.Personality, f.CoreValues, f.PrimaryAims)
	if err != nil {
		return npc.NPC{}, err
	}

	const query = `
		INSERT INTO npcs (
			id, name, background, appearance, profile_image_url,
			personality, core_values, primary_aims
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at`

	for range maxIDAttempts {
		id := s.newID()
		var createdAt time.Time
		err := s.db.QueryRow(ctx, query,
			id, f.Name, f.Background, f.Appearance, f.ProfileImageURL,
			personality, coreValues, primaryAims,
		).Scan(&createdAt)
		if err != nil {
			if isDuplicateKeyError(err) {
				continue
			}
			return npc.NPC{}, fmt.Errorf("pgstore: create: %w", err)
		}
		n := npc.NPC{
			ID:              id,
			CreatedAt:       createdAt.UTC(),
			Name:            f.Name,
			Background:      f.Background,
			Appearance:      f.Appearance,
			ProfileImageURL: f.ProfileImageURL,
			Personality:     f.Personality,
			CoreValues:      f.CoreValues,
			PrimaryAims:     f.PrimaryAims,
		}
		return n.Clone(), nil
	}
	return npc.NPC{}, fmt.Errorf("pgstore: create: could not generate a unique id after %d attempts", maxIDAttempts)
}

// Update implements [npc.Store.Update]. The read-merge-write runs inside a
// transaction holding a row lock when the underlying DB supports it.
func (s *Store) Update(ctx context.Context, id string, p npc.Patch) (npc.NPC, error) {
	if b, ok := s.db.(interface {
		Begin(ctx context.Context) (pgx.Tx, error)
	}); ok {
		tx, err := b.Begin(ctx)
		if err != nil {
			return npc.NPC{}, fmt.Errorf("pgstore: update begin: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		n, err := update(ctx, tx, id, p, " FOR UPDATE")
		if err != nil {
			return npc.NPC{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return npc.NPC{}, fmt.Errorf("pgstore: update commit: %w", err)
		}
		return n, nil
	}
	return update(ctx, s.db, id, p, "")
}

func update(ctx context.Context, db DB, id string, p npc.Patch, lock string) (npc.NPC, error) {
	cur, err := scanNPC(db.QueryRow(ctx, `SELECT `+selectColumns+` FROM npcs WHERE id = $1`+lock, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return npc.NPC{}, npc.ErrNotFound
		}
		return npc.NPC{}, fmt.Errorf("pgstore: update %q: %w", id, err)
	}

	next := p.Apply(cur)
	personality, coreValues, primaryAims, err := marshalJSONColumns(next.Personality, next.CoreValues, next.PrimaryAims)
	if err != nil {
		return npc.NPC{}, err
	}

	const query = `
		UPDATE npcs SET
			name = $2, background = $3, appearance = $4, profile_image_url = $5,
			personality = $6, core_values = $7, primary_aims = $8
		WHERE id = $1`

	tag, err := db.Exec(ctx, query,
		id, next.Name, next.Background, next.Appearance, next.ProfileImageURL,
		personality, coreValues, primaryAims,
	)
	if err != nil {
		return npc.NPC{}, fmt.Errorf("pgstore: update %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return npc.NPC{}, npc.ErrNotFound
	}
	return next, nil
}

// Delete implements [npc.Store.Delete].
func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM npcs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("pgstore: delete %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return npc.ErrNotFound
	}
	return nil
}

// scanNPC reads one row in selectColumns order.
func scanNPC(row pgx.Row) (npc.NPC, error) {
	var n npc.NPC
	var imageURL *string
	var personality, coreValues, primaryAims []byte
	if err := row.Scan(
		&n.ID, &n.CreatedAt, &n.Name, &n.Background, &n.Appearance, &imageURL,
		&personality, &coreValues, &primaryAims,
	); err != nil {
		return npc.NPC{}, err
	}
	n.CreatedAt = n.CreatedAt.UTC()
	n.ProfileImageURL = imageURL
	if err := json.Unmarshal(personality, &n.Personality); err != nil {
		return npc.NPC{}, fmt.Errorf("unmarshal personality: %w", err)
	}
	if err := json.Unmarshal(coreValues, &n.CoreValues); err != nil {
		return npc.NPC{}, fmt.Errorf("unmarshal core_values: %w", err)
	}
	if err := json.Unmarshal(primaryAims, &n.PrimaryAims); err != nil {
		return npc.NPC{}, fmt.Errorf("unmarshal primary_aims: %w", err)
	}
	return n, nil
}

// marshalJSONColumns encodes the JSONB columns shared by insert and update.
func marshalJSONColumns(p npc.Personality, coreValues, primaryAims []string) (pj, cj, aj []byte, err error) {
	if pj, err = json.Marshal(p); err != nil {
		return nil, nil, nil, fmt.Errorf("pgstore: marshal personality: %w", err)
	}
	if cj, err = json.Marshal(emptySlice(coreValues)); err != nil {
		return nil, nil, nil, fmt.Errorf("pgstore: marshal core_values: %w", err)
	}
	if aj, err = json.Marshal(emptySlice(primaryAims)); err != nil {
		return nil, nil, nil, fmt.Errorf("pgstore: marshal primary_aims: %w", err)
	}
	return pj, cj, aj, nil
}

// emptySlice returns s if non-nil, otherwise an empty non-nil slice so that
// JSON encoding produces "[]" instead of "null".
func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
