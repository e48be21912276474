// Package sqlitestore provides a SQLite-backed [npc.Store] for single-node
// deployments that want NPCs to survive a restart without running
// PostgreSQL.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/MrWong99/npcforge/internal/npc"
)

// Schema is the SQL DDL applied by [Open].
const Schema = `
CREATE TABLE IF NOT EXISTS npcs (
    seq               INTEGER PRIMARY KEY AUTOINCREMENT,
    id                TEXT NOT NULL UNIQUE,
    created_at        INTEGER NOT NULL,
    name              TEXT NOT NULL,
    background        TEXT NOT NULL DEFAULT '',
    appearance        TEXT NOT NULL DEFAULT '',
    profile_image_url TEXT,
    personality       TEXT NOT NULL DEFAULT '{}',
    core_values       TEXT NOT NULL DEFAULT '[]',
    primary_aims      TEXT NOT NULL DEFAULT '[]'
);
`

const maxIDAttempts = 3

const selectColumns = `id, created_at, name, background, appearance, profile_image_url,
	personality, core_values, primary_aims`

// Store persists NPCs in SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
	newID func() string
}

var _ npc.Store = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens (or creates) the SQLite database at path and applies [Schema].
// The special path ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlitestore: storage path is required")
	}

	dsn := ":memory:"
	maxConns := 1
	if path != ":memory:" {
		// Immediate transactions take the write lock at BEGIN, where
		// busy_timeout applies. A deferred read-then-write would fail with
		// SQLITE_BUSY once another connection commits in between.
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
		maxConns = 4
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	sqlDB.SetMaxOpenConns(maxConns)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlitestore: ping: %w", err)
	}
	if _, err := sqlDB.Exec(Schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlitestore: apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now, newID: uuid.NewString}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ping checks that the database handle is usable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlitestore: ping: %w", err)
	}
	return nil
}

// List implements [npc.Store.List].
func (s *Store) List(ctx context.Context) ([]npc.NPC, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT `+selectColumns+` FROM npcs ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list: %w", err)
	}
	defer rows.Close()

	out := []npc.NPC{}
	for rows.Next() {
		n, err := scanNPC(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: list scan: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitestore: list: %w", err)
	}
	return out, nil
}

// Get implements [npc.Store.Get].
func (s *Store) Get(ctx context.Context, id string) (npc.NPC, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM npcs WHERE id = ?`, id)
	n, err := scanNPC(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return npc.NPC{}, npc.ErrNotFound
		}
		return npc.NPC{}, fmt.Errorf("sqlitestore: get %q: %w", id, err)
	}
	return n, nil
}

// Create implements [npc.Store.Create].
func (s *Store) Create(ctx context.Context, f npc.Fields) (npc.NPC, error) {
	personality, coreValues, primaryAims, err := encodeJSONColumns(f.Personality, f.CoreValues, f.PrimaryAims)
	if err != nil {
		return npc.NPC{}, err
	}
	createdAt := fromMillis(toMillis(s.now()))

	for range maxIDAttempts {
		id := s.newID()
		_, err := s.sqlDB.ExecContext(ctx,
			`INSERT INTO npcs (
			   id, created_at, name, background, appearance, profile_image_url,
			   personality, core_values, primary_aims
			 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, toMillis(createdAt), f.Name, f.Background, f.Appearance, f.ProfileImageURL,
			personality, coreValues, primaryAims,
		)
		if err != nil {
			if isUniqueViolation(err) {
				continue
			}
			return npc.NPC{}, fmt.Errorf("sqlitestore: create: %w", err)
		}
		n := npc.NPC{
			ID:              id,
			CreatedAt:       createdAt,
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
	return npc.NPC{}, fmt.Errorf("sqlitestore: create: could not generate a unique id after %d attempts", maxIDAttempts)
}

// Update implements [npc.Store.Update].
func (s *Store) Update(ctx context.Context, id string, p npc.Patch) (npc.NPC, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return npc.NPC{}, fmt.Errorf("sqlitestore: update begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := scanNPC(tx.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM npcs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return npc.NPC{}, npc.ErrNotFound
		}
		return npc.NPC{}, fmt.Errorf("sqlitestore: update %q: %w", id, err)
	}

	next := p.Apply(cur)
	personality, coreValues, primaryAims, err := encodeJSONColumns(next.Personality, next.CoreValues, next.PrimaryAims)
	if err != nil {
		return npc.NPC{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE npcs SET
		   name = ?, background = ?, appearance = ?, profile_image_url = ?,
		   personality = ?, core_values = ?, primary_aims = ?
		 WHERE id = ?`,
		next.Name, next.Background, next.Appearance, next.ProfileImageURL,
		personality, coreValues, primaryAims, id,
	); err != nil {
		return npc.NPC{}, fmt.Errorf("sqlitestore: update %q: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return npc.NPC{}, fmt.Errorf("sqlitestore: update commit: %w", err)
	}
	return next, nil
}

// Delete implements [npc.Store.Delete].
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM npcs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlitestore: delete %q: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlitestore: delete %q: %w", id, err)
	}
	if affected == 0 {
		return npc.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNPC(row scanner) (npc.NPC, error) {
	var n npc.NPC
	var createdAt int64
	var imageURL sql.NullString
	var personality, coreValues, primaryAims string

	if err := row.Scan(
		&n.ID, &createdAt, &n.Name, &n.Background, &n.Appearance, &imageURL,
		&personality, &coreValues, &primaryAims,
	); err != nil {
		return npc.NPC{}, err
	}
	n.CreatedAt = fromMillis(createdAt)
	if imageURL.Valid {
		u := imageURL.String
		n.ProfileImageURL = &u
	}
	if err := json.Unmarshal([]byte(personality), &n.Personality); err != nil {
		return npc.NPC{}, fmt.Errorf("unmarshal personality: %w", err)
	}
	if err := json.Unmarshal([]byte(coreValues), &n.CoreValues); err != nil {
		return npc.NPC{}, fmt.Errorf("unmarshal core_values: %w", err)
	}
	if err := json.Unmarshal([]byte(primaryAims), &n.PrimaryAims); err != nil {
		return npc.NPC{}, fmt.Errorf("unmarshal primary_aims: %w", err)
	}
	return n, nil
}

func encodeJSONColumns(p npc.Personality, coreValues, primaryAims []string) (string, string, string, error) {
	pj, err := json.Marshal(p)
	if err != nil {
		return "", "", "", fmt.Errorf("sqlitestore: marshal personality: %w", err)
	}
	if coreValues == nil {
		coreValues = []string{}
	}
	cj, err := json.Marshal(coreValues)
	if err != nil {
		return "", "", "", fmt.Errorf("sqlitestore: marshal core_values: %w", err)
	}
	if primaryAims == nil {
		primaryAims = []string{}
	}
	aj, err := json.Marshal(primaryAims)
	if err != nil {
		return "", "", "", fmt.Errorf("sqlitestore: marshal primary_aims: %w", err)
	}
	return string(pj), string(cj), string(aj), nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint
// failure.
func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE ||
			sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
