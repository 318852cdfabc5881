package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"lukechampine.com/blake3"

	"quizquest/internal/domain/creation"
)

var ErrNotFound = errors.New("not found")

const schema = `
	PRAGMA busy_timeout       = 10000;
	PRAGMA journal_mode       = WAL;
	PRAGMA synchronous        = NORMAL;
	PRAGMA foreign_keys       = ON;
	PRAGMA temp_store         = MEMORY;

	create table if not exists creations (
		id text primary key not null,
		title text not null,
		type text not null,
		body text not null,
		content_hash text not null,
		created_at integer not null
	);

	create table if not exists reading_positions (
		user_id text not null,
		creation_id text not null,
		content_hash text not null,
		char_offset integer not null,
		updated_at integer not null,
		primary key (user_id, creation_id)
	);`

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the sqlite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// one writer keeps sqlite from reporting SQLITE_BUSY under load
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ContentHash identifies a reading text so stored offsets are only reused
// against the exact text they were taken from.
func ContentHash(text string) string {
	sum := blake3.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (s *Store) SaveCreation(ctx context.Context, c *creation.Creation) error {
	if c.ID == "" {
		c.ID = creation.NewID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding creation: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		insert into creations (id, title, type, body, content_hash, created_at)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (id) do update set
			title = excluded.title,
			type = excluded.type,
			body = excluded.body,
			content_hash = excluded.content_hash`,
		c.ID, c.Title, string(c.Type), string(body), ContentHash(c.ReadingText()), c.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("persisting creation into sqlite: %w", err)
	}
	return nil
}

func (s *Store) GetCreation(ctx context.Context, id string) (*creation.Creation, error) {
	var body string
	err := s.db.
		QueryRowContext(ctx, "select body from creations where id = $1", id).
		Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("creation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get creation: %w", err)
	}

	var c creation.Creation
	if err := json.Unmarshal([]byte(body), &c); err != nil {
		return nil, fmt.Errorf("decoding creation %s: %w", id, err)
	}
	return &c, nil
}

// ListCreations returns creations newest first.
func (s *Store) ListCreations(ctx context.Context) ([]creation.Creation, error) {
	rows, err := s.db.QueryContext(ctx, "select body from creations order by created_at desc, id")
	if err != nil {
		return nil, fmt.Errorf("list creations: %w", err)
	}
	defer rows.Close()

	var out []creation.Creation
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("list creations: %w", err)
		}
		var c creation.Creation
		if err := json.Unmarshal([]byte(body), &c); err != nil {
			return nil, fmt.Errorf("decoding creation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SavePosition records where userID stopped reading the text with the given
// hash.
func (s *Store) SavePosition(ctx context.Context, userID, creationID, contentHash string, offset int) error {
	if offset < 0 {
		return fmt.Errorf("negative offset %d", offset)
	}
	_, err := s.db.ExecContext(ctx, `
		insert into reading_positions (user_id, creation_id, content_hash, char_offset, updated_at)
		values ($1, $2, $3, $4, $5)
		on conflict (user_id, creation_id) do update set
			content_hash = excluded.content_hash,
			char_offset = excluded.char_offset,
			updated_at = excluded.updated_at`,
		userID, creationID, contentHash, offset, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("saving reading position: %w", err)
	}
	return nil
}

// GetPosition returns the saved offset. It reports false when nothing is
// stored or the text changed since the offset was taken.
func (s *Store) GetPosition(ctx context.Context, userID, creationID, contentHash string) (int, bool, error) {
	var (
		hash   string
		offset int
	)
	err := s.db.
		QueryRowContext(ctx,
			"select content_hash, char_offset from reading_positions where user_id = $1 and creation_id = $2",
			userID, creationID,
		).
		Scan(&hash, &offset)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get reading position: %w", err)
	}
	if hash != contentHash {
		return 0, false, nil
	}
	return offset, true, nil
}

// ClearPosition forgets a saved position, e.g. after a book was finished.
func (s *Store) ClearPosition(ctx context.Context, userID, creationID string) error {
	_, err := s.db.ExecContext(ctx,
		"delete from reading_positions where user_id = $1 and creation_id = $2",
		userID, creationID,
	)
	if err != nil {
		return fmt.Errorf("clearing reading position: %w", err)
	}
	return nil
}
