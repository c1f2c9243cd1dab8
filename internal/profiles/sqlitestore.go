package profiles

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore persists profiles in the mcp_profiles table. The caller owns db.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store over an opened database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Create(ctx context.Context, p *Profile) error {
	servers, err := json.Marshal(p.Servers)
	if err != nil {
		return fmt.Errorf("encode servers: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM mcp_profiles WHERE name = ?`, p.Name).Scan(&n); err != nil {
		return fmt.Errorf("check name: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("%w: %s", ErrDuplicate, p.Name)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO mcp_profiles (id, name, servers_json, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.Name, string(servers), p.CreatedAt.UnixNano()); err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Profile, error) {
	return s.one(ctx, `WHERE id = ?`, id)
}

func (s *SQLiteStore) GetByName(ctx context.Context, name string) (*Profile, error) {
	return s.one(ctx, `WHERE name = ?`, name)
}

func (s *SQLiteStore) one(ctx context.Context, where, arg string) (*Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, servers_json, created_at FROM mcp_profiles `+where, arg)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, arg)
	}
	return p, err
}

func (s *SQLiteStore) List(ctx context.Context) ([]*Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, servers_json, created_at FROM mcp_profiles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	result := []*Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM mcp_profiles WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(sc scanner) (*Profile, error) {
	var (
		p       Profile
		servers string
		created int64
	)
	if err := sc.Scan(&p.ID, &p.Name, &servers, &created); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(servers), &p.Servers); err != nil {
		return nil, fmt.Errorf("decode servers of %s: %w", p.ID, err)
	}
	p.CreatedAt = time.Unix(0, created)
	return &p, nil
}
