package host

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// Repository is the document store for hosts and grids.
type Repository interface {
	CreateHost(ctx context.Context, h *Host) error
	GetHost(ctx context.Context, id string) (*Host, error)

	CreateGrid(ctx context.Context, g *Grid) error
	GetGrid(ctx context.Context, id string) (*Grid, error)
	// UpdateGrid replaces the cells of the grid with g.ID owned by g.Owner.
	// It returns ErrGridNotFound when no such grid exists for that owner.
	UpdateGrid(ctx context.Context, g *Grid) error
	ListGrids(ctx context.Context) ([]Grid, error)
	ListGridsByOwner(ctx context.Context, owner string) ([]Grid, error)
}

// SQLiteRepository implements Repository on the hosts and grids tables.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a repository over db. The schema is created by
// the embedded migrations.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// CreateHost inserts h, assigning an id and creation time when unset.
func (r *SQLiteRepository) CreateHost(ctx context.Context, h *Host) error {
	if h.ID == "" {
		h.ID = NewID()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = r.now().UTC()
	}

	const query = `INSERT INTO hosts (id, name, created_at) VALUES (?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, h.ID, h.Name, formatTime(h.CreatedAt)); err != nil {
		return fmt.Errorf("inserting host %s: %w", h.ID, err)
	}
	return nil
}

// GetHost returns the host with id, or ErrHostNotFound.
func (r *SQLiteRepository) GetHost(ctx context.Context, id string) (*Host, error) {
	const query = `SELECT id, name, created_at FROM hosts WHERE id = ?`

	var h Host
	var createdAt string
	err := r.db.QueryRowContext(ctx, query, id).Scan(&h.ID, &h.Name, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrHostNotFound
		}
		return nil, fmt.Errorf("scanning host: %w", err)
	}
	h.CreatedAt = parseTime(createdAt)
	return &h, nil
}

// CreateGrid inserts g, assigning an id and timestamps when unset.
func (r *SQLiteRepository) CreateGrid(ctx context.Context, g *Grid) error {
	if g.ID == "" {
		g.ID = NewID()
	}
	now := r.now().UTC()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now

	cells, err := json.Marshal(g.Cells)
	if err != nil {
		return fmt.Errorf("encoding grid %s: %w", g.ID, err)
	}

	const query = `INSERT INTO grids (id, owner, cells, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		g.ID, g.Owner, string(cells), formatTime(g.CreatedAt), formatTime(g.UpdatedAt))
	if err != nil {
		return fmt.Errorf("inserting grid %s: %w", g.ID, err)
	}
	return nil
}

// GetGrid returns the grid with id, or ErrGridNotFound.
func (r *SQLiteRepository) GetGrid(ctx context.Context, id string) (*Grid, error) {
	const query = `SELECT id, owner, cells, created_at, updated_at FROM grids WHERE id = ?`
	g, err := scanGrid(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGridNotFound
	}
	return g, err
}

// UpdateGrid replaces g's cells and sets g.UpdatedAt.
func (r *SQLiteRepository) UpdateGrid(ctx context.Context, g *Grid) error {
	cells, err := json.Marshal(g.Cells)
	if err != nil {
		return fmt.Errorf("encoding grid %s: %w", g.ID, err)
	}
	now := r.now().UTC()

	const query = `UPDATE grids SET cells = ?, updated_at = ? WHERE id = ? AND owner = ?`
	res, err := r.db.ExecContext(ctx, query, string(cells), formatTime(now), g.ID, g.Owner)
	if err != nil {
		return fmt.Errorf("updating grid %s: %w", g.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating grid %s: %w", g.ID, err)
	}
	if n == 0 {
		return ErrGridNotFound
	}
	g.UpdatedAt = now
	return nil
}

// ListGrids returns every grid, oldest first.
func (r *SQLiteRepository) ListGrids(ctx context.Context) ([]Grid, error) {
	const query = `SELECT id, owner, cells, created_at, updated_at FROM grids ORDER BY created_at, id`
	return r.queryGrids(ctx, query)
}

// ListGridsByOwner returns the grids owned by a host, oldest first.
func (r *SQLiteRepository) ListGridsByOwner(ctx context.Context, owner string) ([]Grid, error) {
	const query = `SELECT id, owner, cells, created_at, updated_at FROM grids
		WHERE owner = ? ORDER BY created_at, id`
	return r.queryGrids(ctx, query, owner)
}

func (r *SQLiteRepository) queryGrids(ctx context.Context, query string, args ...any) ([]Grid, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying grids: %w", err)
	}
	defer rows.Close()

	grids := make([]Grid, 0)
	for rows.Next() {
		g, err := scanGrid(rows)
		if err != nil {
			return nil, err
		}
		grids = append(grids, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating grid rows: %w", err)
	}
	return grids, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanGrid returns sql.ErrNoRows unwrapped so callers can map it.
func scanGrid(s scanner) (*Grid, error) {
	var g Grid
	var cells, createdAt, updatedAt string
	if err := s.Scan(&g.ID, &g.Owner, &cells, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning grid: %w", err)
	}
	if err := json.Unmarshal([]byte(cells), &g.Cells); err != nil {
		return nil, fmt.Errorf("decoding grid %s: %w", g.ID, err)
	}
	g.CreatedAt = parseTime(createdAt)
	g.UpdatedAt = parseTime(updatedAt)
	return &g, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime returns the zero time for malformed values.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
