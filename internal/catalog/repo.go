package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"readhub/pkg/models"
)

type Repo struct {
	DB *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{DB: db}
}

func (r *Repo) CreateLibrary(ctx context.Context, lib models.Library) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO libraries (id, owner_id, name)
		VALUES (?, ?, ?)
	`, lib.ID, lib.OwnerID, lib.Name)
	if err != nil {
		return fmt.Errorf("create library: %w", err)
	}
	return nil
}

func (r *Repo) GetLibrary(ctx context.Context, id string) (*models.Library, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT id, owner_id, name, created_at
		FROM libraries
		WHERE id = ?
	`, id)

	var lib models.Library
	if err := row.Scan(&lib.ID, &lib.OwnerID, &lib.Name, &lib.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get library: %w", err)
	}
	return &lib, nil
}

func (r *Repo) ListLibraries(ctx context.Context, ownerID string) ([]models.Library, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, owner_id, name, created_at
		FROM libraries
		WHERE owner_id = ?
		ORDER BY name
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list libraries: %w", err)
	}
	defer rows.Close()

	var out []models.Library
	for rows.Next() {
		var lib models.Library
		if err := rows.Scan(&lib.ID, &lib.OwnerID, &lib.Name, &lib.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan library: %w", err)
		}
		out = append(out, lib)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

func (r *Repo) CreateSeries(ctx context.Context, s models.Series) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO series (id, library_id, title)
		VALUES (?, ?, ?)
	`, s.ID, s.LibraryID, s.Title)
	if err != nil {
		return fmt.Errorf("create series: %w", err)
	}
	return nil
}

func (r *Repo) GetSeries(ctx context.Context, id string) (*models.Series, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT id, library_id, title, created_at
		FROM series
		WHERE id = ?
	`, id)

	var s models.Series
	if err := row.Scan(&s.ID, &s.LibraryID, &s.Title, &s.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get series: %w", err)
	}
	return &s, nil
}

func (r *Repo) ListSeries(ctx context.Context, libraryID string) ([]models.Series, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, library_id, title, created_at
		FROM series
		WHERE library_id = ?
		ORDER BY title
	`, libraryID)
	if err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}
	defer rows.Close()

	var out []models.Series
	for rows.Next() {
		var s models.Series
		if err := rows.Scan(&s.ID, &s.LibraryID, &s.Title, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan series: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

// UpsertDevice registers a device or refreshes its last-seen timestamp.
func (r *Repo) UpsertDevice(ctx context.Context, d models.Device) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO devices (id, owner_id, name, platform, last_seen)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			platform = excluded.platform,
			last_seen = CURRENT_TIMESTAMP
	`, d.ID, d.OwnerID, d.Name, d.Platform)
	if err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}
	return nil
}

func (r *Repo) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT id, owner_id, name, platform, created_at, last_seen
		FROM devices
		WHERE id = ?
	`, id)

	var d models.Device
	var lastSeen time.Time
	if err := row.Scan(&d.ID, &d.OwnerID, &d.Name, &d.Platform, &d.CreatedAt, &lastSeen); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get device: %w", err)
	}
	d.LastSeen = lastSeen
	return &d, nil
}

func (r *Repo) ListDevices(ctx context.Context, ownerID string) ([]models.Device, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, owner_id, name, platform, created_at, last_seen
		FROM devices
		WHERE owner_id = ?
		ORDER BY last_seen DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var out []models.Device
	for rows.Next() {
		var d models.Device
		if err := rows.Scan(&d.ID, &d.OwnerID, &d.Name, &d.Platform, &d.CreatedAt, &d.LastSeen); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

func (r *Repo) DeleteDevice(ctx context.Context, ownerID, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM devices WHERE id = ? AND owner_id = ?
	`, id, ownerID)
	if err != nil {
		return false, fmt.Errorf("delete device: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
