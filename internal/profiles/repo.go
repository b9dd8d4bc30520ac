package profiles

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"readhub/pkg/models"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so engine mutations can run
// repo methods inside the transaction that carries their eviction
// side-effects.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repo struct {
	DB DBTX
}

func NewRepo(db DBTX) *Repo {
	return &Repo{DB: db}
}

// WithTx returns a repo bound to the given transaction.
func (r *Repo) WithTx(tx *sql.Tx) *Repo {
	return &Repo{DB: tx}
}

func (r *Repo) Create(ctx context.Context, p models.Profile) error {
	var name, normalized any
	if p.Name != "" {
		name = p.Name
		normalized = p.NormalizedName
	}

	settings := p.Settings
	if len(settings) == 0 {
		settings = json.RawMessage(`{}`)
	}

	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO reading_profiles (id, owner_id, kind, name, normalized_name, settings)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.ID, p.OwnerID, string(p.Kind), name, normalized, string(settings))
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}

	if err := r.insertScope(ctx, "profile_series", "series_id", p.ID, p.SeriesIDs); err != nil {
		return err
	}
	if err := r.insertScope(ctx, "profile_libraries", "library_id", p.ID, p.LibraryIDs); err != nil {
		return err
	}
	return r.insertScope(ctx, "profile_devices", "device_id", p.ID, p.DeviceIDs)
}

func (r *Repo) insertScope(ctx context.Context, table, column, profileID string, ids []string) error {
	for _, id := range ids {
		_, err := r.DB.ExecContext(ctx,
			`INSERT OR IGNORE INTO `+table+` (profile_id, `+column+`) VALUES (?, ?)`,
			profileID, id)
		if err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	return nil
}

func (r *Repo) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT id, owner_id, kind, name, normalized_name, settings, created_at, updated_at
		FROM reading_profiles
		WHERE id = ?
	`, id)

	p, err := scanProfile(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}

	if err := r.loadScopes(ctx, map[string]*models.Profile{p.ID: p}); err != nil {
		return nil, err
	}
	return p, nil
}

// ListByOwner loads all of one owner's profiles with their scope sets, in
// ascending id order.
func (r *Repo) ListByOwner(ctx context.Context, ownerID string) ([]models.Profile, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, owner_id, kind, name, normalized_name, settings, created_at, updated_at
		FROM reading_profiles
		WHERE owner_id = ?
		ORDER BY id
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var out []models.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}

	byID := make(map[string]*models.Profile, len(out))
	for i := range out {
		byID[out[i].ID] = &out[i]
	}

	if err := r.loadScopes(ctx, byID); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) GetByOwnerAndName(ctx context.Context, ownerID, normalizedName string) (*models.Profile, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT id, owner_id, kind, name, normalized_name, settings, created_at, updated_at
		FROM reading_profiles
		WHERE owner_id = ? AND normalized_name = ?
	`, ownerID, normalizedName)

	p, err := scanProfile(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get profile by name: %w", err)
	}
	if err := r.loadScopes(ctx, map[string]*models.Profile{p.ID: p}); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *Repo) GetDefault(ctx context.Context, ownerID string) (*models.Profile, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT id, owner_id, kind, name, normalized_name, settings, created_at, updated_at
		FROM reading_profiles
		WHERE owner_id = ? AND kind = ?
	`, ownerID, string(models.KindDefault))

	p, err := scanProfile(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get default profile: %w", err)
	}
	return p, nil
}

func (r *Repo) UpdateSettings(ctx context.Context, id string, settings json.RawMessage) error {
	if len(settings) == 0 {
		settings = json.RawMessage(`{}`)
	}
	_, err := r.DB.ExecContext(ctx, `
		UPDATE reading_profiles
		SET settings = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, string(settings), id)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	return nil
}

func (r *Repo) Rename(ctx context.Context, id, name, normalizedName string) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE reading_profiles
		SET name = ?, normalized_name = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, name, normalizedName, id)
	if err != nil {
		return fmt.Errorf("rename profile: %w", err)
	}
	return nil
}

// SetKind changes the lifecycle tag, optionally assigning a name at the
// same time (promotion names the previously unnamed implicit row).
func (r *Repo) SetKind(ctx context.Context, id string, kind models.ProfileKind, name, normalizedName string) error {
	var n, nn any
	if name != "" {
		n = name
		nn = normalizedName
	}
	_, err := r.DB.ExecContext(ctx, `
		UPDATE reading_profiles
		SET kind = ?, name = ?, normalized_name = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, string(kind), n, nn, id)
	if err != nil {
		return fmt.Errorf("set profile kind: %w", err)
	}
	return nil
}

func (r *Repo) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM reading_profiles WHERE id = ?
	`, id)
	if err != nil {
		return false, fmt.Errorf("delete profile: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *Repo) AddSeries(ctx context.Context, profileID, seriesID string) error {
	return r.insertScope(ctx, "profile_series", "series_id", profileID, []string{seriesID})
}

func (r *Repo) ClearSeries(ctx context.Context, profileID string) error {
	_, err := r.DB.ExecContext(ctx, `
		DELETE FROM profile_series WHERE profile_id = ?
	`, profileID)
	if err != nil {
		return fmt.Errorf("clear series bindings: %w", err)
	}
	return nil
}

func (r *Repo) RemoveSeries(ctx context.Context, profileID, seriesID string) error {
	_, err := r.DB.ExecContext(ctx, `
		DELETE FROM profile_series WHERE profile_id = ? AND series_id = ?
	`, profileID, seriesID)
	if err != nil {
		return fmt.Errorf("remove series binding: %w", err)
	}
	return nil
}

func (r *Repo) AddLibrary(ctx context.Context, profileID, libraryID string) error {
	return r.insertScope(ctx, "profile_libraries", "library_id", profileID, []string{libraryID})
}

func (r *Repo) ClearLibraries(ctx context.Context, profileID string) error {
	_, err := r.DB.ExecContext(ctx, `
		DELETE FROM profile_libraries WHERE profile_id = ?
	`, profileID)
	if err != nil {
		return fmt.Errorf("clear library bindings: %w", err)
	}
	return nil
}

func (r *Repo) RemoveLibrary(ctx context.Context, profileID, libraryID string) error {
	_, err := r.DB.ExecContext(ctx, `
		DELETE FROM profile_libraries WHERE profile_id = ? AND library_id = ?
	`, profileID, libraryID)
	if err != nil {
		return fmt.Errorf("remove library binding: %w", err)
	}
	return nil
}

// ReplaceDevices swaps the device set verbatim; empty means wildcard.
func (r *Repo) ReplaceDevices(ctx context.Context, profileID string, deviceIDs []string) error {
	if _, err := r.DB.ExecContext(ctx, `
		DELETE FROM profile_devices WHERE profile_id = ?
	`, profileID); err != nil {
		return fmt.Errorf("clear device bindings: %w", err)
	}
	if err := r.insertScope(ctx, "profile_devices", "device_id", profileID, deviceIDs); err != nil {
		return err
	}
	if _, err := r.DB.ExecContext(ctx, `
		UPDATE reading_profiles SET updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, profileID); err != nil {
		return fmt.Errorf("touch profile: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*models.Profile, error) {
	var (
		p          models.Profile
		kind       string
		name       sql.NullString
		normalized sql.NullString
		settings   string
		created    time.Time
		updated    time.Time
	)
	if err := row.Scan(&p.ID, &p.OwnerID, &kind, &name, &normalized, &settings, &created, &updated); err != nil {
		return nil, err
	}
	p.Kind = models.ProfileKind(kind)
	p.Name = name.String
	p.NormalizedName = normalized.String
	p.Settings = json.RawMessage(settings)
	p.CreatedAt = created
	p.UpdatedAt = updated
	p.SeriesIDs = []string{}
	p.LibraryIDs = []string{}
	p.DeviceIDs = []string{}
	return &p, nil
}

func (r *Repo) loadScopes(ctx context.Context, byID map[string]*models.Profile) error {
	type scope struct {
		table  string
		column string
		assign func(p *models.Profile, id string)
	}
	scopes := []scope{
		{"profile_series", "series_id", func(p *models.Profile, id string) { p.SeriesIDs = append(p.SeriesIDs, id) }},
		{"profile_libraries", "library_id", func(p *models.Profile, id string) { p.LibraryIDs = append(p.LibraryIDs, id) }},
		{"profile_devices", "device_id", func(p *models.Profile, id string) { p.DeviceIDs = append(p.DeviceIDs, id) }},
	}

	if len(byID) == 0 {
		return nil
	}

	placeholders := "?"
	args := make([]any, 0, len(byID))
	for id := range byID {
		args = append(args, id)
	}
	for i := 1; i < len(args); i++ {
		placeholders += ", ?"
	}

	for _, s := range scopes {
		rows, err := r.DB.QueryContext(ctx, `
			SELECT profile_id, `+s.column+`
			FROM `+s.table+`
			WHERE profile_id IN (`+placeholders+`)
		`, args...)
		if err != nil {
			return fmt.Errorf("load %s: %w", s.table, err)
		}
		for rows.Next() {
			var profileID, scopeID string
			if err := rows.Scan(&profileID, &scopeID); err != nil {
				rows.Close()
				return fmt.Errorf("scan %s: %w", s.table, err)
			}
			if p, ok := byID[profileID]; ok {
				s.assign(p, scopeID)
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("rows %s: %w", s.table, err)
		}
		rows.Close()
	}

	for _, p := range byID {
		sort.Strings(p.SeriesIDs)
		sort.Strings(p.LibraryIDs)
		sort.Strings(p.DeviceIDs)
	}
	return nil
}
