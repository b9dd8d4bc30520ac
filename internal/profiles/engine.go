package profiles

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"readhub/pkg/models"
)

// DefaultProfileName is the name given to each user's provisioned fallback.
const DefaultProfileName = "Default"

// Engine owns every mutation of a user's profile collection. Each mutation
// runs as one sqlite transaction together with its eviction side-effects,
// and mutations for the same owner are serialized in-process so interleaved
// requests cannot unravel the single-claimant invariant.
type Engine struct {
	db   *sql.DB
	repo *Repo

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewEngine(db *sql.DB) *Engine {
	return &Engine{
		db:    db,
		repo:  NewRepo(db),
		locks: make(map[string]*sync.Mutex),
	}
}

func (e *Engine) Repo() *Repo {
	return e.repo
}

func (e *Engine) lockOwner(ownerID string) func() {
	e.mu.Lock()
	l, ok := e.locks[ownerID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[ownerID] = l
	}
	e.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (e *Engine) inTx(ctx context.Context, fn func(r *Repo) error) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(e.repo.WithTx(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// loadOwned fetches the profile and enforces the cross-cutting ownership
// check every mutation starts with.
func loadOwned(ctx context.Context, r *Repo, ownerID, profileID string) (*models.Profile, error) {
	p, err := r.GetByID(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}
	if p.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	return p, nil
}

// Resolve returns the one profile that applies for the given context.
func (e *Engine) Resolve(ctx context.Context, ownerID, libraryID, seriesID string, deviceID *string, skipImplicit bool) (*models.Profile, error) {
	candidates, err := e.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return Resolve(candidates, Query{
		LibraryID:    libraryID,
		SeriesID:     seriesID,
		DeviceID:     deviceID,
		SkipImplicit: skipImplicit,
	})
}

// EnsureDefault provisions the owner's default profile if it does not exist
// yet. Called at user registration.
func (e *Engine) EnsureDefault(ctx context.Context, ownerID string, settings json.RawMessage) (*models.Profile, error) {
	unlock := e.lockOwner(ownerID)
	defer unlock()

	existing, err := e.repo.GetDefault(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	p := models.Profile{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		Kind:           models.KindDefault,
		Name:           DefaultProfileName,
		NormalizedName: models.NormalizeName(DefaultProfileName),
		Settings:       settings,
	}
	if err := e.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	return e.repo.GetByID(ctx, p.ID)
}

// CreateProfile creates a durable named profile of kind user.
func (e *Engine) CreateProfile(ctx context.Context, ownerID, name string, settings json.RawMessage) (*models.Profile, error) {
	name = strings.TrimSpace(name)
	normalized := models.NormalizeName(name)
	if normalized == "" {
		return nil, fmt.Errorf("%w: empty name", ErrDuplicateName)
	}

	unlock := e.lockOwner(ownerID)
	defer unlock()

	if clash, err := e.repo.GetByOwnerAndName(ctx, ownerID, normalized); err != nil {
		return nil, err
	} else if clash != nil {
		return nil, ErrDuplicateName
	}

	p := models.Profile{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		Kind:           models.KindUser,
		Name:           name,
		NormalizedName: normalized,
		Settings:       settings,
	}
	if err := e.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	return e.repo.GetByID(ctx, p.ID)
}

func (e *Engine) GetProfile(ctx context.Context, ownerID, profileID string) (*models.Profile, error) {
	return loadOwned(ctx, e.repo, ownerID, profileID)
}

func (e *Engine) ListProfiles(ctx context.Context, ownerID string) ([]models.Profile, error) {
	return e.repo.ListByOwner(ctx, ownerID)
}

// RenameProfile renames a named profile; normalized-name uniqueness is
// validated before any write.
func (e *Engine) RenameProfile(ctx context.Context, ownerID, profileID, name string) (*models.Profile, error) {
	name = strings.TrimSpace(name)
	normalized := models.NormalizeName(name)
	if normalized == "" {
		return nil, fmt.Errorf("%w: empty name", ErrDuplicateName)
	}

	unlock := e.lockOwner(ownerID)
	defer unlock()

	p, err := loadOwned(ctx, e.repo, ownerID, profileID)
	if err != nil {
		return nil, err
	}
	if p.Kind == models.KindImplicit {
		return nil, ErrInvalidKindTransition
	}

	if clash, err := e.repo.GetByOwnerAndName(ctx, ownerID, normalized); err != nil {
		return nil, err
	} else if clash != nil && clash.ID != p.ID {
		return nil, ErrDuplicateName
	}

	if err := e.repo.Rename(ctx, p.ID, name, normalized); err != nil {
		return nil, err
	}
	return e.repo.GetByID(ctx, p.ID)
}

func (e *Engine) UpdateSettings(ctx context.Context, ownerID, profileID string, settings json.RawMessage) (*models.Profile, error) {
	unlock := e.lockOwner(ownerID)
	defer unlock()

	p, err := loadOwned(ctx, e.repo, ownerID, profileID)
	if err != nil {
		return nil, err
	}
	if err := e.repo.UpdateSettings(ctx, p.ID, settings); err != nil {
		return nil, err
	}
	return e.repo.GetByID(ctx, p.ID)
}

// DeleteProfile removes a user or implicit profile. The default profile can
// never be deleted.
func (e *Engine) DeleteProfile(ctx context.Context, ownerID, profileID string) error {
	unlock := e.lockOwner(ownerID)
	defer unlock()

	p, err := loadOwned(ctx, e.repo, ownerID, profileID)
	if err != nil {
		return err
	}
	if p.Kind == models.KindDefault {
		return ErrProtectedProfile
	}
	_, err = e.repo.Delete(ctx, p.ID)
	return err
}

// SetSeriesProfile binds profile P to one series, evicting conflicting
// claims so the series has a single claimant per device scope afterwards.
func (e *Engine) SetSeriesProfile(ctx context.Context, ownerID, profileID, seriesID string) (*models.Profile, error) {
	return e.SetSeriesProfiles(ctx, ownerID, profileID, []string{seriesID})
}

// SetSeriesProfiles replaces P's series scope with the given set: the prior
// bindings are dropped first, then the binding and its evictions are
// repeated per series, all inside one transaction.
func (e *Engine) SetSeriesProfiles(ctx context.Context, ownerID, profileID string, seriesIDs []string) (*models.Profile, error) {
	unlock := e.lockOwner(ownerID)
	defer unlock()

	err := e.inTx(ctx, func(r *Repo) error {
		p, err := loadOwned(ctx, r, ownerID, profileID)
		if err != nil {
			return err
		}
		if p.Kind == models.KindDefault {
			return ErrProtectedProfile
		}
		if p.Kind == models.KindImplicit {
			return ErrInvalidKindTransition
		}

		owned, err := r.ListByOwner(ctx, ownerID)
		if err != nil {
			return err
		}

		if err := r.ClearSeries(ctx, p.ID); err != nil {
			return err
		}
		for _, seriesID := range seriesIDs {
			if err := bindScopeItem(ctx, r, p, owned, seriesID, seriesScope); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e.repo.GetByID(ctx, profileID)
}

// SetLibraryProfile binds profile P to one library.
func (e *Engine) SetLibraryProfile(ctx context.Context, ownerID, profileID, libraryID string) (*models.Profile, error) {
	return e.SetLibraryProfiles(ctx, ownerID, profileID, []string{libraryID})
}

// SetLibraryProfiles replaces P's library scope, same shape as the series
// variant.
func (e *Engine) SetLibraryProfiles(ctx context.Context, ownerID, profileID string, libraryIDs []string) (*models.Profile, error) {
	unlock := e.lockOwner(ownerID)
	defer unlock()

	err := e.inTx(ctx, func(r *Repo) error {
		p, err := loadOwned(ctx, r, ownerID, profileID)
		if err != nil {
			return err
		}
		if p.Kind == models.KindDefault {
			return ErrProtectedProfile
		}
		if p.Kind == models.KindImplicit {
			return ErrInvalidKindTransition
		}

		owned, err := r.ListByOwner(ctx, ownerID)
		if err != nil {
			return err
		}

		if err := r.ClearLibraries(ctx, p.ID); err != nil {
			return err
		}
		for _, libraryID := range libraryIDs {
			if err := bindScopeItem(ctx, r, p, owned, libraryID, libraryScope); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e.repo.GetByID(ctx, profileID)
}

// SetProfileDevices replaces P's device scope verbatim and strips the scope
// items now claimed twice from other durable profiles. Implicit profiles
// are never touched here; their lifecycle is managed separately. A profile
// with an empty device set is a deliberate universal fallback and never
// conflicts with a non-empty device scope.
func (e *Engine) SetProfileDevices(ctx context.Context, ownerID, profileID string, deviceIDs []string) (*models.Profile, error) {
	deviceIDs = dedupe(deviceIDs)

	unlock := e.lockOwner(ownerID)
	defer unlock()

	err := e.inTx(ctx, func(r *Repo) error {
		p, err := loadOwned(ctx, r, ownerID, profileID)
		if err != nil {
			return err
		}
		if p.Kind == models.KindDefault {
			return ErrProtectedProfile
		}
		if p.Kind == models.KindImplicit {
			return ErrInvalidKindTransition
		}

		owned, err := r.ListByOwner(ctx, ownerID)
		if err != nil {
			return err
		}

		if err := r.ReplaceDevices(ctx, p.ID, deviceIDs); err != nil {
			return err
		}

		for i := range owned {
			q := &owned[i]
			if q.ID == p.ID || q.Kind == models.KindImplicit {
				continue
			}
			if !deviceScopesOverlap(deviceIDs, q.DeviceIDs) {
				continue
			}
			// remove only the scope items shared with P
			for _, s := range p.SeriesIDs {
				if q.BoundToSeries(s) {
					if err := r.RemoveSeries(ctx, q.ID, s); err != nil {
						return err
					}
				}
			}
			for _, l := range p.LibraryIDs {
				if q.BoundToLibrary(l) {
					if err := r.RemoveLibrary(ctx, q.ID, l); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e.repo.GetByID(ctx, profileID)
}

type scopeKind int

const (
	seriesScope scopeKind = iota
	libraryScope
)

// bindScopeItem adds one scope item to P and performs both halves of the
// eviction: conflicting implicit rows are deleted outright, and durable
// profiles with an overlapping device scope lose just this item.
func bindScopeItem(ctx context.Context, r *Repo, p *models.Profile, owned []models.Profile, itemID string, kind scopeKind) error {
	for i := range owned {
		q := &owned[i]
		if q.ID == p.ID {
			continue
		}

		bound := false
		switch kind {
		case seriesScope:
			bound = q.BoundToSeries(itemID)
		case libraryScope:
			bound = q.BoundToLibrary(itemID)
		}
		if !bound {
			continue
		}

		if !deviceScopesOverlap(p.DeviceIDs, q.DeviceIDs) {
			continue
		}

		if q.Kind == models.KindImplicit {
			// an implicit with no remaining purpose is discarded
			if _, err := r.Delete(ctx, q.ID); err != nil {
				return err
			}
			continue
		}

		// durable profiles lose only this item, never the row
		switch kind {
		case seriesScope:
			if err := r.RemoveSeries(ctx, q.ID, itemID); err != nil {
				return err
			}
		case libraryScope:
			if err := r.RemoveLibrary(ctx, q.ID, itemID); err != nil {
				return err
			}
		}
	}

	switch kind {
	case seriesScope:
		if err := r.AddSeries(ctx, p.ID, itemID); err != nil {
			return err
		}
	case libraryScope:
		if err := r.AddLibrary(ctx, p.ID, itemID); err != nil {
			return err
		}
	}
	return nil
}

// deviceScopesOverlap is the single overlap test behind both eviction
// rules: wildcard collides only with wildcard, device-specific only with a
// shared device. A wildcard profile never conflicts with a device-specific
// one; it stays behind as the fallback for uncovered devices, and a
// device-specific binding still serves its own device under a wildcard one.
func deviceScopesOverlap(a, b []string) bool {
	if len(a) == 0 {
		return len(b) == 0
	}
	return len(b) > 0 && intersects(a, b)
}

func intersects(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
