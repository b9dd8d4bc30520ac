package profiles

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"readhub/pkg/models"
)

// deviceSetMatches reports exact device-scope equality with the operation's
// device context: {deviceID} when a device was supplied, wildcard when not.
// Implicit upsert and parent cleanup key on this, not on overlap.
func deviceSetMatches(deviceIDs []string, deviceID *string) bool {
	if deviceID == nil {
		return len(deviceIDs) == 0
	}
	return len(deviceIDs) == 1 && deviceIDs[0] == *deviceID
}

// UpsertImplicit records an in-the-moment settings adjustment as an
// ephemeral shadow profile bound to the series. Find-or-create keyed on
// (owner, series, exact device set): repeated adjustments for the same pair
// overwrite the one row, never duplicate it.
func (e *Engine) UpsertImplicit(ctx context.Context, ownerID, libraryID, seriesID string, settings json.RawMessage, deviceID *string) (*models.Profile, error) {
	unlock := e.lockOwner(ownerID)
	defer unlock()

	var resultID string
	err := e.inTx(ctx, func(r *Repo) error {
		owned, err := r.ListByOwner(ctx, ownerID)
		if err != nil {
			return err
		}

		for i := range owned {
			q := &owned[i]
			if q.Kind != models.KindImplicit || !q.BoundToSeries(seriesID) {
				continue
			}
			if !deviceSetMatches(q.DeviceIDs, deviceID) {
				continue
			}
			resultID = q.ID
			return r.UpdateSettings(ctx, q.ID, settings)
		}

		p := models.Profile{
			ID:       uuid.NewString(),
			OwnerID:  ownerID,
			Kind:     models.KindImplicit,
			Settings: settings,
			SeriesIDs: []string{
				seriesID,
			},
		}
		if deviceID != nil {
			p.DeviceIDs = []string{*deviceID}
		}
		resultID = p.ID
		return r.Create(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return e.repo.GetByID(ctx, resultID)
}

// Promote converts an implicit profile into a durable user profile. Kind is
// the only thing that changes besides the name the now-durable profile
// needs; bindings and settings stay put, and no other profile is touched
// even if its claims would now overlap.
func (e *Engine) Promote(ctx context.Context, ownerID, profileID, name string) (*models.Profile, error) {
	name = strings.TrimSpace(name)

	unlock := e.lockOwner(ownerID)
	defer unlock()

	p, err := loadOwned(ctx, e.repo, ownerID, profileID)
	if err != nil {
		return nil, err
	}
	if p.Kind != models.KindImplicit {
		return nil, ErrInvalidKindTransition
	}

	if name == "" {
		name = "Saved " + shortID(p.ID)
	}
	normalized := models.NormalizeName(name)

	if clash, err := e.repo.GetByOwnerAndName(ctx, ownerID, normalized); err != nil {
		return nil, err
	} else if clash != nil {
		return nil, ErrDuplicateName
	}

	if err := e.repo.SetKind(ctx, p.ID, models.KindUser, name, normalized); err != nil {
		return nil, err
	}
	return e.repo.GetByID(ctx, p.ID)
}

// UpdateParent writes new settings onto the durable profile underneath any
// implicit shadow for this context, then discards the shadow whose device
// scope exactly matches the context. Shadows for other devices keep their
// own adjustments.
func (e *Engine) UpdateParent(ctx context.Context, ownerID, libraryID, seriesID string, settings json.RawMessage, deviceID *string) (*models.Profile, error) {
	unlock := e.lockOwner(ownerID)
	defer unlock()

	var parentID string
	err := e.inTx(ctx, func(r *Repo) error {
		owned, err := r.ListByOwner(ctx, ownerID)
		if err != nil {
			return err
		}

		parent, err := Resolve(owned, Query{
			LibraryID:    libraryID,
			SeriesID:     seriesID,
			DeviceID:     deviceID,
			SkipImplicit: true,
		})
		if err != nil {
			return err
		}
		parentID = parent.ID

		if err := r.UpdateSettings(ctx, parent.ID, settings); err != nil {
			return err
		}

		for i := range owned {
			q := &owned[i]
			if q.Kind != models.KindImplicit || !q.BoundToSeries(seriesID) {
				continue
			}
			if !deviceSetMatches(q.DeviceIDs, deviceID) {
				continue
			}
			if _, err := r.Delete(ctx, q.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e.repo.GetByID(ctx, parentID)
}

// ClearSeriesProfile unbinds the series from every profile of the owner.
// Implicit rows left without any scope are deleted; durable profiles are
// only unbound.
func (e *Engine) ClearSeriesProfile(ctx context.Context, ownerID, seriesID string) error {
	unlock := e.lockOwner(ownerID)
	defer unlock()

	return e.inTx(ctx, func(r *Repo) error {
		owned, err := r.ListByOwner(ctx, ownerID)
		if err != nil {
			return err
		}
		for i := range owned {
			q := &owned[i]
			if !q.BoundToSeries(seriesID) {
				continue
			}
			if err := r.RemoveSeries(ctx, q.ID, seriesID); err != nil {
				return err
			}
			if q.Kind == models.KindImplicit && len(q.LibraryIDs) == 0 && len(q.SeriesIDs) == 1 {
				if _, err := r.Delete(ctx, q.ID); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// ClearLibraryProfile unbinds the library from every profile of the owner.
func (e *Engine) ClearLibraryProfile(ctx context.Context, ownerID, libraryID string) error {
	unlock := e.lockOwner(ownerID)
	defer unlock()

	return e.inTx(ctx, func(r *Repo) error {
		owned, err := r.ListByOwner(ctx, ownerID)
		if err != nil {
			return err
		}
		for i := range owned {
			q := &owned[i]
			if !q.BoundToLibrary(libraryID) {
				continue
			}
			if err := r.RemoveLibrary(ctx, q.ID, libraryID); err != nil {
				return err
			}
			if q.Kind == models.KindImplicit && len(q.SeriesIDs) == 0 && len(q.LibraryIDs) == 1 {
				if _, err := r.Delete(ctx, q.ID); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
