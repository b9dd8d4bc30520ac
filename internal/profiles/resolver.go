package profiles

import (
	"sort"

	"readhub/pkg/models"
)

// Query is one resolution context: which series the reader is opening, in
// which library, and from which device. DeviceID nil means the caller has
// no device identity; SkipImplicit bypasses ephemeral shadows so callers
// can reach the durable parent profile.
type Query struct {
	LibraryID    string
	SeriesID     string
	DeviceID     *string
	SkipImplicit bool
}

// Resolution priority, highest first. A profile may qualify for several
// tiers (e.g. bound to both the series and the library); its best tier
// decides, and lower qualifying tiers break ties.
const (
	tierImplicitSeriesDevice = 1
	tierImplicitSeries       = 2
	tierSeriesDevice         = 3
	tierSeries               = 4
	tierLibraryDevice        = 5
	tierLibrary              = 6
	tierDefault              = 7
)

// Resolve picks the single profile that applies for the query out of one
// owner's candidates. It is a pure function over the slice; callers load
// candidates with Repo.ListByOwner. A user provisioned with a default
// profile always resolves; zero candidates is ErrInvariantViolation.
func Resolve(candidates []models.Profile, q Query) (*models.Profile, error) {
	type ranked struct {
		p     *models.Profile
		tiers []int
	}

	eligible := make([]ranked, 0, len(candidates))
	for i := range candidates {
		p := &candidates[i]
		if q.SkipImplicit && p.Kind == models.KindImplicit {
			continue
		}
		if !deviceEligible(p, q.DeviceID) {
			continue
		}
		tiers := rank(p, q)
		if len(tiers) == 0 {
			continue
		}
		eligible = append(eligible, ranked{p: p, tiers: tiers})
	}

	if len(eligible) == 0 {
		return nil, ErrInvariantViolation
	}

	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		for k := 0; k < len(a.tiers) && k < len(b.tiers); k++ {
			if a.tiers[k] != b.tiers[k] {
				return a.tiers[k] < b.tiers[k]
			}
		}
		if len(a.tiers) != len(b.tiers) {
			// equal down to the shorter vector: the profile that also
			// qualifies for a further tier wins the tie
			return len(a.tiers) > len(b.tiers)
		}
		// nothing discriminates at the application level; lowest id
		return a.p.ID < b.p.ID
	})

	return eligible[0].p, nil
}

// deviceEligible is the candidate filter: wildcard profiles always pass,
// and with no device in the query nothing is excluded, only deprioritized.
func deviceEligible(p *models.Profile, deviceID *string) bool {
	if p.WildcardDevices() || deviceID == nil {
		return true
	}
	return p.AppliesToDevice(*deviceID)
}

// deviceExact means this exact device context: a non-empty device set
// containing the queried device, or wildcard queried without a device.
// A wildcard profile queried with a device is eligible but not exact.
func deviceExact(p *models.Profile, deviceID *string) bool {
	if deviceID == nil {
		return p.WildcardDevices()
	}
	return !p.WildcardDevices() && p.AppliesToDevice(*deviceID)
}

func rank(p *models.Profile, q Query) []int {
	exact := deviceExact(p, q.DeviceID)
	var tiers []int

	if q.SeriesID != "" && p.BoundToSeries(q.SeriesID) {
		if p.Kind == models.KindImplicit {
			if exact {
				tiers = append(tiers, tierImplicitSeriesDevice)
			}
			tiers = append(tiers, tierImplicitSeries)
		} else {
			if exact {
				tiers = append(tiers, tierSeriesDevice)
			}
			tiers = append(tiers, tierSeries)
		}
	}
	if q.LibraryID != "" && p.BoundToLibrary(q.LibraryID) {
		if exact {
			tiers = append(tiers, tierLibraryDevice)
		}
		tiers = append(tiers, tierLibrary)
	}
	if p.Kind == models.KindDefault {
		tiers = append(tiers, tierDefault)
	}
	return tiers
}
