package profiles_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"readhub/internal/profiles"
	"readhub/pkg/models"
)

func TestEnsureDefaultIsIdempotent(t *testing.T) {
	engine, owner := newEngine(t)
	ctx := context.Background()

	first, err := engine.EnsureDefault(ctx, owner, settings("again"))
	require.NoError(t, err)

	all, err := engine.ListProfiles(ctx, owner)
	require.NoError(t, err)

	defaults := 0
	for _, p := range all {
		if p.Kind == models.KindDefault {
			defaults++
			assert.Equal(t, first.ID, p.ID)
			// provisioning settings are kept, not overwritten
			assert.Equal(t, "default", markerOf(t, &p))
		}
	}
	assert.Equal(t, 1, defaults)
}

func TestCreateProfileDuplicateName(t *testing.T) {
	engine, owner := newEngine(t)
	ctx := context.Background()

	_, err := engine.CreateProfile(ctx, owner, "Night Mode", settings("a"))
	require.NoError(t, err)

	_, err = engine.CreateProfile(ctx, owner, "night mode", settings("b"))
	assert.ErrorIs(t, err, profiles.ErrDuplicateName)

	// the default profile's name is taken too
	_, err = engine.CreateProfile(ctx, owner, "Default", settings("c"))
	assert.ErrorIs(t, err, profiles.ErrDuplicateName)
}

func TestDeleteDefaultIsProtected(t *testing.T) {
	engine, owner := newEngine(t)
	ctx := context.Background()

	all, err := engine.ListProfiles(ctx, owner)
	require.NoError(t, err)
	require.Len(t, all, 1)

	err = engine.DeleteProfile(ctx, owner, all[0].ID)
	assert.ErrorIs(t, err, profiles.ErrProtectedProfile)
}

func TestMutationsRejectForeignOwner(t *testing.T) {
	engine, owner := newEngine(t)
	ctx := context.Background()

	p, err := engine.CreateProfile(ctx, owner, "Mine", settings("mine"))
	require.NoError(t, err)

	stranger := "someone-else"

	_, err = engine.SetSeriesProfile(ctx, stranger, p.ID, "s7")
	assert.ErrorIs(t, err, profiles.ErrNotOwner)

	_, err = engine.SetProfileDevices(ctx, stranger, p.ID, []string{"d1"})
	assert.ErrorIs(t, err, profiles.ErrNotOwner)

	err = engine.DeleteProfile(ctx, stranger, p.ID)
	assert.ErrorIs(t, err, profiles.ErrNotOwner)

	_, err = engine.RenameProfile(ctx, stranger, p.ID, "Theirs")
	assert.ErrorIs(t, err, profiles.ErrNotOwner)
}

func TestSetSeriesProfileBindsAndResolves(t *testing.T) {
	engine, owner := newEngine(t)
	ctx := context.Background()

	p, err := engine.CreateProfile(ctx, owner, "Series Specific", settings("series"))
	require.NoError(t, err)

	_, err = engine.SetSeriesProfile(ctx, owner, p.ID, "s7")
	require.NoError(t, err)

	got, err := engine.Resolve(ctx, owner, "lib1", "s7", nil, false)
	require.NoError(t, err)
	assert.Equal(t, "Series Specific", got.Name)

	got, err = engine.Resolve(ctx, owner, "lib1", "s99", nil, false)
	require.NoError(t, err)
	assert.Equal(t, models.KindDefault, got.Kind)
}

func TestBindingWildcardEvictsOnlyWildcardImplicit(t *testing.T) {
	engine, owner := newEngine(t)
	ctx := context.Background()

	wild, err := engine.UpsertImplicit(ctx, owner, "lib1", "s7", settings("wild-shadow"), nil)
	require.NoError(t, err)
	deviced, err := engine.UpsertImplicit(ctx, owner, "lib1", "s7", settings("tablet-shadow"), strPtr("tablet"))
	require.NoError(t, err)

	p, err := engine.CreateProfile(ctx, owner, "Wildcard Binding", settings("explicit"))
	require.NoError(t, err)
	_, err = engine.SetSeriesProfile(ctx, owner, p.ID, "s7")
	require.NoError(t, err)

	// the wildcard shadow collided and is gone
	_, err = engine.GetProfile(ctx, owner, wild.ID)
	assert.ErrorIs(t, err, profiles.ErrNotFound)

	// the device-specific shadow still serves its own device
	still, err := engine.GetProfile(ctx, owner, deviced.ID)
	require.NoError(t, err)
	assert.Equal(t, models.KindImplicit, still.Kind)

	got, err := engine.Resolve(ctx, owner, "lib1", "s7", strPtr("tablet"), false)
	require.NoError(t, err)
	assert.Equal(t, deviced.ID, got.ID)
}

func TestBindingDeviceSpecificSparesWildcardImplicit(t *testing.T) {
	engine, owner := newEngine(t)
	ctx := context.Background()

	wild, err := engine.UpsertImplicit(ctx, owner, "lib1", "s7", settings("wild-shadow"), nil)
	require.NoError(t, err)
	tablet, err := engine.UpsertImplicit(ctx, owner, "lib1", "s7", settings("tablet-shadow"), strPtr("tablet"))
	require.NoError(t, err)
	phone, err := engine.UpsertImplicit(ctx, owner, "lib1", "s7", settings("phone-shadow"), strPtr("phone"))
	require.NoError(t, err)

	p, err := engine.CreateProfile(ctx, owner, "Tablet Binding", settings("explicit"))
	require.NoError(t, err)
	_, err = engine.SetProfileDevices(ctx, owner, p.ID, []string{"tablet"})
	require.NoError(t, err)
	_, err = engine.SetSeriesProfile(ctx, owner, p.ID, "s7")
	require.NoError(t, err)

	// only the shadow sharing a device is evicted
	_, err = engine.GetProfile(ctx, owner, tablet.ID)
	assert.ErrorIs(t, err, profiles.ErrNotFound)

	_, err = engine.GetProfile(ctx, owner, wild.ID)
	assert.NoError(t, err)
	_, err = engine.GetProfile(ctx, owner, phone.ID)
	assert.NoError(t, err)
}

func TestBindingSeriesEvictsImplicitAndWins(t *testing.T) {
	engine, owner := newEngine(t)
	ctx := context.Background()

	shadow, err := engine.UpsertImplicit(ctx, owner, "lib1", "s7", settings("shadow"), nil)
	require.NoError(t, err)

	p, err := engine.CreateProfile(ctx, owner, "Deliberate", settings("explicit"))
	require.NoError(t, err)
	_, err = engine.SetSeriesProfile(ctx, owner, p.ID, "s7")
	require.NoError(t, err)

	_, err = engine.GetProfile(ctx, owner, shadow.ID)
	assert.ErrorIs(t, err, profiles.ErrNotFound)

	got, err := engine.Resolve(ctx, owner, "lib1", "s7", nil, false)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, models.KindUser, got.Kind)
}

func TestSeriesBindingUnbindsOverlappingDurableClaim(t *testing.T) {
	engine, owner := newEngine(t)
	ctx := context.Background()

	a, err := engine.CreateProfile(ctx, owner, "First Claim", settings("a"))
	require.NoError(t, err)
	_, err = engine.SetSeriesProfile(ctx, owner, a.ID, "s7")
	require.NoError(t, err)

	b, err := engine.CreateProfile(ctx, owner, "Second Claim", settings("b"))
	require.NoError(t, err)
	_, err = engine.SetSeriesProfile(ctx, owner, b.ID, "s7")
	require.NoError(t, err)

	// both wildcard: the series moved to b, a lost only that claim
	aNow, err := engine.GetProfile(ctx, owner, a.ID)
	require.NoError(t, err)
	assert.Empty(t, aNow.SeriesIDs)

	bNow, err := engine.GetProfile(ctx, owner, b.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"s7"}, bNow.SeriesIDs)
}

func TestSeriesBindingSparesDisjointDeviceClaim(t *testing.T) {
	engine, owner := newEngine(t)
	ctx := context.Background()

	phone, err := engine.CreateProfile(ctx, owner, "Phone Reading", settings("phone"))
	require.NoError(t, err)
	_, err = engine.SetProfileDevices(ctx, owner, phone.ID, []string{"phone"})
	require.NoError(t, err)
	_, err = engine.SetSeriesProfile(ctx, owner, phone.ID, "s7")
	require.NoError(t, err)

	tablet, err := engine.CreateProfile(ctx, owner, "Tablet Reading", settings("tablet"))
	require.NoError(t, err)
	_, err = engine.SetProfileDevices(ctx, owner, tablet.ID, []string{"tablet"})
	require.NoError(t, err)
	_, err = engine.SetSeriesProfile(ctx, owner, tablet.ID, "s7")
	require.NoError(t, err)

	// disjoint devices: both claims stand, each serving its own device
	phoneNow, err := engine.GetProfile(ctx, owner, phone.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"s7"}, phoneNow.SeriesIDs)

	tabletNow, err := engine.GetProfile(ctx, owner, tablet.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"s7"}, tabletNow.SeriesIDs)
}

func TestSetProfileDevicesEvictsSharedScopeOnConflict(t *testing.T) {
	engine, owner := newEngine(t)
	ctx := context.Background()

	// profile A bound to series 7 on devices {1,2}
	a, err := engine.CreateProfile(ctx, owner, "A", settings("a"))
	require.NoError(t, err)
	_, err = engine.SetProfileDevices(ctx, owner, a.ID, []string{"d1", "d2"})
	require.NoError(t, err)
	_, err = engine.SetSeriesProfiles(ctx, owner, a.ID, []string{"s7", "s8"})
	require.NoError(t, err)

	// profile B bound to series 7, then restricted to device 2
	b, err := engine.CreateProfile(ctx, owner, "B", settings("b"))
	require.NoError(t, err)
	_, err = engine.SetProfileDevices(ctx, owner, b.ID, []string{"d9"})
	require.NoError(t, err)
	_, err = engine.SetSeriesProfile(ctx, owner, b.ID, "s7")
	require.NoError(t, err)

	_, err = engine.SetProfileDevices(ctx, owner, b.ID, []string{"d2"})
	require.NoError(t, err)

	// A conflicts on device 2 and loses series 7, but keeps series 8
	aNow, err := engine.GetProfile(ctx, owner, a.ID)
	require.NoError(t, err)
	assert.NotContains(t, aNow.SeriesIDs, "s7")
	assert.Contains(t, aNow.SeriesIDs, "s8")
}

func TestSetProfileDevicesNonEmptySparesWildcardProfiles(t *testing.T) {
	engine, owner := newEngine(t)
	ctx := context.Background()

	fallback, err := engine.CreateProfile(ctx, owner, "Universal", settings("fallback"))
	require.NoError(t, err)
	_, err = engine.SetSeriesProfile(ctx, owner, fallback.ID, "s7")
	require.NoError(t, err)

	specific, err := engine.CreateProfile(ctx, owner, "Tablet Only", settings("tablet"))
	require.NoError(t, err)
	_, err = engine.SetProfileDevices(ctx, owner, specific.ID, []string{"tablet"})
	require.NoError(t, err)
	_, err = engine.SetSeriesProfile(ctx, owner, specific.ID, "s7")
	require.NoError(t, err)

	// both now claim s7; reshaping the device set keeps them disjoint
	_, err = engine.SetProfileDevices(ctx, owner, specific.ID, []string{"tablet", "phone"})
	require.NoError(t, err)

	// a deliberately universal profile never conflicts with a device scope
	fbNow, err := engine.GetProfile(ctx, owner, fallback.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"s7"}, fbNow.SeriesIDs)

	spNow, err := engine.GetProfile(ctx, owner, specific.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"s7"}, spNow.SeriesIDs)
}

func TestSetProfileDevicesEmptyConflictsOnlyWithEmpty(t *testing.T) {
	engine, owner := newEngine(t)
	ctx := context.Background()

	wild, err := engine.CreateProfile(ctx, owner, "Wild", settings("wild"))
	require.NoError(t, err)
	_, err = engine.SetSeriesProfile(ctx, owner, wild.ID, "s7")
	require.NoError(t, err)

	deviced, err := engine.CreateProfile(ctx, owner, "Deviced", settings("deviced"))
	require.NoError(t, err)
	_, err = engine.SetProfileDevices(ctx, owner, deviced.ID, []string{"phone"})
	require.NoError(t, err)
	_, err = engine.SetSeriesProfile(ctx, owner, deviced.ID, "s7")
	require.NoError(t, err)

	// p goes wildcard while sharing s7 with both: only the other wildcard
	// profile is in conflict range
	p, err := engine.CreateProfile(ctx, owner, "Goes Wild", settings("p"))
	require.NoError(t, err)
	_, err = engine.SetProfileDevices(ctx, owner, p.ID, []string{"tmp"})
	require.NoError(t, err)
	_, err = engine.SetSeriesProfile(ctx, owner, p.ID, "s7")
	require.NoError(t, err)

	_, err = engine.SetProfileDevices(ctx, owner, p.ID, nil)
	require.NoError(t, err)

	wildNow, err := engine.GetProfile(ctx, owner, wild.ID)
	require.NoError(t, err)
	assert.Empty(t, wildNow.SeriesIDs)

	devicedNow, err := engine.GetProfile(ctx, owner, deviced.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"s7"}, devicedNow.SeriesIDs)
}

func TestSetDevicesOnDefaultOrImplicitRejected(t *testing.T) {
	engine, owner := newEngine(t)
	ctx := context.Background()

	all, err := engine.ListProfiles(ctx, owner)
	require.NoError(t, err)
	def := all[0]

	_, err = engine.SetProfileDevices(ctx, owner, def.ID, []string{"d1"})
	assert.ErrorIs(t, err, profiles.ErrProtectedProfile)

	_, err = engine.SetSeriesProfile(ctx, owner, def.ID, "s7")
	assert.ErrorIs(t, err, profiles.ErrProtectedProfile)

	shadow, err := engine.UpsertImplicit(ctx, owner, "lib1", "s7", settings("shadow"), nil)
	require.NoError(t, err)

	_, err = engine.SetProfileDevices(ctx, owner, shadow.ID, []string{"d1"})
	assert.ErrorIs(t, err, profiles.ErrInvalidKindTransition)

	_, err = engine.SetSeriesProfile(ctx, owner, shadow.ID, "s9")
	assert.ErrorIs(t, err, profiles.ErrInvalidKindTransition)
}

func TestSetSeriesProfileReplacesPriorBinding(t *testing.T) {
	engine, owner := newEngine(t)
	ctx := context.Background()

	p, err := engine.CreateProfile(ctx, owner, "Moves Around", settings("p"))
	require.NoError(t, err)

	_, err = engine.SetSeriesProfile(ctx, owner, p.ID, "s7")
	require.NoError(t, err)

	// set is a replace, not an add: the old claim goes away
	got, err := engine.SetSeriesProfile(ctx, owner, p.ID, "s8")
	require.NoError(t, err)
	assert.Equal(t, []string{"s8"}, got.SeriesIDs)

	res, err := engine.Resolve(ctx, owner, "lib1", "s7", nil, false)
	require.NoError(t, err)
	assert.Equal(t, models.KindDefault, res.Kind)
}

func TestSetLibraryProfileReplacesPriorBinding(t *testing.T) {
	engine, owner := newEngine(t)
	ctx := context.Background()

	p, err := engine.CreateProfile(ctx, owner, "Moves Around", settings("p"))
	require.NoError(t, err)

	_, err = engine.SetLibraryProfile(ctx, owner, p.ID, "lib1")
	require.NoError(t, err)

	got, err := engine.SetLibraryProfile(ctx, owner, p.ID, "lib2")
	require.NoError(t, err)
	assert.Equal(t, []string{"lib2"}, got.LibraryIDs)

	res, err := engine.Resolve(ctx, owner, "lib1", "s1", nil, false)
	require.NoError(t, err)
	assert.Equal(t, models.KindDefault, res.Kind)
}

func TestBulkSeriesBinding(t *testing.T) {
	engine, owner := newEngine(t)
	ctx := context.Background()

	p, err := engine.CreateProfile(ctx, owner, "Bulk", settings("bulk"))
	require.NoError(t, err)

	got, err := engine.SetSeriesProfiles(ctx, owner, p.ID, []string{"s1", "s2", "s3"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"s1", "s2", "s3"}, got.SeriesIDs)

	for _, s := range []string{"s1", "s2", "s3"} {
		res, err := engine.Resolve(ctx, owner, "lib1", s, nil, false)
		require.NoError(t, err)
		assert.Equal(t, p.ID, res.ID)
	}
}

func TestLibraryBindingResolves(t *testing.T) {
	engine, owner := newEngine(t)
	ctx := context.Background()

	p, err := engine.CreateProfile(ctx, owner, "Library Wide", settings("lib"))
	require.NoError(t, err)
	_, err = engine.SetLibraryProfile(ctx, owner, p.ID, "lib1")
	require.NoError(t, err)

	got, err := engine.Resolve(ctx, owner, "lib1", "any-series", nil, false)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	got, err = engine.Resolve(ctx, owner, "lib2", "any-series", nil, false)
	require.NoError(t, err)
	assert.Equal(t, models.KindDefault, got.Kind)
}
