package profiles_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"readhub/internal/profiles"
	"readhub/pkg/models"
)

func TestUpsertImplicitFindOrCreate(t *testing.T) {
	engine, owner := newEngine(t)
	ctx := context.Background()

	first, err := engine.UpsertImplicit(ctx, owner, "lib1", "s7", settings("v1"), nil)
	require.NoError(t, err)
	assert.Equal(t, models.KindImplicit, first.Kind)
	assert.Equal(t, []string{"s7"}, first.SeriesIDs)
	assert.Empty(t, first.DeviceIDs)

	// same (series, device) pair overwrites in place
	second, err := engine.UpsertImplicit(ctx, owner, "lib1", "s7", settings("v2"), nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "v2", markerOf(t, second))

	got, err := engine.Resolve(ctx, owner, "lib1", "s7", nil, false)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "v2", markerOf(t, got))
}

func TestUpsertImplicitDistinctPerDevice(t *testing.T) {
	engine, owner := newEngine(t)
	ctx := context.Background()

	wild, err := engine.UpsertImplicit(ctx, owner, "lib1", "s7", settings("wild"), nil)
	require.NoError(t, err)
	tablet, err := engine.UpsertImplicit(ctx, owner, "lib1", "s7", settings("tablet"), strPtr("tablet"))
	require.NoError(t, err)
	assert.NotEqual(t, wild.ID, tablet.ID)
	assert.Equal(t, []string{"tablet"}, tablet.DeviceIDs)

	// the device-specific shadow wins on its device, the wildcard elsewhere
	got, err := engine.Resolve(ctx, owner, "lib1", "s7", strPtr("tablet"), false)
	require.NoError(t, err)
	assert.Equal(t, tablet.ID, got.ID)

	got, err = engine.Resolve(ctx, owner, "lib1", "s7", strPtr("phone"), false)
	require.NoError(t, err)
	assert.Equal(t, wild.ID, got.ID)
}

func TestImplicitShadowsDeliberateChoice(t *testing.T) {
	engine, owner := newEngine(t)
	ctx := context.Background()

	p, err := engine.CreateProfile(ctx, owner, "Chosen", settings("chosen"))
	require.NoError(t, err)
	_, err = engine.SetSeriesProfile(ctx, owner, p.ID, "s7")
	require.NoError(t, err)

	shadow, err := engine.UpsertImplicit(ctx, owner, "lib1", "s7", settings("tweak"), nil)
	require.NoError(t, err)

	got, err := engine.Resolve(ctx, owner, "lib1", "s7", nil, false)
	require.NoError(t, err)
	assert.Equal(t, shadow.ID, got.ID)
	assert.Equal(t, "tweak", markerOf(t, got))

	// the deliberate choice is still underneath
	got, err = engine.Resolve(ctx, owner, "lib1", "s7", nil, true)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}

func TestPromote(t *testing.T) {
	engine, owner := newEngine(t)
	ctx := context.Background()

	shadow, err := engine.UpsertImplicit(ctx, owner, "lib1", "s7", settings("tweak"), strPtr("tablet"))
	require.NoError(t, err)

	p, err := engine.Promote(ctx, owner, shadow.ID, "Tablet Tweaks")
	require.NoError(t, err)
	assert.Equal(t, models.KindUser, p.Kind)
	assert.Equal(t, "Tablet Tweaks", p.Name)
	// bindings and settings survive promotion untouched
	assert.Equal(t, []string{"s7"}, p.SeriesIDs)
	assert.Equal(t, []string{"tablet"}, p.DeviceIDs)
	assert.Equal(t, "tweak", markerOf(t, p))

	got, err := engine.Resolve(ctx, owner, "lib1", "s7", strPtr("tablet"), false)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}

func TestPromoteGeneratesNameWhenEmpty(t *testing.T) {
	engine, owner := newEngine(t)
	ctx := context.Background()

	shadow, err := engine.UpsertImplicit(ctx, owner, "lib1", "s7", settings("tweak"), nil)
	require.NoError(t, err)

	p, err := engine.Promote(ctx, owner, shadow.ID, "  ")
	require.NoError(t, err)
	assert.Equal(t, models.KindUser, p.Kind)
	assert.NotEmpty(t, p.Name)
}

func TestPromoteRejections(t *testing.T) {
	engine, owner := newEngine(t)
	ctx := context.Background()

	durable, err := engine.CreateProfile(ctx, owner, "Already Durable", settings("d"))
	require.NoError(t, err)

	_, err = engine.Promote(ctx, owner, durable.ID, "Again")
	assert.ErrorIs(t, err, profiles.ErrInvalidKindTransition)

	all, err := engine.ListProfiles(ctx, owner)
	require.NoError(t, err)
	for _, p := range all {
		if p.Kind == models.KindDefault {
			_, err = engine.Promote(ctx, owner, p.ID, "Nope")
			assert.ErrorIs(t, err, profiles.ErrInvalidKindTransition)
		}
	}

	shadow, err := engine.UpsertImplicit(ctx, owner, "lib1", "s7", settings("tweak"), nil)
	require.NoError(t, err)

	_, err = engine.Promote(ctx, owner, shadow.ID, "already durable")
	assert.ErrorIs(t, err, profiles.ErrDuplicateName)

	_, err = engine.Promote(ctx, "stranger", shadow.ID, "Mine Now")
	assert.ErrorIs(t, err, profiles.ErrNotOwner)
}

func TestUpdateParentCommitsAndDropsShadow(t *testing.T) {
	engine, owner := newEngine(t)
	ctx := context.Background()

	p, err := engine.CreateProfile(ctx, owner, "Chosen", settings("old"))
	require.NoError(t, err)
	_, err = engine.SetSeriesProfile(ctx, owner, p.ID, "s7")
	require.NoError(t, err)

	shadow, err := engine.UpsertImplicit(ctx, owner, "lib1", "s7", settings("tweak"), nil)
	require.NoError(t, err)

	parent, err := engine.UpdateParent(ctx, owner, "lib1", "s7", settings("tweak"), nil)
	require.NoError(t, err)
	assert.Equal(t, p.ID, parent.ID)
	assert.Equal(t, "tweak", markerOf(t, parent))

	_, err = engine.GetProfile(ctx, owner, shadow.ID)
	assert.ErrorIs(t, err, profiles.ErrNotFound)

	got, err := engine.Resolve(ctx, owner, "lib1", "s7", nil, false)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}

func TestUpdateParentKeepsOtherDeviceShadows(t *testing.T) {
	engine, owner := newEngine(t)
	ctx := context.Background()

	wild, err := engine.UpsertImplicit(ctx, owner, "lib1", "s7", settings("wild"), nil)
	require.NoError(t, err)
	tablet, err := engine.UpsertImplicit(ctx, owner, "lib1", "s7", settings("tablet"), strPtr("tablet"))
	require.NoError(t, err)

	// commit the tablet tweak: only the tablet shadow is consumed
	parent, err := engine.UpdateParent(ctx, owner, "lib1", "s7", settings("tablet"), strPtr("tablet"))
	require.NoError(t, err)
	assert.Equal(t, models.KindDefault, parent.Kind)
	assert.Equal(t, "tablet", markerOf(t, parent))

	_, err = engine.GetProfile(ctx, owner, tablet.ID)
	assert.ErrorIs(t, err, profiles.ErrNotFound)

	still, err := engine.GetProfile(ctx, owner, wild.ID)
	require.NoError(t, err)
	assert.Equal(t, "wild", markerOf(t, still))
}

func TestUpdateParentFallsThroughToDefault(t *testing.T) {
	engine, owner := newEngine(t)
	ctx := context.Background()

	shadow, err := engine.UpsertImplicit(ctx, owner, "lib1", "s7", settings("tweak"), nil)
	require.NoError(t, err)

	// nothing durable is bound, so the default takes the settings
	parent, err := engine.UpdateParent(ctx, owner, "lib1", "s7", settings("tweak"), nil)
	require.NoError(t, err)
	assert.Equal(t, models.KindDefault, parent.Kind)
	assert.Equal(t, "tweak", markerOf(t, parent))

	_, err = engine.GetProfile(ctx, owner, shadow.ID)
	assert.ErrorIs(t, err, profiles.ErrNotFound)
}

func TestClearSeriesProfile(t *testing.T) {
	engine, owner := newEngine(t)
	ctx := context.Background()

	durable, err := engine.CreateProfile(ctx, owner, "Durable", settings("d"))
	require.NoError(t, err)
	_, err = engine.SetSeriesProfiles(ctx, owner, durable.ID, []string{"s7", "s8"})
	require.NoError(t, err)

	shadow, err := engine.UpsertImplicit(ctx, owner, "lib1", "s7", settings("tweak"), strPtr("tablet"))
	require.NoError(t, err)

	require.NoError(t, engine.ClearSeriesProfile(ctx, owner, "s7"))

	// the durable profile loses only the cleared binding
	durNow, err := engine.GetProfile(ctx, owner, durable.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"s8"}, durNow.SeriesIDs)

	// the shadow had no other scope and is gone
	_, err = engine.GetProfile(ctx, owner, shadow.ID)
	assert.ErrorIs(t, err, profiles.ErrNotFound)

	got, err := engine.Resolve(ctx, owner, "lib1", "s7", strPtr("tablet"), false)
	require.NoError(t, err)
	assert.Equal(t, models.KindDefault, got.Kind)
}

func TestClearLibraryProfile(t *testing.T) {
	engine, owner := newEngine(t)
	ctx := context.Background()

	durable, err := engine.CreateProfile(ctx, owner, "Library Wide", settings("d"))
	require.NoError(t, err)
	_, err = engine.SetLibraryProfile(ctx, owner, durable.ID, "lib1")
	require.NoError(t, err)

	require.NoError(t, engine.ClearLibraryProfile(ctx, owner, "lib1"))

	durNow, err := engine.GetProfile(ctx, owner, durable.ID)
	require.NoError(t, err)
	assert.Empty(t, durNow.LibraryIDs)

	got, err := engine.Resolve(ctx, owner, "lib1", "s1", nil, false)
	require.NoError(t, err)
	assert.Equal(t, models.KindDefault, got.Kind)
}
