package profiles

import "errors"

var (
	// ErrNotOwner is returned when a mutation targets a profile owned by a
	// different user. Never a silent no-op.
	ErrNotOwner = errors.New("profile not owned by caller")

	// ErrInvalidKindTransition is returned when an operation requires a
	// specific profile kind, e.g. promoting a non-implicit profile.
	ErrInvalidKindTransition = errors.New("invalid profile kind for operation")

	// ErrDuplicateName is returned when a create or rename collides with an
	// existing normalized name for the same owner.
	ErrDuplicateName = errors.New("profile name already in use")

	// ErrProtectedProfile is returned for delete, kind-change or scope
	// mutations against the owner's default profile.
	ErrProtectedProfile = errors.New("default profile is protected")

	// ErrInvariantViolation means resolution found no candidate at all for a
	// user. A provisioned user always has a default profile, so this is a
	// bug in provisioning, not a user-facing condition.
	ErrInvariantViolation = errors.New("no resolvable profile for user")

	// ErrNotFound is returned when the targeted profile does not exist.
	ErrNotFound = errors.New("profile not found")
)
