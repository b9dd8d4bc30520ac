package sync

import "time"

const (
	EventProfileUpdate  = "profile.update"
	EventProfileDelete  = "profile.delete"
	EventProfilePromote = "profile.promote"
	EventScopeChange    = "profile.scope"
)

// ProfileEvent is broadcast to connected readers whenever a profile
// mutation lands, so open reader views re-resolve their active profile.
type ProfileEvent struct {
	Type      string    `json:"type"`
	UserID    string    `json:"user_id"`
	ProfileID string    `json:"profile_id,omitempty"`
	SeriesID  string    `json:"series_id,omitempty"`
	LibraryID string    `json:"library_id,omitempty"`
	At        time.Time `json:"at"`
}
