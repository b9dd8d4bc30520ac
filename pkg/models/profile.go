package models

import (
	"encoding/json"
	"strings"
	"time"
	"unicode"
)

// ProfileKind tags the lifecycle class of a reading profile.
type ProfileKind string

const (
	// KindDefault is the single undeletable fallback profile every user owns.
	KindDefault ProfileKind = "default"
	// KindImplicit is an ephemeral shadow profile created when the user
	// tweaks reader settings without saving a profile explicitly.
	KindImplicit ProfileKind = "implicit"
	// KindUser is an explicit, named, durable profile.
	KindUser ProfileKind = "user"
)

func (k ProfileKind) Valid() bool {
	switch k {
	case KindDefault, KindImplicit, KindUser:
		return true
	}
	return false
}

// Profile is a bundle of reader settings plus the scope bindings that
// decide where it applies. SeriesIDs and LibraryIDs are the scope claims;
// DeviceIDs restricts the profile to devices. An empty DeviceIDs always
// means wildcard (applies on every device), never "restricted to none".
type Profile struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"owner_id"`
	Kind           ProfileKind     `json:"kind"`
	Name           string          `json:"name,omitempty"`
	NormalizedName string          `json:"-"`
	SeriesIDs      []string        `json:"series_ids"`
	LibraryIDs     []string        `json:"library_ids"`
	DeviceIDs      []string        `json:"device_ids"`
	Settings       json.RawMessage `json:"settings"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (p *Profile) BoundToSeries(seriesID string) bool {
	return containsID(p.SeriesIDs, seriesID)
}

func (p *Profile) BoundToLibrary(libraryID string) bool {
	return containsID(p.LibraryIDs, libraryID)
}

func (p *Profile) AppliesToDevice(deviceID string) bool {
	return containsID(p.DeviceIDs, deviceID)
}

// WildcardDevices reports whether the profile applies regardless of the
// requesting device.
func (p *Profile) WildcardDevices() bool {
	return len(p.DeviceIDs) == 0
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// NormalizeName lowercases and strips everything but letters and digits so
// "Night Mode" and "night-mode" collide for uniqueness purposes.
func NormalizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
