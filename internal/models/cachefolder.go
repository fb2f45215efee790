package models

import "time"

// CacheFolder is one bounded filesystem location for derivative artifacts.
// currentSizeBytes never exceeds maxSizeBytes; reservations go through the
// allocator's conditional increment, never a plain add.
type CacheFolder struct {
	ID               string    `bson:"_id" json:"id"`
	Name             string    `bson:"name" json:"name"`
	Path             string    `bson:"path" json:"path"`
	Priority         int       `bson:"priority" json:"priority"`
	MaxSizeBytes     int64     `bson:"maxSizeBytes" json:"maxSizeBytes"`
	CurrentSizeBytes int64     `bson:"currentSizeBytes" json:"currentSizeBytes"`
	IsActive         bool      `bson:"isActive" json:"isActive"`
	CreatedAt        time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time `bson:"updatedAt" json:"updatedAt"`
}

// RemainingBytes returns the unreserved capacity.
func (f *CacheFolder) RemainingBytes() int64 {
	remaining := f.MaxSizeBytes - f.CurrentSizeBytes
	if remaining < 0 {
		return 0
	}
	return remaining
}
