package model

import "time"

// Profile holds the portal account metadata captured at registration.
type Profile struct {
	PortalUserID string
	FullName     string
	FirstName    string
	LastName     string
	Email        string
}

// Subject is one tracked user, keyed by their chat identity.
type Subject struct {
	ID           int64
	Username     string
	Secret       string
	Token        string
	Profile      Profile
	Snapshot     []Record
	Stale        bool
	RegisteredAt time.Time
	SnapshotAt   time.Time
	UpdatedAt    time.Time
}

// HasSecret reports whether a portal password is on file.
func (s Subject) HasSecret() bool {
	return s.Secret != ""
}

// HasBaseline reports whether a snapshot has ever been persisted by a poll.
func (s Subject) HasBaseline() bool {
	return !s.SnapshotAt.IsZero()
}

// DisplayName returns the portal full name, or the username when unknown.
func (s Subject) DisplayName() string {
	if s.Profile.FullName != "" {
		return s.Profile.FullName
	}
	return s.Username
}

// UserData is what the portal returns for an authenticated subject.
type UserData struct {
	Profile Profile
	Records []Record
}
