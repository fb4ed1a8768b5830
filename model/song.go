package model

import "time"

// RandomizerName is the system identity used for random queue fill.
// Entries requested under this name are exempt from the per-user quota.
const RandomizerName = "Randomizer"

// QueueEntry is a single pending request to play a media file.
type QueueEntry struct {
	ID        string    `json:"id"`
	FilePath  string    `json:"filePath"`
	Title     string    `json:"title"`
	Singer    string    `json:"singer"`
	AddedAt   time.Time `json:"addedAt"`
	Transpose int       `json:"transpose"` // semitones, 0 = original key
}

// LibraryEntry is a playable local file, derived from its filename.
type LibraryEntry struct {
	FilePath   string    `json:"filePath"`
	Title      string    `json:"title"`
	Artist     string    `json:"artist,omitempty"`
	ExternalID string    `json:"externalId,omitempty"`
	AddedAt    time.Time `json:"addedAt"`
}

// Notification is a short user-facing message pushed to splash clients.
type Notification struct {
	Message  string `json:"message"`
	Severity string `json:"severity"` // info, warning, error
}

const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)
