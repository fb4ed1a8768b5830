package model

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
)

// SplashCommand is a one-shot instruction carried inside the now-playing
// snapshot, consumed by splash clients on the next render.
type SplashCommand string

const (
	CommandNone    SplashCommand = ""
	CommandRestart SplashCommand = "restart"
	CommandMessage SplashCommand = "message"
)

// EndReason is the fixed vocabulary splash clients use to report why a song
// stopped. Existing values must not change meaning: the controller branches
// on them (only ReasonComplete triggers the post-song history flow).
type EndReason string

const (
	ReasonComplete      EndReason = "complete"
	ReasonSkipped       EndReason = "skipped"
	ReasonPlaybackError EndReason = "error while playing"
	ReasonFailedToStart EndReason = "failed to start"
	ReasonSplashClosed  EndReason = "splash screen closed"
)

// NowPlayingState is the canonical snapshot pushed to splash clients.
// It has a single writer (the controller/supervisor pair); everyone else
// only reads copies of it.
type NowPlayingState struct {
	Current  *QueueEntry   `json:"current"`
	UpNext   *QueueEntry   `json:"upNext"`
	IsPaused bool          `json:"isPaused"`
	Volume   float64       `json:"volume"`
	Position float64       `json:"positionSeconds"`
	Duration float64       `json:"durationSeconds"`
	Command  SplashCommand `json:"command"`
	Message  string        `json:"message,omitempty"`
	Revision string        `json:"revision"`
}

// WithRevision returns a copy of the state with its revision hash filled in.
// The hash covers every observable field except the playback position, which
// advances with wall-clock time rather than by mutation; including it would
// make every snapshot look stale. Clients compare revisions instead of
// deep-diffing payloads.
func (s NowPlayingState) WithRevision() NowPlayingState {
	hashed := s
	hashed.Revision = ""
	hashed.Position = 0
	raw, err := json.Marshal(hashed)
	if err != nil {
		// All fields are plain data; Marshal cannot realistically fail here.
		s.Revision = "unknown"
		return s
	}
	sum := sha1.Sum(raw)
	s.Revision = hex.EncodeToString(sum[:])
	return s
}
