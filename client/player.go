// Package client contains the listener-side playback reconciliation: it turns
// server sync events into the minimal set of commands for a local player.
package client

// PlayerEngine is the local audio player the controller drives. Positions are
// milliseconds from the start of the track.
type PlayerEngine interface {
	// Load replaces the current track and leaves the player paused at the
	// given position.
	Load(trackID string, positionMillis int64)
	Play()
	Pause()
	Seek(positionMillis int64)
	// Position reports the player's current playhead.
	Position() int64
	// TrackID reports the loaded track, empty when nothing is loaded.
	TrackID() string
}
