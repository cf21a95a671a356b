// Package clock implements playback clock reconciliation: converting an
// authoritative (position, isPlaying, timestamp) snapshot into the effective
// live position at some later instant. Both the server (resync responses) and
// the client (local playback correction) use the same derivation.
package clock

import "soundroom/model"

// Derive computes the effective playback position of a clock snapshot at
// instant nowMillis.
//
// When paused, or when no track is loaded, the stored position is returned
// untouched. When playing, the elapsed wall time since the snapshot was
// captured is added and the result is clamped to the track duration (a
// duration of 0 means unknown and disables clamping). The clamp models
// natural playback end; it never flips isPlaying, which only an explicit
// playback-control event may do.
//
// A caller whose clock is behind the snapshot sees zero elapsed time, never a
// negative one. Pure and side-effect free; safe to call once per UI tick.
func Derive(c model.PlaybackClock, trackDurationMillis, nowMillis int64) (isPlaying bool, effectivePosition int64) {
	if !c.IsPlaying || c.TrackID == "" {
		return c.IsPlaying, c.Position
	}

	elapsed := nowMillis - c.Timestamp
	if elapsed < 0 {
		elapsed = 0
	}

	pos := c.Position + elapsed
	if trackDurationMillis > 0 && pos > trackDurationMillis {
		pos = trackDurationMillis
	}
	return true, pos
}
