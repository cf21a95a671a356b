package client

import (
	"time"

	"soundroom/core/clock"
	"soundroom/core/room"
	"soundroom/logger"
	"soundroom/model"
)

// DriftThresholdMillis is the drift beyond which the controller corrects the
// local playhead. Smaller drifts are left alone so the player never stutters
// from millisecond-level corrections.
const DriftThresholdMillis = 2000

// Controller applies server playback events to a local player engine.
// Play/pause transitions are always applied; position is only corrected when
// the local playhead has drifted past the threshold.
type Controller struct {
	engine        PlayerEngine
	trackDuration int64 // millis, 0 when unknown

	now func() time.Time
}

// NewController wraps a player engine.
func NewController(engine PlayerEngine) *Controller {
	return &Controller{engine: engine, now: time.Now}
}

// ApplyTrackChange loads the announced track, paused at the announced
// position.
func (c *Controller) ApplyTrackChange(evt room.TrackChangedData) {
	c.trackDuration = evt.Track.Duration
	c.engine.Load(evt.Track.ID, evt.Position)
	if evt.IsPlaying {
		c.engine.Play()
	}
	logger.Debug("track change applied",
		logger.String("track", evt.Track.ID),
		logger.Int64("position", evt.Position))
}

// ApplySync reconciles the local player against a server playback sync. The
// server clock is extrapolated to now before comparison, so a sync that spent
// time in flight still lands on the live position.
func (c *Controller) ApplySync(evt room.PlaybackSyncData) {
	if evt.TrackID != "" && evt.TrackID != c.engine.TrackID() {
		// Missed a track change; recover by loading what the room is on.
		c.engine.Load(evt.TrackID, evt.Position)
	}

	isPlaying, target := clock.Derive(model.PlaybackClock{
		IsPlaying: evt.IsPlaying,
		Position:  evt.Position,
		Timestamp: evt.Timestamp,
		TrackID:   evt.TrackID,
	}, c.trackDuration, c.now().UnixMilli())

	drift := c.engine.Position() - target
	if drift < 0 {
		drift = -drift
	}
	if drift > DriftThresholdMillis {
		c.engine.Seek(target)
		logger.Debug("playhead corrected",
			logger.Int64("drift", drift),
			logger.Int64("target", target))
	}

	if isPlaying {
		c.engine.Play()
	} else {
		c.engine.Pause()
	}
}
