// Package catalog resolves track metadata from an external music catalog so
// hosts can pick what their room listens to.
package catalog

import (
	"context"

	"soundroom/model"
)

// Client searches a music catalog for playable tracks.
type Client interface {
	// Search returns tracks matching a free-text query.
	Search(ctx context.Context, query string, limit int) ([]model.Track, error)
	// Popular returns a default set of tracks for an empty search box.
	Popular(ctx context.Context, limit int) ([]model.Track, error)
}
