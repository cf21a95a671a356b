package model

// Track is a piece of playable media, as resolved by the catalog.
type Track struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Album      string `json:"album,omitempty"`
	ArtworkURL string `json:"artworkUrl,omitempty"`
	Duration   int64  `json:"duration"` // milliseconds
	PreviewURL string `json:"previewUrl,omitempty"`
	ExternalID string `json:"externalId,omitempty"`
}
