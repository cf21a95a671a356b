package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"soundroom/model"
)

const (
	defaultSearchLimit = 25
	maxSearchLimit     = 50
)

// popularTerms seed the Popular listing; the iTunes search API has no real
// charts endpoint.
var popularTerms = []string{"top hits"}

// ITunesClient queries the iTunes Search API.
type ITunesClient struct {
	baseURL string
	httpc   *http.Client
}

// NewITunesClient builds a client for the given API base URL, for example
// https://itunes.apple.com.
func NewITunesClient(baseURL string) *ITunesClient {
	return &ITunesClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

type itunesResult struct {
	TrackID          int64  `json:"trackId"`
	ArtistName       string `json:"artistName"`
	TrackName        string `json:"trackName"`
	CollectionName   string `json:"collectionName"`
	ArtworkURL100    string `json:"artworkUrl100"`
	PreviewURL       string `json:"previewUrl"`
	TrackTimeMillis  int64  `json:"trackTimeMillis"`
	PrimaryGenreName string `json:"primaryGenreName"`
}

type itunesResponse struct {
	ResultCount int            `json:"resultCount"`
	Results     []itunesResult `json:"results"`
}

// Search queries the catalog for songs matching the free-text term.
func (c *ITunesClient) Search(ctx context.Context, query string, limit int) ([]model.Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []model.Track{}, nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	u, err := url.Parse(c.baseURL + "/search")
	if err != nil {
		return nil, fmt.Errorf("invalid catalog url: %w", err)
	}
	q := u.Query()
	q.Set("term", query)
	q.Set("media", "music")
	q.Set("entity", "song")
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog returned status %d", resp.StatusCode)
	}

	var decoded itunesResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode catalog response: %w", err)
	}

	tracks := make([]model.Track, 0, len(decoded.Results))
	for _, item := range decoded.Results {
		tracks = append(tracks, model.Track{
			ID:         fmt.Sprintf("itunes-%d", item.TrackID),
			Title:      item.TrackName,
			Artist:     item.ArtistName,
			Album:      item.CollectionName,
			ArtworkURL: upscaleArtwork(item.ArtworkURL100),
			Duration:   item.TrackTimeMillis,
			PreviewURL: item.PreviewURL,
			ExternalID: strconv.FormatInt(item.TrackID, 10),
		})
	}
	return tracks, nil
}

// Popular returns a generic chart-ish listing built from seed terms.
func (c *ITunesClient) Popular(ctx context.Context, limit int) ([]model.Track, error) {
	return c.Search(ctx, popularTerms[0], limit)
}

// upscaleArtwork swaps the 100x100 thumbnail path for the 600x600 variant the
// iTunes CDN also serves.
func upscaleArtwork(artworkURL string) string {
	return strings.Replace(artworkURL, "100x100bb", "600x600bb", 1)
}
