package platform

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// graphTimestamp is the layout of media timestamps returned by the Graph API.
const graphTimestamp = "2006-01-02T15:04:05-0700"

// HashtagMedia is one public post found under a hashtag.
type HashtagMedia struct {
	ID        string    `json:"id"`
	Caption   string    `json:"caption,omitempty"`
	MediaType string    `json:"media_type,omitempty"`
	Permalink string    `json:"permalink,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HashtagClient searches public posts by hashtag on behalf of a business
// account.
type HashtagClient interface {
	SearchHashtag(ctx context.Context, accountID, name, token string) (string, error)
	RecentHashtagMedia(ctx context.Context, hashtagID, accountID, token string, limit int) ([]HashtagMedia, error)
}

// Ensure GraphClient implements HashtagClient
var _ HashtagClient = (*GraphClient)(nil)

// SearchHashtag resolves a hashtag name to its platform id.
func (g *GraphClient) SearchHashtag(ctx context.Context, accountID, name, token string) (string, error) {
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"user_id":      accountID,
			"q":            strings.TrimPrefix(strings.ToLower(name), "#"),
			"access_token": token,
		}).
		SetResult(&body).
		Get(g.baseURL + "/ig_hashtag_search")
	if err != nil {
		return "", fmt.Errorf("hashtag search for %s: %w", name, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("hashtag search for %s returned status %d (%s)", name, resp.StatusCode(), classifyGraphError(resp.StatusCode(), resp.Body()))
	}
	if len(body.Data) == 0 || body.Data[0].ID == "" {
		return "", fmt.Errorf("hashtag %s not found", name)
	}
	return body.Data[0].ID, nil
}

// RecentHashtagMedia lists the posts published under a hashtag in the last
// day, newest first.
func (g *GraphClient) RecentHashtagMedia(ctx context.Context, hashtagID, accountID, token string, limit int) ([]HashtagMedia, error) {
	var body struct {
		Data []struct {
			ID        string `json:"id"`
			Caption   string `json:"caption"`
			MediaType string `json:"media_type"`
			Permalink string `json:"permalink"`
			Timestamp string `json:"timestamp"`
		} `json:"data"`
	}
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"user_id":      accountID,
			"fields":       "id,caption,media_type,permalink,timestamp",
			"limit":        strconv.Itoa(limit),
			"access_token": token,
		}).
		SetResult(&body).
		Get(fmt.Sprintf("%s/%s/recent_media", g.baseURL, hashtagID))
	if err != nil {
		return nil, fmt.Errorf("recent media for hashtag %s: %w", hashtagID, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("recent media for hashtag %s returned status %d (%s)", hashtagID, resp.StatusCode(), classifyGraphError(resp.StatusCode(), resp.Body()))
	}

	media := make([]HashtagMedia, 0, len(body.Data))
	for _, item := range body.Data {
		ts, err := time.Parse(graphTimestamp, item.Timestamp)
		if err != nil {
			continue
		}
		media = append(media, HashtagMedia{
			ID:        item.ID,
			Caption:   item.Caption,
			MediaType: item.MediaType,
			Permalink: item.Permalink,
			Timestamp: ts.UTC(),
		})
	}
	return media, nil
}
