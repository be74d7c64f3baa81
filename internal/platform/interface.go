package platform

import (
	"context"
	"encoding/json"
)

// MaxQuickReplies is the platform's hard limit on quick-reply options.
const MaxQuickReplies = 13

// MaxQuickReplyTitle is the platform's limit on a quick-reply title, in characters.
const MaxQuickReplyTitle = 20

// VerificationResult is the outcome of a story existence check.
type VerificationResult string

const (
	ResultExists                VerificationResult = "exists"
	ResultDeleted               VerificationResult = "deleted"
	ResultPrivateOrNoPermission VerificationResult = "private_or_no_permission"
	ResultRateLimited           VerificationResult = "rate_limited"
	ResultTokenInvalid          VerificationResult = "token_invalid"
	ResultNetworkError          VerificationResult = "network_error"
)

// Transient reports whether the check should simply be retried later.
func (r VerificationResult) Transient() bool {
	return r == ResultRateLimited || r == ResultNetworkError
}

// PublicAccount reports whether the outcome proves the account is readable.
func (r VerificationResult) PublicAccount() bool {
	return r == ResultExists || r == ResultDeleted
}

// StoryInsights is the subset of story metrics the lifecycle records.
type StoryInsights struct {
	Reach             int             `json:"reach"`
	Replies           int             `json:"replies"`
	Shares            int             `json:"shares"`
	ProfileVisits     int             `json:"profile_visits"`
	TotalInteractions int             `json:"total_interactions"`
	Views             int             `json:"views"`
	Navigation        map[string]int  `json:"navigation,omitempty"`
	Raw               json.RawMessage `json:"-"`
}

// QuickReply is one tappable option attached to a message.
type QuickReply struct {
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

// Client is the external social platform as seen by the lifecycle.
type Client interface {
	StoryExists(ctx context.Context, storyID, token string) VerificationResult
	// FetchStoryInsights returns nil insights without error when the
	// platform has nothing to report.
	FetchStoryInsights(ctx context.Context, storyID, token string) (*StoryInsights, error)
	StoryPermalink(ctx context.Context, storyID, token string) (string, error)
	SendMessage(ctx context.Context, recipientID, text, token string) (string, error)
	SendMessageWithQuickReplies(ctx context.Context, recipientID, text string, options []QuickReply, token string) (string, error)
}
