package models

import (
	"time"

	"gorm.io/datatypes"
)

// StoryLifetime is how long a story stays visible on the platform.
const StoryLifetime = 24 * time.Hour

// MentionType discriminates the inbound signal a Mention was built from.
type MentionType string

const (
	MentionTypeStory         MentionType = "story"
	MentionTypeStoryReferral MentionType = "story_referral"
	MentionTypeComment       MentionType = "comment"
	MentionTypeMention       MentionType = "mention"
	MentionTypeTag           MentionType = "tag"
	MentionTypeHashtag       MentionType = "hashtag"
)

// MentionState is the lifecycle state of a story_referral mention.
type MentionState string

const (
	StateNew                MentionState = "new"
	StateFlaggedEarlyDelete MentionState = "flagged_early_delete"
	StateCompleted          MentionState = "completed"
	StateExpiredUnknown     MentionState = "expired_unknown"
)

// Terminal reports whether no further state transition is allowed.
func (s MentionState) Terminal() bool {
	switch s {
	case StateFlaggedEarlyDelete, StateCompleted, StateExpiredUnknown:
		return true
	}
	return false
}

// PartySelectionStatus tracks the disambiguation dialog for a mention.
type PartySelectionStatus string

const (
	PartySelectionNone            PartySelectionStatus = "none"
	PartySelectionPendingResponse PartySelectionStatus = "pending_response"
	PartySelectionResolved        PartySelectionStatus = "resolved"
	PartySelectionTimeout         PartySelectionStatus = "timeout"
)

// AccountVisibility is what verification learned about the sender's account.
type AccountVisibility string

const (
	VisibilityUnknown AccountVisibility = "unknown"
	VisibilityPublic  AccountVisibility = "public"
	VisibilityPrivate AccountVisibility = "private"
)

// PartyOption is one event offered to the sender in a party selection message.
type PartyOption struct {
	EventID  string `json:"event_id"`
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
	Payload  string `json:"payload"`
}

// Mention is one inbound signal tying a platform user to an organization's
// content. Rows are never deleted.
type Mention struct {
	ID             string `gorm:"primaryKey;size:36" json:"id"`
	OrganizationID string `gorm:"size:64;not null;uniqueIndex:ux_mentions_identity,priority:1;index" json:"organization_id"`

	PlatformUserID   string      `gorm:"size:64;uniqueIndex:ux_mentions_identity,priority:2" json:"platform_user_id,omitempty"`
	PlatformUsername string      `gorm:"size:128" json:"platform_username,omitempty"`
	MentionType      MentionType `gorm:"size:24;not null;uniqueIndex:ux_mentions_identity,priority:4;index" json:"mention_type"`

	MatchedAmbassadorID    *string `gorm:"size:64;index" json:"matched_ambassador_id,omitempty"`
	MatchedFiestaID        *string `gorm:"size:64;index" json:"matched_fiesta_id,omitempty"`
	MatchedExternalEventID *string `gorm:"size:64" json:"matched_external_event_id,omitempty"`
	CreatedTaskID          *string `gorm:"size:64" json:"created_task_id,omitempty"`

	InstagramStoryID string         `gorm:"size:64" json:"instagram_story_id,omitempty"`
	MediaID          string         `gorm:"size:64" json:"media_id,omitempty"`
	CommentID        string         `gorm:"size:64" json:"comment_id,omitempty"`
	StoryURL         string         `gorm:"type:text" json:"story_url,omitempty"`
	DeepLink         string         `gorm:"type:text" json:"deep_link,omitempty"`
	Content          string         `gorm:"type:text" json:"content,omitempty"`
	RawData          datatypes.JSON `json:"raw_data,omitempty"`

	MentionedAt time.Time  `gorm:"not null;uniqueIndex:ux_mentions_identity,priority:3;index" json:"mentioned_at"`
	ExpiresAt   *time.Time `gorm:"index" json:"expires_at,omitempty"`
	LastCheckAt *time.Time `json:"last_check_at,omitempty"`
	ChecksCount int        `gorm:"not null;default:0" json:"checks_count"`

	State             MentionState      `gorm:"size:24;not null;default:new;index" json:"state"`
	AccountVisibility AccountVisibility `gorm:"size:16;not null;default:unknown" json:"account_visibility"`
	Processed         bool              `gorm:"not null;default:false" json:"processed"`
	ProcessedAt       *time.Time        `json:"processed_at,omitempty"`

	PartySelectionStatus        PartySelectionStatus `gorm:"size:24;not null;default:none;index" json:"party_selection_status"`
	PartySelectionMessageSentAt *time.Time           `json:"party_selection_message_sent_at,omitempty"`
	PartyOptionsSent            []PartyOption        `gorm:"serializer:json;type:text" json:"party_options_sent,omitempty"`
	PartySelectionMessageID     string               `gorm:"size:128" json:"party_selection_message_id,omitempty"`

	ConversationID string `gorm:"size:128" json:"conversation_id,omitempty"`
	InboxLink      string `gorm:"type:text" json:"inbox_link,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Age is the time elapsed since the mention occurred.
func (m *Mention) Age(now time.Time) time.Duration {
	return now.Sub(m.MentionedAt)
}

// SenderLabel is how operators see the sender in notifications.
func (m *Mention) SenderLabel() string {
	if m.PlatformUsername != "" {
		return "@" + m.PlatformUsername
	}
	if m.PlatformUserID != "" {
		return m.PlatformUserID
	}
	return "unknown sender"
}

// InsightsSnapshot is a point-in-time copy of a story's insights.
type InsightsSnapshot struct {
	ID                string         `gorm:"primaryKey;size:36" json:"id"`
	MentionID         string         `gorm:"size:36;not null;uniqueIndex:ux_snapshots_mention_type,priority:1" json:"mention_id"`
	SnapshotType      string         `gorm:"size:16;not null;uniqueIndex:ux_snapshots_mention_type,priority:2" json:"snapshot_type"`
	OrganizationID    string         `gorm:"size:64;not null;index" json:"organization_id"`
	Reach             int            `json:"reach"`
	Replies           int            `json:"replies"`
	Shares            int            `json:"shares"`
	ProfileVisits     int            `json:"profile_visits"`
	TotalInteractions int            `json:"total_interactions"`
	Views             int            `json:"views"`
	Navigation        datatypes.JSON `json:"navigation,omitempty"`
	RawInsights       datatypes.JSON `json:"raw_insights,omitempty"`
	CapturedAt        time.Time      `json:"captured_at"`
}

// SnapshotTypeFinal marks the snapshot taken when a story expires naturally.
const SnapshotTypeFinal = "final"

// WebhookDelivery is the audit record of a signed webhook delivery.
type WebhookDelivery struct {
	ID              string         `gorm:"primaryKey;size:36" json:"id"`
	OrganizationID  string         `gorm:"size:64;index" json:"organization_id,omitempty"`
	Object          string         `gorm:"size:32" json:"object"`
	Payload         datatypes.JSON `json:"payload"`
	MentionsCreated int            `json:"mentions_created"`
	ProcessingError string         `gorm:"type:text" json:"processing_error,omitempty"`
	ReceivedAt      time.Time      `gorm:"index" json:"received_at"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
}
