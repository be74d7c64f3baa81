package models

import "time"

// Priority orders notifications for operators.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Rank orders priorities from low to high.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// Notification types emitted by the mention lifecycle.
const (
	NotificationUnassignedMention     = "unassigned_mention"
	NotificationStoryDeletedEarly     = "story_deleted_early"
	NotificationStoryUnverifiable     = "story_unverifiable"
	NotificationStoryCompleted        = "story_completed"
	NotificationConnectAccountRequest = "connect_account_request"
	NotificationPartySelectionTimeout = "party_selection_timeout"
	NotificationPartySelectionFailed  = "party_selection_failed"
	NotificationHashtagMentions       = "hashtag_mentions"
)

// Notification is the operator-facing record of a lifecycle outcome.
type Notification struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	OrganizationID string    `gorm:"size:64;not null;index" json:"organization_id"`
	Type           string    `gorm:"size:48;not null;index" json:"type"`
	Title          string    `gorm:"size:256" json:"title"`
	Message        string    `gorm:"type:text" json:"message"`
	TargetType     string    `gorm:"size:32" json:"target_type,omitempty"`
	TargetID       string    `gorm:"size:64" json:"target_id,omitempty"`
	Priority       Priority  `gorm:"size:8;default:low" json:"priority"`
	Read           bool      `gorm:"default:false;index" json:"read"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}
