package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MentionKind is the closed set of mention variants. Each variant carries
// only the fields relevant to it; handlers dispatch with a type switch.
type MentionKind interface {
	Type() MentionType
	isMentionKind()
}

// StoryReferral is a story that mentioned the account, delivered as a DM
// attachment. It is the only kind driven through the 24h lifecycle.
type StoryReferral struct {
	StoryID  string
	StoryURL string
	Text     string
}

// Story is a direct reply to one of the account's own stories.
type Story struct {
	StoryID  string
	StoryURL string
	Text     string
}

// Comment is a comment that mentions or replies to the account.
type Comment struct {
	MediaID   string
	CommentID string
	Text      string
}

// CaptionMention is an @mention in a post caption.
type CaptionMention struct {
	MediaID string
}

// Tag is a photo tag of the account.
type Tag struct {
	MediaID string
}

// Hashtag is a post carrying one of the organization's tracked hashtags.
type Hashtag struct {
	MediaID string
	Caption string
}

func (StoryReferral) Type() MentionType  { return MentionTypeStoryReferral }
func (Story) Type() MentionType          { return MentionTypeStory }
func (Comment) Type() MentionType        { return MentionTypeComment }
func (CaptionMention) Type() MentionType { return MentionTypeMention }
func (Tag) Type() MentionType            { return MentionTypeTag }
func (Hashtag) Type() MentionType        { return MentionTypeHashtag }

func (StoryReferral) isMentionKind()  {}
func (Story) isMentionKind()          {}
func (Comment) isMentionKind()        {}
func (CaptionMention) isMentionKind() {}
func (Tag) isMentionKind()            {}
func (Hashtag) isMentionKind()        {}

// Sender identifies who produced the signal. Both fields may be empty for
// anonymized deliveries.
type Sender struct {
	UserID   string
	Username string
}

// NewMention builds a new row for the given organization, sender and kind.
// Story referrals get their fixed expiry here; it is never changed later.
func NewMention(organizationID string, sender Sender, mentionedAt time.Time, kind MentionKind, raw json.RawMessage) *Mention {
	mentionedAt = mentionedAt.UTC()
	m := &Mention{
		ID:                   uuid.New().String(),
		OrganizationID:       organizationID,
		PlatformUserID:       sender.UserID,
		PlatformUsername:     strings.TrimPrefix(sender.Username, "@"),
		MentionType:          kind.Type(),
		MentionedAt:          mentionedAt,
		State:                StateNew,
		AccountVisibility:    VisibilityUnknown,
		PartySelectionStatus: PartySelectionNone,
	}
	if len(raw) > 0 {
		m.RawData = []byte(raw)
	}

	switch k := kind.(type) {
	case StoryReferral:
		m.InstagramStoryID = k.StoryID
		m.StoryURL = k.StoryURL
		m.Content = k.Text
		expires := mentionedAt.Add(StoryLifetime)
		m.ExpiresAt = &expires
	case Story:
		m.InstagramStoryID = k.StoryID
		m.StoryURL = k.StoryURL
		m.Content = k.Text
	case Comment:
		m.MediaID = k.MediaID
		m.CommentID = k.CommentID
		m.Content = k.Text
	case CaptionMention:
		m.MediaID = k.MediaID
	case Tag:
		m.MediaID = k.MediaID
	case Hashtag:
		m.MediaID = k.MediaID
		m.Content = k.Caption
	}
	return m
}

// Kind rebuilds the typed variant from the stored row. It returns nil for an
// unknown discriminator.
func (m *Mention) Kind() MentionKind {
	switch m.MentionType {
	case MentionTypeStoryReferral:
		return StoryReferral{StoryID: m.InstagramStoryID, StoryURL: m.StoryURL, Text: m.Content}
	case MentionTypeStory:
		return Story{StoryID: m.InstagramStoryID, StoryURL: m.StoryURL, Text: m.Content}
	case MentionTypeComment:
		return Comment{MediaID: m.MediaID, CommentID: m.CommentID, Text: m.Content}
	case MentionTypeMention:
		return CaptionMention{MediaID: m.MediaID}
	case MentionTypeTag:
		return Tag{MediaID: m.MediaID}
	case MentionTypeHashtag:
		return Hashtag{MediaID: m.MediaID, Caption: m.Content}
	}
	return nil
}
