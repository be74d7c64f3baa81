package webhook

import (
	"encoding/json"
	"time"
)

// Payload is the envelope of an Instagram webhook delivery.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups the events for one receiving account.
type Entry struct {
	ID        string            `json:"id"`
	Time      int64             `json:"time"`
	Messaging []json.RawMessage `json:"messaging"`
	Changes   []Change          `json:"changes"`
}

// Messaging is one direct-message event.
type Messaging struct {
	Sender    Participant `json:"sender"`
	Recipient Participant `json:"recipient"`
	Timestamp int64       `json:"timestamp"`
	Message   *Message    `json:"message"`
}

type Participant struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
}

type Message struct {
	MID         string       `json:"mid"`
	Text        string       `json:"text"`
	IsEcho      bool         `json:"is_echo"`
	Attachments []Attachment `json:"attachments"`
	ReplyTo     *ReplyTo     `json:"reply_to"`
	QuickReply  *QuickReply  `json:"quick_reply"`
}

type Attachment struct {
	Type    string `json:"type"`
	Payload struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	} `json:"payload"`
}

type ReplyTo struct {
	MID   string `json:"mid"`
	Story *struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	} `json:"story"`
}

type QuickReply struct {
	Payload string `json:"payload"`
}

// Change is one feed change notification (mentions, comments, tags).
type Change struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

type changeValue struct {
	ID        string       `json:"id"`
	MediaID   string       `json:"media_id"`
	CommentID string       `json:"comment_id"`
	Text      string       `json:"text"`
	From      *Participant `json:"from"`
	Media     *struct {
		ID string `json:"id"`
	} `json:"media"`
}

const attachmentStoryMention = "story_mention"

// storyMention returns the story mention attachment, if any.
func (m *Message) storyMention() *Attachment {
	for i := range m.Attachments {
		if m.Attachments[i].Type == attachmentStoryMention {
			return &m.Attachments[i]
		}
	}
	return nil
}

// eventTime converts a provider timestamp to UTC, accepting seconds or
// milliseconds. Zero falls back to fallback.
func eventTime(ts int64, fallback time.Time) time.Time {
	switch {
	case ts <= 0:
		return fallback.UTC()
	case ts > 1e12:
		return time.UnixMilli(ts).UTC()
	default:
		return time.Unix(ts, 0).UTC()
	}
}
