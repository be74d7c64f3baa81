package partyselection

import (
	"fmt"
	"strings"

	"github.com/partyhub/mention-lifecycle/internal/models"
	"github.com/partyhub/mention-lifecycle/internal/platform"
)

// Decision is what to do with a story mention that has no event yet.
type Decision string

const (
	DecisionNoParties Decision = "no_parties"
	DecisionAutoMatch Decision = "auto_match"
	DecisionAskUser   Decision = "ask_user"
	// DecisionSkipped is returned for mentions that already have an event
	// or an open dialog.
	DecisionSkipped Decision = "skipped"
)

// Decide picks the resolution path from the organization's active events.
func Decide(activeEvents []models.Event) Decision {
	switch len(activeEvents) {
	case 0:
		return DecisionNoParties
	case 1:
		return DecisionAutoMatch
	default:
		return DecisionAskUser
	}
}

// BuildOptions turns events into numbered options, preserving their order.
// Every event gets an option; only the first platform.MaxQuickReplies are
// offered as quick replies, the rest can be chosen by number or name.
func BuildOptions(events []models.Event) []models.PartyOption {
	options := make([]models.PartyOption, 0, len(events))
	for i, event := range events {
		options = append(options, models.PartyOption{
			EventID:  event.ID,
			Name:     event.Name,
			Location: event.Location,
			Payload:  fmt.Sprintf("party_%d_%s", i+1, event.ID),
		})
	}
	return options
}

// QuickReplies returns the tappable subset of options.
func QuickReplies(options []models.PartyOption) []platform.QuickReply {
	n := len(options)
	if n > platform.MaxQuickReplies {
		n = platform.MaxQuickReplies
	}
	replies := make([]platform.QuickReply, 0, n)
	for _, option := range options[:n] {
		replies = append(replies, platform.QuickReply{
			Title:   platform.TruncateTitle(option.Name),
			Payload: option.Payload,
		})
	}
	return replies
}

// BuildMessage renders the question sent to the sender.
func BuildMessage(m *models.Mention, options []models.PartyOption) string {
	var b strings.Builder

	greeting := "Hi"
	if m.PlatformUsername != "" {
		greeting = "Hi @" + m.PlatformUsername
	}
	b.WriteString(greeting)
	b.WriteString("! Thanks for sharing us in your story. Which party was it for?\n\n")

	for i, option := range options {
		b.WriteString(fmt.Sprintf("%d. %s", i+1, option.Name))
		if option.Location != "" {
			b.WriteString(fmt.Sprintf(" (%s)", option.Location))
		}
		b.WriteString("\n")
	}

	if len(options) > platform.MaxQuickReplies {
		b.WriteString("\nReply with the number or the name of the party.")
	} else {
		b.WriteString("\nTap an option or reply with its number.")
	}
	return b.String()
}

func confirmationMessage(option *models.PartyOption) string {
	return fmt.Sprintf("Got it! Your story is now linked to %s. Thanks!", option.Name)
}
