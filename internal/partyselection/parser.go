package partyselection

import (
	"strconv"
	"strings"

	"github.com/partyhub/mention-lifecycle/internal/models"
)

// minFuzzyLength is the shortest reply used for partial name matches.
const minFuzzyLength = 3

// ParseResponse matches a reply against the options that were offered. It
// tries, in order: the quick-reply payload, a bare 1-based number, then
// case-insensitive name matching. It returns nil when nothing matches.
func ParseResponse(options []models.PartyOption, payload, text string) *models.PartyOption {
	if len(options) == 0 {
		return nil
	}

	if payload != "" {
		for i := range options {
			if options[i].Payload == payload {
				return &options[i]
			}
		}
	}

	reply := strings.ToLower(strings.TrimSpace(text))
	if reply == "" {
		return nil
	}

	if n, err := strconv.Atoi(reply); err == nil {
		if n >= 1 && n <= len(options) {
			return &options[n-1]
		}
	}

	names := make([]string, len(options))
	for i, option := range options {
		names[i] = strings.ToLower(strings.TrimSpace(option.Name))
	}

	for i, name := range names {
		if name != "" && reply == name {
			return &options[i]
		}
	}

	for i, name := range names {
		if name != "" && strings.Contains(reply, name) {
			return &options[i]
		}
	}

	if len([]rune(reply)) >= minFuzzyLength {
		for i, name := range names {
			if strings.Contains(name, reply) {
				return &options[i]
			}
		}
	}

	if fields := strings.Fields(reply); len(fields) > 0 {
		word := strings.Trim(fields[0], ".,!?¡¿")
		if len([]rune(word)) >= minFuzzyLength {
			for i, name := range names {
				if strings.HasPrefix(name, word) {
					return &options[i]
				}
			}
		}
	}

	return nil
}
