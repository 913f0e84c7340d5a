// Package mention resolves @name tokens and reply targets into the
// notification fan-out for a message. It is pure; callers supply the
// roster and the reply target's sender and persist the result.
package mention

import (
	"sort"
	"strings"
	"unicode"
)

// RosterEntry is the subset of a member the resolver needs.
type RosterEntry struct {
	ID          string
	DisplayName string
}

// Notification is one fan-out entry: a distinct recipient and whether a
// reply or a mention triggered it.
type Notification struct {
	RecipientID string
	Kind        string
}

const (
	KindReply   = "reply"
	KindMention = "mention"
)

// Resolution carries the matched display names in first-appearance order
// (stored on the message) and the deduplicated notification list.
type Resolution struct {
	MentionNames  []string
	Notifications []Notification
}

// Resolve scans text for @-mentions against the roster and folds in the
// reply target. Matching is case-insensitive and greedy: at each @ the
// longest display name wins, so multi-word names resolve whole. Senders
// never notify themselves, and a recipient who is both replied to and
// mentioned gets a single reply notification.
func Resolve(text, senderID, replySenderID string, roster []RosterEntry) Resolution {
	candidates := make([]RosterEntry, 0, len(roster))
	for _, entry := range roster {
		if strings.TrimSpace(entry.DisplayName) == "" {
			continue
		}
		candidates = append(candidates, entry)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return len(candidates[i].DisplayName) > len(candidates[j].DisplayName)
	})

	var res Resolution
	var mentionIDs []string
	seenMention := make(map[string]bool)

	for i := 0; i < len(text); i++ {
		if text[i] != '@' {
			continue
		}
		rest := text[i+1:]
		for _, entry := range candidates {
			name := entry.DisplayName
			if len(rest) < len(name) {
				continue
			}
			if !strings.EqualFold(rest[:len(name)], name) {
				continue
			}
			if !boundaryAfter(rest, len(name)) {
				continue
			}
			if entry.ID != senderID && !seenMention[entry.ID] {
				seenMention[entry.ID] = true
				mentionIDs = append(mentionIDs, entry.ID)
				res.MentionNames = append(res.MentionNames, name)
			}
			i += len(name)
			break
		}
	}

	seenRecipient := make(map[string]bool)
	if replySenderID != "" && replySenderID != senderID {
		seenRecipient[replySenderID] = true
		res.Notifications = append(res.Notifications, Notification{RecipientID: replySenderID, Kind: KindReply})
	}
	for _, id := range mentionIDs {
		if seenRecipient[id] {
			continue
		}
		seenRecipient[id] = true
		res.Notifications = append(res.Notifications, Notification{RecipientID: id, Kind: KindMention})
	}

	return res
}

func boundaryAfter(s string, idx int) bool {
	if idx >= len(s) {
		return true
	}
	next := []rune(s[idx:])[0]
	return !unicode.IsLetter(next) && !unicode.IsDigit(next)
}
