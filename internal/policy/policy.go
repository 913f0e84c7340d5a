// Package policy decides whether an outbound message is allowed. All
// checks are pure functions over a snapshot of sender state and chat
// settings; callers persist and broadcast only when the result is nil.
package policy

import (
	"regexp"
	"strings"
	"time"

	"huddle/api/internal/rbac"
)

const (
	ReasonRestricted          = "restricted"
	ReasonChatDisabled        = "chat_disabled"
	ReasonBlockedKeyword      = "blocked_keyword"
	ReasonPhoneNumber         = "phone_number"
	ReasonFileSharingDisabled = "file_sharing_disabled"
)

// Rejection names the first check a candidate message failed. Message is
// surfaced to the sender verbatim.
type Rejection struct {
	Reason  string
	Message string
}

// CheckInput is the snapshot a send decision is made against.
type CheckInput struct {
	Role            rbac.Role
	RestrictedUntil *time.Time
	Now             time.Time

	ChatDisabled       bool
	PhoneFilterEnabled bool
	FileSendDisabled   bool

	// Content is the candidate text; ignored for file sends.
	Content string
	// Keywords are the blocked keywords, already lowercased and trimmed.
	Keywords []string
}

// CheckText evaluates a text send. Checks run in fixed order and the
// first failure wins: restriction, chat disabled, blocked keyword,
// phone-number leak. Admin and sub-admin senders skip the keyword and
// phone checks but never the restriction check.
func CheckText(in CheckInput) *Rejection {
	if r := checkCommon(in); r != nil {
		return r
	}
	if rbac.BypassesContentChecks(in.Role) {
		return nil
	}
	lowered := strings.ToLower(in.Content)
	for _, keyword := range in.Keywords {
		if keyword == "" {
			continue
		}
		if strings.Contains(lowered, keyword) {
			return &Rejection{Reason: ReasonBlockedKeyword, Message: "Message contains a blocked keyword."}
		}
	}
	if in.PhoneFilterEnabled && ContainsPhoneNumber(in.Content) {
		return &Rejection{Reason: ReasonPhoneNumber, Message: "Sharing phone numbers is not allowed."}
	}
	return nil
}

// CheckFile evaluates a file or image send. File messages carry no free
// text, so the keyword and phone checks are replaced by the
// file-sharing toggle, which admin and sub-admin senders bypass.
func CheckFile(in CheckInput) *Rejection {
	if r := checkCommon(in); r != nil {
		return r
	}
	if rbac.BypassesContentChecks(in.Role) {
		return nil
	}
	if in.FileSendDisabled {
		return &Rejection{Reason: ReasonFileSharingDisabled, Message: "File sharing is disabled for members."}
	}
	return nil
}

func checkCommon(in CheckInput) *Rejection {
	if in.RestrictedUntil != nil && in.RestrictedUntil.After(in.Now) {
		return &Rejection{Reason: ReasonRestricted, Message: "You are restricted from sending messages right now."}
	}
	if in.ChatDisabled && !rbac.BypassesContentChecks(in.Role) {
		return &Rejection{Reason: ReasonChatDisabled, Message: "Chat is currently disabled."}
	}
	return nil
}

// Phone detection stays deliberately permissive: grouped and
// international forms, plus any run of ten or more digits once common
// separators are stripped. Long order numbers will trip it; that is the
// intended bias.
var phonePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{10,13}\b`),
	regexp.MustCompile(`\b\d{3}[-. ]\d{3}[-. ]\d{4}\b`),
	regexp.MustCompile(`\b\d{5}[-. ]\d{5}\b`),
	regexp.MustCompile(`(\+|00)\d{1,3}[-. ]?\d{10}\b`),
}

var phoneSeparators = strings.NewReplacer(
	" ", "", "\t", "", "\n", "",
	"(", "", ")", "",
	"-", "", ".", "", "+", "",
)

var digitRun = regexp.MustCompile(`\d{10,}`)

// ContainsPhoneNumber reports whether text looks like it carries a phone
// number.
func ContainsPhoneNumber(text string) bool {
	for _, pattern := range phonePatterns {
		if pattern.MatchString(text) {
			return true
		}
	}
	return digitRun.MatchString(phoneSeparators.Replace(text))
}
