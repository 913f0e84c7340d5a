// Package visibility computes the per-viewer subset of the message
// history. The rules compose: deleted messages never show, a
// disappearing window hides old unpinned messages from everyone, and
// members only see history from their first login onward. Pinned
// messages are exempt from both cutoffs.
package visibility

import (
	"time"

	"huddle/api/internal/rbac"
	"huddle/api/internal/store"
)

// Viewer is the reader the filter runs for.
type Viewer struct {
	Role         rbac.Role
	FirstLoginAt *time.Time
}

// Visible returns the messages the viewer may see, preserving the input
// order (creation ascending). disappearingHours nil means the window is
// off.
func Visible(messages []store.Message, viewer Viewer, disappearingHours *int, now time.Time) []store.Message {
	var cutoff time.Time
	hasWindow := disappearingHours != nil
	if hasWindow {
		cutoff = now.Add(-time.Duration(*disappearingHours) * time.Hour)
	}
	applyFirstLogin := !rbac.CanModerate(viewer.Role) && viewer.FirstLoginAt != nil

	visible := make([]store.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Deleted {
			continue
		}
		if !msg.Pinned {
			if hasWindow && msg.CreatedAt.Before(cutoff) {
				continue
			}
			if applyFirstLogin && msg.CreatedAt.Before(*viewer.FirstLoginAt) {
				continue
			}
		}
		visible = append(visible, msg)
	}
	return visible
}

// Pinned extracts the pinned lane from an already-filtered list. It does
// not reorder; rendering decides how the lane is shown.
func Pinned(messages []store.Message) []store.Message {
	pinned := make([]store.Message, 0)
	for _, msg := range messages {
		if msg.Pinned {
			pinned = append(pinned, msg)
		}
	}
	return pinned
}
