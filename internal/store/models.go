package store

import "time"

const (
	MessageKindText  = "text"
	MessageKindImage = "image"
	MessageKindFile  = "file"
)

type Member struct {
	ID              string
	DisplayName     string
	Phone           string
	Role            string
	IsActive        bool
	RestrictedUntil *time.Time
	AvatarURL       string
	ProjectCount    int
	ProjectValue    int64
	FirstLoginAt    *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Restricted reports whether the member's restriction window is still open.
func (m Member) Restricted(now time.Time) bool {
	return m.RestrictedUntil != nil && m.RestrictedUntil.After(now)
}

type Message struct {
	ID        string
	SenderID  string
	Content   *string
	Kind      string
	FileURL   *string
	FileName  *string
	Pinned    bool
	Deleted   bool
	ReplyToID *string
	Mentions  []string
	CreatedAt time.Time
}

type Reaction struct {
	MessageID string
	MemberID  string
	Emoji     string
	CreatedAt time.Time
}

// ChatSettings is a singleton row created lazily with defaults.
type ChatSettings struct {
	ChatDisabled       bool
	DisappearingHours  *int
	FileSendDisabled   bool
	PhoneFilterEnabled bool
	UpdatedAt          time.Time
}

// CommunitySettings is a singleton row created lazily with defaults.
type CommunitySettings struct {
	Name      string
	UpdatedAt time.Time
}

type BlockedKeyword struct {
	ID        string
	Keyword   string
	CreatedAt time.Time
}

const (
	NotificationKindReply   = "reply"
	NotificationKindMention = "mention"
)

type Notification struct {
	ID          string
	RecipientID string
	ActorID     string
	MessageID   string
	Kind        string
	Read        bool
	CreatedAt   time.Time
}

// Session maps an issued token id to its member until the absolute expiry.
type Session struct {
	JTI       string
	MemberID  string
	ExpiresAt time.Time
}
