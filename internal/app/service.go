package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"huddle/api/internal/auth"
	"huddle/api/internal/config"
	"huddle/api/internal/export"
	"huddle/api/internal/files"
	"huddle/api/internal/mention"
	"huddle/api/internal/otp"
	"huddle/api/internal/policy"
	"huddle/api/internal/rbac"
	"huddle/api/internal/reports"
	"huddle/api/internal/search"
	"huddle/api/internal/session"
	"huddle/api/internal/sms"
	"huddle/api/internal/store"
	"huddle/api/internal/telemetry"
	"huddle/api/internal/util"
	"huddle/api/internal/visibility"
	"huddle/api/internal/ws"
)

const (
	maxMessageLength   = 4000
	maxNameLength      = 80
	maxKeywordLength   = 64
	maxEmojiLength     = 8
	maxRestrictHours   = 720
	maxDisappearHours  = 720
	notificationsLimit = 50
)

// Session is an authenticated caller: the live member row plus the
// token identity it arrived with.
type Session struct {
	Token     string
	Member    store.Member
	JTI       string
	ExpiresAt time.Time
}

// dataStore is the persistence surface the service needs. PostgresStore
// satisfies it; tests swap in a fake.
type dataStore interface {
	GetMember(ctx context.Context, memberID string) (store.Member, error)
	GetMemberByPhone(ctx context.Context, phone string) (store.Member, error)
	ListMembers(ctx context.Context) ([]store.Member, error)
	CreateMember(ctx context.Context, member store.Member) (store.Member, error)
	EnsurePrimaryAdmin(ctx context.Context, memberID, phone, displayName string) (store.Member, error)
	UpdateMember(ctx context.Context, memberID, displayName, role string, isActive bool) error
	UpdateMemberAvatar(ctx context.Context, memberID, avatarURL string) error
	SetMemberRestriction(ctx context.Context, memberID string, until *time.Time) error
	AddMemberProject(ctx context.Context, memberID string, countDelta int, valueDelta int64) (bool, error)
	SetMemberFirstLogin(ctx context.Context, memberID string, at time.Time) error

	CreateMessage(ctx context.Context, message store.Message) (store.Message, error)
	GetMessage(ctx context.Context, messageID string) (store.Message, error)
	ListMessages(ctx context.Context) ([]store.Message, error)
	SoftDeleteMessage(ctx context.Context, messageID string) (bool, error)
	SetMessagePinned(ctx context.Context, messageID string, pinned bool) (bool, error)
	ToggleReaction(ctx context.Context, messageID, memberID, emoji string) ([]store.Reaction, error)
	ListReactions(ctx context.Context) (map[string][]store.Reaction, error)

	GetChatSettings(ctx context.Context) (store.ChatSettings, error)
	UpdateChatSettings(ctx context.Context, settings store.ChatSettings) (store.ChatSettings, error)
	GetCommunitySettings(ctx context.Context, defaultName string) (store.CommunitySettings, error)
	UpdateCommunityName(ctx context.Context, name string) (store.CommunitySettings, error)

	ListBlockedKeywords(ctx context.Context) ([]store.BlockedKeyword, error)
	AddBlockedKeyword(ctx context.Context, keyword store.BlockedKeyword) (store.BlockedKeyword, error)
	UpdateBlockedKeyword(ctx context.Context, keywordID, keyword string) (bool, error)
	RemoveBlockedKeyword(ctx context.Context, keywordID string) (bool, error)

	CreateNotification(ctx context.Context, notification store.Notification) (store.Notification, bool, error)
	ListNotifications(ctx context.Context, recipientID string, limit int) ([]store.Notification, error)
	MarkNotificationsRead(ctx context.Context, recipientID string) error
	CountUnreadNotifications(ctx context.Context, recipientID string) (int, error)

	Ping(ctx context.Context) error
}

// sessionStore tracks issued token ids so logout and deactivation cut
// sessions short of their expiry.
type sessionStore interface {
	SaveSession(ctx context.Context, jti, memberID string, expiresAt time.Time) error
	LookupSession(ctx context.Context, jti string) (string, error)
	RevokeSession(ctx context.Context, jti string) error
}

type codeIssuer interface {
	Issue(ctx context.Context, phone string) (string, error)
	Verify(ctx context.Context, phone, code string) error
}

type codeSender interface {
	IsConfigured() bool
	SendCode(ctx context.Context, to, code string) error
}

type fileUploader interface {
	IsConfigured() bool
	Upload(ctx context.Context, folder, fileName, contentType string, size int64, r io.Reader) (string, error)
}

type messageIndex interface {
	Search(q search.Query) search.Response
	IndexMessage(record search.MessageRecord)
	DeleteMessage(id string)
}

type transcriptRenderer interface {
	Transcript(data export.TranscriptData, format export.Format) (*export.Result, error)
}

type broadcaster interface {
	Broadcast(event any)
	ClientCount() int
}

type presenceTracker interface {
	Bind(conn any, memberID string)
	Drop(conn any)
	OnlineCount() int
}

// Collaborators bundles the side services the app layer drives.
type Collaborators struct {
	OTP      *otp.Service
	SMS      *sms.Client
	Files    *files.Service
	Search   *search.Service
	Export   *export.Service
	Hub      *ws.Hub
	Presence *ws.Presence
	Logger   *zap.Logger
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	otp      codeIssuer
	sms      codeSender
	files    fileUploader
	search   messageIndex
	export   transcriptRenderer
	hub      broadcaster
	presence presenceTracker
	log      *zap.Logger
}

func New(cfg config.Config, dataStore *store.PostgresStore, c Collaborators) *Service {
	return newService(cfg, dataStore, dataStore, c)
}

// NewWithSessionStore keeps session state in Redis instead of Postgres.
func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions *session.RedisStore, c Collaborators) *Service {
	return newService(cfg, dataStore, sessions, c)
}

func newService(cfg config.Config, dataStore dataStore, sessions sessionStore, c Collaborators) *Service {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		otp:      c.OTP,
		sms:      c.SMS,
		files:    c.Files,
		search:   c.Search,
		export:   c.Export,
		hub:      c.Hub,
		presence: c.Presence,
		log:      logger,
	}
}

// Bootstrap seeds the rows the rest of the service takes for granted:
// the primary admin and the settings singletons.
func (s *Service) Bootstrap(ctx context.Context) error {
	phone := util.NormalizePhone(s.cfg.PrimaryAdminPhone)
	admin, err := s.store.EnsurePrimaryAdmin(ctx, util.NewID("mem"), phone, s.cfg.PrimaryAdminName)
	if err != nil {
		return fmt.Errorf("seed primary admin: %w", err)
	}
	s.log.Info("primary admin ready", zap.String("member_id", admin.ID))

	if _, err := s.store.GetChatSettings(ctx); err != nil {
		return fmt.Errorf("init chat settings: %w", err)
	}
	if _, err := s.store.GetCommunitySettings(ctx, s.cfg.CommunityName); err != nil {
		return fmt.Errorf("init community settings: %w", err)
	}
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// RequestLoginCode issues a one-time code for a registered phone and
// hands it to the SMS gateway. Unknown and deactivated phones get the
// same not-found answer so the endpoint cannot be used to probe the
// roster.
func (s *Service) RequestLoginCode(ctx context.Context, rawPhone string) error {
	phone := util.NormalizePhone(rawPhone)
	if !util.ValidPhone(phone) {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "a valid phone number is required", nil)
	}
	member, err := s.store.GetMemberByPhone(ctx, phone)
	if err != nil {
		return err
	}
	if !member.IsActive {
		return sql.ErrNoRows
	}
	code, err := s.otp.Issue(ctx, phone)
	if err != nil {
		return err
	}
	telemetry.OTPRequested()
	if !s.sms.IsConfigured() {
		s.log.Warn("sms gateway not configured, skipping delivery", zap.String("member_id", member.ID))
		return nil
	}
	if err := s.sms.SendCode(ctx, phone, code); err != nil {
		s.log.Error("send login code", zap.String("member_id", member.ID), zap.Error(err))
		return domainError(http.StatusBadGateway, "SMS_DELIVERY_FAILED", "could not deliver the code, try again", nil)
	}
	return nil
}

// VerifyLoginCode trades a phone plus code for a signed token. The code
// is burned on success and the member's first login is stamped, which
// anchors how far back into history they can read.
func (s *Service) VerifyLoginCode(ctx context.Context, rawPhone, code string) (Session, error) {
	phone := util.NormalizePhone(rawPhone)
	if !util.ValidPhone(phone) || strings.TrimSpace(code) == "" {
		return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "phone and code are required", nil)
	}
	member, err := s.store.GetMemberByPhone(ctx, phone)
	if err != nil {
		return Session{}, err
	}
	if !member.IsActive {
		return Session{}, sql.ErrNoRows
	}
	if err := s.otp.Verify(ctx, phone, strings.TrimSpace(code)); err != nil {
		return Session{}, err
	}
	if member.FirstLoginAt == nil {
		now := time.Now().UTC()
		if err := s.store.SetMemberFirstLogin(ctx, member.ID, now); err != nil {
			return Session{}, fmt.Errorf("stamp first login: %w", err)
		}
		member.FirstLoginAt = &now
	}
	return s.issueSession(ctx, member)
}

func (s *Service) issueSession(ctx context.Context, member store.Member) (Session, error) {
	expiresAt := time.Now().Add(s.cfg.TokenTTL)
	jti := util.NewID("jti")
	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:   member.ID,
		Phone: member.Phone,
		Role:  member.Role,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	if err := s.sessions.SaveSession(ctx, jti, member.ID, expiresAt); err != nil {
		return Session{}, fmt.Errorf("save session: %w", err)
	}
	return Session{Token: token, Member: member, JTI: jti, ExpiresAt: expiresAt}, nil
}

// SessionFromToken authenticates a bearer token. The member row is
// re-read on every call so role changes and deactivation apply
// immediately, not at next login.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	memberID, err := s.sessions.LookupSession(ctx, claims.JTI)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, fmt.Errorf("lookup session: %w", err)
	}
	member, err := s.store.GetMember(ctx, memberID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if !member.IsActive {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{Token: token, Member: member, JTI: claims.JTI, ExpiresAt: time.Unix(claims.Exp, 0)}, nil
}

func (s *Service) Logout(ctx context.Context, session Session) {
	if session.JTI == "" {
		return
	}
	if err := s.sessions.RevokeSession(ctx, session.JTI); err != nil {
		s.log.Warn("revoke session", zap.String("jti", session.JTI), zap.Error(err))
	}
}

func (s *Service) Me(ctx context.Context, session Session) (map[string]any, error) {
	unread, err := s.store.CountUnreadNotifications(ctx, session.Member.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"member":      memberPayload(session.Member),
		"unreadCount": unread,
		"onlineCount": s.presence.OnlineCount(),
	}, nil
}

func (s *Service) ListMembers(ctx context.Context) (map[string]any, error) {
	members, err := s.store.ListMembers(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(members))
	for _, member := range members {
		items = append(items, memberPayload(member))
	}
	return map[string]any{
		"members":     items,
		"onlineCount": s.presence.OnlineCount(),
	}, nil
}

type CreateMemberInput struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Role  string `json:"role"`
}

func (s *Service) CreateMember(ctx context.Context, input CreateMemberInput) (map[string]any, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if len(name) > maxNameLength {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is too long", nil)
	}
	phone := util.NormalizePhone(input.Phone)
	if !util.ValidPhone(phone) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "a valid phone number is required", nil)
	}
	role := rbac.RoleMember
	if raw := strings.TrimSpace(input.Role); raw != "" {
		role = rbac.Normalize(raw)
		if !rbac.Assignable(role) {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "role must be member or sub-admin", nil)
		}
	}
	member, err := s.store.CreateMember(ctx, store.Member{
		ID:          util.NewID("mem"),
		DisplayName: name,
		Phone:       phone,
		Role:        string(role),
		IsActive:    true,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "phone is already registered", nil)
		}
		return nil, err
	}
	s.hub.Broadcast(map[string]any{"type": "member_updated", "member": memberPayload(member)})
	return memberPayload(member), nil
}

type UpdateMemberInput struct {
	Name     *string `json:"name"`
	Role     *string `json:"role"`
	IsActive *bool   `json:"isActive"`
}

// UpdateMember applies a moderator edit. The primary admin is off
// limits, and roles only move between member and sub-admin.
func (s *Service) UpdateMember(ctx context.Context, memberID string, input UpdateMemberInput) (map[string]any, error) {
	member, err := s.store.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if s.isPrimaryAdmin(member) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	name := member.DisplayName
	if input.Name != nil {
		name = strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name cannot be empty", nil)
		}
		if len(name) > maxNameLength {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is too long", nil)
		}
	}
	role := member.Role
	if input.Role != nil {
		next := rbac.Normalize(*input.Role)
		if !rbac.Assignable(next) {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "role must be member or sub-admin", nil)
		}
		role = string(next)
	}
	active := member.IsActive
	if input.IsActive != nil {
		active = *input.IsActive
	}
	if err := s.store.UpdateMember(ctx, memberID, name, role, active); err != nil {
		return nil, err
	}
	updated, err := s.store.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	s.hub.Broadcast(map[string]any{"type": "member_updated", "member": memberPayload(updated)})
	return memberPayload(updated), nil
}

// RestrictMember mutes a member for a number of hours. Their session
// keeps working; the policy layer rejects sends until the window ends.
func (s *Service) RestrictMember(ctx context.Context, memberID string, hours int) (map[string]any, error) {
	if hours < 1 || hours > maxRestrictHours {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			fmt.Sprintf("hours must be between 1 and %d", maxRestrictHours), nil)
	}
	member, err := s.store.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if s.isPrimaryAdmin(member) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	until := time.Now().Add(time.Duration(hours) * time.Hour)
	if err := s.store.SetMemberRestriction(ctx, memberID, &until); err != nil {
		return nil, err
	}
	member.RestrictedUntil = &until
	s.hub.Broadcast(map[string]any{"type": "member_updated", "member": memberPayload(member)})
	return memberPayload(member), nil
}

func (s *Service) LiftRestriction(ctx context.Context, memberID string) (map[string]any, error) {
	member, err := s.store.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if s.isPrimaryAdmin(member) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if err := s.store.SetMemberRestriction(ctx, memberID, nil); err != nil {
		return nil, err
	}
	member.RestrictedUntil = nil
	s.hub.Broadcast(map[string]any{"type": "member_updated", "member": memberPayload(member)})
	return memberPayload(member), nil
}

type ProjectInput struct {
	Count int   `json:"count"`
	Value int64 `json:"value"`
}

// AddProject lets a member log completed work against their own
// profile. Deltas only; there is no edit or undo.
func (s *Service) AddProject(ctx context.Context, session Session, input ProjectInput) (map[string]any, error) {
	if input.Count < 0 || input.Value < 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "count and value must not be negative", nil)
	}
	if input.Count == 0 && input.Value == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "count or value must be positive", nil)
	}
	updated, err := s.store.AddMemberProject(ctx, session.Member.ID, input.Count, input.Value)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, sql.ErrNoRows
	}
	member, err := s.store.GetMember(ctx, session.Member.ID)
	if err != nil {
		return nil, err
	}
	s.hub.Broadcast(map[string]any{"type": "member_updated", "member": memberPayload(member)})
	return memberPayload(member), nil
}

func (s *Service) UpdateAvatar(ctx context.Context, session Session, fileName, contentType string, size int64, r io.Reader) (map[string]any, error) {
	if !s.files.IsConfigured() {
		return nil, domainError(http.StatusServiceUnavailable, "FILES_UNAVAILABLE", "file storage is not configured", nil)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "avatar must be an image", nil)
	}
	url, err := s.files.Upload(ctx, "avatars", fileName, contentType, size, r)
	if err != nil {
		return nil, fmt.Errorf("upload avatar: %w", err)
	}
	if err := s.store.UpdateMemberAvatar(ctx, session.Member.ID, url); err != nil {
		return nil, err
	}
	member, err := s.store.GetMember(ctx, session.Member.ID)
	if err != nil {
		return nil, err
	}
	s.hub.Broadcast(map[string]any{"type": "member_updated", "member": memberPayload(member)})
	return memberPayload(member), nil
}

// ListChat returns the room as the caller is allowed to see it:
// deleted messages are gone for everyone, expired ones for plain
// members, and history from before first login for plain members too.
func (s *Service) ListChat(ctx context.Context, session Session) (map[string]any, error) {
	messages, err := s.store.ListMessages(ctx)
	if err != nil {
		return nil, err
	}
	settings, err := s.store.GetChatSettings(ctx)
	if err != nil {
		return nil, err
	}
	reactions, err := s.store.ListReactions(ctx)
	if err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx)
	if err != nil {
		return nil, err
	}
	names := rosterNames(members)

	viewer := visibility.Viewer{
		Role:         rbac.Normalize(session.Member.Role),
		FirstLoginAt: session.Member.FirstLoginAt,
	}
	visible := visibility.Visible(messages, viewer, settings.DisappearingHours, time.Now())

	items := make([]map[string]any, 0, len(visible))
	for _, message := range visible {
		items = append(items, messagePayload(message, names, reactions[message.ID]))
	}
	pinned := make([]map[string]any, 0)
	for _, message := range visibility.Pinned(visible) {
		pinned = append(pinned, messagePayload(message, names, reactions[message.ID]))
	}
	return map[string]any{"messages": items, "pinned": pinned}, nil
}

type SendMessageInput struct {
	Content   string  `json:"content"`
	ReplyToID *string `json:"replyToId"`
}

// SendMessage runs the full text pipeline: policy checks, reply and
// mention resolution, persist, fan out over the socket, then
// notifications. Moderators skip the content checks but not the
// room-closed switch.
func (s *Service) SendMessage(ctx context.Context, session Session, input SendMessageInput) (map[string]any, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
	}
	if len(content) > maxMessageLength {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "message is too long", nil)
	}

	settings, err := s.store.GetChatSettings(ctx)
	if err != nil {
		return nil, err
	}
	keywords, err := s.store.ListBlockedKeywords(ctx)
	if err != nil {
		return nil, err
	}
	keywordList := make([]string, 0, len(keywords))
	for _, keyword := range keywords {
		keywordList = append(keywordList, keyword.Keyword)
	}
	if rejection := policy.CheckText(policy.CheckInput{
		Role:               rbac.Normalize(session.Member.Role),
		RestrictedUntil:    session.Member.RestrictedUntil,
		Now:                time.Now(),
		ChatDisabled:       settings.ChatDisabled,
		PhoneFilterEnabled: settings.PhoneFilterEnabled,
		Content:            content,
		Keywords:           keywordList,
	}); rejection != nil {
		telemetry.MessageRejected(rejection.Reason)
		return nil, rejectionError(rejection)
	}

	replyToID, replySenderID, err := s.resolveReplyTarget(ctx, input.ReplyToID)
	if err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx)
	if err != nil {
		return nil, err
	}
	roster := make([]mention.RosterEntry, 0, len(members))
	for _, member := range members {
		roster = append(roster, mention.RosterEntry{ID: member.ID, DisplayName: member.DisplayName})
	}
	resolution := mention.Resolve(content, session.Member.ID, replySenderID, roster)

	message, err := s.store.CreateMessage(ctx, store.Message{
		ID:        util.NewID("msg"),
		SenderID:  session.Member.ID,
		Content:   &content,
		Kind:      store.MessageKindText,
		ReplyToID: replyToID,
		Mentions:  resolution.MentionNames,
	})
	if err != nil {
		return nil, err
	}
	telemetry.MessageSent(message.Kind)

	names := rosterNames(members)
	payload := messagePayload(message, names, nil)
	s.hub.Broadcast(map[string]any{"type": "new_message", "message": payload})

	s.search.IndexMessage(search.MessageRecord{
		ID:         message.ID,
		Content:    content,
		SenderID:   message.SenderID,
		SenderName: names[message.SenderID],
		Kind:       message.Kind,
		CreatedAt:  message.CreatedAt.Unix(),
	})
	s.fanOutNotifications(ctx, session.Member.ID, message.ID, resolution.Notifications)
	return payload, nil
}

type SendFileInput struct {
	FileName    string
	ContentType string
	Size        int64
	Reader      io.Reader
	ReplyToID   *string
}

// SendFile uploads an attachment and posts it as a message. Images get
// their own kind so clients can render them inline.
func (s *Service) SendFile(ctx context.Context, session Session, input SendFileInput) (map[string]any, error) {
	if strings.TrimSpace(input.FileName) == "" || input.Size <= 0 || input.Reader == nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "a file is required", nil)
	}

	settings, err := s.store.GetChatSettings(ctx)
	if err != nil {
		return nil, err
	}
	if rejection := policy.CheckFile(policy.CheckInput{
		Role:             rbac.Normalize(session.Member.Role),
		RestrictedUntil:  session.Member.RestrictedUntil,
		Now:              time.Now(),
		ChatDisabled:     settings.ChatDisabled,
		FileSendDisabled: settings.FileSendDisabled,
	}); rejection != nil {
		telemetry.MessageRejected(rejection.Reason)
		return nil, rejectionError(rejection)
	}
	if !s.files.IsConfigured() {
		return nil, domainError(http.StatusServiceUnavailable, "FILES_UNAVAILABLE", "file storage is not configured", nil)
	}

	replyToID, replySenderID, err := s.resolveReplyTarget(ctx, input.ReplyToID)
	if err != nil {
		return nil, err
	}

	url, err := s.files.Upload(ctx, "chat", input.FileName, input.ContentType, input.Size, input.Reader)
	if err != nil {
		return nil, fmt.Errorf("upload file: %w", err)
	}

	kind := store.MessageKindFile
	if strings.HasPrefix(input.ContentType, "image/") {
		kind = store.MessageKindImage
	}
	fileName := input.FileName
	message, err := s.store.CreateMessage(ctx, store.Message{
		ID:        util.NewID("msg"),
		SenderID:  session.Member.ID,
		Kind:      kind,
		FileURL:   &url,
		FileName:  &fileName,
		ReplyToID: replyToID,
	})
	if err != nil {
		return nil, err
	}
	telemetry.MessageSent(message.Kind)

	members, err := s.store.ListMembers(ctx)
	if err != nil {
		return nil, err
	}
	names := rosterNames(members)
	payload := messagePayload(message, names, nil)
	s.hub.Broadcast(map[string]any{"type": "new_message", "message": payload})

	s.search.IndexMessage(search.MessageRecord{
		ID:         message.ID,
		SenderID:   message.SenderID,
		SenderName: names[message.SenderID],
		Kind:       message.Kind,
		FileName:   fileName,
		CreatedAt:  message.CreatedAt.Unix(),
	})
	resolution := mention.Resolve("", session.Member.ID, replySenderID, nil)
	s.fanOutNotifications(ctx, session.Member.ID, message.ID, resolution.Notifications)
	return payload, nil
}

// resolveReplyTarget validates an optional reply reference. Replying to
// a missing or deleted message is a validation error, not a quiet drop.
func (s *Service) resolveReplyTarget(ctx context.Context, raw *string) (*string, string, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, "", nil
	}
	id := strings.TrimSpace(*raw)
	target, err := s.store.GetMessage(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "reply target does not exist", nil)
		}
		return nil, "", err
	}
	if target.Deleted {
		return nil, "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "reply target does not exist", nil)
	}
	return &target.ID, target.SenderID, nil
}

func (s *Service) fanOutNotifications(ctx context.Context, actorID, messageID string, items []mention.Notification) {
	for _, item := range items {
		notification, created, err := s.store.CreateNotification(ctx, store.Notification{
			ID:          util.NewID("ntf"),
			RecipientID: item.RecipientID,
			ActorID:     actorID,
			MessageID:   messageID,
			Kind:        item.Kind,
		})
		if err != nil {
			s.log.Warn("create notification",
				zap.String("recipient_id", item.RecipientID),
				zap.String("message_id", messageID),
				zap.Error(err))
			continue
		}
		if !created {
			continue
		}
		s.hub.Broadcast(map[string]any{"type": "notification", "notification": notificationPayload(notification)})
	}
}

type ReactionInput struct {
	Emoji string `json:"emoji"`
}

// ToggleReaction adds the caller's reaction or removes it if already
// present, then pushes the message's fresh reaction set to the room.
func (s *Service) ToggleReaction(ctx context.Context, session Session, messageID string, input ReactionInput) (map[string]any, error) {
	emoji := strings.TrimSpace(input.Emoji)
	if emoji == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "emoji is required", nil)
	}
	if len([]rune(emoji)) > maxEmojiLength {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "emoji is too long", nil)
	}
	message, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if message.Deleted {
		return nil, sql.ErrNoRows
	}
	reactions, err := s.store.ToggleReaction(ctx, messageID, session.Member.ID, emoji)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{"messageId": messageID, "reactions": reactionPayload(reactions)}
	s.hub.Broadcast(map[string]any{"type": "new_reaction", "messageId": messageID, "reactions": reactionPayload(reactions)})
	return payload, nil
}

func (s *Service) TogglePin(ctx context.Context, messageID string) (map[string]any, error) {
	message, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if message.Deleted {
		return nil, sql.ErrNoRows
	}
	next := !message.Pinned
	changed, err := s.store.SetMessagePinned(ctx, messageID, next)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, sql.ErrNoRows
	}
	s.hub.Broadcast(map[string]any{"type": "message_pinned", "messageId": messageID, "pinned": next})
	return map[string]any{"messageId": messageID, "pinned": next}, nil
}

// DeleteMessage hides a message from every viewer, moderators
// included, and drops it from the search index. The row stays so
// reply references keep resolving.
func (s *Service) DeleteMessage(ctx context.Context, messageID string) error {
	changed, err := s.store.SoftDeleteMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if !changed {
		return sql.ErrNoRows
	}
	s.search.DeleteMessage(messageID)
	s.hub.Broadcast(map[string]any{"type": "message_deleted", "messageId": messageID})
	return nil
}

func (s *Service) GetSettings(ctx context.Context) (map[string]any, error) {
	settings, err := s.store.GetChatSettings(ctx)
	if err != nil {
		return nil, err
	}
	community, err := s.store.GetCommunitySettings(ctx, s.cfg.CommunityName)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"settings":  chatSettingsPayload(settings),
		"community": communityPayload(community),
	}, nil
}

type ChatSettingsInput struct {
	ChatDisabled       bool `json:"chatDisabled"`
	DisappearingHours  *int `json:"disappearingHours"`
	FileSendDisabled   bool `json:"fileSendDisabled"`
	PhoneFilterEnabled bool `json:"phoneFilterEnabled"`
}

// UpdateChatSettings replaces the room switches wholesale and tells
// every connected client. A null disappearingHours turns expiry off.
func (s *Service) UpdateChatSettings(ctx context.Context, input ChatSettingsInput) (map[string]any, error) {
	if input.DisappearingHours != nil {
		hours := *input.DisappearingHours
		if hours < 1 || hours > maxDisappearHours {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
				fmt.Sprintf("disappearingHours must be between 1 and %d", maxDisappearHours), nil)
		}
	}
	settings, err := s.store.UpdateChatSettings(ctx, store.ChatSettings{
		ChatDisabled:       input.ChatDisabled,
		DisappearingHours:  input.DisappearingHours,
		FileSendDisabled:   input.FileSendDisabled,
		PhoneFilterEnabled: input.PhoneFilterEnabled,
	})
	if err != nil {
		return nil, err
	}
	community, err := s.store.GetCommunitySettings(ctx, s.cfg.CommunityName)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"settings":  chatSettingsPayload(settings),
		"community": communityPayload(community),
	}
	s.hub.Broadcast(map[string]any{
		"type":      "chat_settings_updated",
		"settings":  chatSettingsPayload(settings),
		"community": communityPayload(community),
	})
	return payload, nil
}

type CommunityInput struct {
	Name string `json:"name"`
}

func (s *Service) UpdateCommunityName(ctx context.Context, input CommunityInput) (map[string]any, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if len(name) > maxNameLength {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is too long", nil)
	}
	community, err := s.store.UpdateCommunityName(ctx, name)
	if err != nil {
		return nil, err
	}
	settings, err := s.store.GetChatSettings(ctx)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"settings":  chatSettingsPayload(settings),
		"community": communityPayload(community),
	}
	s.hub.Broadcast(map[string]any{
		"type":      "chat_settings_updated",
		"settings":  chatSettingsPayload(settings),
		"community": communityPayload(community),
	})
	return payload, nil
}

func (s *Service) ListKeywords(ctx context.Context) (map[string]any, error) {
	keywords, err := s.store.ListBlockedKeywords(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(keywords))
	for _, keyword := range keywords {
		items = append(items, keywordPayload(keyword))
	}
	return map[string]any{"keywords": items}, nil
}

type KeywordInput struct {
	Keyword string `json:"keyword"`
}

// AddKeyword blocks a keyword. Stored lowercase-trimmed; matching at
// send time is a case-insensitive substring check.
func (s *Service) AddKeyword(ctx context.Context, input KeywordInput) (map[string]any, error) {
	keyword, err := normalizeKeyword(input.Keyword)
	if err != nil {
		return nil, err
	}
	created, err := s.store.AddBlockedKeyword(ctx, store.BlockedKeyword{
		ID:      util.NewID("kw"),
		Keyword: keyword,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "keyword is already blocked", nil)
		}
		return nil, err
	}
	return keywordPayload(created), nil
}

func (s *Service) UpdateKeyword(ctx context.Context, keywordID string, input KeywordInput) (map[string]any, error) {
	keyword, err := normalizeKeyword(input.Keyword)
	if err != nil {
		return nil, err
	}
	changed, err := s.store.UpdateBlockedKeyword(ctx, keywordID, keyword)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "keyword is already blocked", nil)
		}
		return nil, err
	}
	if !changed {
		return nil, sql.ErrNoRows
	}
	return map[string]any{"id": keywordID, "keyword": keyword}, nil
}

func (s *Service) RemoveKeyword(ctx context.Context, keywordID string) error {
	changed, err := s.store.RemoveBlockedKeyword(ctx, keywordID)
	if err != nil {
		return err
	}
	if !changed {
		return sql.ErrNoRows
	}
	return nil
}

func normalizeKeyword(raw string) (string, error) {
	keyword := strings.ToLower(strings.TrimSpace(raw))
	if keyword == "" {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "keyword is required", nil)
	}
	if len(keyword) > maxKeywordLength {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "keyword is too long", nil)
	}
	return keyword, nil
}

func (s *Service) ListNotifications(ctx context.Context, session Session) (map[string]any, error) {
	notifications, err := s.store.ListNotifications(ctx, session.Member.ID, notificationsLimit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(notifications))
	for _, notification := range notifications {
		items = append(items, notificationPayload(notification))
	}
	return map[string]any{"notifications": items}, nil
}

func (s *Service) MarkNotificationsRead(ctx context.Context, session Session) error {
	return s.store.MarkNotificationsRead(ctx, session.Member.ID)
}

func (s *Service) UnreadNotificationCount(ctx context.Context, session Session) (map[string]any, error) {
	count, err := s.store.CountUnreadNotifications(ctx, session.Member.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"count": count}, nil
}

// SearchMessages queries the message index. Moderator only, so the
// index needs no per-viewer filtering; deleted messages are already
// out of it.
func (s *Service) SearchMessages(q search.Query) (search.Response, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return search.Response{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "q is required", nil)
	}
	if q.Limit < 1 || q.Limit > 100 {
		q.Limit = 25
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return s.search.Search(q), nil
}

// ExportTranscript renders the complete room history, deleted rows
// excluded, as a downloadable document.
func (s *Service) ExportTranscript(ctx context.Context, session Session, format export.Format) (*export.Result, error) {
	messages, err := s.store.ListMessages(ctx)
	if err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx)
	if err != nil {
		return nil, err
	}
	reactions, err := s.store.ListReactions(ctx)
	if err != nil {
		return nil, err
	}
	community, err := s.store.GetCommunitySettings(ctx, s.cfg.CommunityName)
	if err != nil {
		return nil, err
	}

	names := rosterNames(members)
	byID := make(map[string]store.Message, len(messages))
	for _, message := range messages {
		byID[message.ID] = message
	}

	rows := make([]export.TranscriptMessage, 0, len(messages))
	for _, message := range messages {
		row := export.TranscriptMessage{
			Sender: names[message.SenderID],
			SentAt: message.CreatedAt,
			Kind:   message.Kind,
			Pinned: message.Pinned,
		}
		if message.Content != nil {
			row.Body = *message.Content
		}
		if message.FileName != nil {
			row.FileName = *message.FileName
		}
		if message.FileURL != nil {
			row.FileURL = *message.FileURL
		}
		if message.ReplyToID != nil {
			if target, ok := byID[*message.ReplyToID]; ok {
				row.ReplyTo = names[target.SenderID]
				if target.Content != nil {
					row.ReplyBody = shortBody(*target.Content)
				}
			}
		}
		row.Reactions = summarizeReactions(reactions[message.ID])
		rows = append(rows, row)
	}

	result, err := s.export.Transcript(export.TranscriptData{
		CommunityName: community.Name,
		GeneratedBy:   session.Member.DisplayName,
		GeneratedAt:   time.Now(),
		Messages:      rows,
	}, format)
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
			return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "export tooling is not available", nil)
		}
		return nil, fmt.Errorf("render transcript: %w", err)
	}
	return result, nil
}

// MemberRoster builds the downloadable member spreadsheet.
func (s *Service) MemberRoster(ctx context.Context) ([]byte, string, error) {
	members, err := s.store.ListMembers(ctx)
	if err != nil {
		return nil, "", err
	}
	data, err := reports.MemberRoster(members)
	if err != nil {
		return nil, "", fmt.Errorf("build roster: %w", err)
	}
	return data, reports.RosterFilename(time.Now()), nil
}

// RegisterConnection binds a socket to the member it announced and
// republishes the online count.
func (s *Service) RegisterConnection(conn any, memberID string) {
	s.presence.Bind(conn, memberID)
	s.broadcastOnlineCount()
}

func (s *Service) DropConnection(conn any) {
	s.presence.Drop(conn)
	s.broadcastOnlineCount()
}

func (s *Service) broadcastOnlineCount() {
	count := s.presence.OnlineCount()
	telemetry.SetOnlineMembers(count)
	s.hub.Broadcast(map[string]any{"type": "online_count", "count": count})
}

func (s *Service) isPrimaryAdmin(member store.Member) bool {
	return member.Phone == util.NormalizePhone(s.cfg.PrimaryAdminPhone)
}

func rosterNames(members []store.Member) map[string]string {
	names := make(map[string]string, len(members))
	for _, member := range members {
		names[member.ID] = member.DisplayName
	}
	return names
}

func memberPayload(member store.Member) map[string]any {
	return map[string]any{
		"id":              member.ID,
		"name":            member.DisplayName,
		"phone":           member.Phone,
		"role":            member.Role,
		"isActive":        member.IsActive,
		"avatarUrl":       member.AvatarURL,
		"projectCount":    member.ProjectCount,
		"projectValue":    member.ProjectValue,
		"restrictedUntil": timePtrPayload(member.RestrictedUntil),
		"firstLoginAt":    timePtrPayload(member.FirstLoginAt),
		"joinedAt":        member.CreatedAt.Format(time.RFC3339),
	}
}

func messagePayload(message store.Message, names map[string]string, reactions []store.Reaction) map[string]any {
	payload := map[string]any{
		"id":         message.ID,
		"senderId":   message.SenderID,
		"senderName": names[message.SenderID],
		"kind":       message.Kind,
		"pinned":     message.Pinned,
		"reactions":  reactionPayload(reactions),
		"createdAt":  message.CreatedAt.Format(time.RFC3339),
	}
	if message.Content != nil {
		payload["content"] = *message.Content
	} else {
		payload["content"] = nil
	}
	if message.FileURL != nil {
		payload["fileUrl"] = *message.FileURL
	} else {
		payload["fileUrl"] = nil
	}
	if message.FileName != nil {
		payload["fileName"] = *message.FileName
	} else {
		payload["fileName"] = nil
	}
	if message.ReplyToID != nil {
		payload["replyToId"] = *message.ReplyToID
	} else {
		payload["replyToId"] = nil
	}
	mentions := message.Mentions
	if mentions == nil {
		mentions = []string{}
	}
	payload["mentions"] = mentions
	return payload
}

func reactionPayload(reactions []store.Reaction) []map[string]any {
	items := make([]map[string]any, 0, len(reactions))
	for _, reaction := range reactions {
		items = append(items, map[string]any{
			"memberId": reaction.MemberID,
			"emoji":    reaction.Emoji,
		})
	}
	return items
}

func chatSettingsPayload(settings store.ChatSettings) map[string]any {
	payload := map[string]any{
		"chatDisabled":       settings.ChatDisabled,
		"fileSendDisabled":   settings.FileSendDisabled,
		"phoneFilterEnabled": settings.PhoneFilterEnabled,
	}
	if settings.DisappearingHours != nil {
		payload["disappearingHours"] = *settings.DisappearingHours
	} else {
		payload["disappearingHours"] = nil
	}
	return payload
}

func communityPayload(community store.CommunitySettings) map[string]any {
	return map[string]any{"name": community.Name}
}

func keywordPayload(keyword store.BlockedKeyword) map[string]any {
	return map[string]any{
		"id":        keyword.ID,
		"keyword":   keyword.Keyword,
		"createdAt": keyword.CreatedAt.Format(time.RFC3339),
	}
}

func notificationPayload(notification store.Notification) map[string]any {
	return map[string]any{
		"id":          notification.ID,
		"recipientId": notification.RecipientID,
		"actorId":     notification.ActorID,
		"messageId":   notification.MessageID,
		"kind":        notification.Kind,
		"read":        notification.Read,
		"createdAt":   notification.CreatedAt.Format(time.RFC3339),
	}
}

func timePtrPayload(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func shortBody(body string) string {
	runes := []rune(body)
	if len(runes) <= 120 {
		return body
	}
	return string(runes[:120]) + "…"
}

func summarizeReactions(reactions []store.Reaction) string {
	if len(reactions) == 0 {
		return ""
	}
	counts := make(map[string]int, len(reactions))
	order := make([]string, 0, len(reactions))
	for _, reaction := range reactions {
		if counts[reaction.Emoji] == 0 {
			order = append(order, reaction.Emoji)
		}
		counts[reaction.Emoji]++
	}
	parts := make([]string, 0, len(order))
	for _, emoji := range order {
		parts = append(parts, fmt.Sprintf("%s %d", emoji, counts[emoji]))
	}
	return strings.Join(parts, "  ")
}
