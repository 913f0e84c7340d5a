package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrDuplicate is returned when an insert or rename would collide with
// an existing row (member phone, blocked keyword).
var ErrDuplicate = errors.New("duplicate")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) GetMember(ctx context.Context, memberID string) (Member, error) {
	var member Member
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, phone, role, is_active, restricted_until, avatar_url,
			project_count, project_value, first_login_at, created_at, updated_at
		FROM members
		WHERE id=$1
	`, memberID).Scan(
		&member.ID,
		&member.DisplayName,
		&member.Phone,
		&member.Role,
		&member.IsActive,
		&member.RestrictedUntil,
		&member.AvatarURL,
		&member.ProjectCount,
		&member.ProjectValue,
		&member.FirstLoginAt,
		&member.CreatedAt,
		&member.UpdatedAt,
	)
	if err != nil {
		return Member{}, err
	}
	return member, nil
}

func (s *PostgresStore) GetMemberByPhone(ctx context.Context, phone string) (Member, error) {
	var memberID string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM members WHERE phone=$1`, phone).Scan(&memberID)
	if err != nil {
		return Member{}, err
	}
	return s.GetMember(ctx, memberID)
}

func (s *PostgresStore) ListMembers(ctx context.Context) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, phone, role, is_active, restricted_until, avatar_url,
			project_count, project_value, first_login_at, created_at, updated_at
		FROM members
		ORDER BY display_name ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	items := make([]Member, 0)
	for rows.Next() {
		var member Member
		if err := rows.Scan(
			&member.ID,
			&member.DisplayName,
			&member.Phone,
			&member.Role,
			&member.IsActive,
			&member.RestrictedUntil,
			&member.AvatarURL,
			&member.ProjectCount,
			&member.ProjectValue,
			&member.FirstLoginAt,
			&member.CreatedAt,
			&member.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		items = append(items, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CreateMember(ctx context.Context, member Member) (Member, error) {
	_, err := s.GetMemberByPhone(ctx, member.Phone)
	if err == nil {
		return Member{}, ErrDuplicate
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Member{}, fmt.Errorf("check member phone: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO members (id, display_name, phone, role, is_active, avatar_url)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, member.ID, member.DisplayName, member.Phone, member.Role, member.IsActive, member.AvatarURL)
	if err != nil {
		return Member{}, fmt.Errorf("insert member: %w", err)
	}
	return s.GetMember(ctx, member.ID)
}

// EnsurePrimaryAdmin seeds the member behind the primary admin phone.
// Safe to run on every startup: an existing row is promoted back to an
// active admin, never duplicated.
func (s *PostgresStore) EnsurePrimaryAdmin(ctx context.Context, memberID, phone, displayName string) (Member, error) {
	existing, err := s.GetMemberByPhone(ctx, phone)
	if err == nil {
		if existing.Role != "admin" || !existing.IsActive {
			if _, err := s.db.ExecContext(ctx, `
				UPDATE members SET role='admin', is_active=TRUE, updated_at=NOW()
				WHERE id=$1
			`, existing.ID); err != nil {
				return Member{}, fmt.Errorf("promote primary admin: %w", err)
			}
		}
		return s.GetMember(ctx, existing.ID)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Member{}, fmt.Errorf("lookup primary admin: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO members (id, display_name, phone, role, is_active)
		VALUES ($1, $2, $3, 'admin', TRUE)
	`, memberID, displayName, phone); err != nil {
		return Member{}, fmt.Errorf("insert primary admin: %w", err)
	}
	return s.GetMember(ctx, memberID)
}

func (s *PostgresStore) UpdateMember(ctx context.Context, memberID, displayName, role string, isActive bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE members SET display_name=$2, role=$3, is_active=$4, updated_at=NOW()
		WHERE id=$1
	`, memberID, displayName, role, isActive)
	if err != nil {
		return fmt.Errorf("update member: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateMemberAvatar(ctx context.Context, memberID, avatarURL string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE members SET avatar_url=$2, updated_at=NOW()
		WHERE id=$1
	`, memberID, avatarURL)
	if err != nil {
		return fmt.Errorf("update member avatar: %w", err)
	}
	return nil
}

// SetMemberRestriction sets or clears the restriction window. A nil
// until lifts the restriction.
func (s *PostgresStore) SetMemberRestriction(ctx context.Context, memberID string, until *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE members SET restricted_until=$2, updated_at=NOW()
		WHERE id=$1
	`, memberID, until)
	if err != nil {
		return fmt.Errorf("set member restriction: %w", err)
	}
	return nil
}

// AddMemberProject adds to the member's project tally. Deltas that
// would push either total negative leave the row untouched and return
// false.
func (s *PostgresStore) AddMemberProject(ctx context.Context, memberID string, countDelta int, valueDelta int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE members
		SET project_count = project_count + $2, project_value = project_value + $3, updated_at=NOW()
		WHERE id=$1 AND project_count + $2 >= 0 AND project_value + $3 >= 0
	`, memberID, countDelta, valueDelta)
	if err != nil {
		return false, fmt.Errorf("add member project: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add member project rows: %w", err)
	}
	return affected > 0, nil
}

// SetMemberFirstLogin stamps the first successful login. Later logins
// leave the original stamp in place.
func (s *PostgresStore) SetMemberFirstLogin(ctx context.Context, memberID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE members SET first_login_at=$2, updated_at=NOW()
		WHERE id=$1 AND first_login_at IS NULL
	`, memberID, at)
	if err != nil {
		return fmt.Errorf("set member first login: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateMessage(ctx context.Context, message Message) (Message, error) {
	mentions := message.Mentions
	if mentions == nil {
		mentions = []string{}
	}
	encodedMentions, err := json.Marshal(mentions)
	if err != nil {
		return Message{}, fmt.Errorf("marshal mentions: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO messages (id, sender_id, content, kind, file_url, file_name, reply_to_id, mentions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
		RETURNING created_at
	`, message.ID, message.SenderID, message.Content, message.Kind, message.FileURL, message.FileName, message.ReplyToID, string(encodedMentions)).Scan(&message.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return message, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (Message, error) {
	var message Message
	var mentionsRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sender_id, content, kind, file_url, file_name, pinned, deleted, reply_to_id, mentions, created_at
		FROM messages
		WHERE id=$1
	`, messageID).Scan(
		&message.ID,
		&message.SenderID,
		&message.Content,
		&message.Kind,
		&message.FileURL,
		&message.FileName,
		&message.Pinned,
		&message.Deleted,
		&message.ReplyToID,
		&mentionsRaw,
		&message.CreatedAt,
	)
	if err != nil {
		return Message{}, err
	}
	_ = json.Unmarshal(mentionsRaw, &message.Mentions)
	return message, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, content, kind, file_url, file_name, pinned, deleted, reply_to_id, mentions, created_at
		FROM messages
		WHERE NOT deleted
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0)
	for rows.Next() {
		var message Message
		var mentionsRaw []byte
		if err := rows.Scan(
			&message.ID,
			&message.SenderID,
			&message.Content,
			&message.Kind,
			&message.FileURL,
			&message.FileName,
			&message.Pinned,
			&message.Deleted,
			&message.ReplyToID,
			&mentionsRaw,
			&message.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		_ = json.Unmarshal(mentionsRaw, &message.Mentions)
		items = append(items, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return items, nil
}

// SoftDeleteMessage hides the row and drops its pin in one statement,
// so a deleted message can never linger in the pinned lane.
func (s *PostgresStore) SoftDeleteMessage(ctx context.Context, messageID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages SET deleted=TRUE, pinned=FALSE
		WHERE id=$1 AND NOT deleted
	`, messageID)
	if err != nil {
		return false, fmt.Errorf("soft delete message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("soft delete message rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) SetMessagePinned(ctx context.Context, messageID string, pinned bool) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages SET pinned=$2
		WHERE id=$1 AND NOT deleted
	`, messageID, pinned)
	if err != nil {
		return false, fmt.Errorf("set message pinned: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set message pinned rows: %w", err)
	}
	return affected > 0, nil
}

// ToggleReaction applies the one-reaction-per-member rule inside a
// transaction: same emoji removes it, a different emoji replaces the
// existing row. The row lock keeps two rapid taps from double-writing.
func (s *PostgresStore) ToggleReaction(ctx context.Context, messageID, memberID, emoji string) ([]Reaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reaction tx: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx, `
		SELECT emoji FROM reactions
		WHERE message_id=$1 AND member_id=$2
		FOR UPDATE
	`, messageID, memberID).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO reactions (message_id, member_id, emoji)
			VALUES ($1, $2, $3)
		`, messageID, memberID, emoji); err != nil {
			return nil, fmt.Errorf("insert reaction: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("lookup reaction: %w", err)
	case existing == emoji:
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM reactions
			WHERE message_id=$1 AND member_id=$2
		`, messageID, memberID); err != nil {
			return nil, fmt.Errorf("delete reaction: %w", err)
		}
	default:
		if _, err := tx.ExecContext(ctx, `
			UPDATE reactions SET emoji=$3, created_at=NOW()
			WHERE message_id=$1 AND member_id=$2
		`, messageID, memberID, emoji); err != nil {
			return nil, fmt.Errorf("replace reaction: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reaction tx: %w", err)
	}
	return s.ListMessageReactions(ctx, messageID)
}

func (s *PostgresStore) ListMessageReactions(ctx context.Context, messageID string) ([]Reaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, member_id, emoji, created_at
		FROM reactions
		WHERE message_id=$1
		ORDER BY created_at ASC, member_id ASC
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list message reactions: %w", err)
	}
	defer rows.Close()

	items := make([]Reaction, 0)
	for rows.Next() {
		var reaction Reaction
		if err := rows.Scan(&reaction.MessageID, &reaction.MemberID, &reaction.Emoji, &reaction.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		items = append(items, reaction)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reactions: %w", err)
	}
	return items, nil
}

// ListReactions returns every reaction grouped by message, for
// embedding into the full message list in one query.
func (s *PostgresStore) ListReactions(ctx context.Context) (map[string][]Reaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, member_id, emoji, created_at
		FROM reactions
		ORDER BY created_at ASC, member_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	defer rows.Close()

	grouped := make(map[string][]Reaction)
	for rows.Next() {
		var reaction Reaction
		if err := rows.Scan(&reaction.MessageID, &reaction.MemberID, &reaction.Emoji, &reaction.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		grouped[reaction.MessageID] = append(grouped[reaction.MessageID], reaction)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reactions: %w", err)
	}
	return grouped, nil
}

func (s *PostgresStore) GetChatSettings(ctx context.Context) (ChatSettings, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_settings (id) VALUES (1)
		ON CONFLICT (id) DO NOTHING
	`); err != nil {
		return ChatSettings{}, fmt.Errorf("seed chat settings: %w", err)
	}

	var settings ChatSettings
	err := s.db.QueryRowContext(ctx, `
		SELECT chat_disabled, disappearing_hours, file_send_disabled, phone_filter_enabled, updated_at
		FROM chat_settings
		WHERE id=1
	`).Scan(
		&settings.ChatDisabled,
		&settings.DisappearingHours,
		&settings.FileSendDisabled,
		&settings.PhoneFilterEnabled,
		&settings.UpdatedAt,
	)
	if err != nil {
		return ChatSettings{}, fmt.Errorf("get chat settings: %w", err)
	}
	return settings, nil
}

func (s *PostgresStore) UpdateChatSettings(ctx context.Context, settings ChatSettings) (ChatSettings, error) {
	if _, err := s.GetChatSettings(ctx); err != nil {
		return ChatSettings{}, err
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE chat_settings
		SET chat_disabled=$1, disappearing_hours=$2, file_send_disabled=$3, phone_filter_enabled=$4, updated_at=NOW()
		WHERE id=1
	`, settings.ChatDisabled, settings.DisappearingHours, settings.FileSendDisabled, settings.PhoneFilterEnabled); err != nil {
		return ChatSettings{}, fmt.Errorf("update chat settings: %w", err)
	}
	return s.GetChatSettings(ctx)
}

func (s *PostgresStore) GetCommunitySettings(ctx context.Context, defaultName string) (CommunitySettings, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO community_settings (id, name) VALUES (1, $1)
		ON CONFLICT (id) DO NOTHING
	`, defaultName); err != nil {
		return CommunitySettings{}, fmt.Errorf("seed community settings: %w", err)
	}

	var settings CommunitySettings
	err := s.db.QueryRowContext(ctx, `
		SELECT name, updated_at FROM community_settings WHERE id=1
	`).Scan(&settings.Name, &settings.UpdatedAt)
	if err != nil {
		return CommunitySettings{}, fmt.Errorf("get community settings: %w", err)
	}
	return settings, nil
}

func (s *PostgresStore) UpdateCommunityName(ctx context.Context, name string) (CommunitySettings, error) {
	if _, err := s.GetCommunitySettings(ctx, name); err != nil {
		return CommunitySettings{}, err
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE community_settings SET name=$1, updated_at=NOW() WHERE id=1
	`, name); err != nil {
		return CommunitySettings{}, fmt.Errorf("update community name: %w", err)
	}
	return s.GetCommunitySettings(ctx, name)
}

func (s *PostgresStore) ListBlockedKeywords(ctx context.Context) ([]BlockedKeyword, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, keyword, created_at
		FROM blocked_keywords
		ORDER BY keyword ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list blocked keywords: %w", err)
	}
	defer rows.Close()

	items := make([]BlockedKeyword, 0)
	for rows.Next() {
		var keyword BlockedKeyword
		if err := rows.Scan(&keyword.ID, &keyword.Keyword, &keyword.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan blocked keyword: %w", err)
		}
		items = append(items, keyword)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blocked keywords: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) AddBlockedKeyword(ctx context.Context, keyword BlockedKeyword) (BlockedKeyword, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM blocked_keywords WHERE keyword=$1)
	`, keyword.Keyword).Scan(&exists); err != nil {
		return BlockedKeyword{}, fmt.Errorf("check blocked keyword: %w", err)
	}
	if exists {
		return BlockedKeyword{}, ErrDuplicate
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO blocked_keywords (id, keyword)
		VALUES ($1, $2)
		RETURNING created_at
	`, keyword.ID, keyword.Keyword).Scan(&keyword.CreatedAt)
	if err != nil {
		return BlockedKeyword{}, fmt.Errorf("insert blocked keyword: %w", err)
	}
	return keyword, nil
}

func (s *PostgresStore) UpdateBlockedKeyword(ctx context.Context, keywordID, keyword string) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM blocked_keywords WHERE keyword=$1 AND id <> $2)
	`, keyword, keywordID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check blocked keyword: %w", err)
	}
	if exists {
		return false, ErrDuplicate
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE blocked_keywords SET keyword=$2 WHERE id=$1
	`, keywordID, keyword)
	if err != nil {
		return false, fmt.Errorf("update blocked keyword: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update blocked keyword rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) RemoveBlockedKeyword(ctx context.Context, keywordID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM blocked_keywords WHERE id=$1`, keywordID)
	if err != nil {
		return false, fmt.Errorf("remove blocked keyword: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove blocked keyword rows: %w", err)
	}
	return affected > 0, nil
}

// CreateNotification inserts one notification per recipient, message
// and kind. A duplicate is skipped and reported as created=false.
func (s *PostgresStore) CreateNotification(ctx context.Context, notification Notification) (Notification, bool, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO notifications (id, recipient_id, actor_id, message_id, kind)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (recipient_id, message_id, kind) DO NOTHING
		RETURNING created_at
	`, notification.ID, notification.RecipientID, notification.ActorID, notification.MessageID, notification.Kind).Scan(&notification.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Notification{}, false, nil
	}
	if err != nil {
		return Notification{}, false, fmt.Errorf("insert notification: %w", err)
	}
	return notification, true, nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, recipientID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recipient_id, actor_id, message_id, kind, read, created_at
		FROM notifications
		WHERE recipient_id=$1
		ORDER BY created_at DESC
		LIMIT $2
	`, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		var notification Notification
		if err := rows.Scan(
			&notification.ID,
			&notification.RecipientID,
			&notification.ActorID,
			&notification.MessageID,
			&notification.Kind,
			&notification.Read,
			&notification.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, notification)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) MarkNotificationsRead(ctx context.Context, recipientID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read=TRUE
		WHERE recipient_id=$1 AND NOT read
	`, recipientID)
	if err != nil {
		return fmt.Errorf("mark notifications read: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountUnreadNotifications(ctx context.Context, recipientID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications WHERE recipient_id=$1 AND NOT read
	`, recipientID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) SaveSession(ctx context.Context, jti, memberID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (jti, member_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (jti) DO UPDATE SET member_id=EXCLUDED.member_id, expires_at=EXCLUDED.expires_at
	`, jti, memberID, expiresAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupSession(ctx context.Context, jti string) (string, error) {
	var memberID string
	err := s.db.QueryRowContext(ctx, `
		SELECT member_id FROM sessions
		WHERE jti=$1 AND expires_at > NOW()
	`, jti).Scan(&memberID)
	if err != nil {
		return "", err
	}
	return memberID, nil
}

func (s *PostgresStore) RevokeSession(ctx context.Context, jti string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE jti=$1`, jti)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions clears rows past their expiry. Run at startup;
// the Redis backend expires keys on its own.
func (s *PostgresStore) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions rows: %w", err)
	}
	return affected, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
