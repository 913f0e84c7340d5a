package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"huddle/api/internal/auth"
	"huddle/api/internal/config"
	"huddle/api/internal/export"
	"huddle/api/internal/otp"
	"huddle/api/internal/policy"
	"huddle/api/internal/search"
	"huddle/api/internal/store"
)

type fakeStore struct {
	getMemberFn             func(context.Context, string) (store.Member, error)
	getMemberByPhoneFn      func(context.Context, string) (store.Member, error)
	listMembersFn           func(context.Context) ([]store.Member, error)
	createMemberFn          func(context.Context, store.Member) (store.Member, error)
	updateMemberFn          func(context.Context, string, string, string, bool) error
	setMemberRestrictionFn  func(context.Context, string, *time.Time) error
	addMemberProjectFn      func(context.Context, string, int, int64) (bool, error)
	setMemberFirstLoginFn   func(context.Context, string, time.Time) error
	createMessageFn         func(context.Context, store.Message) (store.Message, error)
	getMessageFn            func(context.Context, string) (store.Message, error)
	listMessagesFn          func(context.Context) ([]store.Message, error)
	softDeleteMessageFn     func(context.Context, string) (bool, error)
	setMessagePinnedFn      func(context.Context, string, bool) (bool, error)
	toggleReactionFn        func(context.Context, string, string, string) ([]store.Reaction, error)
	listReactionsFn         func(context.Context) (map[string][]store.Reaction, error)
	getChatSettingsFn       func(context.Context) (store.ChatSettings, error)
	updateChatSettingsFn    func(context.Context, store.ChatSettings) (store.ChatSettings, error)
	getCommunitySettingsFn  func(context.Context, string) (store.CommunitySettings, error)
	updateCommunityNameFn   func(context.Context, string) (store.CommunitySettings, error)
	listBlockedKeywordsFn   func(context.Context) ([]store.BlockedKeyword, error)
	addBlockedKeywordFn     func(context.Context, store.BlockedKeyword) (store.BlockedKeyword, error)
	updateBlockedKeywordFn  func(context.Context, string, string) (bool, error)
	removeBlockedKeywordFn  func(context.Context, string) (bool, error)
	createNotificationFn    func(context.Context, store.Notification) (store.Notification, bool, error)
	listNotificationsFn     func(context.Context, string, int) ([]store.Notification, error)
	markNotificationsReadFn func(context.Context, string) error
	countUnreadFn           func(context.Context, string) (int, error)
	saveSessionFn           func(context.Context, string, string, time.Time) error
	lookupSessionFn         func(context.Context, string) (string, error)
	revokeSessionFn         func(context.Context, string) error
}

func (f *fakeStore) GetMember(ctx context.Context, memberID string) (store.Member, error) {
	if f.getMemberFn != nil {
		return f.getMemberFn(ctx, memberID)
	}
	return store.Member{}, sql.ErrNoRows
}
func (f *fakeStore) GetMemberByPhone(ctx context.Context, phone string) (store.Member, error) {
	if f.getMemberByPhoneFn != nil {
		return f.getMemberByPhoneFn(ctx, phone)
	}
	return store.Member{}, sql.ErrNoRows
}
func (f *fakeStore) ListMembers(ctx context.Context) ([]store.Member, error) {
	if f.listMembersFn != nil {
		return f.listMembersFn(ctx)
	}
	return nil, nil
}
func (f *fakeStore) CreateMember(ctx context.Context, member store.Member) (store.Member, error) {
	if f.createMemberFn != nil {
		return f.createMemberFn(ctx, member)
	}
	return member, nil
}
func (f *fakeStore) EnsurePrimaryAdmin(ctx context.Context, memberID, phone, displayName string) (store.Member, error) {
	return store.Member{ID: memberID, Phone: phone, DisplayName: displayName, Role: "admin", IsActive: true}, nil
}
func (f *fakeStore) UpdateMember(ctx context.Context, memberID, displayName, role string, isActive bool) error {
	if f.updateMemberFn != nil {
		return f.updateMemberFn(ctx, memberID, displayName, role, isActive)
	}
	return nil
}
func (f *fakeStore) UpdateMemberAvatar(context.Context, string, string) error { return nil }
func (f *fakeStore) SetMemberRestriction(ctx context.Context, memberID string, until *time.Time) error {
	if f.setMemberRestrictionFn != nil {
		return f.setMemberRestrictionFn(ctx, memberID, until)
	}
	return nil
}
func (f *fakeStore) AddMemberProject(ctx context.Context, memberID string, countDelta int, valueDelta int64) (bool, error) {
	if f.addMemberProjectFn != nil {
		return f.addMemberProjectFn(ctx, memberID, countDelta, valueDelta)
	}
	return false, nil
}
func (f *fakeStore) SetMemberFirstLogin(ctx context.Context, memberID string, at time.Time) error {
	if f.setMemberFirstLoginFn != nil {
		return f.setMemberFirstLoginFn(ctx, memberID, at)
	}
	return nil
}
func (f *fakeStore) CreateMessage(ctx context.Context, message store.Message) (store.Message, error) {
	if f.createMessageFn != nil {
		return f.createMessageFn(ctx, message)
	}
	return message, nil
}
func (f *fakeStore) GetMessage(ctx context.Context, messageID string) (store.Message, error) {
	if f.getMessageFn != nil {
		return f.getMessageFn(ctx, messageID)
	}
	return store.Message{}, sql.ErrNoRows
}
func (f *fakeStore) ListMessages(ctx context.Context) ([]store.Message, error) {
	if f.listMessagesFn != nil {
		return f.listMessagesFn(ctx)
	}
	return nil, nil
}
func (f *fakeStore) SoftDeleteMessage(ctx context.Context, messageID string) (bool, error) {
	if f.softDeleteMessageFn != nil {
		return f.softDeleteMessageFn(ctx, messageID)
	}
	return false, nil
}
func (f *fakeStore) SetMessagePinned(ctx context.Context, messageID string, pinned bool) (bool, error) {
	if f.setMessagePinnedFn != nil {
		return f.setMessagePinnedFn(ctx, messageID, pinned)
	}
	return false, nil
}
func (f *fakeStore) ToggleReaction(ctx context.Context, messageID, memberID, emoji string) ([]store.Reaction, error) {
	if f.toggleReactionFn != nil {
		return f.toggleReactionFn(ctx, messageID, memberID, emoji)
	}
	return nil, nil
}
func (f *fakeStore) ListReactions(ctx context.Context) (map[string][]store.Reaction, error) {
	if f.listReactionsFn != nil {
		return f.listReactionsFn(ctx)
	}
	return map[string][]store.Reaction{}, nil
}
func (f *fakeStore) GetChatSettings(ctx context.Context) (store.ChatSettings, error) {
	if f.getChatSettingsFn != nil {
		return f.getChatSettingsFn(ctx)
	}
	return store.ChatSettings{}, nil
}
func (f *fakeStore) UpdateChatSettings(ctx context.Context, settings store.ChatSettings) (store.ChatSettings, error) {
	if f.updateChatSettingsFn != nil {
		return f.updateChatSettingsFn(ctx, settings)
	}
	return settings, nil
}
func (f *fakeStore) GetCommunitySettings(ctx context.Context, defaultName string) (store.CommunitySettings, error) {
	if f.getCommunitySettingsFn != nil {
		return f.getCommunitySettingsFn(ctx, defaultName)
	}
	return store.CommunitySettings{Name: defaultName}, nil
}
func (f *fakeStore) UpdateCommunityName(ctx context.Context, name string) (store.CommunitySettings, error) {
	if f.updateCommunityNameFn != nil {
		return f.updateCommunityNameFn(ctx, name)
	}
	return store.CommunitySettings{Name: name}, nil
}
func (f *fakeStore) ListBlockedKeywords(ctx context.Context) ([]store.BlockedKeyword, error) {
	if f.listBlockedKeywordsFn != nil {
		return f.listBlockedKeywordsFn(ctx)
	}
	return nil, nil
}
func (f *fakeStore) AddBlockedKeyword(ctx context.Context, keyword store.BlockedKeyword) (store.BlockedKeyword, error) {
	if f.addBlockedKeywordFn != nil {
		return f.addBlockedKeywordFn(ctx, keyword)
	}
	return keyword, nil
}
func (f *fakeStore) UpdateBlockedKeyword(ctx context.Context, keywordID, keyword string) (bool, error) {
	if f.updateBlockedKeywordFn != nil {
		return f.updateBlockedKeywordFn(ctx, keywordID, keyword)
	}
	return false, nil
}
func (f *fakeStore) RemoveBlockedKeyword(ctx context.Context, keywordID string) (bool, error) {
	if f.removeBlockedKeywordFn != nil {
		return f.removeBlockedKeywordFn(ctx, keywordID)
	}
	return false, nil
}
func (f *fakeStore) CreateNotification(ctx context.Context, notification store.Notification) (store.Notification, bool, error) {
	if f.createNotificationFn != nil {
		return f.createNotificationFn(ctx, notification)
	}
	return notification, true, nil
}
func (f *fakeStore) ListNotifications(ctx context.Context, recipientID string, limit int) ([]store.Notification, error) {
	if f.listNotificationsFn != nil {
		return f.listNotificationsFn(ctx, recipientID, limit)
	}
	return nil, nil
}
func (f *fakeStore) MarkNotificationsRead(ctx context.Context, recipientID string) error {
	if f.markNotificationsReadFn != nil {
		return f.markNotificationsReadFn(ctx, recipientID)
	}
	return nil
}
func (f *fakeStore) CountUnreadNotifications(ctx context.Context, recipientID string) (int, error) {
	if f.countUnreadFn != nil {
		return f.countUnreadFn(ctx, recipientID)
	}
	return 0, nil
}
func (f *fakeStore) SaveSession(ctx context.Context, jti, memberID string, expiresAt time.Time) error {
	if f.saveSessionFn != nil {
		return f.saveSessionFn(ctx, jti, memberID, expiresAt)
	}
	return nil
}
func (f *fakeStore) LookupSession(ctx context.Context, jti string) (string, error) {
	if f.lookupSessionFn != nil {
		return f.lookupSessionFn(ctx, jti)
	}
	return "", sql.ErrNoRows
}
func (f *fakeStore) RevokeSession(ctx context.Context, jti string) error {
	if f.revokeSessionFn != nil {
		return f.revokeSessionFn(ctx, jti)
	}
	return nil
}
func (f *fakeStore) Ping(context.Context) error { return nil }

type fakeHub struct {
	events []any
}

func (h *fakeHub) Broadcast(event any) { h.events = append(h.events, event) }
func (h *fakeHub) ClientCount() int    { return 0 }

func (h *fakeHub) eventTypes() []string {
	types := make([]string, 0, len(h.events))
	for _, event := range h.events {
		payload, ok := event.(map[string]any)
		if !ok {
			continue
		}
		name, _ := payload["type"].(string)
		types = append(types, name)
	}
	return types
}

func (h *fakeHub) lastOfType(name string) map[string]any {
	for i := len(h.events) - 1; i >= 0; i-- {
		payload, ok := h.events[i].(map[string]any)
		if !ok {
			continue
		}
		if payload["type"] == name {
			return payload
		}
	}
	return nil
}

type fakePresence struct {
	count int
}

func (p *fakePresence) Bind(any, string) {}
func (p *fakePresence) Drop(any)        {}
func (p *fakePresence) OnlineCount() int {
	return p.count
}

type fakeOTP struct {
	issueFn  func(context.Context, string) (string, error)
	verifyFn func(context.Context, string, string) error
}

func (f *fakeOTP) Issue(ctx context.Context, phone string) (string, error) {
	if f.issueFn != nil {
		return f.issueFn(ctx, phone)
	}
	return "1234", nil
}
func (f *fakeOTP) Verify(ctx context.Context, phone, code string) error {
	if f.verifyFn != nil {
		return f.verifyFn(ctx, phone, code)
	}
	return nil
}

type fakeSMS struct {
	configured bool
	sendFn     func(context.Context, string, string) error
	sent       []string
}

func (f *fakeSMS) IsConfigured() bool { return f.configured }
func (f *fakeSMS) SendCode(ctx context.Context, to, code string) error {
	f.sent = append(f.sent, to)
	if f.sendFn != nil {
		return f.sendFn(ctx, to, code)
	}
	return nil
}

type fakeUploader struct {
	configured bool
	uploadFn   func(context.Context, string, string, string, int64, io.Reader) (string, error)
	uploads    []string
}

func (f *fakeUploader) IsConfigured() bool { return f.configured }
func (f *fakeUploader) Upload(ctx context.Context, folder, fileName, contentType string, size int64, r io.Reader) (string, error) {
	f.uploads = append(f.uploads, folder+"/"+fileName)
	if f.uploadFn != nil {
		return f.uploadFn(ctx, folder, fileName, contentType, size, r)
	}
	return "http://files.local/" + folder + "/" + fileName, nil
}

type fakeIndex struct {
	searchFn func(search.Query) search.Response
	indexed  []search.MessageRecord
	deleted  []string
}

func (f *fakeIndex) Search(q search.Query) search.Response {
	if f.searchFn != nil {
		return f.searchFn(q)
	}
	return search.Response{Results: []search.Result{}, Query: q.Text}
}
func (f *fakeIndex) IndexMessage(record search.MessageRecord) { f.indexed = append(f.indexed, record) }
func (f *fakeIndex) DeleteMessage(id string)                  { f.deleted = append(f.deleted, id) }

type fakeRenderer struct {
	transcriptFn func(export.TranscriptData, export.Format) (*export.Result, error)
	lastData     export.TranscriptData
}

func (f *fakeRenderer) Transcript(data export.TranscriptData, format export.Format) (*export.Result, error) {
	f.lastData = data
	if f.transcriptFn != nil {
		return f.transcriptFn(data, format)
	}
	return &export.Result{Data: []byte("doc"), Filename: "transcript." + string(format), MimeType: "application/octet-stream"}, nil
}

func newTestService(fs *fakeStore) (*Service, *fakeHub) {
	hub := &fakeHub{}
	return &Service{
		cfg: config.Config{
			TokenSecret:       "test-secret",
			TokenTTL:          time.Hour,
			PrimaryAdminPhone: "9999999999",
			PrimaryAdminName:  "Admin",
			CommunityName:     "Huddle",
		},
		store:    fs,
		sessions: fs,
		otp:      &fakeOTP{},
		sms:      &fakeSMS{},
		files:    &fakeUploader{},
		search:   &fakeIndex{},
		export:   &fakeRenderer{},
		hub:      hub,
		presence: &fakePresence{},
		log:      zap.NewNop(),
	}, hub
}

func testMember(id, name, phone, role string) store.Member {
	return store.Member{ID: id, DisplayName: name, Phone: phone, Role: role, IsActive: true}
}

func testSession(member store.Member) Session {
	return Session{Token: "tok", Member: member, JTI: "jti_test"}
}

func assertDomainError(t *testing.T, err error, status int, code string) *DomainError {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != status || domainErr.Code != code {
		t.Fatalf("expected %d %s, got %d %s", status, code, domainErr.Status, domainErr.Code)
	}
	return domainErr
}

func TestRequestLoginCodeUnknownPhoneLooksNotFound(t *testing.T) {
	svc, _ := newTestService(&fakeStore{})
	err := svc.RequestLoginCode(context.Background(), "9876543210")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for unknown phone, got %v", err)
	}
}

func TestRequestLoginCodeInactiveMemberLooksNotFound(t *testing.T) {
	member := testMember("mem_1", "Asha", "9876543210", "member")
	member.IsActive = false
	svc, _ := newTestService(&fakeStore{
		getMemberByPhoneFn: func(context.Context, string) (store.Member, error) { return member, nil },
	})
	err := svc.RequestLoginCode(context.Background(), "9876543210")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected deactivated member to look unknown, got %v", err)
	}
}

func TestRequestLoginCodeInvalidPhone(t *testing.T) {
	svc, _ := newTestService(&fakeStore{})
	err := svc.RequestLoginCode(context.Background(), "12ab")
	assertDomainError(t, err, 422, "VALIDATION_ERROR")
}

func TestRequestLoginCodeRateLimited(t *testing.T) {
	svc, _ := newTestService(&fakeStore{
		getMemberByPhoneFn: func(_ context.Context, phone string) (store.Member, error) {
			return testMember("mem_1", "Asha", phone, "member"), nil
		},
	})
	svc.otp = &fakeOTP{issueFn: func(context.Context, string) (string, error) {
		return "", otp.ErrRateLimited
	}}
	err := svc.RequestLoginCode(context.Background(), "9876543210")
	if !errors.Is(err, otp.ErrRateLimited) {
		t.Fatalf("expected rate limit error to pass through, got %v", err)
	}
}

func TestRequestLoginCodeSucceedsWithoutSMSGateway(t *testing.T) {
	gateway := &fakeSMS{configured: false}
	svc, _ := newTestService(&fakeStore{
		getMemberByPhoneFn: func(_ context.Context, phone string) (store.Member, error) {
			return testMember("mem_1", "Asha", phone, "member"), nil
		},
	})
	svc.sms = gateway
	if err := svc.RequestLoginCode(context.Background(), "9876543210"); err != nil {
		t.Fatalf("expected success without a gateway, got %v", err)
	}
	if len(gateway.sent) != 0 {
		t.Fatalf("expected no delivery attempt, got %v", gateway.sent)
	}
}

func TestRequestLoginCodeSMSFailure(t *testing.T) {
	svc, _ := newTestService(&fakeStore{
		getMemberByPhoneFn: func(_ context.Context, phone string) (store.Member, error) {
			return testMember("mem_1", "Asha", phone, "member"), nil
		},
	})
	svc.sms = &fakeSMS{configured: true, sendFn: func(context.Context, string, string) error {
		return errors.New("gateway down")
	}}
	err := svc.RequestLoginCode(context.Background(), "9876543210")
	assertDomainError(t, err, 502, "SMS_DELIVERY_FAILED")
}

func TestVerifyLoginCodeIssuesSessionAndStampsFirstLogin(t *testing.T) {
	var stamped bool
	var savedJTI string
	member := testMember("mem_1", "Asha", "9876543210", "member")
	fs := &fakeStore{
		getMemberByPhoneFn: func(context.Context, string) (store.Member, error) { return member, nil },
		setMemberFirstLoginFn: func(_ context.Context, memberID string, _ time.Time) error {
			if memberID != "mem_1" {
				t.Fatalf("stamped wrong member %q", memberID)
			}
			stamped = true
			return nil
		},
		saveSessionFn: func(_ context.Context, jti, memberID string, _ time.Time) error {
			savedJTI = jti
			if memberID != "mem_1" {
				t.Fatalf("saved session for wrong member %q", memberID)
			}
			return nil
		},
	}
	svc, _ := newTestService(fs)

	session, err := svc.VerifyLoginCode(context.Background(), "9876543210", "1234")
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !stamped {
		t.Fatal("expected first login to be stamped")
	}
	if session.Token == "" || session.JTI == "" || session.JTI != savedJTI {
		t.Fatalf("expected issued token with recorded jti, got %+v saved %q", session, savedJTI)
	}
	if session.Member.FirstLoginAt == nil {
		t.Fatal("expected session member to carry the first login stamp")
	}

	claims, err := auth.ParseToken([]byte("test-secret"), session.Token)
	if err != nil {
		t.Fatalf("issued token does not parse: %v", err)
	}
	if claims.Sub != "mem_1" || claims.JTI != session.JTI {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestVerifyLoginCodeKeepsExistingFirstLogin(t *testing.T) {
	first := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	member := testMember("mem_1", "Asha", "9876543210", "member")
	member.FirstLoginAt = &first
	svc, _ := newTestService(&fakeStore{
		getMemberByPhoneFn: func(context.Context, string) (store.Member, error) { return member, nil },
		setMemberFirstLoginFn: func(context.Context, string, time.Time) error {
			t.Fatal("first login must not be restamped")
			return nil
		},
	})
	if _, err := svc.VerifyLoginCode(context.Background(), "9876543210", "1234"); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
}

func TestVerifyLoginCodeWrongCode(t *testing.T) {
	svc, _ := newTestService(&fakeStore{
		getMemberByPhoneFn: func(_ context.Context, phone string) (store.Member, error) {
			return testMember("mem_1", "Asha", phone, "member"), nil
		},
	})
	svc.otp = &fakeOTP{verifyFn: func(context.Context, string, string) error {
		return otp.ErrCodeMismatch
	}}
	_, err := svc.VerifyLoginCode(context.Background(), "9876543210", "0000")
	if !errors.Is(err, otp.ErrCodeMismatch) {
		t.Fatalf("expected code mismatch to pass through, got %v", err)
	}
}

func TestSessionFromTokenReadsRoleFromStore(t *testing.T) {
	token, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		Sub: "mem_1", Phone: "9876543210", Role: "member", JTI: "jti_1",
		Exp: time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	svc, _ := newTestService(&fakeStore{
		lookupSessionFn: func(context.Context, string) (string, error) { return "mem_1", nil },
		getMemberFn: func(context.Context, string) (store.Member, error) {
			return testMember("mem_1", "Asha", "9876543210", "sub-admin"), nil
		},
	})
	session, err := svc.SessionFromToken(context.Background(), token)
	if err != nil {
		t.Fatalf("session lookup failed: %v", err)
	}
	if session.Member.Role != "sub-admin" {
		t.Fatalf("expected live role from store, got %q", session.Member.Role)
	}
}

func TestSessionFromTokenRevokedSession(t *testing.T) {
	token, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		Sub: "mem_1", Phone: "9876543210", Role: "member", JTI: "jti_1",
		Exp: time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	svc, _ := newTestService(&fakeStore{})
	_, err = svc.SessionFromToken(context.Background(), token)
	if !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected revoked session to read as invalid token, got %v", err)
	}
}

func TestSessionFromTokenDeactivatedMember(t *testing.T) {
	token, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		Sub: "mem_1", Phone: "9876543210", Role: "member", JTI: "jti_1",
		Exp: time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	member := testMember("mem_1", "Asha", "9876543210", "member")
	member.IsActive = false
	svc, _ := newTestService(&fakeStore{
		lookupSessionFn: func(context.Context, string) (string, error) { return "mem_1", nil },
		getMemberFn:     func(context.Context, string) (store.Member, error) { return member, nil },
	})
	_, err = svc.SessionFromToken(context.Background(), token)
	if !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected deactivated member to be rejected, got %v", err)
	}
}

func TestSendMessageRestrictedMemberRejected(t *testing.T) {
	until := time.Now().Add(time.Hour)
	member := testMember("mem_1", "Asha", "9876543210", "member")
	member.RestrictedUntil = &until
	var created bool
	svc, _ := newTestService(&fakeStore{
		createMessageFn: func(_ context.Context, message store.Message) (store.Message, error) {
			created = true
			return message, nil
		},
	})
	_, err := svc.SendMessage(context.Background(), testSession(member), SendMessageInput{Content: "hi"})
	domainErr := assertDomainError(t, err, 403, "POLICY_REJECTED")
	details, ok := domainErr.Details.(map[string]any)
	if !ok || details["reason"] != policy.ReasonRestricted {
		t.Fatalf("expected restricted reason, got %+v", domainErr.Details)
	}
	if created {
		t.Fatal("rejected message must not be persisted")
	}
}

func TestSendMessageBlockedKeyword(t *testing.T) {
	svc, _ := newTestService(&fakeStore{
		listBlockedKeywordsFn: func(context.Context) ([]store.BlockedKeyword, error) {
			return []store.BlockedKeyword{{ID: "kw_1", Keyword: "crypto"}}, nil
		},
	})
	member := testMember("mem_1", "Asha", "9876543210", "member")
	_, err := svc.SendMessage(context.Background(), testSession(member), SendMessageInput{Content: "buy Crypto now"})
	domainErr := assertDomainError(t, err, 403, "POLICY_REJECTED")
	details := domainErr.Details.(map[string]any)
	if details["reason"] != policy.ReasonBlockedKeyword {
		t.Fatalf("expected blocked keyword reason, got %v", details["reason"])
	}
}

func TestSendMessageModeratorBypassesKeywordFilter(t *testing.T) {
	svc, hub := newTestService(&fakeStore{
		listBlockedKeywordsFn: func(context.Context) ([]store.BlockedKeyword, error) {
			return []store.BlockedKeyword{{ID: "kw_1", Keyword: "crypto"}}, nil
		},
		listMembersFn: func(context.Context) ([]store.Member, error) {
			return []store.Member{testMember("mem_adm", "Root", "9999999999", "admin")}, nil
		},
	})
	admin := testMember("mem_adm", "Root", "9999999999", "admin")
	if _, err := svc.SendMessage(context.Background(), testSession(admin), SendMessageInput{Content: "crypto talk"}); err != nil {
		t.Fatalf("moderator should bypass keyword filter: %v", err)
	}
	if hub.lastOfType("new_message") == nil {
		t.Fatal("expected new_message broadcast")
	}
}

func TestSendMessagePipeline(t *testing.T) {
	members := []store.Member{
		testMember("mem_1", "Asha", "9876543210", "member"),
		testMember("mem_2", "Priya Sharma", "9876543211", "member"),
	}
	var persisted store.Message
	var notified []store.Notification
	fs := &fakeStore{
		listMembersFn: func(context.Context) ([]store.Member, error) { return members, nil },
		createMessageFn: func(_ context.Context, message store.Message) (store.Message, error) {
			persisted = message
			return message, nil
		},
		createNotificationFn: func(_ context.Context, notification store.Notification) (store.Notification, bool, error) {
			notified = append(notified, notification)
			return notification, true, nil
		},
	}
	svc, hub := newTestService(fs)
	index := &fakeIndex{}
	svc.search = index

	payload, err := svc.SendMessage(context.Background(), testSession(members[0]), SendMessageInput{
		Content: "ping @Priya Sharma about the site visit",
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if persisted.ID == "" || persisted.Kind != "text" {
		t.Fatalf("unexpected persisted message %+v", persisted)
	}
	if len(persisted.Mentions) != 1 || persisted.Mentions[0] != "Priya Sharma" {
		t.Fatalf("expected stored mention, got %v", persisted.Mentions)
	}
	if payload["senderName"] != "Asha" {
		t.Fatalf("expected sender name resolved, got %v", payload["senderName"])
	}

	types := hub.eventTypes()
	if len(types) < 2 || types[0] != "new_message" || types[1] != "notification" {
		t.Fatalf("expected new_message then notification, got %v", types)
	}
	if len(notified) != 1 || notified[0].RecipientID != "mem_2" || notified[0].Kind != "mention" {
		t.Fatalf("unexpected notifications %+v", notified)
	}
	if len(index.indexed) != 1 || index.indexed[0].ID != persisted.ID {
		t.Fatalf("expected message indexed, got %+v", index.indexed)
	}
}

func TestSendMessageReplyFoldsMentionIntoReply(t *testing.T) {
	members := []store.Member{
		testMember("mem_1", "Asha", "9876543210", "member"),
		testMember("mem_2", "Priya", "9876543211", "member"),
	}
	var notified []store.Notification
	fs := &fakeStore{
		listMembersFn: func(context.Context) ([]store.Member, error) { return members, nil },
		getMessageFn: func(_ context.Context, messageID string) (store.Message, error) {
			return store.Message{ID: messageID, SenderID: "mem_2", Kind: "text"}, nil
		},
		createNotificationFn: func(_ context.Context, notification store.Notification) (store.Notification, bool, error) {
			notified = append(notified, notification)
			return notification, true, nil
		},
	}
	svc, _ := newTestService(fs)

	replyTo := "msg_parent"
	_, err := svc.SendMessage(context.Background(), testSession(members[0]), SendMessageInput{
		Content:   "agreed @Priya",
		ReplyToID: &replyTo,
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if len(notified) != 1 {
		t.Fatalf("expected a single folded notification, got %+v", notified)
	}
	if notified[0].Kind != "reply" || notified[0].RecipientID != "mem_2" {
		t.Fatalf("expected reply notification to mem_2, got %+v", notified[0])
	}
}

func TestSendMessageReplyTargetMissing(t *testing.T) {
	svc, _ := newTestService(&fakeStore{})
	replyTo := "msg_gone"
	member := testMember("mem_1", "Asha", "9876543210", "member")
	_, err := svc.SendMessage(context.Background(), testSession(member), SendMessageInput{
		Content:   "hello",
		ReplyToID: &replyTo,
	})
	assertDomainError(t, err, 422, "VALIDATION_ERROR")
}

func TestSendMessageChatDisabledForMembers(t *testing.T) {
	svc, _ := newTestService(&fakeStore{
		getChatSettingsFn: func(context.Context) (store.ChatSettings, error) {
			return store.ChatSettings{ChatDisabled: true}, nil
		},
	})
	member := testMember("mem_1", "Asha", "9876543210", "member")
	_, err := svc.SendMessage(context.Background(), testSession(member), SendMessageInput{Content: "hi"})
	domainErr := assertDomainError(t, err, 403, "POLICY_REJECTED")
	details := domainErr.Details.(map[string]any)
	if details["reason"] != policy.ReasonChatDisabled {
		t.Fatalf("expected chat disabled reason, got %v", details["reason"])
	}
}

func TestSendFileUploadsAndPicksImageKind(t *testing.T) {
	var persisted store.Message
	fs := &fakeStore{
		createMessageFn: func(_ context.Context, message store.Message) (store.Message, error) {
			persisted = message
			return message, nil
		},
	}
	svc, hub := newTestService(fs)
	uploader := &fakeUploader{configured: true}
	svc.files = uploader

	member := testMember("mem_1", "Asha", "9876543210", "member")
	_, err := svc.SendFile(context.Background(), testSession(member), SendFileInput{
		FileName:    "site.png",
		ContentType: "image/png",
		Size:        128,
		Reader:      strings.NewReader("fake-bytes"),
	})
	if err != nil {
		t.Fatalf("send file failed: %v", err)
	}
	if persisted.Kind != "image" {
		t.Fatalf("expected image kind, got %q", persisted.Kind)
	}
	if persisted.FileURL == nil || persisted.FileName == nil || *persisted.FileName != "site.png" {
		t.Fatalf("expected file fields persisted, got %+v", persisted)
	}
	if len(uploader.uploads) != 1 || uploader.uploads[0] != "chat/site.png" {
		t.Fatalf("expected upload into chat folder, got %v", uploader.uploads)
	}
	if hub.lastOfType("new_message") == nil {
		t.Fatal("expected new_message broadcast")
	}
}

func TestSendFileRejectedWhenFileSendDisabled(t *testing.T) {
	svc, _ := newTestService(&fakeStore{
		getChatSettingsFn: func(context.Context) (store.ChatSettings, error) {
			return store.ChatSettings{FileSendDisabled: true}, nil
		},
	})
	uploader := &fakeUploader{configured: true}
	svc.files = uploader
	member := testMember("mem_1", "Asha", "9876543210", "member")
	_, err := svc.SendFile(context.Background(), testSession(member), SendFileInput{
		FileName:    "doc.pdf",
		ContentType: "application/pdf",
		Size:        64,
		Reader:      strings.NewReader("x"),
	})
	domainErr := assertDomainError(t, err, 403, "POLICY_REJECTED")
	details := domainErr.Details.(map[string]any)
	if details["reason"] != policy.ReasonFileSharingDisabled {
		t.Fatalf("expected file sharing disabled reason, got %v", details["reason"])
	}
	if len(uploader.uploads) != 0 {
		t.Fatalf("rejected file must not be uploaded, got %v", uploader.uploads)
	}
}

func TestSendFileStorageUnconfigured(t *testing.T) {
	svc, _ := newTestService(&fakeStore{})
	member := testMember("mem_1", "Asha", "9876543210", "member")
	_, err := svc.SendFile(context.Background(), testSession(member), SendFileInput{
		FileName:    "doc.pdf",
		ContentType: "application/pdf",
		Size:        64,
		Reader:      strings.NewReader("x"),
	})
	assertDomainError(t, err, 503, "FILES_UNAVAILABLE")
}

func TestToggleReactionBroadcastsFreshSet(t *testing.T) {
	svc, hub := newTestService(&fakeStore{
		getMessageFn: func(_ context.Context, messageID string) (store.Message, error) {
			return store.Message{ID: messageID, SenderID: "mem_2", Kind: "text"}, nil
		},
		toggleReactionFn: func(_ context.Context, messageID, memberID, emoji string) ([]store.Reaction, error) {
			return []store.Reaction{{MessageID: messageID, MemberID: memberID, Emoji: emoji}}, nil
		},
	})
	member := testMember("mem_1", "Asha", "9876543210", "member")
	payload, err := svc.ToggleReaction(context.Background(), testSession(member), "msg_1", ReactionInput{Emoji: "👍"})
	if err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	reactions := payload["reactions"].([]map[string]any)
	if len(reactions) != 1 || reactions[0]["emoji"] != "👍" {
		t.Fatalf("unexpected reactions payload %v", payload)
	}
	event := hub.lastOfType("new_reaction")
	if event == nil || event["messageId"] != "msg_1" {
		t.Fatalf("expected new_reaction broadcast, got %v", event)
	}
}

func TestToggleReactionDeletedMessage(t *testing.T) {
	svc, _ := newTestService(&fakeStore{
		getMessageFn: func(_ context.Context, messageID string) (store.Message, error) {
			return store.Message{ID: messageID, Deleted: true}, nil
		},
	})
	member := testMember("mem_1", "Asha", "9876543210", "member")
	_, err := svc.ToggleReaction(context.Background(), testSession(member), "msg_1", ReactionInput{Emoji: "👍"})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected deleted message to read as missing, got %v", err)
	}
}

func TestTogglePinFlipsState(t *testing.T) {
	var pinnedTo *bool
	svc, hub := newTestService(&fakeStore{
		getMessageFn: func(_ context.Context, messageID string) (store.Message, error) {
			return store.Message{ID: messageID, Pinned: false}, nil
		},
		setMessagePinnedFn: func(_ context.Context, _ string, pinned bool) (bool, error) {
			pinnedTo = &pinned
			return true, nil
		},
	})
	payload, err := svc.TogglePin(context.Background(), "msg_1")
	if err != nil {
		t.Fatalf("pin failed: %v", err)
	}
	if pinnedTo == nil || !*pinnedTo {
		t.Fatal("expected pin to flip to true")
	}
	if payload["pinned"] != true {
		t.Fatalf("unexpected payload %v", payload)
	}
	event := hub.lastOfType("message_pinned")
	if event == nil || event["pinned"] != true {
		t.Fatalf("expected message_pinned broadcast, got %v", event)
	}
}

func TestDeleteMessageBroadcastsAndDropsFromIndex(t *testing.T) {
	svc, hub := newTestService(&fakeStore{
		softDeleteMessageFn: func(context.Context, string) (bool, error) { return true, nil },
	})
	index := &fakeIndex{}
	svc.search = index
	if err := svc.DeleteMessage(context.Background(), "msg_1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if len(index.deleted) != 1 || index.deleted[0] != "msg_1" {
		t.Fatalf("expected index delete, got %v", index.deleted)
	}
	event := hub.lastOfType("message_deleted")
	if event == nil || event["messageId"] != "msg_1" {
		t.Fatalf("expected message_deleted broadcast, got %v", event)
	}
}

func TestDeleteMessageAlreadyGone(t *testing.T) {
	svc, _ := newTestService(&fakeStore{})
	err := svc.DeleteMessage(context.Background(), "msg_404")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListChatFiltersForPlainMember(t *testing.T) {
	now := time.Now()
	firstLogin := now.Add(-2 * time.Hour)
	old := store.Message{ID: "msg_old", SenderID: "mem_2", Kind: "text", CreatedAt: now.Add(-3 * time.Hour)}
	fresh := store.Message{ID: "msg_new", SenderID: "mem_2", Kind: "text", CreatedAt: now.Add(-10 * time.Minute)}
	pinned := store.Message{ID: "msg_pin", SenderID: "mem_2", Kind: "text", Pinned: true, CreatedAt: now.Add(-5 * time.Minute)}

	fs := &fakeStore{
		listMessagesFn: func(context.Context) ([]store.Message, error) {
			return []store.Message{old, fresh, pinned}, nil
		},
		listMembersFn: func(context.Context) ([]store.Member, error) {
			return []store.Member{testMember("mem_2", "Priya", "9876543211", "member")}, nil
		},
	}
	svc, _ := newTestService(fs)

	member := testMember("mem_1", "Asha", "9876543210", "member")
	member.FirstLoginAt = &firstLogin
	payload, err := svc.ListChat(context.Background(), testSession(member))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	messages := payload["messages"].([]map[string]any)
	if len(messages) != 2 {
		t.Fatalf("expected pre-join history hidden, got %d messages", len(messages))
	}
	for _, message := range messages {
		if message["id"] == "msg_old" {
			t.Fatal("pre-join message leaked to plain member")
		}
	}
	pinnedList := payload["pinned"].([]map[string]any)
	if len(pinnedList) != 1 || pinnedList[0]["id"] != "msg_pin" {
		t.Fatalf("expected pinned list, got %v", pinnedList)
	}

	moderator := testMember("mem_3", "Root", "9999999999", "admin")
	payload, err = svc.ListChat(context.Background(), testSession(moderator))
	if err != nil {
		t.Fatalf("moderator list failed: %v", err)
	}
	if got := len(payload["messages"].([]map[string]any)); got != 3 {
		t.Fatalf("expected moderator to see full history, got %d", got)
	}
}

func TestRestrictMemberAndLift(t *testing.T) {
	var setTo *time.Time
	called := false
	fs := &fakeStore{
		getMemberFn: func(_ context.Context, memberID string) (store.Member, error) {
			return testMember(memberID, "Asha", "9876543210", "member"), nil
		},
		setMemberRestrictionFn: func(_ context.Context, _ string, until *time.Time) error {
			called = true
			setTo = until
			return nil
		},
	}
	svc, hub := newTestService(fs)

	payload, err := svc.RestrictMember(context.Background(), "mem_1", 24)
	if err != nil {
		t.Fatalf("restrict failed: %v", err)
	}
	if !called || setTo == nil || time.Until(*setTo) < 23*time.Hour {
		t.Fatalf("expected restriction about 24h out, got %v", setTo)
	}
	if payload["restrictedUntil"] == nil {
		t.Fatal("expected restrictedUntil in payload")
	}
	if hub.lastOfType("member_updated") == nil {
		t.Fatal("expected member_updated broadcast")
	}

	if _, err := svc.LiftRestriction(context.Background(), "mem_1"); err != nil {
		t.Fatalf("lift failed: %v", err)
	}
	if setTo != nil {
		t.Fatalf("expected restriction cleared, got %v", setTo)
	}
}

func TestRestrictMemberValidatesHours(t *testing.T) {
	svc, _ := newTestService(&fakeStore{})
	_, err := svc.RestrictMember(context.Background(), "mem_1", 0)
	assertDomainError(t, err, 422, "VALIDATION_ERROR")
	_, err = svc.RestrictMember(context.Background(), "mem_1", 100000)
	assertDomainError(t, err, 422, "VALIDATION_ERROR")
}

func TestPrimaryAdminIsUntouchable(t *testing.T) {
	fs := &fakeStore{
		getMemberFn: func(_ context.Context, memberID string) (store.Member, error) {
			return testMember(memberID, "Root", "9999999999", "admin"), nil
		},
	}
	svc, _ := newTestService(fs)

	_, err := svc.RestrictMember(context.Background(), "mem_adm", 24)
	assertDomainError(t, err, 403, "FORBIDDEN")

	inactive := false
	_, err = svc.UpdateMember(context.Background(), "mem_adm", UpdateMemberInput{IsActive: &inactive})
	assertDomainError(t, err, 403, "FORBIDDEN")

	_, err = svc.LiftRestriction(context.Background(), "mem_adm")
	assertDomainError(t, err, 403, "FORBIDDEN")
}

func TestCreateMemberRejectsAdminRole(t *testing.T) {
	svc, _ := newTestService(&fakeStore{})
	_, err := svc.CreateMember(context.Background(), CreateMemberInput{
		Name: "Asha", Phone: "9876543210", Role: "admin",
	})
	assertDomainError(t, err, 422, "VALIDATION_ERROR")
}

func TestCreateMemberDuplicatePhone(t *testing.T) {
	svc, _ := newTestService(&fakeStore{
		createMemberFn: func(context.Context, store.Member) (store.Member, error) {
			return store.Member{}, store.ErrDuplicate
		},
	})
	_, err := svc.CreateMember(context.Background(), CreateMemberInput{Name: "Asha", Phone: "9876543210"})
	assertDomainError(t, err, 422, "VALIDATION_ERROR")
}

func TestUpdateMemberRoleChange(t *testing.T) {
	var updatedRole string
	fs := &fakeStore{
		getMemberFn: func(_ context.Context, memberID string) (store.Member, error) {
			return testMember(memberID, "Asha", "9876543210", "member"), nil
		},
		updateMemberFn: func(_ context.Context, _, _, role string, _ bool) error {
			updatedRole = role
			return nil
		},
	}
	svc, _ := newTestService(fs)
	role := "sub-admin"
	if _, err := svc.UpdateMember(context.Background(), "mem_1", UpdateMemberInput{Role: &role}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updatedRole != "sub-admin" {
		t.Fatalf("expected sub-admin written, got %q", updatedRole)
	}

	bad := "admin"
	_, err := svc.UpdateMember(context.Background(), "mem_1", UpdateMemberInput{Role: &bad})
	assertDomainError(t, err, 422, "VALIDATION_ERROR")
}

func TestAddProjectUpdatesTally(t *testing.T) {
	var gotCount int
	var gotValue int64
	fs := &fakeStore{
		addMemberProjectFn: func(_ context.Context, _ string, countDelta int, valueDelta int64) (bool, error) {
			gotCount, gotValue = countDelta, valueDelta
			return true, nil
		},
		getMemberFn: func(_ context.Context, memberID string) (store.Member, error) {
			member := testMember(memberID, "Asha", "9876543210", "member")
			member.ProjectCount = 3
			member.ProjectValue = 450000
			return member, nil
		},
	}
	svc, hub := newTestService(fs)
	member := testMember("mem_1", "Asha", "9876543210", "member")
	payload, err := svc.AddProject(context.Background(), testSession(member), ProjectInput{Count: 1, Value: 150000})
	if err != nil {
		t.Fatalf("add project failed: %v", err)
	}
	if gotCount != 1 || gotValue != 150000 {
		t.Fatalf("unexpected deltas %d %d", gotCount, gotValue)
	}
	if payload["projectCount"] != 3 {
		t.Fatalf("expected refreshed tally, got %v", payload["projectCount"])
	}
	if hub.lastOfType("member_updated") == nil {
		t.Fatal("expected member_updated broadcast")
	}
}

func TestAddProjectValidates(t *testing.T) {
	svc, _ := newTestService(&fakeStore{})
	member := testMember("mem_1", "Asha", "9876543210", "member")
	_, err := svc.AddProject(context.Background(), testSession(member), ProjectInput{Count: -1})
	assertDomainError(t, err, 422, "VALIDATION_ERROR")
	_, err = svc.AddProject(context.Background(), testSession(member), ProjectInput{})
	assertDomainError(t, err, 422, "VALIDATION_ERROR")
}

func TestUpdateChatSettingsBroadcasts(t *testing.T) {
	svc, hub := newTestService(&fakeStore{})
	hours := 24
	payload, err := svc.UpdateChatSettings(context.Background(), ChatSettingsInput{
		ChatDisabled:      true,
		DisappearingHours: &hours,
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	settings := payload["settings"].(map[string]any)
	if settings["chatDisabled"] != true || settings["disappearingHours"] != 24 {
		t.Fatalf("unexpected settings payload %v", settings)
	}
	event := hub.lastOfType("chat_settings_updated")
	if event == nil {
		t.Fatal("expected chat_settings_updated broadcast")
	}
	if _, ok := event["community"]; !ok {
		t.Fatal("expected community in settings broadcast")
	}
}

func TestUpdateChatSettingsValidatesHours(t *testing.T) {
	svc, _ := newTestService(&fakeStore{})
	zero := 0
	_, err := svc.UpdateChatSettings(context.Background(), ChatSettingsInput{DisappearingHours: &zero})
	assertDomainError(t, err, 422, "VALIDATION_ERROR")
}

func TestAddKeywordNormalizesAndDeduplicates(t *testing.T) {
	var stored store.BlockedKeyword
	svc, _ := newTestService(&fakeStore{
		addBlockedKeywordFn: func(_ context.Context, keyword store.BlockedKeyword) (store.BlockedKeyword, error) {
			stored = keyword
			return keyword, nil
		},
	})
	if _, err := svc.AddKeyword(context.Background(), KeywordInput{Keyword: "  SPAM "}); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if stored.Keyword != "spam" {
		t.Fatalf("expected lowercase trimmed keyword, got %q", stored.Keyword)
	}

	svc, _ = newTestService(&fakeStore{
		addBlockedKeywordFn: func(context.Context, store.BlockedKeyword) (store.BlockedKeyword, error) {
			return store.BlockedKeyword{}, store.ErrDuplicate
		},
	})
	_, err := svc.AddKeyword(context.Background(), KeywordInput{Keyword: "spam"})
	assertDomainError(t, err, 422, "VALIDATION_ERROR")
}

func TestRemoveKeywordMissing(t *testing.T) {
	svc, _ := newTestService(&fakeStore{})
	if err := svc.RemoveKeyword(context.Background(), "kw_404"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSearchMessagesRequiresQuery(t *testing.T) {
	svc, _ := newTestService(&fakeStore{})
	_, err := svc.SearchMessages(search.Query{Text: "  "})
	assertDomainError(t, err, 422, "VALIDATION_ERROR")
}

func TestSearchMessagesClampsPaging(t *testing.T) {
	var got search.Query
	svc, _ := newTestService(&fakeStore{})
	svc.search = &fakeIndex{searchFn: func(q search.Query) search.Response {
		got = q
		return search.Response{Query: q.Text}
	}}
	if _, err := svc.SearchMessages(search.Query{Text: "cement", Limit: 9999, Offset: -3}); err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if got.Limit != 25 || got.Offset != 0 {
		t.Fatalf("expected clamped paging, got %+v", got)
	}
}

func TestExportTranscriptBuildsRows(t *testing.T) {
	body := "original question"
	reply := "the answer"
	messages := []store.Message{
		{ID: "msg_1", SenderID: "mem_1", Kind: "text", Content: &body, CreatedAt: time.Now().Add(-time.Hour)},
		{ID: "msg_2", SenderID: "mem_2", Kind: "text", Content: &reply, ReplyToID: strPtr("msg_1"), CreatedAt: time.Now()},
	}
	fs := &fakeStore{
		listMessagesFn: func(context.Context) ([]store.Message, error) { return messages, nil },
		listMembersFn: func(context.Context) ([]store.Member, error) {
			return []store.Member{
				testMember("mem_1", "Asha", "9876543210", "member"),
				testMember("mem_2", "Priya", "9876543211", "member"),
			}, nil
		},
		listReactionsFn: func(context.Context) (map[string][]store.Reaction, error) {
			return map[string][]store.Reaction{
				"msg_1": {{MessageID: "msg_1", MemberID: "mem_2", Emoji: "👍"}},
			}, nil
		},
	}
	svc, _ := newTestService(fs)
	renderer := &fakeRenderer{}
	svc.export = renderer

	admin := testMember("mem_adm", "Root", "9999999999", "admin")
	result, err := svc.ExportTranscript(context.Background(), testSession(admin), export.FormatPDF)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if len(result.Data) == 0 {
		t.Fatal("expected rendered bytes")
	}
	if renderer.lastData.CommunityName != "Huddle" || renderer.lastData.GeneratedBy != "Root" {
		t.Fatalf("unexpected transcript header %+v", renderer.lastData)
	}
	rows := renderer.lastData.Messages
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Reactions != "👍 1" {
		t.Fatalf("expected reaction summary, got %q", rows[0].Reactions)
	}
	if rows[1].ReplyTo != "Asha" || rows[1].ReplyBody != "original question" {
		t.Fatalf("expected reply context, got %+v", rows[1])
	}
}

func TestExportTranscriptDependencyMissing(t *testing.T) {
	svc, _ := newTestService(&fakeStore{})
	svc.export = &fakeRenderer{transcriptFn: func(export.TranscriptData, export.Format) (*export.Result, error) {
		return nil, export.ErrPDFDependencyMissing
	}}
	admin := testMember("mem_adm", "Root", "9999999999", "admin")
	_, err := svc.ExportTranscript(context.Background(), testSession(admin), export.FormatPDF)
	assertDomainError(t, err, 503, "EXPORT_UNAVAILABLE")
}

func TestRegisterConnectionBroadcastsOnlineCount(t *testing.T) {
	svc, hub := newTestService(&fakeStore{})
	svc.presence = &fakePresence{count: 4}
	svc.RegisterConnection("conn-1", "mem_1")
	event := hub.lastOfType("online_count")
	if event == nil || event["count"] != 4 {
		t.Fatalf("expected online_count broadcast with 4, got %v", event)
	}
}

func strPtr(s string) *string { return &s }
