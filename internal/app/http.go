package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"huddle/api/internal/auth"
	"huddle/api/internal/export"
	"huddle/api/internal/otp"
	"huddle/api/internal/rbac"
	"huddle/api/internal/reports"
	"huddle/api/internal/search"
	"huddle/api/internal/store"
	"huddle/api/internal/telemetry"
	"huddle/api/internal/ws"
)

const (
	maxFileUploadBytes   = 25 << 20
	maxAvatarUploadBytes = 5 << 20
)

type HTTPServer struct {
	service    *Service
	hub        *ws.Hub
	corsOrigin string
	log        *zap.Logger
	upgrader   websocket.Upgrader
}

func NewHTTPServer(service *Service, hub *ws.Hub, corsOrigin string, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{
		service:    service,
		hub:        hub,
		corsOrigin: corsOrigin,
		log:        logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The API already gates by bearer token; the browser origin
			// is whatever the deployment put in front of it.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *HTTPServer) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/api/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)
	r.Handle("/metrics", telemetry.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/api/auth/request-code", s.handleRequestCode).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/verify", s.handleVerifyCode).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/logout", s.withSession(s.handleLogout)).Methods(http.MethodPost)
	r.HandleFunc("/api/me", s.withSession(s.handleMe)).Methods(http.MethodGet)

	r.HandleFunc("/api/members", s.withSession(s.handleListMembers)).Methods(http.MethodGet)
	r.HandleFunc("/api/members", s.withModerator(s.handleCreateMember)).Methods(http.MethodPost)
	r.HandleFunc("/api/members/me/projects", s.withSession(s.handleAddProject)).Methods(http.MethodPost)
	r.HandleFunc("/api/members/me/avatar", s.withSession(s.handleUpdateAvatar)).Methods(http.MethodPost)
	r.HandleFunc("/api/members/{id}", s.withModerator(s.handleUpdateMember)).Methods(http.MethodPatch)
	r.HandleFunc("/api/members/{id}/restrict", s.withModerator(s.handleRestrictMember)).Methods(http.MethodPost)
	r.HandleFunc("/api/members/{id}/restrict", s.withModerator(s.handleLiftRestriction)).Methods(http.MethodDelete)

	r.HandleFunc("/api/messages", s.withSession(s.handleListChat)).Methods(http.MethodGet)
	r.HandleFunc("/api/messages", s.withSession(s.handleSendMessage)).Methods(http.MethodPost)
	r.HandleFunc("/api/messages/file", s.withSession(s.handleSendFile)).Methods(http.MethodPost)
	r.HandleFunc("/api/messages/search", s.withModerator(s.handleSearch)).Methods(http.MethodGet)
	r.HandleFunc("/api/messages/{id}", s.withModerator(s.handleDeleteMessage)).Methods(http.MethodDelete)
	r.HandleFunc("/api/messages/{id}/reactions", s.withSession(s.handleToggleReaction)).Methods(http.MethodPost)
	r.HandleFunc("/api/messages/{id}/pin", s.withModerator(s.handleTogglePin)).Methods(http.MethodPost)

	r.HandleFunc("/api/notifications", s.withSession(s.handleListNotifications)).Methods(http.MethodGet)
	r.HandleFunc("/api/notifications/read", s.withSession(s.handleMarkNotificationsRead)).Methods(http.MethodPost)
	r.HandleFunc("/api/notifications/unread-count", s.withSession(s.handleUnreadCount)).Methods(http.MethodGet)

	r.HandleFunc("/api/settings", s.withSession(s.handleGetSettings)).Methods(http.MethodGet)
	r.HandleFunc("/api/settings/chat", s.withModerator(s.handleUpdateChatSettings)).Methods(http.MethodPut)
	r.HandleFunc("/api/settings/community", s.withModerator(s.handleUpdateCommunity)).Methods(http.MethodPut)

	r.HandleFunc("/api/keywords", s.withModerator(s.handleListKeywords)).Methods(http.MethodGet)
	r.HandleFunc("/api/keywords", s.withModerator(s.handleAddKeyword)).Methods(http.MethodPost)
	r.HandleFunc("/api/keywords/{id}", s.withModerator(s.handleUpdateKeyword)).Methods(http.MethodPut)
	r.HandleFunc("/api/keywords/{id}", s.withModerator(s.handleRemoveKeyword)).Methods(http.MethodDelete)

	r.HandleFunc("/api/export/transcript.pdf", s.withModerator(s.handleExportPDF)).Methods(http.MethodGet)
	r.HandleFunc("/api/export/transcript.docx", s.withModerator(s.handleExportDOCX)).Methods(http.MethodGet)
	r.HandleFunc("/api/reports/members.xlsx", s.withModerator(s.handleMemberRoster)).Methods(http.MethodGet)

	r.HandleFunc("/api/ws", s.handleWS).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	return s.withMiddleware(r)
}

type sessionHandler func(http.ResponseWriter, *http.Request, Session)

func (s *HTTPServer) withSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		next(w, r, session)
	}
}

func (s *HTTPServer) withModerator(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		if !rbac.CanModerate(rbac.Normalize(session.Member.Role)) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		next(w, r, session)
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleRequestCode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Phone string `json:"phone"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.RequestLoginCode(r.Context(), body.Phone); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Phone string `json:"phone"`
		Code  string `json:"code"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.VerifyLoginCode(r.Context(), body.Phone, body.Code)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     session.Token,
		"expiresAt": session.ExpiresAt.Format(time.RFC3339),
		"member":    memberPayload(session.Member),
	})
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request, session Session) {
	s.service.Logout(r.Context(), session)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request, session Session) {
	payload, err := s.service.Me(r.Context(), session)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleListMembers(w http.ResponseWriter, r *http.Request, session Session) {
	payload, err := s.service.ListMembers(r.Context())
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleCreateMember(w http.ResponseWriter, r *http.Request, session Session) {
	var input CreateMemberInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.CreateMember(r.Context(), input)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, payload)
}

func (s *HTTPServer) handleUpdateMember(w http.ResponseWriter, r *http.Request, session Session) {
	var input UpdateMemberInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.UpdateMember(r.Context(), mux.Vars(r)["id"], input)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleRestrictMember(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Hours int `json:"hours"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.RestrictMember(r.Context(), mux.Vars(r)["id"], body.Hours)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleLiftRestriction(w http.ResponseWriter, r *http.Request, session Session) {
	payload, err := s.service.LiftRestriction(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleAddProject(w http.ResponseWriter, r *http.Request, session Session) {
	var input ProjectInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.AddProject(r.Context(), session, input)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleUpdateAvatar(w http.ResponseWriter, r *http.Request, session Session) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAvatarUploadBytes)
	if err := r.ParseMultipartForm(maxAvatarUploadBytes); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "VALIDATION_ERROR", "avatar exceeds the upload limit", nil)
		return
	}
	file, header, err := r.FormFile("avatar")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "a file part named 'avatar' is required", nil)
		return
	}
	defer file.Close()

	payload, err := s.service.UpdateAvatar(r.Context(), session, header.Filename, header.Header.Get("Content-Type"), header.Size, file)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleListChat(w http.ResponseWriter, r *http.Request, session Session) {
	payload, err := s.service.ListChat(r.Context(), session)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleSendMessage(w http.ResponseWriter, r *http.Request, session Session) {
	var input SendMessageInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.SendMessage(r.Context(), session, input)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, payload)
}

func (s *HTTPServer) handleSendFile(w http.ResponseWriter, r *http.Request, session Session) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFileUploadBytes)
	if err := r.ParseMultipartForm(maxFileUploadBytes); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "VALIDATION_ERROR", "file exceeds the upload limit", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "a file part named 'file' is required", nil)
		return
	}
	defer file.Close()

	var replyToID *string
	if raw := strings.TrimSpace(r.FormValue("replyToId")); raw != "" {
		replyToID = &raw
	}
	payload, err := s.service.SendFile(r.Context(), session, SendFileInput{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Reader:      file,
		ReplyToID:   replyToID,
	})
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, payload)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session) {
	query := search.Query{
		Text:           r.URL.Query().Get("q"),
		FilterSenderID: strings.TrimSpace(r.URL.Query().Get("senderId")),
		FilterKind:     strings.TrimSpace(r.URL.Query().Get("kind")),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be a number", nil)
			return
		}
		query.Limit = limit
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be a number", nil)
			return
		}
		query.Offset = offset
	}
	response, err := s.service.SearchMessages(query)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleDeleteMessage(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.DeleteMessage(r.Context(), mux.Vars(r)["id"]); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleToggleReaction(w http.ResponseWriter, r *http.Request, session Session) {
	var input ReactionInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.ToggleReaction(r.Context(), session, mux.Vars(r)["id"], input)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleTogglePin(w http.ResponseWriter, r *http.Request, session Session) {
	payload, err := s.service.TogglePin(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleListNotifications(w http.ResponseWriter, r *http.Request, session Session) {
	payload, err := s.service.ListNotifications(r.Context(), session)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleMarkNotificationsRead(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.MarkNotificationsRead(r.Context(), session); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleUnreadCount(w http.ResponseWriter, r *http.Request, session Session) {
	payload, err := s.service.UnreadNotificationCount(r.Context(), session)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleGetSettings(w http.ResponseWriter, r *http.Request, session Session) {
	payload, err := s.service.GetSettings(r.Context())
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleUpdateChatSettings(w http.ResponseWriter, r *http.Request, session Session) {
	var input ChatSettingsInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.UpdateChatSettings(r.Context(), input)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleUpdateCommunity(w http.ResponseWriter, r *http.Request, session Session) {
	var input CommunityInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.UpdateCommunityName(r.Context(), input)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleListKeywords(w http.ResponseWriter, r *http.Request, session Session) {
	payload, err := s.service.ListKeywords(r.Context())
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleAddKeyword(w http.ResponseWriter, r *http.Request, session Session) {
	var input KeywordInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.AddKeyword(r.Context(), input)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, payload)
}

func (s *HTTPServer) handleUpdateKeyword(w http.ResponseWriter, r *http.Request, session Session) {
	var input KeywordInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.UpdateKeyword(r.Context(), mux.Vars(r)["id"], input)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleRemoveKeyword(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.RemoveKeyword(r.Context(), mux.Vars(r)["id"]); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleExportPDF(w http.ResponseWriter, r *http.Request, session Session) {
	s.serveTranscript(w, r, session, export.FormatPDF)
}

func (s *HTTPServer) handleExportDOCX(w http.ResponseWriter, r *http.Request, session Session) {
	s.serveTranscript(w, r, session, export.FormatDOCX)
}

func (s *HTTPServer) serveTranscript(w http.ResponseWriter, r *http.Request, session Session, format export.Format) {
	result, err := s.service.ExportTranscript(r.Context(), session, format)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleMemberRoster(w http.ResponseWriter, r *http.Request, session Session) {
	data, filename, err := s.service.MemberRoster(r.Context())
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	w.Header().Set("Content-Type", reports.RosterMimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleWS authenticates the caller, upgrades the connection and hands
// it to the hub. Browsers cannot set Authorization on a socket dial, so
// the token also rides in the query string.
func (s *HTTPServer) handleWS(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		token = bearerToken(r)
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	if _, err := s.service.SessionFromToken(r.Context(), token); err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade", zap.Error(err))
		return
	}
	client := ws.NewClient(s.hub, conn)
	client.OnRegister = func(c *ws.Client, memberID string) {
		s.service.RegisterConnection(c, memberID)
	}
	client.OnClose = func(c *ws.Client) {
		telemetry.WSClosed()
		s.service.DropConnection(c)
	}
	telemetry.WSOpened()
	client.Start()
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writeJSON(writer, http.StatusNoContent, map[string]any{})
			return
		}

		next.ServeHTTP(writer, r)

		s.log.Info("http request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrade reach the raw connection through
// the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if errors.Is(err, otp.ErrNotFound) || errors.Is(err, otp.ErrCodeMismatch) {
		return http.StatusUnauthorized, "INVALID_CODE", "Invalid or expired code", nil
	}
	if errors.Is(err, otp.ErrRateLimited) {
		return http.StatusTooManyRequests, "RATE_LIMITED", "Too many code requests, try again later", nil
	}
	if errors.Is(err, store.ErrDuplicate) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Already exists", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
