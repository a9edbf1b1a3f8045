// Package server exposes the rulebook pipeline and chat over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"ludex/internal/app"
	"ludex/internal/ratelimit"
	"ludex/internal/session"
	"ludex/internal/util"
	"ludex/pkg/domain"
)

const defaultMaxUploadBytes = 32 << 20

type Config struct {
	App            *app.App
	Sessions       *session.Verifier
	UploadLimiter  *ratelimit.FixedWindowLimiter
	ChatLimiter    *ratelimit.FixedWindowLimiter
	Logger         *slog.Logger
	MaxUploadBytes int64
}

type Server struct {
	app            *app.App
	sessions       *session.Verifier
	uploadLimiter  *ratelimit.FixedWindowLimiter
	chatLimiter    *ratelimit.FixedWindowLimiter
	logger         *slog.Logger
	maxUploadBytes int64
}

func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("server: session verifier required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	return &Server{
		app:            cfg.App,
		sessions:       cfg.Sessions,
		uploadLimiter:  cfg.UploadLimiter,
		chatLimiter:    cfg.ChatLimiter,
		logger:         logger,
		maxUploadBytes: maxUpload,
	}, nil
}

// Handler builds the route table and wraps it in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("POST /api/upload", s.authenticated(s.limited(s.uploadLimiter, s.handleUpload)))
	mux.Handle("POST /api/process", s.authenticated(s.handleProcess))
	mux.Handle("GET /api/games", s.authenticated(s.handleListGames))
	mux.Handle("GET /api/games/{id}", s.authenticated(s.handleGetGame))
	mux.Handle("DELETE /api/games/{id}", s.authenticated(s.handleDeleteGame))
	mux.Handle("POST /api/games/{id}/image", s.authenticated(s.handleUploadImage))
	mux.Handle("POST /api/image", s.authenticated(s.handleGenerateImage))
	mux.Handle("POST /api/chat", s.authenticated(s.limited(s.chatLimiter, s.handleChat)))
	mux.Handle("GET /api/chat", s.authenticated(s.handleChatHistory))

	var handler http.Handler = mux
	handler = util.WithCORS(handler)
	handler = util.WithSecurityHeaders(handler)
	handler = util.WithRequestLog(handler)
	handler = util.WithRequestID(handler)
	return handler
}

// authedHandler receives the verified user id alongside the request.
type authedHandler func(w http.ResponseWriter, r *http.Request, userID string)

func (s *Server) authenticated(next authedHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			s.audit(r, "auth_missing_token", "")
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		userID, err := s.sessions.Verify(token)
		if err != nil {
			s.audit(r, "auth_invalid_token", "")
			writeError(w, http.StatusUnauthorized, "invalid session")
			return
		}
		next(w, r, userID)
	})
}

func (s *Server) limited(limiter *ratelimit.FixedWindowLimiter, next authedHandler) authedHandler {
	return func(w http.ResponseWriter, r *http.Request, userID string) {
		if limiter != nil && !limiter.Allow(userID) {
			s.audit(r, "rate_limited", userID)
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r, userID)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, userID string) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart request")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field required")
		return
	}
	defer file.Close()

	game, err := s.app.Upload(r.Context(), userID, header.Filename, file, header.Size)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"gameId": game.ID,
		"status": game.Status,
		"title":  game.Title,
	})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		GameID string `json:"gameId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	game, err := s.app.Process(r.Context(), userID, req.GameID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": game.Status == domain.StatusCompleted,
		"gameId":  game.ID,
		"status":  game.Status,
	})
}

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request, userID string) {
	games, err := s.app.ListGames(r.Context(), userID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if games == nil {
		games = []domain.Game{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"games": games})
}

func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request, userID string) {
	game, err := s.app.GetGame(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, game)
}

func (s *Server) handleDeleteGame(w http.ResponseWriter, r *http.Request, userID string) {
	if err := s.app.DeleteGame(r.Context(), userID, r.PathValue("id")); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request, userID string) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart request")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image field required")
		return
	}
	defer file.Close()

	game, err := s.app.UploadCoverImage(r.Context(), userID, r.PathValue("id"), file, header.Size, header.Header.Get("Content-Type"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"imageUrl": game.OGImageURL,
	})
}

func (s *Server) handleGenerateImage(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		GameID string `json:"gameId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	game, found, err := s.app.GenerateCoverImage(r.Context(), userID, req.GameID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, map[string]any{
			"imageUrl": nil,
			"message":  "no cover image found",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"imageUrl": game.OGImageURL,
		"message":  "cover image found",
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		GameID         string `json:"gameId"`
		Message        string `json:"message"`
		ConversationID string `json:"conversationId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := s.app.Ask(r.Context(), userID, req.GameID, req.Message)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request, userID string) {
	gameID := r.URL.Query().Get("gameId")
	messages, err := s.app.History(r.Context(), userID, gameID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if messages == nil {
		messages = []domain.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrNotReady):
		writeError(w, http.StatusBadRequest, "game is still processing")
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "game not found")
	case errors.Is(err, app.ErrUnauthorized):
		s.audit(r, "ownership_denied", "")
		writeError(w, http.StatusUnauthorized, "not authorized")
	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", util.RequestIDFromRequest(r),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// audit emits a security_event log entry for auth-relevant outcomes.
func (s *Server) audit(r *http.Request, event, userID string) {
	s.logger.Warn("security_event",
		"event", event,
		"method", r.Method,
		"path", r.URL.Path,
		"client_ip", clientIP(r),
		"user_id", userID,
		"request_id", util.RequestIDFromRequest(r),
	)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return strings.TrimSpace(auth[len(prefix):])
	}
	return ""
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	if ip := r.Header.Get("X-Real-Ip"); ip != "" {
		return strings.TrimSpace(ip)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
