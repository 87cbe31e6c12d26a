// Package api serves the HTTP side surface: recent history, room listings,
// search, private conversation history and attachment metadata sniffing.
// Live traffic never goes through here; the query routes are a read window
// onto the same stores the engine uses.
package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"chatsync/contract"
	"chatsync/domain"
	"chatsync/errors"
)

const (
	defaultLimit = 20
	maxLimit     = 100

	maxAttachmentBytes = 10 << 20
)

type Server struct {
	log   *slog.Logger
	store contract.MessageStore
	rooms contract.RoomDirectory
}

func NewServer(log *slog.Logger, store contract.MessageStore, rooms contract.RoomDirectory) *Server {
	return &Server{log: log, store: store, rooms: rooms}
}

// Register mounts the read-side routes on the router.
func (s *Server) Register(r *mux.Router) {
	r.HandleFunc("/api/messages", s.handleMessages).Methods(http.MethodGet)
	r.HandleFunc("/api/rooms", s.handleRooms).Methods(http.MethodGet)
	r.HandleFunc("/api/search", s.handleSearch).Methods(http.MethodGet)
	r.HandleFunc("/api/private", s.handlePrivate).Methods(http.MethodGet)
	r.HandleFunc("/api/attachments", s.handleAttachment).Methods(http.MethodPost)
}

// handleAttachment sniffs uploaded bytes into the attachment metadata a
// client passes along with its next message. The declared file type is
// ignored; only the content decides the MIME type.
func (s *Server) handleAttachment(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxAttachmentBytes+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if int64(len(data)) > maxAttachmentBytes {
		s.writeError(w, http.StatusRequestEntityTooLarge, "attachment too large")
		return
	}

	att := domain.SniffAttachment(name, data)
	if att == nil {
		s.writeError(w, http.StatusBadRequest, "empty attachment")
		return
	}
	s.writeJSON(w, att)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		s.writeError(w, http.StatusBadRequest, "room is required")
		return
	}
	limit := clampLimit(queryInt(r, "limit", defaultLimit))
	offset := queryInt(r, "offset", 0)

	messages, err := s.store.Recent(r.Context(), roomID, limit, offset)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"room": roomID, "messages": messages})
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{"rooms": s.rooms.ListPublicRooms()})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		s.writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	roomID := r.URL.Query().Get("room")
	limit := clampLimit(queryInt(r, "limit", defaultLimit))

	messages, err := s.store.Search(r.Context(), query, roomID, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"query": query, "messages": messages})
}

func (s *Server) handlePrivate(w http.ResponseWriter, r *http.Request) {
	a := r.URL.Query().Get("a")
	b := r.URL.Query().Get("b")
	if a == "" || b == "" {
		s.writeError(w, http.StatusBadRequest, "a and b are required")
		return
	}
	limit := clampLimit(queryInt(r, "limit", defaultLimit))

	messages, err := s.store.PrivateHistory(r.Context(), a, b, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"messages": messages})
}

func (s *Server) writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Warn("response encoding failed", "error", err)
	}
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	status := errors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
	}
	s.writeError(w, status, err.Error())
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func clampLimit(n int) int {
	if n == 0 || n > maxLimit {
		return defaultLimit
	}
	return n
}
