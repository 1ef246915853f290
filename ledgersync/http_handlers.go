// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledgersync

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/mobiletoly/go-ledgersync/internal/auth"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	// MaxPayloadBytes bounds a single create or merge body.
	MaxPayloadBytes = 1 << 20
)

// ListResponse is returned by GET /v1/{collection}.
type ListResponse struct {
	Documents []Document `json:"documents"`
	HasMore   bool       `json:"has_more"`
}

// CreateRequest is the body of POST /v1/{collection}.
type CreateRequest struct {
	LocalID string          `json:"local_id"`
	Data    json.RawMessage `json:"data"`
}

// CreateResponse carries the id assigned to a new document.
type CreateResponse struct {
	ID string `json:"id"`
}

// SessionResponse echoes the authenticated identity.
type SessionResponse struct {
	UserID   string `json:"user_id"`
	SourceID string `json:"source_id"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Server exposes a Backend over HTTP.
type Server struct {
	backend Backend
	jwt     *JWTAuth
	logger  *slog.Logger
	router  chi.Router
}

// NewServer builds the document API router.
func NewServer(backend Backend, jwtAuth *JWTAuth, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{backend: backend, jwt: jwtAuth, logger: logger}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Use(jwtAuth.Middleware)
		r.Get("/session", s.handleSession)
		r.Get("/{collection}", s.handleList)
		r.Post("/{collection}", s.handleCreate)
		r.Patch("/{collection}/{id}", s.handleMerge)
	})
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	writeJSON(w, http.StatusOK, SessionResponse{UserID: p.Owner, SourceID: p.Device})
}

// storeFor resolves the caller's document store and the requested collection.
func (s *Server) storeFor(w http.ResponseWriter, r *http.Request) (DocumentStore, Collection, bool) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication_failed", "missing user identity")
		return nil, "", false
	}
	c, err := ParseCollection(chi.URLParam(r, "collection"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_collection", err.Error())
		return nil, "", false
	}
	return s.backend.ForUser(p.Owner), c, true
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	store, c, ok := s.storeFor(w, r)
	if !ok {
		return
	}

	after := int64(0)
	if afterStr := r.URL.Query().Get("after"); afterStr != "" {
		v, err := strconv.ParseInt(afterStr, 10, 64)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "after must be a non-negative integer")
			return
		}
		after = v
	}

	limit := defaultListLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		v, err := strconv.Atoi(limitStr)
		if err != nil || v < 1 || v > maxListLimit {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be between 1 and 1000")
			return
		}
		limit = v
	}

	// One extra row tells whether another page exists
	docs, err := store.List(r.Context(), c, after, limit+1)
	if err != nil {
		s.respondStoreError(w, "list", c, err)
		return
	}
	resp := ListResponse{Documents: docs}
	if len(docs) > limit {
		resp.Documents = docs[:limit]
		resp.HasMore = true
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	store, c, ok := s.storeFor(w, r)
	if !ok {
		return
	}

	var req CreateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxPayloadBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse create request")
		return
	}
	if err := ValidateDocument(c, req.Data); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_document", err.Error())
		return
	}

	id, err := store.Create(r.Context(), c, req.LocalID, req.Data)
	if err != nil {
		s.respondStoreError(w, "create", c, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateResponse{ID: id})
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	store, c, ok := s.storeFor(w, r)
	if !ok {
		return
	}

	var patch json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxPayloadBytes)).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse document patch")
		return
	}

	if err := store.Merge(r.Context(), c, chi.URLParam(r, "id"), patch); err != nil {
		s.respondStoreError(w, "merge", c, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) respondStoreError(w http.ResponseWriter, op string, c Collection, err error) {
	switch {
	case errors.Is(err, ErrDocumentNotFound):
		writeError(w, http.StatusNotFound, "document_not_found", err.Error())
	case errors.Is(err, ErrRejected), errors.Is(err, ErrInvalidDocument):
		writeError(w, http.StatusUnprocessableEntity, "document_rejected", err.Error())
	case errors.Is(err, ErrUnknownCollection):
		writeError(w, http.StatusNotFound, "unknown_collection", err.Error())
	default:
		s.logger.Error("Document store failure", "op", op, "collection", c, "error", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "document store unavailable")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}
