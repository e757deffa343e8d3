package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/blobstore"
	"github.com/hyperjump/kotae/internal/docstore"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/provider"
	"github.com/hyperjump/kotae/internal/vecindex"
)

// maxUploadBytes caps the multipart upload size.
const maxUploadBytes = 64 << 20

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req models.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("ask request", zap.String("session_id", req.SessionID), zap.Int("k", req.K))
	resp, err := s.answers.Ask(r.Context(), req)
	if err != nil {
		if errors.Is(err, vecindex.ErrEmptyIndex) {
			s.respondError(w, http.StatusNotFound, "no documents indexed yet")
			return
		}
		var provErr *provider.Error
		if errors.As(err, &provErr) {
			s.logger.Error("model provider failed", zap.Error(err))
			s.respondError(w, http.StatusBadGateway, "model provider unavailable")
			return
		}
		s.logger.Error("ask failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		s.respondError(w, http.StatusBadRequest, "only .pdf files are accepted")
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read uploaded file")
		return
	}

	docID := models.NewDocumentID()
	ownerID := r.FormValue("owner_id")
	blobKey := path.Join(strings.TrimSuffix(s.config.Storage.DocumentsPrefix, "/"), docID+"_"+filename)

	now := time.Now().UTC()
	record := &models.DocumentRecord{
		ID:        docID,
		Filename:  filename,
		OwnerID:   ownerID,
		BlobKey:   blobKey,
		Size:      int64(len(content)),
		Status:    models.StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.docs.CreateDocument(r.Context(), record); err != nil {
		s.logger.Error("create document record failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.blobs.Put(r.Context(), blobKey, content); err != nil {
		s.logger.Error("store document failed", zap.Error(err))
		s.failDocument(r.Context(), docID, "failed to store document")
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	job := models.IndexJob{DocumentID: docID, BlobKey: blobKey, OwnerID: ownerID}
	if err := s.queue.Submit(job); err != nil {
		s.logger.Warn("indexing queue rejected job", zap.String("document_id", docID), zap.Error(err))
		s.failDocument(r.Context(), docID, "indexing queue full")
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.logger.Info("document accepted",
		zap.String("document_id", docID),
		zap.String("filename", filename),
		zap.Int("size", len(content)))
	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"id":     docID,
		"status": string(models.StatePending),
	})
}

// failDocument marks a record failed when its upload never reached the
// indexing queue, so it does not sit in pending forever.
func (s *Server) failDocument(ctx context.Context, id, reason string) {
	if err := s.docs.SetResult(ctx, id, models.StateFailed, 0, reason); err != nil {
		s.logger.Warn("mark document failed", zap.String("document_id", id), zap.Error(err))
	}
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	docs, err := s.docs.ListDocuments(r.Context(), ownerID)
	if err != nil {
		s.logger.Error("list documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"documents": docs})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.docs.GetDocument(r.Context(), id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "document not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("id", id))
	doc, err := s.docs.GetDocument(r.Context(), id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "document not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.blobs.Delete(r.Context(), doc.BlobKey); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		s.logger.Warn("delete document blob failed", zap.String("key", doc.BlobKey), zap.Error(err))
	}
	if err := s.docs.DeleteDocument(r.Context(), id); err != nil {
		s.logger.Error("delete document record failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Vectors already merged into the index stay there; the index only grows.
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docCount, err := s.docs.CountDocuments(ctx)
	if err != nil {
		s.logger.Error("status: count documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	version, err := s.artifacts.Version(ctx)
	if err != nil {
		s.logger.Error("status: artifact version failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"documents":     docCount,
		"index_version": version,
		"config": map[string]interface{}{
			"embedding_model": s.config.Provider.EmbeddingModel,
			"chat_model":      s.config.Provider.ChatModel,
			"chunk_size":      s.config.Split.ChunkSize,
			"chunk_overlap":   s.config.Split.ChunkOverlap,
			"search_mode":     s.config.Search.Mode,
			"search_k":        s.config.Search.K,
			"search_fetch_k":  s.config.Search.FetchK,
		},
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
