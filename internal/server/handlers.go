package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/ariavoice/aria/internal/config"
	"github.com/ariavoice/aria/internal/domain"
	"github.com/ariavoice/aria/internal/gateway"
	"github.com/ariavoice/aria/internal/id"
	"github.com/ariavoice/aria/internal/store"

	"github.com/google/uuid"
)

type apiHandler struct {
	cfg   *config.Config
	store *store.Store
}

func newAPIHandler(cfg *config.Config, st *store.Store) *apiHandler {
	return &apiHandler{cfg: cfg, store: st}
}

type userIDKey struct{}

// auth validates the bearer token and puts the user id on the context.
func (h *apiHandler) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
			writeError(w, http.StatusUnauthorized, domain.ErrUnauthenticated)
			return
		}
		userID, err := gateway.VerifyToken(h.cfg.Auth.JWTSecret, auth[len(prefix):])
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey{}, userID)))
	})
}

func userIDFrom(r *http.Request) string {
	userID, _ := r.Context().Value(userIDKey{}).(string)
	return userID
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

func (h *apiHandler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	user, err := h.store.GetUserByName(r.Context(), req.Username)
	if err != nil {
		// Same response for unknown user and bad password.
		writeError(w, http.StatusUnauthorized, domain.ErrUnauthenticated)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, domain.ErrUnauthenticated)
		return
	}

	token, err := gateway.IssueToken(h.cfg.Auth.JWTSecret, user.ID, h.cfg.Auth.AccessTokenExpire)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	slog.Info("api: login", "user_id", user.ID)
	writeJSON(w, http.StatusOK, loginResponse{Token: token, UserID: user.ID})
}

func (h *apiHandler) listFaces(w http.ResponseWriter, r *http.Request) {
	identities, err := h.store.ListFaceIdentities(r.Context(), userIDFrom(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"identities": identities})
}

type createFaceRequest struct {
	Name string `json:"name"`
}

func (h *apiHandler) createFace(w http.ResponseWriter, r *http.Request) {
	var req createFaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}

	identity := &domain.FaceIdentity{
		ID:        id.NewFaceIdentity(),
		UserID:    userIDFrom(r),
		Name:      req.Name,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.CreateFaceIdentity(r.Context(), identity); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, identity)
}

func (h *apiHandler) deleteFace(w http.ResponseWriter, r *http.Request) {
	err := h.store.DeleteFaceIdentity(r.Context(), chi.URLParam(r, "id"), userIDFrom(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addPhotoRequest struct {
	Embedding []float32 `json:"embedding"`
}

func (h *apiHandler) addFacePhoto(w http.ResponseWriter, r *http.Request) {
	var req addPhotoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	photo := &domain.FacePhoto{
		ID:         id.NewFacePhoto(),
		IdentityID: chi.URLParam(r, "id"),
		Embedding:  req.Embedding,
		PhotoUUID:  uuid.NewString(),
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.store.AddFacePhoto(r.Context(), photo); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, photo)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("api: encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  domain.ErrorCode(err),
	})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
