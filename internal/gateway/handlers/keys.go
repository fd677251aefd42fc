package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/routerlabs/gateway/internal/gateway/apierr"
	"github.com/routerlabs/gateway/internal/shared/database"
	"github.com/routerlabs/gateway/internal/shared/models"
)

// KeyStore is the persistence surface for key lifecycle operations.
type KeyStore interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	DeactivateAPIKey(ctx context.Context, userID, keyID string) error
}

// KeysHandler serves the key lifecycle and usage snapshot endpoints.
type KeysHandler struct {
	store           KeyStore
	ledger          Quota
	cacheEnabled    bool
	cacheTTLSeconds int
}

func NewKeysHandler(store KeyStore, ledger Quota, cacheEnabled bool, cacheTTLSeconds int) *KeysHandler {
	return &KeysHandler{
		store:           store,
		ledger:          ledger,
		cacheEnabled:    cacheEnabled,
		cacheTTLSeconds: cacheTTLSeconds,
	}
}

type createKeyRequest struct {
	Name string `json:"name"`
}

type createKeyResponse struct {
	ID        string `json:"id"`
	Key       string `json:"key"` // shown exactly once; only the hash is stored
	KeyPrefix string `json:"keyPrefix"`
	Name      string `json:"name"`
}

// HandleCreateKey serves POST /v1/keys, bounded by the plan's key limit.
func (h *KeysHandler) HandleCreateKey(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		apierr.Write(w, apierr.Authentication("unauthorized"))
		return
	}

	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.Write(w, apierr.New(apierr.TypeAPI, http.StatusBadRequest, "invalid request body"))
		return
	}

	allowed, err := h.ledger.CanCreateAPIKey(r.Context(), user.ID)
	if err != nil {
		log.Printf("Key limit check failed for user %s: %v", user.ID, err)
		apierr.Write(w, apierr.Internal())
		return
	}
	if !allowed {
		apierr.Write(w, apierr.Permission("API key limit reached for your plan"))
		return
	}

	rawKey, err := generateKey()
	if err != nil {
		log.Printf("Key generation failed: %v", err)
		apierr.Write(w, apierr.Internal())
		return
	}

	key := &models.APIKey{
		UserID:          user.ID,
		KeyHash:         database.HashKey(rawKey),
		KeyPrefix:       rawKey[:len(KeyPrefix)+4],
		Name:            req.Name,
		CacheEnabled:    h.cacheEnabled,
		CacheTTLSeconds: h.cacheTTLSeconds,
	}
	if err := h.store.CreateAPIKey(r.Context(), key); err != nil {
		log.Printf("Key creation failed for user %s: %v", user.ID, err)
		apierr.Write(w, apierr.Internal())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(createKeyResponse{
		ID:        key.ID,
		Key:       rawKey,
		KeyPrefix: key.KeyPrefix,
		Name:      key.Name,
	})
}

// HandleDeactivateKey serves DELETE /v1/keys/{id}. Keys are deactivated,
// never deleted.
func (h *KeysHandler) HandleDeactivateKey(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		apierr.Write(w, apierr.Authentication("unauthorized"))
		return
	}

	keyID := chi.URLParam(r, "id")
	if err := h.store.DeactivateAPIKey(r.Context(), user.ID, keyID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			apierr.Write(w, apierr.New(apierr.TypeAPI, http.StatusNotFound, "API key not found"))
			return
		}
		log.Printf("Key deactivation failed for user %s: %v", user.ID, err)
		apierr.Write(w, apierr.Internal())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleUsage serves GET /v1/usage: the plan definition plus the
// current-period consumption snapshot.
func (h *KeysHandler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		apierr.Write(w, apierr.Authentication("unauthorized"))
		return
	}

	lu, err := h.ledger.GetUserLimitsAndUsage(r.Context(), user.ID)
	if err != nil {
		log.Printf("Usage snapshot failed for user %s: %v", user.ID, err)
		apierr.Write(w, apierr.Internal())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(lu)
}

// generateKey returns a fresh raw key: the rtr_ prefix plus 32 hex chars.
func generateKey() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return KeyPrefix + hex.EncodeToString(buf), nil
}
