package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"tetatet/internal/storage"
)

type subscribeRequest struct {
	Endpoint string `json:"endpoint" validate:"required,url"`
	Keys     struct {
		P256dh string `json:"p256dh" validate:"required"`
		Auth   string `json:"auth" validate:"required"`
	} `json:"keys"`
}

// SubscribePushHandler registers a browser webpush subscription for the
// authenticated user.
func (a *API) SubscribePushHandler(w http.ResponseWriter, r *http.Request, userID string) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := a.validate.Struct(req); err != nil {
		http.Error(w, "Invalid subscription", http.StatusBadRequest)
		return
	}

	err := a.storage.UpsertPushSubscription(storage.PushSubscription{
		UserID:   userID,
		Endpoint: req.Endpoint,
		P256dh:   req.Keys.P256dh,
		Auth:     req.Keys.Auth,
	})
	if err != nil {
		slog.Error("failed to store push subscription", "user_id", userID, "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
}
