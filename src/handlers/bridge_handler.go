package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/username/tradelog/backend/src/bridge"
	"github.com/username/tradelog/backend/src/logger"
	"github.com/username/tradelog/backend/src/utils"
)

type BridgeHandler struct {
	service *bridge.Service
}

func NewBridgeHandler(service *bridge.Service) *BridgeHandler {
	return &BridgeHandler{
		service: service,
	}
}

// sendBridgeError maps typed bridge failures to their HTTP status 1:1;
// anything untyped is an internal error.
func sendBridgeError(w http.ResponseWriter, err error) {
	var apiErr *bridge.APIError
	if errors.As(err, &apiErr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(apiErr.StatusCode)
		json.NewEncoder(w).Encode(map[string]string{"error": apiErr.Message, "kind": string(apiErr.Kind)})
		return
	}
	utils.SendJSONError(w, "An internal error occurred.", http.StatusInternalServerError)
}

func (h *BridgeHandler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}

	var req bridge.ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	conn, err := h.service.Connect(r.Context(), userID, req)
	if err != nil {
		logger.L.Warn("Bridge connect failed", "userID", userID, "login", req.Login, "error", err)
		sendBridgeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"connection": conn})
}

type importRequest struct {
	ConnectionID string     `json:"connection_id"`
	From         *time.Time `json:"from,omitempty"`
	To           *time.Time `json:"to,omitempty"`
}

func (h *BridgeHandler) HandleImport(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}

	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.ConnectionID == "" {
		utils.SendJSONError(w, "connection_id is required", http.StatusBadRequest)
		return
	}

	summary, err := h.service.Import(r.Context(), userID, req.ConnectionID, req.From, req.To)
	if err != nil {
		logger.L.Warn("Bridge import failed", "userID", userID, "connectionID", req.ConnectionID, "error", err)
		sendBridgeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"imported":     summary.Imported,
		"upserted":     summary.Upserted,
		"totalFetched": summary.TotalFetched,
	})
}

func (h *BridgeHandler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}

	connectionID := r.PathValue("id")
	if connectionID == "" {
		utils.SendJSONError(w, "connection id is required", http.StatusBadRequest)
		return
	}

	if err := h.service.Disconnect(r.Context(), userID, connectionID); err != nil {
		logger.L.Warn("Bridge disconnect failed", "userID", userID, "connectionID", connectionID, "error", err)
		sendBridgeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BridgeHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}

	views, err := h.service.Status(r.Context(), userID)
	if err != nil {
		logger.L.Error("Bridge status failed", "userID", userID, "error", err)
		sendBridgeError(w, err)
		return
	}
	if views == nil {
		views = []bridge.ConnectionStatusView{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"connections": views})
}
