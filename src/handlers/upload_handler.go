package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/username/tradelog/backend/src/config"
	"github.com/username/tradelog/backend/src/logger"
	"github.com/username/tradelog/backend/src/models"
	"github.com/username/tradelog/backend/src/parsers"
	"github.com/username/tradelog/backend/src/security/validation"
	"github.com/username/tradelog/backend/src/services"
	"github.com/username/tradelog/backend/src/utils"
)

type UploadHandler struct {
	importService *services.FileImportService
}

func NewUploadHandler(service *services.FileImportService) *UploadHandler {
	return &UploadHandler{
		importService: service,
	}
}

// HandleUpload accepts one broker report file and merges its trades.
// The filename and declared content type are weak hints only; content
// sniffing inside the parser chain governs format selection.
func (h *UploadHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(config.Cfg.MaxUploadSizeBytes); err != nil {
		logger.L.Warn("Failed to parse multipart form or request too large", "userID", userID, "error", err, "limit", config.Cfg.MaxUploadSizeBytes)
		utils.SendJSONError(w, fmt.Sprintf("Failed to parse form or request too large (max %d MB)", config.Cfg.MaxUploadSizeBytes/(1024*1024)), http.StatusBadRequest)
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		logger.L.Warn("Failed to retrieve file from request", "userID", userID, "error", err)
		utils.SendJSONError(w, "Failed to retrieve file from request. Ensure 'file' field is used.", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if fileHeader.Size > config.Cfg.MaxUploadSizeBytes {
		logger.L.Warn("Uploaded file header reports size too large", "userID", userID, "fileSize", fileHeader.Size, "limit", config.Cfg.MaxUploadSizeBytes)
		utils.SendJSONError(w, fmt.Sprintf("File too large, max %d MB (header check)", config.Cfg.MaxUploadSizeBytes/(1024*1024)), http.StatusBadRequest)
		return
	}

	clientContentType := fileHeader.Header.Get("Content-Type")
	if err := validation.ValidateClientContentType(clientContentType); err != nil {
		logger.L.Warn("Invalid client-declared file type", "userID", userID, "contentType", clientContentType, "error", err)
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	detectedContentType, err := validation.ValidateFileContentByMagicBytes(file)
	if err != nil {
		logger.L.Warn("Server-side file content validation failed", "userID", userID, "filename", fileHeader.Filename, "error", err)
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	logger.L.Info("File content validated by magic bytes", "userID", userID, "filename", fileHeader.Filename, "clientType", clientContentType, "detectedType", detectedContentType)

	data, err := io.ReadAll(io.LimitReader(file, config.Cfg.MaxUploadSizeBytes))
	if err != nil {
		logger.L.Error("Failed to read uploaded file", "userID", userID, "filename", fileHeader.Filename, "error", err)
		utils.SendJSONError(w, "Failed to read uploaded file.", http.StatusInternalServerError)
		return
	}

	result, err := h.importService.ImportFile(data, fileHeader.Filename, userID)
	if err != nil {
		switch {
		case errors.Is(err, parsers.ErrNoTrades):
			utils.SendJSONError(w, "no valid trades found in report", http.StatusBadRequest)
		case errors.Is(err, services.ErrQuotaExceeded):
			utils.SendJSONError(w, "Trade limit for your plan reached.", http.StatusForbidden)
		case errors.Is(err, services.ErrParsingFailed):
			logger.L.Warn("Upload processing failed due to parsing errors", "userID", userID, "filename", fileHeader.Filename, "error", err)
			utils.SendJSONError(w, fmt.Sprintf("Error parsing report file: %v", err), http.StatusBadRequest)
		default:
			logger.L.Error("Internal error processing upload", "userID", userID, "filename", fileHeader.Filename, "error", err)
			utils.SendJSONError(w, "An internal error occurred while processing the file. Please try again later.", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		logger.L.Error("Error encoding JSON response for upload result", "userID", userID, "error", err)
	}
}

// HandleGetTrades returns the user's trades with ETag support so the
// dashboard can poll cheaply.
func (h *UploadHandler) HandleGetTrades(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}

	trades, err := h.importService.ListTrades(userID)
	if err != nil {
		logger.L.Error("Error retrieving trades", "userID", userID, "error", err)
		utils.SendJSONError(w, fmt.Sprintf("Error retrieving trades for userID %d", userID), http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []models.CanonicalTrade{}
	}

	currentETag, etagErr := utils.GenerateETag(trades)
	w.Header().Set("Cache-Control", "no-cache, private")
	if etagErr == nil && currentETag != "" {
		quotedETag := fmt.Sprintf("\"%s\"", currentETag)
		w.Header().Set("ETag", quotedETag)
		for _, cETag := range strings.Split(r.Header.Get("If-None-Match"), ",") {
			if strings.TrimSpace(cETag) == quotedETag {
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(trades); err != nil {
		logger.L.Error("Error generating JSON response for trades", "userID", userID, "error", err)
	}
}
