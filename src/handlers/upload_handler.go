package handlers

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/username/carteira/src/logger"
	"github.com/username/carteira/src/services"
	"github.com/username/carteira/src/utils"
)

type UploadHandler struct {
	imports       services.ImportService
	maxUploadSize int64
}

func NewUploadHandler(imports services.ImportService, maxUploadSize int64) *UploadHandler {
	return &UploadHandler{imports: imports, maxUploadSize: maxUploadSize}
}

// HandleUpload stores a spreadsheet. A file already uploaded by the same user
// answers 200 with the existing record, a new one 201.
func (h *UploadHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	userEmail, ok := requireUser(w, r)
	if !ok {
		return
	}
	ctxLogger := logger.FromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+1<<20)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		ctxLogger.Warn("Failed to parse multipart form or request too large", "error", err, "limit", h.maxUploadSize)
		utils.SendJSONError(w, fmt.Sprintf("failed to read upload or file too large (max %d MB)", h.maxUploadSize/(1024*1024)), http.StatusBadRequest)
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		utils.SendJSONError(w, "failed to retrieve file from request, use the 'file' field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if fileHeader.Size > h.maxUploadSize {
		utils.SendJSONError(w, fmt.Sprintf("file too large, max %d MB", h.maxUploadSize/(1024*1024)), http.StatusBadRequest)
		return
	}
	content, err := io.ReadAll(io.LimitReader(file, h.maxUploadSize+1))
	if err != nil {
		respondError(w, r, err, "read upload")
		return
	}

	result, err := h.imports.Upload(r.Context(), userEmail, fileHeader.Filename, fileHeader.Header.Get("Content-Type"), content)
	if err != nil {
		respondError(w, r, err, "upload file")
		return
	}
	status := http.StatusCreated
	if result.AlreadyUploaded {
		status = http.StatusOK
	}
	ctxLogger.Info("File upload handled", "fileID", result.File.ID, "filename", result.File.Filename, "alreadyUploaded", result.AlreadyUploaded)
	utils.WriteJSON(w, status, result)
}

type processRequest struct {
	FileID string `json:"fileId"`
	Buffer string `json:"buffer"`
}

// HandleProcess imports the rows of an uploaded file. Row-level failures
// answer 207 with the per-row messages.
func (h *UploadHandler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	userEmail, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req processRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err, "process transactions")
		return
	}
	if strings.TrimSpace(req.FileID) == "" {
		utils.SendJSONError(w, "fileId is required", http.StatusBadRequest)
		return
	}
	var buffer []byte
	if req.Buffer != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.Buffer)
		if err != nil {
			utils.SendJSONError(w, "buffer must be base64 encoded", http.StatusBadRequest)
			return
		}
		buffer = decoded
	}

	result, err := h.imports.Process(r.Context(), userEmail, req.FileID, buffer)
	if err != nil {
		respondError(w, r, err, "process transactions")
		return
	}
	status := http.StatusOK
	if result.ErrorsCount > 0 {
		status = http.StatusMultiStatus
	}
	utils.WriteJSON(w, status, result)
}

func (h *UploadHandler) HandleListFiles(w http.ResponseWriter, r *http.Request) {
	userEmail, ok := requireUser(w, r)
	if !ok {
		return
	}
	files, err := h.imports.ListFiles(r.Context(), userEmail)
	if err != nil {
		respondError(w, r, err, "list uploads")
		return
	}
	utils.WriteJSON(w, http.StatusOK, files)
}
