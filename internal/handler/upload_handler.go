package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/collabworks/officechat/internal/apperr"
	"github.com/collabworks/officechat/internal/model"
	"github.com/collabworks/officechat/pkg/storage"
)

// Max upload size: 50MB
const maxUploadSize = 50 << 20

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

var allowedVideoTypes = map[string]bool{
	"video/mp4":       true,
	"video/webm":      true,
	"video/quicktime": true,
}

var allowedFileTypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/zip":    true,
	"audio/mpeg":         true,
	"audio/ogg":          true,
	"audio/wav":          true,
}

// UploadHandler stores message attachments and hands back the file_id and
// URL a send-message request references.
type UploadHandler struct {
	storage storage.ObjectStore
}

func NewUploadHandler(store storage.ObjectStore) *UploadHandler {
	return &UploadHandler{storage: store}
}

// UploadFile godoc
// @Summary Upload a message attachment
// @Description Stores a file and returns its file_id and URL for use in a send-message request. Supports images (jpg, png, gif, webp), videos (mp4, webm, mov), audio, and documents (pdf, doc, zip).
// @Tags Upload
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "File to upload"
// @Success 200 {object} model.APIResponse{data=model.UploadResponse}
// @Failure 400 {object} model.APIResponse
// @Failure 413 {object} model.APIResponse
// @Router /upload [post]
func (h *UploadHandler) UploadFile(c *gin.Context) {
	if h.storage == nil {
		respondErr(c, apperr.Conflict("file storage is not configured"))
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		if err.Error() == "http: request body too large" {
			c.JSON(http.StatusRequestEntityTooLarge, model.APIResponse{
				Success: false,
				Error:   &model.APIError{Code: "INVALID_PAYLOAD", Message: "file too large (max 50MB)"},
			})
			return
		}
		respondErr(c, apperr.InvalidPayload("file is required"))
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		respondErr(c, apperr.InvalidPayload("unable to detect file type"))
		return
	}

	folder := determineFolder(contentType)
	if folder == "" {
		respondErr(c, apperr.InvalidPayload("unsupported file type"))
		return
	}

	stored, err := h.storage.Upload(c.Request.Context(), file, header, folder)
	if err != nil {
		respondErr(c, apperr.Internal("failed to upload file", err))
		return
	}

	respond(c, http.StatusOK, model.UploadResponse{
		FileID:   stored.FileID,
		URL:      stored.URL,
		FileName: stored.FileName,
		FileSize: stored.FileSize,
		MimeType: stored.MimeType,
	})
}

// UploadMultiple godoc
// @Summary Upload multiple attachments
// @Description Upload up to 10 files at once. Unsupported or failed files are skipped.
// @Tags Upload
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param files formData file true "Files to upload (max 10)"
// @Success 200 {object} model.APIResponse{data=[]model.UploadResponse}
// @Failure 400 {object} model.APIResponse
// @Router /upload/multiple [post]
func (h *UploadHandler) UploadMultiple(c *gin.Context) {
	if h.storage == nil {
		respondErr(c, apperr.Conflict("file storage is not configured"))
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)

	form, err := c.MultipartForm()
	if err != nil {
		respondErr(c, apperr.InvalidPayload("invalid form data"))
		return
	}

	files := form.File["files"]
	if len(files) == 0 {
		respondErr(c, apperr.InvalidPayload("no files provided"))
		return
	}
	if len(files) > 10 {
		respondErr(c, apperr.InvalidPayload("maximum 10 files allowed"))
		return
	}

	results := []model.UploadResponse{}
	for _, header := range files {
		file, err := header.Open()
		if err != nil {
			continue
		}

		contentType := header.Header.Get("Content-Type")
		folder := determineFolder(contentType)
		if folder == "" {
			file.Close()
			continue // skip unsupported files
		}

		stored, err := h.storage.Upload(c.Request.Context(), file, header, folder)
		file.Close()
		if err != nil {
			continue // skip failed uploads
		}

		results = append(results, model.UploadResponse{
			FileID:   stored.FileID,
			URL:      stored.URL,
			FileName: stored.FileName,
			FileSize: stored.FileSize,
			MimeType: stored.MimeType,
		})
	}

	respond(c, http.StatusOK, results)
}

// determineFolder returns the storage folder for a content type.
func determineFolder(contentType string) string {
	ct := strings.ToLower(contentType)

	if allowedImageTypes[ct] {
		return "images"
	}
	if allowedVideoTypes[ct] {
		return "videos"
	}
	if allowedFileTypes[ct] {
		if strings.HasPrefix(ct, "audio/") {
			return "audio"
		}
		return "files"
	}
	return "" // unsupported
}
