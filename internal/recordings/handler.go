package recordings

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/getrec/recorder/internal/middleware"
	"github.com/getrec/recorder/internal/models"
	"github.com/getrec/recorder/pkg/response"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Reader reads recording rows. *Repository implements it.
type Reader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Recording, error)
	ListByAccount(ctx context.Context, accountID string, limit int) ([]models.Recording, error)
}

// URLSigner issues time-limited download links. Both storage drivers implement it.
type URLSigner interface {
	DownloadURL(ctx context.Context, key string) (string, error)
}

// Handler handles recording HTTP endpoints.
type Handler struct {
	repo   Reader
	signer URLSigner
	logger *zap.Logger
}

// NewHandler creates a recordings handler. A nil signer disables download links.
func NewHandler(repo Reader, signer URLSigner, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, signer: signer, logger: logger}
}

// ListByAccount handles GET /v1/:account_id/recordings.
func (h *Handler) ListByAccount(c *gin.Context) {
	accountID := c.Param("account_id")
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.BadRequest(c, "invalid limit")
			return
		}
		limit = min(n, maxListLimit)
	}

	list, err := h.repo.ListByAccount(c.Request.Context(), accountID, limit)
	if err != nil {
		h.logger.Error("list recordings failed", zap.Error(err), zap.String("account_id", accountID))
		response.Internal(c, "failed to list recordings")
		return
	}
	response.OK(c, list)
}

// Get handles GET /v1/recordings/:id.
func (h *Handler) Get(c *gin.Context) {
	rec, ok := h.load(c)
	if !ok {
		return
	}
	response.OK(c, rec)
}

// GenerateDownloadURL handles GET /v1/recordings/:id/download-url. Only completed
// recordings have an uploaded object.
func (h *Handler) GenerateDownloadURL(c *gin.Context) {
	rec, ok := h.load(c)
	if !ok {
		return
	}
	if rec.State != models.RecordingStateCompleted {
		response.Conflict(c, "recording not ready for download")
		return
	}
	if h.signer == nil {
		response.ServiceUnavailable(c, "object storage not configured")
		return
	}
	key := ObjectKey(rec.ID)
	url, err := h.signer.DownloadURL(c.Request.Context(), key)
	if err != nil {
		h.logger.Error("presign recording download failed", zap.Error(err), zap.String("recording_id", rec.ID.String()))
		response.Internal(c, "failed to generate download URL")
		return
	}
	response.OK(c, gin.H{"recording_id": rec.ID, "key": key, "download_url": url})
}

// load resolves :id and checks the caller's token may see the recording.
func (h *Handler) load(c *gin.Context) (*models.Recording, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid recording id")
		return nil, false
	}
	rec, err := h.repo.GetByID(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "recording not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("get recording failed", zap.Error(err), zap.String("recording_id", id.String()))
		response.Internal(c, "failed to get recording")
		return nil, false
	}
	if !middleware.AccountAllowed(c, rec.AccountID) {
		response.Forbidden(c, "not authorized to access this recording")
		return nil, false
	}
	return rec, true
}
