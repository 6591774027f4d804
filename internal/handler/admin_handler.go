package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctoring/internal/audit"
	"github.com/stemsi/exstem-proctoring/internal/middleware"
	"github.com/stemsi/exstem-proctoring/internal/model"
	"github.com/stemsi/exstem-proctoring/internal/proctor"
	"github.com/stemsi/exstem-proctoring/internal/response"
	"github.com/stemsi/exstem-proctoring/internal/service"
	"github.com/stemsi/exstem-proctoring/internal/validator"
)

// CredentialStore resolves and replaces the site's vendor credentials.
type CredentialStore interface {
	Resolve(ctx context.Context) (proctor.Credentials, error)
	Save(ctx context.Context, creds proctor.Credentials, updatedBy int) error
}

// FailureLog lists persisted remote call failures.
type FailureLog interface {
	RecentFailures(ctx context.Context, window time.Duration, limit int) ([]audit.Failure, error)
}

// AdminHandler serves the site administration endpoints.
type AdminHandler struct {
	creds    CredentialStore
	failures FailureLog
	log      zerolog.Logger
}

func NewAdminHandler(creds CredentialStore, failures FailureLog, log zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		creds:    creds,
		failures: failures,
		log:      log.With().Str("component", "admin_handler").Logger(),
	}
}

// GetCredentials godoc
// GET /api/v1/admin/credentials
func (h *AdminHandler) GetCredentials(c *gin.Context) {
	creds, err := h.creds.Resolve(c.Request.Context())
	switch {
	case err == nil:
		response.Success(c, http.StatusOK, model.CredentialsStatusResponse{Configured: true, AppID: creds.AppID})
	case errors.Is(err, service.ErrCredentialsNotConfigured), errors.Is(err, proctor.ErrValidation):
		response.Success(c, http.StatusOK, model.CredentialsStatusResponse{Configured: false})
	default:
		h.log.Error().Err(err).Msg("Failed to resolve credentials")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

// SaveCredentials godoc
// PUT /api/v1/admin/credentials
func (h *AdminHandler) SaveCredentials(c *gin.Context) {
	var req model.SaveCredentialsRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	creds := proctor.Credentials{AppID: req.AppID, APIKey: req.APIKey}
	err := h.creds.Save(c.Request.Context(), creds, middleware.GetClaims(c).UserID)
	var ve *proctor.ValidationError
	switch {
	case err == nil:
		response.Success(c, http.StatusOK, model.CredentialsStatusResponse{Configured: true, AppID: creds.AppID})
	case errors.As(err, &ve):
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{ve.Field: ve.Reason})
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

// ListFailures godoc
// GET /api/v1/admin/failures?window_hours=&limit=
func (h *AdminHandler) ListFailures(c *gin.Context) {
	var q model.FailuresQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	window := 24 * time.Hour
	if q.WindowHours > 0 {
		window = time.Duration(q.WindowHours) * time.Hour
	}

	failures, err := h.failures.RecentFailures(c.Request.Context(), window, q.Limit)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.SuccessList(c, http.StatusOK, failures, len(failures))
}
