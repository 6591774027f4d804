package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctoring/internal/middleware"
	"github.com/stemsi/exstem-proctoring/internal/model"
	"github.com/stemsi/exstem-proctoring/internal/proctor"
	"github.com/stemsi/exstem-proctoring/internal/response"
	"github.com/stemsi/exstem-proctoring/internal/service"
	"github.com/stemsi/exstem-proctoring/internal/validator"
)

// ProctoringAPI is the part of service.ProctoringService the HTTP layer uses.
type ProctoringAPI interface {
	Participant(ctx context.Context, courseID, userID, instanceID int) (*proctor.Participant, error)
	Participants(ctx context.Context, courseID int) ([]*proctor.Participant, error)
	ParticipantsBulk(ctx context.Context, courseID int, userIDs []int, instanceID int) ([]*proctor.Participant, error)
	Sessions(ctx context.Context, courseID, moduleID, userID, limit int) ([]*proctor.Session, error)
	LatestCompletedSession(ctx context.Context, moduleID, userID int) (*proctor.Session, error)
	ModuleStatus(ctx context.Context, courseID, moduleID, userID int) proctor.Status
	StartSession(ctx context.Context, courseID, moduleID, userID int) error
	CloseSession(ctx context.Context, courseID, moduleID, userID int) (bool, error)
}

// ProctorHandler serves participant, session and status reads.
type ProctorHandler struct {
	svc ProctoringAPI
	log zerolog.Logger
}

func NewProctorHandler(svc ProctoringAPI, log zerolog.Logger) *ProctorHandler {
	return &ProctorHandler{
		svc: svc,
		log: log.With().Str("component", "proctor_handler").Logger(),
	}
}

// ListParticipants godoc
// GET /api/v1/courses/:course_id/participants
func (h *ProctorHandler) ListParticipants(c *gin.Context) {
	courseID, ok := pathID(c, "course_id")
	if !ok {
		return
	}

	participants, err := h.svc.Participants(c.Request.Context(), courseID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.SuccessList(c, http.StatusOK, participants, len(participants))
}

// GetParticipant godoc
// GET /api/v1/courses/:course_id/participants/:user_id
// Users may read their own record; other records need the reports capability.
func (h *ProctorHandler) GetParticipant(c *gin.Context) {
	courseID, ok := pathID(c, "course_id")
	if !ok {
		return
	}
	userID, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	if !canReadUser(c, userID) {
		response.Fail(c, http.StatusForbidden, response.ErrPermissionDenied)
		return
	}

	instanceID := 0
	if raw := c.Query("instance_id"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
			return
		}
		instanceID = n
	}

	participant, err := h.svc.Participant(c.Request.Context(), courseID, userID, instanceID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if participant == nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	response.Success(c, http.StatusOK, participant)
}

// BulkParticipants godoc
// POST /api/v1/courses/:course_id/participants/bulk
func (h *ProctorHandler) BulkParticipants(c *gin.Context) {
	courseID, ok := pathID(c, "course_id")
	if !ok {
		return
	}
	var req model.BulkParticipantsRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	participants, err := h.svc.ParticipantsBulk(c.Request.Context(), courseID, req.UserIDs, 0)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.SuccessList(c, http.StatusOK, participants, len(participants))
}

// ListSessions godoc
// GET /api/v1/courses/:course_id/modules/:module_id/sessions?user_id=&limit=
func (h *ProctorHandler) ListSessions(c *gin.Context) {
	courseID, ok := pathID(c, "course_id")
	if !ok {
		return
	}
	moduleID, ok := pathID(c, "module_id")
	if !ok {
		return
	}
	var q model.SessionsQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sessions, err := h.svc.Sessions(c.Request.Context(), courseID, moduleID, q.UserID, q.Limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.SuccessList(c, http.StatusOK, sessions, len(sessions))
}

// LatestSession godoc
// GET /api/v1/modules/:module_id/sessions/latest?user_id=
// user_id defaults to the caller.
func (h *ProctorHandler) LatestSession(c *gin.Context) {
	moduleID, ok := pathID(c, "module_id")
	if !ok {
		return
	}
	var q model.SessionsQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	userID := q.UserID
	if userID == 0 {
		userID = middleware.GetClaims(c).UserID
	}
	if !canReadUser(c, userID) {
		response.Fail(c, http.StatusForbidden, response.ErrPermissionDenied)
		return
	}

	session, err := h.svc.LatestCompletedSession(c.Request.Context(), moduleID, userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if session == nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	response.Success(c, http.StatusOK, session)
}

// ModuleStatus godoc
// GET /api/v1/courses/:course_id/modules/:module_id/status
// Always answers; unresolved statuses are reported as In Progress.
func (h *ProctorHandler) ModuleStatus(c *gin.Context) {
	courseID, ok := pathID(c, "course_id")
	if !ok {
		return
	}
	moduleID, ok := pathID(c, "module_id")
	if !ok {
		return
	}
	userID := middleware.GetClaims(c).UserID

	status := h.svc.ModuleStatus(c.Request.Context(), courseID, moduleID, userID)
	response.Success(c, http.StatusOK, model.ModuleStatusResponse{
		CourseID: courseID,
		ModuleID: moduleID,
		UserID:   userID,
		Code:     status.Code(),
		Status:   status.String(),
	})
}

// StartSession godoc
// POST /api/v1/courses/:course_id/modules/:module_id/session/start
func (h *ProctorHandler) StartSession(c *gin.Context) {
	courseID, ok := pathID(c, "course_id")
	if !ok {
		return
	}
	moduleID, ok := pathID(c, "module_id")
	if !ok {
		return
	}
	userID := middleware.GetClaims(c).UserID

	if err := h.svc.StartSession(c.Request.Context(), courseID, moduleID, userID); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"started": true})
}

// CloseSession godoc
// POST /api/v1/courses/:course_id/modules/:module_id/session/close
func (h *ProctorHandler) CloseSession(c *gin.Context) {
	courseID, ok := pathID(c, "course_id")
	if !ok {
		return
	}
	moduleID, ok := pathID(c, "module_id")
	if !ok {
		return
	}
	userID := middleware.GetClaims(c).UserID

	closed, err := h.svc.CloseSession(c.Request.Context(), courseID, moduleID, userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, model.CloseSessionResponse{Closed: closed})
}

// fail maps service and client errors to API responses.
func (h *ProctorHandler) fail(c *gin.Context, err error) {
	var ve *proctor.ValidationError
	switch {
	case errors.As(err, &ve):
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{ve.Field: ve.Reason})
	case errors.Is(err, proctor.ErrValidation):
		response.Fail(c, http.StatusBadRequest, response.ErrValidation)
	case errors.Is(err, service.ErrCredentialsNotConfigured):
		response.Fail(c, http.StatusServiceUnavailable, response.ErrCredentialsNotConfigured)
	case errors.Is(err, service.ErrModuleNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrModuleNotProctored):
		response.Fail(c, http.StatusConflict, response.ErrModuleNotProctored)
	case errors.Is(err, service.ErrModuleOutsideCourse):
		response.Fail(c, http.StatusBadRequest, response.ErrModuleOutsideCourse)
	case errors.Is(err, proctor.ErrRecursionLimit):
		h.log.Warn().Err(err).Str("path", c.FullPath()).Msg("Pagination limit reached")
		response.Fail(c, http.StatusBadGateway, response.ErrRecursionLimit)
	case errors.Is(err, proctor.ErrTransport):
		h.log.Warn().Err(err).Str("path", c.FullPath()).Msg("Vendor call failed")
		response.Fail(c, http.StatusBadGateway, response.ErrRemoteCallFailed)
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

// pathID parses a positive integer path parameter, answering 400 otherwise.
func pathID(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return 0, false
	}
	return id, true
}

func canReadUser(c *gin.Context, userID int) bool {
	claims := middleware.GetClaims(c)
	if claims == nil {
		return false
	}
	return claims.UserID == userID || claims.Can(service.CapViewReports)
}
