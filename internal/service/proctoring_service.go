package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctoring/internal/config"
	"github.com/stemsi/exstem-proctoring/internal/proctor"
	"github.com/stemsi/exstem-proctoring/internal/repository"
	ws "github.com/stemsi/exstem-proctoring/internal/websocket"
)

var (
	ErrModuleNotFound      = errors.New("module not found")
	ErrModuleNotProctored  = errors.New("module is not proctored")
	ErrModuleOutsideCourse = errors.New("module does not belong to course")
)

// ProctoringService resolves credentials and module context for the HTTP
// layer and publishes status changes to module channels.
type ProctoringService struct {
	client  *proctor.Client
	creds   *CredentialService
	dirRepo *repository.DirectoryRepository
	rdb     *redis.Client
	log     zerolog.Logger
}

func NewProctoringService(client *proctor.Client, creds *CredentialService, dirRepo *repository.DirectoryRepository, rdb *redis.Client, log zerolog.Logger) *ProctoringService {
	return &ProctoringService{
		client:  client,
		creds:   creds,
		dirRepo: dirRepo,
		rdb:     rdb,
		log:     log.With().Str("component", "proctoring_service").Logger(),
	}
}

// Ping checks the vendor without credentials.
func (s *ProctoringService) Ping(ctx context.Context) (bool, error) {
	return s.client.Ping(ctx)
}

func (s *ProctoringService) Participant(ctx context.Context, courseID, userID, instanceID int) (*proctor.Participant, error) {
	creds, err := s.creds.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	return s.client.GetParticipant(ctx, creds, courseID, userID, instanceID)
}

// Participants returns the course's participants sorted by user id.
func (s *ProctoringService) Participants(ctx context.Context, courseID int) ([]*proctor.Participant, error) {
	creds, err := s.creds.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	set, err := s.client.GetParticipants(ctx, creds, courseID)
	if err != nil {
		return nil, err
	}
	return sortedParticipants(set), nil
}

// ParticipantsBulk fetches the given users' records concurrently. An empty
// userIDs means every user enrolled in the course.
func (s *ProctoringService) ParticipantsBulk(ctx context.Context, courseID int, userIDs []int, instanceID int) ([]*proctor.Participant, error) {
	creds, err := s.creds.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if len(userIDs) == 0 {
		userIDs, err = s.dirRepo.EnrolledUserIDs(ctx, courseID)
		if err != nil {
			return nil, fmt.Errorf("list enrolled users: %w", err)
		}
		if len(userIDs) == 0 {
			return []*proctor.Participant{}, nil
		}
	}
	set, err := s.client.GetParticipantsBulk(ctx, creds, courseID, userIDs, instanceID)
	if err != nil {
		return nil, err
	}
	return sortedParticipants(set), nil
}

// Sessions lists a module's sessions, optionally for one user.
func (s *ProctoringService) Sessions(ctx context.Context, courseID, moduleID, userID, limit int) ([]*proctor.Session, error) {
	creds, err := s.creds.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	return s.client.GetParticipantSessions(ctx, creds, courseID, moduleID, userID, limit)
}

func (s *ProctoringService) LatestCompletedSession(ctx context.Context, moduleID, userID int) (*proctor.Session, error) {
	creds, err := s.creds.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	return s.client.GetLatestCompletedSession(ctx, creds, moduleID, userID)
}

// ModuleStatus never fails; unresolved statuses are In Progress.
func (s *ProctoringService) ModuleStatus(ctx context.Context, courseID, moduleID, userID int) proctor.Status {
	creds, err := s.creds.Resolve(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Module status without credentials")
	}
	return s.client.GetModuleStatus(ctx, proctor.ModuleContext{Credentials: creds, CourseID: courseID, ModuleID: moduleID}, userID)
}

// StartSession records that userID started the proctored module.
func (s *ProctoringService) StartSession(ctx context.Context, courseID, moduleID, userID int) error {
	if err := s.checkProctoredModule(ctx, courseID, moduleID); err != nil {
		return err
	}
	creds, err := s.creds.Resolve(ctx)
	if err != nil {
		return err
	}
	if err := s.client.MarkSessionStarted(ctx, creds.AppID, courseID, moduleID, userID); err != nil {
		return err
	}
	s.Publish(ctx, s.statusEvent(ws.EventStatus, courseID, moduleID, userID, proctor.StatusInProgress, "start"))
	return nil
}

// CloseSession ends the vendor session started by StartSession.
func (s *ProctoringService) CloseSession(ctx context.Context, courseID, moduleID, userID int) (bool, error) {
	creds, err := s.creds.Resolve(ctx)
	if err != nil {
		return false, err
	}
	closed, err := s.client.CloseRemoteSession(ctx, creds, courseID, moduleID, userID)
	if err != nil {
		return false, err
	}
	if closed {
		status := s.client.GetModuleStatus(ctx, proctor.ModuleContext{Credentials: creds, CourseID: courseID, ModuleID: moduleID}, userID)
		s.Publish(ctx, s.statusEvent(ws.EventClosed, courseID, moduleID, userID, status, "close"))
	}
	return closed, nil
}

// Publish sends ev to the module channel. Failures are logged only.
func (s *ProctoringService) Publish(ctx context.Context, ev ws.StatusEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to encode status event")
		return
	}
	channel := config.CacheKey.ModuleStatusChannel(ev.CourseID, ev.ModuleID)
	if err := s.rdb.Publish(ctx, channel, data).Err(); err != nil {
		s.log.Warn().Err(err).Str("channel", channel).Msg("Failed to publish status event")
	}
}

// Subscribe opens the module's status channel.
func (s *ProctoringService) Subscribe(ctx context.Context, courseID, moduleID int) *redis.PubSub {
	return s.rdb.Subscribe(ctx, config.CacheKey.ModuleStatusChannel(courseID, moduleID))
}

// StatusEvent builds the event describing a user's current module status.
func (s *ProctoringService) StatusEvent(ctx context.Context, courseID, moduleID, userID int, source string) ws.StatusEvent {
	status := s.ModuleStatus(ctx, courseID, moduleID, userID)
	return s.statusEvent(ws.EventStatus, courseID, moduleID, userID, status, source)
}

func (s *ProctoringService) statusEvent(event ws.Event, courseID, moduleID, userID int, status proctor.Status, source string) ws.StatusEvent {
	return ws.StatusEvent{
		Event:    event,
		CourseID: courseID,
		ModuleID: moduleID,
		UserID:   userID,
		Code:     status.Code(),
		Status:   status.String(),
		Source:   source,
		At:       time.Now().Unix(),
	}
}

func (s *ProctoringService) checkProctoredModule(ctx context.Context, courseID, moduleID int) error {
	m, err := s.dirRepo.Module(ctx, moduleID)
	if err != nil {
		return fmt.Errorf("get module: %w", err)
	}
	switch {
	case m == nil:
		return ErrModuleNotFound
	case m.CourseID != courseID:
		return ErrModuleOutsideCourse
	case !m.Proctored:
		return ErrModuleNotProctored
	}
	return nil
}

func sortedParticipants(set map[int]*proctor.Participant) []*proctor.Participant {
	out := make([]*proctor.Participant, 0, len(set))
	for _, p := range set {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b *proctor.Participant) int {
		return a.ParticipantIdentifier - b.ParticipantIdentifier
	})
	return out
}
