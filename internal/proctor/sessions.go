package proctor

import (
	"context"
	"errors"
	"fmt"

	"github.com/stemsi/exstem-proctoring/internal/cache"
	"github.com/stemsi/exstem-proctoring/internal/metrics"
)

// ModuleContext locates a proctored course module and the site credentials
// used to ask about it.
type ModuleContext struct {
	Credentials Credentials
	CourseID    int
	ModuleID    int
}

// GetParticipantSessions lists the sessions of a course module. userID <= 0
// means every user, limit <= 0 means no limit. A positive limit asks the
// vendor for the most recent sessions first.
func (c *Client) GetParticipantSessions(ctx context.Context, creds Credentials, courseID, moduleID, userID, limit int) ([]*Session, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if courseID <= 0 {
		return nil, invalid("courseid", "must be a positive integer")
	}
	if moduleID <= 0 {
		return nil, invalid("activityid", "must be a positive integer")
	}
	if err := c.checkModuleInCourse(ctx, courseID, moduleID); err != nil {
		return nil, err
	}

	params := Params{"activityid": moduleID, "courseid": courseID}
	addSessionFilters(params, userID, limit)
	return c.listSessions(ctx, EndpointCourseSessions, creds, courseID, moduleID, userID, params)
}

// GetParticipantSessionsActivity lists sessions through the activity
// endpoint, which returns them newest first by end time. courseID <= 0 is
// resolved from the module.
func (c *Client) GetParticipantSessionsActivity(ctx context.Context, creds Credentials, moduleID, courseID, userID, limit int) ([]*Session, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if moduleID <= 0 {
		return nil, invalid("activityid", "must be a positive integer")
	}

	params := Params{"activityid": moduleID}
	if courseID > 0 {
		if err := c.checkModuleInCourse(ctx, courseID, moduleID); err != nil {
			return nil, err
		}
		params["courseid"] = courseID
	} else {
		owning, err := c.dir.ModuleCourse(ctx, moduleID)
		if err != nil {
			return nil, fmt.Errorf("resolve module %d: %w", moduleID, err)
		}
		if owning == 0 {
			return nil, invalid("activityid", "unknown module")
		}
		courseID = owning
	}
	addSessionFilters(params, userID, limit)
	return c.listSessions(ctx, EndpointActivitySessions, creds, courseID, moduleID, userID, params)
}

// GetLatestCompletedSession returns the user's most recently ended session
// of the module, or nil. It relies on the vendor ordering backward searches
// newest first.
func (c *Client) GetLatestCompletedSession(ctx context.Context, creds Credentials, moduleID, userID int) (*Session, error) {
	if userID <= 0 {
		return nil, invalid("participantidentifier", "must be a positive integer")
	}
	sessions, err := c.GetParticipantSessionsActivity(ctx, creds, moduleID, 0, userID, 1)
	if err != nil {
		return nil, err
	}
	for _, s := range sessions {
		if s.Ended() {
			return s, nil
		}
	}
	return nil, nil
}

func addSessionFilters(params Params, userID, limit int) {
	if userID > 0 {
		params["participantidentifier"] = userID
	}
	if limit > 0 {
		params["limit"] = limit
		params["backwardsearch"] = true
	}
}

func (c *Client) checkModuleInCourse(ctx context.Context, courseID, moduleID int) error {
	owning, err := c.dir.ModuleCourse(ctx, moduleID)
	if err != nil {
		return fmt.Errorf("resolve module %d: %w", moduleID, err)
	}
	if owning != courseID {
		return invalid("activityid", fmt.Sprintf("module %d is not part of course %d", moduleID, courseID))
	}
	return nil
}

// listSessions fetches raw sessions once per request scope and attaches each
// to a MinimalOwner built from the LMS user record.
func (c *Client) listSessions(ctx context.Context, endpoint Endpoint, creds Credentials, courseID, moduleID, userID int, params Params) ([]*Session, error) {
	ctx, store := c.requestScope(ctx)
	key := cache.Key("sessions", string(endpoint), creds.AppID, params)
	raws, err := cache.Load(ctx, store, cache.ScopeRequest, key, c.cfg.RequestCacheTTL, func(ctx context.Context) ([]Raw, error) {
		return c.fetchAll(ctx, endpoint, creds, params)
	})
	if err != nil {
		return nil, err
	}

	owners := map[int]*MinimalOwner{}
	sessions := make([]*Session, 0, len(raws))
	for _, raw := range raws {
		uid := userID
		if v, ok := cleanID(normalizeKeys(raw)["participantidentifier"]); ok {
			uid = v
		}
		if uid <= 0 {
			metrics.RecordsRejected.WithLabelValues("session", "no_owner").Inc()
			continue
		}

		owner, seen := owners[uid]
		if !seen {
			owner, err = c.minimalOwner(ctx, courseID, uid)
			if err != nil {
				return nil, err
			}
			owners[uid] = owner
		}
		if owner == nil {
			metrics.RecordsRejected.WithLabelValues("session", "not_enrolled").Inc()
			continue
		}

		s, err := c.parser.ParseSession(ctx, raw, owner)
		if err != nil {
			return nil, err
		}
		if s == nil {
			continue
		}
		if s.ActivityID != moduleID {
			metrics.RecordsRejected.WithLabelValues("session", "activity_mismatch").Inc()
			continue
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// minimalOwner builds the parent of sessions returned without their
// participant. It returns nil when the user is unknown or not enrolled.
func (c *Client) minimalOwner(ctx context.Context, courseID, userID int) (*MinimalOwner, error) {
	user, err := c.dir.User(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lookup user %d: %w", userID, err)
	}
	if user == nil || user.Deleted {
		return nil, nil
	}
	enrolled, err := c.dir.IsEnrolled(ctx, courseID, userID, false)
	if err != nil {
		return nil, fmt.Errorf("check enrolment of user %d in course %d: %w", userID, courseID, err)
	}
	if !enrolled {
		return nil, nil
	}
	return &MinimalOwner{
		CourseID:  courseID,
		UserID:    user.ID,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Email:     user.Email,
	}, nil
}

// MarkSessionStarted records that the user started a proctored attempt of
// the module, so a later CloseRemoteSession knows there is something to end.
func (c *Client) MarkSessionStarted(ctx context.Context, appID string, courseID, moduleID, userID int) error {
	if err := ValidateAppID(appID); err != nil {
		return err
	}
	if err := checkCourseUser(courseID, userID); err != nil {
		return err
	}
	if moduleID <= 0 {
		return invalid("activityid", "must be a positive integer")
	}
	key := sessionStartedKey(appID, courseID, moduleID, userID)
	if err := c.sessionStore(ctx).Set(ctx, key, []byte{'1'}, c.cfg.SessionStartTTL); err != nil {
		return fmt.Errorf("%w: %s: %v", cache.ErrWrite, key, err)
	}
	return nil
}

// CloseRemoteSession ends the vendor session of an attempt previously marked
// as started. Without a marker there is nothing to close and no request is
// made. It reports whether the vendor closed a session.
func (c *Client) CloseRemoteSession(ctx context.Context, creds Credentials, courseID, moduleID, userID int) (bool, error) {
	if err := creds.Validate(); err != nil {
		return false, err
	}
	if err := checkCourseUser(courseID, userID); err != nil {
		return false, err
	}
	if moduleID <= 0 {
		return false, invalid("activityid", "must be a positive integer")
	}

	store := c.sessionStore(ctx)
	key := sessionStartedKey(creds.AppID, courseID, moduleID, userID)
	if _, err := store.Get(ctx, key); err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return false, nil
		}
		return false, fmt.Errorf("read session marker: %w", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Failed to consume session marker")
	}

	resp, err := c.transport.GetSigned(ctx, EndpointEndSession, creds, Params{
		"appid":                 creds.AppID,
		"participantidentifier": userID,
		"courseid":              courseID,
		"activityid":            moduleID,
	}, nil)
	if err != nil {
		return false, err
	}
	if resp.NotFound() {
		return false, nil
	}
	c.log.Info().Int("course_id", courseID).Int("module_id", moduleID).Int("user_id", userID).Msg("Remote session closed")
	return true, nil
}

func sessionStartedKey(appID string, courseID, moduleID, userID int) string {
	return cache.Key("session_started", appID, courseID, moduleID, userID)
}
