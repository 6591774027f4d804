package proctor

import (
	"context"
	"fmt"

	"github.com/stemsi/exstem-proctoring/internal/cache"
)

// GetModuleStatus returns the user's proctoring status for a module. It is
// used to gate access, so it repeats the login and enrolment checks itself
// and never fails: anything it cannot resolve is StatusInProgress. An
// instructor override wins over the vendor status.
func (c *Client) GetModuleStatus(ctx context.Context, module ModuleContext, userID int) Status {
	log := c.log.With().Int("course_id", module.CourseID).Int("module_id", module.ModuleID).Int("user_id", userID).Logger()

	if module.CourseID <= 0 || module.ModuleID <= 0 || userID <= 0 {
		return StatusInProgress
	}
	if err := module.Credentials.Validate(); err != nil {
		log.Warn().Err(err).Msg("Module status unavailable: credentials not configured")
		return StatusInProgress
	}
	if ok, err := c.mayViewModule(ctx, module, userID); err != nil {
		log.Error().Err(err).Msg("Module status unavailable: directory lookup failed")
		return StatusInProgress
	} else if !ok {
		log.Debug().Msg("Module status denied: user cannot access module")
		return StatusInProgress
	}

	ctx, store := c.requestScope(ctx)
	key := cache.Key("module_status", module.Credentials.AppID, module.CourseID, module.ModuleID, userID)
	status, err := cache.Load(ctx, store, cache.ScopeRequest, key, c.cfg.RequestCacheTTL, func(ctx context.Context) (Status, error) {
		return c.fetchModuleStatus(ctx, module, userID)
	})
	if err != nil {
		log.Warn().Err(err).Msg("Module status unavailable")
		return StatusInProgress
	}
	return status
}

func (c *Client) mayViewModule(ctx context.Context, module ModuleContext, userID int) (bool, error) {
	user, err := c.dir.User(ctx, userID)
	if err != nil {
		return false, err
	}
	if user == nil || !user.CanLogin() {
		return false, nil
	}
	owning, err := c.dir.ModuleCourse(ctx, module.ModuleID)
	if err != nil {
		return false, err
	}
	if owning != module.CourseID {
		return false, nil
	}
	return c.dir.IsEnrolled(ctx, module.CourseID, userID, true)
}

func (c *Client) fetchModuleStatus(ctx context.Context, module ModuleContext, userID int) (Status, error) {
	resp, err := c.transport.GetSigned(ctx, EndpointParticipantStatus, module.Credentials, Params{
		"activityid":            module.ModuleID,
		"courseid":              module.CourseID,
		"participantidentifier": userID,
	}, nil)
	if err != nil {
		return StatusInProgress, err
	}
	if resp.Empty() {
		return StatusInProgress, nil
	}
	raw, err := decodeObject(resp.Body)
	if err != nil {
		return StatusInProgress, c.transport.malformed(ctx, module.Credentials.AppID, resp, fmt.Errorf("decode status: %w", err))
	}
	f := normalizeKeys(raw)

	if v, ok := f["overridestatus"]; ok && v != nil && v != "" {
		if s, err := cleanStatus(v); err == nil {
			return s, nil
		}
	}
	s, err := cleanStatus(f["status"])
	if err != nil {
		return StatusInProgress, nil
	}
	return s, nil
}
