package proctor

import (
	"context"

	"github.com/stemsi/exstem-proctoring/internal/model"
)

// Directory answers the LMS-side questions needed to trust vendor data.
// Lookups of missing entities return zero values, not errors.
type Directory interface {
	// User returns the user or nil when it does not exist.
	User(ctx context.Context, userID int) (*model.User, error)
	CourseExists(ctx context.Context, courseID int) (bool, error)
	// ModuleCourse returns the course owning the module, or 0.
	ModuleCourse(ctx context.Context, moduleID int) (int, error)
	// IsEnrolled reports an enrolment of userID in courseID. Inactive
	// enrolments count unless onlyActive is set.
	IsEnrolled(ctx context.Context, courseID, userID int, onlyActive bool) (bool, error)
}
