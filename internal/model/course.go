package model

import "time"

// Course is an LMS course.
type Course struct {
	ID        int       `json:"id"`
	ShortName string    `json:"short_name"`
	FullName  string    `json:"full_name"`
	Visible   bool      `json:"visible"`
	CreatedAt time.Time `json:"created_at"`
}

// CourseModule is an activity inside a course (quiz, assignment, ...).
type CourseModule struct {
	ID        int    `json:"id"`
	CourseID  int    `json:"course_id"`
	Name      string `json:"name"`
	Proctored bool   `json:"proctored"`
}

// EnrolmentStatus mirrors the host's user_enrolments.status column.
type EnrolmentStatus string

const (
	EnrolmentActive    EnrolmentStatus = "active"
	EnrolmentSuspended EnrolmentStatus = "suspended"
)

// Enrolment links a user to a course.
type Enrolment struct {
	CourseID  int             `json:"course_id"`
	UserID    int             `json:"user_id"`
	Status    EnrolmentStatus `json:"status"`
	TimeStart *time.Time      `json:"time_start,omitempty"`
	TimeEnd   *time.Time      `json:"time_end,omitempty"`
}
