package model

import "time"

// User is an LMS account as seen by the proctoring bridge.
type User struct {
	ID        int       `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	Suspended bool      `json:"suspended"`
	Deleted   bool      `json:"deleted"`
	CreatedAt time.Time `json:"created_at"`
}

// FullName joins first and last name.
func (u *User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}

// CanLogin reports whether the account is usable.
func (u *User) CanLogin() bool {
	return !u.Suspended && !u.Deleted
}
