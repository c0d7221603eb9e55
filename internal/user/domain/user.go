package domain

import (
	"errors"
	"time"
)

// User is the core user entity. SecurityLevel is the subject attribute the
// policy decision point compares against a rule's required level.
type User struct {
	ID            string
	Email         string
	Name          string
	PasswordHash  string
	SecurityLevel int
	Status        UserStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.SecurityLevel < 0 {
		return errors.New("security level must not be negative")
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	return nil
}
