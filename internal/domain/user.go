// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

const (
	MaxUsernameLen = 36

	userSuffixLen = 4
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

// UserID is issued by the directory service and treated as opaque.
type UserID string

// NewUserID derives a room-unique id from a display name: spaces become
// underscores and a short random suffix is appended.
func NewUserID(username string) (UserID, error) {
	username = strings.TrimSpace(username)
	if len(username) == 0 {
		return "", ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return "", ErrUsernameTooLong
	}
	base := strings.Join(strings.Fields(username), "_")
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:userSuffixLen]
	return UserID(base + "_" + suffix), nil
}
