package domain

import "time"

// Session is one logical recording session owned by a user. SubjectName is
// globally unique and bound 1:1 to the session. ExpiresAt is advisory
// metadata only; broker retention ages messages out on its own clock.
type Session struct {
	ID            string
	UserID        string
	StreamName    string
	SubjectName   string
	Tag           string
	EnableSharing bool
	LogLineCount  int64
	ExpiresAt     time.Time
	CreatedAt     time.Time
}
