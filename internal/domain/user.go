package domain

import "time"

// User is an anonymous uplog account identified by an opaque token. Its
// backing broker stream is provisioned together with the row and the
// stream name never changes for the user's lifetime.
type User struct {
	ID              string
	HashedIP        []byte
	StreamName      string
	SessionsAlive   int
	SessionsRemoved int
	CreatedAt       time.Time
}
