package matchmaking

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionFull     = errors.New("session full")
	ErrNotAuthorized   = errors.New("not a session member")
	ErrInvalidDeletion = errors.New("session can no longer be deleted")
	ErrInvalidJoin     = errors.New("session cannot be joined")
	ErrNotPlaying      = errors.New("session is not playing")
	ErrNoServer        = errors.New("no session server available")
)
