package server

import "errors"

// Wire status codes sent to the offending client. Rejections never leak to
// the other connections of the same session.
var (
	ErrStatusNotAuthorized     string = "NOT_AUTHORIZED"
	ErrStatusSessionNotPlaying string = "SESSION_NOT_PLAYING"
	ErrStatusNotActivePlayer   string = "NOT_ACTIVE_PLAYER"
	ErrStatusStaleTurn         string = "STALE_TURN"
	ErrStatusValidation        string = "VALIDATION_ERROR"
	ErrStatusConflict          string = "CONCURRENT_MODIFICATION"
	ErrStatusPersistence       string = "PERSISTENCE_ERROR"
)

var ErrFailedToLoadSession = errors.New("failed to load session")
