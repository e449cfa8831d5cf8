package server

import "errors"

// Server-specific errors
var (
	ErrHubStopped           = errors.New("hub is stopped")
	ErrHubAlreadyRunning    = errors.New("hub is already running")
	ErrServerAlreadyRunning = errors.New("server is already running")
	ErrFeedDisabled         = errors.New("flight feed is disabled")
)
