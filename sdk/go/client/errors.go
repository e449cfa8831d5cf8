package client

import "errors"

// Client-specific errors
var (
	ErrClientClosed    = errors.New("client is closed")
	ErrAlreadyRunning  = errors.New("client is already running")
	ErrReconnectFailed = errors.New("reconnection failed")
	ErrInvalidConfig   = errors.New("invalid client configuration")
)
